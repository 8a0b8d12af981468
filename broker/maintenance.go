// Copyright 2022 The wsbroker Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package broker

import (
	"github.com/alwitt/wsbroker/directory"
	"github.com/apex/log"
)

// registrationCycle one liveness heartbeat tick. Refreshes this broker's
// liveness marker and roster entry, then scans the cluster in the background
// for dead peers to purge. Store failures are logged; the loop must keep
// ticking through transient outages.
func (b *brokerImpl) registrationCycle() error {
	if err := b.liveness.Heartbeat(b.rootCtxt, b.id); err != nil {
		log.WithError(err).WithFields(b.LogTags).Error("Unable to refresh liveness marker")
		return nil
	}
	if err := b.liveness.Register(b.rootCtxt, b.id); err != nil {
		log.WithError(err).WithFields(b.LogTags).Error("Unable to refresh roster entry")
		return nil
	}
	// The peer scan does network I/O per peer; keep it off the heartbeat path
	// so roster growth cannot delay the next TTL refresh
	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		b.scanPeers()
	}()
	return nil
}

// scanPeers purge the shared footprint of dead peers, and repair this
// broker's envelope subscription when it has gone stale
func (b *brokerImpl) scanPeers() {
	brokers, err := b.liveness.List(b.rootCtxt)
	if err != nil {
		log.WithError(err).WithFields(b.LogTags).Error("Unable to list broker roster")
		return
	}
	for _, peer := range brokers {
		if peer == b.id {
			continue
		}
		alive, err := b.liveness.IsAlive(b.rootCtxt, peer)
		if err != nil {
			log.WithError(err).WithFields(b.LogTags).Errorf(
				"Unable to check liveness of broker %s", peer,
			)
			continue
		}
		if alive {
			continue
		}
		log.WithFields(b.LogTags).Warnf("Broker %s is dead, purging its sessions", peer)
		if err := b.liveness.Deregister(b.rootCtxt, peer); err != nil {
			log.WithError(err).WithFields(b.LogTags).Errorf(
				"Unable to remove broker %s from roster", peer,
			)
		}
		if err := b.userDir.PurgeBroker(b.rootCtxt, peer); err != nil {
			log.WithError(err).WithFields(b.LogTags).Errorf(
				"Unable to purge user directory of broker %s", peer,
			)
		}
		if err := b.groupDir.PurgeBroker(b.rootCtxt, peer); err != nil {
			log.WithError(err).WithFields(b.LogTags).Errorf(
				"Unable to purge group directory of broker %s", peer,
			)
		}
	}
	if !b.listener.SubscriptionActive() {
		log.WithFields(b.LogTags).Warn("Envelope subscription is stale, resubscribing")
		if err := b.listener.Restart(b.wg); err != nil {
			log.WithError(err).WithFields(b.LogTags).Error(
				"Unable to restart envelope listener",
			)
		}
	}
}

// reconcileCycle one full anti-entropy sweep over the online index and this
// broker's group directory. Evicts records stranded by dead brokers and
// records whose backing socket or token is no longer valid.
func (b *brokerImpl) reconcileCycle() error {
	rostered := make(map[string]bool)
	brokers, err := b.liveness.List(b.rootCtxt)
	if err != nil {
		log.WithError(err).WithFields(b.LogTags).Error("Unable to list broker roster")
		return nil
	}
	for _, peer := range brokers {
		rostered[peer] = true
	}

	// Deletions shift member ranks mid-walk, so a single sweep can skip
	// records. Sweeps repeat; anything missed converges on a later pass.
	pageSize := b.cfg.ReconcilePageSize
	for page := 0; ; page++ {
		records, err := b.index.Page(b.rootCtxt, page, pageSize)
		if err != nil {
			log.WithError(err).WithFields(b.LogTags).Errorf(
				"Unable to page online index (page %d)", page,
			)
			break
		}
		for _, record := range records {
			b.reconcileUserRecord(record, rostered)
		}
		if len(records) < pageSize {
			break
		}
	}

	// Directory entries whose socket died without a disconnect event
	clients, err := b.groupDir.ListAll(b.rootCtxt, b.id)
	if err != nil {
		log.WithError(err).WithFields(b.LogTags).Error("Unable to list local group sessions")
		return nil
	}
	for _, record := range clients {
		conn, ok := b.table.GroupSession(record.SessionID)
		if !ok || !conn.IsOpen() {
			log.WithFields(b.LogTags).Infof(
				"Evicting group session %s: socket gone", record.SessionID,
			)
			if ok {
				if err := conn.Close(); err != nil {
					log.WithError(err).WithFields(b.LogTags).Errorf(
						"Failed to close session %s", record.SessionID,
					)
				}
			}
			if _, err := b.groupDir.Delete(
				b.rootCtxt, b.id, record.Group, record.SessionID,
			); err != nil {
				log.WithError(err).WithFields(b.LogTags).Errorf(
					"Unable to remove session %s from group directory", record.SessionID,
				)
			}
			b.table.Remove(record.SessionID)
		}
	}
	return nil
}

// reconcileUserRecord reconcile one online-index record against the roster,
// the local table, and the auth store
func (b *brokerImpl) reconcileUserRecord(
	record directory.UserRecord, rostered map[string]bool,
) {
	// Record stranded by a broker no longer in the roster
	if record.BrokerID == "" || !rostered[record.BrokerID] {
		log.WithFields(b.LogTags).Infof(
			"Evicting session %s: broker %s is gone", record.SessionID, record.BrokerID,
		)
		if err := b.index.Unindex(b.rootCtxt, record); err != nil {
			log.WithError(err).WithFields(b.LogTags).Errorf(
				"Unable to unindex session %s", record.SessionID,
			)
		}
		if record.BrokerID != "" {
			if _, err := b.userDir.Delete(
				b.rootCtxt, record.BrokerID, record.UserID, record.SessionID,
			); err != nil {
				log.WithError(err).WithFields(b.LogTags).Errorf(
					"Unable to remove session %s from user directory", record.SessionID,
				)
			}
		}
		b.table.Remove(record.SessionID)
		return
	}
	// Records owned by live peers are theirs to reconcile
	if record.BrokerID != b.id {
		return
	}
	if b.validator != nil {
		valid, err := b.validator.IsValid(b.rootCtxt, record.AccessToken)
		if err != nil {
			log.WithError(err).WithFields(b.LogTags).Errorf(
				"Unable to validate token of session %s", record.SessionID,
			)
			return
		}
		if !valid {
			b.evictUserSession(record, "token no longer valid")
			return
		}
	}
	conn, ok := b.table.UserSession(record.SessionID)
	if !ok || !conn.IsOpen() {
		b.evictUserSession(record, "socket gone")
	}
}

// evictUserSession remove one of this broker's own sessions found invalid by
// the reconcile sweep. Works from the index record rather than the local table
// so the eviction completes even after the table entry vanished.
func (b *brokerImpl) evictUserSession(record directory.UserRecord, reason string) {
	log.WithFields(b.LogTags).Infof("Evicting session %s: %s", record.SessionID, reason)
	if conn, ok := b.table.UserSession(record.SessionID); ok {
		if err := conn.Close(); err != nil {
			log.WithError(err).WithFields(b.LogTags).Errorf(
				"Failed to close session %s", record.SessionID,
			)
		}
	}
	removed, err := b.userDir.Delete(b.rootCtxt, b.id, record.UserID, record.SessionID)
	if err != nil {
		log.WithError(err).WithFields(b.LogTags).Errorf(
			"Unable to remove session %s from user directory", record.SessionID,
		)
	}
	if removed == nil {
		removed = &record
	}
	if err := b.index.Unindex(b.rootCtxt, *removed); err != nil {
		log.WithError(err).WithFields(b.LogTags).Errorf(
			"Unable to unindex session %s", record.SessionID,
		)
	}
	b.table.Remove(record.SessionID)
}
