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
	"context"
	"sync"
	"time"

	"github.com/alwitt/wsbroker/auth"
	"github.com/alwitt/wsbroker/common"
	"github.com/alwitt/wsbroker/directory"
	"github.com/alwitt/wsbroker/dispatch"
	"github.com/alwitt/wsbroker/registry"
	"github.com/alwitt/wsbroker/storage"
	"github.com/apex/log"
	"github.com/google/uuid"
)

// Broker one node of the session broker cluster. Owns the local connection
// table, mirrors its ownership into the shared directories, exchanges
// envelopes with its peers, and runs the periodic maintenance loops.
type Broker interface {
	// ID the broker's cluster-unique ID
	ID() string
	// Router outbound message routing through this broker
	Router() dispatch.Router
	// Healthy whether the broker's envelope subscription is live
	Healthy() bool
	// ConnectUser register a newly accepted user-owned connection
	ConnectUser(
		ctxt context.Context, sessionID string, conn registry.Connection, owner registry.UserOwner,
	) error
	// ConnectGroup register a newly accepted group-owned connection
	ConnectGroup(
		ctxt context.Context, sessionID string, conn registry.Connection, group string,
	) error
	// Disconnect deregister a departed connection from the table, the shared
	// directories, and the online index. Idempotent.
	Disconnect(ctxt context.Context, sessionID string) error
	// Start register with the cluster and begin the maintenance loops
	Start(wg *sync.WaitGroup) error
	// Stop leave the cluster, purging this broker's shared state
	Stop(ctxt context.Context) error
}

// brokerImpl implements Broker
type brokerImpl struct {
	common.Component
	id          string
	cfg         common.BrokerConfig
	table       registry.ConnectionTable
	userDir     directory.UserSessionDirectory
	groupDir    directory.GroupSessionDirectory
	index       directory.OnlineUserIndex
	liveness    directory.BrokerLivenessRegistry
	router      dispatch.Router
	listener    dispatch.Listener
	validator   auth.TokenValidator
	cleanupLock chan struct{}
	lockTimeout time.Duration
	regTimer    common.IntervalTimer
	sweepTimer  common.IntervalTimer
	rootCtxt    context.Context
	wg          *sync.WaitGroup
}

/*
GetBroker define a new broker node

 @param rootCtxt context.Context - lifetime context of the broker
 @param store storage.Driver - shared coordination store
 @param bus storage.PubSub - pub/sub carrier of inter-broker envelopes. Usually
   the store itself, but substitutable with a dedicated message bus.
 @param validator auth.TokenValidator - session token validator used by the
   reconciliation sweep. May be nil to skip token re-validation.
 @param cfg common.BrokerConfig - broker runtime parameters
 @return new Broker instance
*/
func GetBroker(
	rootCtxt context.Context,
	store storage.Driver,
	bus storage.PubSub,
	validator auth.TokenValidator,
	cfg common.BrokerConfig,
) (Broker, error) {
	id := uuid.New().String()
	logTags := log.Fields{"module": "broker", "component": "node", "instance": id}

	table, err := registry.GetConnectionTable(id)
	if err != nil {
		return nil, err
	}
	index, err := directory.GetOnlineUserIndex(store, cfg.KeyPrefix, id)
	if err != nil {
		return nil, err
	}
	userDir, err := directory.GetUserSessionDirectory(store, index, cfg.KeyPrefix, id)
	if err != nil {
		return nil, err
	}
	groupDir, err := directory.GetGroupSessionDirectory(store, cfg.KeyPrefix, id)
	if err != nil {
		return nil, err
	}
	liveness, err := directory.GetBrokerLivenessRegistry(
		store, cfg.KeyPrefix, time.Second*time.Duration(cfg.HeartbeatTTL), id,
	)
	if err != nil {
		return nil, err
	}
	router, err := dispatch.GetEnvelopeRouter(
		id, cfg.SharedChannel, table, userDir, groupDir, liveness, bus,
	)
	if err != nil {
		return nil, err
	}
	listener, err := dispatch.GetEnvelopeListener(
		rootCtxt, id, cfg.SharedChannel, table, userDir, groupDir, bus, cfg.DeliveryQueueLen,
	)
	if err != nil {
		return nil, err
	}
	return &brokerImpl{
		Component:   common.Component{LogTags: logTags},
		id:          id,
		cfg:         cfg,
		table:       table,
		userDir:     userDir,
		groupDir:    groupDir,
		index:       index,
		liveness:    liveness,
		router:      router,
		listener:    listener,
		validator:   validator,
		cleanupLock: make(chan struct{}, 1),
		lockTimeout: time.Second * time.Duration(cfg.CleanupLockTimeout),
		rootCtxt:    rootCtxt,
	}, nil
}

// ID the broker's cluster-unique ID
func (b *brokerImpl) ID() string {
	return b.id
}

// Router outbound message routing through this broker
func (b *brokerImpl) Router() dispatch.Router {
	return b.router
}

// Healthy whether the broker's envelope subscription is live
func (b *brokerImpl) Healthy() bool {
	return b.listener.SubscriptionActive()
}

// Start register with the cluster and begin the maintenance loops
func (b *brokerImpl) Start(wg *sync.WaitGroup) error {
	b.wg = wg
	if err := b.listener.Start(wg); err != nil {
		return err
	}
	regTimer, err := common.GetIntervalTimerInstance("registration", b.rootCtxt, wg)
	if err != nil {
		return err
	}
	sweepTimer, err := common.GetIntervalTimerInstance("reconcile", b.rootCtxt, wg)
	if err != nil {
		return err
	}
	b.regTimer = regTimer
	b.sweepTimer = sweepTimer
	if err := b.regTimer.Start(
		time.Second*time.Duration(b.cfg.HeartbeatInterval), b.registrationCycle, true,
	); err != nil {
		return err
	}
	if err := b.sweepTimer.Start(
		time.Second*time.Duration(b.cfg.ReconcileInterval), b.reconcileCycle, true,
	); err != nil {
		return err
	}
	log.WithFields(b.LogTags).Info("Broker started")
	return nil
}

// Stop leave the cluster, purging this broker's shared state
func (b *brokerImpl) Stop(ctxt context.Context) error {
	if b.regTimer != nil {
		if err := b.regTimer.Stop(); err != nil {
			log.WithError(err).WithFields(b.LogTags).Error("Failed to stop registration timer")
		}
	}
	if b.sweepTimer != nil {
		if err := b.sweepTimer.Stop(); err != nil {
			log.WithError(err).WithFields(b.LogTags).Error("Failed to stop reconcile timer")
		}
	}
	if err := b.listener.Stop(); err != nil {
		log.WithError(err).WithFields(b.LogTags).Error("Failed to stop envelope listener")
	}
	// Remove this broker's shared footprint so peers do not wait out the
	// liveness TTL before purging it
	if err := b.userDir.PurgeBroker(ctxt, b.id); err != nil {
		log.WithError(err).WithFields(b.LogTags).Error("Failed to purge user directory")
	}
	if err := b.groupDir.PurgeBroker(ctxt, b.id); err != nil {
		log.WithError(err).WithFields(b.LogTags).Error("Failed to purge group directory")
	}
	if err := b.liveness.Deregister(ctxt, b.id); err != nil {
		log.WithError(err).WithFields(b.LogTags).Error("Failed to leave broker roster")
	}
	log.WithFields(b.LogTags).Info("Broker stopped")
	return nil
}

// ConnectUser register a newly accepted user-owned connection
func (b *brokerImpl) ConnectUser(
	ctxt context.Context, sessionID string, conn registry.Connection, owner registry.UserOwner,
) error {
	b.table.AddUserSession(sessionID, conn, owner)
	record := directory.UserRecord{
		SessionID:   sessionID,
		UserID:      owner.UserID,
		TenantID:    owner.TenantID,
		AccessToken: owner.AccessToken,
		BrokerID:    b.id,
	}
	if err := b.userDir.Refresh(ctxt, b.id, owner.UserID, record); err != nil {
		log.WithError(err).WithFields(b.LogTags).Errorf(
			"Unable to record session %s in user directory", sessionID,
		)
		b.table.Remove(sessionID)
		return err
	}
	if err := b.index.Index(ctxt, record); err != nil {
		log.WithError(err).WithFields(b.LogTags).Errorf(
			"Unable to index session %s", sessionID,
		)
	}
	log.WithFields(b.LogTags).Infof("Accepted session %s of user %d", sessionID, owner.UserID)
	return nil
}

// ConnectGroup register a newly accepted group-owned connection
func (b *brokerImpl) ConnectGroup(
	ctxt context.Context, sessionID string, conn registry.Connection, group string,
) error {
	b.table.AddGroupSession(sessionID, conn, group)
	record := directory.ClientRecord{SessionID: sessionID, Group: group, BrokerID: b.id}
	if err := b.groupDir.Refresh(ctxt, b.id, group, record); err != nil {
		log.WithError(err).WithFields(b.LogTags).Errorf(
			"Unable to record session %s in group directory", sessionID,
		)
		b.table.Remove(sessionID)
		return err
	}
	log.WithFields(b.LogTags).Infof("Accepted session %s of group %s", sessionID, group)
	return nil
}

// Disconnect deregister a departed connection
func (b *brokerImpl) Disconnect(ctxt context.Context, sessionID string) error {
	// The disconnect path races with the reconcile sweep over the same session
	// entries. The wait on the guard is bounded; on timeout cleanup proceeds
	// unguarded, as a stalled holder must not leak the departed session.
	locked := false
	select {
	case b.cleanupLock <- struct{}{}:
		locked = true
	case <-time.After(b.lockTimeout):
		log.WithFields(b.LogTags).Warnf(
			"Cleanup lock wait expired, removing session %s unguarded", sessionID,
		)
	}
	defer func() {
		if locked {
			<-b.cleanupLock
		}
	}()

	var firstErr error
	if owner, ok := b.table.UserOwner(sessionID); ok {
		removed, err := b.userDir.Delete(ctxt, b.id, owner.UserID, sessionID)
		if err != nil {
			log.WithError(err).WithFields(b.LogTags).Errorf(
				"Unable to remove session %s from user directory", sessionID,
			)
			firstErr = err
		}
		if removed != nil {
			if err := b.index.Unindex(ctxt, *removed); err != nil {
				log.WithError(err).WithFields(b.LogTags).Errorf(
					"Unable to unindex session %s", sessionID,
				)
				if firstErr == nil {
					firstErr = err
				}
			}
		}
	}
	if group, ok := b.table.Group(sessionID); ok {
		if _, err := b.groupDir.Delete(ctxt, b.id, group, sessionID); err != nil {
			log.WithError(err).WithFields(b.LogTags).Errorf(
				"Unable to remove session %s from group directory", sessionID,
			)
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	b.table.Remove(sessionID)
	log.WithFields(b.LogTags).Infof("Dropped session %s", sessionID)
	return firstErr
}
