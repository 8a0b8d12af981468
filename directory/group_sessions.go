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

package directory

import (
	"context"
	"encoding/json"

	"github.com/alwitt/wsbroker/common"
	"github.com/alwitt/wsbroker/storage"
	"github.com/apex/log"
)

// GroupSessionDirectory store-backed mapping of (broker, group) to that
// group's sessions on that broker. Same read-modify-write semantics as the
// user directory; group sessions are not tracked by the online-user index.
type GroupSessionDirectory interface {
	// Refresh append record to the (brokerID, group) session list if the
	// session ID is not already present. An empty resulting list deletes the
	// bucket outright.
	Refresh(ctxt context.Context, brokerID, group string, record ClientRecord) error
	// Delete remove the record with sessionID from the (brokerID, group)
	// bucket. Returns the removed record, or nil if absent.
	Delete(ctxt context.Context, brokerID, group, sessionID string) (*ClientRecord, error)
	// List the group's sessions on the broker. An absent bucket gives empty.
	List(ctxt context.Context, brokerID, group string) ([]ClientRecord, error)
	// ListAll every group session on the broker. An absent key gives empty.
	ListAll(ctxt context.Context, brokerID string) ([]ClientRecord, error)
	// PurgeBroker remove every bucket of the broker
	PurgeBroker(ctxt context.Context, brokerID string) error
}

// groupSessionDirectoryImpl implements GroupSessionDirectory
type groupSessionDirectoryImpl struct {
	common.Component
	store     storage.Driver
	keyPrefix string
}

// GetGroupSessionDirectory define a new group session directory
func GetGroupSessionDirectory(
	store storage.Driver, keyPrefix, instance string,
) (GroupSessionDirectory, error) {
	logTags := log.Fields{
		"module": "directory", "component": "group-sessions", "instance": instance,
	}
	return &groupSessionDirectoryImpl{
		Component: common.Component{LogTags: logTags},
		store:     store,
		keyPrefix: keyPrefix,
	}, nil
}

// writeBucket store the session list back, deleting the bucket when empty
func (d *groupSessionDirectoryImpl) writeBucket(
	ctxt context.Context, brokerID, group string, sessions []ClientRecord,
) error {
	key := groupSessionsKey(d.keyPrefix, brokerID)
	if len(sessions) == 0 {
		return d.store.HashDelete(ctxt, key, group)
	}
	serialized, err := json.Marshal(sessions)
	if err != nil {
		return err
	}
	return d.store.HashPut(ctxt, key, group, string(serialized))
}

// Refresh append record to the (brokerID, group) session list if new
func (d *groupSessionDirectoryImpl) Refresh(
	ctxt context.Context, brokerID, group string, record ClientRecord,
) error {
	sessions, err := d.List(ctxt, brokerID, group)
	if err != nil {
		return err
	}
	for _, existing := range sessions {
		if existing.SessionID == record.SessionID {
			return d.writeBucket(ctxt, brokerID, group, sessions)
		}
	}
	return d.writeBucket(ctxt, brokerID, group, append(sessions, record))
}

// Delete remove the record with sessionID from the (brokerID, group) bucket
func (d *groupSessionDirectoryImpl) Delete(
	ctxt context.Context, brokerID, group, sessionID string,
) (*ClientRecord, error) {
	sessions, err := d.List(ctxt, brokerID, group)
	if err != nil {
		return nil, err
	}
	var removed *ClientRecord
	remain := make([]ClientRecord, 0, len(sessions))
	for _, existing := range sessions {
		if existing.SessionID == sessionID {
			match := existing
			removed = &match
			continue
		}
		remain = append(remain, existing)
	}
	if err := d.writeBucket(ctxt, brokerID, group, remain); err != nil {
		return nil, err
	}
	return removed, nil
}

// List the group's sessions on the broker
func (d *groupSessionDirectoryImpl) List(
	ctxt context.Context, brokerID, group string,
) ([]ClientRecord, error) {
	serialized, err := d.store.HashGet(ctxt, groupSessionsKey(d.keyPrefix, brokerID), group)
	if err != nil {
		if err == storage.ErrKeyNotFound {
			return []ClientRecord{}, nil
		}
		return nil, err
	}
	var sessions []ClientRecord
	if err := json.Unmarshal([]byte(serialized), &sessions); err != nil {
		return nil, err
	}
	return sessions, nil
}

// ListAll every group session on the broker
func (d *groupSessionDirectoryImpl) ListAll(
	ctxt context.Context, brokerID string,
) ([]ClientRecord, error) {
	buckets, err := d.store.HashGetAll(ctxt, groupSessionsKey(d.keyPrefix, brokerID))
	if err != nil {
		return nil, err
	}
	result := []ClientRecord{}
	for group, serialized := range buckets {
		var sessions []ClientRecord
		if err := json.Unmarshal([]byte(serialized), &sessions); err != nil {
			log.WithError(err).WithFields(d.LogTags).Errorf(
				"Corrupt session list under %s/%s", brokerID, group,
			)
			continue
		}
		result = append(result, sessions...)
	}
	return result, nil
}

// PurgeBroker remove every bucket of the broker
func (d *groupSessionDirectoryImpl) PurgeBroker(ctxt context.Context, brokerID string) error {
	return d.store.Delete(ctxt, groupSessionsKey(d.keyPrefix, brokerID))
}
