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
	"strconv"

	"github.com/alwitt/wsbroker/common"
	"github.com/alwitt/wsbroker/storage"
	"github.com/apex/log"
)

// UserSessionDirectory store-backed mapping of (broker, user) to that user's
// sessions on that broker. Writes are read-modify-write sequences with no
// transaction; losing a race degrades to delayed cleanup of a dead session,
// corrected by the reconciliation sweep.
type UserSessionDirectory interface {
	// Refresh append record to the (brokerID, userID) session list if the
	// session ID is not already present. An empty resulting list deletes the
	// bucket outright; no empty-list entries persist.
	Refresh(ctxt context.Context, brokerID string, userID int64, record UserRecord) error
	// Delete remove the record with sessionID from the (brokerID, userID)
	// bucket. Returns the removed record, or nil if absent. Deletes the bucket
	// when it becomes empty.
	Delete(ctxt context.Context, brokerID string, userID int64, sessionID string) (*UserRecord, error)
	// List the user's sessions on the broker. An absent bucket gives empty.
	List(ctxt context.Context, brokerID string, userID int64) ([]UserRecord, error)
	// ListAll every user session on the broker. An absent key gives empty.
	ListAll(ctxt context.Context, brokerID string) ([]UserRecord, error)
	// PurgeBroker remove every bucket of the broker, cascading into the
	// online-user index so those users' global records are dropped too.
	PurgeBroker(ctxt context.Context, brokerID string) error
}

// userSessionDirectoryImpl implements UserSessionDirectory
type userSessionDirectoryImpl struct {
	common.Component
	store     storage.Driver
	index     OnlineUserIndex
	keyPrefix string
}

// GetUserSessionDirectory define a new user session directory
func GetUserSessionDirectory(
	store storage.Driver, index OnlineUserIndex, keyPrefix, instance string,
) (UserSessionDirectory, error) {
	logTags := log.Fields{
		"module": "directory", "component": "user-sessions", "instance": instance,
	}
	return &userSessionDirectoryImpl{
		Component: common.Component{LogTags: logTags},
		store:     store,
		index:     index,
		keyPrefix: keyPrefix,
	}, nil
}

// writeBucket store the session list back, deleting the bucket when empty
func (d *userSessionDirectoryImpl) writeBucket(
	ctxt context.Context, brokerID string, userID int64, sessions []UserRecord,
) error {
	key := userSessionsKey(d.keyPrefix, brokerID)
	field := strconv.FormatInt(userID, 10)
	if len(sessions) == 0 {
		return d.store.HashDelete(ctxt, key, field)
	}
	serialized, err := json.Marshal(sessions)
	if err != nil {
		return err
	}
	return d.store.HashPut(ctxt, key, field, string(serialized))
}

// Refresh append record to the (brokerID, userID) session list if new
func (d *userSessionDirectoryImpl) Refresh(
	ctxt context.Context, brokerID string, userID int64, record UserRecord,
) error {
	sessions, err := d.List(ctxt, brokerID, userID)
	if err != nil {
		return err
	}
	for _, existing := range sessions {
		if existing.SessionID == record.SessionID {
			return d.writeBucket(ctxt, brokerID, userID, sessions)
		}
	}
	return d.writeBucket(ctxt, brokerID, userID, append(sessions, record))
}

// Delete remove the record with sessionID from the (brokerID, userID) bucket
func (d *userSessionDirectoryImpl) Delete(
	ctxt context.Context, brokerID string, userID int64, sessionID string,
) (*UserRecord, error) {
	sessions, err := d.List(ctxt, brokerID, userID)
	if err != nil {
		return nil, err
	}
	var removed *UserRecord
	remain := make([]UserRecord, 0, len(sessions))
	for _, existing := range sessions {
		if existing.SessionID == sessionID {
			match := existing
			removed = &match
			continue
		}
		remain = append(remain, existing)
	}
	if err := d.writeBucket(ctxt, brokerID, userID, remain); err != nil {
		return nil, err
	}
	return removed, nil
}

// List the user's sessions on the broker
func (d *userSessionDirectoryImpl) List(
	ctxt context.Context, brokerID string, userID int64,
) ([]UserRecord, error) {
	serialized, err := d.store.HashGet(
		ctxt, userSessionsKey(d.keyPrefix, brokerID), strconv.FormatInt(userID, 10),
	)
	if err != nil {
		if err == storage.ErrKeyNotFound {
			return []UserRecord{}, nil
		}
		return nil, err
	}
	var sessions []UserRecord
	if err := json.Unmarshal([]byte(serialized), &sessions); err != nil {
		return nil, err
	}
	return sessions, nil
}

// ListAll every user session on the broker
func (d *userSessionDirectoryImpl) ListAll(
	ctxt context.Context, brokerID string,
) ([]UserRecord, error) {
	buckets, err := d.store.HashGetAll(ctxt, userSessionsKey(d.keyPrefix, brokerID))
	if err != nil {
		return nil, err
	}
	result := []UserRecord{}
	for field, serialized := range buckets {
		var sessions []UserRecord
		if err := json.Unmarshal([]byte(serialized), &sessions); err != nil {
			log.WithError(err).WithFields(d.LogTags).Errorf(
				"Corrupt session list under %s/%s", brokerID, field,
			)
			continue
		}
		result = append(result, sessions...)
	}
	return result, nil
}

// PurgeBroker remove every bucket of the broker and cascade into the index
func (d *userSessionDirectoryImpl) PurgeBroker(ctxt context.Context, brokerID string) error {
	sessions, err := d.ListAll(ctxt, brokerID)
	if err != nil {
		return err
	}
	if err := d.index.UnindexAll(ctxt, sessions); err != nil {
		log.WithError(err).WithFields(d.LogTags).Errorf(
			"Online index cascade failed for broker %s", brokerID,
		)
	}
	return d.store.Delete(ctxt, userSessionsKey(d.keyPrefix, brokerID))
}
