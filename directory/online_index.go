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
	"time"

	"github.com/alwitt/wsbroker/common"
	"github.com/alwitt/wsbroker/storage"
	"github.com/apex/log"
)

// OnlineUserIndex globally time-ordered index of online users, stored once
// globally and once per tenant. Insertion timestamp is the sort key so
// pagination stays stable under concurrent inserts. Deliberately decoupled
// from the per-broker directory so "who is online" never iterates brokers.
type OnlineUserIndex interface {
	// Index add the user's record to the global and tenant-scoped structures
	Index(ctxt context.Context, user UserRecord) error
	// Unindex remove the record by exact serialized match
	Unindex(ctxt context.Context, user UserRecord) error
	// UnindexAll remove multiple records by exact serialized match
	UnindexAll(ctxt context.Context, users []UserRecord) error
	// Page fetch records in insertion order
	Page(ctxt context.Context, page, size int) ([]UserRecord, error)
	// PageTenant fetch a tenant's records in insertion order
	PageTenant(ctxt context.Context, tenantID int64, page, size int) ([]UserRecord, error)
	// Count the number of indexed records
	Count(ctxt context.Context) (int64, error)
	// CountTenant the number of a tenant's indexed records
	CountTenant(ctxt context.Context, tenantID int64) (int64, error)
}

// onlineUserIndexImpl implements OnlineUserIndex
type onlineUserIndexImpl struct {
	common.Component
	store     storage.Driver
	keyPrefix string
}

// GetOnlineUserIndex define a new online-user index
func GetOnlineUserIndex(store storage.Driver, keyPrefix, instance string) (OnlineUserIndex, error) {
	logTags := log.Fields{
		"module": "directory", "component": "online-user-index", "instance": instance,
	}
	return &onlineUserIndexImpl{
		Component: common.Component{LogTags: logTags},
		store:     store,
		keyPrefix: keyPrefix,
	}, nil
}

// Index add the user's record to the global and tenant-scoped structures
func (i *onlineUserIndexImpl) Index(ctxt context.Context, user UserRecord) error {
	serialized, err := user.Serialize()
	if err != nil {
		return err
	}
	score := float64(time.Now().UnixNano())
	if err := i.store.SortedAdd(ctxt, onlineUsersKey(i.keyPrefix), serialized, score); err != nil {
		return err
	}
	return i.store.SortedAdd(
		ctxt, tenantOnlineUsersKey(i.keyPrefix, user.TenantID), serialized, score,
	)
}

// Unindex remove the record by exact serialized match
func (i *onlineUserIndexImpl) Unindex(ctxt context.Context, user UserRecord) error {
	serialized, err := user.Serialize()
	if err != nil {
		return err
	}
	if err := i.store.SortedRemove(ctxt, onlineUsersKey(i.keyPrefix), serialized); err != nil {
		return err
	}
	return i.store.SortedRemove(
		ctxt, tenantOnlineUsersKey(i.keyPrefix, user.TenantID), serialized,
	)
}

// UnindexAll remove multiple records by exact serialized match
func (i *onlineUserIndexImpl) UnindexAll(ctxt context.Context, users []UserRecord) error {
	var firstErr error
	for _, user := range users {
		if err := i.Unindex(ctxt, user); err != nil {
			log.WithError(err).WithFields(i.LogTags).Errorf("Unable to unindex %s", user.String())
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

// readPage fetch one rank page of an index and parse the records
func (i *onlineUserIndexImpl) readPage(
	ctxt context.Context, key string, page, size int,
) ([]UserRecord, error) {
	start := int64(size * page)
	stop := start + int64(size) - 1
	members, err := i.store.SortedRange(ctxt, key, start, stop)
	if err != nil {
		return nil, err
	}
	result := make([]UserRecord, 0, len(members))
	for _, member := range members {
		var record UserRecord
		if err := json.Unmarshal([]byte(member), &record); err != nil {
			log.WithError(err).WithFields(i.LogTags).Errorf("Corrupt index member in %s", key)
			continue
		}
		result = append(result, record)
	}
	return result, nil
}

// Page fetch records in insertion order
func (i *onlineUserIndexImpl) Page(ctxt context.Context, page, size int) ([]UserRecord, error) {
	return i.readPage(ctxt, onlineUsersKey(i.keyPrefix), page, size)
}

// PageTenant fetch a tenant's records in insertion order
func (i *onlineUserIndexImpl) PageTenant(
	ctxt context.Context, tenantID int64, page, size int,
) ([]UserRecord, error) {
	return i.readPage(ctxt, tenantOnlineUsersKey(i.keyPrefix, tenantID), page, size)
}

// Count the number of indexed records
func (i *onlineUserIndexImpl) Count(ctxt context.Context) (int64, error) {
	return i.store.SortedCard(ctxt, onlineUsersKey(i.keyPrefix))
}

// CountTenant the number of a tenant's indexed records
func (i *onlineUserIndexImpl) CountTenant(
	ctxt context.Context, tenantID int64,
) (int64, error) {
	return i.store.SortedCard(ctxt, tenantOnlineUsersKey(i.keyPrefix, tenantID))
}
