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
	"testing"
	"time"

	"github.com/alwitt/wsbroker/storage"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
)

const testKeyPrefix = "hzero:websocket"

func defineTestUserDirectory(
	t *testing.T,
) (storage.Driver, OnlineUserIndex, UserSessionDirectory) {
	assert := assert.New(t)
	store, err := storage.GetInMemoryDriver("unit-test")
	assert.Nil(err)
	index, err := GetOnlineUserIndex(store, testKeyPrefix, "unit-test")
	assert.Nil(err)
	uut, err := GetUserSessionDirectory(store, index, testKeyPrefix, "unit-test")
	assert.Nil(err)
	return store, index, uut
}

func TestUserSessionDirectory(t *testing.T) {
	assert := assert.New(t)
	ctxt, cancel := context.WithCancel(context.Background())
	defer cancel()

	store, _, uut := defineTestUserDirectory(t)

	brokerID := uuid.New().String()
	record0 := UserRecord{
		SessionID: uuid.New().String(), UserID: 7, TenantID: 2,
		AccessToken: "token-a", BrokerID: brokerID,
	}
	record1 := UserRecord{
		SessionID: uuid.New().String(), UserID: 7, TenantID: 2,
		AccessToken: "token-a", BrokerID: brokerID,
	}

	// Case 1: refresh and read back
	{
		assert.Nil(uut.Refresh(ctxt, brokerID, 7, record0))
		assert.Nil(uut.Refresh(ctxt, brokerID, 7, record1))
		sessions, err := uut.List(ctxt, brokerID, 7)
		assert.Nil(err)
		assert.Len(sessions, 2)
	}

	// Case 2: refresh is idempotent per session ID
	{
		assert.Nil(uut.Refresh(ctxt, brokerID, 7, record0))
		sessions, err := uut.List(ctxt, brokerID, 7)
		assert.Nil(err)
		assert.Len(sessions, 2)
	}

	// Case 3: delete returns the removed record
	{
		removed, err := uut.Delete(ctxt, brokerID, 7, record0.SessionID)
		assert.Nil(err)
		assert.NotNil(removed)
		assert.Equal(record0.SessionID, removed.SessionID)
		assert.Equal("token-a", removed.AccessToken)
		sessions, err := uut.List(ctxt, brokerID, 7)
		assert.Nil(err)
		assert.Len(sessions, 1)
	}

	// Case 4: deleting an unknown session is a no-op
	{
		removed, err := uut.Delete(ctxt, brokerID, 7, uuid.New().String())
		assert.Nil(err)
		assert.Nil(removed)
	}

	// Case 5: removing the last session drops the hash field entirely
	{
		_, err := uut.Delete(ctxt, brokerID, 7, record1.SessionID)
		assert.Nil(err)
		fields, err := store.HashKeys(
			ctxt, testKeyPrefix+":broker-user-sessions:"+brokerID,
		)
		assert.Nil(err)
		assert.Empty(fields)
	}
}

func TestUserSessionDirectoryPurge(t *testing.T) {
	assert := assert.New(t)
	ctxt, cancel := context.WithCancel(context.Background())
	defer cancel()

	_, index, uut := defineTestUserDirectory(t)

	deadBroker := uuid.New().String()
	liveBroker := uuid.New().String()

	for idx, userID := range []int64{1, 1, 2} {
		record := UserRecord{
			SessionID: uuid.New().String(), UserID: userID, TenantID: 2,
			BrokerID: deadBroker,
		}
		assert.Nil(uut.Refresh(ctxt, deadBroker, userID, record))
		assert.Nil(index.Index(ctxt, record))
		_ = idx
	}
	surviving := UserRecord{
		SessionID: uuid.New().String(), UserID: 3, TenantID: 2, BrokerID: liveBroker,
	}
	assert.Nil(uut.Refresh(ctxt, liveBroker, 3, surviving))
	assert.Nil(index.Index(ctxt, surviving))

	count, err := index.Count(ctxt)
	assert.Nil(err)
	assert.Equal(int64(4), count)

	// Purge cascades into the online index, leaving other brokers untouched
	assert.Nil(uut.PurgeBroker(ctxt, deadBroker))

	sessions, err := uut.ListAll(ctxt, deadBroker)
	assert.Nil(err)
	assert.Empty(sessions)
	count, err = index.Count(ctxt)
	assert.Nil(err)
	assert.Equal(int64(1), count)
	remaining, err := index.Page(ctxt, 0, 10)
	assert.Nil(err)
	assert.Len(remaining, 1)
	assert.Equal(surviving.SessionID, remaining[0].SessionID)
}

func TestGroupSessionDirectory(t *testing.T) {
	assert := assert.New(t)
	ctxt, cancel := context.WithCancel(context.Background())
	defer cancel()

	store, err := storage.GetInMemoryDriver("unit-test")
	assert.Nil(err)
	uut, err := GetGroupSessionDirectory(store, testKeyPrefix, "unit-test")
	assert.Nil(err)

	brokerID := uuid.New().String()
	record0 := ClientRecord{SessionID: uuid.New().String(), Group: "feed", BrokerID: brokerID}
	record1 := ClientRecord{SessionID: uuid.New().String(), Group: "feed", BrokerID: brokerID}
	record2 := ClientRecord{SessionID: uuid.New().String(), Group: "audit", BrokerID: brokerID}

	assert.Nil(uut.Refresh(ctxt, brokerID, "feed", record0))
	assert.Nil(uut.Refresh(ctxt, brokerID, "feed", record1))
	assert.Nil(uut.Refresh(ctxt, brokerID, "audit", record2))

	// Case 1: group scoped listing
	{
		sessions, err := uut.List(ctxt, brokerID, "feed")
		assert.Nil(err)
		assert.Len(sessions, 2)
		all, err := uut.ListAll(ctxt, brokerID)
		assert.Nil(err)
		assert.Len(all, 3)
	}

	// Case 2: delete one session
	{
		removed, err := uut.Delete(ctxt, brokerID, "feed", record0.SessionID)
		assert.Nil(err)
		assert.NotNil(removed)
		sessions, err := uut.List(ctxt, brokerID, "feed")
		assert.Nil(err)
		assert.Len(sessions, 1)
		assert.Equal(record1.SessionID, sessions[0].SessionID)
	}

	// Case 3: purge the whole broker
	{
		assert.Nil(uut.PurgeBroker(ctxt, brokerID))
		all, err := uut.ListAll(ctxt, brokerID)
		assert.Nil(err)
		assert.Empty(all)
	}
}

func TestOnlineUserIndexPaging(t *testing.T) {
	assert := assert.New(t)
	ctxt, cancel := context.WithCancel(context.Background())
	defer cancel()

	store, err := storage.GetInMemoryDriver("unit-test")
	assert.Nil(err)
	uut, err := GetOnlineUserIndex(store, testKeyPrefix, "unit-test")
	assert.Nil(err)

	brokerID := uuid.New().String()
	records := []UserRecord{}
	for idx := 0; idx < 5; idx++ {
		record := UserRecord{
			SessionID: uuid.New().String(),
			UserID:    int64(idx),
			TenantID:  int64(idx % 2),
			BrokerID:  brokerID,
		}
		records = append(records, record)
		assert.Nil(uut.Index(ctxt, record))
		// Score is the index timestamp; keep insertions strictly ordered
		time.Sleep(time.Millisecond)
	}

	// Case 1: page boundaries
	{
		page0, err := uut.Page(ctxt, 0, 2)
		assert.Nil(err)
		assert.Len(page0, 2)
		assert.Equal(records[0].SessionID, page0[0].SessionID)
		page2, err := uut.Page(ctxt, 2, 2)
		assert.Nil(err)
		assert.Len(page2, 1)
		assert.Equal(records[4].SessionID, page2[0].SessionID)
		page3, err := uut.Page(ctxt, 3, 2)
		assert.Nil(err)
		assert.Empty(page3)
	}

	// Case 2: tenant scoped view
	{
		count, err := uut.CountTenant(ctxt, 1)
		assert.Nil(err)
		assert.Equal(int64(2), count)
		tenantPage, err := uut.PageTenant(ctxt, 1, 0, 10)
		assert.Nil(err)
		assert.Len(tenantPage, 2)
		for _, record := range tenantPage {
			assert.Equal(int64(1), record.TenantID)
		}
	}

	// Case 3: unindex removes from both views
	{
		assert.Nil(uut.Unindex(ctxt, records[1]))
		count, err := uut.Count(ctxt)
		assert.Nil(err)
		assert.Equal(int64(4), count)
		count, err = uut.CountTenant(ctxt, 1)
		assert.Nil(err)
		assert.Equal(int64(1), count)
	}
}

func TestBrokerLivenessRegistry(t *testing.T) {
	assert := assert.New(t)
	ctxt, cancel := context.WithCancel(context.Background())
	defer cancel()

	store, err := storage.GetInMemoryDriver("unit-test")
	assert.Nil(err)
	uut, err := GetBrokerLivenessRegistry(
		store, testKeyPrefix, time.Millisecond*100, "unit-test",
	)
	assert.Nil(err)

	brokerA := uuid.New().String()
	brokerB := uuid.New().String()

	// Case 1: register and heartbeat
	{
		assert.Nil(uut.Register(ctxt, brokerA))
		assert.Nil(uut.Register(ctxt, brokerB))
		assert.Nil(uut.Heartbeat(ctxt, brokerA))
		assert.Nil(uut.Heartbeat(ctxt, brokerB))
		brokers, err := uut.List(ctxt)
		assert.Nil(err)
		assert.ElementsMatch([]string{brokerA, brokerB}, brokers)
		alive, err := uut.IsAlive(ctxt, brokerA)
		assert.Nil(err)
		assert.True(alive)
	}

	// Case 2: a broker that stops heartbeating goes dead after the TTL
	{
		time.Sleep(time.Millisecond * 60)
		assert.Nil(uut.Heartbeat(ctxt, brokerB))
		time.Sleep(time.Millisecond * 60)
		alive, err := uut.IsAlive(ctxt, brokerA)
		assert.Nil(err)
		assert.False(alive)
		alive, err = uut.IsAlive(ctxt, brokerB)
		assert.Nil(err)
		assert.True(alive)
	}

	// Case 3: deregistration drops the roster entry
	{
		assert.Nil(uut.Deregister(ctxt, brokerA))
		brokers, err := uut.List(ctxt)
		assert.Nil(err)
		assert.Equal([]string{brokerB}, brokers)
	}
}
