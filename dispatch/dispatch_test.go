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

package dispatch

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/alwitt/wsbroker/directory"
	"github.com/alwitt/wsbroker/registry"
	"github.com/alwitt/wsbroker/storage"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
)

// testConnection Connection stub recording delivered frames
type testConnection struct {
	lock     sync.Mutex
	open     bool
	failSend bool
	recorded []string
}

func newTestConnection() *testConnection {
	return &testConnection{open: true, recorded: []string{}}
}

func (c *testConnection) SendText(msg string) error {
	c.lock.Lock()
	defer c.lock.Unlock()
	if c.failSend {
		return fmt.Errorf("simulated send failure")
	}
	c.recorded = append(c.recorded, "txt:"+msg)
	return nil
}

func (c *testConnection) SendBinary(data []byte) error {
	c.lock.Lock()
	defer c.lock.Unlock()
	if c.failSend {
		return fmt.Errorf("simulated send failure")
	}
	c.recorded = append(c.recorded, "bin:"+string(data))
	return nil
}

func (c *testConnection) Close() error {
	c.lock.Lock()
	defer c.lock.Unlock()
	c.open = false
	return nil
}

func (c *testConnection) IsOpen() bool {
	c.lock.Lock()
	defer c.lock.Unlock()
	return c.open
}

func (c *testConnection) frames() []string {
	c.lock.Lock()
	defer c.lock.Unlock()
	result := make([]string, len(c.recorded))
	copy(result, c.recorded)
	return result
}

// testBrokerSide one simulated broker sharing the common store
type testBrokerSide struct {
	id       string
	table    registry.ConnectionTable
	userDir  directory.UserSessionDirectory
	groupDir directory.GroupSessionDirectory
	liveness directory.BrokerLivenessRegistry
	router   Router
	listener Listener
}

const testKeyPrefix = "hzero:websocket"
const testSharedChannel = "hzero:websocket"

func defineTestBrokerSide(
	t *testing.T, ctxt context.Context, wg *sync.WaitGroup, store storage.Driver,
) *testBrokerSide {
	assert := assert.New(t)
	brokerID := uuid.New().String()
	table, err := registry.GetConnectionTable(brokerID)
	assert.Nil(err)
	index, err := directory.GetOnlineUserIndex(store, testKeyPrefix, brokerID)
	assert.Nil(err)
	userDir, err := directory.GetUserSessionDirectory(store, index, testKeyPrefix, brokerID)
	assert.Nil(err)
	groupDir, err := directory.GetGroupSessionDirectory(store, testKeyPrefix, brokerID)
	assert.Nil(err)
	liveness, err := directory.GetBrokerLivenessRegistry(
		store, testKeyPrefix, time.Second*15, brokerID,
	)
	assert.Nil(err)
	router, err := GetEnvelopeRouter(
		brokerID, testSharedChannel, table, userDir, groupDir, liveness, store,
	)
	assert.Nil(err)
	listener, err := GetEnvelopeListener(
		ctxt, brokerID, testSharedChannel, table, userDir, groupDir, store, 16,
	)
	assert.Nil(err)
	assert.Nil(liveness.Register(ctxt, brokerID))
	assert.Nil(liveness.Heartbeat(ctxt, brokerID))
	assert.Nil(listener.Start(wg))
	return &testBrokerSide{
		id: brokerID, table: table, userDir: userDir, groupDir: groupDir,
		liveness: liveness, router: router, listener: listener,
	}
}

// attachUserSession register a stub user connection on one side
func (s *testBrokerSide) attachUserSession(
	t *testing.T, ctxt context.Context, userID int64,
) (string, *testConnection) {
	assert := assert.New(t)
	sessionID := uuid.New().String()
	conn := newTestConnection()
	s.table.AddUserSession(sessionID, conn, registry.UserOwner{UserID: userID})
	assert.Nil(s.userDir.Refresh(ctxt, s.id, userID, directory.UserRecord{
		SessionID: sessionID, UserID: userID, BrokerID: s.id,
	}))
	return sessionID, conn
}

// attachGroupSession register a stub group connection on one side
func (s *testBrokerSide) attachGroupSession(
	t *testing.T, ctxt context.Context, group string,
) (string, *testConnection) {
	assert := assert.New(t)
	sessionID := uuid.New().String()
	conn := newTestConnection()
	s.table.AddGroupSession(sessionID, conn, group)
	assert.Nil(s.groupDir.Refresh(ctxt, s.id, group, directory.ClientRecord{
		SessionID: sessionID, Group: group, BrokerID: s.id,
	}))
	return sessionID, conn
}

func TestCrossBrokerSessionDelivery(t *testing.T) {
	assert := assert.New(t)
	wg := sync.WaitGroup{}
	ctxt, cancel := context.WithCancel(context.Background())
	defer wg.Wait()
	defer cancel()

	store, err := storage.GetInMemoryDriver("unit-test")
	assert.Nil(err)
	sideA := defineTestBrokerSide(t, ctxt, &wg, store)
	sideB := defineTestBrokerSide(t, ctxt, &wg, store)
	defer func() {
		assert.Nil(sideA.listener.Stop())
		assert.Nil(sideB.listener.Stop())
	}()

	sessionOnB, connOnB := sideB.attachUserSession(t, ctxt, 7)

	// Send from A targeting a session living on B
	assert.Nil(sideA.router.SendToSession(ctxt, sessionOnB, []byte("hello")))
	assert.Eventually(func() bool {
		return len(connOnB.frames()) == 1
	}, time.Second, time.Millisecond*10)
	assert.Equal([]string{"bin:hello"}, connOnB.frames())

	// A session living on A is delivered directly without the bus
	sessionOnA, connOnA := sideA.attachUserSession(t, ctxt, 8)
	assert.Nil(sideA.router.SendToSession(ctxt, sessionOnA, []byte("local")))
	assert.Equal([]string{"bin:local"}, connOnA.frames())
}

func TestCrossBrokerUserDelivery(t *testing.T) {
	assert := assert.New(t)
	wg := sync.WaitGroup{}
	ctxt, cancel := context.WithCancel(context.Background())
	defer wg.Wait()
	defer cancel()

	store, err := storage.GetInMemoryDriver("unit-test")
	assert.Nil(err)
	sideA := defineTestBrokerSide(t, ctxt, &wg, store)
	sideB := defineTestBrokerSide(t, ctxt, &wg, store)
	defer func() {
		assert.Nil(sideA.listener.Stop())
		assert.Nil(sideB.listener.Stop())
	}()

	_, connA := sideA.attachUserSession(t, ctxt, 7)
	_, connB0 := sideB.attachUserSession(t, ctxt, 7)
	_, connB1 := sideB.attachUserSession(t, ctxt, 7)
	_, bystander := sideB.attachUserSession(t, ctxt, 8)

	assert.Nil(sideA.router.SendToUser(ctxt, 7, []byte("fan-out")))

	assert.Eventually(func() bool {
		return len(connB0.frames()) == 1 && len(connB1.frames()) == 1
	}, time.Second, time.Millisecond*10)
	assert.Equal([]string{"bin:fan-out"}, connA.frames())
	assert.Equal([]string{"bin:fan-out"}, connB0.frames())
	assert.Equal([]string{"bin:fan-out"}, connB1.frames())
	assert.Empty(bystander.frames())
}

func TestBroadcastSelfLoopSuppression(t *testing.T) {
	assert := assert.New(t)
	wg := sync.WaitGroup{}
	ctxt, cancel := context.WithCancel(context.Background())
	defer wg.Wait()
	defer cancel()

	store, err := storage.GetInMemoryDriver("unit-test")
	assert.Nil(err)
	sideA := defineTestBrokerSide(t, ctxt, &wg, store)
	sideB := defineTestBrokerSide(t, ctxt, &wg, store)
	defer func() {
		assert.Nil(sideA.listener.Stop())
		assert.Nil(sideB.listener.Stop())
	}()

	_, connA := sideA.attachUserSession(t, ctxt, 7)
	_, connB := sideB.attachUserSession(t, ctxt, 8)

	assert.Nil(sideA.router.SendToAll(ctxt, []byte("everyone")))

	assert.Eventually(func() bool {
		return len(connB.frames()) == 1
	}, time.Second, time.Millisecond*10)

	// The sender's own broadcast echo must not double-deliver locally
	time.Sleep(time.Millisecond * 100)
	assert.Equal([]string{"bin:everyone"}, connA.frames())
	assert.Equal([]string{"bin:everyone"}, connB.frames())
}

func TestGroupDeliveryAndClose(t *testing.T) {
	assert := assert.New(t)
	wg := sync.WaitGroup{}
	ctxt, cancel := context.WithCancel(context.Background())
	defer wg.Wait()
	defer cancel()

	store, err := storage.GetInMemoryDriver("unit-test")
	assert.Nil(err)
	sideA := defineTestBrokerSide(t, ctxt, &wg, store)
	sideB := defineTestBrokerSide(t, ctxt, &wg, store)
	defer func() {
		assert.Nil(sideA.listener.Stop())
		assert.Nil(sideB.listener.Stop())
	}()

	_, feedOnA := sideA.attachGroupSession(t, ctxt, "feed")
	_, feedOnB := sideB.attachGroupSession(t, ctxt, "feed")
	_, auditOnB := sideB.attachGroupSession(t, ctxt, "audit")

	// Case 1: group fan-out stays within the group
	{
		assert.Nil(sideA.router.SendToGroup(ctxt, "feed", []byte("tick")))
		assert.Eventually(func() bool {
			return len(feedOnB.frames()) == 1
		}, time.Second, time.Millisecond*10)
		assert.Equal([]string{"bin:tick"}, feedOnA.frames())
		assert.Empty(auditOnB.frames())
	}

	// Case 2: close terminates the group's sessions on every broker
	{
		assert.Nil(sideA.router.CloseGroup(ctxt, "feed"))
		assert.False(feedOnA.IsOpen())
		assert.Eventually(func() bool {
			return !feedOnB.IsOpen()
		}, time.Second, time.Millisecond*10)
		assert.True(auditOnB.IsOpen())
	}
}

func TestDeliveryFaultIsolation(t *testing.T) {
	assert := assert.New(t)
	wg := sync.WaitGroup{}
	ctxt, cancel := context.WithCancel(context.Background())
	defer wg.Wait()
	defer cancel()

	store, err := storage.GetInMemoryDriver("unit-test")
	assert.Nil(err)
	sideA := defineTestBrokerSide(t, ctxt, &wg, store)
	sideB := defineTestBrokerSide(t, ctxt, &wg, store)
	defer func() {
		assert.Nil(sideA.listener.Stop())
		assert.Nil(sideB.listener.Stop())
	}()

	_, broken := sideB.attachUserSession(t, ctxt, 7)
	broken.failSend = true
	_, healthy := sideB.attachUserSession(t, ctxt, 7)

	// One failing target must not block the remaining fan-out
	assert.Nil(sideA.router.SendToUser(ctxt, 7, []byte("still-works")))
	assert.Eventually(func() bool {
		return len(healthy.frames()) == 1
	}, time.Second, time.Millisecond*10)
	assert.Empty(broken.frames())
}
