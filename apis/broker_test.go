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

package apis

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/alwitt/goutils"
	"github.com/alwitt/wsbroker/broker"
	"github.com/alwitt/wsbroker/common"
	"github.com/alwitt/wsbroker/directory"
	"github.com/alwitt/wsbroker/registry"
	"github.com/alwitt/wsbroker/storage"
	"github.com/google/uuid"
	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
)

const testKeyPrefix = "hzero:websocket"

// testConnection Connection stub recording delivered frames
type testConnection struct {
	lock     sync.Mutex
	open     bool
	recorded []string
}

func newTestConnection() *testConnection {
	return &testConnection{open: true, recorded: []string{}}
}

func (c *testConnection) SendText(msg string) error {
	c.lock.Lock()
	defer c.lock.Unlock()
	c.recorded = append(c.recorded, msg)
	return nil
}

func (c *testConnection) SendBinary(data []byte) error {
	c.lock.Lock()
	defer c.lock.Unlock()
	c.recorded = append(c.recorded, string(data))
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

// defineTestManagementAPI httptest server exposing the management routes over
// a memory-backed broker
func defineTestManagementAPI(
	t *testing.T, ctxt context.Context, store storage.Driver,
) (*httptest.Server, broker.Broker, directory.OnlineUserIndex) {
	assert := assert.New(t)
	node, err := broker.GetBroker(ctxt, store, store, nil, common.BrokerConfig{
		KeyPrefix:          testKeyPrefix,
		SharedChannel:      testKeyPrefix,
		HeartbeatInterval:  1,
		HeartbeatTTL:       2,
		ReconcileInterval:  600,
		ReconcilePageSize:  100,
		CleanupLockTimeout: 1,
		DeliveryQueueLen:   16,
		EnvelopeBus:        "redis",
	})
	assert.Nil(err)
	index, err := directory.GetOnlineUserIndex(store, testKeyPrefix, "unit-test")
	assert.Nil(err)

	httpConfig := common.HTTPConfig{
		Logging: common.HTTPRequestLogging{RequestIDHeader: "X-Request-ID"},
	}
	handler, err := GetAPIRestBrokerHandler(node, index, &httpConfig)
	assert.Nil(err)

	router := mux.NewRouter()
	v1Router := RegisterPathPrefix(router, "/v1", nil)
	sendRouter := RegisterPathPrefix(v1Router, "/send", nil)
	_ = RegisterPathPrefix(sendRouter, "/session/{sessionID}", MethodHandlers{
		http.MethodPost: handler.SendToSessionHandler(),
	})
	_ = RegisterPathPrefix(sendRouter, "/user/{userID}", MethodHandlers{
		http.MethodPost: handler.SendToUserHandler(),
	})
	_ = RegisterPathPrefix(sendRouter, "/all", MethodHandlers{
		http.MethodPost: handler.SendToAllHandler(),
	})
	_ = RegisterPathPrefix(sendRouter, "/group/{group}", MethodHandlers{
		http.MethodPost: handler.SendToGroupHandler(),
	})
	_ = RegisterPathPrefix(v1Router, "/group/{group}/close", MethodHandlers{
		http.MethodPost: handler.CloseGroupHandler(),
	})
	_ = RegisterPathPrefix(v1Router, "/online", MethodHandlers{
		http.MethodGet: handler.GetOnlineUsersHandler(),
	})
	_ = RegisterPathPrefix(router, "/alive", MethodHandlers{
		http.MethodGet: handler.AliveHandler(),
	})
	_ = RegisterPathPrefix(router, "/ready", MethodHandlers{
		http.MethodGet: handler.ReadyHandler(),
	})

	// Same access-log middleware the server wiring installs; the handler is
	// the log sink
	router.Use(func(next http.Handler) http.Handler {
		return handlers.CombinedLoggingHandler(handler, next)
	})

	return httptest.NewServer(router), node, index
}

func TestManagementAccessLogSink(t *testing.T) {
	assert := assert.New(t)
	ctxt, cancel := context.WithCancel(context.Background())
	defer cancel()

	store, err := storage.GetInMemoryDriver("unit-test")
	assert.Nil(err)
	node, err := broker.GetBroker(ctxt, store, store, nil, common.BrokerConfig{
		KeyPrefix:          testKeyPrefix,
		SharedChannel:      testKeyPrefix,
		HeartbeatInterval:  1,
		HeartbeatTTL:       2,
		ReconcileInterval:  600,
		ReconcilePageSize:  100,
		CleanupLockTimeout: 1,
		DeliveryQueueLen:   16,
		EnvelopeBus:        "redis",
	})
	assert.Nil(err)
	index, err := directory.GetOnlineUserIndex(store, testKeyPrefix, "unit-test")
	assert.Nil(err)

	handler, err := GetAPIRestBrokerHandler(node, index, &common.HTTPConfig{
		Logging: common.HTTPRequestLogging{RequestIDHeader: "X-Request-ID"},
	})
	assert.Nil(err)

	var sink io.Writer = handler
	written, err := sink.Write([]byte("127.0.0.1 - - GET /alive HTTP/1.1 200\n"))
	assert.Nil(err)
	assert.Equal(38, written)
}

func sendTestMessage(t *testing.T, url, message string) *http.Response {
	assert := assert.New(t)
	body, err := json.Marshal(APIRestReqSendMessage{Message: message})
	assert.Nil(err)
	resp, err := http.Post(url, "application/json", bytes.NewReader(body))
	assert.Nil(err)
	return resp
}

func TestManagementSendEndpoints(t *testing.T) {
	assert := assert.New(t)
	ctxt, cancel := context.WithCancel(context.Background())
	defer cancel()

	store, err := storage.GetInMemoryDriver("unit-test")
	assert.Nil(err)
	srv, node, _ := defineTestManagementAPI(t, ctxt, store)
	defer srv.Close()

	// Node must be rostered for user and group fan-out to see its directory
	liveness, err := directory.GetBrokerLivenessRegistry(store, testKeyPrefix, 0, "unit-test")
	assert.Nil(err)
	assert.Nil(liveness.Register(ctxt, node.ID()))

	sessionID := uuid.New().String()
	conn := newTestConnection()
	assert.Nil(node.ConnectUser(ctxt, sessionID, conn, registry.UserOwner{UserID: 7}))

	// Case 1: directed session send delivers a binary frame
	{
		resp := sendTestMessage(
			t, fmt.Sprintf("%s/v1/send/session/%s", srv.URL, sessionID), "hi",
		)
		assert.Equal(http.StatusOK, resp.StatusCode)
		assert.Nil(resp.Body.Close())
		assert.Equal([]string{"hi"}, conn.frames())
	}

	// Case 2: user send reaches the same connection
	{
		resp := sendTestMessage(t, fmt.Sprintf("%s/v1/send/user/7", srv.URL), "for-user")
		assert.Equal(http.StatusOK, resp.StatusCode)
		assert.Nil(resp.Body.Close())
		assert.Equal([]string{"hi", "for-user"}, conn.frames())
	}

	// Case 3: malformed user ID rejected
	{
		resp := sendTestMessage(t, fmt.Sprintf("%s/v1/send/user/seven", srv.URL), "x")
		assert.Equal(http.StatusBadRequest, resp.StatusCode)
		assert.Nil(resp.Body.Close())
	}

	// Case 4: empty message rejected by body validation
	{
		resp, err := http.Post(
			fmt.Sprintf("%s/v1/send/all", srv.URL), "application/json",
			bytes.NewReader([]byte(`{}`)),
		)
		assert.Nil(err)
		assert.Equal(http.StatusBadRequest, resp.StatusCode)
		assert.Nil(resp.Body.Close())
	}

	// Case 5: group send and close
	{
		groupSession := uuid.New().String()
		groupConn := newTestConnection()
		assert.Nil(node.ConnectGroup(ctxt, groupSession, groupConn, "feed"))

		resp := sendTestMessage(t, fmt.Sprintf("%s/v1/send/group/feed", srv.URL), "to-feed")
		assert.Equal(http.StatusOK, resp.StatusCode)
		assert.Nil(resp.Body.Close())
		assert.Equal([]string{"to-feed"}, groupConn.frames())

		closeResp, err := http.Post(
			fmt.Sprintf("%s/v1/group/feed/close", srv.URL), "application/json", nil,
		)
		assert.Nil(err)
		assert.Equal(http.StatusOK, closeResp.StatusCode)
		assert.Nil(closeResp.Body.Close())
		assert.False(groupConn.IsOpen())
	}
}

func TestManagementOnlineQuery(t *testing.T) {
	assert := assert.New(t)
	ctxt, cancel := context.WithCancel(context.Background())
	defer cancel()

	store, err := storage.GetInMemoryDriver("unit-test")
	assert.Nil(err)
	srv, node, _ := defineTestManagementAPI(t, ctxt, store)
	defer srv.Close()

	sessionID := uuid.New().String()
	assert.Nil(node.ConnectUser(ctxt, sessionID, newTestConnection(), registry.UserOwner{
		UserID: 17, TenantID: 3,
	}))

	// Case 1: full listing
	{
		resp, err := http.Get(fmt.Sprintf("%s/v1/online", srv.URL))
		assert.Nil(err)
		assert.Equal(http.StatusOK, resp.StatusCode)
		var parsed APIRestRespOnlineUsers
		assert.Nil(json.NewDecoder(resp.Body).Decode(&parsed))
		assert.Nil(resp.Body.Close())
		assert.True(parsed.Success)
		assert.Equal(int64(1), parsed.Total)
		assert.Len(parsed.Users, 1)
		assert.Equal(sessionID, parsed.Users[0].SessionID)
		assert.Equal(int64(17), parsed.Users[0].UserID)
		assert.Equal(int64(3), parsed.Users[0].TenantID)
		assert.Equal(node.ID(), parsed.Users[0].BrokerID)
	}

	// Case 2: tenant-scoped listing misses other tenants
	{
		resp, err := http.Get(fmt.Sprintf("%s/v1/online?tenantId=99", srv.URL))
		assert.Nil(err)
		assert.Equal(http.StatusOK, resp.StatusCode)
		var parsed APIRestRespOnlineUsers
		assert.Nil(json.NewDecoder(resp.Body).Decode(&parsed))
		assert.Nil(resp.Body.Close())
		assert.Equal(int64(0), parsed.Total)
		assert.Empty(parsed.Users)
	}

	// Case 3: bad paging parameters rejected
	{
		resp, err := http.Get(fmt.Sprintf("%s/v1/online?page=-1", srv.URL))
		assert.Nil(err)
		assert.Equal(http.StatusBadRequest, resp.StatusCode)
		assert.Nil(resp.Body.Close())
	}
}

func TestManagementHealthEndpoints(t *testing.T) {
	assert := assert.New(t)
	ctxt, cancel := context.WithCancel(context.Background())
	defer cancel()

	store, err := storage.GetInMemoryDriver("unit-test")
	assert.Nil(err)
	srv, _, _ := defineTestManagementAPI(t, ctxt, store)
	defer srv.Close()

	// Liveness always succeeds
	resp, err := http.Get(fmt.Sprintf("%s/alive", srv.URL))
	assert.Nil(err)
	assert.Equal(http.StatusOK, resp.StatusCode)
	var parsed goutils.RestAPIBaseResponse
	assert.Nil(json.NewDecoder(resp.Body).Decode(&parsed))
	assert.Nil(resp.Body.Close())
	assert.True(parsed.Success)

	// Readiness fails while the envelope subscription is down
	resp, err = http.Get(fmt.Sprintf("%s/ready", srv.URL))
	assert.Nil(err)
	assert.Equal(http.StatusServiceUnavailable, resp.StatusCode)
	assert.Nil(resp.Body.Close())
}
