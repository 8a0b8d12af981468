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

package transport

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/alwitt/wsbroker/auth"
	"github.com/alwitt/wsbroker/broker"
	"github.com/alwitt/wsbroker/common"
	"github.com/alwitt/wsbroker/registry"
	"github.com/apex/log"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// WebsocketEndpoint the client-facing websocket accept surface. Upgrades HTTP
// requests, resolves session ownership from the handshake query parameters,
// and hands accepted connections to the broker.
type WebsocketEndpoint struct {
	common.Component
	node      broker.Broker
	validator auth.TokenValidator
	upgrader  websocket.Upgrader
	cfg       common.WebsocketConfig
	rootCtxt  context.Context
	wg        *sync.WaitGroup
}

/*
DefineWebsocketEndpoint define a new websocket accept endpoint

 @param rootCtxt context.Context - lifetime context of accepted connections
 @param wg *sync.WaitGroup - tracks the per-connection goroutines
 @param node broker.Broker - the broker taking ownership of accepted connections
 @param validator auth.TokenValidator - handshake token validator
 @param cfg common.WebsocketConfig - endpoint parameters
 @return the endpoint
*/
func DefineWebsocketEndpoint(
	rootCtxt context.Context,
	wg *sync.WaitGroup,
	node broker.Broker,
	validator auth.TokenValidator,
	cfg common.WebsocketConfig,
) (*WebsocketEndpoint, error) {
	logTags := log.Fields{
		"module": "transport", "component": "websocket-endpoint", "instance": node.ID(),
	}
	return &WebsocketEndpoint{
		Component: common.Component{LogTags: logTags},
		node:      node,
		validator: validator,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  cfg.ReadBufferSize,
			WriteBufferSize: cfg.WriteBufferSize,
			// Cross-origin policy is delegated to the fronting proxy
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		cfg:      cfg,
		rootCtxt: rootCtxt,
		wg:       wg,
	}, nil
}

// ServeHTTP upgrade one websocket handshake
func (e *WebsocketEndpoint) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	localLogTags, err := common.UpdateLogTags(r.Context(), e.LogTags)
	if err != nil {
		log.WithError(err).WithFields(e.LogTags).Error("Failed to update log tags")
	}

	query := r.URL.Query()
	group := query.Get("group")
	token := query.Get("token")

	var owner registry.UserOwner
	userSession := group == ""
	if userSession {
		// A user session must present identity and a valid token
		userID, err := strconv.ParseInt(query.Get("userId"), 10, 64)
		if err != nil {
			log.WithError(err).WithFields(localLogTags).Info("Rejecting handshake: bad userId")
			http.Error(w, "invalid or missing userId", http.StatusBadRequest)
			return
		}
		tenantID := int64(0)
		if raw := query.Get("tenantId"); raw != "" {
			tenantID, err = strconv.ParseInt(raw, 10, 64)
			if err != nil {
				log.WithError(err).WithFields(localLogTags).Info(
					"Rejecting handshake: bad tenantId",
				)
				http.Error(w, "invalid tenantId", http.StatusBadRequest)
				return
			}
		}
		valid, err := e.validator.IsValid(r.Context(), token)
		if err != nil {
			log.WithError(err).WithFields(localLogTags).Error("Token validation failed")
			http.Error(w, "token validation failed", http.StatusInternalServerError)
			return
		}
		if !valid {
			log.WithFields(localLogTags).Info("Rejecting handshake: invalid token")
			http.Error(w, "invalid token", http.StatusUnauthorized)
			return
		}
		owner = registry.UserOwner{UserID: userID, TenantID: tenantID, AccessToken: token}
	}

	socket, err := e.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.WithError(err).WithFields(localLogTags).Error("Websocket upgrade failed")
		return
	}

	sessionID := uuid.New().String()
	conn := newWSConnection(localLogTags, socket, time.Second*time.Duration(e.cfg.WriteTimeout))

	if userSession {
		err = e.node.ConnectUser(r.Context(), sessionID, conn, owner)
	} else {
		err = e.node.ConnectGroup(r.Context(), sessionID, conn, group)
	}
	if err != nil {
		log.WithError(err).WithFields(localLogTags).Errorf(
			"Unable to register session %s, dropping the socket", sessionID,
		)
		_ = conn.Close()
		return
	}

	e.wg.Add(2)
	go func() {
		defer e.wg.Done()
		e.readLoop(sessionID, conn)
	}()
	go func() {
		defer e.wg.Done()
		e.pingLoop(sessionID, conn)
	}()
}

// readLoop drain inbound frames until the socket dies, then deregister the
// session. Inbound payloads are not interpreted; clients talk to the cluster
// through the management API.
func (e *WebsocketEndpoint) readLoop(sessionID string, conn *wsConnection) {
	for {
		if _, _, err := conn.socket.ReadMessage(); err != nil {
			log.WithError(err).WithFields(e.LogTags).Debugf(
				"Session %s socket closed", sessionID,
			)
			break
		}
	}
	_ = conn.Close()
	if err := e.node.Disconnect(e.rootCtxt, sessionID); err != nil {
		log.WithError(err).WithFields(e.LogTags).Errorf(
			"Cleanup of session %s failed", sessionID,
		)
	}
}

// pingLoop keep the socket alive through idle proxies
func (e *WebsocketEndpoint) pingLoop(sessionID string, conn *wsConnection) {
	ticker := time.NewTicker(time.Second * time.Duration(e.cfg.PingInterval))
	defer ticker.Stop()
	for {
		select {
		case <-e.rootCtxt.Done():
			return
		case <-ticker.C:
			if !conn.IsOpen() {
				return
			}
			if err := conn.sendControl(websocket.PingMessage); err != nil {
				log.WithError(err).WithFields(e.LogTags).Debugf(
					"Ping to session %s failed", sessionID,
				)
				return
			}
		}
	}
}

// wsConnection registry.Connection over one gorilla websocket
type wsConnection struct {
	logTags      log.Fields
	socket       *websocket.Conn
	writeLock    sync.Mutex
	writeTimeout time.Duration
	open         atomic.Bool
	closeOnce    sync.Once
}

func newWSConnection(
	logTags log.Fields, socket *websocket.Conn, writeTimeout time.Duration,
) *wsConnection {
	conn := &wsConnection{logTags: logTags, socket: socket, writeTimeout: writeTimeout}
	conn.open.Store(true)
	return conn
}

// SendText write a text frame to the socket
func (c *wsConnection) SendText(msg string) error {
	return c.write(websocket.TextMessage, []byte(msg))
}

// SendBinary write a binary frame to the socket
func (c *wsConnection) SendBinary(data []byte) error {
	return c.write(websocket.BinaryMessage, data)
}

func (c *wsConnection) write(frameType int, data []byte) error {
	if !c.open.Load() {
		return fmt.Errorf("connection already closed")
	}
	c.writeLock.Lock()
	defer c.writeLock.Unlock()
	if err := c.socket.SetWriteDeadline(time.Now().Add(c.writeTimeout)); err != nil {
		return err
	}
	return c.socket.WriteMessage(frameType, data)
}

func (c *wsConnection) sendControl(frameType int) error {
	if !c.open.Load() {
		return fmt.Errorf("connection already closed")
	}
	c.writeLock.Lock()
	defer c.writeLock.Unlock()
	return c.socket.WriteControl(frameType, nil, time.Now().Add(c.writeTimeout))
}

// Close terminate the socket. Idempotent.
func (c *wsConnection) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.open.Store(false)
		c.writeLock.Lock()
		defer c.writeLock.Unlock()
		deadline := time.Now().Add(c.writeTimeout)
		_ = c.socket.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			deadline,
		)
		err = c.socket.Close()
	})
	return err
}

// IsOpen whether the socket is still usable
func (c *wsConnection) IsOpen() bool {
	return c.open.Load()
}
