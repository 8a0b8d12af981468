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

package registry

import (
	"sync"

	"github.com/alwitt/wsbroker/common"
	"github.com/apex/log"
)

// ConnectionTable per-broker in-memory table of live connections and their
// owners. Pure in-memory, no network I/O; safe for concurrent use from the
// accept, dispatch, and maintenance paths.
type ConnectionTable interface {
	// AddUserSession register a live user-owned connection under sessionID.
	// Overwrites any pre-existing entry for the same ID.
	AddUserSession(sessionID string, conn Connection, owner UserOwner)
	// AddGroupSession register a live group-owned connection under sessionID.
	// Overwrites any pre-existing entry for the same ID.
	AddGroupSession(sessionID string, conn Connection, group string)
	// UserSession fetch the user-owned connection under sessionID
	UserSession(sessionID string) (Connection, bool)
	// GroupSession fetch the group-owned connection under sessionID
	GroupSession(sessionID string) (Connection, bool)
	// UserOwner fetch the user ownership record of sessionID
	UserOwner(sessionID string) (UserOwner, bool)
	// Group fetch the group tag of sessionID
	Group(sessionID string) (string, bool)
	// Remove drop the connection and ownership entries of sessionID from both
	// families. Idempotent; no error when absent.
	Remove(sessionID string)
	// Count the number of registered sessions
	Count() int
}

// connectionTableImpl implements ConnectionTable
type connectionTableImpl struct {
	common.Component
	lock       sync.RWMutex
	userConns  map[string]Connection
	userOwners map[string]UserOwner
	groupConns map[string]Connection
	groups     map[string]string
}

// GetConnectionTable define a new per-broker connection table
func GetConnectionTable(instance string) (ConnectionTable, error) {
	logTags := log.Fields{
		"module": "registry", "component": "connection-table", "instance": instance,
	}
	return &connectionTableImpl{
		Component:  common.Component{LogTags: logTags},
		userConns:  make(map[string]Connection),
		userOwners: make(map[string]UserOwner),
		groupConns: make(map[string]Connection),
		groups:     make(map[string]string),
	}, nil
}

// AddUserSession register a live user-owned connection under sessionID
func (t *connectionTableImpl) AddUserSession(
	sessionID string, conn Connection, owner UserOwner,
) {
	t.lock.Lock()
	defer t.lock.Unlock()
	t.userConns[sessionID] = conn
	t.userOwners[sessionID] = owner
}

// AddGroupSession register a live group-owned connection under sessionID
func (t *connectionTableImpl) AddGroupSession(sessionID string, conn Connection, group string) {
	t.lock.Lock()
	defer t.lock.Unlock()
	t.groupConns[sessionID] = conn
	t.groups[sessionID] = group
}

// UserSession fetch the user-owned connection under sessionID
func (t *connectionTableImpl) UserSession(sessionID string) (Connection, bool) {
	t.lock.RLock()
	defer t.lock.RUnlock()
	conn, ok := t.userConns[sessionID]
	return conn, ok
}

// GroupSession fetch the group-owned connection under sessionID
func (t *connectionTableImpl) GroupSession(sessionID string) (Connection, bool) {
	t.lock.RLock()
	defer t.lock.RUnlock()
	conn, ok := t.groupConns[sessionID]
	return conn, ok
}

// UserOwner fetch the user ownership record of sessionID
func (t *connectionTableImpl) UserOwner(sessionID string) (UserOwner, bool) {
	t.lock.RLock()
	defer t.lock.RUnlock()
	owner, ok := t.userOwners[sessionID]
	return owner, ok
}

// Group fetch the group tag of sessionID
func (t *connectionTableImpl) Group(sessionID string) (string, bool) {
	t.lock.RLock()
	defer t.lock.RUnlock()
	group, ok := t.groups[sessionID]
	return group, ok
}

// Remove drop the connection and ownership entries of sessionID
func (t *connectionTableImpl) Remove(sessionID string) {
	t.lock.Lock()
	defer t.lock.Unlock()
	delete(t.userConns, sessionID)
	delete(t.userOwners, sessionID)
	delete(t.groupConns, sessionID)
	delete(t.groups, sessionID)
}

// Count the number of registered sessions
func (t *connectionTableImpl) Count() int {
	t.lock.RLock()
	defer t.lock.RUnlock()
	return len(t.userConns) + len(t.groupConns)
}
