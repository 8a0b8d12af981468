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
	"encoding/json"
	"fmt"
)

// UserRecord directory record of one user-owned session. The JSON field names
// are part of the deployed key / channel format and must not change.
type UserRecord struct {
	// SessionID the session's opaque unique ID
	SessionID string `json:"sessionId" validate:"required"`
	// UserID the owning user
	UserID int64 `json:"userId"`
	// TenantID the user's tenant
	TenantID int64 `json:"tenantId"`
	// AccessToken reference to the auth token presented at handshake
	AccessToken string `json:"accessToken,omitempty"`
	// BrokerID the broker instance holding the live socket
	BrokerID string `json:"brokerId" validate:"required"`
}

// String toString override
func (r UserRecord) String() string {
	return fmt.Sprintf("user-session[%s]@%s", r.SessionID, r.BrokerID)
}

// Serialize produce the canonical serialized form. The online index removes
// by exact match, so the same record must always serialize identically.
func (r UserRecord) Serialize() (string, error) {
	t, err := json.Marshal(&r)
	return string(t), err
}

// ClientRecord directory record of one group-owned session
type ClientRecord struct {
	// SessionID the session's opaque unique ID
	SessionID string `json:"sessionId" validate:"required"`
	// Group the owning group tag
	Group string `json:"group" validate:"required"`
	// BrokerID the broker instance holding the live socket
	BrokerID string `json:"brokerId" validate:"required"`
}

// String toString override
func (r ClientRecord) String() string {
	return fmt.Sprintf("group-session[%s]@%s", r.SessionID, r.BrokerID)
}
