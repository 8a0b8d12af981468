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
	"encoding/json"
	"fmt"
)

// SendType tags how the receiving broker should resolve an envelope's targets
type SendType string

// The wire values are part of the deployed channel format and must not change
const (
	// SendTypeSession deliver to one user-owned session by ID
	SendTypeSession SendType = "SESSION"
	// SendTypeUser deliver to every session of one user
	SendTypeUser SendType = "USER"
	// SendTypeAll deliver to every user-owned session
	SendTypeAll SendType = "ALL"
	// SendTypeGroupSession deliver to one group-owned session by ID
	SendTypeGroupSession SendType = "S_SESSION"
	// SendTypeGroup deliver to every session of one group
	SendTypeGroup SendType = "S_GROUP"
	// SendTypeGroupAll deliver to every group-owned session
	SendTypeGroupAll SendType = "S_ALL"
	// SendTypeClose force-close every session of one group
	SendTypeClose SendType = "CLOSE"
)

// Envelope addressed message unit exchanged between brokers over pub/sub
type Envelope struct {
	// BrokerID the originating broker
	BrokerID string `json:"brokerId" validate:"required"`
	// Type how the receiver resolves targets
	Type SendType `json:"type" validate:"required,oneof=SESSION USER ALL S_SESSION S_GROUP S_ALL CLOSE"`
	// SessionID target session for session-addressed types
	SessionID string `json:"sessionId,omitempty"`
	// UserID target user for USER
	UserID int64 `json:"userId,omitempty"`
	// Group target group for S_GROUP and CLOSE
	Group string `json:"group,omitempty"`
	// Data raw payload. When absent, the envelope's own serialized text is the
	// payload instead, preserving compatibility with plain-text subscribers.
	Data []byte `json:"data,omitempty"`
}

// String toString override
func (e Envelope) String() string {
	return fmt.Sprintf("envelope[%s]@%s", e.Type, e.BrokerID)
}

// Serialize the envelope for publishing
func (e Envelope) Serialize() ([]byte, error) {
	return json.Marshal(&e)
}

// ParseEnvelope parse a received envelope
func ParseEnvelope(raw []byte) (Envelope, error) {
	var parsed Envelope
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return Envelope{}, err
	}
	if parsed.BrokerID == "" || parsed.Type == "" {
		return Envelope{}, fmt.Errorf("envelope missing brokerId or type")
	}
	return parsed, nil
}
