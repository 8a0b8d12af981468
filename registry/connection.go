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

// Connection opaque handle on one live client socket, supplied by the
// transport layer
type Connection interface {
	// SendText write a text frame to the socket
	SendText(msg string) error
	// SendBinary write a binary frame to the socket
	SendBinary(data []byte) error
	// Close terminate the socket
	Close() error
	// IsOpen whether the socket is still usable
	IsOpen() bool
}

// UserOwner ownership attributes of a user-owned session
type UserOwner struct {
	// UserID the owning user
	UserID int64
	// TenantID the user's tenant
	TenantID int64
	// AccessToken reference to the auth token presented at handshake
	AccessToken string
}

// GroupOwner ownership attributes of a group-owned session
type GroupOwner struct {
	// Group the owning group tag
	Group string
}
