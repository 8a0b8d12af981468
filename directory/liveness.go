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
	"time"

	"github.com/alwitt/wsbroker/common"
	"github.com/alwitt/wsbroker/storage"
	"github.com/apex/log"
)

// livenessSentinel value held by an unexpired liveness marker
const livenessSentinel = "alive"

// BrokerLivenessRegistry tracks which broker instances are alive. Each broker
// refreshes a short-TTL marker; the durable roster records every broker ID
// ever registered so the failure-detection scan has a fixed universe to
// iterate even though individual markers expire.
type BrokerLivenessRegistry interface {
	// Heartbeat refresh the broker's TTL-bound liveness marker
	Heartbeat(ctxt context.Context, brokerID string) error
	// IsAlive whether the broker's marker is present and unexpired
	IsAlive(ctxt context.Context, brokerID string) (bool, error)
	// Register add the broker to the durable roster
	Register(ctxt context.Context, brokerID string) error
	// Deregister remove the broker from the durable roster
	Deregister(ctxt context.Context, brokerID string) error
	// List the roster
	List(ctxt context.Context) ([]string, error)
}

// brokerLivenessImpl implements BrokerLivenessRegistry
type brokerLivenessImpl struct {
	common.Component
	store     storage.Driver
	keyPrefix string
	ttl       time.Duration
}

// GetBrokerLivenessRegistry define a new broker liveness registry. The TTL
// must exceed the heartbeat period by a safety margin so one missed tick does
// not falsely mark a live broker dead.
func GetBrokerLivenessRegistry(
	store storage.Driver, keyPrefix string, ttl time.Duration, instance string,
) (BrokerLivenessRegistry, error) {
	logTags := log.Fields{
		"module": "directory", "component": "broker-liveness", "instance": instance,
	}
	return &brokerLivenessImpl{
		Component: common.Component{LogTags: logTags},
		store:     store,
		keyPrefix: keyPrefix,
		ttl:       ttl,
	}, nil
}

// Heartbeat refresh the broker's TTL-bound liveness marker
func (r *brokerLivenessImpl) Heartbeat(ctxt context.Context, brokerID string) error {
	return r.store.Set(ctxt, brokerLivenessKey(r.keyPrefix, brokerID), livenessSentinel, r.ttl)
}

// IsAlive whether the broker's marker is present and unexpired
func (r *brokerLivenessImpl) IsAlive(ctxt context.Context, brokerID string) (bool, error) {
	value, err := r.store.Get(ctxt, brokerLivenessKey(r.keyPrefix, brokerID))
	if err != nil {
		if err == storage.ErrKeyNotFound {
			return false, nil
		}
		return false, err
	}
	return value == livenessSentinel, nil
}

// Register add the broker to the durable roster
func (r *brokerLivenessImpl) Register(ctxt context.Context, brokerID string) error {
	return r.store.HashPut(ctxt, brokerRosterKey(r.keyPrefix), brokerID, "")
}

// Deregister remove the broker from the durable roster
func (r *brokerLivenessImpl) Deregister(ctxt context.Context, brokerID string) error {
	return r.store.HashDelete(ctxt, brokerRosterKey(r.keyPrefix), brokerID)
}

// List the roster
func (r *brokerLivenessImpl) List(ctxt context.Context) ([]string, error) {
	return r.store.HashKeys(ctxt, brokerRosterKey(r.keyPrefix))
}
