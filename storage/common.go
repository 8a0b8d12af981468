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

package storage

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrKeyNotFound returned when a key / field is absent from the store
var ErrKeyNotFound = errors.New("key not found")

// KeyValue TTL-keyed string primitives
type KeyValue interface {
	// Set store value under key. A zero TTL means no expiry.
	Set(ctxt context.Context, key, value string, ttl time.Duration) error
	// Get fetch the value under key. Returns ErrKeyNotFound when absent or expired.
	Get(ctxt context.Context, key string) (string, error)
	// Exists check whether key is present and unexpired
	Exists(ctxt context.Context, key string) (bool, error)
	// Delete remove key. No error when the key is absent.
	Delete(ctxt context.Context, key string) error
}

// HashMap (key, field) hash primitives
type HashMap interface {
	// HashPut store value under (key, field)
	HashPut(ctxt context.Context, key, field, value string) error
	// HashGet fetch the value under (key, field). Returns ErrKeyNotFound when absent.
	HashGet(ctxt context.Context, key, field string) (string, error)
	// HashGetAll fetch every (field, value) pair under key. An absent key gives
	// an empty map.
	HashGetAll(ctxt context.Context, key string) (map[string]string, error)
	// HashKeys list the fields under key. An absent key gives an empty list.
	HashKeys(ctxt context.Context, key string) ([]string, error)
	// HashDelete remove fields from key. No error when absent.
	HashDelete(ctxt context.Context, key string, fields ...string) error
}

// SortedSet score-ordered set primitives
type SortedSet interface {
	// SortedAdd insert member with score into the set under key
	SortedAdd(ctxt context.Context, key, member string, score float64) error
	// SortedRemove remove members by exact match. No error when absent.
	SortedRemove(ctxt context.Context, key string, members ...string) error
	// SortedRange fetch members by rank range, inclusive on both ends.
	// Negative stop follows the Redis convention (-1 is the last member).
	SortedRange(ctxt context.Context, key string, start, stop int64) ([]string, error)
	// SortedCard fetch the set cardinality
	SortedCard(ctxt context.Context, key string) (int64, error)
}

// MessageHandler callback invoked once per message received on a subscribed channel
type MessageHandler func(ctxt context.Context, channel string, payload []byte)

// Subscription handle on an active channel subscription
type Subscription interface {
	// Active whether the subscription is still receiving messages
	Active() bool
	// Close terminate the subscription
	Close() error
}

// PubSub named-channel publish / subscribe primitives. Delivery between
// brokers is at-most-once and unordered.
type PubSub interface {
	// Publish send payload on channel. Fire-and-forget; does not wait on
	// subscriber processing.
	Publish(ctxt context.Context, channel string, payload []byte) error
	// Subscribe start receiving messages on the named channels, passing each
	// to handler. Handler invocations are serial per subscription.
	Subscribe(
		ctxt context.Context, wg *sync.WaitGroup, handler MessageHandler, channels ...string,
	) (Subscription, error)
}

// Driver the full set of primitives the broker core needs from the shared
// coordination store. Any store offering these is substitutable.
type Driver interface {
	KeyValue
	HashMap
	SortedSet
	PubSub
}
