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
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/alwitt/wsbroker/common"
	"github.com/apex/log"
)

// inMemoryDriver implements Driver fully in process. Intended for single-node
// deployments and for unit testing; a set of simulated brokers sharing one
// instance behaves like a fleet sharing one Redis.
type inMemoryDriver struct {
	common.Component
	lock        sync.Mutex
	kv          map[string]memoryValue
	hashes      map[string]map[string]string
	sorted      map[string][]memberScore
	subscribers map[string][]*memorySubscription
}

type memoryValue struct {
	value    string
	expireAt time.Time
}

type memberScore struct {
	member string
	score  float64
}

// GetInMemoryDriver define an in-process storage driver
func GetInMemoryDriver(instance string) (Driver, error) {
	logTags := log.Fields{
		"module": "storage", "component": "memory-driver", "instance": instance,
	}
	return &inMemoryDriver{
		Component:   common.Component{LogTags: logTags},
		kv:          make(map[string]memoryValue),
		hashes:      make(map[string]map[string]string),
		sorted:      make(map[string][]memberScore),
		subscribers: make(map[string][]*memorySubscription),
	}, nil
}

// =======================================================================
// KeyValue

// Set store value under key
func (d *inMemoryDriver) Set(ctxt context.Context, key, value string, ttl time.Duration) error {
	d.lock.Lock()
	defer d.lock.Unlock()
	entry := memoryValue{value: value}
	if ttl > 0 {
		entry.expireAt = time.Now().Add(ttl)
	}
	d.kv[key] = entry
	return nil
}

// Get fetch the value under key
func (d *inMemoryDriver) Get(ctxt context.Context, key string) (string, error) {
	d.lock.Lock()
	defer d.lock.Unlock()
	entry, ok := d.kv[key]
	if !ok {
		return "", ErrKeyNotFound
	}
	if !entry.expireAt.IsZero() && time.Now().After(entry.expireAt) {
		delete(d.kv, key)
		return "", ErrKeyNotFound
	}
	return entry.value, nil
}

// Exists check whether key is present
func (d *inMemoryDriver) Exists(ctxt context.Context, key string) (bool, error) {
	if _, err := d.Get(ctxt, key); err != nil {
		if err == ErrKeyNotFound {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// Delete remove key
func (d *inMemoryDriver) Delete(ctxt context.Context, key string) error {
	d.lock.Lock()
	defer d.lock.Unlock()
	delete(d.kv, key)
	delete(d.hashes, key)
	delete(d.sorted, key)
	return nil
}

// =======================================================================
// HashMap

// HashPut store value under (key, field)
func (d *inMemoryDriver) HashPut(ctxt context.Context, key, field, value string) error {
	d.lock.Lock()
	defer d.lock.Unlock()
	bucket, ok := d.hashes[key]
	if !ok {
		bucket = make(map[string]string)
		d.hashes[key] = bucket
	}
	bucket[field] = value
	return nil
}

// HashGet fetch the value under (key, field)
func (d *inMemoryDriver) HashGet(ctxt context.Context, key, field string) (string, error) {
	d.lock.Lock()
	defer d.lock.Unlock()
	bucket, ok := d.hashes[key]
	if !ok {
		return "", ErrKeyNotFound
	}
	value, ok := bucket[field]
	if !ok {
		return "", ErrKeyNotFound
	}
	return value, nil
}

// HashGetAll fetch every (field, value) pair under key
func (d *inMemoryDriver) HashGetAll(ctxt context.Context, key string) (map[string]string, error) {
	d.lock.Lock()
	defer d.lock.Unlock()
	result := make(map[string]string)
	for field, value := range d.hashes[key] {
		result[field] = value
	}
	return result, nil
}

// HashKeys list the fields under key
func (d *inMemoryDriver) HashKeys(ctxt context.Context, key string) ([]string, error) {
	d.lock.Lock()
	defer d.lock.Unlock()
	result := []string{}
	for field := range d.hashes[key] {
		result = append(result, field)
	}
	return result, nil
}

// HashDelete remove fields from key
func (d *inMemoryDriver) HashDelete(ctxt context.Context, key string, fields ...string) error {
	d.lock.Lock()
	defer d.lock.Unlock()
	bucket, ok := d.hashes[key]
	if !ok {
		return nil
	}
	for _, field := range fields {
		delete(bucket, field)
	}
	if len(bucket) == 0 {
		delete(d.hashes, key)
	}
	return nil
}

// =======================================================================
// SortedSet

// SortedAdd insert member with score into the set under key
func (d *inMemoryDriver) SortedAdd(
	ctxt context.Context, key, member string, score float64,
) error {
	d.lock.Lock()
	defer d.lock.Unlock()
	entries := d.sorted[key]
	for idx, entry := range entries {
		if entry.member == member {
			entries[idx].score = score
			d.resort(key, entries)
			return nil
		}
	}
	d.resort(key, append(entries, memberScore{member: member, score: score}))
	return nil
}

func (d *inMemoryDriver) resort(key string, entries []memberScore) {
	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].score < entries[j].score
	})
	d.sorted[key] = entries
}

// SortedRemove remove members by exact match
func (d *inMemoryDriver) SortedRemove(ctxt context.Context, key string, members ...string) error {
	d.lock.Lock()
	defer d.lock.Unlock()
	drop := make(map[string]bool, len(members))
	for _, member := range members {
		drop[member] = true
	}
	remain := []memberScore{}
	for _, entry := range d.sorted[key] {
		if !drop[entry.member] {
			remain = append(remain, entry)
		}
	}
	if len(remain) == 0 {
		delete(d.sorted, key)
	} else {
		d.sorted[key] = remain
	}
	return nil
}

// SortedRange fetch members by rank range
func (d *inMemoryDriver) SortedRange(
	ctxt context.Context, key string, start, stop int64,
) ([]string, error) {
	d.lock.Lock()
	defer d.lock.Unlock()
	entries := d.sorted[key]
	length := int64(len(entries))
	if start < 0 {
		start += length
	}
	if stop < 0 {
		stop += length
	}
	if start < 0 {
		start = 0
	}
	if stop >= length {
		stop = length - 1
	}
	result := []string{}
	if start >= length || start > stop {
		return result, nil
	}
	for _, entry := range entries[start : stop+1] {
		result = append(result, entry.member)
	}
	return result, nil
}

// SortedCard fetch the set cardinality
func (d *inMemoryDriver) SortedCard(ctxt context.Context, key string) (int64, error) {
	d.lock.Lock()
	defer d.lock.Unlock()
	return int64(len(d.sorted[key])), nil
}

// =======================================================================
// PubSub

// memorySubscription one subscriber's delivery queue. Messages are handled
// serially by a dedicated reader goroutine, matching the per-channel
// serialization of the Redis driver.
type memorySubscription struct {
	parent   *inMemoryDriver
	channels map[string]bool
	queue    chan memoryMessage
	active   *atomic.Bool
	cancel   context.CancelFunc
}

type memoryMessage struct {
	channel string
	payload []byte
}

// Active whether the subscription is still receiving messages
func (s *memorySubscription) Active() bool {
	return s.active.Load()
}

// Close terminate the subscription
func (s *memorySubscription) Close() error {
	s.active.Store(false)
	s.cancel()
	s.parent.dropSubscription(s)
	return nil
}

func (d *inMemoryDriver) dropSubscription(sub *memorySubscription) {
	d.lock.Lock()
	defer d.lock.Unlock()
	for channel := range sub.channels {
		remain := []*memorySubscription{}
		for _, candidate := range d.subscribers[channel] {
			if candidate != sub {
				remain = append(remain, candidate)
			}
		}
		d.subscribers[channel] = remain
	}
}

// Publish send payload on channel. Delivery is at-most-once; a subscriber
// whose queue is full misses the message.
func (d *inMemoryDriver) Publish(ctxt context.Context, channel string, payload []byte) error {
	d.lock.Lock()
	targets := make([]*memorySubscription, len(d.subscribers[channel]))
	copy(targets, d.subscribers[channel])
	d.lock.Unlock()
	for _, target := range targets {
		select {
		case target.queue <- memoryMessage{channel: channel, payload: payload}:
		default:
			log.WithFields(d.LogTags).Warnf("Subscriber queue full, dropped message on %s", channel)
		}
	}
	return nil
}

// Subscribe start receiving messages on the named channels
func (d *inMemoryDriver) Subscribe(
	ctxt context.Context, wg *sync.WaitGroup, handler MessageHandler, channels ...string,
) (Subscription, error) {
	subCtxt, cancel := context.WithCancel(ctxt)
	active := new(atomic.Bool)
	active.Store(true)
	sub := &memorySubscription{
		parent:   d,
		channels: make(map[string]bool, len(channels)),
		queue:    make(chan memoryMessage, 256),
		active:   active,
		cancel:   cancel,
	}
	d.lock.Lock()
	for _, channel := range channels {
		sub.channels[channel] = true
		d.subscribers[channel] = append(d.subscribers[channel], sub)
	}
	d.lock.Unlock()
	wg.Add(1)
	go func() {
		defer wg.Done()
		defer active.Store(false)
		for {
			select {
			case <-subCtxt.Done():
				return
			case msg := <-sub.queue:
				handler(subCtxt, msg.channel, msg.payload)
			}
		}
	}()
	log.WithFields(d.LogTags).Infof("Subscribed on %v", channels)
	return sub, nil
}
