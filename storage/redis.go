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
	"sync"
	"sync/atomic"
	"time"

	"github.com/alwitt/wsbroker/common"
	"github.com/alwitt/wsbroker/core"
	"github.com/apex/log"
	"github.com/redis/go-redis/v9"
)

// redisDriver implements Driver against a shared Redis store
type redisDriver struct {
	common.Component
	client *redis.Client
}

// GetRedisDriver define a Redis backed storage driver
func GetRedisDriver(redisClient core.RedisClient, instance string) (Driver, error) {
	logTags := log.Fields{
		"module": "storage", "component": "redis-driver", "instance": instance,
	}
	return &redisDriver{
		Component: common.Component{LogTags: logTags}, client: redisClient.Client(),
	}, nil
}

// =======================================================================
// KeyValue

// Set store value under key
func (d *redisDriver) Set(ctxt context.Context, key, value string, ttl time.Duration) error {
	return d.client.Set(ctxt, key, value, ttl).Err()
}

// Get fetch the value under key
func (d *redisDriver) Get(ctxt context.Context, key string) (string, error) {
	result, err := d.client.Get(ctxt, key).Result()
	if err == redis.Nil {
		return "", ErrKeyNotFound
	}
	return result, err
}

// Exists check whether key is present
func (d *redisDriver) Exists(ctxt context.Context, key string) (bool, error) {
	hits, err := d.client.Exists(ctxt, key).Result()
	return hits > 0, err
}

// Delete remove key
func (d *redisDriver) Delete(ctxt context.Context, key string) error {
	return d.client.Del(ctxt, key).Err()
}

// =======================================================================
// HashMap

// HashPut store value under (key, field)
func (d *redisDriver) HashPut(ctxt context.Context, key, field, value string) error {
	return d.client.HSet(ctxt, key, field, value).Err()
}

// HashGet fetch the value under (key, field)
func (d *redisDriver) HashGet(ctxt context.Context, key, field string) (string, error) {
	result, err := d.client.HGet(ctxt, key, field).Result()
	if err == redis.Nil {
		return "", ErrKeyNotFound
	}
	return result, err
}

// HashGetAll fetch every (field, value) pair under key
func (d *redisDriver) HashGetAll(ctxt context.Context, key string) (map[string]string, error) {
	return d.client.HGetAll(ctxt, key).Result()
}

// HashKeys list the fields under key
func (d *redisDriver) HashKeys(ctxt context.Context, key string) ([]string, error) {
	return d.client.HKeys(ctxt, key).Result()
}

// HashDelete remove fields from key
func (d *redisDriver) HashDelete(ctxt context.Context, key string, fields ...string) error {
	return d.client.HDel(ctxt, key, fields...).Err()
}

// =======================================================================
// SortedSet

// SortedAdd insert member with score into the set under key
func (d *redisDriver) SortedAdd(ctxt context.Context, key, member string, score float64) error {
	return d.client.ZAdd(ctxt, key, redis.Z{Score: score, Member: member}).Err()
}

// SortedRemove remove members by exact match
func (d *redisDriver) SortedRemove(ctxt context.Context, key string, members ...string) error {
	args := make([]interface{}, len(members))
	for idx, member := range members {
		args[idx] = member
	}
	return d.client.ZRem(ctxt, key, args...).Err()
}

// SortedRange fetch members by rank range
func (d *redisDriver) SortedRange(
	ctxt context.Context, key string, start, stop int64,
) ([]string, error) {
	return d.client.ZRange(ctxt, key, start, stop).Result()
}

// SortedCard fetch the set cardinality
func (d *redisDriver) SortedCard(ctxt context.Context, key string) (int64, error) {
	return d.client.ZCard(ctxt, key).Result()
}

// =======================================================================
// PubSub

// redisSubscription wraps one active Redis pub/sub subscription
type redisSubscription struct {
	pubsub *redis.PubSub
	active *atomic.Bool
}

// Active whether the subscription is still receiving messages
func (s *redisSubscription) Active() bool {
	return s.active.Load()
}

// Close terminate the subscription
func (s *redisSubscription) Close() error {
	s.active.Store(false)
	return s.pubsub.Close()
}

// Publish send payload on channel
func (d *redisDriver) Publish(ctxt context.Context, channel string, payload []byte) error {
	return d.client.Publish(ctxt, channel, payload).Err()
}

// Subscribe start receiving messages on the named channels
func (d *redisDriver) Subscribe(
	ctxt context.Context, wg *sync.WaitGroup, handler MessageHandler, channels ...string,
) (Subscription, error) {
	pubsub := d.client.Subscribe(ctxt, channels...)
	// Force the subscription onto the wire before reporting success
	if _, err := pubsub.Receive(ctxt); err != nil {
		log.WithError(err).WithFields(d.LogTags).Errorf("Unable to subscribe on %v", channels)
		_ = pubsub.Close()
		return nil, err
	}
	active := new(atomic.Bool)
	active.Store(true)
	wg.Add(1)
	go func() {
		defer wg.Done()
		defer active.Store(false)
		defer log.WithFields(d.LogTags).Infof("Subscription read loop on %v exiting", channels)
		msgChan := pubsub.Channel()
		for {
			select {
			case <-ctxt.Done():
				return
			case msg, ok := <-msgChan:
				if !ok {
					return
				}
				handler(ctxt, msg.Channel, []byte(msg.Payload))
			}
		}
	}()
	log.WithFields(d.LogTags).Infof("Subscribed on %v", channels)
	return &redisSubscription{pubsub: pubsub, active: active}, nil
}
