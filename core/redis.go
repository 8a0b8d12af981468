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

package core

import (
	"context"
	"time"

	"github.com/alwitt/wsbroker/common"
	"github.com/apex/log"
	"github.com/redis/go-redis/v9"
)

// RedisConnectParams Redis connection parameter
type RedisConnectParams struct {
	// ServerURI connect to the Redis store with URI
	ServerURI string `validate:"required,uri"`
	// ConnectTimeout max time to wait for connection
	ConnectTimeout time.Duration
	// OpTimeout max time for a single command round trip
	OpTimeout time.Duration
}

// RedisClient Redis client as shared coordination store core
type RedisClient struct {
	common.Component
	client *redis.Client
}

// Close close the Redis client
func (r RedisClient) Close(ctxt context.Context) {
	if err := r.client.Close(); err != nil {
		log.WithError(err).WithFields(r.LogTags).Errorf("Redis close failed")
	}
	log.WithFields(r.LogTags).Infof("Close Redis client")
}

// Client fetch the underlying Redis connection
func (r RedisClient) Client() *redis.Client {
	return r.client
}

// GetRedisClient define a new Redis store core
func GetRedisClient(param RedisConnectParams) (RedisClient, error) {
	logTags := log.Fields{
		"module":    "core",
		"component": "redis-backend",
		"instance":  param.ServerURI,
	}
	opts, err := redis.ParseURL(param.ServerURI)
	if err != nil {
		log.WithError(err).WithFields(logTags).Errorf("Invalid Redis URI")
		return RedisClient{}, err
	}
	opts.DialTimeout = param.ConnectTimeout
	opts.ReadTimeout = param.OpTimeout
	opts.WriteTimeout = param.OpTimeout
	client := redis.NewClient(opts)

	// Verify the store is reachable before handing the client out
	ctxt, cancel := context.WithTimeout(context.Background(), param.ConnectTimeout)
	defer cancel()
	if err := client.Ping(ctxt).Err(); err != nil {
		log.WithError(err).WithFields(logTags).Errorf("Redis client connect failed")
		return RedisClient{}, err
	}
	log.WithFields(logTags).Info("Created Redis client")

	return RedisClient{
		Component: common.Component{LogTags: logTags},
		client:    client,
	}, nil
}
