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

	"github.com/alwitt/wsbroker/common"
	"github.com/alwitt/wsbroker/core"
	"github.com/apex/log"
	"github.com/nats-io/nats.go"
)

// natsPubSub implements the PubSub capability over core NATS. Deployments can
// carry the inter-broker envelope channels on a dedicated bus while Redis
// keeps the directory state.
type natsPubSub struct {
	common.Component
	nc *nats.Conn
}

// GetNatsPubSub define a NATS backed pub/sub driver
func GetNatsPubSub(natsClient core.NatsClient, instance string) (PubSub, error) {
	logTags := log.Fields{
		"module": "storage", "component": "nats-pubsub", "instance": instance,
	}
	return &natsPubSub{
		Component: common.Component{LogTags: logTags}, nc: natsClient.NATS(),
	}, nil
}

// Publish send payload on channel
func (p *natsPubSub) Publish(ctxt context.Context, channel string, payload []byte) error {
	return p.nc.Publish(channel, payload)
}

// natsSubscription wraps the per-channel NATS subscriptions
type natsSubscription struct {
	subs   []*nats.Subscription
	cancel context.CancelFunc
}

// Active whether every underlying subscription is still valid
func (s *natsSubscription) Active() bool {
	for _, sub := range s.subs {
		if !sub.IsValid() {
			return false
		}
	}
	return len(s.subs) > 0
}

// Close terminate the subscriptions
func (s *natsSubscription) Close() error {
	s.cancel()
	var firstErr error
	for _, sub := range s.subs {
		if err := sub.Unsubscribe(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Subscribe start receiving messages on the named channels
func (p *natsPubSub) Subscribe(
	ctxt context.Context, wg *sync.WaitGroup, handler MessageHandler, channels ...string,
) (Subscription, error) {
	subCtxt, cancel := context.WithCancel(ctxt)
	result := &natsSubscription{subs: make([]*nats.Subscription, 0, len(channels)), cancel: cancel}
	for _, channel := range channels {
		// One serial dispatch queue per channel
		msgChan := make(chan *nats.Msg, 256)
		sub, err := p.nc.ChanSubscribe(channel, msgChan)
		if err != nil {
			log.WithError(err).WithFields(p.LogTags).Errorf("Unable to subscribe on %s", channel)
			_ = result.Close()
			return nil, err
		}
		result.subs = append(result.subs, sub)
		wg.Add(1)
		go func(channel string) {
			defer wg.Done()
			for {
				select {
				case <-subCtxt.Done():
					return
				case msg, ok := <-msgChan:
					if !ok {
						return
					}
					handler(subCtxt, channel, msg.Data)
				}
			}
		}(channel)
	}
	log.WithFields(p.LogTags).Infof("Subscribed on %v", channels)
	return result, nil
}
