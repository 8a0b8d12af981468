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
	"context"
	"fmt"
	"reflect"
	"sync"

	"github.com/alwitt/wsbroker/common"
	"github.com/alwitt/wsbroker/directory"
	"github.com/alwitt/wsbroker/registry"
	"github.com/alwitt/wsbroker/storage"
	"github.com/apex/log"
)

// Listener inbound side of envelope dispatch. Subscribes to the shared
// broadcast channel and the broker's private channel, and delivers each
// received envelope to the local sessions it addresses.
type Listener interface {
	// Start subscribe to the envelope channels and begin processing
	Start(wg *sync.WaitGroup) error
	// SubscriptionActive whether the channel subscription is still live
	SubscriptionActive() bool
	// Restart tear down the current subscription and resubscribe
	Restart(wg *sync.WaitGroup) error
	// Stop end envelope processing
	Stop() error
}

// envelopeListenerImpl implements Listener
type envelopeListenerImpl struct {
	common.Component
	brokerID      string
	sharedChannel string
	table         registry.ConnectionTable
	userDir       directory.UserSessionDirectory
	groupDir      directory.GroupSessionDirectory
	bus           storage.PubSub
	tp            common.TaskProcessor
	rootCtxt      context.Context
	lock          *sync.Mutex
	sub           storage.Subscription
}

// envelopeDeliveryTask parameters of one envelope delivery pass
type envelopeDeliveryTask struct {
	envelope Envelope
	raw      []byte
}

/*
GetEnvelopeListener define a new envelope listener

 @param rootCtxt context.Context - lifetime context of the listener
 @param brokerID string - ID of the local broker
 @param sharedChannel string - pub/sub channel shared by all brokers
 @param table registry.ConnectionTable - local connection table
 @param userDir directory.UserSessionDirectory - shared user session directory
 @param groupDir directory.GroupSessionDirectory - shared group session directory
 @param bus storage.PubSub - pub/sub transport for envelopes
 @param taskQueueLen int - length of the pending delivery queue
 @return new Listener instance
*/
func GetEnvelopeListener(
	rootCtxt context.Context,
	brokerID string,
	sharedChannel string,
	table registry.ConnectionTable,
	userDir directory.UserSessionDirectory,
	groupDir directory.GroupSessionDirectory,
	bus storage.PubSub,
	taskQueueLen int,
) (Listener, error) {
	logTags := log.Fields{
		"module": "dispatch", "component": "envelope-listener", "instance": brokerID,
	}
	tp, err := common.GetNewTaskProcessorInstance("envelope-delivery", taskQueueLen)
	if err != nil {
		return nil, err
	}
	instance := &envelopeListenerImpl{
		Component:     common.Component{LogTags: logTags},
		brokerID:      brokerID,
		sharedChannel: sharedChannel,
		table:         table,
		userDir:       userDir,
		groupDir:      groupDir,
		bus:           bus,
		tp:            tp,
		rootCtxt:      rootCtxt,
		lock:          &sync.Mutex{},
	}
	if err := tp.SetTaskExecutionMap(map[reflect.Type]common.TaskHandler{
		reflect.TypeOf(envelopeDeliveryTask{}): instance.deliver,
	}); err != nil {
		return nil, err
	}
	return instance, nil
}

// Start subscribe to the envelope channels and begin processing
func (l *envelopeListenerImpl) Start(wg *sync.WaitGroup) error {
	l.lock.Lock()
	defer l.lock.Unlock()
	if err := l.tp.StartEventLoop(wg); err != nil {
		return err
	}
	return l.subscribe(wg)
}

// SubscriptionActive whether the channel subscription is still live
func (l *envelopeListenerImpl) SubscriptionActive() bool {
	l.lock.Lock()
	defer l.lock.Unlock()
	return l.sub != nil && l.sub.Active()
}

// Restart tear down the current subscription and resubscribe
func (l *envelopeListenerImpl) Restart(wg *sync.WaitGroup) error {
	l.lock.Lock()
	defer l.lock.Unlock()
	if l.sub != nil {
		if err := l.sub.Close(); err != nil {
			log.WithError(err).WithFields(l.LogTags).Error(
				"Failed to close stale envelope subscription",
			)
		}
		l.sub = nil
	}
	return l.subscribe(wg)
}

// Stop end envelope processing
func (l *envelopeListenerImpl) Stop() error {
	l.lock.Lock()
	defer l.lock.Unlock()
	if l.sub != nil {
		if err := l.sub.Close(); err != nil {
			log.WithError(err).WithFields(l.LogTags).Error(
				"Failed to close envelope subscription",
			)
		}
		l.sub = nil
	}
	return l.tp.StopEventLoop()
}

// subscribe open the channel subscription. Caller must hold the lock.
func (l *envelopeListenerImpl) subscribe(wg *sync.WaitGroup) error {
	sub, err := l.bus.Subscribe(
		l.rootCtxt, wg, l.receive, l.sharedChannel, l.brokerID,
	)
	if err != nil {
		log.WithError(err).WithFields(l.LogTags).Errorf(
			"Unable to subscribe on [%s, %s]", l.sharedChannel, l.brokerID,
		)
		return err
	}
	l.sub = sub
	log.WithFields(l.LogTags).Infof("Subscribed on [%s, %s]", l.sharedChannel, l.brokerID)
	return nil
}

// receive pub/sub callback. Parses the envelope, drops self-originated
// traffic, and queues the delivery pass.
func (l *envelopeListenerImpl) receive(ctxt context.Context, channel string, payload []byte) {
	envelope, err := ParseEnvelope(payload)
	if err != nil {
		log.WithError(err).WithFields(l.LogTags).Errorf(
			"Discarding malformed envelope on %s", channel,
		)
		return
	}
	// Broadcast channel echoes the broker's own publishes; local delivery
	// already happened on the outbound path.
	if envelope.BrokerID == l.brokerID {
		log.WithFields(l.LogTags).Debugf("Skipping own %s", envelope)
		return
	}
	if err := l.tp.Submit(envelopeDeliveryTask{envelope: envelope, raw: payload}, ctxt); err != nil {
		log.WithError(err).WithFields(l.LogTags).Errorf("Unable to queue %s", envelope)
	}
}

// deliver process one queued envelope
func (l *envelopeListenerImpl) deliver(param interface{}) error {
	task, ok := param.(envelopeDeliveryTask)
	if !ok {
		return fmt.Errorf("received unexpected task param of type %s", reflect.TypeOf(param))
	}
	envelope := task.envelope
	log.WithFields(l.LogTags).Debugf("Delivering %s", envelope)
	switch envelope.Type {
	case SendTypeSession:
		if conn, ok := l.table.UserSession(envelope.SessionID); ok {
			_ = deliverPayload(l.LogTags, conn, envelope.SessionID, envelope, task.raw)
		}
	case SendTypeUser:
		records, err := l.userDir.List(l.rootCtxt, l.brokerID, envelope.UserID)
		if err != nil {
			log.WithError(err).WithFields(l.LogTags).Errorf(
				"Unable to list local sessions of user %d", envelope.UserID,
			)
			return err
		}
		l.deliverUserRecords(records, envelope, task.raw)
	case SendTypeAll:
		records, err := l.userDir.ListAll(l.rootCtxt, l.brokerID)
		if err != nil {
			log.WithError(err).WithFields(l.LogTags).Error(
				"Unable to list local user sessions",
			)
			return err
		}
		l.deliverUserRecords(records, envelope, task.raw)
	case SendTypeGroupSession:
		if conn, ok := l.table.GroupSession(envelope.SessionID); ok {
			_ = deliverPayload(l.LogTags, conn, envelope.SessionID, envelope, task.raw)
		}
	case SendTypeGroup:
		records, err := l.groupDir.List(l.rootCtxt, l.brokerID, envelope.Group)
		if err != nil {
			log.WithError(err).WithFields(l.LogTags).Errorf(
				"Unable to list local sessions of group %s", envelope.Group,
			)
			return err
		}
		l.deliverClientRecords(records, envelope, task.raw)
	case SendTypeGroupAll:
		records, err := l.groupDir.ListAll(l.rootCtxt, l.brokerID)
		if err != nil {
			log.WithError(err).WithFields(l.LogTags).Error(
				"Unable to list local group sessions",
			)
			return err
		}
		l.deliverClientRecords(records, envelope, task.raw)
	case SendTypeClose:
		records, err := l.groupDir.List(l.rootCtxt, l.brokerID, envelope.Group)
		if err != nil {
			log.WithError(err).WithFields(l.LogTags).Errorf(
				"Unable to list local sessions of group %s", envelope.Group,
			)
			return err
		}
		for _, record := range records {
			if conn, ok := l.table.GroupSession(record.SessionID); ok {
				if err := conn.Close(); err != nil {
					log.WithError(err).WithFields(l.LogTags).Errorf(
						"Failed to close session %s", record.SessionID,
					)
				}
			}
		}
	default:
		log.WithFields(l.LogTags).Errorf("Discarding %s: unknown type", envelope)
	}
	return nil
}

// deliverUserRecords fan a payload out to locally owned user sessions
func (l *envelopeListenerImpl) deliverUserRecords(
	records []directory.UserRecord, envelope Envelope, raw []byte,
) {
	for _, record := range records {
		if conn, ok := l.table.UserSession(record.SessionID); ok {
			_ = deliverPayload(l.LogTags, conn, record.SessionID, envelope, raw)
		}
	}
}

// deliverClientRecords fan a payload out to locally owned group sessions
func (l *envelopeListenerImpl) deliverClientRecords(
	records []directory.ClientRecord, envelope Envelope, raw []byte,
) {
	for _, record := range records {
		if conn, ok := l.table.GroupSession(record.SessionID); ok {
			_ = deliverPayload(l.LogTags, conn, record.SessionID, envelope, raw)
		}
	}
}
