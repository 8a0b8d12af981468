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

	"github.com/alwitt/wsbroker/common"
	"github.com/alwitt/wsbroker/directory"
	"github.com/alwitt/wsbroker/registry"
	"github.com/alwitt/wsbroker/storage"
	"github.com/apex/log"
)

// Router outbound message routing. Resolves which brokers own the targeted
// sessions and either delivers locally or relays an envelope over pub/sub.
type Router interface {
	// SendToSession send to one user-owned session by ID
	SendToSession(ctxt context.Context, sessionID string, data []byte) error
	// SendToUser send to every session of a user, on every broker
	SendToUser(ctxt context.Context, userID int64, data []byte) error
	// SendToAll send to every user-owned session in the cluster
	SendToAll(ctxt context.Context, data []byte) error
	// SendToGroupSession send to one group-owned session by ID
	SendToGroupSession(ctxt context.Context, sessionID string, data []byte) error
	// SendToGroup send to every session of a group, on every broker
	SendToGroup(ctxt context.Context, group string, data []byte) error
	// BroadcastGroups send to every group-owned session in the cluster
	BroadcastGroups(ctxt context.Context, data []byte) error
	// CloseGroup force-close every session of a group, on every broker
	CloseGroup(ctxt context.Context, group string) error
}

// envelopeRouterImpl implements Router
type envelopeRouterImpl struct {
	common.Component
	brokerID      string
	sharedChannel string
	table         registry.ConnectionTable
	userDir       directory.UserSessionDirectory
	groupDir      directory.GroupSessionDirectory
	liveness      directory.BrokerLivenessRegistry
	bus           storage.PubSub
}

/*
GetEnvelopeRouter define a new envelope router

 @param brokerID string - ID of the local broker
 @param sharedChannel string - pub/sub channel shared by all brokers
 @param table registry.ConnectionTable - local connection table
 @param userDir directory.UserSessionDirectory - shared user session directory
 @param groupDir directory.GroupSessionDirectory - shared group session directory
 @param liveness directory.BrokerLivenessRegistry - broker roster and liveness
 @param bus storage.PubSub - pub/sub transport for envelopes
 @return new Router instance
*/
func GetEnvelopeRouter(
	brokerID string,
	sharedChannel string,
	table registry.ConnectionTable,
	userDir directory.UserSessionDirectory,
	groupDir directory.GroupSessionDirectory,
	liveness directory.BrokerLivenessRegistry,
	bus storage.PubSub,
) (Router, error) {
	logTags := log.Fields{
		"module": "dispatch", "component": "envelope-router", "instance": brokerID,
	}
	return &envelopeRouterImpl{
		Component:     common.Component{LogTags: logTags},
		brokerID:      brokerID,
		sharedChannel: sharedChannel,
		table:         table,
		userDir:       userDir,
		groupDir:      groupDir,
		liveness:      liveness,
		bus:           bus,
	}, nil
}

// publish serialize an envelope and publish it on a channel
func (r *envelopeRouterImpl) publish(
	ctxt context.Context, channel string, envelope Envelope,
) error {
	serialized, err := envelope.Serialize()
	if err != nil {
		log.WithError(err).WithFields(r.LogTags).Errorf("Unable to serialize %s", envelope)
		return err
	}
	if err := r.bus.Publish(ctxt, channel, serialized); err != nil {
		log.WithError(err).WithFields(r.LogTags).Errorf(
			"Failed to publish %s on %s", envelope, channel,
		)
		return err
	}
	return nil
}

// SendToSession send to one user-owned session by ID
func (r *envelopeRouterImpl) SendToSession(
	ctxt context.Context, sessionID string, data []byte,
) error {
	// Local hit delivers directly without touching the bus
	if conn, ok := r.table.UserSession(sessionID); ok {
		return deliverPayload(r.LogTags, conn, sessionID, Envelope{Data: data}, nil)
	}
	return r.publish(ctxt, r.sharedChannel, Envelope{
		BrokerID: r.brokerID, Type: SendTypeSession, SessionID: sessionID, Data: data,
	})
}

// SendToUser send to every session of a user, on every broker
func (r *envelopeRouterImpl) SendToUser(ctxt context.Context, userID int64, data []byte) error {
	brokers, err := r.liveness.List(ctxt)
	if err != nil {
		log.WithError(err).WithFields(r.LogTags).Error("Unable to list broker roster")
		return err
	}
	var firstErr error
	for _, broker := range brokers {
		sessions, err := r.userDir.List(ctxt, broker, userID)
		if err != nil {
			log.WithError(err).WithFields(r.LogTags).Errorf(
				"Unable to list sessions of user %d on broker %s", userID, broker,
			)
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		if len(sessions) == 0 {
			continue
		}
		if broker == r.brokerID {
			for _, record := range sessions {
				if conn, ok := r.table.UserSession(record.SessionID); ok {
					_ = deliverPayload(
						r.LogTags, conn, record.SessionID, Envelope{Data: data}, nil,
					)
				}
			}
			continue
		}
		// Relay over the owning broker's private channel
		if err := r.publish(ctxt, broker, Envelope{
			BrokerID: r.brokerID, Type: SendTypeUser, UserID: userID, Data: data,
		}); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// SendToAll send to every user-owned session in the cluster
func (r *envelopeRouterImpl) SendToAll(ctxt context.Context, data []byte) error {
	r.deliverLocalUsers(ctxt, data)
	return r.publish(ctxt, r.sharedChannel, Envelope{
		BrokerID: r.brokerID, Type: SendTypeAll, Data: data,
	})
}

// SendToGroupSession send to one group-owned session by ID
func (r *envelopeRouterImpl) SendToGroupSession(
	ctxt context.Context, sessionID string, data []byte,
) error {
	if conn, ok := r.table.GroupSession(sessionID); ok {
		return deliverPayload(r.LogTags, conn, sessionID, Envelope{Data: data}, nil)
	}
	return r.publish(ctxt, r.sharedChannel, Envelope{
		BrokerID: r.brokerID, Type: SendTypeGroupSession, SessionID: sessionID, Data: data,
	})
}

// SendToGroup send to every session of a group, on every broker
func (r *envelopeRouterImpl) SendToGroup(ctxt context.Context, group string, data []byte) error {
	brokers, err := r.liveness.List(ctxt)
	if err != nil {
		log.WithError(err).WithFields(r.LogTags).Error("Unable to list broker roster")
		return err
	}
	var firstErr error
	for _, broker := range brokers {
		sessions, err := r.groupDir.List(ctxt, broker, group)
		if err != nil {
			log.WithError(err).WithFields(r.LogTags).Errorf(
				"Unable to list sessions of group %s on broker %s", group, broker,
			)
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		if len(sessions) == 0 {
			continue
		}
		if broker == r.brokerID {
			for _, record := range sessions {
				if conn, ok := r.table.GroupSession(record.SessionID); ok {
					_ = deliverPayload(
						r.LogTags, conn, record.SessionID, Envelope{Data: data}, nil,
					)
				}
			}
			continue
		}
		if err := r.publish(ctxt, broker, Envelope{
			BrokerID: r.brokerID, Type: SendTypeGroup, Group: group, Data: data,
		}); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// BroadcastGroups send to every group-owned session in the cluster
func (r *envelopeRouterImpl) BroadcastGroups(ctxt context.Context, data []byte) error {
	r.deliverLocalGroups(ctxt, data)
	return r.publish(ctxt, r.sharedChannel, Envelope{
		BrokerID: r.brokerID, Type: SendTypeGroupAll, Data: data,
	})
}

// CloseGroup force-close every session of a group, on every broker
func (r *envelopeRouterImpl) CloseGroup(ctxt context.Context, group string) error {
	sessions, err := r.groupDir.List(ctxt, r.brokerID, group)
	if err != nil {
		log.WithError(err).WithFields(r.LogTags).Errorf(
			"Unable to list local sessions of group %s", group,
		)
	} else {
		for _, record := range sessions {
			if conn, ok := r.table.GroupSession(record.SessionID); ok {
				if err := conn.Close(); err != nil {
					log.WithError(err).WithFields(r.LogTags).Errorf(
						"Failed to close session %s", record.SessionID,
					)
				}
			}
		}
	}
	return r.publish(ctxt, r.sharedChannel, Envelope{
		BrokerID: r.brokerID, Type: SendTypeClose, Group: group,
	})
}

// deliverLocalUsers write a payload to all locally owned user sessions
func (r *envelopeRouterImpl) deliverLocalUsers(ctxt context.Context, data []byte) {
	sessions, err := r.userDir.ListAll(ctxt, r.brokerID)
	if err != nil {
		log.WithError(err).WithFields(r.LogTags).Error("Unable to list local user sessions")
		return
	}
	for _, record := range sessions {
		if conn, ok := r.table.UserSession(record.SessionID); ok {
			_ = deliverPayload(r.LogTags, conn, record.SessionID, Envelope{Data: data}, nil)
		}
	}
}

// deliverLocalGroups write a payload to all locally owned group sessions
func (r *envelopeRouterImpl) deliverLocalGroups(ctxt context.Context, data []byte) {
	sessions, err := r.groupDir.ListAll(ctxt, r.brokerID)
	if err != nil {
		log.WithError(err).WithFields(r.LogTags).Error("Unable to list local group sessions")
		return
	}
	for _, record := range sessions {
		if conn, ok := r.table.GroupSession(record.SessionID); ok {
			_ = deliverPayload(r.LogTags, conn, record.SessionID, Envelope{Data: data}, nil)
		}
	}
}

// deliverPayload write one envelope's payload to one connection. A payload in
// the data field is written as a binary frame; otherwise the raw envelope text
// is written as a text frame. Delivery failures are logged and returned but
// must never abort a fan-out loop.
func deliverPayload(
	logTags log.Fields,
	conn registry.Connection,
	sessionID string,
	envelope Envelope,
	raw []byte,
) error {
	var err error
	if len(envelope.Data) > 0 {
		err = conn.SendBinary(envelope.Data)
	} else if len(raw) > 0 {
		err = conn.SendText(string(raw))
	} else {
		err = fmt.Errorf("envelope carries no payload")
	}
	if err != nil {
		log.WithError(err).WithFields(logTags).Errorf(
			"Failed to deliver to session %s", sessionID,
		)
	}
	return err
}
