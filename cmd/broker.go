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

package cmd

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/alwitt/wsbroker/apis"
	"github.com/alwitt/wsbroker/auth"
	"github.com/alwitt/wsbroker/broker"
	"github.com/alwitt/wsbroker/common"
	"github.com/alwitt/wsbroker/core"
	"github.com/alwitt/wsbroker/directory"
	"github.com/alwitt/wsbroker/storage"
	"github.com/alwitt/wsbroker/transport"
	"github.com/apex/log"
	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"
)

// envelopeBusOverride storage.Driver with the pub/sub capability rerouted to
// a dedicated bus while state operations stay on the base store
type envelopeBusOverride struct {
	storage.Driver
	bus storage.PubSub
}

func (d envelopeBusOverride) Publish(
	ctxt context.Context, channel string, payload []byte,
) error {
	return d.bus.Publish(ctxt, channel, payload)
}

func (d envelopeBusOverride) Subscribe(
	ctxt context.Context, wg *sync.WaitGroup, handler storage.MessageHandler, channels ...string,
) (storage.Subscription, error) {
	return d.bus.Subscribe(ctxt, wg, handler, channels...)
}

/*
RunBrokerServer run one broker node: the websocket accept endpoint, the REST
management surface, and the background maintenance loops

 @param runtimeContext context.Context - process runtime context
 @param config *common.SystemConfig - system configuration
 @param instance string - instance name of this process
 @param redisClient core.RedisClient - shared coordination store client
 @param natsClient *core.NatsClient - dedicated envelope bus client. Only
   needed when the envelope bus is "nats".
 @return whether successful
*/
func RunBrokerServer(
	runtimeContext context.Context,
	config *common.SystemConfig,
	instance string,
	redisClient core.RedisClient,
	natsClient *core.NatsClient,
) error {
	logTags := log.Fields{
		"module":    "cmd",
		"component": "broker-server",
		"instance":  instance,
	}

	wg := &sync.WaitGroup{}
	defer wg.Wait()

	store, err := storage.GetRedisDriver(redisClient, instance)
	if err != nil {
		log.WithError(err).WithFields(logTags).Error("Unable to define Redis storage driver")
		return err
	}

	// Envelope channels can ride a dedicated NATS bus while Redis keeps state
	bus := storage.PubSub(store)
	if config.Broker.EnvelopeBus == "nats" {
		if natsClient == nil {
			return fmt.Errorf("envelope bus is nats but no NATS client was given")
		}
		natsBus, err := storage.GetNatsPubSub(*natsClient, instance)
		if err != nil {
			log.WithError(err).WithFields(logTags).Error("Unable to define NATS pub/sub driver")
			return err
		}
		bus = natsBus
		store = envelopeBusOverride{Driver: store, bus: natsBus}
	}

	var validator auth.TokenValidator
	if config.Broker.TokenKeyPrefix != "" {
		validator, err = auth.GetStoreTokenValidator(store, config.Broker.TokenKeyPrefix, instance)
	} else {
		validator, err = auth.GetAllowAllValidator()
	}
	if err != nil {
		log.WithError(err).WithFields(logTags).Error("Unable to define token validator")
		return err
	}

	node, err := broker.GetBroker(runtimeContext, store, bus, validator, config.Broker)
	if err != nil {
		log.WithError(err).WithFields(logTags).Error("Unable to define broker node")
		return err
	}
	if err := node.Start(wg); err != nil {
		log.WithError(err).WithFields(logTags).Error("Unable to start broker node")
		return err
	}

	wsEndpoint, err := transport.DefineWebsocketEndpoint(
		runtimeContext, wg, node, validator, config.Websocket,
	)
	if err != nil {
		log.WithError(err).WithFields(logTags).Error("Unable to define websocket endpoint")
		return err
	}

	// Reconciliation and the REST online query read the same index
	index, err := directory.GetOnlineUserIndex(store, config.Broker.KeyPrefix, node.ID())
	if err != nil {
		log.WithError(err).WithFields(logTags).Error("Unable to define online user index")
		return err
	}

	httpHandler, err := apis.GetAPIRestBrokerHandler(node, index, &config.API.HTTPSetting)
	if err != nil {
		log.WithError(err).WithFields(logTags).Error("Unable to define HTTP handler")
		return err
	}

	// -------------------------------------------------------------------
	// Start the HTTP server

	router := mux.NewRouter()
	mainRouter := apis.RegisterPathPrefix(router, config.API.Endpoints.PathPrefix, nil)

	// Websocket accept endpoint
	mainRouter.PathPrefix(config.Websocket.Endpoint).Handler(wsEndpoint)

	// Message send routes
	sendAPIRouter := apis.RegisterPathPrefix(mainRouter, "/v1/send", nil)
	_ = apis.RegisterPathPrefix(sendAPIRouter, "/session/{sessionID}", map[string]http.HandlerFunc{
		"post": httpHandler.SendToSessionHandler(),
	})
	_ = apis.RegisterPathPrefix(sendAPIRouter, "/user/{userID}", map[string]http.HandlerFunc{
		"post": httpHandler.SendToUserHandler(),
	})
	_ = apis.RegisterPathPrefix(sendAPIRouter, "/all", map[string]http.HandlerFunc{
		"post": httpHandler.SendToAllHandler(),
	})
	_ = apis.RegisterPathPrefix(
		sendAPIRouter, "/group-session/{sessionID}", map[string]http.HandlerFunc{
			"post": httpHandler.SendToGroupSessionHandler(),
		},
	)
	_ = apis.RegisterPathPrefix(sendAPIRouter, "/group/{group}", map[string]http.HandlerFunc{
		"post": httpHandler.SendToGroupHandler(),
	})
	_ = apis.RegisterPathPrefix(sendAPIRouter, "/groups", map[string]http.HandlerFunc{
		"post": httpHandler.BroadcastGroupsHandler(),
	})

	// Group management routes
	_ = apis.RegisterPathPrefix(mainRouter, "/v1/group/{group}/close", map[string]http.HandlerFunc{
		"post": httpHandler.CloseGroupHandler(),
	})

	// Online index query
	_ = apis.RegisterPathPrefix(mainRouter, "/v1/online", map[string]http.HandlerFunc{
		"get": httpHandler.GetOnlineUsersHandler(),
	})

	// Health check
	_ = apis.RegisterPathPrefix(mainRouter, "/alive", map[string]http.HandlerFunc{
		"get": httpHandler.AliveHandler(),
	})
	_ = apis.RegisterPathPrefix(mainRouter, "/ready", map[string]http.HandlerFunc{
		"get": httpHandler.ReadyHandler(),
	})

	// Add logging
	router.Use(func(next http.Handler) http.Handler {
		return handlers.CombinedLoggingHandler(httpHandler, next)
	})

	serverListen := fmt.Sprintf(
		"%s:%d", config.API.HTTPSetting.Server.ListenOn, config.API.HTTPSetting.Server.Port,
	)
	httpSrv := &http.Server{
		Addr:         serverListen,
		WriteTimeout: time.Second * time.Duration(config.API.HTTPSetting.Server.WriteTimeout),
		ReadTimeout:  time.Second * time.Duration(config.API.HTTPSetting.Server.ReadTimeout),
		IdleTimeout:  time.Second * time.Duration(config.API.HTTPSetting.Server.IdleTimeout),
		Handler:      h2c.NewHandler(router, &http2.Server{}),
	}

	// Start the server
	go func() {
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.WithError(err).Error("HTTP Server Failure")
		}
	}()

	log.WithFields(logTags).Infof("Started HTTP server on http://%s", serverListen)

	// ============================================================================

	<-runtimeContext.Done()

	// Stop the HTTP server
	{
		ctx, cancel := context.WithTimeout(context.Background(), time.Second*10)
		defer cancel()
		if err := httpSrv.Shutdown(ctx); err != nil {
			log.WithError(err).Error("Failure during HTTP shutdown")
		}
	}

	// Leave the cluster cleanly
	{
		ctx, cancel := context.WithTimeout(context.Background(), time.Second*10)
		defer cancel()
		if err := node.Stop(ctx); err != nil {
			log.WithError(err).Error("Failure during broker shutdown")
		}
	}

	return nil
}
