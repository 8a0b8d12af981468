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

package common

import "github.com/spf13/viper"

// ===============================================================================
// Redis Related Config

// RedisConfig defines parameters for connecting to the shared Redis store
type RedisConfig struct {
	// ServerURI is the Redis connection URI
	ServerURI string `mapstructure:"server_uri" json:"server_uri" validate:"required,uri"`
	// ConnectTimeout is the max duration for connecting to Redis in seconds
	ConnectTimeout int `mapstructure:"connect_timeout_sec" json:"connect_timeout_sec" validate:"gte=1"`
	// OpTimeout bounds a single store round trip in seconds; store calls must
	// fail fast rather than block a periodic task indefinitely
	OpTimeout int `mapstructure:"op_timeout_sec" json:"op_timeout_sec" validate:"gte=1"`
}

// ===============================================================================
// NATS Related Config

// NATSReconnectConfig defines reconnect parameters
type NATSReconnectConfig struct {
	// MaxAttempts sets the max number of reconnect attempts (-1 is unlimited)
	MaxAttempts int `mapstructure:"max_attempts" json:"max_attempts" validate:"gte=-1"`
	// WaitInterval is the duration between reconnect attempts in seconds
	WaitInterval int `mapstructure:"wait_interval_sec" json:"wait_interval_sec" validate:"gte=1"`
}

// NATSConfig defines parameters for connecting to NATS server
type NATSConfig struct {
	// ServerURI is the NATS connection URI
	ServerURI string `mapstructure:"server_uri" json:"server_uri" validate:"required,uri"`
	// ConnectTimeout is the max duration for connecting to NATS server in seconds
	ConnectTimeout int `mapstructure:"connect_timeout_sec" json:"connect_timeout_sec" validate:"gte=1"`
	// Reconnect defines reconnect parameters
	Reconnect NATSReconnectConfig `mapstructure:"reconnect" json:"reconnect" validate:"required,dive"`
}

// ===============================================================================
// Broker Related Config

// BrokerConfig defines the broker node parameters
type BrokerConfig struct {
	// KeyPrefix is the namespace prefix of every directory / index / liveness key
	KeyPrefix string `mapstructure:"key_prefix" json:"key_prefix" validate:"required"`
	// SharedChannel is the pub/sub channel all brokers subscribe to. Each broker
	// additionally subscribes to a private channel named after its broker ID.
	SharedChannel string `mapstructure:"shared_channel" json:"shared_channel" validate:"required"`
	// HeartbeatInterval is the liveness refresh period in seconds
	HeartbeatInterval int `mapstructure:"heartbeat_interval_sec" json:"heartbeat_interval_sec" validate:"gte=1"`
	// HeartbeatTTL is the liveness marker TTL in seconds. Must exceed the
	// heartbeat interval so one missed tick does not mark a live broker dead.
	HeartbeatTTL int `mapstructure:"heartbeat_ttl_sec" json:"heartbeat_ttl_sec" validate:"gtfield=HeartbeatInterval"`
	// ReconcileInterval is the online-index full sweep period in seconds
	ReconcileInterval int `mapstructure:"reconcile_interval_sec" json:"reconcile_interval_sec" validate:"gte=1"`
	// ReconcilePageSize is the page size used when walking the online index
	ReconcilePageSize int `mapstructure:"reconcile_page_size" json:"reconcile_page_size" validate:"gte=1"`
	// CleanupLockTimeout bounds the wait on the disconnect-path lock in seconds
	CleanupLockTimeout int `mapstructure:"cleanup_lock_timeout_sec" json:"cleanup_lock_timeout_sec" validate:"gte=1"`
	// DeliveryQueueLen is the inbound envelope delivery queue depth
	DeliveryQueueLen int `mapstructure:"delivery_queue_len" json:"delivery_queue_len" validate:"gte=1"`
	// EnvelopeBus selects the pub/sub carrier of inter-broker envelopes
	EnvelopeBus string `mapstructure:"envelope_bus" json:"envelope_bus" validate:"oneof=redis nats"`
	// TokenKeyPrefix is the auth store key prefix consulted by reconciliation.
	// An empty value disables token re-validation.
	TokenKeyPrefix string `mapstructure:"token_key_prefix" json:"token_key_prefix"`
}

// ===============================================================================
// Websocket Related Config

// WebsocketConfig defines the client-facing websocket endpoint parameters
type WebsocketConfig struct {
	// Endpoint is the URI path serving websocket upgrades
	Endpoint string `mapstructure:"endpoint" json:"endpoint" validate:"required,startswith=/"`
	// ReadBufferSize is the upgrader read buffer size in bytes
	ReadBufferSize int `mapstructure:"read_buffer_size" json:"read_buffer_size" validate:"gte=0"`
	// WriteBufferSize is the upgrader write buffer size in bytes
	WriteBufferSize int `mapstructure:"write_buffer_size" json:"write_buffer_size" validate:"gte=0"`
	// PingInterval is the server-side keepalive ping period in seconds
	PingInterval int `mapstructure:"ping_interval_sec" json:"ping_interval_sec" validate:"gte=1"`
	// WriteTimeout bounds a single socket write in seconds
	WriteTimeout int `mapstructure:"write_timeout_sec" json:"write_timeout_sec" validate:"gte=1"`
}

// ===============================================================================
// HTTP Related Config

// HTTPServerConfig defines the HTTP server parameters
type HTTPServerConfig struct {
	// ListenOn is the interface the HTTP server will listen on
	ListenOn string `mapstructure:"listen_on" json:"listen_on" validate:"required,ip"`
	// Port is the port the HTTP server will listen on
	Port uint16 `mapstructure:"listen_port" json:"listen_port" validate:"required,gt=0,lt=65536"`
	// ReadTimeout is the maximum duration for reading the entire
	// request, including the body in seconds. A zero or negative
	// value means there will be no timeout.
	ReadTimeout int `mapstructure:"read_timeout_sec" json:"read_timeout_sec" validate:"gte=0"`
	// WriteTimeout is the maximum duration before timing out
	// writes of the response in seconds. A zero or negative value
	// means there will be no timeout.
	WriteTimeout int `mapstructure:"write_timeout_sec" json:"write_timeout_sec" validate:"gte=0"`
	// IdleTimeout is the maximum amount of time to wait for the
	// next request when keep-alives are enabled in seconds. If
	// IdleTimeout is zero, the value of ReadTimeout is used. If
	// both are zero, there is no timeout.
	IdleTimeout int `mapstructure:"idle_timeout_sec" json:"idle_timeout_sec" validate:"gte=0"`
}

// HTTPRequestLogging defines HTTP request logging parameters
type HTTPRequestLogging struct {
	// RequestIDHeader is the HTTP header containing the API request ID
	RequestIDHeader string `mapstructure:"request_id_header" json:"request_id_header"`
	// DoNotLogHeaders is the list of headers to not include in logging metadata
	DoNotLogHeaders []string `mapstructure:"do_not_log_headers" json:"do_not_log_headers"`
}

// HTTPConfig defines HTTP API / server parameters
type HTTPConfig struct {
	// Server defines HTTP server parameters
	Server HTTPServerConfig `mapstructure:"server_config" json:"server_config" validate:"required,dive"`
	// Logging defines operation logging parameters
	Logging HTTPRequestLogging `mapstructure:"logging_config" json:"logging_config" validate:"required,dive"`
}

// APIEndpointConfig defines API endpoint config
type APIEndpointConfig struct {
	// PathPrefix is the end-point path prefix for the APIs
	PathPrefix string `mapstructure:"path_prefix" json:"path_prefix" validate:"required"`
}

// APIServerConfig defines configuration for the broker API server
type APIServerConfig struct {
	// HTTPSetting is the HTTP API / server parameters for the API server
	HTTPSetting HTTPConfig `mapstructure:"api_server" json:"api_server" validate:"required,dive"`
	// Endpoints is the API endpoint config parameters for the API server
	Endpoints APIEndpointConfig `mapstructure:"endpoint_config" json:"endpoint_config" validate:"required,dive"`
}

// ===============================================================================
// Complete Config

// SystemConfig defines the complete system config of one broker instance
type SystemConfig struct {
	// Redis are the Redis related config parameters
	Redis RedisConfig `mapstructure:"redis" json:"redis" validate:"required,dive"`
	// NATS are the NATS related config parameters. Only needed when the
	// envelope bus is "nats".
	NATS *NATSConfig `mapstructure:"nats,omitempty" json:"nats,omitempty" validate:"omitempty,dive"`
	// Broker are the broker node configs
	Broker BrokerConfig `mapstructure:"broker" json:"broker" validate:"required,dive"`
	// Websocket are the client endpoint configs
	Websocket WebsocketConfig `mapstructure:"websocket" json:"websocket" validate:"required,dive"`
	// API are the broker API server configs
	API APIServerConfig `mapstructure:"api,omitempty" json:"api,omitempty" validate:"required,dive"`
}

// ===============================================================================

// InstallDefaultConfigValues installs default config parameters in viper
func InstallDefaultConfigValues() {
	// Default Redis settings
	viper.SetDefault("redis.server_uri", "redis://127.0.0.1:6379/0")
	viper.SetDefault("redis.connect_timeout_sec", 30)
	viper.SetDefault("redis.op_timeout_sec", 5)

	// Default broker settings
	viper.SetDefault("broker.key_prefix", "hzero:websocket")
	viper.SetDefault("broker.shared_channel", "hzero:websocket")
	viper.SetDefault("broker.heartbeat_interval_sec", 10)
	viper.SetDefault("broker.heartbeat_ttl_sec", 15)
	viper.SetDefault("broker.reconcile_interval_sec", 600)
	viper.SetDefault("broker.reconcile_page_size", 500)
	viper.SetDefault("broker.cleanup_lock_timeout_sec", 10)
	viper.SetDefault("broker.delivery_queue_len", 256)
	viper.SetDefault("broker.envelope_bus", "redis")
	viper.SetDefault("broker.token_key_prefix", "access_token:access:")

	// Default websocket settings
	viper.SetDefault("websocket.endpoint", "/ws")
	viper.SetDefault("websocket.read_buffer_size", 4096)
	viper.SetDefault("websocket.write_buffer_size", 4096)
	viper.SetDefault("websocket.ping_interval_sec", 30)
	viper.SetDefault("websocket.write_timeout_sec", 10)

	// Default API server settings
	viper.SetDefault("api.endpoint_config.path_prefix", "/")
	viper.SetDefault("api.api_server.server_config.listen_on", "0.0.0.0")
	viper.SetDefault("api.api_server.server_config.listen_port", 3000)
	viper.SetDefault("api.api_server.server_config.read_timeout_sec", 60)
	viper.SetDefault("api.api_server.server_config.write_timeout_sec", 60)
	viper.SetDefault("api.api_server.server_config.idle_timeout_sec", 600)
	viper.SetDefault(
		"api.api_server.logging_config.request_id_header", "Wsbroker-Request-ID",
	)
	viper.SetDefault(
		"api.api_server.logging_config.do_not_log_headers", []string{
			"WWW-Authenticate", "Authorization", "Proxy-Authenticate", "Proxy-Authorization",
		},
	)
}
