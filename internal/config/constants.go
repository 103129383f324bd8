// Package config provides shared configuration constants for the ad bridge
package config

import "time"

// Server timeout defaults
const (
	// ServerReadTimeout is the maximum duration for reading the entire request
	ServerReadTimeout = 5 * time.Second

	// ServerWriteTimeout is zero because method calls such as load resolve
	// only when the ad source answers and SSE streams stay open
	ServerWriteTimeout = 0

	// ServerIdleTimeout is the maximum time to wait for the next request when keep-alives are enabled
	ServerIdleTimeout = 120 * time.Second

	// ShutdownTimeout is the maximum time to wait for graceful shutdown
	ShutdownTimeout = 30 * time.Second
)

// Channel defaults
const (
	// PluginChannel is the name of the top-level plugin channel
	PluginChannel = "admob"

	// DefaultCallTimeout bounds how long the HTTP transport waits for a
	// method call result. The call itself is never cancelled.
	DefaultCallTimeout = 60 * time.Second

	// MaxArgumentsSize is the maximum method call body size (1MB)
	MaxArgumentsSize = 1024 * 1024

	// EventSubscriberBuffer is the per-subscriber event queue length
	EventSubscriberBuffer = 64

	// LooperQueueSize is the owner loop's task queue length
	LooperQueueSize = 256
)

// Exchange defaults
const (
	// DefaultExchangeTimeout is the default timeout for one ad request
	DefaultExchangeTimeout = 3 * time.Second

	// ExchangeMaxResponseSize is the maximum bid response size (1MB)
	ExchangeMaxResponseSize = 1024 * 1024

	// ExchangeMaxConnsPerHost is the maximum connections per exchange host
	ExchangeMaxConnsPerHost = 100

	// ExchangeIdleConnTimeout is how long to keep idle exchange connections
	ExchangeIdleConnTimeout = 120 * time.Second

	// TrackerBufferSize is the tracker queue length before URLs are dropped
	TrackerBufferSize = 256
)

// Redis defaults
const (
	// RedisPoolSize is the default connection pool size
	RedisPoolSize = 20

	// RequestConfigKey is the hash holding the persisted request configuration
	RequestConfigKey = "adbridge:request_config"

	// EventChannelPrefix prefixes the pub/sub channel events are fanned out to
	EventChannelPrefix = "adbridge:events:"
)

// Auth defaults
const (
	// #nosec G101 -- Redis key name, not a credential
	APIKeysHash = "adbridge:api_keys"

	// AuthCacheTimeout is how long a validated API key is cached
	AuthCacheTimeout = 30 * time.Second

	// AuthNegativeCacheTimeout is how long an unknown API key is cached
	AuthNegativeCacheTimeout = 5 * time.Second
)
