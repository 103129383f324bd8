// Package middleware provides HTTP middleware for the bridge
package middleware

import (
	"context"
	"crypto/subtle"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/thenexusengine/tne_adbridge/internal/config"
)

// ClientIDHeader carries the authenticated client downstream
const ClientIDHeader = "X-Client-ID"

// RedisClient looks up API keys in the config.APIKeysHash hash
type RedisClient interface {
	HGet(ctx context.Context, key, field string) (string, error)
}

// AuthConfig holds authentication configuration
type AuthConfig struct {
	Enabled     bool
	APIKeys     map[string]string // key -> client ID, checked after Redis
	HeaderName  string            // default X-API-Key
	QueryParam  string            // accepted on event streams only
	BypassPaths []string          // path prefixes served without a key
	UseRedis    bool
}

// DefaultAuthConfig reads AUTH_ENABLED, API_KEYS and AUTH_USE_REDIS
func DefaultAuthConfig() *AuthConfig {
	return &AuthConfig{
		Enabled:     os.Getenv("AUTH_ENABLED") == "true",
		APIKeys:     parseAPIKeys(os.Getenv("API_KEYS")),
		HeaderName:  "X-API-Key",
		QueryParam:  "api_key",
		BypassPaths: []string{"/health", "/metrics"},
		UseRedis:    os.Getenv("REDIS_URL") != "" && os.Getenv("AUTH_USE_REDIS") != "false",
	}
}

// parseAPIKeys reads "key1:client1,key2:client2"; a key without a client
// maps to "default"
func parseAPIKeys(list string) map[string]string {
	keys := make(map[string]string)
	for _, entry := range strings.Split(list, ",") {
		key, client, found := strings.Cut(strings.TrimSpace(entry), ":")
		key = strings.TrimSpace(key)
		if key == "" {
			continue
		}
		if !found {
			client = "default"
		}
		keys[key] = strings.TrimSpace(client)
	}
	return keys
}

// AuthMetrics defines the metrics interface for auth middleware
type AuthMetrics interface {
	IncAuthFailures()
}

// keyCache remembers lookups; a rejected key is stored as "" for a
// shorter time
type keyCache struct {
	mu      sync.RWMutex
	entries map[string]keyEntry
}

type keyEntry struct {
	clientID string
	expires  time.Time
}

func (c *keyCache) get(key string, now time.Time) (string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.entries[key]
	if !ok || now.After(e.expires) {
		return "", false
	}
	return e.clientID, true
}

func (c *keyCache) put(key, clientID string, now time.Time) {
	ttl := config.AuthCacheTimeout
	if clientID == "" {
		ttl = config.AuthNegativeCacheTimeout
	}
	c.mu.Lock()
	c.entries[key] = keyEntry{clientID: clientID, expires: now.Add(ttl)}
	c.mu.Unlock()
}

func (c *keyCache) reset() {
	c.mu.Lock()
	c.entries = make(map[string]keyEntry)
	c.mu.Unlock()
}

// Auth checks API keys on every request outside BypassPaths and forwards
// the client ID in ClientIDHeader
type Auth struct {
	config  *AuthConfig
	redis   RedisClient
	metrics AuthMetrics
	cache   keyCache
}

// NewAuth creates a new Auth middleware. redisClient and metrics may be nil.
func NewAuth(cfg *AuthConfig, redisClient RedisClient, metrics AuthMetrics) *Auth {
	if cfg == nil {
		cfg = DefaultAuthConfig()
	}
	a := &Auth{config: cfg, redis: redisClient, metrics: metrics}
	a.cache.reset()
	return a
}

// Middleware returns the authentication middleware handler
func (a *Auth) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !a.config.Enabled || a.bypassed(r.URL.Path) {
			next.ServeHTTP(w, r)
			return
		}

		key := a.keyFrom(r)
		if key == "" {
			a.reject(w, http.StatusUnauthorized, "missing API key")
			return
		}
		clientID := a.lookup(r.Context(), key)
		if clientID == "" {
			a.reject(w, http.StatusForbidden, "invalid API key")
			return
		}

		r.Header.Set(ClientIDHeader, clientID)
		next.ServeHTTP(w, r)
	})
}

func (a *Auth) bypassed(path string) bool {
	for _, prefix := range a.config.BypassPaths {
		if strings.HasPrefix(path, prefix) {
			return true
		}
	}
	return false
}

// keyFrom reads the configured header, then a bearer token. Event streams
// may pass the key as a query parameter since EventSource cannot set headers.
func (a *Auth) keyFrom(r *http.Request) string {
	if key := r.Header.Get(a.config.HeaderName); key != "" {
		return key
	}
	if token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer "); ok && token != "" {
		return token
	}
	if a.config.QueryParam != "" && strings.HasSuffix(r.URL.Path, "/events") {
		return r.URL.Query().Get(a.config.QueryParam)
	}
	return ""
}

// lookup returns the client ID for key, or "" when the key is unknown
func (a *Auth) lookup(ctx context.Context, key string) string {
	now := time.Now()
	if clientID, ok := a.cache.get(key, now); ok {
		return clientID
	}

	clientID := a.lookupRedis(ctx, key)
	if clientID == "" {
		for known, id := range a.config.APIKeys {
			if subtle.ConstantTimeCompare([]byte(key), []byte(known)) == 1 {
				clientID = id
				break
			}
		}
	}
	a.cache.put(key, clientID, now)
	return clientID
}

func (a *Auth) lookupRedis(ctx context.Context, key string) string {
	if !a.config.UseRedis || a.redis == nil {
		return ""
	}
	clientID, err := a.redis.HGet(ctx, config.APIKeysHash, key)
	if err != nil {
		log.Debug().Err(err).Msg("Redis API key lookup failed, using local keys")
		return ""
	}
	return clientID
}

func (a *Auth) reject(w http.ResponseWriter, status int, msg string) {
	if a.metrics != nil {
		a.metrics.IncAuthFailures()
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write([]byte(`{"error":"` + msg + `"}`))
}

// ClearCache forgets every cached lookup
func (a *Auth) ClearCache() {
	a.cache.reset()
}

func (a *Auth) IsEnabled() bool {
	return a.config.Enabled
}
