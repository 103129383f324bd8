// Package redis provides the Redis client used for configuration
// persistence and event fan-out
package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

// Client is the bridge's view of a Redis connection pool: request
// configuration hashes, API key lookup and controller event channels
type Client struct {
	rdb  *redis.Client
	addr string
}

// Option adjusts the connection options parsed from the URL
type Option func(*redis.Options)

// WithPoolSize sets the pool size and the idle connections kept warm
func WithPoolSize(size, idle int) Option {
	return func(o *redis.Options) {
		o.PoolSize = size
		o.MinIdleConns = idle
	}
}

// WithTimeouts sets the dial timeout and the read/write timeout
func WithTimeouts(dial, io time.Duration) Option {
	return func(o *redis.Options) {
		o.DialTimeout = dial
		o.ReadTimeout = io
		o.WriteTimeout = io
	}
}

// New parses redisURL and opens a pool. A failed first ping is logged, not
// returned; commands reconnect on their own.
func New(redisURL string, opts ...Option) (*Client, error) {
	if redisURL == "" {
		return nil, errors.New("redis URL is empty")
	}
	ro, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis URL: %w", err)
	}

	ro.PoolSize = 20
	ro.MinIdleConns = 2
	ro.ConnMaxLifetime = 30 * time.Minute
	WithTimeouts(5*time.Second, 3*time.Second)(ro)
	for _, opt := range opts {
		opt(ro)
	}

	c := &Client{rdb: redis.NewClient(ro), addr: ro.Addr}

	ctx, cancel := context.WithTimeout(context.Background(), ro.DialTimeout)
	defer cancel()
	if err := c.Ping(ctx); err != nil {
		log.Warn().Err(err).Str("address", c.addr).Msg("Redis not reachable yet")
	} else {
		log.Info().Str("address", c.addr).Int("pool_size", ro.PoolSize).Msg("Redis connected")
	}
	return c, nil
}

// Addr is the host:port the pool dials
func (c *Client) Addr() string { return c.addr }

// HGet reads one hash field; a missing key or field reads as ""
func (c *Client) HGet(ctx context.Context, key, field string) (string, error) {
	v, err := c.rdb.HGet(ctx, key, field).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	return v, err
}

// HGetAll reads a whole hash; a missing key reads as an empty map
func (c *Client) HGetAll(ctx context.Context, key string) (map[string]string, error) {
	return c.rdb.HGetAll(ctx, key).Result()
}

// HSetAll writes fields into a hash in one command
func (c *Client) HSetAll(ctx context.Context, key string, fields map[string]interface{}) error {
	if len(fields) == 0 {
		return nil
	}
	return c.rdb.HSet(ctx, key, fields).Err()
}

func (c *Client) Publish(ctx context.Context, channel string, message interface{}) error {
	return c.rdb.Publish(ctx, channel, message).Err()
}

// Subscribe opens a pub/sub subscription; the caller closes it
func (c *Client) Subscribe(ctx context.Context, channels ...string) *redis.PubSub {
	return c.rdb.Subscribe(ctx, channels...)
}

func (c *Client) Ping(ctx context.Context) error {
	return c.rdb.Ping(ctx).Err()
}

func (c *Client) Close() error {
	return c.rdb.Close()
}
