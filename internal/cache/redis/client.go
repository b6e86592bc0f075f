// Package redis implements the domain cache interfaces using go-redis/v9:
// the market snapshot cache, the event signal bus, the leader lock, and the
// API rate limiter.
package redis

import (
	"context"
	"crypto/tls"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// pingTimeout bounds the connectivity probe in New and Ping.
const pingTimeout = 5 * time.Second

// ClientConfig holds connection parameters for the Redis client.
type ClientConfig struct {
	Addr       string
	Password   string
	DB         int
	PoolSize   int
	MaxRetries int
	TLSEnabled bool
}

func (cfg ClientConfig) options() *redis.Options {
	opts := &redis.Options{
		Addr:       cfg.Addr,
		Password:   cfg.Password,
		DB:         cfg.DB,
		PoolSize:   cfg.PoolSize,
		MaxRetries: cfg.MaxRetries,
	}
	if cfg.TLSEnabled {
		opts.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}
	return opts
}

// Client wraps a go-redis Client shared by the cache, bus, lock, and limiter
// helpers in this package.
type Client struct {
	rdb *redis.Client
}

// New creates a Client and verifies connectivity with a bounded ping.
func New(ctx context.Context, cfg ClientConfig) (*Client, error) {
	c := &Client{rdb: redis.NewClient(cfg.options())}
	if err := c.Ping(ctx); err != nil {
		_ = c.rdb.Close()
		return nil, err
	}
	return c, nil
}

// Ping checks the Redis connection.
func (c *Client) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	if err := c.rdb.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis: ping: %w", err)
	}
	return nil
}

// Close closes the Redis connection.
func (c *Client) Close() error {
	return c.rdb.Close()
}

// Underlying returns the raw *redis.Client for helpers that need direct
// access to the driver.
func (c *Client) Underlying() *redis.Client {
	return c.rdb
}
