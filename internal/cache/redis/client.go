// Package redis implements the durable log and the small coordination
// primitives (cursors, claims, admission windows) on top of go-redis/v9.
package redis

import (
	"context"
	"crypto/tls"
	"fmt"
	"strings"

	"github.com/redis/go-redis/v9"
)

// ClientConfig holds connection parameters for the Redis client.
type ClientConfig struct {
	Addr       string
	Password   string
	DB         int
	PoolSize   int
	MaxRetries int
	TLSEnabled bool
	// Namespace prefixes every coordination key so several deployments can
	// share one Redis. Stream names are configured separately and are used
	// as given.
	Namespace string
	// Role names the process mode in CLIENT LIST.
	Role string
}

// Client owns the go-redis connection pool and the key namespace shared by
// the cursor, claim and admission stores.
type Client struct {
	rdb       *redis.Client
	namespace string
}

// Options translates cfg into go-redis options.
func Options(cfg ClientConfig) *redis.Options {
	opts := &redis.Options{
		Addr:       cfg.Addr,
		Password:   cfg.Password,
		DB:         cfg.DB,
		PoolSize:   cfg.PoolSize,
		MaxRetries: cfg.MaxRetries,
		ClientName: "dexrouter",
	}
	if cfg.Role != "" {
		opts.ClientName += "-" + cfg.Role
	}
	if cfg.TLSEnabled {
		opts.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}
	return opts
}

// New connects to Redis and pings it. It returns an error if the server is
// unreachable, so a mode never starts against a dead backend.
func New(ctx context.Context, cfg ClientConfig) (*Client, error) {
	rdb := redis.NewClient(Options(cfg))
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis: ping %s: %w", cfg.Addr, err)
	}
	return Wrap(rdb, cfg.Namespace), nil
}

// Wrap adapts an existing go-redis client, for tests and tools that manage
// their own connection.
func Wrap(rdb *redis.Client, namespace string) *Client {
	return &Client{rdb: rdb, namespace: strings.TrimSuffix(namespace, ":")}
}

// key joins parts under the client namespace.
func (c *Client) key(parts ...string) string {
	k := strings.Join(parts, ":")
	if c.namespace == "" {
		return k
	}
	return c.namespace + ":" + k
}

// Ping checks the connection. It doubles as the gateway health check.
func (c *Client) Ping(ctx context.Context) error {
	if err := c.rdb.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis: ping: %w", err)
	}
	return nil
}

// Close closes the connection pool.
func (c *Client) Close() error {
	return c.rdb.Close()
}
