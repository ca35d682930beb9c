// Package bus wraps the Redis connection used for pub/sub messaging and
// short-lived artifact storage.
package bus

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/rbright/relay/internal/config"
)

// ErrUnavailable reports that the initial bus connection could not be established.
var ErrUnavailable = errors.New("message bus unavailable")

// Options configures Dial.
type Options struct {
	Addr        string
	Username    string
	Password    string
	DB          int
	TLS         bool
	DialTimeout time.Duration
}

// OptionsFromConfig maps the bus config section onto dial options.
func OptionsFromConfig(cfg config.BusConfig) Options {
	return Options{
		Addr:        cfg.Addr,
		Username:    cfg.Username,
		Password:    cfg.Password,
		DB:          cfg.DB,
		TLS:         cfg.TLS,
		DialTimeout: cfg.DialTimeout(),
	}
}

// Client publishes to topics, subscribes to topics, and stores artifacts.
// It is safe for concurrent use.
type Client struct {
	rdb    *redis.Client
	logger *slog.Logger
}

// Dial connects to Redis and verifies the connection with PING.
func Dial(ctx context.Context, opts Options, logger *slog.Logger) (*Client, error) {
	if opts.DialTimeout <= 0 {
		opts.DialTimeout = 5 * time.Second
	}

	redisOpts := &redis.Options{
		Addr:        opts.Addr,
		Username:    opts.Username,
		Password:    opts.Password,
		DB:          opts.DB,
		DialTimeout: opts.DialTimeout,
	}
	if opts.TLS {
		redisOpts.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}

	rdb := redis.NewClient(redisOpts)

	pingCtx, cancel := context.WithTimeout(ctx, opts.DialTimeout)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("%w: ping %s: %v", ErrUnavailable, opts.Addr, err)
	}

	if logger != nil {
		logger.Debug("bus connected", "addr", opts.Addr, "db", opts.DB)
	}
	return &Client{rdb: rdb, logger: logger}, nil
}

// Ping round-trips the connection.
func (c *Client) Ping(ctx context.Context) error {
	return c.rdb.Ping(ctx).Err()
}

// Publish sends payload to topic. Delivery is fire-and-forget.
func (c *Client) Publish(ctx context.Context, topic string, payload string) error {
	if err := c.rdb.Publish(ctx, topic, payload).Err(); err != nil {
		return fmt.Errorf("publish %s: %w", topic, err)
	}
	return nil
}

// SetWithTTL stores value under key with an expiry.
func (c *Client) SetWithTTL(ctx context.Context, key string, value string, ttl time.Duration) error {
	if err := c.rdb.Set(ctx, key, value, ttl).Err(); err != nil {
		return fmt.Errorf("set %s: %w", key, err)
	}
	return nil
}

// Close releases the connection pool.
func (c *Client) Close() error {
	return c.rdb.Close()
}
