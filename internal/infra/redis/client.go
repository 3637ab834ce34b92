package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Client wraps Redis operations for the failure ledger and the idempotency store.
type Client struct {
	rdb *redis.Client
}

// Config holds Redis connection configuration.
type Config struct {
	URL            string        `yaml:"url"`
	Password       string        `yaml:"password"`
	IdempotencyTTL time.Duration `yaml:"idempotency_ttl"`
	LedgerTTL      time.Duration `yaml:"ledger_ttl"`
}

// NewClient creates a new Redis client.
func NewClient(cfg Config) (*Client, error) {
	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis URL: %w", err)
	}
	if cfg.Password != "" {
		opts.Password = cfg.Password
	}

	rdb := redis.NewClient(opts)

	// Test connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return newClient(rdb), nil
}

func newClient(rdb *redis.Client) *Client {
	return &Client{rdb: rdb}
}

// Close closes the Redis connection.
func (c *Client) Close() error {
	return c.rdb.Close()
}

// Ping checks the connection.
func (c *Client) Ping(ctx context.Context) error {
	return c.rdb.Ping(ctx).Err()
}

// Key helpers
func doneKey(source, itemID string) string {
	return fmt.Sprintf("done:%s:%s", source, itemID)
}

// IsDone reports whether an item was marked done and the marker has not expired.
func (c *Client) IsDone(ctx context.Context, source, itemID string) (bool, error) {
	n, err := c.rdb.Exists(ctx, doneKey(source, itemID)).Result()
	if err != nil {
		return false, fmt.Errorf("exists failed: %w", err)
	}
	return n > 0, nil
}

// MarkDone records that an item was processed successfully.
func (c *Client) MarkDone(ctx context.Context, source, itemID string, ttl time.Duration) error {
	// First writer wins, a marker is never moved forward
	if err := c.rdb.SetNX(ctx, doneKey(source, itemID), time.Now().Unix(), ttl).Err(); err != nil {
		return fmt.Errorf("setnx failed: %w", err)
	}
	return nil
}
