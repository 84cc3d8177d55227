package redisclient

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

type Client struct {
	rdb *redis.Client
}

// NewClient creates a new Redis client and checks connectivity.
func NewClient(addr, password string, db int) (*Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	return &Client{rdb: rdb}, nil
}

// Close closes the Redis connection
func (c *Client) Close() error {
	return c.rdb.Close()
}

// Ping checks Redis reachability for readiness probes.
func (c *Client) Ping(ctx context.Context) error {
	return c.rdb.Ping(ctx).Err()
}

func idempotencyKey(tenantID, key string) string {
	return fmt.Sprintf("idempotency:%s:%s", tenantID, key)
}

// GetSaleID returns the sale that answered an idempotency key, or "" when
// the key is unknown.
func (c *Client) GetSaleID(ctx context.Context, tenantID, key string) (string, error) {
	saleID, err := c.rdb.Get(ctx, idempotencyKey(tenantID, key)).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return saleID, nil
}

// SetSaleID remembers the sale for an idempotency key until ttl expires.
func (c *Client) SetSaleID(ctx context.Context, tenantID, key, saleID string, ttl time.Duration) error {
	return c.rdb.Set(ctx, idempotencyKey(tenantID, key), saleID, ttl).Err()
}
