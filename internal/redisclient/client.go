package redisclient

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// InFlight is stored under an idempotency key until the request that claimed it finishes.
const InFlight = "in-flight"

type Client struct {
	rdb *redis.Client
}

// NewClient creates a new Redis client and checks connectivity
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

// Wrap builds a Client around an existing connection.
func Wrap(rdb *redis.Client) *Client {
	return &Client{rdb: rdb}
}

// GetClient returns the underlying Redis client
func (c *Client) GetClient() *redis.Client {
	return c.rdb
}

// Close closes the Redis connection
func (c *Client) Close() error {
	return c.rdb.Close()
}

func idempotencyKey(key string) string { return fmt.Sprintf("idempotency:%s", key) }

func blacklistKey(userID int64) string { return fmt.Sprintf("blacklist:%d", userID) }

// ClaimIdempotencyKey marks key as in flight. It returns false when the key was
// already claimed or already holds a result.
func (c *Client) ClaimIdempotencyKey(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	return c.rdb.SetNX(ctx, idempotencyKey(key), InFlight, ttl).Result()
}

// StoreIdempotentResult replaces the in-flight marker with the final result
func (c *Client) StoreIdempotentResult(ctx context.Context, key, result string, ttl time.Duration) error {
	return c.rdb.Set(ctx, idempotencyKey(key), result, ttl).Err()
}

// GetIdempotentResult returns the value stored under key, if any
func (c *Client) GetIdempotentResult(ctx context.Context, key string) (string, bool, error) {
	val, err := c.rdb.Get(ctx, idempotencyKey(key)).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return val, true, nil
}

// ReleaseIdempotencyKey drops a claim so the client may retry a failed request
func (c *Client) ReleaseIdempotencyKey(ctx context.Context, key string) error {
	return c.rdb.Del(ctx, idempotencyKey(key)).Err()
}

// CacheBlacklistStatus records whether userID is blacklisted
func (c *Client) CacheBlacklistStatus(ctx context.Context, userID int64, blacklisted bool, ttl time.Duration) error {
	val := "0"
	if blacklisted {
		val = "1"
	}
	return c.rdb.Set(ctx, blacklistKey(userID), val, ttl).Err()
}

// BlacklistStatus reads the cached status. found is false on a cache miss.
func (c *Client) BlacklistStatus(ctx context.Context, userID int64) (blacklisted, found bool, err error) {
	val, err := c.rdb.Get(ctx, blacklistKey(userID)).Result()
	if errors.Is(err, redis.Nil) {
		return false, false, nil
	}
	if err != nil {
		return false, false, err
	}
	return val == "1", true, nil
}

// AcquireLock acquires a distributed lock
func (c *Client) AcquireLock(ctx context.Context, lockKey string, ttl time.Duration) (bool, error) {
	return c.rdb.SetNX(ctx, fmt.Sprintf("lock:%s", lockKey), "1", ttl).Result()
}

// ReleaseLock releases a distributed lock
func (c *Client) ReleaseLock(ctx context.Context, lockKey string) error {
	return c.rdb.Del(ctx, fmt.Sprintf("lock:%s", lockKey)).Err()
}
