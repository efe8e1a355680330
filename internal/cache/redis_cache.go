package cache

import (
	"context"
	"errors"
	"time"

	"github.com/go-redis/redis/v8"
)

// RedisCache is an OwnerCache backed by Redis, for deployments running
// more than one engine instance against the same lock table.
type RedisCache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisCache constructs a RedisCache. addr is a host:port Redis
// address; db selects the logical database.
func NewRedisCache(addr, password string, db int, ttl time.Duration) *RedisCache {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	return &RedisCache{client: client, ttl: ttl}
}

// Get implements OwnerCache.
func (c *RedisCache) Get(ctx context.Context, ruleID int64) (string, bool, error) {
	val, err := c.client.Get(ctx, ownerKey(ruleID)).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return val, true, nil
}

// Set implements OwnerCache.
func (c *RedisCache) Set(ctx context.Context, ruleID int64, owner string, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = c.ttl
	}
	return c.client.Set(ctx, ownerKey(ruleID), owner, ttl).Err()
}

// Invalidate implements OwnerCache.
func (c *RedisCache) Invalidate(ctx context.Context, ruleID int64) error {
	return c.client.Del(ctx, ownerKey(ruleID)).Err()
}

// Close releases the underlying Redis connection pool.
func (c *RedisCache) Close() error {
	return c.client.Close()
}

// Ping verifies connectivity, used at startup to decide whether to fall
// back to the in-memory cache.
func (c *RedisCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}
