package service

import (
	"context"
	"errors"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"sitestats/internal/platform/redis"
)

// RedisCache adapts the platform Redis client to the DiscoveryCache
// interface. A cache miss is (nil, nil), not an error.
type RedisCache struct {
	client *redis.Client
}

// NewRedisCache wraps an already-connected Redis client.
func NewRedisCache(client *redis.Client) *RedisCache {
	return &RedisCache{client: client}
}

func (c *RedisCache) Get(ctx context.Context, key string) ([]byte, error) {
	raw, err := c.client.Get(ctx, key).Bytes()
	if errors.Is(err, goredis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return raw, nil
}

func (c *RedisCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return c.client.Set(ctx, key, value, ttl).Err()
}
