package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

var ErrCacheMiss = errors.New("cache miss")

type RedisDirectoryCache struct {
	client *redis.Client
	prefix string
}

// NewRedisDirectoryCache shares client with the caller; Close leaves it
// open.
func NewRedisDirectoryCache(client *redis.Client, prefix string) *RedisDirectoryCache {
	return &RedisDirectoryCache{
		client: client,
		prefix: prefix,
	}
}

func (c *RedisDirectoryCache) BuildDirectoryKey() string {
	return fmt.Sprintf("%s:directory", c.prefix)
}

func (c *RedisDirectoryCache) Get(ctx context.Context, key string) (*DirectoryCacheResult, error) {
	data, err := c.client.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrCacheMiss
		}
		return nil, fmt.Errorf("failed to get from redis: %w", err)
	}

	var result DirectoryCacheResult
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, fmt.Errorf("failed to unmarshal cache data: %w", err)
	}

	return &result, nil
}

func (c *RedisDirectoryCache) Set(ctx context.Context, key string, result *DirectoryCacheResult, ttl time.Duration) error {
	data, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("failed to marshal cache data: %w", err)
	}

	if err := c.client.Set(ctx, key, data, ttl).Err(); err != nil {
		return fmt.Errorf("failed to set in redis: %w", err)
	}

	return nil
}

func (c *RedisDirectoryCache) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}

	if err := c.client.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("failed to delete from redis: %w", err)
	}

	return nil
}

// Close is a no-op; the client belongs to the caller.
func (c *RedisDirectoryCache) Close() error {
	return nil
}
