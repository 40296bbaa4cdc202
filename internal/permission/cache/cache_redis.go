package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"permguard/internal/permission/models"
	"permguard/internal/permission/ports"
	"permguard/pkg/platform/sentinel"
)

const (
	// Redis key prefix for resolved permission sets
	permissionKeyPrefix = "perm:"
)

// RedisCache shares resolved permission sets between instances.
type RedisCache struct {
	client *redis.Client
	prefix string
}

// RedisOption configures a RedisCache instance.
type RedisOption func(*RedisCache)

// WithKeyPrefix overrides the key namespace, e.g. per environment.
func WithKeyPrefix(prefix string) RedisOption {
	return func(c *RedisCache) {
		if prefix != "" {
			c.prefix = prefix
		}
	}
}

// NewRedis constructs a Redis-backed permission cache.
func NewRedis(client *redis.Client, opts ...RedisOption) *RedisCache {
	c := &RedisCache{
		client: client,
		prefix: permissionKeyPrefix,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	return c
}

func (c *RedisCache) Get(ctx context.Context, key string) ([]models.EffectivePermission, error) {
	raw, err := c.client.Get(ctx, c.prefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, sentinel.ErrCacheMiss
	}
	if err != nil {
		return nil, fmt.Errorf("get cached permissions: %w", err)
	}
	var perms []models.EffectivePermission
	if err := json.Unmarshal(raw, &perms); err != nil {
		// A corrupt entry is as good as absent.
		_ = c.client.Del(ctx, c.prefix+key).Err()
		return nil, sentinel.ErrCacheMiss
	}
	return perms, nil
}

// Set stores the permission set with SET EX.
func (c *RedisCache) Set(ctx context.Context, key string, perms []models.EffectivePermission, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}
	if perms == nil {
		perms = []models.EffectivePermission{}
	}
	raw, err := json.Marshal(perms)
	if err != nil {
		return fmt.Errorf("marshal permissions: %w", err)
	}
	return c.client.Set(ctx, c.prefix+key, raw, ttl).Err()
}

// Delete removes keys in one pipeline.
func (c *RedisCache) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	pipe := c.client.Pipeline()
	for _, k := range keys {
		pipe.Del(ctx, c.prefix+k)
	}
	_, err := pipe.Exec(ctx)
	if err != nil {
		return fmt.Errorf("delete cached permissions: %w", err)
	}
	return nil
}

var _ ports.Cache = (*RedisCache)(nil)
