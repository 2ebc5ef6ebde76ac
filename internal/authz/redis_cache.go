package authz

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisCache is a Cache shared between nodes through redis. Redis failures
// degrade to cache misses and are logged.
type RedisCache struct {
	client redis.UniversalClient
	prefix string
	ttl    time.Duration
}

// NewRedisCache creates a RedisCache storing keys under prefix.
func NewRedisCache(client redis.UniversalClient, prefix string, ttl time.Duration) *RedisCache {
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	return &RedisCache{client: client, prefix: prefix, ttl: ttl}
}

func (c *RedisCache) key(userID, tenantID string) string {
	return c.prefix + "perm:" + tenantID + ":" + userID
}

func (c *RedisCache) Get(ctx context.Context, userID, tenantID string) ([]string, bool) {
	raw, err := c.client.Get(ctx, c.key(userID, tenantID)).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			slog.Warn("permission cache get failed", "error", err)
		}
		return nil, false
	}
	var perms []string
	if err := json.Unmarshal(raw, &perms); err != nil {
		slog.Warn("permission cache entry corrupt", "error", err)
		return nil, false
	}
	return perms, true
}

func (c *RedisCache) Set(ctx context.Context, userID, tenantID string, perms []string) {
	if perms == nil {
		perms = []string{}
	}
	raw, err := json.Marshal(perms)
	if err != nil {
		return
	}
	if err := c.client.Set(ctx, c.key(userID, tenantID), raw, c.ttl).Err(); err != nil {
		slog.Warn("permission cache set failed", "error", err)
	}
}

func (c *RedisCache) Invalidate(ctx context.Context, userID, tenantID string) {
	if err := c.client.Del(ctx, c.key(userID, tenantID)).Err(); err != nil {
		slog.Warn("permission cache invalidate failed", "error", err)
	}
}

// Clear removes every permission entry under the prefix.
func (c *RedisCache) Clear(ctx context.Context) {
	var cursor uint64
	for {
		keys, next, err := c.client.Scan(ctx, cursor, c.prefix+"perm:*", 100).Result()
		if err != nil {
			slog.Warn("permission cache clear failed", "error", err)
			return
		}
		if len(keys) > 0 {
			if err := c.client.Del(ctx, keys...).Err(); err != nil {
				slog.Warn("permission cache clear failed", "error", err)
				return
			}
		}
		cursor = next
		if cursor == 0 {
			return
		}
	}
}
