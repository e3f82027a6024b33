package geocode

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const redisKeyPrefix = "geocode:"

// RedisCache stores forward lookups in Redis with a fixed TTL. Redis
// failures degrade to cache misses.
type RedisCache struct {
	client redis.Cmdable
	ttl    time.Duration
}

// NewRedisCache wraps an existing go-redis client.
func NewRedisCache(client redis.Cmdable, ttl time.Duration) *RedisCache {
	return &RedisCache{client: client, ttl: ttl}
}

// Get implements Cache.
func (c *RedisCache) Get(ctx context.Context, key string) (*Result, bool) {
	raw, err := c.client.Get(ctx, redisKeyPrefix+key).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			zap.L().Warn("geocode: redis get failed", zap.String("key", key), zap.Error(err))
		}
		return nil, false
	}
	var r Result
	if err := json.Unmarshal(raw, &r); err != nil {
		zap.L().Warn("geocode: corrupt cache entry", zap.String("key", key), zap.Error(err))
		return nil, false
	}
	return &r, true
}

// Set implements Cache.
func (c *RedisCache) Set(ctx context.Context, key string, r *Result) {
	if r == nil {
		return
	}
	raw, err := json.Marshal(r)
	if err != nil {
		return
	}
	if err := c.client.Set(ctx, redisKeyPrefix+key, string(raw), c.ttl).Err(); err != nil {
		zap.L().Warn("geocode: redis set failed", zap.String("key", key), zap.Error(err))
	}
}
