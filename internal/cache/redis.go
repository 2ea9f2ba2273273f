package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"time"

	"github.com/redis/go-redis/v9"
)

// Redis is a cache backed by a shared redis instance, letting multiple
// replicas reuse each other's completions. Prompts are hashed so arbitrarily
// long prompt text maps to a fixed-size key.
type Redis struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewRedis(rdb *redis.Client, ttl time.Duration) *Redis {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &Redis{rdb: rdb, ttl: ttl}
}

func redisKey(key string) string {
	sum := sha256.Sum256([]byte(key))
	return "friendly:completion:" + hex.EncodeToString(sum[:])
}

func (c *Redis) Get(ctx context.Context, key string) (string, bool) {
	v, err := c.rdb.Get(ctx, redisKey(key)).Result()
	if err != nil {
		return "", false
	}
	return v, true
}

func (c *Redis) Set(ctx context.Context, key, value string) {
	_ = c.rdb.Set(ctx, redisKey(key), value, c.ttl).Err()
}
