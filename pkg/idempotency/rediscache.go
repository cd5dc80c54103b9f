package idempotency

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisCache is the production fast-path Cache, backed by Redis. It
// exists purely to keep repeat-detection latency low under
// concurrent load; correctness never depends on Redis being up (a
// Redis outage degrades Ensure to Store-only lookups, never to
// incorrect at-most-once behavior).
type RedisCache struct {
	client *redis.Client
	prefix string
}

// NewRedisCache wraps an existing *redis.Client.
func NewRedisCache(client *redis.Client) *RedisCache {
	return &RedisCache{client: client, prefix: "crewledger:idem:"}
}

func (c *RedisCache) Peek(ctx context.Context, key string) (string, bool) {
	val, err := c.client.Get(ctx, c.prefix+key).Result()
	if err != nil {
		return "", false
	}
	return val, true
}

func (c *RedisCache) Remember(ctx context.Context, key, scopeHash string, ttl time.Duration) {
	// Best-effort: the cache is an optimization, never the source of
	// truth, so a write failure here is not propagated to the caller.
	_ = c.client.Set(ctx, c.prefix+key, scopeHash, ttl).Err()
}
