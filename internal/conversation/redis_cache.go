// ABOUTME: ContextCache backed by Redis for sharing context between gateway processes
// ABOUTME: Contexts are stored as JSON under a prefixed key with a sliding TTL

package conversation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultRedisPrefix namespaces context keys.
const DefaultRedisPrefix = "trio:context:"

// RedisCache stores contexts in Redis.
type RedisCache struct {
	rdb    *redis.Client
	ttl    time.Duration
	prefix string
}

// NewRedisCache wraps an existing client. A zero ttl stores keys without
// expiry.
func NewRedisCache(rdb *redis.Client, ttl time.Duration) *RedisCache {
	return &RedisCache{rdb: rdb, ttl: ttl, prefix: DefaultRedisPrefix}
}

func (c *RedisCache) key(sessionID string) string {
	return c.prefix + sessionID
}

// Get loads and decodes a session's context, refreshing its TTL.
func (c *RedisCache) Get(ctx context.Context, sessionID string) (*SessionContext, bool, error) {
	raw, err := c.rdb.Get(ctx, c.key(sessionID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("redis get context: %w", err)
	}

	var sc SessionContext
	if err := json.Unmarshal(raw, &sc); err != nil {
		return nil, false, fmt.Errorf("decoding context: %w", err)
	}
	if c.ttl > 0 {
		if err := c.rdb.Expire(ctx, c.key(sessionID), c.ttl).Err(); err != nil {
			return nil, false, fmt.Errorf("redis refresh ttl: %w", err)
		}
	}
	return &sc, true, nil
}

// Set encodes and stores a session's context.
func (c *RedisCache) Set(ctx context.Context, sc *SessionContext) error {
	raw, err := json.Marshal(sc)
	if err != nil {
		return fmt.Errorf("encoding context: %w", err)
	}
	if err := c.rdb.Set(ctx, c.key(sc.SessionID), raw, c.ttl).Err(); err != nil {
		return fmt.Errorf("redis set context: %w", err)
	}
	return nil
}

// Clear deletes a session's context.
func (c *RedisCache) Clear(ctx context.Context, sessionID string) error {
	if err := c.rdb.Del(ctx, c.key(sessionID)).Err(); err != nil {
		return fmt.Errorf("redis delete context: %w", err)
	}
	return nil
}

// Close closes the underlying client.
func (c *RedisCache) Close() error {
	return c.rdb.Close()
}
