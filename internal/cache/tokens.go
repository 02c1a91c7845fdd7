package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/seglab/cohort/internal/observability"
)

// tokenKeyPrefix namespaces device-token sets in Redis.
// Example: "segment-tokens:dormant-big-spenders"
const tokenKeyPrefix = "segment-tokens"

// TokenCache stores the resolved device-token set of a segment so repeated
// experiment sends within the TTL skip the directory scan. It is a pure
// optimization: every miss falls back to a fresh resolution.
type TokenCache interface {
	// GetTokens returns the cached token set, or found=false on a miss.
	GetTokens(ctx context.Context, segment string) (tokens []string, found bool, err error)

	// SetTokens caches the token set for the segment.
	SetTokens(ctx context.Context, segment string, tokens []string) error

	// InvalidateTokens drops the cached set, e.g. after a rule change.
	InvalidateTokens(ctx context.Context, segment string) error

	// Check pings the backing store.
	Check(ctx context.Context) error

	// Close terminates the connection.
	Close() error
}

// Compile-time checks: RedisTokenCache implements TokenCache and can be
// wired into the readiness probe.
var (
	_ TokenCache            = (*RedisTokenCache)(nil)
	_ observability.Checker = (*RedisTokenCache)(nil)
)

// RedisTokenCache implements TokenCache on go-redis.
type RedisTokenCache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisTokenCache wraps an initialized Redis client. ttl bounds the
// staleness of a cached token set.
func NewRedisTokenCache(client *redis.Client, ttl time.Duration) *RedisTokenCache {
	if client == nil {
		panic("cache: redis client cannot be nil")
	}
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &RedisTokenCache{client: client, ttl: ttl}
}

func tokenKey(segment string) string {
	return fmt.Sprintf("%s:%s", tokenKeyPrefix, segment)
}

func (c *RedisTokenCache) GetTokens(ctx context.Context, segment string) ([]string, bool, error) {
	raw, err := c.client.Get(ctx, tokenKey(segment)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("failed to read token cache for %q: %w", segment, err)
	}

	var tokens []string
	if err := json.Unmarshal(raw, &tokens); err != nil {
		// A corrupt entry behaves like a miss; the next set overwrites it.
		return nil, false, nil
	}
	return tokens, true, nil
}

func (c *RedisTokenCache) SetTokens(ctx context.Context, segment string, tokens []string) error {
	raw, err := json.Marshal(tokens)
	if err != nil {
		return fmt.Errorf("failed to encode token set: %w", err)
	}
	if err := c.client.Set(ctx, tokenKey(segment), raw, c.ttl).Err(); err != nil {
		return fmt.Errorf("failed to write token cache for %q: %w", segment, err)
	}
	return nil
}

func (c *RedisTokenCache) InvalidateTokens(ctx context.Context, segment string) error {
	if err := c.client.Del(ctx, tokenKey(segment)).Err(); err != nil {
		return fmt.Errorf("failed to invalidate token cache for %q: %w", segment, err)
	}
	return nil
}

// Check verifies the connection to the Redis server.
func (c *RedisTokenCache) Check(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

// Close closes the Redis client connection.
func (c *RedisTokenCache) Close() error {
	return c.client.Close()
}

// Name returns the component name for readiness probes.
func (c *RedisTokenCache) Name() string {
	return "redis"
}
