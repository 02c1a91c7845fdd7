package testsupport

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/redis"

	"github.com/seglab/cohort/internal/cache"
	"github.com/seglab/cohort/internal/config"
)

// RedisContainer bundles a running Redis container with the token cache
// pointed at it.
type RedisContainer struct {
	Container testcontainers.Container
	Tokens    cache.TokenCache
}

// Terminate closes the client and removes the container.
func (c *RedisContainer) Terminate(ctx context.Context) error {
	_ = c.Tokens.Close()
	return c.Container.Terminate(ctx)
}

// StartRedisContainer launches redis:7-alpine and returns a device-token
// cache with the given TTL backed by it.
func StartRedisContainer(ctx context.Context, tokenTTL time.Duration) (*RedisContainer, error) {
	rc, err := redis.Run(ctx, "redis:7-alpine")
	if err != nil {
		return nil, fmt.Errorf("starting redis container: %w", err)
	}

	endpoint, err := rc.PortEndpoint(ctx, "6379/tcp", "")
	if err != nil {
		return nil, fmt.Errorf("reading redis endpoint: %w", err)
	}
	host, port, _ := strings.Cut(endpoint, ":")

	cfg := &config.RedisConfig{
		Host:        host,
		Port:        port,
		DB:          0,
		DialTimeout: 5 * time.Second,
		TokenTTL:    tokenTTL,
	}
	client, err := cache.NewRedisClient(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connecting to test redis: %w", err)
	}

	return &RedisContainer{
		Container: rc,
		Tokens:    cache.NewRedisTokenCache(client, cfg.TokenTTL),
	}, nil
}
