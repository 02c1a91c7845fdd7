//go:build integration

package cache_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/seglab/cohort/internal/testsupport"
)

func TestRedisTokenCache_Integration(t *testing.T) {
	ctx := context.Background()

	redisContainer, err := testsupport.StartRedisContainer(ctx, 2*time.Second)
	require.NoError(t, err, "failed to start redis container")
	defer func() {
		if err := redisContainer.Terminate(ctx); err != nil {
			t.Logf("failed to terminate redis container: %v", err)
		}
	}()

	tokens := redisContainer.Tokens

	t.Run("Should miss on an unknown segment", func(t *testing.T) {
		_, found, err := tokens.GetTokens(ctx, "unknown")
		require.NoError(t, err)
		assert.False(t, found)
	})

	t.Run("Should round-trip a token set", func(t *testing.T) {
		want := []string{"tok-a", "tok-b", "tok-c"}
		require.NoError(t, tokens.SetTokens(ctx, "brazil", want))

		got, found, err := tokens.GetTokens(ctx, "brazil")
		require.NoError(t, err)
		require.True(t, found)
		assert.Equal(t, want, got)
	})

	t.Run("Should cache an empty token set as a hit", func(t *testing.T) {
		require.NoError(t, tokens.SetTokens(ctx, "tokenless", []string{}))

		got, found, err := tokens.GetTokens(ctx, "tokenless")
		require.NoError(t, err)
		assert.True(t, found, "an empty set is a valid cached resolution, not a miss")
		assert.Empty(t, got)
	})

	t.Run("Should invalidate a cached set", func(t *testing.T) {
		require.NoError(t, tokens.SetTokens(ctx, "volatile", []string{"tok-x"}))
		require.NoError(t, tokens.InvalidateTokens(ctx, "volatile"))

		_, found, err := tokens.GetTokens(ctx, "volatile")
		require.NoError(t, err)
		assert.False(t, found)
	})

	t.Run("Should expire entries after the TTL", func(t *testing.T) {
		require.NoError(t, tokens.SetTokens(ctx, "ephemeral", []string{"tok-y"}))

		require.Eventually(t, func() bool {
			_, found, err := tokens.GetTokens(ctx, "ephemeral")
			return err == nil && !found
		}, 5*time.Second, 200*time.Millisecond, "entry must expire after the 2s TTL")
	})

	t.Run("Should pass the readiness check", func(t *testing.T) {
		assert.NoError(t, tokens.Check(ctx))
	})
}
