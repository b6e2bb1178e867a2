package ratelimit

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type failingStore struct{}

func (failingStore) Bump(ctx context.Context, token string, now time.Time, window time.Duration) (int, error) {
	return 0, errors.New("connection refused")
}

func newTestLimiter(maxRequests int) (*Limiter, *time.Time) {
	current := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	limiter := New(NewMemoryStore(), time.Minute, maxRequests, zap.NewNop())
	limiter.now = func() time.Time { return current }
	return limiter, &current
}

func TestLimiterAllowsUpToMax(t *testing.T) {
	limiter, _ := newTestLimiter(100)
	ctx := context.Background()

	for i := 0; i < 100; i++ {
		allowed, err := limiter.Allow(ctx, "token-a")
		require.NoError(t, err)
		require.True(t, allowed, "request %d should be allowed", i+1)
	}

	allowed, err := limiter.Allow(ctx, "token-a")
	require.NoError(t, err)
	assert.False(t, allowed, "request 101 should be rejected")
}

func TestLimiterWindowReset(t *testing.T) {
	limiter, current := newTestLimiter(2)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		allowed, _ := limiter.Allow(ctx, "token-a")
		require.True(t, allowed)
	}
	allowed, _ := limiter.Allow(ctx, "token-a")
	require.False(t, allowed)

	// A fresh window restores the budget.
	*current = current.Add(61 * time.Second)
	allowed, err := limiter.Allow(ctx, "token-a")
	require.NoError(t, err)
	assert.True(t, allowed)
}

func TestLimiterTokensAreIndependent(t *testing.T) {
	limiter, _ := newTestLimiter(1)
	ctx := context.Background()

	allowed, _ := limiter.Allow(ctx, "token-a")
	require.True(t, allowed)
	allowed, _ = limiter.Allow(ctx, "token-a")
	require.False(t, allowed)

	allowed, _ = limiter.Allow(ctx, "token-b")
	assert.True(t, allowed)
}

func TestLimiterAllowsOnStoreFailure(t *testing.T) {
	limiter := New(failingStore{}, time.Minute, 1, zap.NewNop())

	for i := 0; i < 5; i++ {
		allowed, err := limiter.Allow(context.Background(), "token-a")
		require.NoError(t, err)
		assert.True(t, allowed)
	}
}

func TestMemoryStoreConcurrentBumps(t *testing.T) {
	store := NewMemoryStore()
	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := store.Bump(context.Background(), "token-a", now, time.Minute)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	count, err := store.Bump(context.Background(), "token-a", now, time.Minute)
	require.NoError(t, err)
	assert.Equal(t, 51, count)
}
