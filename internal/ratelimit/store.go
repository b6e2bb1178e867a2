package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/driftline/behavior-analytics/pkg/postgres"
	"go.uber.org/zap"
)

type postgresStore struct {
	db     *postgres.DB
	logger *zap.Logger
}

func NewPostgresStore(db *postgres.DB, logger *zap.Logger) Store {
	return &postgresStore{
		db:     db,
		logger: logger,
	}
}

// Bump does the window reset and increment in one upsert so two
// concurrent requests for the same token cannot lose an update.
func (s *postgresStore) Bump(ctx context.Context, token string, now time.Time, window time.Duration) (int, error) {
	cutoff := now.Add(-window)

	query := `
		INSERT INTO rate_limits (anonymized_token, window_start, request_count, updated_at)
		VALUES ($1, $2, 1, $2)
		ON CONFLICT (anonymized_token) DO UPDATE SET
			request_count = CASE WHEN rate_limits.window_start < $3 THEN 1 ELSE rate_limits.request_count + 1 END,
			window_start  = CASE WHEN rate_limits.window_start < $3 THEN $2 ELSE rate_limits.window_start END,
			updated_at    = $2
		RETURNING request_count
	`

	var count int
	err := s.db.QueryRowContext(ctx, query, token, now, cutoff).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to bump rate limit window: %w", err)
	}

	return count, nil
}

type windowState struct {
	start time.Time
	count int
}

// MemoryStore keeps windows in process memory. Used in tests and for
// single-node deployments without a shared counter table.
type MemoryStore struct {
	mu      sync.Mutex
	windows map[string]*windowState
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		windows: make(map[string]*windowState),
	}
}

func (s *MemoryStore) Bump(ctx context.Context, token string, now time.Time, window time.Duration) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	state, ok := s.windows[token]
	if !ok || state.start.Before(now.Add(-window)) {
		s.windows[token] = &windowState{start: now, count: 1}
		return 1, nil
	}

	state.count++
	return state.count, nil
}
