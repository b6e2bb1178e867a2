package ratelimit

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// Store atomically advances the fixed-window counter for a token: if
// the stored window started before the cutoff it is reset to now with a
// count of 1, otherwise the count is incremented. Returns the count for
// the current window. The whole operation must be a single atomic step
// so concurrent requests for one token never under-count.
type Store interface {
	Bump(ctx context.Context, token string, now time.Time, window time.Duration) (int, error)
}

// Limiter is a fixed-window request counter keyed by anonymized token.
// Bursts at window boundaries are accepted behavior of the scheme.
type Limiter struct {
	store       Store
	window      time.Duration
	maxRequests int
	logger      *zap.Logger
	now         func() time.Time
}

func New(store Store, window time.Duration, maxRequests int, logger *zap.Logger) *Limiter {
	return &Limiter{
		store:       store,
		window:      window,
		maxRequests: maxRequests,
		logger:      logger,
		now:         time.Now,
	}
}

// Allow reports whether the token has budget left in its current
// window. Store failures allow the request; analytics availability wins
// over strict limiting.
func (l *Limiter) Allow(ctx context.Context, token string) (bool, error) {
	count, err := l.store.Bump(ctx, token, l.now(), l.window)
	if err != nil {
		l.logger.Error("Rate limit check failed, allowing request", zap.Error(err))
		return true, nil
	}

	if count > l.maxRequests {
		l.logger.Debug("Rate limit exceeded",
			zap.String("token", token),
			zap.Int("count", count),
		)
		return false, nil
	}

	return true, nil
}
