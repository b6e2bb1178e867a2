package task

import (
	"fmt"

	"github.com/panjf2000/ants/v2"
	"go.uber.org/zap"
)

// Runner executes fire-and-forget work on a bounded goroutine pool.
// Submitted tasks have no return channel to the caller; failures and
// panics are logged, never propagated.
type Runner struct {
	pool   *ants.Pool
	logger *zap.Logger
}

func NewRunner(size int, logger *zap.Logger) (*Runner, error) {
	if size <= 0 {
		return nil, fmt.Errorf("pool size must be greater than 0")
	}

	pool, err := ants.NewPool(size, ants.WithNonblocking(false))
	if err != nil {
		return nil, fmt.Errorf("failed to create worker pool: %w", err)
	}

	return &Runner{
		pool:   pool,
		logger: logger,
	}, nil
}

// Submit schedules fn on the pool. The name shows up in logs only. A
// non-nil return means fn was never scheduled and will not run, which
// happens when the pool has been released during shutdown.
func (r *Runner) Submit(name string, fn func() error) error {
	err := r.pool.Submit(func() {
		defer func() {
			if rec := recover(); rec != nil {
				r.logger.Error("Panic in background task",
					zap.String("task", name),
					zap.Any("panic", rec),
				)
			}
		}()

		if err := fn(); err != nil {
			r.logger.Warn("Background task failed",
				zap.String("task", name),
				zap.Error(err),
			)
		}
	})
	if err != nil {
		return fmt.Errorf("failed to submit task %s: %w", name, err)
	}
	return nil
}

func (r *Runner) Close() {
	r.pool.Release()
	r.logger.Info("Task runner stopped")
}
