package storage

import (
	"context"
	"time"

	"github.com/streetlens/batchtrack/internal/domain/tracking"
)

// TimeoutRunner decorates a unit-of-work runner with a per-scope deadline so
// a wedged transaction cannot stall the whole batch. A non-positive timeout
// returns the inner runner unchanged.
type TimeoutRunner struct {
	inner   tracking.UnitOfWorkRunner
	timeout time.Duration
}

var _ tracking.UnitOfWorkRunner = (*TimeoutRunner)(nil)

// WithTimeout wraps runner so every unit of work runs under its own deadline.
func WithTimeout(runner tracking.UnitOfWorkRunner, timeout time.Duration) tracking.UnitOfWorkRunner {
	if timeout <= 0 {
		return runner
	}
	return &TimeoutRunner{inner: runner, timeout: timeout}
}

// WithinUnitOfWork implements tracking.UnitOfWorkRunner.
func (r *TimeoutRunner) WithinUnitOfWork(ctx context.Context, fn func(ctx context.Context, uow tracking.UnitOfWork) error) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	return r.inner.WithinUnitOfWork(ctx, fn)
}
