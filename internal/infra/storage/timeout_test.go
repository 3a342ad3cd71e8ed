package storage

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/streetlens/batchtrack/internal/domain/tracking"
)

type passthroughRunner struct{ sawDeadline bool }

type noopUnitOfWork struct{}

func (noopUnitOfWork) ID() string { return "noop" }

func (r *passthroughRunner) WithinUnitOfWork(ctx context.Context, fn func(ctx context.Context, uow tracking.UnitOfWork) error) error {
	_, r.sawDeadline = ctx.Deadline()
	return fn(ctx, noopUnitOfWork{})
}

func TestWithTimeout_AppliesDeadline(t *testing.T) {
	t.Parallel()

	inner := &passthroughRunner{}
	runner := WithTimeout(inner, time.Minute)

	err := runner.WithinUnitOfWork(context.Background(), func(ctx context.Context, uow tracking.UnitOfWork) error {
		return nil
	})
	require.NoError(t, err)
	assert.True(t, inner.sawDeadline)
}

func TestWithTimeout_ExpiredDeadlineCancelsScope(t *testing.T) {
	t.Parallel()

	runner := WithTimeout(&passthroughRunner{}, time.Nanosecond)

	err := runner.WithinUnitOfWork(context.Background(), func(ctx context.Context, uow tracking.UnitOfWork) error {
		<-ctx.Done()
		return ctx.Err()
	})
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestWithTimeout_ZeroTimeoutIsPassthrough(t *testing.T) {
	t.Parallel()

	inner := &passthroughRunner{}
	runner := WithTimeout(inner, 0)

	require.NoError(t, runner.WithinUnitOfWork(context.Background(), func(ctx context.Context, uow tracking.UnitOfWork) error {
		return nil
	}))
	assert.Same(t, inner, runner.(*passthroughRunner))
	assert.False(t, inner.sawDeadline)
}
