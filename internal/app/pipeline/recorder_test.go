package pipeline

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/streetlens/batchtrack/internal/domain/tracking"
	"github.com/streetlens/batchtrack/internal/infra/storage"
	"github.com/streetlens/batchtrack/pkg/common/logger"
)

func testRunMetadata() RunMetadata {
	return RunMetadata{
		RunID:     "run-1",
		StartTime: time.Now().Add(-time.Minute),
		Model:     "best.pt",
	}
}

func TestRunRecorder_SuccessForwardsResult(t *testing.T) {
	t.Parallel()

	runner := &fakeRunner{}
	runs := new(mockRunRepo)
	recorder := NewRunRecorder(runner, runs, logger.Noop(), storage.NoOpTracer())

	var ran bool
	err := recorder.Record(context.Background(), testRunMetadata(), func(ctx context.Context) error {
		ran = true
		return nil
	})

	require.NoError(t, err)
	assert.True(t, ran)
	assert.Zero(t, runner.calls, "success must not write an audit row from the recorder")
	runs.AssertNotCalled(t, "RecordRun", mock.Anything, mock.Anything, mock.Anything)
}

func TestRunRecorder_FailureWritesAuditRow(t *testing.T) {
	t.Parallel()

	runner := &fakeRunner{}
	runs := new(mockRunRepo)
	jobErr := errors.New("inference exploded")

	var recorded *tracking.BatchRun
	runs.On("RecordRun", mock.Anything, mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) { recorded = args.Get(2).(*tracking.BatchRun) }).
		Return(nil)

	recorder := NewRunRecorder(runner, runs, logger.Noop(), storage.NoOpTracer())

	err := recorder.Record(context.Background(), testRunMetadata(), func(ctx context.Context) error {
		return jobErr
	})

	require.ErrorIs(t, err, jobErr, "the caller must observe the original error")
	assert.Equal(t, 1, runner.calls, "exactly one audit unit of work expected")
	require.NotNil(t, recorded)
	assert.Equal(t, "run-1", recorded.RunID())
	assert.False(t, recorded.Success())
	assert.Equal(t, jobErr.Error(), recorded.ErrorCode())
}

func TestRunRecorder_AuditFailureNeverShadowsJobError(t *testing.T) {
	t.Parallel()

	jobErr := errors.New("inference exploded")

	t.Run("audit write fails", func(t *testing.T) {
		t.Parallel()
		runner := &fakeRunner{}
		runs := new(mockRunRepo)
		runs.On("RecordRun", mock.Anything, mock.Anything, mock.Anything).
			Return(errors.New("database unreachable"))

		recorder := NewRunRecorder(runner, runs, logger.Noop(), storage.NoOpTracer())
		err := recorder.Record(context.Background(), testRunMetadata(), func(ctx context.Context) error {
			return jobErr
		})
		require.ErrorIs(t, err, jobErr)
	})

	t.Run("audit session fails", func(t *testing.T) {
		t.Parallel()
		runner := &fakeRunner{beginErr: errors.New("credentials expired")}
		runs := new(mockRunRepo)

		recorder := NewRunRecorder(runner, runs, logger.Noop(), storage.NoOpTracer())
		err := recorder.Record(context.Background(), testRunMetadata(), func(ctx context.Context) error {
			return jobErr
		})
		require.ErrorIs(t, err, jobErr)
	})
}

func TestRunRecorder_ReportingRequiredFailsFast(t *testing.T) {
	t.Parallel()

	recorder := NewRunRecorder(nil, nil, logger.Noop(), storage.NoOpTracer())

	meta := testRunMetadata()
	meta.ReportingRequired = true

	var ran bool
	err := recorder.Record(context.Background(), meta, func(ctx context.Context) error {
		ran = true
		return nil
	})

	require.ErrorIs(t, err, tracking.ErrMissingReportingConfig)
	assert.False(t, ran, "the job must not start when required reporting is unconfigured")
}

func TestRunRecorder_OptionalReportingAbsentPropagatesError(t *testing.T) {
	t.Parallel()

	recorder := NewRunRecorder(nil, nil, logger.Noop(), storage.NoOpTracer())
	jobErr := errors.New("inference exploded")

	err := recorder.Record(context.Background(), testRunMetadata(), func(ctx context.Context) error {
		return jobErr
	})
	require.ErrorIs(t, err, jobErr)
}

func TestRunRecorder_MissingRunIDFailsFast(t *testing.T) {
	t.Parallel()

	recorder := NewRunRecorder(&fakeRunner{}, new(mockRunRepo), logger.Noop(), storage.NoOpTracer())

	meta := testRunMetadata()
	meta.RunID = ""

	err := recorder.Record(context.Background(), meta, func(ctx context.Context) error { return nil })
	require.ErrorIs(t, err, tracking.ErrMissingRunField)
}
