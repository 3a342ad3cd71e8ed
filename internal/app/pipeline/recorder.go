// Package pipeline drives the batch processing sequence per image and records
// how each run terminates. It coordinates the credential-backed session
// manager, the tracking repositories, and the external inference and dataset
// collaborators.
package pipeline

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/streetlens/batchtrack/internal/domain/tracking"
	"github.com/streetlens/batchtrack/pkg/common/logger"
)

// RunMetadata carries the identifiers required to audit one batch run. All
// fields are explicit; a zero RunID or Model fails fast instead of defaulting.
type RunMetadata struct {
	RunID     string
	StartTime time.Time
	Model     string

	// ReportingRequired makes a missing reporting store a configuration
	// error raised before the job starts. When false, absent reporting
	// simply means no audit row is attempted.
	ReportingRequired bool
}

// RunRecorder wraps a job closure and guarantees a terminal audit row is
// attempted when the job fails. The audit write is best effort: its own
// failure is logged and the job's original error always propagates unchanged.
type RunRecorder struct {
	sessions tracking.UnitOfWorkRunner // nil when reporting is not configured
	runs     tracking.RunRepository

	logger *logger.Logger
	tracer trace.Tracer
}

// NewRunRecorder returns a RunRecorder. Both sessions and runs may be nil when
// no reporting store is configured; Record then only enforces the
// ReportingRequired contract.
func NewRunRecorder(
	sessions tracking.UnitOfWorkRunner,
	runs tracking.RunRepository,
	log *logger.Logger,
	tracer trace.Tracer,
) *RunRecorder {
	return &RunRecorder{
		sessions: sessions,
		runs:     runs,
		logger:   log.With("component", "run_recorder"),
		tracer:   tracer,
	}
}

func (r *RunRecorder) reportingConfigured() bool { return r.sessions != nil && r.runs != nil }

// Record runs job under failure auditing. On success the job's result is
// forwarded unchanged; the success audit row is the orchestrator's
// responsibility. On failure exactly one unit of work writes the FAILED run
// row with the stringified cause, and the original error is returned even if
// that write fails.
func (r *RunRecorder) Record(ctx context.Context, meta RunMetadata, job func(ctx context.Context) error) error {
	// Validates the metadata up front so a missing run ID surfaces before
	// any work starts.
	run, err := tracking.NewBatchRun(meta.RunID, meta.Model, meta.StartTime)
	if err != nil {
		return err
	}

	if meta.ReportingRequired && !r.reportingConfigured() {
		return tracking.ErrMissingReportingConfig
	}

	ctx, span := r.tracer.Start(ctx, "run_recorder.record",
		trace.WithAttributes(
			attribute.String("run_id", meta.RunID),
			attribute.String("model", meta.Model),
		),
	)
	defer span.End()

	jobErr := job(ctx)
	if jobErr == nil {
		return nil
	}

	span.RecordError(jobErr)
	span.SetStatus(codes.Error, "run failed")

	if !r.reportingConfigured() {
		return jobErr
	}

	if failErr := run.Fail(time.Now(), jobErr); failErr != nil {
		r.logger.Error(ctx, "Could not transition run to failed", "run_id", meta.RunID, "error", failErr)
		return jobErr
	}

	writeErr := r.sessions.WithinUnitOfWork(ctx, func(ctx context.Context, uow tracking.UnitOfWork) error {
		return r.runs.RecordRun(ctx, uow, run)
	})
	if writeErr != nil {
		// A secondary bookkeeping failure must never replace the primary one.
		r.logger.Error(ctx, "Failed to write run failure audit row",
			"run_id", meta.RunID, "error", writeErr, "original_error", jobErr)
	}

	return jobErr
}
