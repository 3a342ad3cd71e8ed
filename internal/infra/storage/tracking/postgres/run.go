package postgres

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/streetlens/batchtrack/internal/domain/tracking"
	"github.com/streetlens/batchtrack/internal/infra/storage"
)

var _ tracking.RunRepository = (*runStore)(nil)

// runStore persists batch run audit rows. The table carries no uniqueness on
// run_id: replaying a run ID produces a second terminal row rather than an
// error, so exclusivity must never be assumed here.
type runStore struct {
	tracer trace.Tracer
}

// NewRunStore creates a RunRepository backed by PostgreSQL.
func NewRunStore(tracer trace.Tracer) *runStore {
	return &runStore{tracer: tracer}
}

// RecordRun inserts the terminal audit row for a run.
func (s *runStore) RecordRun(ctx context.Context, uow tracking.UnitOfWork, run *tracking.BatchRun) error {
	dbAttrs := append(
		defaultDBAttributes,
		attribute.String("run_id", run.RunID()),
		attribute.String("model", run.Model()),
		attribute.Bool("success", run.Success()),
	)

	return storage.ExecuteAndTrace(ctx, s.tracer, "postgres.record_run", dbAttrs, func(ctx context.Context) error {
		tx, err := storage.TxFromUnitOfWork(uow)
		if err != nil {
			return err
		}

		var errorCode *string
		if !run.Success() {
			code := run.ErrorCode()
			errorCode = &code
		}

		_, err = tx.Exec(ctx, `
			INSERT INTO batch_run_information (run_id, start_time, end_time, model, success, error_code)
			VALUES ($1, $2, $3, $4, $5, $6)
		`, run.RunID(), run.StartTime(), run.EndTime(), run.Model(), run.Success(), errorCode)
		if err != nil {
			return fmt.Errorf("batch run insert error: %w", err)
		}
		return nil
	})
}
