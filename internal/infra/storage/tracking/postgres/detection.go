package postgres

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/streetlens/batchtrack/internal/domain/tracking"
	"github.com/streetlens/batchtrack/internal/infra/storage"
)

var _ tracking.DetectionRepository = (*detectionStore)(nil)

// detectionStore persists detection outcomes. Rows are append-only per run
// and never mutated or deleted.
type detectionStore struct {
	tracer trace.Tracer
}

// NewDetectionStore creates a DetectionRepository backed by PostgreSQL.
func NewDetectionStore(tracer trace.Tracer) *detectionStore {
	return &detectionStore{tracer: tracer}
}

const insertDetectionQuery = `
	INSERT INTO detection_information (
		customer_name, upload_date, filename,
		has_detection, class_id, x_norm, y_norm, w_norm, h_norm,
		image_width, image_height, run_id
	) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
`

// RecordOutcome inserts one row per positive detection, or exactly one
// negative row with null geometry when the image yielded no detections.
func (s *detectionStore) RecordOutcome(
	ctx context.Context,
	uow tracking.UnitOfWork,
	ref tracking.ImageRef,
	runID string,
	dims tracking.ImageDimensions,
	detections []tracking.Detection,
) error {
	dbAttrs := append(imageAttributes(ref),
		attribute.String("run_id", runID),
		attribute.Int("num_detections", len(detections)),
	)

	return storage.ExecuteAndTrace(ctx, s.tracer, "postgres.record_detections", dbAttrs, func(ctx context.Context) error {
		tx, err := storage.TxFromUnitOfWork(uow)
		if err != nil {
			return err
		}

		if len(detections) == 0 {
			_, err := tx.Exec(ctx, insertDetectionQuery,
				ref.Customer, ref.UploadDate, ref.Filename,
				false, nil, nil, nil, nil, nil, nil, nil, runID)
			if err != nil {
				return fmt.Errorf("negative detection insert error: %w", err)
			}
			return nil
		}

		for _, record := range tracking.PositiveRecords(ref, runID, dims, detections) {
			box := record.Box.Normalize(*record.Dimensions)
			_, err := tx.Exec(ctx, insertDetectionQuery,
				ref.Customer, ref.UploadDate, ref.Filename,
				true, *record.ClassID,
				box.X, box.Y, box.W, box.H,
				record.Dimensions.Width, record.Dimensions.Height, runID)
			if err != nil {
				return fmt.Errorf("detection insert error: %w", err)
			}
		}
		return nil
	})
}
