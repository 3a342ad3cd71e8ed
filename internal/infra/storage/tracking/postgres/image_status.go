// Package postgres implements the tracking repositories on PostgreSQL. Every
// operation runs on a caller-supplied unit of work; the stores never begin
// transactions of their own, so a batch of writes handed the same unit of
// work commits atomically together.
package postgres

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/streetlens/batchtrack/internal/domain/tracking"
	"github.com/streetlens/batchtrack/internal/infra/storage"
)

// defaultDBAttributes defines standard OpenTelemetry attributes for database
// operations.
var defaultDBAttributes = []attribute.KeyValue{
	attribute.String("db.system", "postgresql"),
}

var _ tracking.ImageStatusRepository = (*imageStatusStore)(nil)

// imageStatusStore persists the image claim/complete state machine. In the
// default mode concurrent claims on the same key race under last-write-wins,
// matching the store's historical behavior; strict mode turns a lost race into
// tracking.ErrAlreadyClaimed instead.
type imageStatusStore struct {
	tracer trace.Tracer
	strict bool
}

// NewImageStatusStore creates an ImageStatusRepository backed by PostgreSQL.
// strictClaims opts into exclusive claims; leave it false to preserve
// last-write-wins claim semantics.
func NewImageStatusStore(tracer trace.Tracer, strictClaims bool) *imageStatusStore {
	return &imageStatusStore{tracer: tracer, strict: strictClaims}
}

func imageAttributes(ref tracking.ImageRef) []attribute.KeyValue {
	return append(
		defaultDBAttributes,
		attribute.String("customer", ref.Customer),
		attribute.String("upload_date", ref.UploadDate.Format("2006-01-02")),
		attribute.String("filename", ref.Filename),
	)
}

// Claim upserts the image to in_progress.
func (s *imageStatusStore) Claim(ctx context.Context, uow tracking.UnitOfWork, ref tracking.ImageRef) error {
	dbAttrs := append(imageAttributes(ref), attribute.Bool("strict", s.strict))

	return storage.ExecuteAndTrace(ctx, s.tracer, "postgres.claim_image", dbAttrs, func(ctx context.Context) error {
		tx, err := storage.TxFromUnitOfWork(uow)
		if err != nil {
			return err
		}

		if s.strict {
			// Insert-or-nothing keeps the conflict visible: zero rows means
			// another worker holds the claim.
			res, err := tx.Exec(ctx, `
				INSERT INTO image_processing_status (customer_name, upload_date, filename, status)
				VALUES ($1, $2, $3, $4)
				ON CONFLICT (customer_name, upload_date, filename) DO NOTHING
			`, ref.Customer, ref.UploadDate, ref.Filename, tracking.StatusInProgress.String())
			if err != nil {
				return fmt.Errorf("claim insert error: %w", err)
			}
			if res.RowsAffected() == 0 {
				return fmt.Errorf("%w: %s", tracking.ErrAlreadyClaimed, ref.Key())
			}
			return nil
		}

		_, err = tx.Exec(ctx, `
			INSERT INTO image_processing_status (customer_name, upload_date, filename, status)
			VALUES ($1, $2, $3, $4)
			ON CONFLICT (customer_name, upload_date, filename)
			DO UPDATE SET status = EXCLUDED.status, updated_at = NOW()
		`, ref.Customer, ref.UploadDate, ref.Filename, tracking.StatusInProgress.String())
		if err != nil {
			return fmt.Errorf("claim upsert error: %w", err)
		}
		return nil
	})
}

// Complete upserts the image to processed. Safe under retry and replay; the
// upsert leaves exactly one row per identity.
func (s *imageStatusStore) Complete(ctx context.Context, uow tracking.UnitOfWork, ref tracking.ImageRef) error {
	return storage.ExecuteAndTrace(ctx, s.tracer, "postgres.complete_image", imageAttributes(ref), func(ctx context.Context) error {
		tx, err := storage.TxFromUnitOfWork(uow)
		if err != nil {
			return err
		}

		_, err = tx.Exec(ctx, `
			INSERT INTO image_processing_status (customer_name, upload_date, filename, status)
			VALUES ($1, $2, $3, $4)
			ON CONFLICT (customer_name, upload_date, filename)
			DO UPDATE SET status = EXCLUDED.status, updated_at = NOW()
		`, ref.Customer, ref.UploadDate, ref.Filename, tracking.StatusProcessed.String())
		if err != nil {
			return fmt.Errorf("complete upsert error: %w", err)
		}
		return nil
	})
}

// QueryCompleted returns the (upload date, filename) pairs for a customer
// whose status is one of the given statuses. Used to skip already-processed
// images on resume.
func (s *imageStatusStore) QueryCompleted(
	ctx context.Context,
	uow tracking.UnitOfWork,
	customer string,
	statuses []tracking.ProcessingStatus,
) ([]tracking.ImageRef, error) {
	dbAttrs := append(
		defaultDBAttributes,
		attribute.String("customer", customer),
		attribute.Int("num_statuses", len(statuses)),
	)

	var refs []tracking.ImageRef
	err := storage.ExecuteAndTrace(ctx, s.tracer, "postgres.query_completed", dbAttrs, func(ctx context.Context) error {
		tx, err := storage.TxFromUnitOfWork(uow)
		if err != nil {
			return err
		}

		wanted := make([]string, len(statuses))
		for i, st := range statuses {
			wanted[i] = st.String()
		}

		rows, err := tx.Query(ctx, `
			SELECT upload_date, filename
			FROM image_processing_status
			WHERE customer_name = $1 AND status = ANY($2)
			ORDER BY upload_date, filename
		`, customer, wanted)
		if err != nil {
			return fmt.Errorf("query completed error: %w", err)
		}
		defer rows.Close()

		for rows.Next() {
			ref := tracking.ImageRef{Customer: customer}
			if err := rows.Scan(&ref.UploadDate, &ref.Filename); err != nil {
				return fmt.Errorf("scanning completed row: %w", err)
			}
			refs = append(refs, ref)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, err
	}

	return refs, nil
}
