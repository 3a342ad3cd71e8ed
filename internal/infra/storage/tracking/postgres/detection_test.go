package postgres

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/streetlens/batchtrack/internal/domain/tracking"
	"github.com/streetlens/batchtrack/internal/infra/storage"
)

type detectionRow struct {
	hasDetection bool
	classID      *int
	x, y, w, h   *float64
	width        *int
	height       *int
	runID        string
}

func loadDetectionRows(t *testing.T, ctx context.Context, mgr *storage.SessionManager, ref tracking.ImageRef) []detectionRow {
	t.Helper()

	rows, err := mgr.Pool().Query(ctx, `
		SELECT has_detection, class_id, x_norm, y_norm, w_norm, h_norm, image_width, image_height, run_id
		FROM detection_information
		WHERE customer_name = $1 AND upload_date = $2 AND filename = $3
		ORDER BY id
	`, ref.Customer, ref.UploadDate, ref.Filename)
	require.NoError(t, err)
	defer rows.Close()

	var out []detectionRow
	for rows.Next() {
		var r detectionRow
		require.NoError(t, rows.Scan(
			&r.hasDetection, &r.classID,
			&r.x, &r.y, &r.w, &r.h,
			&r.width, &r.height, &r.runID,
		))
		out = append(out, r)
	}
	require.NoError(t, rows.Err())
	return out
}

func TestDetectionStore_PositiveOutcome(t *testing.T) {
	t.Parallel()
	ctx, _, mgr, cleanup := setupStoreTest(t)
	defer cleanup()

	store := NewDetectionStore(storage.NoOpTracer())
	ref := testImageRef("img1.jpg")
	dims := tracking.ImageDimensions{Width: 640, Height: 480}
	detections := []tracking.Detection{
		{ClassID: 0, Box: tracking.BoundingBox{X1: 10, Y1: 20, X2: 30, Y2: 40}, Confidence: 0.91},
		{ClassID: 2, Box: tracking.BoundingBox{X1: 50, Y1: 60, X2: 70, Y2: 80}, Confidence: 0.64},
		{ClassID: 2, Box: tracking.BoundingBox{X1: 15, Y1: 25, X2: 35, Y2: 45}, Confidence: 0.55},
	}

	err := mgr.WithinUnitOfWork(ctx, func(ctx context.Context, uow tracking.UnitOfWork) error {
		return store.RecordOutcome(ctx, uow, ref, "run-1", dims, detections)
	})
	require.NoError(t, err)

	rows := loadDetectionRows(t, ctx, mgr, ref)
	require.Len(t, rows, len(detections), "N detections must yield N rows")
	for i, row := range rows {
		assert.True(t, row.hasDetection)
		require.NotNil(t, row.classID)
		assert.Equal(t, detections[i].ClassID, *row.classID)

		want := detections[i].Box.Normalize(dims)
		require.NotNil(t, row.x)
		assert.InDelta(t, want.X, *row.x, 1e-9)
		require.NotNil(t, row.y)
		assert.InDelta(t, want.Y, *row.y, 1e-9)
		require.NotNil(t, row.w)
		assert.InDelta(t, want.W, *row.w, 1e-9)
		require.NotNil(t, row.h)
		assert.InDelta(t, want.H, *row.h, 1e-9)

		require.NotNil(t, row.width)
		assert.Equal(t, dims.Width, *row.width)
		assert.Equal(t, "run-1", row.runID)
	}
}

func TestDetectionStore_NegativeOutcome(t *testing.T) {
	t.Parallel()
	ctx, _, mgr, cleanup := setupStoreTest(t)
	defer cleanup()

	store := NewDetectionStore(storage.NoOpTracer())
	ref := testImageRef("empty.jpg")

	err := mgr.WithinUnitOfWork(ctx, func(ctx context.Context, uow tracking.UnitOfWork) error {
		return store.RecordOutcome(ctx, uow, ref, "run-1", tracking.ImageDimensions{}, nil)
	})
	require.NoError(t, err)

	rows := loadDetectionRows(t, ctx, mgr, ref)
	require.Len(t, rows, 1, "a negative outcome must yield exactly one row")

	row := rows[0]
	assert.False(t, row.hasDetection)
	assert.Nil(t, row.classID)
	assert.Nil(t, row.x)
	assert.Nil(t, row.y)
	assert.Nil(t, row.w)
	assert.Nil(t, row.h)
	assert.Nil(t, row.width)
	assert.Nil(t, row.height)
	assert.Equal(t, "run-1", row.runID)
}

func TestDetectionStore_AtomicWithCompletion(t *testing.T) {
	t.Parallel()
	ctx, pool, mgr, cleanup := setupStoreTest(t)
	defer cleanup()

	detStore := NewDetectionStore(storage.NoOpTracer())
	statusStore := NewImageStatusStore(storage.NoOpTracer(), false)
	ref := testImageRef("atomic.jpg")

	// Detection rows and the completion upsert share one unit of work, so a
	// failure after the insert leaves neither visible.
	failed := mgr.WithinUnitOfWork(ctx, func(ctx context.Context, uow tracking.UnitOfWork) error {
		if err := detStore.RecordOutcome(ctx, uow, ref, "run-1", tracking.ImageDimensions{}, nil); err != nil {
			return err
		}
		return assert.AnError
	})
	require.ErrorIs(t, failed, assert.AnError)

	var count int
	require.NoError(t, pool.QueryRow(ctx, `SELECT COUNT(*) FROM detection_information`).Scan(&count))
	assert.Zero(t, count)

	err := mgr.WithinUnitOfWork(ctx, func(ctx context.Context, uow tracking.UnitOfWork) error {
		if err := detStore.RecordOutcome(ctx, uow, ref, "run-1", tracking.ImageDimensions{}, nil); err != nil {
			return err
		}
		return statusStore.Complete(ctx, uow, ref)
	})
	require.NoError(t, err)

	rows := loadDetectionRows(t, ctx, mgr, ref)
	assert.Len(t, rows, 1)
	status, _ := imageStatus(t, pool, ref)
	assert.Equal(t, "processed", status)
}
