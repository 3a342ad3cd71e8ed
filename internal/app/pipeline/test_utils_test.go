package pipeline

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/streetlens/batchtrack/internal/domain/tracking"
)

// fakeUnitOfWork satisfies tracking.UnitOfWork for tests that never touch a
// real transaction.
type fakeUnitOfWork struct{}

func (fakeUnitOfWork) ID() string { return "test-uow" }

// fakeRunner executes the unit-of-work body directly, without a transaction.
// A non-nil beginErr simulates a session acquisition failure.
type fakeRunner struct {
	beginErr error
	calls    int
}

func (r *fakeRunner) WithinUnitOfWork(ctx context.Context, fn func(ctx context.Context, uow tracking.UnitOfWork) error) error {
	r.calls++
	if r.beginErr != nil {
		return r.beginErr
	}
	return fn(ctx, fakeUnitOfWork{})
}

// mockImageStatusRepo implements tracking.ImageStatusRepository for testing.
type mockImageStatusRepo struct{ mock.Mock }

func (m *mockImageStatusRepo) Claim(ctx context.Context, uow tracking.UnitOfWork, ref tracking.ImageRef) error {
	args := m.Called(ctx, uow, ref)
	return args.Error(0)
}

func (m *mockImageStatusRepo) Complete(ctx context.Context, uow tracking.UnitOfWork, ref tracking.ImageRef) error {
	args := m.Called(ctx, uow, ref)
	return args.Error(0)
}

func (m *mockImageStatusRepo) QueryCompleted(ctx context.Context, uow tracking.UnitOfWork, customer string, statuses []tracking.ProcessingStatus) ([]tracking.ImageRef, error) {
	args := m.Called(ctx, uow, customer, statuses)
	if refs := args.Get(0); refs != nil {
		return refs.([]tracking.ImageRef), args.Error(1)
	}
	return nil, args.Error(1)
}

// mockDetectionRepo implements tracking.DetectionRepository for testing.
type mockDetectionRepo struct{ mock.Mock }

func (m *mockDetectionRepo) RecordOutcome(ctx context.Context, uow tracking.UnitOfWork, ref tracking.ImageRef, runID string, dims tracking.ImageDimensions, detections []tracking.Detection) error {
	args := m.Called(ctx, uow, ref, runID, dims, detections)
	return args.Error(0)
}

// mockRunRepo implements tracking.RunRepository for testing.
type mockRunRepo struct{ mock.Mock }

func (m *mockRunRepo) RecordRun(ctx context.Context, uow tracking.UnitOfWork, run *tracking.BatchRun) error {
	args := m.Called(ctx, uow, run)
	return args.Error(0)
}

// mockDetector implements tracking.Detector for testing.
type mockDetector struct{ mock.Mock }

func (m *mockDetector) Detect(ctx context.Context, ref tracking.ImageRef) ([]tracking.Detection, tracking.ImageDimensions, error) {
	args := m.Called(ctx, ref)
	var detections []tracking.Detection
	if d := args.Get(0); d != nil {
		detections = d.([]tracking.Detection)
	}
	return detections, args.Get(1).(tracking.ImageDimensions), args.Error(2)
}

// sliceFeed implements tracking.ImageFeed over a fixed slice.
type sliceFeed struct {
	refs   []tracking.ImageRef
	pos    int
	err    error
	closed bool
}

func (f *sliceFeed) Next(ctx context.Context) (tracking.ImageRef, bool, error) {
	if f.err != nil {
		return tracking.ImageRef{}, false, f.err
	}
	if f.pos >= len(f.refs) {
		return tracking.ImageRef{}, false, nil
	}
	ref := f.refs[f.pos]
	f.pos++
	return ref, true, nil
}

func (f *sliceFeed) Close() error {
	f.closed = true
	return nil
}
