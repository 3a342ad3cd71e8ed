package tracking

import "context"

// UnitOfWork is an opaque handle to one transactional scope. It is issued by a
// UnitOfWorkRunner and passed through to repositories, which bind it to their
// backing transaction. Repositories never open transactions of their own, so
// every write handed the same UnitOfWork commits or rolls back together.
type UnitOfWork interface {
	// ID identifies the scope for logging; implementations may return "".
	ID() string
}

// UnitOfWorkRunner executes a function inside a single transactional scope:
// commit on nil return, rollback on error with the identical error propagated,
// and the underlying session released on every exit path.
type UnitOfWorkRunner interface {
	WithinUnitOfWork(ctx context.Context, fn func(ctx context.Context, uow UnitOfWork) error) error
}

// ImageStatusRepository persists the claim/complete state machine. All methods
// operate on the caller's unit of work.
type ImageStatusRepository interface {
	// Claim upserts the image to in_progress. Concurrent claims on the same
	// key race under last-write-wins unless the store was built in strict
	// mode, in which case a lost race returns ErrAlreadyClaimed.
	Claim(ctx context.Context, uow UnitOfWork, ref ImageRef) error

	// Complete upserts the image to processed. Idempotent under retry.
	Complete(ctx context.Context, uow UnitOfWork, ref ImageRef) error

	// QueryCompleted returns the (upload date, filename) pairs for a customer
	// whose status is one of the given statuses.
	QueryCompleted(ctx context.Context, uow UnitOfWork, customer string, statuses []ProcessingStatus) ([]ImageRef, error)
}

// DetectionRepository persists detection outcomes. Rows are append-only per
// run and never mutated.
type DetectionRepository interface {
	// RecordOutcome inserts one row per positive detection, or exactly one
	// negative row when detections is empty.
	RecordOutcome(ctx context.Context, uow UnitOfWork, ref ImageRef, runID string, dims ImageDimensions, detections []Detection) error
}

// RunRepository persists batch run audit records.
type RunRepository interface {
	// RecordRun inserts the terminal audit row for a run. The store does not
	// enforce run-ID exclusivity.
	RecordRun(ctx context.Context, uow UnitOfWork, run *BatchRun) error
}

// Detector is the external inference collaborator. An empty result is a valid
// outcome, distinct from an error.
type Detector interface {
	Detect(ctx context.Context, ref ImageRef) ([]Detection, ImageDimensions, error)
}

// ImageFeed is the external dataset collaborator: a lazy, finite sequence of
// image identifiers. Next returns ok=false once the feed is drained.
type ImageFeed interface {
	Next(ctx context.Context) (ref ImageRef, ok bool, err error)
	Close() error
}
