package tracking

import (
	"fmt"
	"time"
)

// RunStatus represents the lifecycle of one batch run. A run is RUNNING from
// start until exactly one terminal outcome is recorded.
type RunStatus string

const (
	// RunStatusRunning indicates the batch run is still executing.
	RunStatusRunning RunStatus = "RUNNING"

	// RunStatusSucceeded indicates the run finished and all bookkeeping committed.
	RunStatusSucceeded RunStatus = "SUCCEEDED"

	// RunStatusFailed indicates the run terminated with an error.
	RunStatusFailed RunStatus = "FAILED"
)

func (s RunStatus) String() string { return string(s) }

// ValidateTransition enforces the RUNNING → {SUCCEEDED, FAILED} lifecycle.
// Both outcomes are terminal.
func (s RunStatus) ValidateTransition(target RunStatus) error {
	if s != RunStatusRunning || (target != RunStatusSucceeded && target != RunStatusFailed) {
		return fmt.Errorf("invalid run status transition from %s to %s", s, target)
	}
	return nil
}

// BatchRun is the audit record for one execution of the batch orchestrator.
// The store does not enforce one terminal row per run ID; replaying a run ID
// produces duplicate rows, which operators must treat as replays.
type BatchRun struct {
	runID     string
	startTime time.Time
	endTime   time.Time
	model     string
	status    RunStatus
	errorCode string
}

// NewBatchRun starts the audit lifecycle for a run. The run ID and model are
// required; there are no placeholder defaults.
func NewBatchRun(runID, model string, startTime time.Time) (*BatchRun, error) {
	if runID == "" {
		return nil, fmt.Errorf("%w: run ID", ErrMissingRunField)
	}
	if model == "" {
		return nil, fmt.Errorf("%w: model", ErrMissingRunField)
	}
	return &BatchRun{
		runID:     runID,
		startTime: startTime,
		model:     model,
		status:    RunStatusRunning,
	}, nil
}

// Succeed marks the run as successfully completed.
func (r *BatchRun) Succeed(endTime time.Time) error {
	if err := r.status.ValidateTransition(RunStatusSucceeded); err != nil {
		return err
	}
	r.status = RunStatusSucceeded
	r.endTime = endTime
	return nil
}

// Fail marks the run as terminally failed, capturing the stringified cause.
func (r *BatchRun) Fail(endTime time.Time, cause error) error {
	if err := r.status.ValidateTransition(RunStatusFailed); err != nil {
		return err
	}
	r.status = RunStatusFailed
	r.endTime = endTime
	if cause != nil {
		r.errorCode = cause.Error()
	}
	return nil
}

func (r *BatchRun) RunID() string        { return r.runID }
func (r *BatchRun) StartTime() time.Time { return r.startTime }
func (r *BatchRun) EndTime() time.Time   { return r.endTime }
func (r *BatchRun) Model() string        { return r.model }
func (r *BatchRun) Status() RunStatus    { return r.status }

// Success reports whether the run reached its successful terminal state.
func (r *BatchRun) Success() bool { return r.status == RunStatusSucceeded }

// ErrorCode returns the stringified failure cause, or the empty string for a
// successful run.
func (r *BatchRun) ErrorCode() string { return r.errorCode }
