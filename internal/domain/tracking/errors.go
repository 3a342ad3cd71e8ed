package tracking

import "errors"

var (
	// ErrStatusUnknown indicates a stored processing status that is not part of
	// the claim/complete lifecycle.
	ErrStatusUnknown = errors.New("processing status unknown")

	// ErrMissingRunField indicates a batch run was constructed without a
	// required identifier. Run metadata is always explicit; nothing defaults.
	ErrMissingRunField = errors.New("missing required batch run field")

	// ErrMissingReportingConfig indicates run reporting was required but no
	// database configuration was supplied. Raised before any work starts.
	ErrMissingReportingConfig = errors.New("run reporting required but database configuration missing")

	// ErrAlreadyClaimed indicates a strict-mode claim found the image already
	// in progress. Never returned in the default last-write-wins mode.
	ErrAlreadyClaimed = errors.New("image already claimed")
)
