// Package tracking contains the domain model for batch image-processing
// bookkeeping: which images have been claimed and processed, what was detected
// in them, and how each batch run terminated.
package tracking

import (
	"fmt"
	"time"
)

// ImageRef identifies a single customer image. The triple is the logical key
// shared by the processing-status and detection tables; it is never surrogate-keyed.
type ImageRef struct {
	Customer   string
	UploadDate time.Time // date precision; time-of-day is ignored
	Filename   string
}

// NewImageRef constructs an ImageRef, truncating the upload date to day precision.
func NewImageRef(customer string, uploadDate time.Time, filename string) ImageRef {
	return ImageRef{
		Customer:   customer,
		UploadDate: uploadDate.Truncate(24 * time.Hour),
		Filename:   filename,
	}
}

// Key returns a stable human-readable identifier for logs and span attributes.
func (r ImageRef) Key() string {
	return fmt.Sprintf("%s/%s/%s", r.Customer, r.UploadDate.Format("2006-01-02"), r.Filename)
}

// ProcessingStatus represents the claim/complete state of an image. The absence
// of a status row means the image is unclaimed.
type ProcessingStatus string

const (
	// StatusInProgress marks an image as claimed by a worker.
	StatusInProgress ProcessingStatus = "in_progress"

	// StatusProcessed marks an image as fully processed and recorded.
	StatusProcessed ProcessingStatus = "processed"
)

func (s ProcessingStatus) String() string { return string(s) }

// ParseProcessingStatus converts a stored string to a ProcessingStatus.
func ParseProcessingStatus(s string) (ProcessingStatus, error) {
	switch s {
	case "in_progress":
		return StatusInProgress, nil
	case "processed":
		return StatusProcessed, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrStatusUnknown, s)
	}
}

// ValidateTransition checks a status transition against the claim/complete
// lifecycle. Re-claiming an in_progress image and re-completing a processed one
// are both legal: claims race under last-write-wins and completion is idempotent.
func (s ProcessingStatus) ValidateTransition(target ProcessingStatus) error {
	if !s.isValidTransition(target) {
		return fmt.Errorf("invalid processing status transition from %s to %s", s, target)
	}
	return nil
}

func (s ProcessingStatus) isValidTransition(target ProcessingStatus) bool {
	switch s {
	case StatusInProgress:
		return target == StatusInProgress || target == StatusProcessed
	case StatusProcessed:
		// Completion must stay safe under retry and replay.
		return target == StatusProcessed
	default:
		return false
	}
}
