// Package feed provides dataset collaborators: lazy, finite sequences of
// image identifiers for the orchestrator to drain.
package feed

import (
	"context"

	"github.com/streetlens/batchtrack/internal/domain/tracking"
)

// StaticFeed serves a fixed, pre-enumerated list of image references. It is
// the adapter for manifest files that an external dataset collaborator has
// already expanded.
type StaticFeed struct {
	refs []tracking.ImageRef
	pos  int
}

// NewStaticFeed creates a feed over the given references.
func NewStaticFeed(refs []tracking.ImageRef) *StaticFeed {
	return &StaticFeed{refs: refs}
}

// Next returns the next reference, or ok=false once the list is exhausted.
func (f *StaticFeed) Next(ctx context.Context) (tracking.ImageRef, bool, error) {
	if err := ctx.Err(); err != nil {
		return tracking.ImageRef{}, false, err
	}
	if f.pos >= len(f.refs) {
		return tracking.ImageRef{}, false, nil
	}
	ref := f.refs[f.pos]
	f.pos++
	return ref, true, nil
}

// Close implements tracking.ImageFeed; a static feed holds no resources.
func (f *StaticFeed) Close() error { return nil }
