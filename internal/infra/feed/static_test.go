package feed

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/streetlens/batchtrack/internal/domain/tracking"
)

func TestStaticFeed_DrainsInOrder(t *testing.T) {
	t.Parallel()

	date := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	refs := []tracking.ImageRef{
		tracking.NewImageRef("acme", date, "a.jpg"),
		tracking.NewImageRef("acme", date, "b.jpg"),
	}
	f := NewStaticFeed(refs)
	defer f.Close()

	for _, want := range refs {
		got, ok, err := f.Next(context.Background())
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, want, got)
	}

	_, ok, err := f.Next(context.Background())
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestStaticFeed_CanceledContext(t *testing.T) {
	t.Parallel()

	f := NewStaticFeed([]tracking.ImageRef{{Customer: "acme", Filename: "a.jpg"}})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, _, err := f.Next(ctx)
	require.ErrorIs(t, err, context.Canceled)
}
