package kafka

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/IBM/sarama"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/streetlens/batchtrack/internal/domain/tracking"
)

// offsetClient stubs the two sarama.Client calls the feed uses to bound its
// drain. Every other method panics through the embedded nil interface.
type offsetClient struct {
	sarama.Client
	partitions []int32
	oldest     map[int32]int64
	newest     map[int32]int64
}

func (c *offsetClient) Partitions(string) ([]int32, error) { return c.partitions, nil }

func (c *offsetClient) GetOffset(_ string, partition int32, at int64) (int64, error) {
	if at == sarama.OffsetOldest {
		return c.oldest[partition], nil
	}
	return c.newest[partition], nil
}

func TestPartitionSpans_SkipsPartitionsWithNothingToRead(t *testing.T) {
	t.Parallel()

	client := &offsetClient{
		partitions: []int32{0, 1, 2, 3},
		oldest:     map[int32]int64{0: 0, 1: 5, 2: 0, 3: 3},
		newest:     map[int32]int64{0: 5, 1: 5, 2: 0, 3: 7},
	}

	spans, err := partitionSpans(client, "manifest")
	require.NoError(t, err)

	// Partition 1 was fully truncated by retention (log start caught up with
	// the high-water mark) and partition 2 never held a message. Consuming
	// either would wait forever on offsets that do not exist yet.
	require.Len(t, spans, 2)
	assert.Equal(t, partitionSpan{partition: 0, begin: 0, end: 5}, spans[0])
	assert.Equal(t, partitionSpan{partition: 3, begin: 3, end: 7}, spans[1])
}

func TestPartitionSpans_ConsumesFromLogStartOffset(t *testing.T) {
	t.Parallel()

	client := &offsetClient{
		partitions: []int32{0},
		oldest:     map[int32]int64{0: 12},
		newest:     map[int32]int64{0: 20},
	}

	spans, err := partitionSpans(client, "manifest")
	require.NoError(t, err)
	require.Len(t, spans, 1)
	assert.Equal(t, int64(12), spans[0].begin)
}

func drainedFeed() *Feed {
	refs := make(chan tracking.ImageRef)
	close(refs)
	return &Feed{refs: refs, errs: make(chan error, 1), done: make(chan struct{})}
}

func TestNext_ExhaustionAfterDrain(t *testing.T) {
	t.Parallel()

	f := drainedFeed()
	_, ok, err := f.Next(context.Background())
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestNext_CanceledContextIsNotExhaustion(t *testing.T) {
	t.Parallel()

	// Cancellation stops the drain goroutines and closes refs; Next must
	// surface the cancellation instead of reporting a completed drain.
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	f := drainedFeed()
	_, ok, err := f.Next(ctx)
	assert.False(t, ok)
	require.ErrorIs(t, err, context.Canceled)
}

func TestNext_LateErrorWinsOverExhaustion(t *testing.T) {
	t.Parallel()

	f := drainedFeed()
	drainErr := errors.New("partition consumer error")
	f.errs <- drainErr

	_, ok, err := f.Next(context.Background())
	assert.False(t, ok)
	require.ErrorIs(t, err, drainErr)
}

func TestNext_DeliversBufferedRef(t *testing.T) {
	t.Parallel()

	refs := make(chan tracking.ImageRef, 1)
	want := tracking.NewImageRef("acme", time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), "img1.jpg")
	refs <- want
	f := &Feed{refs: refs, errs: make(chan error, 1), done: make(chan struct{})}

	got, ok, err := f.Next(context.Background())
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, want, got)
}
