package tracking

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseProcessingStatus(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		input   string
		want    ProcessingStatus
		wantErr bool
	}{
		{name: "in progress", input: "in_progress", want: StatusInProgress},
		{name: "processed", input: "processed", want: StatusProcessed},
		{name: "unknown", input: "queued", wantErr: true},
		{name: "empty", input: "", wantErr: true},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, err := ParseProcessingStatus(tt.input)
			if tt.wantErr {
				require.ErrorIs(t, err, ErrStatusUnknown)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestProcessingStatusTransitions(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		from    ProcessingStatus
		to      ProcessingStatus
		wantErr bool
	}{
		{name: "claim to complete", from: StatusInProgress, to: StatusProcessed},
		{name: "re-claim is last write wins", from: StatusInProgress, to: StatusInProgress},
		{name: "complete is idempotent", from: StatusProcessed, to: StatusProcessed},
		{name: "processed cannot revert to in progress", from: StatusProcessed, to: StatusInProgress, wantErr: true},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			err := tt.from.ValidateTransition(tt.to)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			assert.NoError(t, err)
		})
	}
}

func TestImageRefKey(t *testing.T) {
	t.Parallel()

	ref := NewImageRef("acme", time.Date(2024, 1, 1, 13, 45, 0, 0, time.UTC), "img1.jpg")
	assert.Equal(t, "acme/2024-01-01/img1.jpg", ref.Key())
	assert.Equal(t, time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), ref.UploadDate,
		"upload date should be truncated to day precision")
}
