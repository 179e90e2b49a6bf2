package timeutil

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseTimestamp(t *testing.T) {
	tests := []struct {
		in   string
		want time.Time
	}{
		{"2026-03-01T08:30:00Z", time.Date(2026, 3, 1, 8, 30, 0, 0, time.UTC)},
		{"2026-03-01T10:30:00+02:00", time.Date(2026, 3, 1, 8, 30, 0, 0, time.UTC)},
		{"2026-03-01T08:30", time.Date(2026, 3, 1, 8, 30, 0, 0, time.UTC)},
		{" 2026-03-01 08:30:15 ", time.Date(2026, 3, 1, 8, 30, 15, 0, time.UTC)},
		{"2026-03-01", time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)},
	}
	for _, tt := range tests {
		got, err := ParseTimestamp(tt.in)
		require.NoError(t, err, tt.in)
		assert.True(t, tt.want.Equal(got), "%s: got %s", tt.in, got)
	}

	_, err := ParseTimestamp("yesterday")
	assert.Error(t, err)
	_, err = ParseTimestamp("  ")
	assert.Error(t, err)
}

func TestParseOptionalTimestamp(t *testing.T) {
	got, err := ParseOptionalTimestamp("")
	require.NoError(t, err)
	assert.Nil(t, got)

	got, err = ParseOptionalTimestamp("2026-03-01")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, 2026, got.Year())
}
