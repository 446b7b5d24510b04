package timestamp

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRoundTrip(t *testing.T) {
	now := time.Now().Truncate(time.Millisecond)
	ms := ToUnixMs(now)
	assert.Equal(t, now.UnixMilli(), ms)
	assert.True(t, FromUnixMs(ms).Equal(now))
}

func TestZeroValues(t *testing.T) {
	assert.Equal(t, int64(0), ToUnixMs(time.Time{}))
	assert.True(t, FromUnixMs(0).IsZero())
	assert.Equal(t, "", Format(0))
}

func TestParse(t *testing.T) {
	tests := []struct {
		name     string
		input    any
		expected int64
	}{
		{"nil", nil, 0},
		{"zero int64", int64(0), 0},
		{"milliseconds", int64(1672574400000), 1672574400000},
		{"seconds promoted", int64(1672574400), 1672574400000},
		{"float milliseconds", float64(1672574400000), 1672574400000},
		{"rfc3339 string", "2023-01-01T12:00:00Z", 1672574400000},
		{"numeric string", "1672574400000", 1672574400000},
		{"garbage string", "not-a-time", 0},
		{"unsupported type", struct{}{}, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, Parse(tt.input))
		})
	}
}

func TestFormat(t *testing.T) {
	assert.Equal(t, "2023-01-01T12:00:00Z", Format(1672574400000))
}
