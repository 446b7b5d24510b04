// Package timestamp provides standardized Unix timestamp handling utilities.
//
// The evaluator uses int64 milliseconds as the canonical timestamp format on
// the wire. All timestamps are milliseconds since Unix epoch (UTC). A value of
// 0 means "not set".
package timestamp

import (
	"strconv"
	"time"
)

// Now returns the current time as Unix milliseconds.
func Now() int64 {
	return time.Now().UnixMilli()
}

// ToUnixMs converts a time.Time to Unix milliseconds.
func ToUnixMs(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}

// FromUnixMs converts Unix milliseconds to time.Time.
// Returns zero time if timestamp is 0.
func FromUnixMs(ms int64) time.Time {
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms)
}

// ToTime is an alias for FromUnixMs for better readability.
func ToTime(ms int64) time.Time {
	return FromUnixMs(ms)
}

// Format converts Unix milliseconds to an RFC3339 string for display.
// Returns empty string if timestamp is 0.
func Format(ms int64) string {
	if ms == 0 {
		return ""
	}
	return time.UnixMilli(ms).UTC().Format(time.RFC3339)
}

// Parse converts various timestamp representations to Unix milliseconds.
// Supports int64/float64 (values above 1e12 are treated as milliseconds,
// smaller values as seconds), RFC3339 strings, numeric strings, and
// time.Time. Returns 0 for anything it cannot interpret.
func Parse(input any) int64 {
	if input == nil {
		return 0
	}

	switch v := input.(type) {
	case int64:
		return normalize(v)
	case int:
		return normalize(int64(v))
	case int32:
		return normalize(int64(v))
	case float64:
		return normalize(int64(v))
	case time.Time:
		return ToUnixMs(v)
	case string:
		if v == "" {
			return 0
		}
		if t, err := time.Parse(time.RFC3339, v); err == nil {
			return t.UnixMilli()
		}
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			return normalize(n)
		}
		return 0
	default:
		return 0
	}
}

// normalize interprets a bare number as milliseconds or seconds.
// Values above 1e12 (year 2001 expressed in ms) are already milliseconds.
func normalize(v int64) int64 {
	if v == 0 {
		return 0
	}
	if v > 1e12 {
		return v
	}
	return v * 1000
}
