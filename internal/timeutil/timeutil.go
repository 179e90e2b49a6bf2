package timeutil

import (
	"errors"
	"strings"
	"time"
)

// Layouts accepted without a zone offset. They are read as UTC.
var naiveLayouts = []string{
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
	"2006-01-02",
}

// ParseTimestamp accepts RFC 3339 timestamps as well as zone-less timestamps
// and plain dates, which are interpreted as UTC.
func ParseTimestamp(value string) (time.Time, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return time.Time{}, errors.New("timestamp is required")
	}
	if parsed, err := time.Parse(time.RFC3339Nano, trimmed); err == nil {
		return parsed.UTC(), nil
	}
	for _, layout := range naiveLayouts {
		if parsed, err := time.ParseInLocation(layout, trimmed, time.UTC); err == nil {
			return parsed, nil
		}
	}
	return time.Time{}, errors.New("invalid timestamp")
}

// ParseOptionalTimestamp returns nil for blank input.
func ParseOptionalTimestamp(value string) (*time.Time, error) {
	if strings.TrimSpace(value) == "" {
		return nil, nil
	}
	parsed, err := ParseTimestamp(value)
	if err != nil {
		return nil, err
	}
	return &parsed, nil
}
