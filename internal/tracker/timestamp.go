package tracker

import (
	"fmt"
	"time"
)

var timestampLayouts = []string{
	"2006-01-02T15:04:05.000-0700",
	"2006-01-02T15:04:05-0700",
	time.RFC3339Nano,
}

// ParseTimestamp parses a tracker timestamp such as 2026-01-15T10:30:00.000+0000.
// An empty string yields nil.
func ParseTimestamp(ts string) (*time.Time, error) {
	if ts == "" {
		return nil, nil
	}
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, ts); err == nil {
			utc := t.UTC()
			return &utc, nil
		}
	}
	return nil, fmt.Errorf("unrecognized timestamp format: %q", ts)
}
