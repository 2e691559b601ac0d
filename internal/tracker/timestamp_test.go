package tracker

import (
	"testing"
	"time"
)

func TestParseTimestamp(t *testing.T) {
	want := time.Date(2026, 1, 15, 10, 30, 0, 0, time.UTC)
	inputs := []string{
		"2026-01-15T10:30:00.000+0000",
		"2026-01-15T12:30:00.000+0200",
		"2026-01-15T10:30:00+0000",
		"2026-01-15T10:30:00Z",
	}
	for _, in := range inputs {
		got, err := ParseTimestamp(in)
		if err != nil {
			t.Errorf("ParseTimestamp(%q) error = %v", in, err)
			continue
		}
		if !got.Equal(want) || got.Location() != time.UTC {
			t.Errorf("ParseTimestamp(%q) = %v, want %v", in, got, want)
		}
	}

	if got, err := ParseTimestamp(""); got != nil || err != nil {
		t.Errorf("ParseTimestamp(\"\") = %v, %v", got, err)
	}
	if _, err := ParseTimestamp("yesterday"); err == nil {
		t.Error("ParseTimestamp(garbage) returned no error")
	}
}
