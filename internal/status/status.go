// Package status owns the canonical three-value work status shared by
// mirrored remote issues and locally authored tasks.
//
// Free-form status text never travels past this package: callers convert it
// with Normalize at the boundary and work with Status from then on.
package status

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// Status is the canonical work status. Values are ordered; see Ordinal.
type Status string

const (
	Todo       Status = "todo"
	InProgress Status = "in_progress"
	Done       Status = "done"
)

// All lists the canonical statuses in progression order.
var All = []Status{Todo, InProgress, Done}

var (
	// ErrInvalidStatus indicates text that does not normalize to a canonical status.
	ErrInvalidStatus = errors.New("invalid status")

	// ErrInvalidTransition is returned when a status would move backwards.
	// The message is part of the public contract and must not change.
	ErrInvalidTransition = errors.New("Invalid status transition. Tasks cannot move backwards.")
)

// acceptedForms is echoed back to callers so they can correct their input.
const acceptedForms = `"todo" (also "to do", "to-do"), "in_progress" (also "in progress", "in-progress"), "done" (also "completed")`

// InvalidStatusError carries the rejected input.
type InvalidStatusError struct {
	Input string
}

func (e *InvalidStatusError) Error() string {
	return fmt.Sprintf("invalid status %q: accepted values are %s", e.Input, acceptedForms)
}

// Unwrap allows errors.Is(err, ErrInvalidStatus).
func (e *InvalidStatusError) Unwrap() error {
	return ErrInvalidStatus
}

var separatorRun = regexp.MustCompile(`[\s\-_]+`)

var synonyms = map[string]Status{
	"to_do":     Todo,
	"completed": Done,
}

// Normalize converts free text into a canonical Status.
// Input is trimmed and lowercased, runs of whitespace, hyphens and
// underscores collapse to a single underscore, and known synonyms are mapped.
func Normalize(text string) (Status, error) {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return "", &InvalidStatusError{Input: text}
	}

	key := separatorRun.ReplaceAllString(strings.ToLower(trimmed), "_")
	if s, ok := synonyms[key]; ok {
		return s, nil
	}

	s := Status(key)
	if !s.Valid() {
		return "", &InvalidStatusError{Input: text}
	}
	return s, nil
}

// Valid reports whether s is one of the canonical values.
func (s Status) Valid() bool {
	return s.Ordinal() >= 0
}

// Ordinal returns the position of s in the progression, or -1 if s is not canonical.
func (s Status) Ordinal() int {
	switch s {
	case Todo:
		return 0
	case InProgress:
		return 1
	case Done:
		return 2
	default:
		return -1
	}
}

// GuardForwardOnly rejects a move from current to next when next comes
// earlier in the progression. Re-submitting the same status is allowed.
func GuardForwardOnly(current, next Status) error {
	if next.Ordinal() < current.Ordinal() {
		return ErrInvalidTransition
	}
	return nil
}

// remoteNames maps common tracker workflow names that Normalize does not
// recognise onto the canonical progression.
var remoteNames = map[string]Status{
	"open":      Todo,
	"backlog":   Todo,
	"new":       Todo,
	"in_review": InProgress,
	"review":    InProgress,
	"blocked":   InProgress,
	"closed":    Done,
	"resolved":  Done,
}

// FromRemote maps a tracker workflow status name onto the canonical
// progression. Unknown names fall through to Normalize.
func FromRemote(name string) (Status, error) {
	key := separatorRun.ReplaceAllString(strings.ToLower(strings.TrimSpace(name)), "_")
	if s, ok := remoteNames[key]; ok {
		return s, nil
	}
	return Normalize(name)
}
