package types

import (
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/hyperengineering/issuesync/internal/status"
)

func TestParsePriority(t *testing.T) {
	tests := []struct {
		in   string
		want Priority
		ok   bool
	}{
		{"Highest", PriorityHighest, true},
		{"HIGH", PriorityHigh, true},
		{"medium", PriorityMedium, true},
		{" Low ", PriorityLow, true},
		{"Lowest", PriorityLowest, true},
		{"", "", false},
		{"Blocker", "", false},
		{"P1", "", false},
	}
	for _, tt := range tests {
		got := ParsePriority(tt.in)
		if !tt.ok {
			if got != nil {
				t.Errorf("ParsePriority(%q) = %q, want nil", tt.in, *got)
			}
			continue
		}
		if got == nil || *got != tt.want {
			t.Errorf("ParsePriority(%q) = %v, want %q", tt.in, got, tt.want)
		}
	}
}

func TestPriority_TrackerName(t *testing.T) {
	if got := PriorityHighest.TrackerName(); got != "Highest" {
		t.Errorf("TrackerName() = %q", got)
	}
	if got := Priority("").TrackerName(); got != "" {
		t.Errorf("TrackerName(empty) = %q", got)
	}
}

func TestNormalizeBaseURL(t *testing.T) {
	tests := map[string]string{
		"https://team.atlassian.net/":  "https://team.atlassian.net",
		"https://team.atlassian.net//": "https://team.atlassian.net",
		" https://team.atlassian.net ": "https://team.atlassian.net",
		"https://team.atlassian.net":   "https://team.atlassian.net",
		"https://host/jira/":           "https://host/jira",
	}
	for in, want := range tests {
		if got := NormalizeBaseURL(in); got != want {
			t.Errorf("NormalizeBaseURL(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestIntegrationView_OmitsToken(t *testing.T) {
	cfg := IntegrationConfig{
		ProjectID:      "p1",
		BaseURL:        "https://team.atlassian.net",
		Email:          "a@b.c",
		EncryptedToken: []byte("sealed"),
		ProjectKey:     "ABC",
		SyncStatus:     SyncPending,
	}

	data, err := json.Marshal(cfg.View())
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if strings.Contains(strings.ToLower(string(data)), "token") {
		t.Errorf("view JSON exposes a token field: %s", data)
	}
}

func TestLocalTask_ApplyStatus(t *testing.T) {
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	later := now.Add(time.Hour)

	task := &LocalTask{Status: status.Todo}

	// Given: a todo task
	// When: it moves to in_progress
	task.ApplyStatus(status.InProgress, now)
	// Then: no completion stamp
	if task.CompletedAt != nil {
		t.Fatalf("CompletedAt set for in_progress")
	}

	task.ApplyStatus(status.Done, now)
	if task.CompletedAt == nil || !task.CompletedAt.Equal(now) {
		t.Fatalf("CompletedAt = %v, want %v", task.CompletedAt, now)
	}

	// Re-submitting done keeps the original stamp.
	task.ApplyStatus(status.Done, later)
	if !task.CompletedAt.Equal(now) {
		t.Errorf("CompletedAt changed on idempotent done: %v", task.CompletedAt)
	}

	// Administrative move away from done clears it.
	task.ApplyStatus(status.Todo, later)
	if task.CompletedAt != nil {
		t.Errorf("CompletedAt = %v after leaving done, want nil", task.CompletedAt)
	}
	if task.Status != status.Todo {
		t.Errorf("Status = %q", task.Status)
	}
}

func TestLocalTask_ApplyStatus_RepairsMissingStamp(t *testing.T) {
	task := &LocalTask{Status: status.Done}
	task.ApplyStatus(status.Done, time.Now())
	if task.CompletedAt == nil {
		t.Error("done task without stamp was not repaired")
	}
}

func TestRemoteIssue_SameContent(t *testing.T) {
	created := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	high := PriorityHigh
	a := &RemoteIssue{
		ID: "local-1", ProjectID: "p", RemoteID: "10001", Key: "ABC-1",
		Summary: "s", Priority: &high, Status: "To Do",
		RemoteCreated: &created, LastSyncedAt: created,
	}
	b := *a
	b.ID = "local-2"
	b.LastSyncedAt = created.Add(time.Hour)
	createdCopy := created
	b.RemoteCreated = &createdCopy
	highCopy := PriorityHigh
	b.Priority = &highCopy

	if !a.SameContent(&b) {
		t.Error("rows differing only in bookkeeping reported as different")
	}

	b.Priority = nil
	if a.SameContent(&b) {
		t.Error("priority change not detected")
	}
}
