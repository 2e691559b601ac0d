package types

import (
	"strings"
	"time"

	"github.com/hyperengineering/issuesync/internal/status"
)

// SyncStatus is the state of the most recent sync run for a project.
type SyncStatus string

const (
	SyncPending SyncStatus = "pending"
	SyncRunning SyncStatus = "syncing"
	SyncSuccess SyncStatus = "success"
	SyncFailed  SyncStatus = "failed"
)

// IntegrationConfig is the per-project tracker credential record.
// EncryptedToken is sealed by the vault and never leaves the store layer
// except on its way to a transient decrypt.
type IntegrationConfig struct {
	ProjectID      string
	BaseURL        string
	Email          string
	EncryptedToken []byte
	ProjectKey     string
	LastSync       *time.Time
	SyncStatus     SyncStatus
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// View returns the token-free representation of the config.
func (c *IntegrationConfig) View() IntegrationView {
	return IntegrationView{
		ProjectID:  c.ProjectID,
		BaseURL:    c.BaseURL,
		Email:      c.Email,
		ProjectKey: c.ProjectKey,
		LastSync:   c.LastSync,
		SyncStatus: c.SyncStatus,
	}
}

// IntegrationView is the read DTO for an integration config. It has no token field.
type IntegrationView struct {
	ProjectID  string     `json:"project_id"`
	BaseURL    string     `json:"base_url"`
	Email      string     `json:"email"`
	ProjectKey string     `json:"project_key"`
	LastSync   *time.Time `json:"last_sync,omitempty"`
	SyncStatus SyncStatus `json:"sync_status"`
}

// NormalizeBaseURL trims whitespace and trailing slashes.
func NormalizeBaseURL(u string) string {
	return strings.TrimRight(strings.TrimSpace(u), "/")
}

// Priority is the closed priority scale shared by mirrored issues and tasks.
type Priority string

const (
	PriorityHighest Priority = "highest"
	PriorityHigh    Priority = "high"
	PriorityMedium  Priority = "medium"
	PriorityLow     Priority = "low"
	PriorityLowest  Priority = "lowest"
)

// ParsePriority lowercases a tracker priority name and matches it against
// the closed scale. Unknown or empty names yield nil, never an error.
func ParsePriority(name string) *Priority {
	p := Priority(strings.ToLower(strings.TrimSpace(name)))
	switch p {
	case PriorityHighest, PriorityHigh, PriorityMedium, PriorityLow, PriorityLowest:
		return &p
	default:
		return nil
	}
}

// TrackerName returns the tracker's display name for p.
func (p Priority) TrackerName() string {
	if p == "" {
		return ""
	}
	return strings.ToUpper(string(p[:1])) + string(p[1:])
}

// RemoteIssue is a local mirror row of a tracker issue.
// RemoteID is the immutable reconciliation key; Key is the human-readable
// identifier and may be renumbered remotely.
type RemoteIssue struct {
	ID                string     `json:"id"`
	ProjectID         string     `json:"project_id"`
	RemoteID          string     `json:"remote_id"`
	Key               string     `json:"key"`
	IssueType         string     `json:"issue_type"`
	Summary           string     `json:"summary"`
	Description       string     `json:"description"`
	Priority          *Priority  `json:"priority"`
	Status            string     `json:"status"`
	AssigneeAccountID string     `json:"assignee_account_id,omitempty"`
	RemoteCreated     *time.Time `json:"remote_created,omitempty"`
	RemoteUpdated     *time.Time `json:"remote_updated,omitempty"`
	LastSyncedAt      time.Time  `json:"last_synced_at"`
}

// SameContent reports whether two mirror rows carry identical synced content.
// Local bookkeeping (ID, LastSyncedAt) is ignored.
func (r *RemoteIssue) SameContent(o *RemoteIssue) bool {
	return r.ProjectID == o.ProjectID &&
		r.RemoteID == o.RemoteID &&
		r.Key == o.Key &&
		r.IssueType == o.IssueType &&
		r.Summary == o.Summary &&
		r.Description == o.Description &&
		equalPriority(r.Priority, o.Priority) &&
		r.Status == o.Status &&
		r.AssigneeAccountID == o.AssigneeAccountID &&
		equalTime(r.RemoteCreated, o.RemoteCreated) &&
		equalTime(r.RemoteUpdated, o.RemoteUpdated)
}

func equalPriority(a, b *Priority) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

func equalTime(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.Equal(*b)
}

// LocalTask is a work item authored in this system.
// CompletedAt is non-nil exactly when Status is done.
type LocalTask struct {
	ID            string        `json:"id"`
	ProjectID     string        `json:"project_id"`
	Title         string        `json:"title"`
	Description   string        `json:"description,omitempty"`
	Status        status.Status `json:"status"`
	Priority      *Priority     `json:"priority"`
	AssigneeID    *string       `json:"assignee_id"`
	RemoteIssueID *string       `json:"remote_issue_id"`
	RequirementID *string       `json:"requirement_id"`
	CompletedAt   *time.Time    `json:"completed_at"`
	CreatedAt     time.Time     `json:"created_at"`
	UpdatedAt     time.Time     `json:"updated_at"`
}

// ApplyStatus sets Status and keeps CompletedAt consistent with it.
// Entering done stamps now; leaving done clears the stamp; staying done keeps it.
func (t *LocalTask) ApplyStatus(s status.Status, now time.Time) {
	if s == status.Done {
		if t.Status != status.Done || t.CompletedAt == nil {
			ts := now.UTC()
			t.CompletedAt = &ts
		}
	} else {
		t.CompletedAt = nil
	}
	t.Status = s
}

// SyncOutcome reports one sync run. It is not persisted beyond the config's
// LastSync and SyncStatus fields.
type SyncOutcome struct {
	ProjectID     string     `json:"project_id"`
	Total         int        `json:"total"`
	NewIssues     int        `json:"new_issues"`
	UpdatedIssues int        `json:"updated_issues"`
	FailedIssues  int        `json:"failed_issues"`
	Errors        []string   `json:"errors"`
	Status        SyncStatus `json:"status"`
	Timestamp     time.Time  `json:"timestamp"`
}

// Role is a platform role.
type Role string

const (
	RoleAdmin    Role = "admin"
	RoleLecturer Role = "lecturer"
	RoleStudent  Role = "student"
)

// User is a platform account as seen by this engine.
// RemoteAccountID is self-reported by the user and not verified against the tracker.
type User struct {
	ID              string `json:"id"`
	Name            string `json:"name"`
	Email           string `json:"email"`
	Role            Role   `json:"role"`
	RemoteAccountID string `json:"remote_account_id,omitempty"`
}

// Group is a student team supervised by one lecturer and led by one student.
type Group struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	LecturerID string `json:"lecturer_id,omitempty"`
	LeaderID   string `json:"leader_id,omitempty"`
}

// Project belongs to exactly one group.
type Project struct {
	ID      string `json:"id"`
	GroupID string `json:"group_id"`
	Name    string `json:"name"`
}

// Requirement is a locally authored requirement a task may reference.
type Requirement struct {
	ID        string `json:"id"`
	ProjectID string `json:"project_id"`
	Title     string `json:"title"`
}

// ConnectionReport is the result of testing a stored integration.
type ConnectionReport struct {
	Connected   bool   `json:"connected"`
	Message     string `json:"message"`
	ProjectName string `json:"project_name,omitempty"`
	ProjectKey  string `json:"project_key,omitempty"`
}

// IntegrationRequest carries credentials for configure and update.
type IntegrationRequest struct {
	BaseURL    string `json:"base_url"`
	Email      string `json:"email"`
	APIToken   string `json:"api_token"`
	ProjectKey string `json:"project_key"`
}

// CreateTaskRequest represents a request to author a local task.
type CreateTaskRequest struct {
	Title         string  `json:"title"`
	Description   string  `json:"description,omitempty"`
	Status        string  `json:"status,omitempty"`
	Priority      string  `json:"priority,omitempty"`
	AssigneeID    *string `json:"assignee_id,omitempty"`
	RequirementID *string `json:"requirement_id,omitempty"`
}

// TaskStatusRequest represents a status change on a local task.
type TaskStatusRequest struct {
	Status string `json:"status"`
}

// LinkTaskRequest links a local task to a mirrored issue by key.
type LinkTaskRequest struct {
	IssueKey string `json:"issue_key"`
}

// UpdateIssueRequest is a partial edit of a mirrored issue. Omitted fields
// are untouched; an empty string clears the field on the tracker.
type UpdateIssueRequest struct {
	Summary     *string `json:"summary,omitempty"`
	Description *string `json:"description,omitempty"`
	Priority    *string `json:"priority,omitempty"`
	AssigneeID  *string `json:"assignee_account_id,omitempty"`
}

// LinkIssuesRequest links the path issue to another issue.
type LinkIssuesRequest struct {
	IssueKey string `json:"issue_key"`
	LinkType string `json:"link_type,omitempty"`
}

// SprintRequest moves an issue into a sprint.
type SprintRequest struct {
	SprintID int `json:"sprint_id"`
}

// HealthResponse represents the health check response
type HealthResponse struct {
	Status        string `json:"status"`
	Version       string `json:"version"`
	Integrations  int64  `json:"integrations"`
	MirroredCount int64  `json:"mirrored_issues"`
}
