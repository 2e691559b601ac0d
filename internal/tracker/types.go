// Package tracker is a stateless HTTP client for the remote issue tracker
// (Jira Cloud REST v3 and Agile 1.0 wire shapes).
package tracker

import (
	"encoding/json"
	"fmt"
)

// Issue represents an issue from the tracker REST API.
type Issue struct {
	ID     string      `json:"id"`
	Key    string      `json:"key"`
	Self   string      `json:"self,omitempty"`
	Fields IssueFields `json:"fields"`
}

// IssueFields contains the fields of an issue.
type IssueFields struct {
	Summary     string          `json:"summary"`
	Description json.RawMessage `json:"description"` // ADF document or plain string
	Status      *NamedField     `json:"status"`
	Priority    *NamedField     `json:"priority"`
	IssueType   *NamedField     `json:"issuetype"`
	Project     *ProjectRef     `json:"project"`
	Assignee    *User           `json:"assignee"`
	Created     string          `json:"created"`
	Updated     string          `json:"updated"`
}

// NamedField is the {id, name} shape shared by status, priority and issue type.
type NamedField struct {
	ID   string `json:"id,omitempty"`
	Name string `json:"name"`
}

// ProjectRef is the project reference embedded in an issue.
type ProjectRef struct {
	ID  string `json:"id,omitempty"`
	Key string `json:"key"`
}

// User represents a tracker account.
type User struct {
	AccountID    string `json:"accountId"`
	DisplayName  string `json:"displayName,omitempty"`
	EmailAddress string `json:"emailAddress,omitempty"`
}

// Project is the response of the project endpoint.
type Project struct {
	ID   string `json:"id"`
	Key  string `json:"key"`
	Name string `json:"name"`
}

// Transition is a workflow transition available on an issue.
// IDs are opaque and only meaningful for the issue they were listed on.
type Transition struct {
	ID   string     `json:"id"`
	Name string     `json:"name"`
	To   NamedField `json:"to"`
}

// SearchResult is a JQL search response page.
type SearchResult struct {
	StartAt    int     `json:"startAt"`
	MaxResults int     `json:"maxResults"`
	Total      int     `json:"total"`
	Issues     []Issue `json:"issues"`
}

// StatusName returns the workflow status name, or "" when absent.
func (i *Issue) StatusName() string {
	if i.Fields.Status == nil {
		return ""
	}
	return i.Fields.Status.Name
}

// PriorityName returns the priority name, or "" when absent.
func (i *Issue) PriorityName() string {
	if i.Fields.Priority == nil {
		return ""
	}
	return i.Fields.Priority.Name
}

// TypeName returns the issue type name, or "" when absent.
func (i *Issue) TypeName() string {
	if i.Fields.IssueType == nil {
		return ""
	}
	return i.Fields.IssueType.Name
}

// AssigneeID returns the assignee account ID, or "" when unassigned.
func (i *Issue) AssigneeID() string {
	if i.Fields.Assignee == nil {
		return ""
	}
	return i.Fields.Assignee.AccountID
}

// IssueInput describes a new issue.
type IssueInput struct {
	ProjectKey  string
	IssueType   string
	Summary     string
	Description string
	Priority    string
	AssigneeID  string
}

func (in IssueInput) fields() map[string]any {
	issueType := in.IssueType
	if issueType == "" {
		issueType = "Task"
	}
	f := map[string]any{
		"project":   map[string]string{"key": in.ProjectKey},
		"issuetype": map[string]string{"name": issueType},
		"summary":   in.Summary,
	}
	if in.Description != "" {
		f["description"] = TextToADF(in.Description)
	}
	if in.Priority != "" {
		f["priority"] = map[string]string{"name": in.Priority}
	}
	if in.AssigneeID != "" {
		f["assignee"] = map[string]string{"accountId": in.AssigneeID}
	}
	return f
}

// IssueUpdate is a partial update. Only non-nil fields are sent, so a pointer
// to "" explicitly clears a field while nil leaves it untouched.
type IssueUpdate struct {
	Summary     *string
	Description *string
	Priority    *string
	AssigneeID  *string
}

// Empty reports whether the update would send no fields.
func (u IssueUpdate) Empty() bool {
	return u.Summary == nil && u.Description == nil && u.Priority == nil && u.AssigneeID == nil
}

func (u IssueUpdate) fields() map[string]any {
	f := map[string]any{}
	if u.Summary != nil {
		f["summary"] = *u.Summary
	}
	if u.Description != nil {
		if *u.Description == "" {
			f["description"] = nil
		} else {
			f["description"] = TextToADF(*u.Description)
		}
	}
	if u.Priority != nil {
		if *u.Priority == "" {
			f["priority"] = nil
		} else {
			f["priority"] = map[string]string{"name": *u.Priority}
		}
	}
	if u.AssigneeID != nil {
		if *u.AssigneeID == "" {
			f["assignee"] = nil
		} else {
			f["assignee"] = map[string]string{"accountId": *u.AssigneeID}
		}
	}
	return f
}

// IntegrationError is returned for every non-2xx tracker response.
type IntegrationError struct {
	StatusCode int
	Body       string
}

func (e *IntegrationError) Error() string {
	return fmt.Sprintf("tracker API returned %d: %s", e.StatusCode, e.Body)
}
