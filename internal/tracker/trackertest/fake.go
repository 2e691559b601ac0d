// Package trackertest provides an in-memory tracker.API for tests.
package trackertest

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"sync"

	"github.com/hyperengineering/issuesync/internal/tracker"
)

// DefaultTransitions is the workflow offered for issues without explicit transitions.
var DefaultTransitions = []tracker.Transition{
	{ID: "11", Name: "Reopen", To: tracker.NamedField{Name: "To Do"}},
	{ID: "21", Name: "Start Progress", To: tracker.NamedField{Name: "In Progress"}},
	{ID: "31", Name: "Resolve", To: tracker.NamedField{Name: "Done"}},
}

// Credentials records what a client was built with.
type Credentials struct {
	BaseURL  string
	Email    string
	APIToken string
}

// Fake is a goroutine-safe in-memory tracker. Zero values mean "connected,
// no projects, no issues".
type Fake struct {
	mu sync.Mutex

	// Reject makes TestConnection return false.
	Reject bool
	// ListErr is returned by ListProjectIssues when set.
	ListErr error

	projects    map[string]tracker.Project
	issues      []tracker.Issue
	accounts    map[string]string
	transitions map[string][]tracker.Transition

	applied  map[string][]string
	links    [][3]string
	built    []Credentials
	listCall int
	nextID   int
}

// New returns an empty Fake.
func New() *Fake {
	return &Fake{
		projects:    map[string]tracker.Project{},
		accounts:    map[string]string{},
		transitions: map[string][]tracker.Transition{},
		applied:     map[string][]string{},
		nextID:      10000,
	}
}

// Factory returns a client constructor that records credentials and hands
// out this Fake.
func (f *Fake) Factory() func(baseURL, email, apiToken string) tracker.API {
	return func(baseURL, email, apiToken string) tracker.API {
		f.mu.Lock()
		defer f.mu.Unlock()
		f.built = append(f.built, Credentials{BaseURL: baseURL, Email: email, APIToken: apiToken})
		return f
	}
}

// Built returns the credentials of every client created via Factory.
func (f *Fake) Built() []Credentials {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Credentials(nil), f.built...)
}

// AddProject registers a project.
func (f *Fake) AddProject(key, name string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.projects[key] = tracker.Project{ID: strconv.Itoa(len(f.projects) + 1), Key: key, Name: name}
}

// SetIssues replaces the issue list. ListProjectIssues returns issues in this order.
func (f *Fake) SetIssues(issues ...tracker.Issue) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.issues = append([]tracker.Issue(nil), issues...)
}

// AddAccount makes SearchAccount(term) return accountID.
func (f *Fake) AddAccount(term, accountID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.accounts[term] = accountID
}

// SetTransitions overrides the transitions offered for key.
func (f *Fake) SetTransitions(key string, ts ...tracker.Transition) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.transitions[key] = ts
}

// Applied returns the transition IDs applied to key, in order.
func (f *Fake) Applied(key string) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.applied[key]...)
}

// Links returns recorded issue links as {from, to, type}.
func (f *Fake) Links() [][3]string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([][3]string(nil), f.links...)
}

// ListCalls returns how many times ListProjectIssues ran.
func (f *Fake) ListCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.listCall
}

// Issue builds a tracker issue with the common fields set.
func Issue(id, key, summary, statusName, priority, assignee, updated string) tracker.Issue {
	issue := tracker.Issue{
		ID:  id,
		Key: key,
		Fields: tracker.IssueFields{
			Summary:   summary,
			Status:    &tracker.NamedField{Name: statusName},
			IssueType: &tracker.NamedField{Name: "Task"},
			Created:   "2026-01-05T09:00:00.000+0000",
			Updated:   updated,
		},
	}
	if priority != "" {
		issue.Fields.Priority = &tracker.NamedField{Name: priority}
	}
	if assignee != "" {
		issue.Fields.Assignee = &tracker.User{AccountID: assignee}
	}
	return issue
}

func notFound(what string) error {
	return &tracker.IntegrationError{StatusCode: http.StatusNotFound, Body: fmt.Sprintf(`{"errorMessages":["%s does not exist"]}`, what)}
}

func (f *Fake) TestConnection(ctx context.Context) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return !f.Reject
}

func (f *Fake) GetProject(ctx context.Context, key string) (*tracker.Project, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.projects[key]
	if !ok {
		return nil, notFound("project " + key)
	}
	return &p, nil
}

func (f *Fake) ListProjectIssues(ctx context.Context, projectKey string) ([]tracker.Issue, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.listCall++
	if f.ListErr != nil {
		return nil, f.ListErr
	}
	return append([]tracker.Issue(nil), f.issues...), nil
}

func (f *Fake) findLocked(key string) int {
	for i := range f.issues {
		if f.issues[i].Key == key {
			return i
		}
	}
	return -1
}

func (f *Fake) GetIssue(ctx context.Context, key string) (*tracker.Issue, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	i := f.findLocked(key)
	if i < 0 {
		return nil, notFound("issue " + key)
	}
	issue := f.issues[i]
	return &issue, nil
}

func (f *Fake) CreateIssue(ctx context.Context, in tracker.IssueInput) (*tracker.Issue, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.projects[in.ProjectKey]; !ok {
		return nil, notFound("project " + in.ProjectKey)
	}
	f.nextID++
	issueType := in.IssueType
	if issueType == "" {
		issueType = "Task"
	}
	issue := tracker.Issue{
		ID:  strconv.Itoa(f.nextID),
		Key: fmt.Sprintf("%s-%d", in.ProjectKey, len(f.issues)+1),
		Fields: tracker.IssueFields{
			Summary:   in.Summary,
			Status:    &tracker.NamedField{Name: "To Do"},
			IssueType: &tracker.NamedField{Name: issueType},
			Project:   &tracker.ProjectRef{Key: in.ProjectKey},
			Created:   "2026-03-01T12:00:00.000+0000",
			Updated:   "2026-03-01T12:00:00.000+0000",
		},
	}
	if in.Description != "" {
		issue.Fields.Description = tracker.TextToADF(in.Description)
	}
	if in.Priority != "" {
		issue.Fields.Priority = &tracker.NamedField{Name: in.Priority}
	}
	if in.AssigneeID != "" {
		issue.Fields.Assignee = &tracker.User{AccountID: in.AssigneeID}
	}
	f.issues = append([]tracker.Issue{issue}, f.issues...)
	return &issue, nil
}

func (f *Fake) UpdateIssue(ctx context.Context, key string, u tracker.IssueUpdate) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	i := f.findLocked(key)
	if i < 0 {
		return notFound("issue " + key)
	}
	fields := &f.issues[i].Fields
	if u.Summary != nil {
		fields.Summary = *u.Summary
	}
	if u.Description != nil {
		fields.Description = tracker.TextToADF(*u.Description)
	}
	if u.Priority != nil {
		if *u.Priority == "" {
			fields.Priority = nil
		} else {
			fields.Priority = &tracker.NamedField{Name: *u.Priority}
		}
	}
	if u.AssigneeID != nil {
		if *u.AssigneeID == "" {
			fields.Assignee = nil
		} else {
			fields.Assignee = &tracker.User{AccountID: *u.AssigneeID}
		}
	}
	return nil
}

func (f *Fake) transitionsLocked(key string) []tracker.Transition {
	if ts, ok := f.transitions[key]; ok {
		return ts
	}
	return DefaultTransitions
}

func (f *Fake) ListTransitions(ctx context.Context, key string) ([]tracker.Transition, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.findLocked(key) < 0 {
		return nil, notFound("issue " + key)
	}
	return append([]tracker.Transition(nil), f.transitionsLocked(key)...), nil
}

func (f *Fake) ApplyTransition(ctx context.Context, key, transitionID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	i := f.findLocked(key)
	if i < 0 {
		return notFound("issue " + key)
	}
	for _, t := range f.transitionsLocked(key) {
		if t.ID == transitionID {
			f.issues[i].Fields.Status = &tracker.NamedField{Name: t.To.Name}
			f.applied[key] = append(f.applied[key], transitionID)
			return nil
		}
	}
	return &tracker.IntegrationError{StatusCode: http.StatusBadRequest, Body: `{"errorMessages":["invalid transition"]}`}
}

func (f *Fake) SearchAccount(ctx context.Context, term string) (string, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	id, ok := f.accounts[term]
	return id, ok, nil
}

func (f *Fake) MoveToSprint(ctx context.Context, key string, sprintID int) error {
	_, err := f.GetIssue(ctx, key)
	return err
}

func (f *Fake) MoveToBacklog(ctx context.Context, key string) error {
	_, err := f.GetIssue(ctx, key)
	return err
}

func (f *Fake) LinkIssues(ctx context.Context, fromKey, toKey, linkType string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if linkType == "" {
		linkType = tracker.DefaultLinkType
	}
	f.links = append(f.links, [3]string{fromKey, toKey, linkType})
	return nil
}

func (f *Fake) DeleteIssue(ctx context.Context, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	i := f.findLocked(key)
	if i < 0 {
		return notFound("issue " + key)
	}
	f.issues = append(f.issues[:i], f.issues[i+1:]...)
	return nil
}

// Compile-time interface check
var _ tracker.API = (*Fake)(nil)
