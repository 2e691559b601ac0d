package tracker

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

const (
	// MaxSearchResults caps the number of issues one listing returns.
	MaxSearchResults = 1000
	// searchPageSize is the page size requested from the search endpoint.
	// Servers may clamp it further.
	searchPageSize = 100

	// DefaultLinkType is used by LinkIssues when no link type is given.
	DefaultLinkType = "Relates"

	defaultTimeout   = 30 * time.Second
	defaultUserAgent = "issuesync/1.0"
)

// searchFields is the field set requested by search and get queries.
const searchFields = "summary,description,status,priority,issuetype,project,assignee,created,updated"

// Client provides HTTP access to a tracker instance. It holds no session
// state; every request carries Basic credentials.
type Client struct {
	baseURL    string
	email      string
	apiToken   string
	userAgent  string
	httpClient *http.Client
}

// Option customises a Client.
type Option func(*Client)

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.httpClient = hc
	}
}

// WithTimeout sets the per-request timeout of the default HTTP client.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.httpClient = &http.Client{Timeout: d}
		}
	}
}

// WithUserAgent overrides the User-Agent header.
func WithUserAgent(ua string) Option {
	return func(c *Client) {
		if ua != "" {
			c.userAgent = ua
		}
	}
}

// NewClient creates a new tracker client.
func NewClient(baseURL, email, apiToken string, opts ...Option) *Client {
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		email:      email,
		apiToken:   apiToken,
		userAgent:  defaultUserAgent,
		httpClient: &http.Client{Timeout: defaultTimeout},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// BaseURL returns the normalized base URL.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// TestConnection authenticates against the "myself" endpoint. Any network or
// authentication failure yields false; it never returns an error.
func (c *Client) TestConnection(ctx context.Context) bool {
	_, err := c.doRequest(ctx, http.MethodGet, "/rest/api/3/myself", nil)
	return err == nil
}

// GetProject fetches a project by key.
func (c *Client) GetProject(ctx context.Context, key string) (*Project, error) {
	body, err := c.doRequest(ctx, http.MethodGet, "/rest/api/3/project/"+url.PathEscape(key), nil)
	if err != nil {
		return nil, fmt.Errorf("get project %s: %w", key, err)
	}

	var p Project
	if err := json.Unmarshal(body, &p); err != nil {
		return nil, fmt.Errorf("parse project response: %w", err)
	}
	return &p, nil
}

// ListProjectIssues returns the project's issues, most recently updated first.
// It pages through the search until the reported total, an empty page, or
// MaxSearchResults issues, whichever comes first.
func (c *Client) ListProjectIssues(ctx context.Context, projectKey string) ([]Issue, error) {
	var all []Issue
	startAt := 0

	for len(all) < MaxSearchResults {
		params := url.Values{
			"jql":        {ProjectJQL(projectKey)},
			"fields":     {searchFields},
			"startAt":    {strconv.Itoa(startAt)},
			"maxResults": {strconv.Itoa(min(searchPageSize, MaxSearchResults-len(all)))},
		}

		body, err := c.doRequest(ctx, http.MethodGet, "/rest/api/3/search?"+params.Encode(), nil)
		if err != nil {
			return nil, fmt.Errorf("search issues: %w", err)
		}

		var result SearchResult
		if err := json.Unmarshal(body, &result); err != nil {
			return nil, fmt.Errorf("parse search response: %w", err)
		}

		all = append(all, result.Issues...)
		if len(result.Issues) == 0 || startAt+len(result.Issues) >= result.Total {
			break
		}
		startAt += len(result.Issues)
	}

	if len(all) > MaxSearchResults {
		all = all[:MaxSearchResults]
	}
	return all, nil
}

// ProjectJQL builds the issue listing query for a project.
func ProjectJQL(projectKey string) string {
	escaped := strings.ReplaceAll(projectKey, `"`, `\"`)
	return fmt.Sprintf(`project = "%s" ORDER BY updated DESC`, escaped)
}

// GetIssue fetches a single issue by key (e.g., "PROJ-123").
func (c *Client) GetIssue(ctx context.Context, key string) (*Issue, error) {
	path := fmt.Sprintf("/rest/api/3/issue/%s?fields=%s", url.PathEscape(key), searchFields)

	body, err := c.doRequest(ctx, http.MethodGet, path, nil)
	if err != nil {
		return nil, fmt.Errorf("get issue %s: %w", key, err)
	}

	var issue Issue
	if err := json.Unmarshal(body, &issue); err != nil {
		return nil, fmt.Errorf("parse issue response: %w", err)
	}
	return &issue, nil
}

// CreateIssue creates an issue and returns the full issue as stored remotely.
func (c *Client) CreateIssue(ctx context.Context, in IssueInput) (*Issue, error) {
	body, err := c.doRequest(ctx, http.MethodPost, "/rest/api/3/issue", map[string]any{"fields": in.fields()})
	if err != nil {
		return nil, fmt.Errorf("create issue: %w", err)
	}

	// Create only returns id, key and self.
	var created struct {
		ID  string `json:"id"`
		Key string `json:"key"`
	}
	if err := json.Unmarshal(body, &created); err != nil {
		return nil, fmt.Errorf("parse create response: %w", err)
	}
	return c.GetIssue(ctx, created.Key)
}

// UpdateIssue sends only the fields set on u. An empty update is a no-op.
func (c *Client) UpdateIssue(ctx context.Context, key string, u IssueUpdate) error {
	if u.Empty() {
		return nil
	}
	_, err := c.doRequest(ctx, http.MethodPut, "/rest/api/3/issue/"+url.PathEscape(key), map[string]any{"fields": u.fields()})
	if err != nil {
		return fmt.Errorf("update issue %s: %w", key, err)
	}
	return nil
}

// ListTransitions returns the workflow transitions currently available on an issue.
func (c *Client) ListTransitions(ctx context.Context, key string) ([]Transition, error) {
	body, err := c.doRequest(ctx, http.MethodGet, "/rest/api/3/issue/"+url.PathEscape(key)+"/transitions", nil)
	if err != nil {
		return nil, fmt.Errorf("list transitions %s: %w", key, err)
	}

	var result struct {
		Transitions []Transition `json:"transitions"`
	}
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, fmt.Errorf("parse transitions response: %w", err)
	}
	return result.Transitions, nil
}

// ApplyTransition moves an issue through the given transition ID.
func (c *Client) ApplyTransition(ctx context.Context, key, transitionID string) error {
	payload := map[string]any{"transition": map[string]string{"id": transitionID}}
	if _, err := c.doRequest(ctx, http.MethodPost, "/rest/api/3/issue/"+url.PathEscape(key)+"/transitions", payload); err != nil {
		return fmt.Errorf("apply transition %s on %s: %w", transitionID, key, err)
	}
	return nil
}

// SearchAccount returns the account ID of the first user matching term.
// Zero matches is not an error.
func (c *Client) SearchAccount(ctx context.Context, term string) (string, bool, error) {
	params := url.Values{"query": {term}, "maxResults": {"1"}}
	body, err := c.doRequest(ctx, http.MethodGet, "/rest/api/3/user/search?"+params.Encode(), nil)
	if err != nil {
		return "", false, fmt.Errorf("search account: %w", err)
	}

	var users []User
	if err := json.Unmarshal(body, &users); err != nil {
		return "", false, fmt.Errorf("parse user search response: %w", err)
	}
	if len(users) == 0 {
		return "", false, nil
	}
	return users[0].AccountID, true, nil
}

// MoveToSprint places an issue in a sprint.
func (c *Client) MoveToSprint(ctx context.Context, key string, sprintID int) error {
	path := fmt.Sprintf("/rest/agile/1.0/sprint/%d/issue", sprintID)
	if _, err := c.doRequest(ctx, http.MethodPost, path, map[string]any{"issues": []string{key}}); err != nil {
		return fmt.Errorf("move %s to sprint %d: %w", key, sprintID, err)
	}
	return nil
}

// MoveToBacklog removes an issue from any sprint.
func (c *Client) MoveToBacklog(ctx context.Context, key string) error {
	if _, err := c.doRequest(ctx, http.MethodPost, "/rest/agile/1.0/backlog/issue", map[string]any{"issues": []string{key}}); err != nil {
		return fmt.Errorf("move %s to backlog: %w", key, err)
	}
	return nil
}

// LinkIssues links two issues. An empty linkType uses DefaultLinkType.
func (c *Client) LinkIssues(ctx context.Context, fromKey, toKey, linkType string) error {
	if linkType == "" {
		linkType = DefaultLinkType
	}
	payload := map[string]any{
		"type":         map[string]string{"name": linkType},
		"inwardIssue":  map[string]string{"key": fromKey},
		"outwardIssue": map[string]string{"key": toKey},
	}
	if _, err := c.doRequest(ctx, http.MethodPost, "/rest/api/3/issueLink", payload); err != nil {
		return fmt.Errorf("link %s to %s: %w", fromKey, toKey, err)
	}
	return nil
}

// DeleteIssue deletes an issue.
func (c *Client) DeleteIssue(ctx context.Context, key string) error {
	if _, err := c.doRequest(ctx, http.MethodDelete, "/rest/api/3/issue/"+url.PathEscape(key), nil); err != nil {
		return fmt.Errorf("delete issue %s: %w", key, err)
	}
	return nil
}

// doRequest executes an authenticated request and returns the response body.
// payload, when non-nil, is sent as JSON.
func (c *Client) doRequest(ctx context.Context, method, path string, payload any) ([]byte, error) {
	if c.baseURL == "" {
		return nil, errors.New("tracker URL not configured")
	}

	var bodyReader io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("marshal request: %w", err)
		}
		bodyReader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	req.Header.Set("Authorization", "Basic "+basicCredentials(c.email, c.apiToken))
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", c.userAgent)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &IntegrationError{StatusCode: resp.StatusCode, Body: string(respBody)}
	}
	return respBody, nil
}

func basicCredentials(email, token string) string {
	return base64.StdEncoding.EncodeToString([]byte(email + ":" + token))
}

// API is the set of tracker operations used by the rest of the engine.
// Client implements it; tests substitute fakes.
type API interface {
	TestConnection(ctx context.Context) bool
	GetProject(ctx context.Context, key string) (*Project, error)
	ListProjectIssues(ctx context.Context, projectKey string) ([]Issue, error)
	GetIssue(ctx context.Context, key string) (*Issue, error)
	CreateIssue(ctx context.Context, in IssueInput) (*Issue, error)
	UpdateIssue(ctx context.Context, key string, u IssueUpdate) error
	ListTransitions(ctx context.Context, key string) ([]Transition, error)
	ApplyTransition(ctx context.Context, key, transitionID string) error
	SearchAccount(ctx context.Context, term string) (string, bool, error)
	MoveToSprint(ctx context.Context, key string, sprintID int) error
	MoveToBacklog(ctx context.Context, key string) error
	LinkIssues(ctx context.Context, fromKey, toKey, linkType string) error
	DeleteIssue(ctx context.Context, key string) error
}

// Compile-time interface check
var _ API = (*Client)(nil)
