package validation

import (
	"fmt"
	"net/mail"
	"net/url"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/hyperengineering/issuesync/internal/types"
)

// Field limits.
const (
	MaxTitleLength       = 255
	MaxDescriptionLength = 32768
	MaxTokenLength       = 1024
	MaxURLLength         = 2048
)

// ValidationError represents a single field validation failure.
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// Collector accumulates validation errors without failing on first.
type Collector struct {
	errors []ValidationError
}

// Add appends a validation error to the collector if non-nil.
func (c *Collector) Add(err *ValidationError) {
	if err != nil {
		c.errors = append(c.errors, *err)
	}
}

// HasErrors returns true if the collector has accumulated any errors.
func (c *Collector) HasErrors() bool {
	return len(c.errors) > 0
}

// Errors returns all accumulated validation errors.
func (c *Collector) Errors() []ValidationError {
	return c.errors
}

// ValidateText checks UTF-8 validity, null bytes and length, reporting the first failure.
func ValidateText(field, value string, max int) *ValidationError {
	if !utf8.ValidString(value) {
		return &ValidationError{Field: field, Message: "must be valid UTF-8"}
	}
	if strings.Contains(value, "\x00") {
		return &ValidationError{Field: field, Message: "must not contain null bytes"}
	}
	if utf8.RuneCountInString(value) > max {
		return &ValidationError{Field: field, Message: fmt.Sprintf("exceeds maximum length of %d characters", max)}
	}
	return nil
}

// ValidateRequired returns an error if the value is empty or whitespace-only.
func ValidateRequired(field, value string) *ValidationError {
	if strings.TrimSpace(value) == "" {
		return &ValidationError{
			Field:   field,
			Message: "is required",
		}
	}
	return nil
}

// ValidateBaseURL requires an absolute http(s) URL without query or fragment.
func ValidateBaseURL(field, value string) *ValidationError {
	if len(value) > MaxURLLength {
		return &ValidationError{Field: field, Message: fmt.Sprintf("exceeds maximum length of %d characters", MaxURLLength)}
	}
	u, err := url.Parse(strings.TrimSpace(value))
	if err != nil || u.Host == "" || (u.Scheme != "https" && u.Scheme != "http") {
		return &ValidationError{Field: field, Message: "must be an absolute http or https URL"}
	}
	if u.RawQuery != "" || u.Fragment != "" {
		return &ValidationError{Field: field, Message: "must not contain a query or fragment"}
	}
	return nil
}

// ValidateEmail requires a bare address such as name@example.com.
func ValidateEmail(field, value string) *ValidationError {
	addr, err := mail.ParseAddress(value)
	if err != nil || addr.Address != value {
		return &ValidationError{Field: field, Message: "must be a valid email address"}
	}
	return nil
}

var projectKeyPattern = regexp.MustCompile(`^[A-Z][A-Z0-9_]{1,9}$`)

// ValidateProjectKey requires a tracker project key: an uppercase letter
// followed by 1-9 uppercase letters, digits or underscores.
func ValidateProjectKey(field, value string) *ValidationError {
	if !projectKeyPattern.MatchString(value) {
		return &ValidationError{Field: field, Message: "must be an uppercase project key such as ABC"}
	}
	return nil
}

var issueKeyPattern = regexp.MustCompile(`^[A-Z][A-Z0-9_]{1,9}-[1-9][0-9]*$`)

// ValidateIssueKey requires a tracker issue key such as ABC-123.
func ValidateIssueKey(field, value string) *ValidationError {
	if !issueKeyPattern.MatchString(value) {
		return &ValidationError{Field: field, Message: "must be an issue key such as ABC-123"}
	}
	return nil
}

// ValidateEnum returns an error if the value is not in the allowed list.
func ValidateEnum(field, value string, allowed []string) *ValidationError {
	for _, a := range allowed {
		if value == a {
			return nil
		}
	}
	return &ValidationError{
		Field:   field,
		Message: fmt.Sprintf("must be one of: %s", strings.Join(allowed, ", ")),
	}
}

// ValidateIntegrationRequest validates a configure request. With partial
// set (update), empty fields are allowed and mean "keep".
func ValidateIntegrationRequest(req types.IntegrationRequest, partial bool) []ValidationError {
	var c Collector

	check := func(field, value string, fn func(string, string) *ValidationError) {
		if value == "" {
			if !partial {
				c.Add(ValidateRequired(field, value))
			}
			return
		}
		c.Add(fn(field, value))
	}

	check("base_url", req.BaseURL, ValidateBaseURL)
	check("email", req.Email, ValidateEmail)
	check("project_key", req.ProjectKey, ValidateProjectKey)
	check("api_token", req.APIToken, func(field, value string) *ValidationError {
		return ValidateText(field, value, MaxTokenLength)
	})

	if partial && req == (types.IntegrationRequest{}) {
		c.Add(&ValidationError{Field: "body", Message: "at least one field must be provided"})
	}
	return c.Errors()
}

// ValidateCreateTask validates a task authoring request. Status text is
// normalized by the task service, which reports its own accepted forms.
func ValidateCreateTask(req types.CreateTaskRequest) []ValidationError {
	var c Collector
	c.Add(ValidateRequired("title", req.Title))
	c.Add(ValidateText("title", req.Title, MaxTitleLength))
	c.Add(ValidateText("description", req.Description, MaxDescriptionLength))
	if req.Priority != "" && types.ParsePriority(req.Priority) == nil {
		c.Add(ValidateEnum("priority", req.Priority, []string{"highest", "high", "medium", "low", "lowest"}))
	}
	return c.Errors()
}
