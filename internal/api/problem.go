package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/hyperengineering/issuesync/internal/access"
	"github.com/hyperengineering/issuesync/internal/reconciler"
	"github.com/hyperengineering/issuesync/internal/status"
	"github.com/hyperengineering/issuesync/internal/store"
	"github.com/hyperengineering/issuesync/internal/tasks"
	"github.com/hyperengineering/issuesync/internal/tracker"
	"github.com/hyperengineering/issuesync/internal/validation"
	"github.com/hyperengineering/issuesync/internal/vault"
)

const problemBase = "https://issuesync.dev/errors/"

// Problem represents an RFC 7807 Problem Details response.
type Problem struct {
	Type     string `json:"type"`
	Title    string `json:"title"`
	Status   int    `json:"status"`
	Detail   string `json:"detail"`
	Instance string `json:"instance,omitempty"`
}

type problemType struct {
	typeURI string
	title   string
}

// problemTypes maps HTTP status codes to RFC 7807 type URIs and titles.
var problemTypes = map[int]problemType{
	http.StatusBadRequest:          {problemBase + "bad-request", "Bad Request"},
	http.StatusUnauthorized:        {problemBase + "unauthorized", "Unauthorized"},
	http.StatusForbidden:           {problemBase + "forbidden", "Forbidden"},
	http.StatusNotFound:            {problemBase + "not-found", "Not Found"},
	http.StatusConflict:            {problemBase + "conflict", "Conflict"},
	http.StatusUnprocessableEntity: {problemBase + "validation-error", "Validation Error"},
	http.StatusTooManyRequests:     {problemBase + "rate-limit", "Too Many Requests"},
	http.StatusInternalServerError: {problemBase + "internal-error", "Internal Server Error"},
	http.StatusBadGateway:          {problemBase + "tracker-error", "Tracker Error"},
}

func lookupProblemType(status int) problemType {
	if pt, ok := problemTypes[status]; ok {
		return pt
	}
	return problemType{typeURI: problemBase + "unknown", title: http.StatusText(status)}
}

// WriteProblem writes an RFC 7807 Problem Details response.
func WriteProblem(w http.ResponseWriter, r *http.Request, status int, detail string) {
	pt := lookupProblemType(status)
	writeProblemBody(w, status, Problem{
		Type:     pt.typeURI,
		Title:    pt.title,
		Status:   status,
		Detail:   detail,
		Instance: r.URL.Path,
	})
}

// ProblemWithErrors extends Problem with validation error details.
type ProblemWithErrors struct {
	Problem
	Errors []validation.ValidationError `json:"errors,omitempty"`
}

// WriteProblemWithErrors writes a 422 Problem Details response with field errors.
func WriteProblemWithErrors(w http.ResponseWriter, r *http.Request, detail string, errs []validation.ValidationError) {
	pt := problemTypes[http.StatusUnprocessableEntity]
	writeProblemBody(w, http.StatusUnprocessableEntity, ProblemWithErrors{
		Problem: Problem{
			Type:     pt.typeURI,
			Title:    pt.title,
			Status:   http.StatusUnprocessableEntity,
			Detail:   detail,
			Instance: r.URL.Path,
		},
		Errors: errs,
	})
}

func writeProblemBody(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		slog.Error("failed to encode problem response", "error", err)
	}
}

// MapError converts domain errors to Problem Details responses. Validation
// and tracker errors carry their own message so callers can correct input;
// anything unrecognized becomes an opaque 500.
func MapError(w http.ResponseWriter, r *http.Request, err error) {
	var statusErr *status.InvalidStatusError
	var trackerErr *tracker.IntegrationError

	switch {
	case errors.Is(err, access.ErrAccessDenied):
		WriteProblem(w, r, http.StatusForbidden, "You do not have access to this resource")
	case errors.Is(err, vault.ErrNotConfigured):
		WriteProblem(w, r, http.StatusNotFound, err.Error())
	case errors.Is(err, vault.ErrAlreadyConfigured):
		WriteProblem(w, r, http.StatusConflict, err.Error())
	case errors.Is(err, vault.ErrConnectionFailed):
		WriteProblem(w, r, http.StatusBadGateway, vault.ErrConnectionFailed.Error())
	case errors.As(err, &trackerErr):
		WriteProblem(w, r, http.StatusBadGateway, trackerErr.Error())
	case errors.As(err, &statusErr):
		WriteProblem(w, r, http.StatusUnprocessableEntity, statusErr.Error())
	case errors.Is(err, status.ErrInvalidTransition):
		WriteProblem(w, r, http.StatusUnprocessableEntity, status.ErrInvalidTransition.Error())
	case errors.Is(err, tasks.ErrInvalidPriority), errors.Is(err, tasks.ErrWrongProject):
		WriteProblem(w, r, http.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, reconciler.ErrAlreadyPublished), errors.Is(err, reconciler.ErrNoTransition):
		WriteProblem(w, r, http.StatusConflict, err.Error())
	case errors.Is(err, store.ErrNotFound):
		WriteProblem(w, r, http.StatusNotFound, "Resource not found")
	case errors.Is(err, store.ErrConflict), errors.Is(err, store.ErrAlreadyExists):
		WriteProblem(w, r, http.StatusConflict, "Resource already exists")
	default:
		slog.Error("unhandled error",
			"component", "api",
			"path", r.URL.Path,
			"request_id", GetRequestID(r.Context()),
			"error", err,
		)
		// Never expose internal error details to client
		WriteProblem(w, r, http.StatusInternalServerError, "Internal Server Error")
	}
}

func invalidJSON(w http.ResponseWriter, r *http.Request, err error) {
	WriteProblem(w, r, http.StatusBadRequest, fmt.Sprintf("Invalid JSON: %s", err))
}
