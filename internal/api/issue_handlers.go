package api

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/hyperengineering/issuesync/internal/access"
	"github.com/hyperengineering/issuesync/internal/tracker"
	"github.com/hyperengineering/issuesync/internal/types"
	"github.com/hyperengineering/issuesync/internal/validation"
)

// ListIssues handles GET /api/v1/projects/{projectID}/issues
func (h *Handler) ListIssues(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	issues, err := h.reader.ListVisible(ctx, CallerIDFromContext(ctx), chi.URLParam(r, "projectID"))
	if err != nil {
		MapError(w, r, err)
		return
	}
	if issues == nil {
		issues = []types.RemoteIssue{}
	}
	writeJSON(w, http.StatusOK, issues)
}

// GetIssue handles GET /api/v1/issues/{key}
func (h *Handler) GetIssue(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	issue, err := h.reader.GetVisible(ctx, CallerIDFromContext(ctx), chi.URLParam(r, "key"))
	if err != nil {
		MapError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, issue)
}

// authorizeIssue resolves a mirrored issue and checks the caller may manage its project.
func (h *Handler) authorizeIssue(ctx context.Context, key string) error {
	issue, err := h.store.GetIssueByKey(ctx, key)
	if err != nil {
		return err
	}
	return h.authorize(ctx, issue.ProjectID, access.Relationship.CanManage)
}

// UpdateIssue handles PATCH /api/v1/issues/{key}
func (h *Handler) UpdateIssue(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	key := chi.URLParam(r, "key")
	if err := h.authorizeIssue(ctx, key); err != nil {
		MapError(w, r, err)
		return
	}

	var req types.UpdateIssueRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	var c validation.Collector
	if req.Summary != nil {
		c.Add(validation.ValidateRequired("summary", *req.Summary))
		c.Add(validation.ValidateText("summary", *req.Summary, validation.MaxTitleLength))
	}
	if req.Description != nil {
		c.Add(validation.ValidateText("description", *req.Description, validation.MaxDescriptionLength))
	}
	update := tracker.IssueUpdate{
		Summary:     req.Summary,
		Description: req.Description,
		AssigneeID:  req.AssigneeID,
	}
	if req.Priority != nil {
		name := ""
		if *req.Priority != "" {
			p := types.ParsePriority(*req.Priority)
			if p == nil {
				c.Add(validation.ValidateEnum("priority", *req.Priority, []string{"highest", "high", "medium", "low", "lowest"}))
			} else {
				name = p.TrackerName()
			}
		}
		update.Priority = &name
	}
	if update.Empty() {
		c.Add(&validation.ValidationError{Field: "body", Message: "at least one field must be provided"})
	}
	if c.HasErrors() {
		WriteProblemWithErrors(w, r, "Request contains invalid fields", c.Errors())
		return
	}

	issue, err := h.publisher.UpdateIssue(ctx, key, update)
	if err != nil {
		MapError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, issue)
}

// DeleteIssue handles DELETE /api/v1/issues/{key} (admin only).
func (h *Handler) DeleteIssue(w http.ResponseWriter, r *http.Request) {
	if err := h.requireAdmin(r.Context()); err != nil {
		MapError(w, r, err)
		return
	}
	if err := h.publisher.DeleteIssue(r.Context(), chi.URLParam(r, "key")); err != nil {
		MapError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// LinkIssues handles POST /api/v1/issues/{key}/links
func (h *Handler) LinkIssues(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	key := chi.URLParam(r, "key")
	if err := h.authorizeIssue(ctx, key); err != nil {
		MapError(w, r, err)
		return
	}

	var req types.LinkIssuesRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if verr := validation.ValidateIssueKey("issue_key", req.IssueKey); verr != nil {
		WriteProblemWithErrors(w, r, "Request contains invalid fields", []validation.ValidationError{*verr})
		return
	}

	if err := h.publisher.LinkIssues(ctx, key, req.IssueKey, req.LinkType); err != nil {
		MapError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// MoveToSprint handles PUT /api/v1/issues/{key}/sprint
func (h *Handler) MoveToSprint(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	key := chi.URLParam(r, "key")
	if err := h.authorizeIssue(ctx, key); err != nil {
		MapError(w, r, err)
		return
	}

	var req types.SprintRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.SprintID <= 0 {
		WriteProblemWithErrors(w, r, "Request contains invalid fields", []validation.ValidationError{
			{Field: "sprint_id", Message: "must be a positive sprint ID"},
		})
		return
	}

	if err := h.publisher.MoveToSprint(ctx, key, req.SprintID); err != nil {
		MapError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// MoveToBacklog handles DELETE /api/v1/issues/{key}/sprint
func (h *Handler) MoveToBacklog(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	key := chi.URLParam(r, "key")
	if err := h.authorizeIssue(ctx, key); err != nil {
		MapError(w, r, err)
		return
	}
	if err := h.publisher.MoveToBacklog(ctx, key); err != nil {
		MapError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
