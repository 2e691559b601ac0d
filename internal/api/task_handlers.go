package api

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/hyperengineering/issuesync/internal/access"
	"github.com/hyperengineering/issuesync/internal/types"
	"github.com/hyperengineering/issuesync/internal/validation"
)

// CreateTask handles POST /api/v1/projects/{projectID}/tasks
func (h *Handler) CreateTask(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	projectID := chi.URLParam(r, "projectID")
	if err := h.authorize(ctx, projectID, access.Relationship.CanAuthor); err != nil {
		MapError(w, r, err)
		return
	}

	var req types.CreateTaskRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if errs := validation.ValidateCreateTask(req); len(errs) > 0 {
		WriteProblemWithErrors(w, r, "Request contains invalid fields", errs)
		return
	}

	task, err := h.tasks.Create(ctx, projectID, req)
	if err != nil {
		MapError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, task)
}

// ListTasks handles GET /api/v1/projects/{projectID}/tasks
func (h *Handler) ListTasks(w http.ResponseWriter, r *http.Request) {
	projectID := chi.URLParam(r, "projectID")
	if err := h.authorize(r.Context(), projectID, anyRelationship); err != nil {
		MapError(w, r, err)
		return
	}
	list, err := h.tasks.ListByProject(r.Context(), projectID)
	if err != nil {
		MapError(w, r, err)
		return
	}
	if list == nil {
		list = []types.LocalTask{}
	}
	writeJSON(w, http.StatusOK, list)
}

// loadTask fetches a task and checks the caller's relationship to its project.
func (h *Handler) loadTask(ctx context.Context, taskID string, allowed func(access.Relationship) bool) (*types.LocalTask, error) {
	task, err := h.tasks.Get(ctx, taskID)
	if err != nil {
		return nil, err
	}
	if err := h.authorize(ctx, task.ProjectID, allowed); err != nil {
		return nil, err
	}
	return task, nil
}

// GetTask handles GET /api/v1/tasks/{taskID}
func (h *Handler) GetTask(w http.ResponseWriter, r *http.Request) {
	task, err := h.loadTask(r.Context(), chi.URLParam(r, "taskID"), anyRelationship)
	if err != nil {
		MapError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, task)
}

// UpdateTaskStatus handles PATCH /api/v1/tasks/{taskID}/status
//
// The forward-only guard applies. When the task is linked to a tracker
// issue the new status is pushed through; a push failure is logged and does
// not undo the local change.
func (h *Handler) UpdateTaskStatus(w http.ResponseWriter, r *http.Request) {
	h.changeTaskStatus(w, r, false)
}

// OverrideTaskStatus handles PUT /api/v1/admin/tasks/{taskID}/status.
// Admins may move a task in any direction.
func (h *Handler) OverrideTaskStatus(w http.ResponseWriter, r *http.Request) {
	h.changeTaskStatus(w, r, true)
}

func (h *Handler) changeTaskStatus(w http.ResponseWriter, r *http.Request, override bool) {
	ctx := r.Context()
	taskID := chi.URLParam(r, "taskID")

	var err error
	if override {
		err = h.requireAdmin(ctx)
	} else {
		_, err = h.loadTask(ctx, taskID, access.Relationship.CanAuthor)
	}
	if err != nil {
		MapError(w, r, err)
		return
	}

	var req types.TaskStatusRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	var task *types.LocalTask
	if override {
		task, err = h.tasks.AdminSetStatus(ctx, taskID, req.Status)
	} else {
		task, err = h.tasks.UpdateStatus(ctx, taskID, req.Status)
	}
	if err != nil {
		MapError(w, r, err)
		return
	}

	if err := h.publisher.PushStatus(ctx, task); err != nil {
		slog.Warn("status push to tracker failed",
			"component", "api",
			"action", "push_status",
			"task_id", task.ID,
			"error", err,
		)
	}
	writeJSON(w, http.StatusOK, task)
}

// LinkTask handles POST /api/v1/tasks/{taskID}/link
func (h *Handler) LinkTask(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	taskID := chi.URLParam(r, "taskID")
	if _, err := h.loadTask(ctx, taskID, access.Relationship.CanAuthor); err != nil {
		MapError(w, r, err)
		return
	}

	var req types.LinkTaskRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if verr := validation.ValidateIssueKey("issue_key", req.IssueKey); verr != nil {
		WriteProblemWithErrors(w, r, "Request contains invalid fields", []validation.ValidationError{*verr})
		return
	}

	task, err := h.tasks.LinkRemoteIssue(ctx, taskID, req.IssueKey)
	if err != nil {
		MapError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, task)
}

// PublishTask handles POST /api/v1/tasks/{taskID}/publish
func (h *Handler) PublishTask(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	taskID := chi.URLParam(r, "taskID")
	if _, err := h.loadTask(ctx, taskID, access.Relationship.CanManage); err != nil {
		MapError(w, r, err)
		return
	}

	issue, err := h.publisher.Publish(ctx, taskID)
	if err != nil {
		MapError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, issue)
}
