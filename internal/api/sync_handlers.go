package api

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/hyperengineering/issuesync/internal/access"
	"github.com/hyperengineering/issuesync/internal/types"
)

// Sync handles POST /api/v1/projects/{projectID}/sync
//
// A run that could not reach the tracker responds 502 with the outcome as
// the body, so the caller sees the failure and the recorded status together.
func (h *Handler) Sync(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	ctx := r.Context()
	projectID := chi.URLParam(r, "projectID")

	if err := h.authorize(ctx, projectID, access.Relationship.CanManage); err != nil {
		MapError(w, r, err)
		return
	}

	outcome, err := h.reconciler.Sync(ctx, projectID)
	if err != nil {
		MapError(w, r, err)
		return
	}

	slog.Info("sync requested",
		"component", "api",
		"action", "sync",
		"project_id", projectID,
		"status", outcome.Status,
		"total", outcome.Total,
		"failed", outcome.FailedIssues,
		"duration_ms", time.Since(start).Milliseconds(),
	)

	code := http.StatusOK
	if outcome.Status == types.SyncFailed {
		code = http.StatusBadGateway
	}
	writeJSON(w, code, outcome)
}
