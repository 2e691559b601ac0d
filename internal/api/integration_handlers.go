package api

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/hyperengineering/issuesync/internal/access"
	"github.com/hyperengineering/issuesync/internal/types"
	"github.com/hyperengineering/issuesync/internal/validation"
)

// ListIntegrations handles GET /api/v1/integrations (admin only).
func (h *Handler) ListIntegrations(w http.ResponseWriter, r *http.Request) {
	if err := h.requireAdmin(r.Context()); err != nil {
		MapError(w, r, err)
		return
	}
	views, err := h.vault.ListAll(r.Context())
	if err != nil {
		MapError(w, r, err)
		return
	}
	if views == nil {
		views = []types.IntegrationView{}
	}
	writeJSON(w, http.StatusOK, views)
}

// ConfigureIntegration handles PUT /api/v1/projects/{projectID}/integration
func (h *Handler) ConfigureIntegration(w http.ResponseWriter, r *http.Request) {
	h.saveIntegration(w, r, false)
}

// UpdateIntegration handles PATCH /api/v1/projects/{projectID}/integration
func (h *Handler) UpdateIntegration(w http.ResponseWriter, r *http.Request) {
	h.saveIntegration(w, r, true)
}

func (h *Handler) saveIntegration(w http.ResponseWriter, r *http.Request, partial bool) {
	ctx := r.Context()
	projectID := chi.URLParam(r, "projectID")

	if err := h.authorize(ctx, projectID, access.Relationship.CanManage); err != nil {
		MapError(w, r, err)
		return
	}

	var req types.IntegrationRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if errs := validation.ValidateIntegrationRequest(req, partial); len(errs) > 0 {
		WriteProblemWithErrors(w, r, "Request contains invalid fields", errs)
		return
	}

	var (
		view *types.IntegrationView
		err  error
	)
	code := http.StatusCreated
	if partial {
		view, err = h.vault.Update(ctx, projectID, req)
		code = http.StatusOK
	} else {
		view, err = h.vault.Configure(ctx, projectID, req)
	}
	if err != nil {
		slog.Warn("integration save rejected",
			"component", "api",
			"action", "save_integration",
			"project_id", projectID,
			"error", err,
		)
		MapError(w, r, err)
		return
	}
	writeJSON(w, code, view)
}

// GetIntegration handles GET /api/v1/projects/{projectID}/integration
func (h *Handler) GetIntegration(w http.ResponseWriter, r *http.Request) {
	projectID := chi.URLParam(r, "projectID")
	if err := h.authorize(r.Context(), projectID, anyRelationship); err != nil {
		MapError(w, r, err)
		return
	}
	view, err := h.vault.Get(r.Context(), projectID)
	if err != nil {
		MapError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

// DeleteIntegration handles DELETE /api/v1/projects/{projectID}/integration
func (h *Handler) DeleteIntegration(w http.ResponseWriter, r *http.Request) {
	projectID := chi.URLParam(r, "projectID")
	if err := h.authorize(r.Context(), projectID, access.Relationship.CanManage); err != nil {
		MapError(w, r, err)
		return
	}
	if err := h.vault.Delete(r.Context(), projectID); err != nil {
		MapError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// TestIntegration handles POST /api/v1/projects/{projectID}/integration/test
func (h *Handler) TestIntegration(w http.ResponseWriter, r *http.Request) {
	projectID := chi.URLParam(r, "projectID")
	if err := h.authorize(r.Context(), projectID, access.Relationship.CanManage); err != nil {
		MapError(w, r, err)
		return
	}
	report, err := h.vault.TestStoredConnection(r.Context(), projectID)
	if err != nil {
		MapError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}
