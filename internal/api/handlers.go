package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/hyperengineering/issuesync/internal/access"
	"github.com/hyperengineering/issuesync/internal/reconciler"
	"github.com/hyperengineering/issuesync/internal/store"
	"github.com/hyperengineering/issuesync/internal/tasks"
	"github.com/hyperengineering/issuesync/internal/types"
	"github.com/hyperengineering/issuesync/internal/vault"
)

// Services bundles the domain components the HTTP layer dispatches to.
type Services struct {
	Store      store.Store
	Vault      *vault.Vault
	Reconciler *reconciler.Reconciler
	Publisher  *reconciler.Publisher
	Reader     *access.Reader
	Tasks      *tasks.Service
}

// Handler implements the API handlers
type Handler struct {
	store      store.Store
	vault      *vault.Vault
	reconciler *reconciler.Reconciler
	publisher  *reconciler.Publisher
	reader     *access.Reader
	tasks      *tasks.Service
	apiKey     string
	version    string
}

// NewHandler creates a new Handler.
func NewHandler(svc Services, apiKey, version string) *Handler {
	return &Handler{
		store:      svc.Store,
		vault:      svc.Vault,
		reconciler: svc.Reconciler,
		publisher:  svc.Publisher,
		reader:     svc.Reader,
		tasks:      svc.Tasks,
		apiKey:     apiKey,
		version:    version,
	}
}

// Health returns the health status
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	stats, err := h.store.GetStats(r.Context())
	if err != nil {
		slog.Error("health stats failed", "component", "api", "error", err)
		WriteProblem(w, r, http.StatusInternalServerError, "Internal Server Error")
		return
	}

	writeJSON(w, http.StatusOK, types.HealthResponse{
		Status:        "healthy",
		Version:       h.version,
		Integrations:  stats.Integrations,
		MirroredCount: stats.MirroredIssues,
	})
}

// authorize checks the caller's relationship to projectID.
func (h *Handler) authorize(ctx context.Context, projectID string, allowed func(access.Relationship) bool) error {
	_, err := h.reader.Authorize(ctx, CallerIDFromContext(ctx), projectID, allowed)
	return err
}

// requireAdmin returns access.ErrAccessDenied unless the caller is a platform admin.
func (h *Handler) requireAdmin(ctx context.Context) error {
	ok, err := h.reader.IsAdmin(ctx, CallerIDFromContext(ctx))
	if err != nil {
		return err
	}
	if !ok {
		return access.ErrAccessDenied
	}
	return nil
}

// anyRelationship admits every caller Resolve accepts.
func anyRelationship(access.Relationship) bool { return true }

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		invalidJSON(w, r, err)
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("failed to encode response", "component", "api", "error", err)
	}
}
