package api

import (
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// NewRouter creates a new router with all routes configured
func NewRouter(h *Handler) *chi.Mux {
	r := chi.NewRouter()

	// Global middleware (all routes)
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(LoggingMiddleware)
	r.Use(RecoveryMiddleware)

	// Routes that call the tracker: burst of 30, then one every 500ms.
	trackerLimiter := NewTrackerRateLimiter(30, 500*time.Millisecond)

	r.Route("/api/v1", func(r chi.Router) {
		// Public
		r.Get("/health", h.Health)

		r.Group(func(r chi.Router) {
			r.Use(AuthMiddleware(h.apiKey))
			r.Use(CallerMiddleware)

			r.Get("/integrations", h.ListIntegrations)

			r.Route("/projects/{projectID}", func(r chi.Router) {
				r.Get("/integration", h.GetIntegration)
				r.Delete("/integration", h.DeleteIntegration)
				r.Get("/issues", h.ListIssues)
				r.Get("/tasks", h.ListTasks)
				r.Post("/tasks", h.CreateTask)

				r.Group(func(r chi.Router) {
					r.Use(trackerLimiter.Middleware)
					r.Put("/integration", h.ConfigureIntegration)
					r.Patch("/integration", h.UpdateIntegration)
					r.Post("/integration/test", h.TestIntegration)
					r.Post("/sync", h.Sync)
				})
			})

			r.Get("/issues/{key}", h.GetIssue)
			r.Group(func(r chi.Router) {
				r.Use(trackerLimiter.Middleware)
				r.Patch("/issues/{key}", h.UpdateIssue)
				r.Delete("/issues/{key}", h.DeleteIssue)
				r.Post("/issues/{key}/links", h.LinkIssues)
				r.Put("/issues/{key}/sprint", h.MoveToSprint)
				r.Delete("/issues/{key}/sprint", h.MoveToBacklog)
			})

			r.Get("/tasks/{taskID}", h.GetTask)
			r.Post("/tasks/{taskID}/link", h.LinkTask)
			r.Group(func(r chi.Router) {
				r.Use(trackerLimiter.Middleware)
				r.Patch("/tasks/{taskID}/status", h.UpdateTaskStatus)
				r.Put("/admin/tasks/{taskID}/status", h.OverrideTaskStatus)
				r.Post("/tasks/{taskID}/publish", h.PublishTask)
			})
		})
	})

	return r
}
