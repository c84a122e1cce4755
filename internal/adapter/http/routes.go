package http

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// MountRoutes registers all API routes on the given chi router. limit is
// applied to the decision endpoint only; it may be nil.
func MountRoutes(r chi.Router, h *Handlers, limit func(http.Handler) http.Handler) {
	r.Get("/health", h.Health)

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/", func(w http.ResponseWriter, _ *http.Request) {
			writeJSON(w, http.StatusOK, map[string]string{"version": h.Version})
		})

		if limit != nil {
			r.With(limit).Post("/route", h.Route)
		} else {
			r.Post("/route", h.Route)
		}

		r.Get("/providers/resolve", h.ResolveProvider)
		r.Get("/audit", h.ListAudit)
	})
}
