package httpapi

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"perimeter/internal/platform/metrics"
	"perimeter/internal/platform/middleware"
)

// NewRouter wires all public endpoints. Everything under the authenticated
// group shares the standard middleware chain; health and metrics stay open
// for probes and scrapers.
func NewRouter(h *Handler, m *metrics.Metrics) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recovery(h.logger))
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger(h.logger))
	r.Use(middleware.Metrics(m))
	r.Use(middleware.Timeout(30 * time.Second))

	r.Get("/healthz", h.handleHealth)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	r.Group(func(r chi.Router) {
		r.Use(middleware.ContentTypeJSON)
		r.Use(middleware.RequireAuth(h.jwtValidator, h.logger))

		r.Post("/locations", h.handleSubmitLocation)
		r.Get("/fences", h.handleListFences)
		r.Get("/fences/{fenceID}/occupants", h.handleOccupants)
		r.Get("/users/{userID}/history", h.handleHistory)
		r.Get("/users/{userID}/fraud-events", h.handleFraudEvents)
	})

	return r
}
