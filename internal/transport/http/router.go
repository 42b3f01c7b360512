// Package httptransport assembles the public router: middleware chain,
// registry endpoints, health, and metrics.
package httptransport

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"sitestats/internal/platform/middleware"
	"sitestats/internal/sites/handler"
	"sitestats/internal/sites/metrics"
	"sitestats/internal/transport/http/shared"
)

const requestTimeout = 30 * time.Second

// NewRouter wires all public endpoints.
func NewRouter(h *handler.Handler, logger *slog.Logger, m *metrics.Metrics) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recovery(logger))
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger(logger))
	r.Use(middleware.Latency(m))
	r.Use(middleware.Timeout(requestTimeout))

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		shared.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Handle("/metrics", promhttp.Handler())

	h.Register(r)
	return r
}
