// Package api wires the HTTP surface: health probes, Prometheus metrics, and
// the authenticated operator endpoints for the scheduler and dead letter
// queue.
package api

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	authmiddleware "github.com/phrazzld/recur-api/internal/api/middleware"
	"github.com/phrazzld/recur-api/internal/platform/metrics"
)

// RouterDeps bundles the handlers and middleware the router mounts.
type RouterDeps struct {
	Health    *HealthHandler
	DLQ       *DLQHandler
	Scheduler *SchedulerHandler
	Auth      *authmiddleware.AuthMiddleware
	Metrics   *metrics.Collector
	Logger    *slog.Logger
}

// NewRouter assembles the chi router. Health and metrics endpoints are
// public; everything under /admin requires a valid bearer token.
func NewRouter(deps RouterDeps) chi.Router {
	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(authmiddleware.RequestLogger(deps.Logger))
	r.Use(chimiddleware.Recoverer)
	r.Use(chimiddleware.Timeout(30 * time.Second))

	r.Get("/healthz", deps.Health.Healthz)
	r.Get("/readyz", deps.Health.Readyz)
	r.Method(http.MethodGet, "/metrics", deps.Metrics.Handler())

	r.Route("/admin", func(r chi.Router) {
		r.Use(deps.Auth.Authenticate)

		r.Get("/dlq", deps.DLQ.ListEntries)
		r.Post("/dlq/retry", deps.DLQ.RetryEntry)
		r.Get("/dlq/stats", deps.DLQ.Stats)

		r.Get("/jobs", deps.Scheduler.PendingJobs)
		r.Post("/jobs/trigger", deps.Scheduler.TriggerJob)
	})

	return r
}
