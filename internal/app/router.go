package app

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/tawseel/tawseel/internal/observability"
	"github.com/tawseel/tawseel/internal/platform/httpx"
	reportinghttp "github.com/tawseel/tawseel/internal/reporting/http"
	"github.com/tawseel/tawseel/jobs"
)

// HealthCheck reports whether a backing service is reachable.
type HealthCheck func(ctx context.Context) error

// RouterParams groups dependencies for building the HTTP router.
type RouterParams struct {
	Logger        *slog.Logger
	Config        *Config
	ReportHandler *reportinghttp.Handler
	JobHandler    *jobs.Handler
	Metrics       *observability.Metrics
	// Checks are run by /readyz keyed by dependency name.
	Checks map[string]HealthCheck
}

// NewRouter constructs the chi.Router with the API defaults.
func NewRouter(params RouterParams) http.Handler {
	r := chi.NewRouter()

	for _, mw := range MiddlewareStack(MiddlewareConfig{
		Logger:  params.Logger,
		Config:  params.Config,
		Metrics: params.Metrics,
	}) {
		r.Use(mw)
	}

	r.Use(chimw.Logger)

	mountHealth(r, params.Logger, params.Checks)

	if params.ReportHandler != nil {
		params.ReportHandler.MountRoutes(r)
	}
	if params.JobHandler != nil {
		r.Route("/jobs", params.JobHandler.MountRoutes)
	}
	if params.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", params.Metrics.Handler())
	}

	return r
}

// OpsParams groups dependencies for the worker's operational endpoints.
type OpsParams struct {
	Logger  *slog.Logger
	Metrics *observability.Metrics
	Checks  map[string]HealthCheck
}

// NewOpsRouter serves health checks and /metrics for processes without a public API.
func NewOpsRouter(params OpsParams) http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.Recoverer)
	mountHealth(r, params.Logger, params.Checks)
	r.Method(http.MethodGet, "/metrics", params.Metrics.Handler())
	return r
}

func mountHealth(r chi.Router, logger *slog.Logger, checks map[string]HealthCheck) {
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		httpx.JSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Get("/readyz", func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		status := http.StatusOK
		result := make(map[string]string, len(checks))
		for name, check := range checks {
			if err := check(ctx); err != nil {
				status = http.StatusServiceUnavailable
				result[name] = "unavailable"
				if logger != nil {
					logger.Warn("readiness check", slog.String("dependency", name), slog.Any("error", err))
				}
				continue
			}
			result[name] = "ok"
		}
		httpx.JSON(w, status, result)
	})
}
