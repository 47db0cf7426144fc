package app

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	jobmetrics "github.com/tawseel/tawseel/internal/jobs"
	"github.com/tawseel/tawseel/internal/observability"
	"github.com/tawseel/tawseel/internal/reporting"
	reportinghttp "github.com/tawseel/tawseel/internal/reporting/http"
	"github.com/tawseel/tawseel/jobs"
)

func newTestAppRouter(checks map[string]HealthCheck) http.Handler {
	svc := reporting.NewService(nil, nil, reporting.ServiceConfig{})
	return NewRouter(RouterParams{
		Config:        &Config{AppEnv: "test", AppRateLimit: 1000},
		ReportHandler: reportinghttp.NewHandler(nil, svc, nil, reportinghttp.Options{}),
		JobHandler:    jobs.NewHandler(nil, nil),
		Metrics:       observability.NewMetrics(),
		Checks:        checks,
	})
}

func TestRouterHealthAndSecurityHeaders(t *testing.T) {
	router := newTestAppRouter(nil)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
	assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))
	assert.Equal(t, "DENY", rec.Header().Get("X-Frame-Options"))
}

func TestRouterReadiness(t *testing.T) {
	router := newTestAppRouter(map[string]HealthCheck{
		"postgres": func(context.Context) error { return nil },
		"redis":    func(context.Context) error { return errors.New("dial tcp: refused") },
	})

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.JSONEq(t, `{"postgres":"ok","redis":"unavailable"}`, rec.Body.String())
}

func TestRouterMountsReportsAndMetrics(t *testing.T) {
	router := newTestAppRouter(nil)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/businesses/not-a-uuid/reports/kpis", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `tawseel_http_requests_total{code="400",route="/businesses/{businessID}/reports/kpis"} 1`)
}

func TestRouterMountsJobHealth(t *testing.T) {
	router := newTestAppRouter(nil)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/jobs/health", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `[
		{"queue":"reports","pending":0,"active":0,"retry":0},
		{"queue":"default","pending":0,"active":0,"retry":0}
	]`, rec.Body.String())
}

func TestOpsRouterServesJobMetrics(t *testing.T) {
	metrics := observability.NewMetrics()
	jobStats := jobmetrics.NewMetrics(metrics.Registerer())
	_ = jobStats.Track("reports:warmup").End(errors.New("query timeout"))
	jobStats.AddWarmed("success", 3)

	router := NewOpsRouter(OpsParams{
		Metrics: metrics,
		Checks: map[string]HealthCheck{
			"redis": func(context.Context) error { return nil },
		},
	})

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, `tawseel_jobs_failures_total{job="reports:warmup"} 1`)
	assert.Contains(t, body, `tawseel_jobs_total{job="reports:warmup",status="failure"} 1`)
	assert.Contains(t, body, `tawseel_report_warmups_total{outcome="success"} 3`)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"redis":"ok"}`, rec.Body.String())
}
