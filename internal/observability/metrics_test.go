package observability

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/testutil"

	jobmetrics "github.com/tawseel/tawseel/internal/jobs"
)

func TestMetricsHandlerExposesJobMetrics(t *testing.T) {
	metrics := NewMetrics()
	jobs := jobmetrics.NewMetrics(metrics.Registerer())
	_ = jobs.Track("reports:warmup").End(nil)
	_ = jobs.Track("reports:invalidate").End(errors.New("redis down"))

	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)

	metrics.Handler().ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("unexpected status: %d", rr.Code)
	}

	body := rr.Body.String()
	if !strings.Contains(body, `tawseel_jobs_total{job="reports:warmup",status="success"} 1`) {
		t.Fatalf("expected warmup success to be recorded, got: %s", body)
	}
	if !strings.Contains(body, `tawseel_jobs_failures_total{job="reports:invalidate"} 1`) {
		t.Fatalf("expected invalidate failure to be recorded, got: %s", body)
	}
}

func TestMetricsMiddlewareRecordsRequest(t *testing.T) {
	metrics := NewMetrics()

	handler := metrics.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))

	routeCtx := chi.NewRouteContext()
	routeCtx.RoutePatterns = append(routeCtx.RoutePatterns, "/businesses/{businessID}/reports/kpis")

	req := httptest.NewRequest(http.MethodGet, "/businesses/abc/reports/kpis", nil)
	ctx := context.WithValue(req.Context(), chi.RouteCtxKey, routeCtx)
	req = req.WithContext(ctx)

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusTeapot {
		t.Fatalf("expected status %d, got %d", http.StatusTeapot, rr.Code)
	}

	metricsRR := httptest.NewRecorder()
	metrics.Handler().ServeHTTP(metricsRR, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	metricsBody := metricsRR.Body.String()
	if !strings.Contains(metricsBody, `tawseel_http_requests_total{code="418",route="/businesses/{businessID}/reports/kpis"} 1`) {
		t.Fatalf("expected metrics to record request, got: %s", metricsBody)
	}
	if !strings.Contains(metricsBody, `tawseel_http_request_duration_seconds_bucket{route="/businesses/{businessID}/reports/kpis"`) {
		t.Fatalf("expected duration histogram to be present, got: %s", metricsBody)
	}
}

func TestNilMetricsHandlerUnavailable(t *testing.T) {
	var metrics *Metrics
	rr := httptest.NewRecorder()
	metrics.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rr.Code)
	}
}

func TestMetricsRegistryCarriesRuntimeAndInFlight(t *testing.T) {
	metrics := NewMetrics()

	var inside float64
	handler := metrics.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		inside = testutil.ToFloat64(metrics.inFlight)
		_, _ = w.Write([]byte("ok"))
	}))
	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/nowhere", nil))

	if inside != 1 {
		t.Fatalf("expected one in-flight request while serving, got %v", inside)
	}
	if got := testutil.ToFloat64(metrics.inFlight); got != 0 {
		t.Fatalf("expected in-flight gauge to drop back to 0, got %v", got)
	}
	if got := testutil.ToFloat64(metrics.requests.WithLabelValues("unmatched", "200")); got != 1 {
		t.Fatalf("expected unrouted request under the unmatched route, got %v", got)
	}

	families, err := metrics.Gatherer().Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	names := make(map[string]bool, len(families))
	for _, family := range families {
		names[family.GetName()] = true
	}
	for _, want := range []string{"go_goroutines", "tawseel_http_requests_in_flight"} {
		if !names[want] {
			t.Fatalf("expected %s in registry", want)
		}
	}
}
