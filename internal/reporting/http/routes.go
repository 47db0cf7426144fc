package reportinghttp

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/httprate"

	"github.com/tawseel/tawseel/internal/platform/httpx"
)

// MountRoutes registers reporting endpoints onto the router.
func (h *Handler) MountRoutes(r chi.Router) {
	if h == nil {
		return
	}
	limiter := httprate.Limit(10, time.Minute,
		httprate.WithKeyFuncs(rateLimitKey),
		httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
			httpx.Problem(w, http.StatusTooManyRequests, http.StatusText(http.StatusTooManyRequests), "export limit reached")
		}),
	)

	r.Route("/businesses/{businessID}/reports", func(br chi.Router) {
		br.Get("/kpis", h.handleKPIs)
		br.Get("/timeseries", h.handleTimeSeries)
		br.Get("/breakdowns", h.handleBreakdowns)
		br.Get("/statuses", h.handleStatuses)
		br.Post("/cache/invalidate", h.handleInvalidate)
		br.Group(func(gr chi.Router) {
			gr.Use(limiter)
			gr.Get("/export.csv", h.handleCSV)
		})
	})
}

// Exports are limited per business and client address.
func rateLimitKey(r *http.Request) (string, error) {
	key, err := httprate.KeyByIP(r)
	if err != nil {
		return "", err
	}
	return "business:" + chi.URLParam(r, "businessID") + ":ip:" + key, nil
}
