package reportinghttp

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"reflect"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/tawseel/tawseel/internal/platform/httpx"
	"github.com/tawseel/tawseel/internal/reporting"
	"github.com/tawseel/tawseel/internal/reporting/export"
)

const (
	dateLayout       = "2006-01-02"
	defaultRangeDays = 30
	requestTimeout   = 5 * time.Second
)

// ReportService defines the report contract used by the handler.
type ReportService interface {
	GetKPIs(ctx context.Context, businessID uuid.UUID, filters reporting.Filters) (reporting.KPIs, error)
	GetTimeSeries(ctx context.Context, businessID uuid.UUID, filters reporting.Filters, bucket reporting.Bucket) ([]reporting.TimeSeriesPoint, error)
	GetBreakdowns(ctx context.Context, businessID uuid.UUID, filters reporting.Filters) (reporting.Breakdowns, error)
	GetStatusDistribution(ctx context.Context, businessID uuid.UUID, filters reporting.Filters) ([]reporting.StatusShare, error)
}

// Invalidator queues a cache invalidation after new data lands.
type Invalidator interface {
	EnqueueInvalidate(ctx context.Context, businessID uuid.UUID, reason string) error
}

// Options tunes request defaults.
type Options struct {
	Location           *time.Location
	DefaultDenominator reporting.Denominator
	Timeout            time.Duration
}

// Handler serves the reporting API.
type Handler struct {
	logger      *slog.Logger
	service     ReportService
	invalidator Invalidator
	validate    *validator.Validate
	location    *time.Location
	denominator reporting.Denominator
	timeout     time.Duration
	csvPool     sync.Pool
	now         func() time.Time
}

// NewHandler constructs the reporting HTTP handler.
func NewHandler(logger *slog.Logger, service ReportService, invalidator Invalidator, opts Options) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	loc := opts.Location
	if loc == nil {
		loc = time.UTC
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = requestTimeout
	}
	validate := validator.New()
	validate.RegisterTagNameFunc(func(field reflect.StructField) string {
		name := strings.SplitN(field.Tag.Get("query"), ",", 2)[0]
		if name == "" || name == "-" {
			return field.Name
		}
		return name
	})
	h := &Handler{
		logger:      logger,
		service:     service,
		invalidator: invalidator,
		validate:    validate,
		location:    loc,
		denominator: opts.DefaultDenominator,
		timeout:     timeout,
		now:         time.Now,
	}
	h.csvPool.New = func() interface{} { return new(bytes.Buffer) }
	return h
}

// WithNow overrides the handler clock for testing.
func (h *Handler) WithNow(fn func() time.Time) {
	if fn != nil {
		h.now = fn
	}
}

type reportQuery struct {
	DateFrom      string `query:"date_from" validate:"omitempty,datetime=2006-01-02"`
	DateTo        string `query:"date_to" validate:"omitempty,datetime=2006-01-02"`
	CountryID     string `query:"country_id" validate:"omitempty,uuid"`
	CarrierID     string `query:"carrier_id" validate:"omitempty,uuid"`
	EmployeeID    string `query:"employee_id" validate:"omitempty,uuid"`
	ProductID     string `query:"product_id" validate:"omitempty,uuid"`
	StatusID      string `query:"status_id" validate:"omitempty,uuid"`
	StatusKey     string `query:"status_key" validate:"omitempty,max=64"`
	IncludeAdCost string `query:"include_ad_cost" validate:"omitempty,boolean"`
	Denominator   string `query:"denominator" validate:"omitempty,oneof=total delivered"`
	Bucket        string `query:"bucket" validate:"omitempty,max=16"`
	Lang          string `query:"lang" validate:"omitempty,max=16"`
}

type request struct {
	businessID uuid.UUID
	filters    reporting.Filters
	bucket     reporting.Bucket
	lang       string
}

func (h *Handler) handleKPIs(w http.ResponseWriter, r *http.Request) {
	req, ok := h.parse(w, r)
	if !ok {
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	kpis, err := h.service.GetKPIs(ctx, req.businessID, req.filters)
	if err != nil {
		h.respondServiceError(w, "get kpis", err)
		return
	}
	httpx.JSON(w, http.StatusOK, kpis)
}

func (h *Handler) handleTimeSeries(w http.ResponseWriter, r *http.Request) {
	req, ok := h.parse(w, r)
	if !ok {
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	points, err := h.service.GetTimeSeries(ctx, req.businessID, req.filters, req.bucket)
	if err != nil {
		h.respondServiceError(w, "get time series", err)
		return
	}
	if points == nil {
		points = []reporting.TimeSeriesPoint{}
	}
	httpx.JSON(w, http.StatusOK, points)
}

func (h *Handler) handleBreakdowns(w http.ResponseWriter, r *http.Request) {
	req, ok := h.parse(w, r)
	if !ok {
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	breakdowns, err := h.service.GetBreakdowns(ctx, req.businessID, req.filters)
	if err != nil {
		h.respondServiceError(w, "get breakdowns", err)
		return
	}
	httpx.JSON(w, http.StatusOK, breakdowns)
}

func (h *Handler) handleStatuses(w http.ResponseWriter, r *http.Request) {
	req, ok := h.parse(w, r)
	if !ok {
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	shares, err := h.service.GetStatusDistribution(ctx, req.businessID, req.filters)
	if err != nil {
		h.respondServiceError(w, "get status distribution", err)
		return
	}
	if shares == nil {
		shares = []reporting.StatusShare{}
	}
	httpx.JSON(w, http.StatusOK, shares)
}

func (h *Handler) handleCSV(w http.ResponseWriter, r *http.Request) {
	req, ok := h.parse(w, r)
	if !ok {
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	report, err := h.loadReport(ctx, req)
	if err != nil {
		h.respondServiceError(w, "load export", err)
		return
	}

	buf := h.csvPool.Get().(*bytes.Buffer)
	buf.Reset()
	defer func() {
		buf.Reset()
		h.csvPool.Put(buf)
	}()

	printer := export.Printer(req.lang, r.Header.Get("Accept-Language"))
	if err := export.WriteReport(buf, printer, report); err != nil {
		h.handleServerError(w, "write report csv", err)
		return
	}

	filename := fmt.Sprintf("report-%s-%s.csv", report.DateFrom, report.DateTo)
	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=\"%s\"", filename))
	if _, err := w.Write(buf.Bytes()); err != nil {
		h.logError("stream csv", err)
	}
}

func (h *Handler) handleInvalidate(w http.ResponseWriter, r *http.Request) {
	businessID, err := uuid.Parse(chi.URLParam(r, "businessID"))
	if err != nil || businessID == uuid.Nil {
		httpx.RespondError(w, fmt.Errorf("%w: invalid business id", httpx.ErrValidation))
		return
	}
	if h.invalidator == nil {
		h.handleServerError(w, "invalidate", errors.New("invalidation queue not configured"))
		return
	}
	reason := strings.TrimSpace(r.URL.Query().Get("reason"))
	if reason == "" {
		reason = "api"
	}
	if err := h.invalidator.EnqueueInvalidate(r.Context(), businessID, reason); err != nil {
		h.handleServerError(w, "enqueue invalidate", err)
		return
	}
	httpx.JSON(w, http.StatusAccepted, map[string]string{"status": "queued"})
}

// loadReport fans out the four report calls for the CSV export.
func (h *Handler) loadReport(ctx context.Context, req request) (export.Report, error) {
	report := export.Report{
		DateFrom: req.filters.DateFrom.Format(dateLayout),
		DateTo:   req.filters.DateTo.Format(dateLayout),
	}
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		kpis, err := h.service.GetKPIs(ctx, req.businessID, req.filters)
		if err != nil {
			return err
		}
		report.KPIs = kpis
		return nil
	})
	g.Go(func() error {
		points, err := h.service.GetTimeSeries(ctx, req.businessID, req.filters, reporting.BucketDay)
		if err != nil {
			return err
		}
		report.Series = points
		return nil
	})
	g.Go(func() error {
		breakdowns, err := h.service.GetBreakdowns(ctx, req.businessID, req.filters)
		if err != nil {
			return err
		}
		report.Breakdowns = breakdowns
		return nil
	})
	g.Go(func() error {
		shares, err := h.service.GetStatusDistribution(ctx, req.businessID, req.filters)
		if err != nil {
			return err
		}
		report.Statuses = shares
		return nil
	})
	if err := g.Wait(); err != nil {
		return export.Report{}, err
	}
	return report, nil
}

// parse reads the business id and query into a request, writing a problem
// response and returning false when the input is invalid.
func (h *Handler) parse(w http.ResponseWriter, r *http.Request) (request, bool) {
	req, err := h.parseRequest(r)
	if err != nil {
		var vErr validationError
		if errors.As(err, &vErr) {
			httpx.RespondError(w, fmt.Errorf("%w: %s", httpx.ErrValidation, vErr.Error()))
			return request{}, false
		}
		h.handleServerError(w, "parse request", err)
		return request{}, false
	}
	return req, true
}

func (h *Handler) parseRequest(r *http.Request) (request, error) {
	businessID, err := uuid.Parse(chi.URLParam(r, "businessID"))
	if err != nil || businessID == uuid.Nil {
		return request{}, validationError{fields: []string{"businessID"}}
	}

	values := r.URL.Query()
	q := reportQuery{
		DateFrom:      strings.TrimSpace(values.Get("date_from")),
		DateTo:        strings.TrimSpace(values.Get("date_to")),
		CountryID:     strings.TrimSpace(values.Get("country_id")),
		CarrierID:     strings.TrimSpace(values.Get("carrier_id")),
		EmployeeID:    strings.TrimSpace(values.Get("employee_id")),
		ProductID:     strings.TrimSpace(values.Get("product_id")),
		StatusID:      strings.TrimSpace(values.Get("status_id")),
		StatusKey:     strings.TrimSpace(values.Get("status_key")),
		IncludeAdCost: strings.TrimSpace(values.Get("include_ad_cost")),
		Denominator:   strings.TrimSpace(values.Get("denominator")),
		Bucket:        strings.TrimSpace(values.Get("bucket")),
		Lang:          strings.TrimSpace(values.Get("lang")),
	}
	if err := h.validate.Struct(q); err != nil {
		var fieldErrs validator.ValidationErrors
		if !errors.As(err, &fieldErrs) {
			return request{}, err
		}
		vErr := validationError{}
		for _, fieldErr := range fieldErrs {
			vErr.fields = append(vErr.fields, fieldErr.Field())
		}
		return request{}, vErr
	}

	filters := reporting.Filters{
		StatusKey:   q.StatusKey,
		Denominator: reporting.Denominator(q.Denominator),
	}
	if filters.Denominator == "" {
		filters.Denominator = h.denominator
	}

	today := h.now().In(h.location)
	filters.DateTo = dateOnly(today)
	if q.DateTo != "" {
		filters.DateTo = mustDate(q.DateTo)
	}
	filters.DateFrom = filters.DateTo.AddDate(0, 0, -(defaultRangeDays - 1))
	if q.DateFrom != "" {
		filters.DateFrom = mustDate(q.DateFrom)
	}

	filters.CountryID = optionalUUID(q.CountryID)
	filters.CarrierID = optionalUUID(q.CarrierID)
	filters.EmployeeID = optionalUUID(q.EmployeeID)
	filters.ProductID = optionalUUID(q.ProductID)
	filters.StatusID = optionalUUID(q.StatusID)
	if q.IncludeAdCost != "" {
		include, _ := strconv.ParseBool(q.IncludeAdCost)
		filters.IncludeAdCost = &include
	}

	return request{
		businessID: businessID,
		filters:    filters,
		bucket:     reporting.Bucket(q.Bucket),
		lang:       q.Lang,
	}, nil
}

func (h *Handler) respondServiceError(w http.ResponseWriter, op string, err error) {
	switch {
	case errors.Is(err, reporting.ErrInvalidFilter), errors.Is(err, reporting.ErrUnsupportedBucket):
		httpx.RespondError(w, fmt.Errorf("%w: %s", httpx.ErrValidation, err.Error()))
	case errors.Is(err, context.DeadlineExceeded):
		h.logError(op, err)
		httpx.RespondError(w, fmt.Errorf("%w: %s", httpx.ErrTimeout, op))
	default:
		h.handleServerError(w, op, err)
	}
}

func (h *Handler) handleServerError(w http.ResponseWriter, context string, err error) {
	h.logError(context, err)
	httpx.RespondError(w, err)
}

func (h *Handler) logError(context string, err error) {
	if h.logger != nil {
		h.logger.Error(context, slog.Any("error", err))
	}
}

type validationError struct {
	fields []string
}

func (v validationError) Error() string {
	return fmt.Sprintf("invalid %s", strings.Join(v.fields, ", "))
}

func dateOnly(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// mustDate parses a value already checked by the validator.
func mustDate(v string) time.Time {
	t, _ := time.Parse(dateLayout, v)
	return t
}

func optionalUUID(v string) *uuid.UUID {
	if v == "" {
		return nil
	}
	id, err := uuid.Parse(v)
	if err != nil {
		return nil
	}
	return &id
}
