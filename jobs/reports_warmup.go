package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"

	jobmetrics "github.com/tawseel/tawseel/internal/jobs"
	"github.com/tawseel/tawseel/internal/reporting"
)

var defaultJobMetrics = jobmetrics.NewMetrics(nil)

// ReportWarmer computes the cached reports, populating the cache as a side
// effect. KPIs are recomputed per request and are not warmed.
type ReportWarmer interface {
	GetTimeSeries(ctx context.Context, businessID uuid.UUID, filters reporting.Filters, bucket reporting.Bucket) ([]reporting.TimeSeriesPoint, error)
	GetBreakdowns(ctx context.Context, businessID uuid.UUID, filters reporting.Filters) (reporting.Breakdowns, error)
	GetStatusDistribution(ctx context.Context, businessID uuid.UUID, filters reporting.Filters) ([]reporting.StatusShare, error)
}

// BusinessLister returns businesses with orders dated on or after since.
type BusinessLister func(ctx context.Context, since time.Time) ([]uuid.UUID, error)

// ReportsWarmupJob precomputes the default dashboard window for active businesses.
type ReportsWarmupJob struct {
	Reports     ReportWarmer
	Businesses  BusinessLister
	Logger      *slog.Logger
	Metrics     *jobmetrics.Metrics
	Location    *time.Location
	Denominator reporting.Denominator
	clock       func() time.Time
}

// NewReportsWarmupJob wires dependencies for the warmup handler.
func NewReportsWarmupJob(reports ReportWarmer, businesses BusinessLister, logger *slog.Logger, metrics *jobmetrics.Metrics) *ReportsWarmupJob {
	return &ReportsWarmupJob{
		Reports:    reports,
		Businesses: businesses,
		Logger:     logger,
		Metrics:    metrics,
		clock: func() time.Time {
			return time.Now().UTC()
		},
	}
}

// Handle processes warmup tasks. A failing business does not stop the run;
// the joined error is returned once every business has been attempted.
func (j *ReportsWarmupJob) Handle(ctx context.Context, t *asynq.Task) (err error) {
	if j == nil || j.Reports == nil || j.Businesses == nil {
		return errors.New("reports warmup: handler not configured")
	}
	var payload WarmupPayload
	if len(t.Payload()) > 0 {
		if err := json.Unmarshal(t.Payload(), &payload); err != nil {
			return fmt.Errorf("reports warmup: decode payload: %v: %w", err, asynq.SkipRetry)
		}
	}
	if payload.LookbackDays <= 0 {
		payload.LookbackDays = DefaultLookbackDays
	}

	tracker := j.metrics().Track(TaskReportsWarmup)
	defer func() {
		err = tracker.End(err)
	}()

	from, to := j.window(payload.LookbackDays)
	logger := j.logger().With(
		slog.String("date_from", from.Format(time.DateOnly)),
		slog.String("date_to", to.Format(time.DateOnly)),
	)

	var businesses []uuid.UUID
	if payload.BusinessID != nil {
		businesses = []uuid.UUID{*payload.BusinessID}
	} else {
		ids, listErr := j.Businesses(ctx, from)
		if listErr != nil {
			logger.Error("list active businesses", slog.Any("error", listErr))
			return fmt.Errorf("reports warmup: list businesses: %w", listErr)
		}
		businesses = ids
	}
	if len(businesses) == 0 {
		logger.Info("no active businesses to warm")
		return nil
	}

	filters := reporting.Filters{DateFrom: from, DateTo: to, Denominator: j.Denominator}
	var errs []error
	warmed := 0
	for _, businessID := range businesses {
		if ctxErr := ctx.Err(); ctxErr != nil {
			errs = append(errs, ctxErr)
			break
		}
		if warmErr := j.warmBusiness(ctx, businessID, filters); warmErr != nil {
			errs = append(errs, fmt.Errorf("business %s: %w", businessID, warmErr))
			logger.Warn("warm business", slog.String("business_id", businessID.String()), slog.Any("error", warmErr))
			continue
		}
		warmed++
	}

	j.metrics().AddWarmed("success", warmed)
	j.metrics().AddWarmed("failure", len(businesses)-warmed)
	logger.Info("reports warmup finished", slog.Int("warmed", warmed), slog.Int("businesses", len(businesses)))

	return errors.Join(errs...)
}

func (j *ReportsWarmupJob) warmBusiness(ctx context.Context, businessID uuid.UUID, filters reporting.Filters) error {
	if _, err := j.Reports.GetTimeSeries(ctx, businessID, filters, reporting.BucketDay); err != nil {
		return fmt.Errorf("timeseries: %w", err)
	}
	if _, err := j.Reports.GetBreakdowns(ctx, businessID, filters); err != nil {
		return fmt.Errorf("breakdowns: %w", err)
	}
	if _, err := j.Reports.GetStatusDistribution(ctx, businessID, filters); err != nil {
		return fmt.Errorf("statuses: %w", err)
	}
	return nil
}

// window returns the inclusive date range ending today in the job location.
func (j *ReportsWarmupJob) window(days int) (time.Time, time.Time) {
	loc := j.Location
	if loc == nil {
		loc = time.UTC
	}
	now := j.now().In(loc)
	to := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	from := to.AddDate(0, 0, -(days - 1))
	return from, to
}

func (j *ReportsWarmupJob) now() time.Time {
	if j.clock != nil {
		return j.clock()
	}
	return time.Now().UTC()
}

func (j *ReportsWarmupJob) logger() *slog.Logger {
	if j.Logger != nil {
		return j.Logger.With(slog.String("job", TaskReportsWarmup))
	}
	return slog.Default().With(slog.String("job", TaskReportsWarmup))
}

func (j *ReportsWarmupJob) metrics() *jobmetrics.Metrics {
	if j.Metrics != nil {
		return j.Metrics
	}
	return defaultJobMetrics
}
