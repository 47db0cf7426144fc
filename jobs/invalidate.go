package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"

	jobmetrics "github.com/tawseel/tawseel/internal/jobs"
)

// CacheBumper invalidates every cached report.
type CacheBumper interface {
	Bump(ctx context.Context) error
}

// InvalidateJob bumps the report cache version after order data changes.
type InvalidateJob struct {
	Cache   CacheBumper
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
	// Rewarm, when set, schedules a warmup for the affected business.
	Rewarm func(ctx context.Context, businessID uuid.UUID) error
}

// NewInvalidateJob wires dependencies for the invalidation handler.
func NewInvalidateJob(cache CacheBumper, logger *slog.Logger, metrics *jobmetrics.Metrics) *InvalidateJob {
	return &InvalidateJob{Cache: cache, Logger: logger, Metrics: metrics}
}

// Handle processes invalidation tasks.
func (j *InvalidateJob) Handle(ctx context.Context, t *asynq.Task) (err error) {
	if j == nil || j.Cache == nil {
		return errors.New("reports invalidate: handler not configured")
	}
	var payload InvalidatePayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("reports invalidate: decode payload: %v: %w", err, asynq.SkipRetry)
	}

	tracker := j.metrics().Track(TaskReportsInvalidate)
	defer func() {
		err = tracker.End(err)
	}()

	logger := j.logger().With(
		slog.String("business_id", payload.BusinessID.String()),
		slog.String("reason", payload.Reason),
	)
	if bumpErr := j.Cache.Bump(ctx); bumpErr != nil {
		logger.Error("bump report cache", slog.Any("error", bumpErr))
		return fmt.Errorf("reports invalidate: bump: %w", bumpErr)
	}
	logger.Info("report cache invalidated", slog.Time("requested_at", payload.RequestedAt))

	if j.Rewarm != nil && payload.BusinessID != uuid.Nil {
		if rewarmErr := j.Rewarm(ctx, payload.BusinessID); rewarmErr != nil {
			logger.Warn("schedule rewarm", slog.Any("error", rewarmErr))
		}
	}
	return nil
}

func (j *InvalidateJob) logger() *slog.Logger {
	if j.Logger != nil {
		return j.Logger.With(slog.String("job", TaskReportsInvalidate))
	}
	return slog.Default().With(slog.String("job", TaskReportsInvalidate))
}

func (j *InvalidateJob) metrics() *jobmetrics.Metrics {
	if j.Metrics != nil {
		return j.Metrics
	}
	return defaultJobMetrics
}
