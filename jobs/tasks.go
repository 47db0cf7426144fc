package jobs

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// QueueReports carries report cache maintenance.
	QueueReports = "reports"

	// TaskReportsWarmup precomputes reports for recently active businesses.
	TaskReportsWarmup = "reports:warmup"
	// TaskReportsInvalidate bumps the report cache version.
	TaskReportsInvalidate = "reports:invalidate"
)

// DefaultLookbackDays is the warmup window when the payload leaves it unset.
const DefaultLookbackDays = 30

// WarmupPayload scopes a warmup run. A nil BusinessID warms every business
// with orders inside the lookback window.
type WarmupPayload struct {
	LookbackDays int        `json:"lookback_days,omitempty"`
	BusinessID   *uuid.UUID `json:"business_id,omitempty"`
}

// InvalidatePayload records who asked for a cache bump.
type InvalidatePayload struct {
	BusinessID  uuid.UUID `json:"business_id"`
	Reason      string    `json:"reason"`
	RequestedAt time.Time `json:"requested_at"`
}

// NewWarmupTask constructs a warmup task.
func NewWarmupTask(payload WarmupPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskReportsWarmup, data, asynq.Queue(QueueReports), asynq.MaxRetry(3)), nil
}

// NewInvalidateTask constructs a cache invalidation task.
func NewInvalidateTask(payload InvalidatePayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskReportsInvalidate, data, asynq.Queue(QueueReports), asynq.MaxRetry(5)), nil
}
