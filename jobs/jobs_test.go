package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	jobmetrics "github.com/tawseel/tawseel/internal/jobs"
	"github.com/tawseel/tawseel/internal/reporting"
	_ "github.com/tawseel/tawseel/testing"
)

var (
	businessA = uuid.MustParse("0b0f6a8e-1f5e-4c57-9d3e-1a2b3c4d5e01")
	businessB = uuid.MustParse("0b0f6a8e-1f5e-4c57-9d3e-1a2b3c4d5e02")
	businessC = uuid.MustParse("0b0f6a8e-1f5e-4c57-9d3e-1a2b3c4d5e03")
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeWarmer struct {
	mu      sync.Mutex
	fail    map[uuid.UUID]error
	filters []reporting.Filters
	calls   map[uuid.UUID]int
}

func newFakeWarmer() *fakeWarmer {
	return &fakeWarmer{fail: map[uuid.UUID]error{}, calls: map[uuid.UUID]int{}}
}

func (f *fakeWarmer) record(businessID uuid.UUID, filters reporting.Filters) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[businessID]++
	f.filters = append(f.filters, filters)
	return f.fail[businessID]
}

func (f *fakeWarmer) GetTimeSeries(ctx context.Context, businessID uuid.UUID, filters reporting.Filters, bucket reporting.Bucket) ([]reporting.TimeSeriesPoint, error) {
	return nil, f.record(businessID, filters)
}

func (f *fakeWarmer) GetBreakdowns(ctx context.Context, businessID uuid.UUID, filters reporting.Filters) (reporting.Breakdowns, error) {
	return reporting.Breakdowns{}, f.record(businessID, filters)
}

func (f *fakeWarmer) GetStatusDistribution(ctx context.Context, businessID uuid.UUID, filters reporting.Filters) ([]reporting.StatusShare, error) {
	return nil, f.record(businessID, filters)
}

func counterValue(t *testing.T, reg *prometheus.Registry, name string, labels map[string]string) float64 {
	t.Helper()
	families, err := reg.Gather()
	require.NoError(t, err)
	for _, family := range families {
		if family.GetName() != name {
			continue
		}
	metrics:
		for _, metric := range family.GetMetric() {
			for _, pair := range metric.GetLabel() {
				if want, ok := labels[pair.GetName()]; ok && want != pair.GetValue() {
					continue metrics
				}
			}
			return metric.GetCounter().GetValue()
		}
	}
	return 0
}

func newWarmupJob(t *testing.T, warmer *fakeWarmer, lister BusinessLister) (*ReportsWarmupJob, *prometheus.Registry) {
	t.Helper()
	reg := prometheus.NewRegistry()
	job := NewReportsWarmupJob(warmer, lister, discardLogger(), jobmetrics.NewMetrics(reg))
	job.Location = time.FixedZone("AST", 3*60*60)
	job.clock = func() time.Time { return time.Date(2025, 3, 31, 22, 30, 0, 0, time.UTC) }
	return job, reg
}

func TestReportsWarmupContinuesPastFailures(t *testing.T) {
	warmer := newFakeWarmer()
	warmer.fail[businessB] = errors.New("query timeout")
	var since time.Time
	job, reg := newWarmupJob(t, warmer, func(ctx context.Context, s time.Time) ([]uuid.UUID, error) {
		since = s
		return []uuid.UUID{businessA, businessB, businessC}, nil
	})

	task, err := NewWarmupTask(WarmupPayload{})
	require.NoError(t, err)
	err = job.Handle(context.Background(), task)
	require.Error(t, err)
	assert.Contains(t, err.Error(), businessB.String())
	assert.Contains(t, err.Error(), "query timeout")

	// 22:30 UTC is already April 1st at UTC+3.
	assert.Equal(t, time.Date(2025, 3, 3, 0, 0, 0, 0, time.UTC), since)
	require.NotEmpty(t, warmer.filters)
	assert.Equal(t, time.Date(2025, 4, 1, 0, 0, 0, 0, time.UTC), warmer.filters[0].DateTo)

	assert.Equal(t, 3, warmer.calls[businessA])
	assert.Equal(t, 1, warmer.calls[businessB])
	assert.Equal(t, 3, warmer.calls[businessC])

	assert.Equal(t, 2.0, counterValue(t, reg, "tawseel_report_warmups_total", map[string]string{"outcome": "success"}))
	assert.Equal(t, 1.0, counterValue(t, reg, "tawseel_report_warmups_total", map[string]string{"outcome": "failure"}))
	assert.Equal(t, 1.0, counterValue(t, reg, "tawseel_jobs_failures_total", map[string]string{"job": TaskReportsWarmup}))
}

func TestReportsWarmupSingleBusiness(t *testing.T) {
	warmer := newFakeWarmer()
	job, reg := newWarmupJob(t, warmer, func(context.Context, time.Time) ([]uuid.UUID, error) {
		t.Fatal("lister must not be called for a scoped warmup")
		return nil, nil
	})
	job.Denominator = reporting.DenominatorDelivered

	id := businessC
	task, err := NewWarmupTask(WarmupPayload{LookbackDays: 7, BusinessID: &id})
	require.NoError(t, err)
	require.NoError(t, job.Handle(context.Background(), task))

	assert.Equal(t, 3, warmer.calls[businessC])
	assert.Equal(t, time.Date(2025, 3, 26, 0, 0, 0, 0, time.UTC), warmer.filters[0].DateFrom)
	assert.Equal(t, reporting.DenominatorDelivered, warmer.filters[0].Denominator)
	assert.Equal(t, 1.0, counterValue(t, reg, "tawseel_jobs_total", map[string]string{"job": TaskReportsWarmup, "status": "success"}))
}

func TestReportsWarmupListError(t *testing.T) {
	warmer := newFakeWarmer()
	job, _ := newWarmupJob(t, warmer, func(context.Context, time.Time) ([]uuid.UUID, error) {
		return nil, errors.New("connection reset")
	})

	err := job.Handle(context.Background(), asynq.NewTask(TaskReportsWarmup, nil))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "list businesses")
	assert.Empty(t, warmer.calls)
}

func TestReportsWarmupRejectsBadPayload(t *testing.T) {
	job, _ := newWarmupJob(t, newFakeWarmer(), func(context.Context, time.Time) ([]uuid.UUID, error) {
		return nil, nil
	})

	err := job.Handle(context.Background(), asynq.NewTask(TaskReportsWarmup, []byte("{")))
	assert.ErrorIs(t, err, asynq.SkipRetry)

	var nilJob *ReportsWarmupJob
	assert.Error(t, nilJob.Handle(context.Background(), asynq.NewTask(TaskReportsWarmup, nil)))
}

func newRedisCache(t *testing.T) *reporting.Cache {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return reporting.NewCache(client, time.Minute)
}

func TestInvalidateBumpsVersionAndRewarms(t *testing.T) {
	cache := newRedisCache(t)
	ctx := context.Background()
	before, err := cache.Version(ctx)
	require.NoError(t, err)

	var rewarmed []uuid.UUID
	job := NewInvalidateJob(cache, discardLogger(), jobmetrics.NewMetrics(prometheus.NewRegistry()))
	job.Rewarm = func(ctx context.Context, businessID uuid.UUID) error {
		rewarmed = append(rewarmed, businessID)
		return nil
	}

	task, err := NewInvalidateTask(InvalidatePayload{BusinessID: businessA, Reason: "orders imported"})
	require.NoError(t, err)
	require.NoError(t, job.Handle(ctx, task))

	after, err := cache.Version(ctx)
	require.NoError(t, err)
	assert.Equal(t, before+1, after)
	assert.Equal(t, []uuid.UUID{businessA}, rewarmed)
}

type failingBumper struct{}

func (failingBumper) Bump(context.Context) error { return errors.New("redis down") }

func TestInvalidateBumpError(t *testing.T) {
	reg := prometheus.NewRegistry()
	job := NewInvalidateJob(failingBumper{}, discardLogger(), jobmetrics.NewMetrics(reg))
	job.Rewarm = func(context.Context, uuid.UUID) error {
		t.Fatal("rewarm must not run when the bump fails")
		return nil
	}
	task, err := NewInvalidateTask(InvalidatePayload{BusinessID: businessA})
	require.NoError(t, err)

	err = job.Handle(context.Background(), task)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "redis down")
	assert.Equal(t, 1.0, counterValue(t, reg, "tawseel_jobs_failures_total", map[string]string{"job": TaskReportsInvalidate}))
	assert.Equal(t, 1.0, counterValue(t, reg, "tawseel_jobs_total", map[string]string{"job": TaskReportsInvalidate, "status": "failure"}))

	err = job.Handle(context.Background(), asynq.NewTask(TaskReportsInvalidate, []byte("nope")))
	assert.ErrorIs(t, err, asynq.SkipRetry)
}

type fakeEnqueuer struct {
	tasks []*asynq.Task
	err   error
}

func (f *fakeEnqueuer) EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error) {
	f.tasks = append(f.tasks, task)
	if f.err != nil {
		return nil, f.err
	}
	return &asynq.TaskInfo{Type: task.Type(), Queue: QueueReports}, nil
}

func (f *fakeEnqueuer) Close() error { return nil }

func TestClientEnqueueInvalidate(t *testing.T) {
	fake := &fakeEnqueuer{}
	requested := time.Date(2025, 3, 31, 9, 0, 0, 0, time.UTC)
	client := &Client{client: fake, now: func() time.Time { return requested }}

	require.NoError(t, client.EnqueueInvalidate(context.Background(), businessA, "manual"))
	require.Len(t, fake.tasks, 1)
	assert.Equal(t, TaskReportsInvalidate, fake.tasks[0].Type())

	var payload InvalidatePayload
	require.NoError(t, json.Unmarshal(fake.tasks[0].Payload(), &payload))
	assert.Equal(t, businessA, payload.BusinessID)
	assert.Equal(t, "manual", payload.Reason)
	assert.True(t, requested.Equal(payload.RequestedAt))

	fake.err = asynq.ErrDuplicateTask
	assert.NoError(t, client.EnqueueInvalidate(context.Background(), businessA, "manual"))

	fake.err = errors.New("redis down")
	assert.Error(t, client.EnqueueInvalidate(context.Background(), businessA, "manual"))
}

func TestClientEnqueueWarmup(t *testing.T) {
	fake := &fakeEnqueuer{}
	client := &Client{client: fake, now: time.Now}

	id := businessB
	require.NoError(t, client.EnqueueWarmup(context.Background(), WarmupPayload{BusinessID: &id}))
	require.Len(t, fake.tasks, 1)
	assert.Equal(t, TaskReportsWarmup, fake.tasks[0].Type())
	assert.JSONEq(t, `{"business_id":"`+businessB.String()+`"}`, string(fake.tasks[0].Payload()))
}

type fakeInspector struct {
	infos map[string]*asynq.QueueInfo
	err   error
}

func (f fakeInspector) GetQueueInfo(queue string) (*asynq.QueueInfo, error) {
	if f.err != nil {
		return nil, f.err
	}
	info, ok := f.infos[queue]
	if !ok {
		return nil, asynq.ErrQueueNotFound
	}
	return info, nil
}

func TestHandlerHealth(t *testing.T) {
	h := &Handler{inspector: fakeInspector{infos: map[string]*asynq.QueueInfo{
		QueueReports: {Queue: QueueReports, Pending: 4, Active: 1, Retry: 2},
	}}, logger: discardLogger()}
	r := chi.NewRouter()
	h.MountRoutes(r)

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `[
		{"queue":"reports","pending":4,"active":1,"retry":2},
		{"queue":"default","pending":0,"active":0,"retry":0}
	]`, rec.Body.String())

	h.inspector = fakeInspector{err: errors.New("dial tcp: refused")}
	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}
