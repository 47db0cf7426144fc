package perf

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"

	jobmetrics "github.com/tawseel/tawseel/internal/jobs"
	"github.com/tawseel/tawseel/internal/reporting"
	"github.com/tawseel/tawseel/jobs"
)

func TestWarmupJobThroughputAndReliability(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics := jobmetrics.NewMetrics(reg)
	svc := reporting.NewService(newSyntheticRepo(2000), nil, reporting.ServiceConfig{})

	businesses := make([]uuid.UUID, 5)
	for i := range businesses {
		businesses[i] = uuid.New()
	}
	lister := func(context.Context, time.Time) ([]uuid.UUID, error) {
		return businesses, nil
	}
	job := jobs.NewReportsWarmupJob(svc, lister, slog.New(slog.NewTextHandler(io.Discard, nil)), metrics)

	task, err := jobs.NewWarmupTask(jobs.WarmupPayload{LookbackDays: 90})
	if err != nil {
		t.Fatalf("build warmup task: %v", err)
	}
	for i := 0; i < 20; i++ {
		if err := job.Handle(context.Background(), task); err != nil {
			t.Fatalf("warmup run %d: %v", i, err)
		}
	}

	// A lister outage must surface as a failed run.
	broken := jobs.NewReportsWarmupJob(svc, func(context.Context, time.Time) ([]uuid.UUID, error) {
		return nil, errors.New("timeout")
	}, slog.New(slog.NewTextHandler(io.Discard, nil)), metrics)
	if err := broken.Handle(context.Background(), task); err == nil {
		t.Fatal("expected error to propagate")
	}

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("failed to gather metrics: %v", err)
	}

	success := metricValue(t, families, "tawseel_jobs_total", map[string]string{"job": jobs.TaskReportsWarmup, "status": "success"})
	failure := metricValue(t, families, "tawseel_jobs_total", map[string]string{"job": jobs.TaskReportsWarmup, "status": "failure"})
	if success+failure == 0 {
		t.Fatal("no warmup executions recorded")
	}
	ratio := success / (success + failure)
	if ratio < 0.9 {
		t.Fatalf("warmup success ratio too low: %f", ratio)
	}

	warmed := metricValue(t, families, "tawseel_report_warmups_total", map[string]string{"outcome": "success"})
	if warmed != float64(20*len(businesses)) {
		t.Fatalf("warmed businesses = %f, want %d", warmed, 20*len(businesses))
	}

	meanDuration := histogramMean(t, families, "tawseel_job_duration_seconds", map[string]string{"job": jobs.TaskReportsWarmup})
	if meanDuration > 2.0 {
		t.Fatalf("warmup duration above budget: %f", meanDuration)
	}
}

func metricValue(t *testing.T, families []*dto.MetricFamily, name string, labels map[string]string) float64 {
	t.Helper()
	for _, fam := range families {
		if fam.GetName() != name {
			continue
		}
		for _, metric := range fam.GetMetric() {
			if hasLabels(metric, labels) {
				if fam.GetType() == dto.MetricType_COUNTER {
					return metric.GetCounter().GetValue()
				}
				if fam.GetType() == dto.MetricType_GAUGE {
					return metric.GetGauge().GetValue()
				}
			}
		}
	}
	t.Fatalf("metric %s with labels %v not found", name, labels)
	return 0
}

func histogramMean(t *testing.T, families []*dto.MetricFamily, name string, labels map[string]string) float64 {
	t.Helper()
	for _, fam := range families {
		if fam.GetName() != name {
			continue
		}
		for _, metric := range fam.GetMetric() {
			if hasLabels(metric, labels) {
				hist := metric.GetHistogram()
				if hist == nil || hist.GetSampleCount() == 0 {
					t.Fatalf("histogram %s missing samples", name)
				}
				return hist.GetSampleSum() / float64(hist.GetSampleCount())
			}
		}
	}
	t.Fatalf("histogram %s with labels %v not found", name, labels)
	return 0
}

func hasLabels(metric *dto.Metric, labels map[string]string) bool {
	for _, lp := range metric.GetLabel() {
		if val, ok := labels[lp.GetName()]; ok {
			if lp.GetValue() != val {
				return false
			}
		}
	}
	for key := range labels {
		found := false
		for _, lp := range metric.GetLabel() {
			if lp.GetName() == key {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}
