package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"
	_ "time/tzdata"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"github.com/jackc/pgx/v5"

	"github.com/tawseel/tawseel/internal/app"
	jobmetrics "github.com/tawseel/tawseel/internal/jobs"
	"github.com/tawseel/tawseel/internal/observability"
	"github.com/tawseel/tawseel/internal/platform/cache"
	"github.com/tawseel/tawseel/internal/platform/db"
	"github.com/tawseel/tawseel/internal/reporting"
	"github.com/tawseel/tawseel/jobs"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping worker startup")
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := app.NewLogger(cfg)

	pool, err := db.New(ctx, cfg.PGDSN, db.Options{
		MaxConns:        cfg.PGMaxConns,
		ApplicationName: "tawseel-worker",
		ReadOnly:        true,
	})
	if err != nil {
		logger.Error("connect database", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	redisClient, err := cache.New(ctx, cache.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	if err != nil {
		logger.Error("connect redis", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()

	opsMetrics := observability.NewMetrics()
	metrics := jobmetrics.NewMetrics(opsMetrics.Registerer())

	reportCache := reporting.NewCache(redisClient, cfg.ReportCacheTTL)
	reportCache.SetFillTimeout(cfg.ReportCacheFillTimeout)
	if err := reportCache.Instrument(opsMetrics.Registerer()); err != nil {
		logger.Warn("instrument report cache", slog.Any("error", err))
	}
	if err := reportCache.ListenForInvalidation(ctx, reporting.BumpChannel); err != nil {
		logger.Warn("subscribe cache invalidation", slog.Any("error", err))
	}
	reportService := reporting.NewService(reporting.NewRepository(pool), reportCache, reporting.ServiceConfig{
		Logger:       logger,
		MaxRangeDays: cfg.ReportMaxRangeDays,
	})

	activeBusinesses := func(ctx context.Context, since time.Time) ([]uuid.UUID, error) {
		var ids []uuid.UUID
		err := db.WithReadOnlyTx(ctx, pool, func(tx pgx.Tx) error {
			var err error
			ids, err = reporting.ActiveBusinesses(ctx, tx, since)
			return err
		})
		return ids, err
	}

	redisOpts := asynq.RedisClientOpt{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB}
	jobClient := jobs.NewClient(redisOpts)
	defer func() {
		if err := jobClient.Close(); err != nil {
			logger.Warn("job client close", slog.Any("error", err))
		}
	}()

	warmupJob := jobs.NewReportsWarmupJob(reportService, activeBusinesses, logger, metrics)
	warmupJob.Location = cfg.Location()
	warmupJob.Denominator = reporting.Denominator(cfg.ReportDefaultDenominator)

	invalidateJob := jobs.NewInvalidateJob(reportCache, logger, metrics)
	invalidateJob.Rewarm = func(ctx context.Context, businessID uuid.UUID) error {
		return jobClient.EnqueueWarmup(ctx, jobs.WarmupPayload{
			LookbackDays: cfg.WarmupLookbackDays,
			BusinessID:   &businessID,
		})
	}

	warmupTask, err := jobs.NewWarmupTask(jobs.WarmupPayload{LookbackDays: cfg.WarmupLookbackDays})
	if err != nil {
		logger.Error("build warmup task", slog.Any("error", err))
		os.Exit(1)
	}

	worker, err := jobs.NewWorker(jobs.WorkerConfig{
		RedisOpts:   redisOpts,
		Logger:      logger,
		Concurrency: cfg.WorkerConcurrency,
		Location:    cfg.Location(),
		Handlers: []jobs.TaskHandler{
			{Type: jobs.TaskReportsWarmup, Handler: warmupJob.Handle},
			{Type: jobs.TaskReportsInvalidate, Handler: invalidateJob.Handle},
		},
		Cron: []jobs.CronRegistration{
			{Spec: cfg.WarmupCron, Task: warmupTask, Options: []asynq.Option{asynq.MaxRetry(3)}},
		},
	})
	if err != nil {
		logger.Error("init worker", slog.Any("error", err))
		os.Exit(1)
	}

	opsServer := &http.Server{
		Addr: cfg.WorkerOpsAddr,
		Handler: app.NewOpsRouter(app.OpsParams{
			Logger:  logger,
			Metrics: opsMetrics,
			Checks: map[string]app.HealthCheck{
				"postgres": pool.Ping,
				"redis": func(ctx context.Context) error {
					return redisClient.Ping(ctx).Err()
				},
			},
		}),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		logger.Info("starting ops server", slog.String("addr", cfg.WorkerOpsAddr))
		if err := opsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("ops server", slog.Any("error", err))
		}
	}()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := opsServer.Shutdown(shutdownCtx); err != nil {
			logger.Warn("ops server shutdown", slog.Any("error", err))
		}
	}()

	if err := worker.Run(ctx); err != nil && err != context.Canceled {
		logger.Error("worker run", slog.Any("error", err))
		os.Exit(1)
	}
}
