package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/hibiken/asynq"

	"github.com/odyssey-erp/odyssey-logistics/internal/app"
	"github.com/odyssey-erp/odyssey-logistics/internal/dashboard"
	"github.com/odyssey-erp/odyssey-logistics/internal/framebundle"
	jobmetrics "github.com/odyssey-erp/odyssey-logistics/internal/jobs"
	"github.com/odyssey-erp/odyssey-logistics/internal/notify"
	"github.com/odyssey-erp/odyssey-logistics/internal/platform/cache"
	"github.com/odyssey-erp/odyssey-logistics/internal/platform/db"
	"github.com/odyssey-erp/odyssey-logistics/internal/shared"
	"github.com/odyssey-erp/odyssey-logistics/jobs"
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

	pool, err := db.New(ctx, cfg.PGDSN, db.Options{MaxConns: cfg.PGMaxConns, MaxConnLifetime: cfg.PGMaxConnLife})
	if err != nil {
		logger.Error("connect database", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	redisClient, err := cache.New(ctx, cfg.RedisAddr)
	if err != nil {
		logger.Error("connect redis", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()

	metrics := jobmetrics.NewMetrics(nil)
	auditLogger := shared.NewAuditLogger(pool)
	dashboardCache := cache.NewVersioned(redisClient, "logistics:dashboard", cfg.DashboardCacheTTL)
	mailer := notify.NewSMTPMailer(notify.SMTPConfig{Host: cfg.SMTPHost, Port: cfg.SMTPPort, From: cfg.SMTPFrom, Timeout: cfg.SMTPTimeout})

	// Notifications raised by the worker itself go straight to SMTP.
	notifier := notify.NewNotifier(mailer, cfg.NotifyRecipients, logger)
	bundleService := framebundle.NewService(framebundle.NewRepository(pool), auditLogger, notifier, dashboardCache, logger)
	dashboardService := dashboard.NewService(dashboard.NewRepository(pool), dashboardCache, logger)

	emailJob := &jobs.EmailJob{Mailer: mailer, Logger: logger, Metrics: metrics}
	agingJob := &jobs.BatteryAgingJob{Bundles: bundleService, Logger: logger, Metrics: metrics}
	warmupJob := &jobs.DashboardWarmupJob{Dashboards: dashboardService, Logger: logger, Metrics: metrics}
	cleanupJob := &jobs.IdempotencyCleanupJob{Keys: shared.NewIdempotencyStore(pool), Retention: cfg.IdempotencyRetention, Logger: logger, Metrics: metrics}

	worker, err := jobs.NewWorker(jobs.WorkerConfig{
		RedisOpts:   asynq.RedisClientOpt{Addr: cfg.RedisAddr},
		Concurrency: cfg.WorkerConcurrency,
		Logger:      logger,
		Handlers: []jobs.TaskHandler{
			{Type: jobs.TaskTypeSendEmail, Handler: emailJob.Handle},
			{Type: jobs.TaskBatteryAgingRefresh, Handler: agingJob.Handle},
			{Type: jobs.TaskDashboardWarmup, Handler: warmupJob.Handle},
			{Type: jobs.TaskIdempotencyCleanup, Handler: cleanupJob.Handle},
		},
		Cron: []jobs.CronRegistration{
			{Spec: "0 1 * * *", Task: jobs.NewPeriodicTask(jobs.TaskBatteryAgingRefresh), Options: []asynq.Option{asynq.MaxRetry(3)}},
			{Spec: "30 1 * * *", Task: jobs.NewPeriodicTask(jobs.TaskDashboardWarmup), Options: []asynq.Option{asynq.MaxRetry(3)}},
			{Spec: "0 3 * * 0", Task: jobs.NewPeriodicTask(jobs.TaskIdempotencyCleanup), Options: []asynq.Option{asynq.MaxRetry(1)}},
		},
	})
	if err != nil {
		logger.Error("init worker", slog.Any("error", err))
		os.Exit(1)
	}

	if err := worker.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("worker run", slog.Any("error", err))
		os.Exit(1)
	}
}
