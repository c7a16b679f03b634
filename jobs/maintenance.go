package jobs

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/odyssey-erp/odyssey-logistics/internal/jobs"
)

// AgingRefresher recomputes battery aging on frame bundles.
type AgingRefresher interface {
	RefreshAging(ctx context.Context) (int64, error)
}

// DashboardWarmer rebuilds dashboard caches.
type DashboardWarmer interface {
	Warm(ctx context.Context) error
}

// KeyCleaner prunes idempotency keys.
type KeyCleaner interface {
	Cleanup(ctx context.Context, olderThan time.Duration) error
}

// BatteryAgingJob runs the nightly aging and expiry refresh.
type BatteryAgingJob struct {
	Bundles AgingRefresher
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
}

// Handle refreshes aging for every submitted frame bundle.
func (j *BatteryAgingJob) Handle(ctx context.Context, _ *asynq.Task) error {
	if j == nil || j.Bundles == nil {
		return errors.New("battery aging: refresher not configured")
	}
	m := metricsOr(j.Metrics)
	tracker := m.Track(TaskBatteryAgingRefresh)
	n, err := j.Bundles.RefreshAging(ctx)
	if err != nil {
		loggerOr(j.Logger, TaskBatteryAgingRefresh).Error("refresh battery aging", slog.Any("error", err))
		return tracker.End(err)
	}
	m.AddProcessed(TaskBatteryAgingRefresh, n)
	return tracker.End(nil)
}

// DashboardWarmupJob rebuilds dashboards after the nightly refresh.
type DashboardWarmupJob struct {
	Dashboards DashboardWarmer
	Timeout    time.Duration
	Logger     *slog.Logger
	Metrics    *jobmetrics.Metrics
}

// Handle warms every dashboard.
func (j *DashboardWarmupJob) Handle(ctx context.Context, _ *asynq.Task) error {
	if j == nil || j.Dashboards == nil {
		return errors.New("dashboard warmup: service not configured")
	}
	timeout := j.Timeout
	if timeout <= 0 {
		timeout = time.Minute
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	tracker := metricsOr(j.Metrics).Track(TaskDashboardWarmup)
	start := time.Now()
	logger := loggerOr(j.Logger, TaskDashboardWarmup)
	if err := j.Dashboards.Warm(ctx); err != nil {
		logger.Error("warm dashboards", slog.Any("error", err))
		return tracker.End(err)
	}
	logger.Info("dashboards warmed", slog.Duration("duration", time.Since(start)))
	return tracker.End(nil)
}

// IdempotencyCleanupJob deletes keys older than Retention.
type IdempotencyCleanupJob struct {
	Keys      KeyCleaner
	Retention time.Duration
	Logger    *slog.Logger
	Metrics   *jobmetrics.Metrics
}

// Handle prunes expired keys.
func (j *IdempotencyCleanupJob) Handle(ctx context.Context, _ *asynq.Task) error {
	if j == nil || j.Keys == nil {
		return errors.New("idempotency cleanup: store not configured")
	}
	retention := j.Retention
	if retention <= 0 {
		retention = 30 * 24 * time.Hour
	}
	tracker := metricsOr(j.Metrics).Track(TaskIdempotencyCleanup)
	if err := j.Keys.Cleanup(ctx, retention); err != nil {
		loggerOr(j.Logger, TaskIdempotencyCleanup).Error("cleanup idempotency keys", slog.Any("error", err))
		return tracker.End(err)
	}
	return tracker.End(nil)
}
