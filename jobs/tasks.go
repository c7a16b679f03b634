package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/odyssey-erp/odyssey-logistics/internal/jobs"
	"github.com/odyssey-erp/odyssey-logistics/internal/notify"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskTypeSendEmail is the task type for sending notification emails.
	TaskTypeSendEmail = "mail:send"
	// TaskBatteryAgingRefresh recomputes frame bundle battery aging.
	TaskBatteryAgingRefresh = "battery:aging_refresh"
	// TaskDashboardWarmup rebuilds the cached dashboards.
	TaskDashboardWarmup = "dashboard:warmup"
	// TaskIdempotencyCleanup prunes expired idempotency keys.
	TaskIdempotencyCleanup = "idempotency:cleanup"
)

var defaultJobMetrics = jobmetrics.NewMetrics(nil)

// SendEmailPayload describes the information required to send an email.
type SendEmailPayload struct {
	To      []string `json:"to"`
	Subject string   `json:"subject"`
	Body    string   `json:"body"`
}

// NewSendEmailTask constructs an Asynq task.
func NewSendEmailTask(payload SendEmailPayload) (*asynq.Task, error) {
	if len(payload.To) == 0 {
		return nil, errors.New("send email: no recipients")
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskTypeSendEmail, data, asynq.Queue(QueueDefault), asynq.MaxRetry(5)), nil
}

// EmailJob delivers queued emails through a mailer.
type EmailJob struct {
	Mailer  notify.Mailer
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
}

// Handle processes TaskTypeSendEmail tasks.
func (j *EmailJob) Handle(ctx context.Context, t *asynq.Task) error {
	if j == nil || j.Mailer == nil {
		return errors.New("send email: mailer not configured")
	}
	var payload SendEmailPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("send email payload: %v: %w", err, asynq.SkipRetry)
	}
	tracker := metricsOr(j.Metrics).Track(TaskTypeSendEmail)
	err := j.Mailer.Send(ctx, payload.To, payload.Subject, payload.Body)
	if err != nil {
		loggerOr(j.Logger, TaskTypeSendEmail).Warn("send email", slog.String("subject", payload.Subject), slog.Any("error", err))
	}
	return tracker.End(err)
}

// NewPeriodicTask builds a payload-less task for the scheduler.
func NewPeriodicTask(taskType string) *asynq.Task {
	return asynq.NewTask(taskType, nil, asynq.Queue(QueueDefault), asynq.Timeout(10*time.Minute))
}

func metricsOr(m *jobmetrics.Metrics) *jobmetrics.Metrics {
	if m != nil {
		return m
	}
	return defaultJobMetrics
}

func loggerOr(logger *slog.Logger, job string) *slog.Logger {
	if logger == nil {
		logger = slog.Default()
	}
	return logger.With(slog.String("job", job))
}
