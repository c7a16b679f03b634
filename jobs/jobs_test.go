package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/hibiken/asynq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	jobmetrics "github.com/odyssey-erp/odyssey-logistics/internal/jobs"
)

type recordingMailer struct {
	to      []string
	subject string
	err     error
}

func (m *recordingMailer) Send(ctx context.Context, recipients []string, subject, body string) error {
	m.to, m.subject = recipients, subject
	return m.err
}

type recordingEnqueuer struct {
	tasks []*asynq.Task
}

func (e *recordingEnqueuer) EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error) {
	e.tasks = append(e.tasks, task)
	return &asynq.TaskInfo{Type: task.Type(), Queue: QueueDefault}, nil
}

func (e *recordingEnqueuer) Close() error { return nil }

func testMetrics() *jobmetrics.Metrics {
	return jobmetrics.NewMetrics(prometheus.NewRegistry())
}

func TestClientQueuesEmail(t *testing.T) {
	enq := &recordingEnqueuer{}
	client := &Client{client: enq}

	require.NoError(t, client.Send(context.Background(), []string{"ops@example.com"}, "Load Dispatch submitted", "LD-1"))
	require.Len(t, enq.tasks, 1)
	require.Equal(t, TaskTypeSendEmail, enq.tasks[0].Type())

	var payload SendEmailPayload
	require.NoError(t, json.Unmarshal(enq.tasks[0].Payload(), &payload))
	require.Equal(t, []string{"ops@example.com"}, payload.To)
	require.Equal(t, "LD-1", payload.Body)

	require.Error(t, client.Send(context.Background(), nil, "s", "b"))
	require.Len(t, enq.tasks, 1)
}

func TestEmailJobDeliversPayload(t *testing.T) {
	mailer := &recordingMailer{}
	job := &EmailJob{Mailer: mailer, Metrics: testMetrics()}
	task, err := NewSendEmailTask(SendEmailPayload{To: []string{"a@example.com"}, Subject: "Battery discarded", Body: "B-1"})
	require.NoError(t, err)

	require.NoError(t, job.Handle(context.Background(), task))
	require.Equal(t, []string{"a@example.com"}, mailer.to)
	require.Equal(t, "Battery discarded", mailer.subject)

	mailer.err = errors.New("relay down")
	require.ErrorContains(t, job.Handle(context.Background(), task), "relay down")
}

func TestEmailJobSkipsRetryOnBadPayload(t *testing.T) {
	job := &EmailJob{Mailer: &recordingMailer{}, Metrics: testMetrics()}
	err := job.Handle(context.Background(), asynq.NewTask(TaskTypeSendEmail, []byte("{")))
	require.ErrorIs(t, err, asynq.SkipRetry)
}

type fakeRefresher struct {
	n   int64
	err error
}

func (f *fakeRefresher) RefreshAging(ctx context.Context) (int64, error) { return f.n, f.err }

type fakeWarmer struct {
	calls    int
	deadline bool
}

func (f *fakeWarmer) Warm(ctx context.Context) error {
	f.calls++
	_, f.deadline = ctx.Deadline()
	return nil
}

type fakeCleaner struct{ olderThan time.Duration }

func (f *fakeCleaner) Cleanup(ctx context.Context, olderThan time.Duration) error {
	f.olderThan = olderThan
	return nil
}

func TestMaintenanceJobs(t *testing.T) {
	ctx := context.Background()
	m := testMetrics()

	aging := &BatteryAgingJob{Bundles: &fakeRefresher{n: 7}, Metrics: m}
	require.NoError(t, aging.Handle(ctx, NewPeriodicTask(TaskBatteryAgingRefresh)))
	failing := &BatteryAgingJob{Bundles: &fakeRefresher{err: errors.New("db down")}, Metrics: m}
	require.ErrorContains(t, failing.Handle(ctx, NewPeriodicTask(TaskBatteryAgingRefresh)), "db down")

	warmer := &fakeWarmer{}
	warmup := &DashboardWarmupJob{Dashboards: warmer, Metrics: m}
	require.NoError(t, warmup.Handle(ctx, NewPeriodicTask(TaskDashboardWarmup)))
	require.Equal(t, 1, warmer.calls)
	require.True(t, warmer.deadline)

	cleaner := &fakeCleaner{}
	cleanup := &IdempotencyCleanupJob{Keys: cleaner, Metrics: m}
	require.NoError(t, cleanup.Handle(ctx, NewPeriodicTask(TaskIdempotencyCleanup)))
	require.Equal(t, 30*24*time.Hour, cleaner.olderThan)

	var unconfigured *DashboardWarmupJob
	require.Error(t, unconfigured.Handle(ctx, nil))
}

type fakeInspector struct {
	info *asynq.QueueInfo
	err  error
}

func (f fakeInspector) GetQueueInfo(queue string) (*asynq.QueueInfo, error) { return f.info, f.err }

func TestHealthEndpoint(t *testing.T) {
	serve := func(h *Handler) *httptest.ResponseRecorder {
		r := chi.NewRouter()
		h.MountRoutes(r)
		rr := httptest.NewRecorder()
		r.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/health", nil))
		return rr
	}

	rr := serve(NewHandler(fakeInspector{info: &asynq.QueueInfo{Queue: QueueDefault, Pending: 3, Retry: 1}}, nil))
	require.Equal(t, http.StatusOK, rr.Code)
	require.JSONEq(t, `{"queue":"default","pending":3,"active":0,"retry":1,"archived":0,"scheduled":0}`, rr.Body.String())

	rr = serve(NewHandler(fakeInspector{err: errors.New("redis down")}, nil))
	require.Equal(t, http.StatusServiceUnavailable, rr.Code)

	rr = serve(NewHandler(nil, nil))
	require.Equal(t, http.StatusOK, rr.Code)
}
