package app

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-logistics/internal/observability"
	"github.com/odyssey-erp/odyssey-logistics/internal/shared"
)

func TestLoadConfigDefaults(t *testing.T) {
	t.Setenv("NOTIFY_RECIPIENTS", "ops@example.com,qc@example.com")
	t.Setenv("UPLOAD_LOCK_TTL", "90s")

	cfg, err := LoadConfig()
	require.NoError(t, err)
	require.Equal(t, ":8080", cfg.AppAddr)
	require.Equal(t, 60, cfg.BatteryExpiryDays)
	require.Equal(t, "local", cfg.FilestoreDriver)
	require.Equal(t, 20, cfg.UploadRateLimit)
	require.Equal(t, 90*time.Second, cfg.UploadLockTTL)
	require.Equal(t, []string{"ops@example.com", "qc@example.com"}, cfg.NotifyRecipients)
	require.False(t, cfg.IsProduction())
}

func TestConfigValidate(t *testing.T) {
	base := Config{FilestoreDriver: "local", FilestoreDir: "/tmp", BatteryExpiryDays: 60, UploadLockTTL: time.Minute}
	require.NoError(t, base.Validate())

	gcs := base
	gcs.FilestoreDriver = "gcs"
	require.ErrorContains(t, gcs.Validate(), "GCS_BUCKET")
	gcs.GCSBucket = "uploads"
	require.NoError(t, gcs.Validate())

	unknown := base
	unknown.FilestoreDriver = "s3"
	require.Error(t, unknown.Validate())

	expiry := base
	expiry.BatteryExpiryDays = 0
	require.Error(t, expiry.Validate())
}

type actorEcho struct{}

func (actorEcho) MountRoutes(r chi.Router) {
	r.Get("/whoami", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(shared.ActorFromContext(r.Context())))
	})
}

type pinger struct{ err error }

func (p pinger) Ping(ctx context.Context) error { return p.err }

func TestRouterMountsAPIAndHealth(t *testing.T) {
	cfg := &Config{AppEnv: "development", AppRequestTimeout: time.Second}
	router := NewRouter(RouterParams{Config: cfg, Metrics: observability.NewMetrics(), Database: pinger{}, API: []Mounter{actorEcho{}}})

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	require.JSONEq(t, `{"status":"ok"}`, rr.Body.String())
	require.Equal(t, "nosniff", rr.Header().Get("X-Content-Type-Options"))

	req := httptest.NewRequest(http.MethodGet, "/api/whoami", nil)
	req.Header.Set(ActorHeader, "warehouse.user")
	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	require.Equal(t, "warehouse.user", rr.Body.String())

	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/whoami", nil))
	require.Equal(t, shared.SystemActor, rr.Body.String())

	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	require.Contains(t, rr.Body.String(), "logistics_http_requests_total")

	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/unknown", nil))
	require.Equal(t, http.StatusNotFound, rr.Code)
}

func TestHealthReportsDatabaseFailure(t *testing.T) {
	router := NewRouter(RouterParams{Config: &Config{}, Database: pinger{err: errors.New("refused")}})

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	require.Equal(t, http.StatusServiceUnavailable, rr.Code)
}
