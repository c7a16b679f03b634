package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics collects Prometheus metrics for the HTTP surface and uploads.
type Metrics struct {
	registry        *prometheus.Registry
	handler         http.Handler
	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	uploadsTotal    *prometheus.CounterVec
	uploadRows      *prometheus.CounterVec
	uploadDuration  *prometheus.HistogramVec
}

// NewMetrics initialises the registry and the base collectors.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()
	requests := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "logistics_http_requests_total",
		Help: "HTTP requests by route and status code.",
	}, []string{"route", "code"})
	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "logistics_http_request_duration_seconds",
		Help:    "HTTP request duration per route.",
		Buckets: prometheus.DefBuckets,
	}, []string{"route"})
	uploads := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "logistics_uploads_total",
		Help: "Processed uploads by kind and final status.",
	}, []string{"kind", "status"})
	rows := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "logistics_upload_rows_total",
		Help: "Upload rows by kind and outcome.",
	}, []string{"kind", "outcome"})
	uploadDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "logistics_upload_duration_seconds",
		Help:    "Time spent processing one upload.",
		Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
	}, []string{"kind"})
	registry.MustRegister(requests, duration, uploads, rows, uploadDuration)
	return &Metrics{
		registry:        registry,
		handler:         promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		requestsTotal:   requests,
		requestDuration: duration,
		uploadsTotal:    uploads,
		uploadRows:      rows,
		uploadDuration:  uploadDuration,
	}
}

// Handler returns the /metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, http.StatusText(http.StatusServiceUnavailable), http.StatusServiceUnavailable)
		})
	}
	return m.handler
}

// Middleware records a counter and a duration for every request.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	if m == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		recorder := statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(&recorder, r)
		route := routePattern(r)
		m.requestsTotal.WithLabelValues(route, strconv.Itoa(recorder.status)).Inc()
		m.requestDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
	})
}

// ObserveUpload records the outcome of one upload run.
func (m *Metrics) ObserveUpload(kind, status string, success, failed, skipped int, seconds float64) {
	if m == nil {
		return
	}
	m.uploadsTotal.WithLabelValues(kind, status).Inc()
	m.uploadRows.WithLabelValues(kind, "success").Add(float64(success))
	m.uploadRows.WithLabelValues(kind, "failed").Add(float64(failed))
	m.uploadRows.WithLabelValues(kind, "skipped").Add(float64(skipped))
	m.uploadDuration.WithLabelValues(kind).Observe(seconds)
}

// Registerer exposes the registry for extra collectors such as job metrics.
func (m *Metrics) Registerer() prometheus.Registerer {
	if m == nil {
		return prometheus.DefaultRegisterer
	}
	return m.registry
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func routePattern(r *http.Request) string {
	if routeCtx := chi.RouteContext(r.Context()); routeCtx != nil {
		if pattern := routeCtx.RoutePattern(); pattern != "" {
			return pattern
		}
	}
	return "unknown"
}
