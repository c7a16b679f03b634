package jobmetrics

import (
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestTrackerRecordsOutcome(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())

	require.NoError(t, m.Track("battery:aging_refresh").End(nil))
	boom := errors.New("boom")
	require.ErrorIs(t, m.Track("battery:aging_refresh").End(boom), boom)
	m.AddProcessed("battery:aging_refresh", 12)
	m.AddProcessed("battery:aging_refresh", 0)

	require.Equal(t, float64(1), testutil.ToFloat64(m.runs.WithLabelValues("battery:aging_refresh", "success")))
	require.Equal(t, float64(1), testutil.ToFloat64(m.runs.WithLabelValues("battery:aging_refresh", "failure")))
	require.Equal(t, float64(1), testutil.ToFloat64(m.failures.WithLabelValues("battery:aging_refresh")))
	require.Equal(t, float64(12), testutil.ToFloat64(m.processed.WithLabelValues("battery:aging_refresh")))
}

func TestNilMetricsTrackerPassesErrorThrough(t *testing.T) {
	var m *Metrics
	boom := errors.New("boom")
	require.ErrorIs(t, m.Track("dashboard:warmup").End(boom), boom)
	m.AddProcessed("dashboard:warmup", 3)
}
