package jobmetrics

import (
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
)

func counterValue(t *testing.T, reg *prometheus.Registry, name string, labels map[string]string) float64 {
	t.Helper()
	families, err := reg.Gather()
	require.NoError(t, err)
	for _, mf := range families {
		if mf.GetName() != name {
			continue
		}
	metrics:
		for _, metric := range mf.GetMetric() {
			for _, lp := range metric.GetLabel() {
				if labels[lp.GetName()] != lp.GetValue() {
					continue metrics
				}
			}
			return metric.GetCounter().GetValue()
		}
	}
	return 0
}

func TestTrackerRecordsOutcome(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)

	require.NoError(t, m.Track("ledger:initialize").End(nil))
	boom := errors.New("boom")
	require.ErrorIs(t, m.Track("ledger:initialize").End(boom), boom)

	require.Equal(t, 1.0, counterValue(t, reg, "stockbook_jobs_total", map[string]string{"job": "ledger:initialize", "status": "success"}))
	require.Equal(t, 1.0, counterValue(t, reg, "stockbook_jobs_failures_total", map[string]string{"job": "ledger:initialize"}))

	m.AddDrift("dry-run", 3)
	m.AddDrift("dry-run", 0)
	require.Equal(t, 3.0, counterValue(t, reg, "stockbook_stock_drift_total", map[string]string{"mode": "dry-run"}))
}

func TestNilMetricsTrackerPassesErrorThrough(t *testing.T) {
	var m *Metrics
	boom := errors.New("boom")
	require.ErrorIs(t, m.Track("x").End(boom), boom)
	m.AddDrift("apply", 1)
}
