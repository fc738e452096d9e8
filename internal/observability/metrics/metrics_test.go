package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/require"
)

func TestObserveDecision(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewRoutingMetrics(reg)

	m.ObserveDecision("pattern", "general", false, 0.004)
	m.ObserveDecision("fallback", "general", true, 0.012)

	require.Equal(t, 1.0, testutil.ToFloat64(m.decisionsTotal.WithLabelValues("pattern", "general")))
	require.Equal(t, 1.0, testutil.ToFloat64(m.decisionsTotal.WithLabelValues("fallback", "general")))
	require.Equal(t, 1.0, testutil.ToFloat64(m.fallbackTotal))
}

func TestObserveReload(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewRoutingMetrics(reg)

	m.ObserveReload(true, 42)
	m.ObserveReload(false, 0)

	require.Equal(t, 42.0, testutil.ToFloat64(m.cachePatterns))
	require.Equal(t, 1.0, testutil.ToFloat64(m.cacheReloads.WithLabelValues("ok")))
	require.Equal(t, 1.0, testutil.ToFloat64(m.cacheReloads.WithLabelValues("error")))
}

func TestObserveClassifier(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewRoutingMetrics(reg)

	m.ObserveClassifier("ok")
	m.ObserveClassifier("absent")
	m.ObserveClassifier("ok")

	require.Equal(t, 2.0, testutil.ToFloat64(m.classifierCalls.WithLabelValues("ok")))
	require.Equal(t, 1.0, testutil.ToFloat64(m.classifierCalls.WithLabelValues("absent")))
}

func TestLatencyHistogramRecords(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewRoutingMetrics(reg)

	m.ObserveDecision("pattern", "general", false, 0.05)

	families, err := reg.Gather()
	require.NoError(t, err)

	var hist *dto.MetricFamily
	for _, mf := range families {
		if mf.GetName() == "assistant_routing_latency_seconds" {
			hist = mf
		}
	}
	require.NotNil(t, hist)
	require.Equal(t, uint64(1), hist.Metric[0].Histogram.GetSampleCount())
}

func TestNilReceiverIsSafe(t *testing.T) {
	var m *RoutingMetrics
	m.ObserveDecision("pattern", "general", true, 0.1)
	m.ObserveReload(true, 1)
	m.ObserveClassifier("ok")
}
