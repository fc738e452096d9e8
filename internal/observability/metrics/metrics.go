package metrics

import "github.com/prometheus/client_golang/prometheus"

// RoutingMetrics exposes counters/histograms for the routing pipeline.
type RoutingMetrics struct {
	decisionsTotal  *prometheus.CounterVec
	fallbackTotal   prometheus.Counter
	routingLatency  *prometheus.HistogramVec
	cachePatterns   prometheus.Gauge
	cacheReloads    *prometheus.CounterVec
	classifierCalls *prometheus.CounterVec
}

func NewRoutingMetrics(reg prometheus.Registerer) *RoutingMetrics {
	m := &RoutingMetrics{
		decisionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "assistant",
			Subsystem: "routing",
			Name:      "decisions_total",
			Help:      "Total routing decisions by winning source",
		}, []string{"source", "handler"}),
		fallbackTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "assistant",
			Subsystem: "routing",
			Name:      "fallback_total",
			Help:      "Decisions that exhausted fusion and used the fallback intent",
		}),
		routingLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "assistant",
			Subsystem: "routing",
			Name:      "latency_seconds",
			Help:      "Latency of the full message pipeline",
			Buckets:   prometheus.DefBuckets,
		}, []string{"source"}),
		cachePatterns: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "assistant",
			Subsystem: "routing",
			Name:      "cache_patterns",
			Help:      "Patterns compiled into the current cache snapshot",
		}),
		cacheReloads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "assistant",
			Subsystem: "routing",
			Name:      "cache_reloads_total",
			Help:      "Cache reload attempts by outcome",
		}, []string{"outcome"}),
		classifierCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "assistant",
			Subsystem: "routing",
			Name:      "classifier_calls_total",
			Help:      "Classifier adapter calls by outcome",
		}, []string{"outcome"}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(m.decisionsTotal, m.fallbackTotal, m.routingLatency,
		m.cachePatterns, m.cacheReloads, m.classifierCalls)
	return m
}

func (m *RoutingMetrics) ObserveDecision(source, handler string, fallback bool, seconds float64) {
	if m == nil {
		return
	}
	m.decisionsTotal.WithLabelValues(source, handler).Inc()
	m.routingLatency.WithLabelValues(source).Observe(seconds)
	if fallback {
		m.fallbackTotal.Inc()
	}
}

func (m *RoutingMetrics) ObserveReload(ok bool, patternCount int) {
	if m == nil {
		return
	}
	outcome := "ok"
	if !ok {
		outcome = "error"
	}
	m.cacheReloads.WithLabelValues(outcome).Inc()
	if ok {
		m.cachePatterns.Set(float64(patternCount))
	}
}

func (m *RoutingMetrics) ObserveClassifier(outcome string) {
	if m == nil {
		return
	}
	m.classifierCalls.WithLabelValues(outcome).Inc()
}
