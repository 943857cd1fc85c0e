package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// SweeperMetrics contains Prometheus metrics for the presence sweeper.
type SweeperMetrics struct {
	SweepsTotal        prometheus.Counter
	SweepFailures      prometheus.Counter
	OfflineTransitions prometheus.Counter
	SweepDuration      prometheus.Histogram
}

// NewSweeperMetrics creates and registers presence sweeper metrics.
func NewSweeperMetrics(namespace string) *SweeperMetrics {
	m := &SweeperMetrics{
		SweepsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "sweeper",
				Name:      "sweeps_total",
				Help:      "Total presence sweeps executed",
			},
		),
		SweepFailures: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "sweeper",
				Name:      "sweep_failures_total",
				Help:      "Total presence sweeps that failed",
			},
		),
		OfflineTransitions: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "sweeper",
				Name:      "offline_transitions_total",
				Help:      "Total chamber transitions into the offline state",
			},
		),
		SweepDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "sweeper",
				Name:      "sweep_duration_seconds",
				Help:      "Duration of presence sweep runs",
				Buckets:   prometheus.DefBuckets,
			},
		),
	}

	MustRegister(
		m.SweepsTotal,
		m.SweepFailures,
		m.OfflineTransitions,
		m.SweepDuration,
	)

	return m
}
