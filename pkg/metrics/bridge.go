package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// BridgeMetrics contains Prometheus metrics for the ingestion bridge.
type BridgeMetrics struct {
	MessagesTotal      *prometheus.CounterVec
	ReadingsPersisted  prometheus.Counter
	OnlineTransitions  prometheus.Counter
	ProcessingDuration prometheus.Histogram
}

// NewBridgeMetrics creates and registers ingestion bridge metrics.
func NewBridgeMetrics(namespace string) *BridgeMetrics {
	m := &BridgeMetrics{
		MessagesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "bridge",
				Name:      "messages_total",
				Help:      "Total telemetry messages processed by outcome",
			},
			[]string{"outcome"}, // persisted, malformed, unknown_chamber, store_error
		),
		ReadingsPersisted: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "bridge",
				Name:      "readings_persisted_total",
				Help:      "Total sensor readings written to the store",
			},
		),
		OnlineTransitions: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "bridge",
				Name:      "online_transitions_total",
				Help:      "Total chamber transitions into the online state",
			},
		),
		ProcessingDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "bridge",
				Name:      "processing_duration_seconds",
				Help:      "Duration of telemetry message processing",
				Buckets:   prometheus.DefBuckets,
			},
		),
	}

	MustRegister(
		m.MessagesTotal,
		m.ReadingsPersisted,
		m.OnlineTransitions,
		m.ProcessingDuration,
	)

	return m
}
