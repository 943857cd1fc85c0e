package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// HubMetrics contains Prometheus metrics for the realtime fan-out hub.
type HubMetrics struct {
	ActiveSessions    prometheus.Gauge
	ActiveRooms       prometheus.Gauge
	ReadingsDelivered prometheus.Counter
	DeliveriesDropped prometheus.Counter
	JoinsRejected     prometheus.Counter
}

// NewHubMetrics creates and registers fan-out hub metrics.
func NewHubMetrics(namespace string) *HubMetrics {
	m := &HubMetrics{
		ActiveSessions: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "hub",
				Name:      "active_sessions",
				Help:      "Number of connected viewer sessions",
			},
		),
		ActiveRooms: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "hub",
				Name:      "active_rooms",
				Help:      "Number of chamber rooms with at least one member",
			},
		),
		ReadingsDelivered: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "hub",
				Name:      "readings_delivered_total",
				Help:      "Total readings delivered to viewer sessions",
			},
		),
		DeliveriesDropped: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "hub",
				Name:      "deliveries_dropped_total",
				Help:      "Total deliveries dropped because a session buffer was full",
			},
		),
		JoinsRejected: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "hub",
				Name:      "joins_rejected_total",
				Help:      "Total room join attempts rejected by the ownership check",
			},
		),
	}

	MustRegister(
		m.ActiveSessions,
		m.ActiveRooms,
		m.ReadingsDelivered,
		m.DeliveriesDropped,
		m.JoinsRejected,
	)

	return m
}
