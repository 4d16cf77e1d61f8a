package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// DispatchMetrics contains Prometheus metrics for the command dispatcher.
type DispatchMetrics struct {
	CommandsDispatched *prometheus.CounterVec
	CommandsResolved   *prometheus.CounterVec
	PendingCommands    prometheus.Gauge
	AckLatency         prometheus.Histogram
}

// NewDispatchMetrics creates and registers command dispatcher metrics.
func NewDispatchMetrics(namespace string) *DispatchMetrics {
	m := &DispatchMetrics{
		CommandsDispatched: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "dispatch",
				Name:      "commands_total",
				Help:      "Total number of command dispatch attempts",
			},
			[]string{"command_type"},
		),
		CommandsResolved: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "dispatch",
				Name:      "commands_resolved_total",
				Help:      "Total number of commands resolved to a terminal state",
			},
			[]string{"command_type", "state"}, // Acked, Failed, TimedOut
		),
		PendingCommands: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "dispatch",
				Name:      "pending_commands",
				Help:      "Number of commands currently awaiting acknowledgement",
			},
		),
		AckLatency: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "dispatch",
				Name:      "ack_latency_seconds",
				Help:      "Time from relay publish to acknowledgement",
				Buckets:   prometheus.DefBuckets,
			},
		),
	}

	MustRegister(
		m.CommandsDispatched,
		m.CommandsResolved,
		m.PendingCommands,
		m.AckLatency,
	)

	return m
}
