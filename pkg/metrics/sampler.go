package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// SamplerMetrics contains Prometheus metrics for the location sampler.
type SamplerMetrics struct {
	SamplesPublished prometheus.Counter
	SampleFailures   *prometheus.CounterVec
	TicksSkipped     prometheus.Counter
	AttemptDuration  prometheus.Histogram
	SamplerRunning   prometheus.Gauge
}

// NewSamplerMetrics creates and registers location sampler metrics.
func NewSamplerMetrics(namespace string) *SamplerMetrics {
	m := &SamplerMetrics{
		SamplesPublished: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "sampler",
				Name:      "samples_published_total",
				Help:      "Total number of location samples published to the sink",
			},
		),
		SampleFailures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "sampler",
				Name:      "sample_failures_total",
				Help:      "Total number of failed sampling attempts",
			},
			[]string{"reason"}, // provider_error, publish_error
		),
		TicksSkipped: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "sampler",
				Name:      "ticks_skipped_total",
				Help:      "Total number of ticks skipped because an attempt was still in flight",
			},
		),
		AttemptDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "sampler",
				Name:      "attempt_duration_seconds",
				Help:      "Duration of sampling attempts, provider call included",
				Buckets:   prometheus.DefBuckets,
			},
		),
		SamplerRunning: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "sampler",
				Name:      "running",
				Help:      "Whether the sampling loop is running (1=running, 0=stopped)",
			},
		),
	}

	MustRegister(
		m.SamplesPublished,
		m.SampleFailures,
		m.TicksSkipped,
		m.AttemptDuration,
		m.SamplerRunning,
	)

	return m
}
