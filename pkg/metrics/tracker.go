package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// TrackerMetrics contains Prometheus metrics for the tracker backend:
// telemetry ingest, trail state, registry refreshes, and the HTTP API.
type TrackerMetrics struct {
	SamplesIngested    *prometheus.CounterVec
	IngestDuration     prometheus.Histogram
	TrailOwners        prometheus.Gauge
	SamplesEvicted     prometheus.Counter
	RegistryRefreshes  *prometheus.CounterVec
	RegistryDevices    prometheus.Gauge
	HTTPRequestsTotal  *prometheus.CounterVec
	HTTPRequestLatency *prometheus.HistogramVec
}

// NewTrackerMetrics creates and registers tracker service metrics.
func NewTrackerMetrics(namespace string) *TrackerMetrics {
	m := &TrackerMetrics{
		SamplesIngested: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "trail",
				Name:      "samples_ingested_total",
				Help:      "Total number of location samples ingested",
			},
			[]string{"status"}, // inserted, duplicate, error
		),
		IngestDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "trail",
				Name:      "ingest_duration_seconds",
				Help:      "Duration of sample ingest operations",
				Buckets:   prometheus.DefBuckets,
			},
		),
		TrailOwners: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "trail",
				Name:      "owners",
				Help:      "Number of owners with at least one retained sample",
			},
		),
		SamplesEvicted: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "trail",
				Name:      "samples_evicted_total",
				Help:      "Total number of samples evicted by retention bounds",
			},
		),
		RegistryRefreshes: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "registry",
				Name:      "refreshes_total",
				Help:      "Total number of device registry refreshes",
			},
			[]string{"status"}, // applied, superseded, error
		),
		RegistryDevices: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "registry",
				Name:      "devices",
				Help:      "Number of devices in the current registry snapshot",
			},
		),
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "http",
				Name:      "requests_total",
				Help:      "Total number of HTTP API requests",
			},
			[]string{"route", "status"},
		),
		HTTPRequestLatency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "http",
				Name:      "request_duration_seconds",
				Help:      "Duration of HTTP API requests",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"route"},
		),
	}

	MustRegister(
		m.SamplesIngested,
		m.IngestDuration,
		m.TrailOwners,
		m.SamplesEvicted,
		m.RegistryRefreshes,
		m.RegistryDevices,
		m.HTTPRequestsTotal,
		m.HTTPRequestLatency,
	)

	return m
}
