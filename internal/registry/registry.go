// Package registry keeps an in-memory, queryable snapshot of the fleet's
// tracker hardware, refreshed wholesale from an external device listing.
package registry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"fleetwatch.dev/fleetwatch/pkg/fleet"
	"fleetwatch.dev/fleetwatch/pkg/metrics"
)

// Fetcher yields the current fleet device listing. The registry treats the
// fetcher as the source of truth; the local set is only a cache of it.
type Fetcher interface {
	FetchDevices(ctx context.Context) ([]fleet.DeviceRecord, error)
}

// Registry holds the device snapshot. Readers are never blocked by a
// refresh; a refresh completion replaces the whole set atomically, so no
// reader observes a mix of two generations.
type Registry struct {
	logger  *slog.Logger
	fetcher Fetcher
	metrics *metrics.TrackerMetrics

	mu       sync.RWMutex
	devices  map[string]fleet.DeviceRecord
	applied  uint64
	issued   uint64
	inflight *refreshCall
}

// refreshCall lets concurrent Refresh callers join one in-flight fetch.
type refreshCall struct {
	done chan struct{}
	err  error
}

// Config holds the configuration for the Registry.
type Config struct {
	Logger  *slog.Logger
	Fetcher Fetcher
	// Metrics is the optional Prometheus metrics collector.
	Metrics *metrics.TrackerMetrics
}

// New creates a new Registry instance. The set starts empty until the
// first successful Refresh.
func New(cfg *Config) (*Registry, error) {
	if cfg == nil {
		return nil, errors.New("registry config cannot be nil")
	}
	if cfg.Logger == nil {
		return nil, errors.New("logger cannot be nil")
	}
	if cfg.Fetcher == nil {
		return nil, errors.New("fetcher cannot be nil")
	}

	return &Registry{
		logger:  cfg.Logger,
		fetcher: cfg.Fetcher,
		metrics: cfg.Metrics,
		devices: make(map[string]fleet.DeviceRecord),
	}, nil
}

// Refresh fetches the device listing and replaces the local set. Concurrent
// calls are coalesced: a call that finds a refresh already in flight waits
// for that one and returns its result. A fetch result is applied only if
// its generation is still the latest issued, so a superseded response can
// never overwrite fresher state. On error the previous set stays intact.
func (r *Registry) Refresh(ctx context.Context) error {
	r.mu.Lock()
	if call := r.inflight; call != nil {
		r.mu.Unlock()
		select {
		case <-call.done:
			return call.err
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	call := &refreshCall{done: make(chan struct{})}
	r.inflight = call
	r.issued++
	generation := r.issued
	r.mu.Unlock()

	devices, err := r.fetcher.FetchDevices(ctx)

	r.mu.Lock()
	r.inflight = nil
	switch {
	case err != nil:
		call.err = fmt.Errorf("device listing fetch failed: %w", err)
		r.logger.Error("registry refresh failed, keeping previous set",
			"generation", generation,
			"error", err,
		)
		if r.metrics != nil {
			r.metrics.RegistryRefreshes.WithLabelValues("error").Inc()
		}

	case generation <= r.applied:
		// A newer generation already landed; drop this response.
		r.logger.Warn("registry refresh superseded",
			"generation", generation,
			"applied", r.applied,
		)
		if r.metrics != nil {
			r.metrics.RegistryRefreshes.WithLabelValues("superseded").Inc()
		}

	default:
		next := make(map[string]fleet.DeviceRecord, len(devices))
		for _, d := range devices {
			next[d.DeviceID] = d
		}
		r.devices = next
		r.applied = generation

		r.logger.Info("registry refreshed",
			"generation", generation,
			"devices", len(next),
		)
		if r.metrics != nil {
			r.metrics.RegistryRefreshes.WithLabelValues("applied").Inc()
			r.metrics.RegistryDevices.Set(float64(len(next)))
		}
	}
	r.mu.Unlock()

	close(call.done)
	return call.err
}

// Device returns the record for the given device id from the current
// snapshot.
func (r *Registry) Device(deviceID string) (fleet.DeviceRecord, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.devices[deviceID]
	return d, ok
}

// Devices returns the current snapshot ordered by device id.
func (r *Registry) Devices() []fleet.DeviceRecord {
	r.mu.RLock()
	out := make([]fleet.DeviceRecord, 0, len(r.devices))
	for _, d := range r.devices {
		out = append(out, d)
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].DeviceID < out[j].DeviceID })
	return out
}

// Status derives the operational status for the given device id. Unknown
// devices are offline.
func (r *Registry) Status(deviceID string) fleet.DeviceStatus {
	d, ok := r.Device(deviceID)
	if !ok {
		return fleet.StatusOffline
	}
	return d.Status()
}

// Generation returns the generation of the applied snapshot. It only ever
// increases.
func (r *Registry) Generation() uint64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.applied
}
