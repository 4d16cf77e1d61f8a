// Package trail turns an unordered stream of location samples into
// per-owner, time-ordered, memory-bounded trails for recent-path and
// current-position queries.
package trail

import (
	"errors"
	"sort"
	"sync"
	"time"

	"fleetwatch.dev/fleetwatch/pkg/fleet"
	"fleetwatch.dev/fleetwatch/pkg/metrics"
)

const (
	// DefaultMaxSamples bounds each owner's trail by count.
	DefaultMaxSamples = 200

	// DefaultMaxAge bounds each owner's trail by sample age.
	DefaultMaxAge = 24 * time.Hour
)

var errMissingOwner = errors.New("sample has no owner id")

// Config holds the configuration for the Aggregator.
type Config struct {
	// MaxSamples is the per-owner count bound (DefaultMaxSamples if <= 0).
	MaxSamples int
	// MaxAge is the per-owner age bound (DefaultMaxAge if <= 0).
	MaxAge time.Duration
	// Now is the clock used for age eviction (time.Now if nil).
	Now func() time.Time
	// Metrics is the optional Prometheus metrics collector.
	Metrics *metrics.TrackerMetrics
}

// Aggregator maintains one bounded, sorted trail per owner. Ingests for
// different owners proceed independently; ingests for the same owner are
// serialized on that owner's trail.
type Aggregator struct {
	maxSamples int
	maxAge     time.Duration
	now        func() time.Time
	metrics    *metrics.TrackerMetrics

	mu     sync.RWMutex
	owners map[string]*ownerTrail
}

// ownerTrail is one owner's samples, sorted ascending by timestamp, plus
// the cached newest sample.
type ownerTrail struct {
	mu      sync.Mutex
	samples []fleet.LocationSample
	last    fleet.LocationSample
	hasLast bool
}

// NewAggregator creates an Aggregator from cfg.
func NewAggregator(cfg Config) *Aggregator {
	if cfg.MaxSamples <= 0 {
		cfg.MaxSamples = DefaultMaxSamples
	}
	if cfg.MaxAge <= 0 {
		cfg.MaxAge = DefaultMaxAge
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Aggregator{
		maxSamples: cfg.MaxSamples,
		maxAge:     cfg.MaxAge,
		now:        cfg.Now,
		metrics:    cfg.Metrics,
		owners:     make(map[string]*ownerTrail),
	}
}

// Ingest inserts the sample into its owner's trail at the position sorted
// by timestamp, updates the cached last position if this is the newest
// sample seen for that owner, and applies the retention bounds. Ingesting
// an identical sample a second time is a no-op.
func (a *Aggregator) Ingest(sample fleet.LocationSample) error {
	if sample.OwnerID == "" {
		if a.metrics != nil {
			a.metrics.SamplesIngested.WithLabelValues("error").Inc()
		}
		return errMissingOwner
	}

	start := time.Now()
	t := a.trailFor(sample.OwnerID)

	t.mu.Lock()
	inserted := t.insert(sample)
	evicted := 0
	if inserted {
		evicted = t.evict(a.maxSamples, a.now().Add(-a.maxAge))
	}
	t.mu.Unlock()

	if a.metrics != nil {
		if inserted {
			a.metrics.SamplesIngested.WithLabelValues("inserted").Inc()
		} else {
			a.metrics.SamplesIngested.WithLabelValues("duplicate").Inc()
		}
		if evicted > 0 {
			a.metrics.SamplesEvicted.Add(float64(evicted))
		}
		a.metrics.IngestDuration.Observe(time.Since(start).Seconds())
		a.metrics.TrailOwners.Set(float64(a.ownerCount()))
	}

	return nil
}

// TrailFor returns the owner's retained samples ordered oldest to newest.
// The returned slice is a copy; callers may hold it across ingests.
func (a *Aggregator) TrailFor(owner string) []fleet.LocationSample {
	a.mu.RLock()
	t, ok := a.owners[owner]
	a.mu.RUnlock()
	if !ok {
		return nil
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]fleet.LocationSample, len(t.samples))
	copy(out, t.samples)
	return out
}

// LastPosition returns the most recent sample seen for the owner in O(1),
// or false if none is retained.
func (a *Aggregator) LastPosition(owner string) (fleet.LocationSample, bool) {
	a.mu.RLock()
	t, ok := a.owners[owner]
	a.mu.RUnlock()
	if !ok {
		return fleet.LocationSample{}, false
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	return t.last, t.hasLast
}

// Owners returns the owners that currently have at least one retained sample.
func (a *Aggregator) Owners() []string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	out := make([]string, 0, len(a.owners))
	for owner := range a.owners {
		out = append(out, owner)
	}
	sort.Strings(out)
	return out
}

func (a *Aggregator) ownerCount() int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return len(a.owners)
}

func (a *Aggregator) trailFor(owner string) *ownerTrail {
	a.mu.RLock()
	t, ok := a.owners[owner]
	a.mu.RUnlock()
	if ok {
		return t
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if t, ok = a.owners[owner]; ok {
		return t
	}
	t = &ownerTrail{}
	a.owners[owner] = t
	return t
}

// insert places the sample at its sorted position. Returns false if an
// identical sample is already retained. Caller holds t.mu.
func (t *ownerTrail) insert(sample fleet.LocationSample) bool {
	i := sort.Search(len(t.samples), func(i int) bool {
		return t.samples[i].Timestamp.After(sample.Timestamp)
	})

	// Equal timestamps land immediately before i; scan them for a duplicate.
	for j := i - 1; j >= 0 && t.samples[j].Timestamp.Equal(sample.Timestamp); j-- {
		if t.samples[j].Same(sample) {
			return false
		}
	}

	t.samples = append(t.samples, fleet.LocationSample{})
	copy(t.samples[i+1:], t.samples[i:])
	t.samples[i] = sample

	if !t.hasLast || sample.Timestamp.After(t.last.Timestamp) {
		t.last = sample
		t.hasLast = true
	}
	return true
}

// evict drops the oldest samples until both the count and age bounds hold.
// Returns the number of samples dropped. Caller holds t.mu.
func (t *ownerTrail) evict(maxSamples int, cutoff time.Time) int {
	drop := 0
	for len(t.samples)-drop > maxSamples {
		drop++
	}
	for drop < len(t.samples) && t.samples[drop].Timestamp.Before(cutoff) {
		drop++
	}
	if drop == 0 {
		return 0
	}

	t.samples = append(t.samples[:0], t.samples[drop:]...)
	if len(t.samples) == 0 {
		t.hasLast = false
		t.last = fleet.LocationSample{}
	} else {
		t.last = t.samples[len(t.samples)-1]
		t.hasLast = true
	}
	return drop
}
