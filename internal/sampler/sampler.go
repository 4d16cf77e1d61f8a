package sampler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"fleetwatch.dev/fleetwatch/pkg/fleet"
	"fleetwatch.dev/fleetwatch/pkg/metrics"
	"fleetwatch.dev/fleetwatch/pkg/mq"
)

const (
	// DefaultProviderTimeout bounds a single position request.
	DefaultProviderTimeout = 10 * time.Second
)

var (
	errLoggerRequired   = errors.New("logger is required")
	errProviderRequired = errors.New("provider is required")
	errSinkRequired     = errors.New("sink is required")
	errOwnerRequired    = errors.New("owner id is required")
	errInvalidInterval  = errors.New("interval must be greater than 0")
	errAlreadyRunning   = errors.New("sampler is already running")
)

// Config holds the configuration for the Sampler.
type Config struct {
	Logger *slog.Logger
	// Provider yields the vessel's current position.
	Provider Provider
	// Sink is the MQ client bound to the telemetry queue.
	Sink mq.ClientInterface
	// OwnerID identifies the local vessel in published samples.
	OwnerID string
	// Interval is the time between sampling attempts.
	Interval time.Duration
	// ProviderTimeout bounds each position request (DefaultProviderTimeout if <= 0).
	ProviderTimeout time.Duration
	// Metrics is the optional Prometheus metrics collector.
	Metrics *metrics.SamplerMetrics
}

// Sampler publishes the local vessel's position on a fixed cadence. At most
// one attempt is in flight at a time; a tick that fires mid-attempt is
// skipped, never queued.
type Sampler struct {
	logger          *slog.Logger
	provider        Provider
	sink            mq.ClientInterface
	ownerID         string
	providerTimeout time.Duration
	metrics         *metrics.SamplerMetrics

	// interval holds the cadence as nanoseconds; SetInterval stores a new
	// value and the loop picks it up on the next tick.
	interval atomic.Int64
	inFlight atomic.Bool

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	done    chan struct{}
}

// New creates a new Sampler instance.
func New(cfg *Config) (*Sampler, error) {
	if cfg == nil {
		return nil, errors.New("sampler config cannot be nil")
	}
	if cfg.Logger == nil {
		return nil, errLoggerRequired
	}
	if cfg.Provider == nil {
		return nil, errProviderRequired
	}
	if cfg.Sink == nil {
		return nil, errSinkRequired
	}
	if cfg.OwnerID == "" {
		return nil, errOwnerRequired
	}
	if cfg.Interval <= 0 {
		return nil, errInvalidInterval
	}

	providerTimeout := cfg.ProviderTimeout
	if providerTimeout <= 0 {
		providerTimeout = DefaultProviderTimeout
	}

	s := &Sampler{
		logger:          cfg.Logger,
		provider:        cfg.Provider,
		sink:            cfg.Sink,
		ownerID:         cfg.OwnerID,
		providerTimeout: providerTimeout,
		metrics:         cfg.Metrics,
	}
	s.interval.Store(int64(cfg.Interval))
	return s, nil
}

// Start begins the sampling loop with one immediate attempt, then one per
// interval. It returns an error if the loop is already running.
func (s *Sampler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return errAlreadyRunning
	}

	ctx, cancel := context.WithCancel(ctx)
	s.running = true
	s.cancel = cancel
	s.done = make(chan struct{})

	go s.run(ctx, s.done)

	s.logger.Info("sampler started",
		"owner_id", s.ownerID,
		"interval", time.Duration(s.interval.Load()),
	)
	return nil
}

// Stop cancels future ticks and waits for the loop to exit. An in-flight
// provider call is allowed to complete; its result is discarded.
func (s *Sampler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	cancel := s.cancel
	done := s.done
	s.mu.Unlock()

	cancel()
	<-done
	s.logger.Info("sampler stopped")
}

// SetInterval changes the cadence. The already-elapsed portion of the
// current interval is not restarted; the new cadence applies from the next
// tick.
func (s *Sampler) SetInterval(interval time.Duration) error {
	if interval <= 0 {
		return errInvalidInterval
	}
	s.interval.Store(int64(interval))
	s.logger.Info("sampling interval updated", "interval", interval)
	return nil
}

// Interval returns the current cadence.
func (s *Sampler) Interval() time.Duration {
	return time.Duration(s.interval.Load())
}

func (s *Sampler) run(ctx context.Context, done chan struct{}) {
	defer close(done)

	if s.metrics != nil {
		s.metrics.SamplerRunning.Set(1)
		defer s.metrics.SamplerRunning.Set(0)
	}

	// First attempt fires immediately.
	s.tick(ctx)

	active := time.Duration(s.interval.Load())
	ticker := time.NewTicker(active)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("sampling loop shutting down")
			return

		case <-ticker.C:
			s.tick(ctx)

			if next := time.Duration(s.interval.Load()); next != active {
				active = next
				ticker.Reset(active)
			}
		}
	}
}

// tick launches one attempt unless the previous one is still in flight.
func (s *Sampler) tick(ctx context.Context) {
	if !s.inFlight.CompareAndSwap(false, true) {
		s.logger.Warn("skipping tick, previous attempt still in flight")
		if s.metrics != nil {
			s.metrics.TicksSkipped.Inc()
		}
		return
	}

	go func() {
		defer s.inFlight.Store(false)
		s.attempt(ctx)
	}()
}

// attempt requests one position and publishes it. Failures are logged and
// absorbed; the loop continues on the next tick.
func (s *Sampler) attempt(ctx context.Context) {
	start := time.Now()
	if s.metrics != nil {
		defer func() {
			s.metrics.AttemptDuration.Observe(time.Since(start).Seconds())
		}()
	}

	providerCtx, cancel := context.WithTimeout(ctx, s.providerTimeout)
	defer cancel()

	position, err := s.provider.Current(providerCtx)
	if err != nil {
		s.logger.Error("failed to obtain position", "error", err)
		if s.metrics != nil {
			s.metrics.SampleFailures.WithLabelValues("provider_error").Inc()
		}
		return
	}

	// The provider call may have outlived Stop; the result is discarded.
	if ctx.Err() != nil {
		s.logger.Debug("discarding position obtained after stop")
		return
	}

	sample := fleet.LocationSample{
		OwnerID:   s.ownerID,
		Latitude:  position.Latitude,
		Longitude: position.Longitude,
		Timestamp: time.Now().UTC(),
		Speed:     position.Speed,
		Heading:   position.Heading,
		Altitude:  position.Altitude,
		Accuracy:  position.Accuracy,
	}

	if err := s.publish(ctx, sample); err != nil {
		s.logger.Error("failed to publish sample", "error", err)
		if s.metrics != nil {
			s.metrics.SampleFailures.WithLabelValues("publish_error").Inc()
		}
		return
	}

	if s.metrics != nil {
		s.metrics.SamplesPublished.Inc()
	}
	s.logger.Debug("sample published",
		"latitude", sample.Latitude,
		"longitude", sample.Longitude,
	)
}

func (s *Sampler) publish(ctx context.Context, sample fleet.LocationSample) error {
	body, err := json.Marshal(sample)
	if err != nil {
		return fmt.Errorf("failed to marshal sample: %w", err)
	}

	if err := s.sink.Push(ctx, body); err != nil {
		return fmt.Errorf("failed to push sample: %w", err)
	}
	return nil
}
