package simulate

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"fleetwatch.dev/fleetwatch/pkg/fleet"
	"fleetwatch.dev/fleetwatch/pkg/mq"
)

// DeviceSeeder writes generated devices into the fleet device listing.
type DeviceSeeder interface {
	UpsertDevice(ctx context.Context, device fleet.DeviceRecord) error
}

var (
	errLoggerRequired     = errors.New("logger is required")
	errSeederRequired     = errors.New("device seeder is required")
	errSinkRequired       = errors.New("sink is required")
	errInvalidVesselCount = errors.New("vessel count must be greater than 0")
	errInvalidInterval    = errors.New("interval must be greater than 0")
)

// Config holds the configuration for the Simulator.
type Config struct {
	Logger *slog.Logger
	// Seeder receives the generated device records.
	Seeder DeviceSeeder
	// Sink is the MQ client bound to the telemetry queue.
	Sink mq.ClientInterface
	// VesselCount is the number of simulated vessels.
	VesselCount int
	// Interval is the time between movement samples per vessel.
	Interval time.Duration
}

// Simulator seeds a fake fleet and streams its movement into the telemetry
// queue until stopped.
type Simulator struct {
	logger   *slog.Logger
	seeder   DeviceSeeder
	sink     mq.ClientInterface
	count    int
	interval time.Duration
	wg       sync.WaitGroup
}

// New creates a new Simulator instance.
func New(cfg *Config) (*Simulator, error) {
	if cfg == nil {
		return nil, errors.New("simulator config cannot be nil")
	}
	if cfg.Logger == nil {
		return nil, errLoggerRequired
	}
	if cfg.Seeder == nil {
		return nil, errSeederRequired
	}
	if cfg.Sink == nil {
		return nil, errSinkRequired
	}
	if cfg.VesselCount <= 0 {
		return nil, errInvalidVesselCount
	}
	if cfg.Interval <= 0 {
		return nil, errInvalidInterval
	}

	return &Simulator{
		logger:   cfg.Logger,
		seeder:   cfg.Seeder,
		sink:     cfg.Sink,
		count:    cfg.VesselCount,
		interval: cfg.Interval,
	}, nil
}

// Run seeds the fleet, starts one movement loop per vessel, and blocks
// until a shutdown signal arrives or the context is canceled.
func (s *Simulator) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM, syscall.SIGINT)

	vessels, err := s.seed(ctx)
	if err != nil {
		return err
	}

	for i, vessel := range vessels {
		s.wg.Add(1)
		go s.runVessel(ctx, i, vessel)
	}

	s.logger.Info("simulator started",
		"vessel_count", len(vessels),
		"interval", s.interval,
	)

	select {
	case sig := <-sigChan:
		s.logger.Info("received shutdown signal", "signal", sig.String())
		cancel()
	case <-ctx.Done():
		s.logger.Info("context canceled, shutting down")
	}

	s.logger.Info("waiting for vessels to shut down...")
	s.wg.Wait()

	if err := s.sink.Close(); err != nil {
		s.logger.Error("failed to close MQ client", "error", err)
		return fmt.Errorf("failed to close mq client: %w", err)
	}

	s.logger.Info("simulator stopped")
	return nil
}

// seed generates the fleet and writes it to the device listing.
func (s *Simulator) seed(ctx context.Context) ([]*VesselGenerator, error) {
	vessels := make([]*VesselGenerator, 0, s.count)

	for i := 0; i < s.count; i++ {
		seeded, err := NewTrackerDevice()
		if err != nil {
			return nil, fmt.Errorf("failed to generate device: %w", err)
		}

		if err := s.seeder.UpsertDevice(ctx, seeded.Record); err != nil {
			return nil, fmt.Errorf("failed to seed device: %w", err)
		}

		s.logger.Info("seeded device",
			"device_id", seeded.Record.DeviceID,
			"owner_id", seeded.Record.OwnerID,
			"device_type", seeded.Record.DeviceType,
			"active", seeded.Record.IsActive,
		)

		vessels = append(vessels, NewVesselGenerator(seeded.Record, seeded.Latitude, seeded.Longitude))
	}

	return vessels, nil
}

// runVessel publishes one vessel's movement until the context is canceled.
func (s *Simulator) runVessel(ctx context.Context, id int, vessel *VesselGenerator) {
	defer s.wg.Done()

	vesselLogger := s.logger.With(slog.Int("vessel_id", id))
	vesselLogger.Info("vessel started")

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			vesselLogger.Info("vessel shutting down")
			return

		case <-ticker.C:
			sample := vessel.Next(s.interval)

			body, err := json.Marshal(sample)
			if err != nil {
				vesselLogger.Error("failed to marshal sample", "error", err)
				continue
			}

			if err := s.sink.Push(ctx, body); err != nil {
				vesselLogger.Error("failed to publish sample", "error", err)
				continue
			}

			vesselLogger.Debug("sample published",
				"latitude", sample.Latitude,
				"longitude", sample.Longitude,
				"speed", sample.Speed,
			)
		}
	}
}
