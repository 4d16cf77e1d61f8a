// Package tracker runs the fleet tracking backend: telemetry ingest into
// per-owner trails, the device registry refresh loop, command dispatch to
// the hardware relay, and the HTTP query/command API.
package tracker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"gorm.io/gorm"

	"fleetwatch.dev/fleetwatch/internal/archive"
	"fleetwatch.dev/fleetwatch/internal/dispatch"
	"fleetwatch.dev/fleetwatch/internal/registry"
	"fleetwatch.dev/fleetwatch/internal/trail"
	"fleetwatch.dev/fleetwatch/pkg/metrics"
	"fleetwatch.dev/fleetwatch/pkg/mq"
)

// DefaultRefreshInterval is the cadence of device registry refreshes.
const DefaultRefreshInterval = time.Minute

// ServerConfig holds the configuration for the tracker Server.
type ServerConfig struct {
	Logger *slog.Logger

	// Database configuration
	DBHost     string
	DBUser     string
	DBPassword string
	DBName     string
	DBSSLMode  string
	DBPort     int

	// RabbitMQ configuration
	RabbitMQURL    string
	TelemetryQueue string
	CommandQueue   string
	AckQueue       string

	// HTTP configuration
	HTTPPort int

	// RefreshInterval is the registry refresh cadence (DefaultRefreshInterval if <= 0).
	RefreshInterval time.Duration

	// Optional Prometheus metrics collectors.
	Metrics         *metrics.TrackerMetrics
	DispatchMetrics *metrics.DispatchMetrics
	MQMetrics       *metrics.MQMetrics
}

// Server wires the tracker's components together and manages their
// lifecycle.
type Server struct {
	logger     *slog.Logger
	config     *ServerConfig
	metrics    *metrics.TrackerMetrics
	db         *gorm.DB
	store      *archive.Store
	registry   *registry.Registry
	trails     *trail.Aggregator
	consumer   *trail.Consumer
	dispatcher *dispatch.Dispatcher
	relay      *dispatch.MQRelay
	acks       *dispatch.AckConsumer
	relayMQ    *mq.Client
	httpServer *http.Server

	refreshDone chan struct{}
}

// NewServer creates a new tracker Server instance.
func NewServer(cfg *ServerConfig) (*Server, error) {
	if cfg == nil {
		return nil, errors.New("server config cannot be nil")
	}
	if cfg.Logger == nil {
		return nil, errors.New("logger cannot be nil")
	}
	if cfg.RabbitMQURL == "" {
		return nil, errors.New("rabbitmq URL cannot be empty")
	}
	if cfg.TelemetryQueue == "" {
		return nil, errors.New("telemetry queue name cannot be empty")
	}
	if cfg.CommandQueue == "" {
		return nil, errors.New("command queue name cannot be empty")
	}
	if cfg.AckQueue == "" {
		return nil, errors.New("ack queue name cannot be empty")
	}
	if cfg.DBHost == "" {
		return nil, errors.New("database host cannot be empty")
	}
	if cfg.DBPort <= 0 {
		return nil, errors.New("database port must be positive")
	}
	if cfg.DBUser == "" {
		return nil, errors.New("database user cannot be empty")
	}
	if cfg.DBName == "" {
		return nil, errors.New("database name cannot be empty")
	}
	if cfg.HTTPPort <= 0 {
		return nil, errors.New("HTTP port must be positive")
	}

	if cfg.RefreshInterval <= 0 {
		cfg.RefreshInterval = DefaultRefreshInterval
	}

	return &Server{
		logger:  cfg.Logger,
		config:  cfg,
		metrics: cfg.Metrics,
	}, nil
}

// Run starts the tracker and blocks until shutdown.
func (s *Server) Run(ctx context.Context) error {
	s.logger.Info("starting tracker server")

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM, syscall.SIGINT)

	// Database and persistence layer.
	db, err := archive.NewDB(&archive.DBConfig{
		Logger:   s.logger,
		Host:     s.config.DBHost,
		Port:     s.config.DBPort,
		User:     s.config.DBUser,
		Password: s.config.DBPassword,
		DBName:   s.config.DBName,
		SSLMode:  s.config.DBSSLMode,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	s.db = db

	store, err := archive.NewStore(db, s.logger)
	if err != nil {
		return fmt.Errorf("failed to initialize store: %w", err)
	}
	s.store = store

	// Device registry, fed from the archived device listing.
	reg, err := registry.New(&registry.Config{
		Logger:  s.logger,
		Fetcher: store,
		Metrics: s.metrics,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize registry: %w", err)
	}
	s.registry = reg

	if err := s.registry.Refresh(ctx); err != nil {
		// The registry starts empty and the loop below keeps retrying.
		s.logger.Error("initial registry refresh failed", "error", err)
	}
	s.refreshDone = make(chan struct{})
	go s.runRefreshLoop(ctx)

	// Trail aggregation from the telemetry queue.
	s.trails = trail.NewAggregator(trail.Config{Metrics: s.metrics})

	telemetryClient := mq.New(s.config.TelemetryQueue, s.config.RabbitMQURL, s.logger.With(
		slog.String("component", "telemetry-mq-client"),
	))
	if s.config.MQMetrics != nil {
		telemetryClient.SetMetrics(s.config.MQMetrics)
	}

	consumer, err := trail.NewConsumer(&trail.ConsumerConfig{
		Logger:     s.logger,
		MQClient:   telemetryClient,
		Aggregator: s.trails,
		Store:      store,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize telemetry consumer: %w", err)
	}
	s.consumer = consumer

	if err := s.consumer.Start(ctx); err != nil {
		return fmt.Errorf("failed to start telemetry consumer: %w", err)
	}

	// Command dispatch over the durable relay queues.
	s.relayMQ = mq.NewDurable(s.config.CommandQueue, s.config.RabbitMQURL, s.logger.With(
		slog.String("component", "command-mq-client"),
	))
	if s.config.MQMetrics != nil {
		s.relayMQ.SetMetrics(s.config.MQMetrics)
	}
	s.relay = dispatch.NewMQRelay(s.relayMQ, s.logger)

	dispatcher, err := dispatch.New(&dispatch.Config{
		Logger:   s.logger,
		Relay:    s.relay,
		Registry: s.registry,
		Audit:    store,
		Metrics:  s.config.DispatchMetrics,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize dispatcher: %w", err)
	}
	s.dispatcher = dispatcher

	ackClient := mq.NewDurable(s.config.AckQueue, s.config.RabbitMQURL, s.logger.With(
		slog.String("component", "ack-mq-client"),
	))
	if s.config.MQMetrics != nil {
		ackClient.SetMetrics(s.config.MQMetrics)
	}

	acks, err := dispatch.NewAckConsumer(&dispatch.AckConsumerConfig{
		Logger:     s.logger,
		MQClient:   ackClient,
		Dispatcher: dispatcher,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize ack consumer: %w", err)
	}
	s.acks = acks

	if err := s.acks.Start(ctx); err != nil {
		return fmt.Errorf("failed to start ack consumer: %w", err)
	}

	// HTTP API.
	s.httpServer = &http.Server{
		Addr:              fmt.Sprintf(":%d", s.config.HTTPPort),
		Handler:           s.setupRoutes(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	s.logger.Info("starting HTTP server", "address", s.httpServer.Addr)

	httpErr := make(chan error, 1)
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			httpErr <- fmt.Errorf("HTTP server error: %w", err)
		}
		close(httpErr)
	}()

	s.logger.Info("tracker server started successfully")

	select {
	case sig := <-sigChan:
		s.logger.Info("received shutdown signal", "signal", sig.String())
		cancel()
	case <-ctx.Done():
		s.logger.Info("context canceled")
	case err := <-httpErr:
		if err != nil {
			s.logger.Error("HTTP server error", "error", err)
			cancel()
			return err
		}
	}

	return s.Shutdown()
}

// runRefreshLoop refreshes the registry until the context is canceled.
func (s *Server) runRefreshLoop(ctx context.Context) {
	defer close(s.refreshDone)

	ticker := time.NewTicker(s.config.RefreshInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("registry refresh loop shutting down")
			return

		case <-ticker.C:
			if err := s.registry.Refresh(ctx); err != nil {
				s.logger.Error("registry refresh failed", "error", err)
			}
		}
	}
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown() error {
	s.logger.Info("shutting down tracker server")

	var shutdownErr error
	fail := func(err error) {
		if shutdownErr != nil {
			shutdownErr = fmt.Errorf("%w; %w", shutdownErr, err)
		} else {
			shutdownErr = err
		}
	}

	if s.httpServer != nil {
		s.logger.Info("stopping HTTP server")
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if err := s.httpServer.Shutdown(ctx); err != nil {
			s.logger.Error("failed to shutdown HTTP server", "error", err)
			fail(fmt.Errorf("HTTP server shutdown error: %w", err))
		}
		s.logger.Info("HTTP server stopped")
	}

	if s.acks != nil {
		s.logger.Info("stopping ack consumer")
		if err := s.acks.Stop(); err != nil {
			s.logger.Error("failed to stop ack consumer", "error", err)
			fail(fmt.Errorf("ack consumer shutdown error: %w", err))
		}
	}

	if s.relayMQ != nil {
		s.logger.Info("closing command MQ client")
		if err := s.relayMQ.Close(); err != nil {
			s.logger.Error("failed to close command MQ client", "error", err)
			fail(fmt.Errorf("command MQ client close error: %w", err))
		}
	}

	if s.consumer != nil {
		s.logger.Info("stopping telemetry consumer")
		if err := s.consumer.Stop(); err != nil {
			s.logger.Error("failed to stop telemetry consumer", "error", err)
			fail(fmt.Errorf("telemetry consumer shutdown error: %w", err))
		}
	}

	if s.refreshDone != nil {
		<-s.refreshDone
	}

	if s.db != nil {
		if err := archive.CloseDB(s.db, s.logger); err != nil {
			s.logger.Error("failed to close database", "error", err)
			fail(fmt.Errorf("database close error: %w", err))
		}
	}

	if shutdownErr != nil {
		s.logger.Error("tracker server shutdown completed with errors", "error", shutdownErr)
		return shutdownErr
	}

	s.logger.Info("tracker server shutdown completed successfully")
	return nil
}
