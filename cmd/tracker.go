package main

import (
	"context"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"fleetwatch.dev/fleetwatch/internal/tracker"
	"fleetwatch.dev/fleetwatch/pkg/metrics"
)

var trackerCmd = &cobra.Command{
	Use:   "tracker",
	Short: "Run the tracker server",
	Long: `Run the tracker server that:
- Consumes location samples from RabbitMQ into per-owner trails
- Refreshes the device registry from PostgreSQL
- Dispatches device commands to the hardware relay and consumes acks
- Serves the HTTP query/command API and Prometheus metrics`,
	RunE: runTracker,
}

func init() {
	rootCmd.AddCommand(trackerCmd)

	// Tracker-specific flags
	trackerCmd.Flags().String("db-host", "localhost", "PostgreSQL host")
	trackerCmd.Flags().Int("db-port", 5432, "PostgreSQL port")
	trackerCmd.Flags().String("db-user", "postgres", "PostgreSQL user")
	trackerCmd.Flags().String("db-password", "", "PostgreSQL password")
	trackerCmd.Flags().String("db-name", "fleetwatch", "PostgreSQL database name")
	trackerCmd.Flags().String("db-sslmode", "disable", "PostgreSQL SSL mode")
	trackerCmd.Flags().String("rabbitmq-url", "amqp://localhost:5672", "RabbitMQ URL")
	trackerCmd.Flags().String("telemetry-queue", "fleet-telemetry", "RabbitMQ queue name for location samples")
	trackerCmd.Flags().String("command-queue", "fleet-commands", "RabbitMQ queue name for relay command batches")
	trackerCmd.Flags().String("ack-queue", "fleet-acks", "RabbitMQ queue name for relay acknowledgements")
	trackerCmd.Flags().Int("http-port", 8080, "HTTP API port")
	trackerCmd.Flags().Duration("refresh-interval", time.Minute, "Device registry refresh interval")

	// Bind flags to viper
	_ = viper.BindPFlag("tracker.db.host", trackerCmd.Flags().Lookup("db-host"))
	_ = viper.BindPFlag("tracker.db.port", trackerCmd.Flags().Lookup("db-port"))
	_ = viper.BindPFlag("tracker.db.user", trackerCmd.Flags().Lookup("db-user"))
	_ = viper.BindPFlag("tracker.db.password", trackerCmd.Flags().Lookup("db-password"))
	_ = viper.BindPFlag("tracker.db.name", trackerCmd.Flags().Lookup("db-name"))
	_ = viper.BindPFlag("tracker.db.sslmode", trackerCmd.Flags().Lookup("db-sslmode"))
	_ = viper.BindPFlag("tracker.rabbitmq.url", trackerCmd.Flags().Lookup("rabbitmq-url"))
	_ = viper.BindPFlag("tracker.rabbitmq.telemetry_queue", trackerCmd.Flags().Lookup("telemetry-queue"))
	_ = viper.BindPFlag("tracker.rabbitmq.command_queue", trackerCmd.Flags().Lookup("command-queue"))
	_ = viper.BindPFlag("tracker.rabbitmq.ack_queue", trackerCmd.Flags().Lookup("ack-queue"))
	_ = viper.BindPFlag("tracker.http.port", trackerCmd.Flags().Lookup("http-port"))
	_ = viper.BindPFlag("tracker.refresh_interval", trackerCmd.Flags().Lookup("refresh-interval"))
}

func runTracker(_ *cobra.Command, _ []string) error {
	logger := GetLogger()
	logger.Info("starting tracker service")

	// Create tracker configuration from viper
	config := &tracker.ServerConfig{
		Logger:          logger,
		DBHost:          viper.GetString("tracker.db.host"),
		DBPort:          viper.GetInt("tracker.db.port"),
		DBUser:          viper.GetString("tracker.db.user"),
		DBPassword:      viper.GetString("tracker.db.password"),
		DBName:          viper.GetString("tracker.db.name"),
		DBSSLMode:       viper.GetString("tracker.db.sslmode"),
		RabbitMQURL:     viper.GetString("tracker.rabbitmq.url"),
		TelemetryQueue:  viper.GetString("tracker.rabbitmq.telemetry_queue"),
		CommandQueue:    viper.GetString("tracker.rabbitmq.command_queue"),
		AckQueue:        viper.GetString("tracker.rabbitmq.ack_queue"),
		HTTPPort:        viper.GetInt("tracker.http.port"),
		RefreshInterval: viper.GetDuration("tracker.refresh_interval"),
		Metrics:         metrics.NewTrackerMetrics("fleetwatch"),
		DispatchMetrics: metrics.NewDispatchMetrics("fleetwatch"),
		MQMetrics:       metrics.NewMQMetrics("fleetwatch"),
	}

	// Create and run server
	server, err := tracker.NewServer(config)
	if err != nil {
		logger.Error("failed to create tracker server", "error", err)
		return err
	}

	logger.Info("tracker server configuration",
		"db_host", config.DBHost,
		"db_port", config.DBPort,
		"db_name", config.DBName,
		"rabbitmq_url", config.RabbitMQURL,
		"telemetry_queue", config.TelemetryQueue,
		"command_queue", config.CommandQueue,
		"ack_queue", config.AckQueue,
		"http_port", config.HTTPPort,
		"refresh_interval", config.RefreshInterval,
	)

	if err := server.Run(context.Background()); err != nil {
		logger.Error("tracker server error", "error", err)
		return err
	}

	logger.Info("tracker server stopped")
	return nil
}
