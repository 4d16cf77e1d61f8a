package main

import (
	"context"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"fleetwatch.dev/fleetwatch/internal/archive"
	"fleetwatch.dev/fleetwatch/pkg/logger"
	"fleetwatch.dev/fleetwatch/pkg/mq"
	"fleetwatch.dev/fleetwatch/pkg/simulate"
)

var simulateCmd = &cobra.Command{
	Use:   "simulate",
	Short: "Run the fleet simulator",
	Long: `Run the fleet simulator that:
- Seeds fake tracker devices into the device listing
- Streams random-walk vessel movement to RabbitMQ`,
	RunE: runSimulate,
}

func init() {
	rootCmd.AddCommand(simulateCmd)

	// Simulator-specific flags
	simulateCmd.Flags().String("db-host", "localhost", "PostgreSQL host")
	simulateCmd.Flags().Int("db-port", 5432, "PostgreSQL port")
	simulateCmd.Flags().String("db-user", "postgres", "PostgreSQL user")
	simulateCmd.Flags().String("db-password", "", "PostgreSQL password")
	simulateCmd.Flags().String("db-name", "fleetwatch", "PostgreSQL database name")
	simulateCmd.Flags().String("db-sslmode", "disable", "PostgreSQL SSL mode")
	simulateCmd.Flags().String("rabbitmq-url", "amqp://localhost:5672", "RabbitMQ URL")
	simulateCmd.Flags().String("telemetry-queue", "fleet-telemetry", "RabbitMQ queue name for location samples")
	simulateCmd.Flags().Int("vessel-count", 5, "Number of simulated vessels")
	simulateCmd.Flags().Duration("interval", 5*time.Second, "Interval between movement samples per vessel")

	// Bind flags to viper
	_ = viper.BindPFlag("simulate.db.host", simulateCmd.Flags().Lookup("db-host"))
	_ = viper.BindPFlag("simulate.db.port", simulateCmd.Flags().Lookup("db-port"))
	_ = viper.BindPFlag("simulate.db.user", simulateCmd.Flags().Lookup("db-user"))
	_ = viper.BindPFlag("simulate.db.password", simulateCmd.Flags().Lookup("db-password"))
	_ = viper.BindPFlag("simulate.db.name", simulateCmd.Flags().Lookup("db-name"))
	_ = viper.BindPFlag("simulate.db.sslmode", simulateCmd.Flags().Lookup("db-sslmode"))
	_ = viper.BindPFlag("simulate.rabbitmq.url", simulateCmd.Flags().Lookup("rabbitmq-url"))
	_ = viper.BindPFlag("simulate.rabbitmq.telemetry_queue", simulateCmd.Flags().Lookup("telemetry-queue"))
	_ = viper.BindPFlag("simulate.vessel_count", simulateCmd.Flags().Lookup("vessel-count"))
	_ = viper.BindPFlag("simulate.interval", simulateCmd.Flags().Lookup("interval"))
}

func runSimulate(_ *cobra.Command, _ []string) error {
	log := GetLogger()
	log.Info("starting simulator service")

	db, err := archive.NewDB(&archive.DBConfig{
		Logger:   log,
		Host:     viper.GetString("simulate.db.host"),
		Port:     viper.GetInt("simulate.db.port"),
		User:     viper.GetString("simulate.db.user"),
		Password: viper.GetString("simulate.db.password"),
		DBName:   viper.GetString("simulate.db.name"),
		SSLMode:  viper.GetString("simulate.db.sslmode"),
	})
	if err != nil {
		log.Error("failed to initialize database", "error", err)
		return err
	}
	defer func() {
		if err := archive.CloseDB(db, log); err != nil {
			log.Error("failed to close database", "error", err)
		}
	}()

	store, err := archive.NewStore(db, log)
	if err != nil {
		log.Error("failed to initialize store", "error", err)
		return err
	}

	sink := mq.New(
		viper.GetString("simulate.rabbitmq.telemetry_queue"),
		viper.GetString("simulate.rabbitmq.url"),
		logger.Component(log, "telemetry-mq-client"),
	)

	sim, err := simulate.New(&simulate.Config{
		Logger:      log,
		Seeder:      store,
		Sink:        sink,
		VesselCount: viper.GetInt("simulate.vessel_count"),
		Interval:    viper.GetDuration("simulate.interval"),
	})
	if err != nil {
		log.Error("failed to create simulator", "error", err)
		return err
	}

	log.Info("simulator configuration",
		"vessel_count", viper.GetInt("simulate.vessel_count"),
		"interval", viper.GetDuration("simulate.interval"),
		"rabbitmq_url", viper.GetString("simulate.rabbitmq.url"),
		"telemetry_queue", viper.GetString("simulate.rabbitmq.telemetry_queue"),
	)

	if err := sim.Run(context.Background()); err != nil {
		log.Error("simulator error", "error", err)
		return err
	}

	log.Info("simulator stopped")
	return nil
}
