package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"fleetwatch.dev/fleetwatch/internal/sampler"
	"fleetwatch.dev/fleetwatch/pkg/fleet"
	"fleetwatch.dev/fleetwatch/pkg/logger"
	"fleetwatch.dev/fleetwatch/pkg/mq"
	"fleetwatch.dev/fleetwatch/pkg/simulate"
)

var samplerCmd = &cobra.Command{
	Use:   "sampler",
	Short: "Run the location sampler",
	Long: `Run the location sampler that:
- Obtains the local vessel's position on a fixed cadence
- Publishes location samples to RabbitMQ
- Skips ticks while an attempt is still in flight`,
	RunE: runSampler,
}

func init() {
	rootCmd.AddCommand(samplerCmd)

	// Sampler-specific flags
	samplerCmd.Flags().String("rabbitmq-url", "amqp://localhost:5672", "RabbitMQ URL")
	samplerCmd.Flags().String("telemetry-queue", "fleet-telemetry", "RabbitMQ queue name for location samples")
	samplerCmd.Flags().String("owner-id", "", "Owner id of the local vessel (required)")
	samplerCmd.Flags().Duration("interval", 30*time.Second, "Interval between sampling attempts")
	samplerCmd.Flags().Float64("start-latitude", 63.4305, "Start latitude for the simulated position provider")
	samplerCmd.Flags().Float64("start-longitude", 10.3951, "Start longitude for the simulated position provider")

	// Bind flags to viper
	_ = viper.BindPFlag("sampler.rabbitmq.url", samplerCmd.Flags().Lookup("rabbitmq-url"))
	_ = viper.BindPFlag("sampler.rabbitmq.telemetry_queue", samplerCmd.Flags().Lookup("telemetry-queue"))
	_ = viper.BindPFlag("sampler.owner_id", samplerCmd.Flags().Lookup("owner-id"))
	_ = viper.BindPFlag("sampler.interval", samplerCmd.Flags().Lookup("interval"))
	_ = viper.BindPFlag("sampler.start_latitude", samplerCmd.Flags().Lookup("start-latitude"))
	_ = viper.BindPFlag("sampler.start_longitude", samplerCmd.Flags().Lookup("start-longitude"))
}

func runSampler(_ *cobra.Command, _ []string) error {
	log := GetLogger()
	log.Info("starting sampler service")

	ownerID := viper.GetString("sampler.owner_id")
	interval := viper.GetDuration("sampler.interval")

	sink := mq.New(
		viper.GetString("sampler.rabbitmq.telemetry_queue"),
		viper.GetString("sampler.rabbitmq.url"),
		logger.Component(log, "telemetry-mq-client"),
	)

	// There is no GPS hardware to talk to here; the provider walks a
	// plausible track from the configured start position.
	vessel := simulate.NewVesselGenerator(
		fleet.DeviceRecord{OwnerID: ownerID},
		viper.GetFloat64("sampler.start_latitude"),
		viper.GetFloat64("sampler.start_longitude"),
	)
	provider := sampler.ProviderFunc(func(_ context.Context) (sampler.Position, error) {
		s := vessel.Next(interval)
		return sampler.Position{
			Latitude:  s.Latitude,
			Longitude: s.Longitude,
			Speed:     s.Speed,
			Heading:   s.Heading,
			Accuracy:  s.Accuracy,
		}, nil
	})

	s, err := sampler.New(&sampler.Config{
		Logger:   log,
		Provider: provider,
		Sink:     sink,
		OwnerID:  ownerID,
		Interval: interval,
	})
	if err != nil {
		log.Error("failed to create sampler", "error", err)
		return err
	}

	log.Info("sampler configuration",
		"owner_id", ownerID,
		"interval", interval,
		"rabbitmq_url", viper.GetString("sampler.rabbitmq.url"),
		"telemetry_queue", viper.GetString("sampler.rabbitmq.telemetry_queue"),
	)

	if err := s.Start(context.Background()); err != nil {
		log.Error("failed to start sampler", "error", err)
		return err
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM, syscall.SIGINT)
	sig := <-sigChan
	log.Info("received shutdown signal", "signal", sig.String())

	s.Stop()
	if err := sink.Close(); err != nil {
		log.Error("failed to close MQ client", "error", err)
		return err
	}

	log.Info("sampler stopped")
	return nil
}
