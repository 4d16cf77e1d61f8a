package trail

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	amqp "github.com/rabbitmq/amqp091-go"

	"fleetwatch.dev/fleetwatch/pkg/fleet"
	"fleetwatch.dev/fleetwatch/pkg/mq"
)

// SampleStore persists ingested samples for history queries. The archive
// implements it; the consumer works without one.
type SampleStore interface {
	SaveSample(ctx context.Context, sample fleet.LocationSample) error
}

// Consumer consumes location samples from the telemetry queue and feeds
// them to the Aggregator, optionally mirroring them to a SampleStore.
type Consumer struct {
	logger     *slog.Logger
	mqClient   mq.ClientInterface
	aggregator *Aggregator
	store      SampleStore
	done       chan struct{}
}

// ConsumerConfig holds the configuration for the Consumer.
type ConsumerConfig struct {
	Logger     *slog.Logger
	MQClient   mq.ClientInterface
	Aggregator *Aggregator
	// Store is optional; nil disables persistence.
	Store SampleStore
}

// NewConsumer creates a new Consumer instance.
func NewConsumer(cfg *ConsumerConfig) (*Consumer, error) {
	if cfg == nil {
		return nil, errors.New("consumer config cannot be nil")
	}
	if cfg.Logger == nil {
		return nil, errors.New("logger cannot be nil")
	}
	if cfg.MQClient == nil {
		return nil, errors.New("mq client cannot be nil")
	}
	if cfg.Aggregator == nil {
		return nil, errors.New("aggregator cannot be nil")
	}

	return &Consumer{
		logger:     cfg.Logger,
		mqClient:   cfg.MQClient,
		aggregator: cfg.Aggregator,
		store:      cfg.Store,
		done:       make(chan struct{}),
	}, nil
}

// Start begins consuming telemetry messages.
func (c *Consumer) Start(ctx context.Context) error {
	c.logger.Info("starting telemetry consumer")

	deliveries, err := c.mqClient.Consume()
	if err != nil {
		return fmt.Errorf("failed to start consuming: %w", err)
	}

	c.logger.Info("telemetry consumer started, waiting for samples")

	go c.processMessages(ctx, deliveries)

	return nil
}

// processMessages processes incoming messages from the deliveries channel.
func (c *Consumer) processMessages(ctx context.Context, deliveries <-chan amqp.Delivery) {
	for {
		select {
		case <-ctx.Done():
			c.logger.Info("context canceled, stopping telemetry processing")
			close(c.done)
			return

		case delivery, ok := <-deliveries:
			if !ok {
				c.logger.Warn("telemetry deliveries channel closed")
				close(c.done)
				return
			}

			c.handleDelivery(ctx, delivery)
		}
	}
}

// handleDelivery processes a single telemetry delivery.
func (c *Consumer) handleDelivery(ctx context.Context, delivery amqp.Delivery) {
	var sample fleet.LocationSample
	if err := json.Unmarshal(delivery.Body, &sample); err != nil {
		c.logger.Error("failed to unmarshal location sample", "error", err)
		// Acknowledge malformed messages to avoid reprocessing them forever.
		if ackErr := delivery.Ack(false); ackErr != nil {
			c.logger.Error("failed to ack message", "error", ackErr)
		}
		return
	}

	if err := c.aggregator.Ingest(sample); err != nil {
		c.logger.Error("failed to ingest sample",
			"owner_id", sample.OwnerID,
			"error", err,
		)
		// Ingest only rejects samples that can never succeed; ack them.
		if ackErr := delivery.Ack(false); ackErr != nil {
			c.logger.Error("failed to ack message", "error", ackErr)
		}
		return
	}

	if c.store != nil {
		if err := c.store.SaveSample(ctx, sample); err != nil {
			c.logger.Error("failed to persist sample",
				"owner_id", sample.OwnerID,
				"error", err,
			)
			// Nack so the sample can be reprocessed; the aggregator ingest
			// above is idempotent on redelivery.
			if nackErr := delivery.Nack(false, true); nackErr != nil {
				c.logger.Error("failed to nack message", "error", nackErr)
			}
			return
		}
	}

	if err := delivery.Ack(false); err != nil {
		c.logger.Error("failed to ack message", "error", err)
		return
	}

	c.logger.Debug("sample ingested",
		"owner_id", sample.OwnerID,
		"timestamp", sample.Timestamp,
	)
}

// Stop closes the MQ client and waits for message processing to finish.
func (c *Consumer) Stop() error {
	c.logger.Info("stopping telemetry consumer")

	if err := c.mqClient.Close(); err != nil {
		return fmt.Errorf("failed to close mq client: %w", err)
	}

	<-c.done

	c.logger.Info("telemetry consumer stopped")
	return nil
}
