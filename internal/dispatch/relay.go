package dispatch

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

// MQRelay delivers command batches to the relay's command queue.
type MQRelay struct {
	logger   *slog.Logger
	mqClient mq.ClientInterface
}

// NewMQRelay creates a relay backed by the given MQ client. The client
// should be bound to the durable command queue.
func NewMQRelay(mqClient mq.ClientInterface, l *slog.Logger) *MQRelay {
	return &MQRelay{logger: l, mqClient: mqClient}
}

// Send implements Relay.
func (r *MQRelay) Send(ctx context.Context, batch fleet.CommandBatch) error {
	body, err := json.Marshal(batch)
	if err != nil {
		return fmt.Errorf("failed to marshal command batch: %w", err)
	}

	if err := r.mqClient.Push(ctx, body); err != nil {
		return fmt.Errorf("failed to publish command batch: %w", err)
	}

	r.logger.Debug("command batch published", "devices", len(batch.Commands))
	return nil
}

// Ensure MQRelay implements Relay.
var _ Relay = (*MQRelay)(nil)

// AckConsumer consumes relay acknowledgements and feeds them to the
// Dispatcher.
type AckConsumer struct {
	logger     *slog.Logger
	mqClient   mq.ClientInterface
	dispatcher *Dispatcher
	done       chan struct{}
}

// AckConsumerConfig holds the configuration for the AckConsumer.
type AckConsumerConfig struct {
	Logger     *slog.Logger
	MQClient   mq.ClientInterface
	Dispatcher *Dispatcher
}

// NewAckConsumer creates a new AckConsumer instance.
func NewAckConsumer(cfg *AckConsumerConfig) (*AckConsumer, error) {
	if cfg == nil {
		return nil, errors.New("ack consumer config cannot be nil")
	}
	if cfg.Logger == nil {
		return nil, errors.New("logger cannot be nil")
	}
	if cfg.MQClient == nil {
		return nil, errors.New("mq client cannot be nil")
	}
	if cfg.Dispatcher == nil {
		return nil, errors.New("dispatcher cannot be nil")
	}

	return &AckConsumer{
		logger:     cfg.Logger,
		mqClient:   cfg.MQClient,
		dispatcher: cfg.Dispatcher,
		done:       make(chan struct{}),
	}, nil
}

// Start begins consuming acknowledgements.
func (c *AckConsumer) Start(ctx context.Context) error {
	c.logger.Info("starting ack consumer")

	deliveries, err := c.mqClient.Consume()
	if err != nil {
		return fmt.Errorf("failed to start consuming: %w", err)
	}

	go c.processMessages(ctx, deliveries)

	return nil
}

func (c *AckConsumer) processMessages(ctx context.Context, deliveries <-chan amqp.Delivery) {
	for {
		select {
		case <-ctx.Done():
			c.logger.Info("context canceled, stopping ack processing")
			close(c.done)
			return

		case delivery, ok := <-deliveries:
			if !ok {
				c.logger.Warn("ack deliveries channel closed")
				close(c.done)
				return
			}

			c.handleDelivery(delivery)
		}
	}
}

func (c *AckConsumer) handleDelivery(delivery amqp.Delivery) {
	var ack fleet.CommandAck
	if err := json.Unmarshal(delivery.Body, &ack); err != nil {
		c.logger.Error("failed to unmarshal command ack", "error", err)
		if ackErr := delivery.Ack(false); ackErr != nil {
			c.logger.Error("failed to ack message", "error", ackErr)
		}
		return
	}

	c.dispatcher.HandleAck(ack)

	if err := delivery.Ack(false); err != nil {
		c.logger.Error("failed to ack message", "error", err)
	}
}

// Stop closes the MQ client and waits for processing to finish.
func (c *AckConsumer) Stop() error {
	c.logger.Info("stopping ack consumer")

	if err := c.mqClient.Close(); err != nil {
		return fmt.Errorf("failed to close mq client: %w", err)
	}

	<-c.done

	c.logger.Info("ack consumer stopped")
	return nil
}
