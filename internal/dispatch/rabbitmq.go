package dispatch

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/cuongbtq/reels-scheduler/internal/domain"
	"github.com/cuongbtq/reels-scheduler/shared/rabbitmq"
	amqp "github.com/rabbitmq/amqp091-go"
)

// RabbitMQ publishes and consumes dispatch messages through a durable queue
type RabbitMQ struct {
	client        *rabbitmq.Client
	prefetchCount int
	logger        *slog.Logger
}

// NewRabbitMQ wraps an initialized client
func NewRabbitMQ(client *rabbitmq.Client, prefetchCount int, logger *slog.Logger) *RabbitMQ {
	return &RabbitMQ{
		client:        client,
		prefetchCount: prefetchCount,
		logger:        logger,
	}
}

// Publish sends msg as a persistent JSON message
func (r *RabbitMQ) Publish(ctx context.Context, msg domain.Message) error {
	body, err := msg.Encode()
	if err != nil {
		return fmt.Errorf("failed to encode message: %w", err)
	}
	return r.client.PublishWithRetry(ctx, rabbitmq.Message{
		ID:          msg.JobID,
		ContentType: "application/json",
		Body:        body,
	})
}

// Consume sets QoS and starts a manual-ack consumer
func (r *RabbitMQ) Consume(ctx context.Context, consumerTag string) (<-chan Delivery, error) {
	if r.prefetchCount > 0 {
		if err := r.client.Qos(r.prefetchCount); err != nil {
			return nil, err
		}
	}

	deliveries, err := r.client.Consume(consumerTag)
	if err != nil {
		return nil, fmt.Errorf("failed to start consuming: %w", err)
	}

	out := make(chan Delivery)
	go func() {
		defer close(out)

		for {
			select {
			case <-ctx.Done():
				return

			case closeErr := <-r.client.NotifyClose():
				r.logger.Warn("RabbitMQ channel closed",
					slog.Any("error", closeErr),
				)
				return

			case d, ok := <-deliveries:
				if !ok {
					r.logger.Warn("RabbitMQ delivery channel closed")
					return
				}

				delivery := Delivery{
					Body:         d.Body,
					Redelivered:  d.Redelivered,
					Acknowledger: amqpAcknowledger{delivery: d},
				}

				select {
				case out <- delivery:
				case <-ctx.Done():
					// Unacked, so the broker hands it to another consumer
					if err := d.Nack(false, true); err != nil {
						r.logger.Error("Failed to NACK message on shutdown",
							slog.String("error", err.Error()),
						)
					}
					return
				}
			}
		}
	}()

	return out, nil
}

type amqpAcknowledger struct {
	delivery amqp.Delivery
}

func (a amqpAcknowledger) Ack() error {
	return a.delivery.Ack(false)
}

func (a amqpAcknowledger) Nack(requeue bool) error {
	return a.delivery.Nack(false, requeue)
}
