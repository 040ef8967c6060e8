// Package dispatch carries job references from submission to the publish
// worker. Delivery is at-least-once: consumers see duplicates, out-of-order
// messages and messages for jobs that no longer exist.
package dispatch

import (
	"context"

	"github.com/cuongbtq/reels-scheduler/internal/domain"
)

// Supported queue drivers
const (
	DriverRabbitMQ = "rabbitmq"
	DriverRedis    = "redis"
)

// Publisher enqueues dispatch messages
type Publisher interface {
	Publish(ctx context.Context, msg domain.Message) error
}

// Consumer streams deliveries until ctx is canceled or the broker goes away,
// then closes the returned channel.
type Consumer interface {
	Consume(ctx context.Context, consumerTag string) (<-chan Delivery, error)
}

// Acknowledger settles a single delivery
type Acknowledger interface {
	Ack() error
	Nack(requeue bool) error
}

// Delivery is one message handed to a consumer
type Delivery struct {
	Body        []byte
	Redelivered bool
	Acknowledger
}
