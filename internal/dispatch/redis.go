package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cuongbtq/reels-scheduler/internal/domain"
	"github.com/go-redis/redis/v8"
)

// RedisConfig holds redis queue settings
type RedisConfig struct {
	Addr         string
	Password     string
	DB           int
	QueueName    string
	BlockTimeout time.Duration
	RetryBackoff time.Duration
	AckTimeout   time.Duration
}

// Redis is a reliable list queue. Consumers move each message from the
// pending list into their own processing list and remove it on ack, so a
// crashed consumer's messages are replayed when it starts again.
type Redis struct {
	client       *redis.Client
	queue        string
	blockTimeout time.Duration
	retryBackoff time.Duration
	ackTimeout   time.Duration
	logger       *slog.Logger
}

// envelope is the list entry. Deliveries counts how often the message was
// handed out and requeued, so a requeued message arrives redelivered.
type envelope struct {
	Deliveries int    `json:"deliveries"`
	Body       []byte `json:"body"`
}

// NewRedis connects to redis and verifies the connection
func NewRedis(ctx context.Context, cfg *RedisConfig, logger *slog.Logger) (*Redis, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	blockTimeout := cfg.BlockTimeout
	if blockTimeout <= 0 {
		blockTimeout = 5 * time.Second
	}
	retryBackoff := cfg.RetryBackoff
	if retryBackoff <= 0 {
		retryBackoff = time.Second
	}
	ackTimeout := cfg.AckTimeout
	if ackTimeout <= 0 {
		ackTimeout = 5 * time.Second
	}

	logger.Info("Redis queue initialized",
		slog.String("addr", cfg.Addr),
		slog.String("queue", cfg.QueueName),
	)

	return &Redis{
		client:       client,
		queue:        cfg.QueueName,
		blockTimeout: blockTimeout,
		retryBackoff: retryBackoff,
		ackTimeout:   ackTimeout,
		logger:       logger,
	}, nil
}

func (r *Redis) pendingKey() string {
	return r.queue + ":pending"
}

func (r *Redis) processingKey(consumerTag string) string {
	return r.queue + ":processing:" + consumerTag
}

func (r *Redis) deadLetterKey() string {
	return r.queue + ":dead"
}

// Publish pushes msg onto the pending list
func (r *Redis) Publish(ctx context.Context, msg domain.Message) error {
	body, err := msg.Encode()
	if err != nil {
		return fmt.Errorf("failed to encode message: %w", err)
	}
	entry, err := json.Marshal(envelope{Body: body})
	if err != nil {
		return fmt.Errorf("failed to encode envelope: %w", err)
	}
	if err := r.client.LPush(ctx, r.pendingKey(), entry).Err(); err != nil {
		return fmt.Errorf("failed to push message: %w", err)
	}
	return nil
}

// Consume replays this consumer's unacknowledged messages, then blocks on the
// pending list
func (r *Redis) Consume(ctx context.Context, consumerTag string) (<-chan Delivery, error) {
	processing := r.processingKey(consumerTag)

	leftovers, err := r.client.LRange(ctx, processing, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read processing list: %w", err)
	}

	out := make(chan Delivery)
	go func() {
		defer close(out)

		// Oldest entries sit at the tail of the list
		for i := len(leftovers) - 1; i >= 0; i-- {
			if !r.emit(ctx, out, processing, leftovers[i], true) {
				return
			}
		}
		if len(leftovers) > 0 {
			r.logger.Info("Replayed unacknowledged messages",
				slog.String("consumer_tag", consumerTag),
				slog.Int("count", len(leftovers)),
			)
		}

		for ctx.Err() == nil {
			body, err := r.client.BRPopLPush(ctx, r.pendingKey(), processing, r.blockTimeout).Result()
			if errors.Is(err, redis.Nil) {
				continue
			}
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				r.logger.Error("Failed to pop message from redis",
					slog.String("error", err.Error()),
				)
				select {
				case <-time.After(r.retryBackoff):
				case <-ctx.Done():
					return
				}
				continue
			}

			if !r.emit(ctx, out, processing, body, false) {
				return
			}
		}
	}()

	return out, nil
}

func (r *Redis) emit(ctx context.Context, out chan<- Delivery, processing, entry string, replayed bool) bool {
	var env envelope
	if err := json.Unmarshal([]byte(entry), &env); err != nil || env.Body == nil {
		// Not ours; hand it over raw so the consumer rejects it
		env = envelope{Body: []byte(entry)}
	}

	delivery := Delivery{
		Body:        env.Body,
		Redelivered: replayed || env.Deliveries > 0,
		Acknowledger: &redisAcknowledger{
			client:     r.client,
			timeout:    r.ackTimeout,
			processing: processing,
			pending:    r.pendingKey(),
			dead:       r.deadLetterKey(),
			entry:      entry,
			envelope:   env,
		},
	}

	select {
	case out <- delivery:
		return true
	case <-ctx.Done():
		// Left in the processing list; replayed on next start
		return false
	}
}

// Close closes the redis connection
func (r *Redis) Close() error {
	return r.client.Close()
}

type redisAcknowledger struct {
	client     *redis.Client
	timeout    time.Duration
	processing string
	pending    string
	dead       string
	entry      string
	envelope   envelope
}

func (a *redisAcknowledger) Ack() error {
	ctx, cancel := context.WithTimeout(context.Background(), a.timeout)
	defer cancel()
	return a.client.LRem(ctx, a.processing, 1, a.entry).Err()
}

func (a *redisAcknowledger) Nack(requeue bool) error {
	next := a.envelope
	next.Deliveries++
	requeued, err := json.Marshal(next)
	if err != nil {
		return fmt.Errorf("failed to encode envelope: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), a.timeout)
	defer cancel()

	_, err = a.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.LRem(ctx, a.processing, 1, a.entry)
		if requeue {
			// Tail of pending is popped next
			pipe.RPush(ctx, a.pending, requeued)
		} else {
			pipe.LPush(ctx, a.dead, a.entry)
		}
		return nil
	})
	return err
}
