// Package worker consumes dispatch messages and publishes each job through
// the upstream two-phase protocol.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/cuongbtq/reels-scheduler/internal/dispatch"
	"github.com/cuongbtq/reels-scheduler/internal/domain"
	"github.com/cuongbtq/reels-scheduler/internal/graph"
)

const (
	DefaultConcurrency  = 4
	DefaultJobTimeout   = 5 * time.Minute
	DefaultStoreTimeout = 10 * time.Second
)

// ErrConsumerClosed is returned by Start when the delivery stream ends
// while the worker is still meant to be running
var ErrConsumerClosed = errors.New("delivery channel closed")

// JobStore is the slice of the job record store the worker needs
type JobStore interface {
	GetJob(ctx context.Context, jobID string) (*domain.Job, error)
	ClaimJob(ctx context.Context, jobID string, resume bool) (*domain.Job, error)
	SetCreationID(ctx context.Context, jobID, creationID string) error
	UpdateStatus(ctx context.Context, jobID string, status domain.JobStatus) error
}

// Publisher is the upstream two-phase publish protocol
type Publisher interface {
	CreateMedia(ctx context.Context, accountID string, media graph.MediaContainer, accessToken string) (string, error)
	PublishMedia(ctx context.Context, accountID, creationID, accessToken string) (string, error)
}

// Config holds worker configuration
type Config struct {
	Logger    *slog.Logger
	Store     JobStore
	Consumer  dispatch.Consumer
	Publisher Publisher

	// MediaBaseURL is the public origin serving /media/<key>
	MediaBaseURL string
	WorkerID     string
	Concurrency  int
	JobTimeout   time.Duration
	StoreTimeout time.Duration
}

// Worker represents the background publish worker
type Worker struct {
	logger       *slog.Logger
	store        JobStore
	consumer     dispatch.Consumer
	publisher    Publisher
	mediaBaseURL string
	workerID     string
	concurrency  int
	jobTimeout   time.Duration
	storeTimeout time.Duration
	jobsChan     chan *jobMessage
	wg           sync.WaitGroup
	stopChan     chan struct{}
	stopOnce     sync.Once
}

type jobMessage struct {
	JobID    string
	Delivery dispatch.Delivery
}

// NewWorker creates a new worker instance
func NewWorker(cfg *Config) *Worker {
	concurrency := cfg.Concurrency
	if concurrency <= 0 {
		concurrency = DefaultConcurrency
	}
	jobTimeout := cfg.JobTimeout
	if jobTimeout <= 0 {
		jobTimeout = DefaultJobTimeout
	}
	storeTimeout := cfg.StoreTimeout
	if storeTimeout <= 0 {
		storeTimeout = DefaultStoreTimeout
	}

	return &Worker{
		logger:       cfg.Logger,
		store:        cfg.Store,
		consumer:     cfg.Consumer,
		publisher:    cfg.Publisher,
		mediaBaseURL: cfg.MediaBaseURL,
		workerID:     cfg.WorkerID,
		concurrency:  concurrency,
		jobTimeout:   jobTimeout,
		storeTimeout: storeTimeout,
		jobsChan:     make(chan *jobMessage),
		stopChan:     make(chan struct{}),
	}
}

// Start consumes deliveries and processes them on the worker pool. It
// blocks until ctx is canceled or the consumer stops delivering.
func (w *Worker) Start(ctx context.Context) error {
	w.logger.Info("Starting worker",
		slog.String("worker_id", w.workerID),
		slog.Int("concurrency", w.concurrency),
		slog.Duration("job_timeout", w.jobTimeout),
	)

	deliveries, err := w.consumer.Consume(ctx, w.workerID)
	if err != nil {
		return fmt.Errorf("failed to start consumer: %w", err)
	}

	w.spawnWorkerPool(ctx)

	return w.startMessageDispatcher(ctx, deliveries)
}

// Stop signals the pool to exit and waits for in-flight jobs
func (w *Worker) Stop() {
	w.logger.Info("Stopping worker...")
	w.stopOnce.Do(func() { close(w.stopChan) })
	w.wg.Wait()
	w.logger.Info("Worker stopped")
}
