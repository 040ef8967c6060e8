// Package submission turns uploaded media into pending jobs: it stores the
// media, records the job and hands the job id to the dispatch queue.
package submission

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/cuongbtq/reels-scheduler/internal/blob"
	"github.com/cuongbtq/reels-scheduler/internal/dispatch"
	"github.com/cuongbtq/reels-scheduler/internal/domain"
	"github.com/panjf2000/ants/v2"
)

const (
	DefaultMaxBulkItems  = 50
	DefaultUploadTimeout = 5 * time.Minute
)

// JobStore is the slice of the job record store submission needs
type JobStore interface {
	CreateJob(ctx context.Context, job *domain.Job) error
	DiscardJob(ctx context.Context, jobID string) error
}

// Options tunes the service; zero values fall back to defaults
type Options struct {
	// Location applies to schedule times given without an offset
	Location      *time.Location
	MaxBulkItems  int
	UploadTimeout time.Duration
}

// SingleRequest is one media file scheduled at an explicit time
type SingleRequest struct {
	Account    domain.Account
	Media      Media
	ScheduleAt string
	Caption    string
}

// BulkRequest is a list of media files spread over the daily slots
// starting at StartDate
type BulkRequest struct {
	Account   domain.Account
	Media     []Media
	StartDate string
	Caption   string
}

// BulkResult reports a fully successful bulk submission
type BulkResult struct {
	Created int `json:"created"`
}

// Service is the job submission service
type Service struct {
	jobs          JobStore
	blobs         blob.Store
	queue         dispatch.Publisher
	pool          *ants.Pool
	keys          *KeyGenerator
	location      *time.Location
	maxBulkItems  int
	uploadTimeout time.Duration
	logger        *slog.Logger
}

// NewService creates a submission service. Bulk uploads run on pool.
func NewService(jobs JobStore, blobs blob.Store, queue dispatch.Publisher, pool *ants.Pool, logger *slog.Logger, opts Options) *Service {
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	if opts.MaxBulkItems <= 0 {
		opts.MaxBulkItems = DefaultMaxBulkItems
	}
	if opts.UploadTimeout <= 0 {
		opts.UploadTimeout = DefaultUploadTimeout
	}

	return &Service{
		jobs:          jobs,
		blobs:         blobs,
		queue:         queue,
		pool:          pool,
		keys:          NewKeyGenerator(),
		location:      opts.Location,
		maxBulkItems:  opts.MaxBulkItems,
		uploadTimeout: opts.UploadTimeout,
		logger:        logger,
	}
}

// MaxBulkItems returns the largest accepted bulk submission
func (s *Service) MaxBulkItems() int {
	return s.maxBulkItems
}

// SubmitSingle stores the media, records a pending job and enqueues it.
// The media is fully uploaded before the record exists, and a record whose
// message could not be enqueued is discarded again.
func (s *Service) SubmitSingle(ctx context.Context, req SingleRequest) (*domain.Job, error) {
	if err := req.Account.Validate(); err != nil {
		return nil, err
	}
	if err := req.Media.validate("video"); err != nil {
		return nil, err
	}
	scheduledAt, err := parseField("scheduleAt", req.ScheduleAt, s.location)
	if err != nil {
		return nil, err
	}

	key := s.keys.Next(req.Media.Filename)
	if err := s.upload(ctx, key, req.Media); err != nil {
		return nil, domain.StorageError("upload media", err)
	}

	job, err := s.createAndEnqueue(ctx, req.Account, key, req.Caption, scheduledAt)
	if err != nil {
		return nil, err
	}

	return job, nil
}

// SubmitBulk schedules every media item on the daily slot rotation. All
// uploads finish before any record is written. A failure while recording
// or enqueueing aborts the rest and reports no count, even though earlier
// items were already created.
func (s *Service) SubmitBulk(ctx context.Context, req BulkRequest) (*BulkResult, error) {
	if err := req.Account.Validate(); err != nil {
		return nil, err
	}
	if len(req.Media) == 0 {
		return nil, domain.NewValidationError("videos", "at least one file is required")
	}
	if len(req.Media) > s.maxBulkItems {
		return nil, domain.NewValidationError("videos", fmt.Sprintf("at most %d files are allowed", s.maxBulkItems))
	}
	for i, m := range req.Media {
		if err := m.validate(fmt.Sprintf("videos[%d]", i)); err != nil {
			return nil, err
		}
	}
	start, err := parseField("startDate", req.StartDate, s.location)
	if err != nil {
		return nil, err
	}

	slots := ScheduleSlots(start, len(req.Media))
	keys := make([]string, len(req.Media))
	for i, m := range req.Media {
		keys[i] = s.keys.Next(m.Filename)
	}

	if err := s.uploadAll(ctx, req.Media, keys); err != nil {
		return nil, domain.StorageError("upload media", err)
	}

	for i := range req.Media {
		if _, err := s.createAndEnqueue(ctx, req.Account, keys[i], req.Caption, slots[i]); err != nil {
			s.logger.Error("Bulk submission aborted",
				slog.Int("item", i),
				slog.Int("total", len(req.Media)),
				slog.String("account_id", req.Account.AccountID),
				slog.String("error", err.Error()),
			)
			return nil, err
		}
	}

	s.logger.Info("Bulk submission completed",
		slog.String("account_id", req.Account.AccountID),
		slog.Int("created", len(req.Media)),
		slog.Time("start", start),
	)

	return &BulkResult{Created: len(req.Media)}, nil
}

func (s *Service) createAndEnqueue(ctx context.Context, account domain.Account, key, caption string, scheduledAt time.Time) (*domain.Job, error) {
	job := &domain.Job{
		AccountID:   account.AccountID,
		Username:    account.Username,
		AccessToken: account.AccessToken,
		MediaKey:    key,
		Caption:     caption,
		ScheduledAt: scheduledAt,
	}

	if err := s.jobs.CreateJob(ctx, job); err != nil {
		if errors.Is(err, domain.ErrStorage) {
			return nil, err
		}
		return nil, domain.StorageError("create job", err)
	}

	if err := s.queue.Publish(ctx, domain.Message{JobID: job.ID}); err != nil {
		s.discard(ctx, job.ID)
		return nil, domain.QueueError("enqueue job", err)
	}

	s.logger.Info("Job submitted",
		slog.String("job_id", job.ID),
		slog.String("account_id", job.AccountID),
		slog.String("media_key", job.MediaKey),
		slog.Time("scheduled_at", job.ScheduledAt),
	)

	return job, nil
}

// discard removes a job whose message never reached the queue, so no
// record is left stuck at pending
func (s *Service) discard(ctx context.Context, jobID string) {
	ctx = context.WithoutCancel(ctx)
	if err := s.jobs.DiscardJob(ctx, jobID); err != nil {
		s.logger.Error("Failed to discard unqueued job",
			slog.String("job_id", jobID),
			slog.String("error", err.Error()),
		)
		return
	}

	s.logger.Warn("Discarded job after enqueue failure",
		slog.String("job_id", jobID),
	)
}

func (s *Service) upload(ctx context.Context, key string, media Media) error {
	ctx, cancel := context.WithTimeout(ctx, s.uploadTimeout)
	defer cancel()

	body, err := media.Open()
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", media.Filename, err)
	}
	defer body.Close()

	return s.blobs.Put(ctx, key, body, media.contentType())
}

// uploadAll uploads items[i] under keys[i] on the worker pool and returns
// the first failure. Remaining uploads are canceled once one fails.
func (s *Service) uploadAll(parent context.Context, items []Media, keys []string) error {
	ctx, cancel := context.WithCancel(parent)
	defer cancel()

	var (
		wg       sync.WaitGroup
		once     sync.Once
		firstErr error
	)
	fail := func(err error) {
		once.Do(func() {
			firstErr = err
			cancel()
		})
	}

	for i := range items {
		wg.Add(1)
		err := s.pool.Submit(func() {
			defer wg.Done()
			if ctx.Err() != nil {
				return
			}
			if err := s.upload(ctx, keys[i], items[i]); err != nil {
				fail(fmt.Errorf("item %d: %w", i, err))
			}
		})
		if err != nil {
			wg.Done()
			fail(fmt.Errorf("failed to schedule upload: %w", err))
			break
		}
	}

	wg.Wait()
	if firstErr == nil && parent.Err() != nil {
		return parent.Err()
	}
	return firstErr
}
