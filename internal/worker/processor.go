package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"runtime/debug"
	"strings"

	"github.com/cuongbtq/reels-scheduler/internal/domain"
	"github.com/cuongbtq/reels-scheduler/internal/graph"
)

// processJob publishes one job. A nil return means the message is settled
// and can be acked: the job reached a terminal status, was already terminal,
// or is owned by another worker. Errors are rejected, and requeued only
// when wrapped in RetryableError.
func (w *Worker) processJob(ctx context.Context, jobID string, redelivered bool) error {
	w.logger.Info("Processing job",
		slog.String("job_id", jobID),
		slog.String("worker_id", w.workerID),
		slog.Bool("redelivered", redelivered),
	)

	// Step 1: Load the job
	job, err := w.loadJob(ctx, jobID)
	if err != nil {
		if errors.Is(err, domain.ErrJobNotFound) {
			w.logger.Error("Dispatch message references a missing job",
				slog.String("job_id", jobID),
			)
			return err
		}
		return domain.NewRetryableError(fmt.Errorf("failed to load job: %w", err))
	}

	// Step 2: Duplicate delivery of a decided job
	if job.Status.IsTerminal() {
		w.logger.Info("Job already finished, skipping duplicate delivery",
			slog.String("job_id", jobID),
			slog.String("status", job.Status.String()),
		)
		return nil
	}

	// Step 3: Claim it (pending → awaiting_publish)
	job, err = w.claimJob(ctx, jobID, redelivered)
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrInvalidTransition):
			w.logger.Warn("Job claimed by another worker, skipping",
				slog.String("job_id", jobID),
				slog.String("reason", err.Error()),
			)
			return nil
		case errors.Is(err, domain.ErrJobNotFound):
			return err
		default:
			return domain.NewRetryableError(fmt.Errorf("failed to claim job: %w", err))
		}
	}

	// Step 4: Two-phase publish
	return w.publish(ctx, job)
}

// publish runs both upstream phases for a claimed job. A panic here is an
// outcome like any other upstream failure: the job is marked failed and the
// message consumed, since the container may already exist upstream.
func (w *Worker) publish(ctx context.Context, job *domain.Job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			w.logger.Error("Recovered from panic while publishing job",
				slog.String("job_id", job.ID),
				slog.Any("panic", r),
				slog.String("stack", string(debug.Stack())),
			)
			w.finish(ctx, job.ID, domain.JobStatusFailed)
			err = nil
		}
	}()

	mediaURL := w.mediaURL(job.MediaKey)

	creationID := job.UpstreamCreationID()
	if creationID == "" {
		createCtx, cancel := context.WithTimeout(ctx, w.jobTimeout)
		id, err := w.publisher.CreateMedia(createCtx, job.AccountID, graph.MediaContainer{
			MediaType: graph.MediaTypeReels,
			VideoURL:  mediaURL,
			Caption:   job.Caption,
		}, job.AccessToken)
		cancel()

		if err != nil {
			if ctx.Err() != nil {
				// Shutdown, not an upstream verdict. The job stays
				// awaiting_publish and resumes on redelivery.
				return domain.NewRetryableError(fmt.Errorf("create media interrupted: %w", err))
			}
			w.logger.Error("Upstream create media failed",
				slog.String("job_id", job.ID),
				slog.String("error", err.Error()),
			)
			w.finish(ctx, job.ID, domain.JobStatusFailed)
			return nil
		}
		creationID = id

		if err := w.recordCreationID(ctx, job.ID, creationID); err != nil {
			w.logger.Error("Failed to record creation id",
				slog.String("job_id", job.ID),
				slog.String("creation_id", creationID),
				slog.String("error", err.Error()),
			)
		}
	} else {
		w.logger.Info("Resuming job with recorded creation id",
			slog.String("job_id", job.ID),
			slog.String("creation_id", creationID),
		)
	}

	// The container exists upstream now; finish regardless of shutdown
	publishCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), w.jobTimeout)
	defer cancel()

	mediaID, err := w.publisher.PublishMedia(publishCtx, job.AccountID, creationID, job.AccessToken)
	if err != nil {
		w.logger.Error("Upstream publish media failed",
			slog.String("job_id", job.ID),
			slog.String("creation_id", creationID),
			slog.String("error", err.Error()),
		)
		w.finish(ctx, job.ID, domain.JobStatusFailed)
		return nil
	}

	w.logger.Info("Job published",
		slog.String("job_id", job.ID),
		slog.String("media_id", mediaID),
	)
	w.finish(ctx, job.ID, domain.JobStatusCompleted)

	return nil
}

// finish records a terminal status. Failures are logged only: the outcome
// is decided and redelivery would repeat upstream calls.
func (w *Worker) finish(ctx context.Context, jobID string, status domain.JobStatus) {
	storeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), w.storeTimeout)
	defer cancel()

	if err := w.store.UpdateStatus(storeCtx, jobID, status); err != nil {
		w.logger.Error("Failed to update job status",
			slog.String("job_id", jobID),
			slog.String("status", status.String()),
			slog.String("error", err.Error()),
		)
	}
}

func (w *Worker) loadJob(ctx context.Context, jobID string) (*domain.Job, error) {
	storeCtx, cancel := context.WithTimeout(ctx, w.storeTimeout)
	defer cancel()
	return w.store.GetJob(storeCtx, jobID)
}

func (w *Worker) claimJob(ctx context.Context, jobID string, resume bool) (*domain.Job, error) {
	storeCtx, cancel := context.WithTimeout(ctx, w.storeTimeout)
	defer cancel()
	return w.store.ClaimJob(storeCtx, jobID, resume)
}

func (w *Worker) recordCreationID(ctx context.Context, jobID, creationID string) error {
	storeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), w.storeTimeout)
	defer cancel()
	return w.store.SetCreationID(storeCtx, jobID, creationID)
}

func (w *Worker) mediaURL(key string) string {
	return strings.TrimRight(w.mediaBaseURL, "/") + "/media/" + url.PathEscape(key)
}
