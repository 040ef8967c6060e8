package worker

import (
	"context"
	"log/slog"

	"github.com/cuongbtq/reels-scheduler/internal/dispatch"
	"github.com/cuongbtq/reels-scheduler/internal/domain"
)

// startMessageDispatcher decodes deliveries and hands them to the worker pool
func (w *Worker) startMessageDispatcher(ctx context.Context, deliveries <-chan dispatch.Delivery) error {
	w.logger.Info("Message dispatcher started",
		slog.String("worker_id", w.workerID),
	)

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("Message dispatcher stopped - context canceled")
			return nil

		case <-w.stopChan:
			w.logger.Info("Message dispatcher stopped - stopChan closed")
			return nil

		case delivery, ok := <-deliveries:
			if !ok {
				if ctx.Err() != nil {
					return nil
				}
				w.logger.Warn("Delivery channel closed")
				return ErrConsumerClosed
			}

			msg, err := domain.DecodeMessage(delivery.Body)
			if err != nil {
				w.logger.Error("Rejecting malformed message",
					slog.String("error", err.Error()),
					slog.Int("body_size", len(delivery.Body)),
				)
				// Malformed messages go to the dead letter queue
				if nackErr := delivery.Nack(false); nackErr != nil {
					w.logger.Error("Failed to NACK malformed message",
						slog.String("error", nackErr.Error()),
					)
				}
				continue
			}

			jobMsg := &jobMessage{
				JobID:    msg.JobID,
				Delivery: delivery,
			}

			select {
			case w.jobsChan <- jobMsg:
				w.logger.Debug("Job dispatched to worker pool",
					slog.String("job_id", msg.JobID),
					slog.Bool("redelivered", delivery.Redelivered),
				)
			case <-ctx.Done():
				w.requeueOnShutdown(delivery, msg.JobID)
				return nil
			case <-w.stopChan:
				w.requeueOnShutdown(delivery, msg.JobID)
				return nil
			}
		}
	}
}

func (w *Worker) requeueOnShutdown(delivery dispatch.Delivery, jobID string) {
	w.logger.Info("Message dispatcher stopped while dispatching job",
		slog.String("job_id", jobID),
	)
	if nackErr := delivery.Nack(true); nackErr != nil {
		w.logger.Error("Failed to NACK message on shutdown",
			slog.String("job_id", jobID),
			slog.String("error", nackErr.Error()),
		)
	}
}
