package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cuongbtq/reels-scheduler/internal/domain"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

const schema = `
CREATE TABLE IF NOT EXISTS jobs (
	id           TEXT PRIMARY KEY,
	account_id   TEXT NOT NULL,
	username     TEXT NOT NULL,
	access_token TEXT NOT NULL,
	media_key    TEXT NOT NULL,
	caption      TEXT NOT NULL DEFAULT '',
	scheduled_at TIMESTAMP NOT NULL,
	status       TEXT NOT NULL DEFAULT 'pending',
	creation_id  TEXT,
	created_at   TIMESTAMP NOT NULL,
	updated_at   TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_jobs_scheduled_at ON jobs (scheduled_at, id);
`

const jobColumns = `
	id, account_id, username, access_token, media_key, caption,
	scheduled_at, status, creation_id, created_at, updated_at
`

// Storage is the durable job record store
type Storage struct {
	db     *sqlx.DB
	logger *slog.Logger
	now    func() time.Time
}

// NewStorage creates a new Storage instance
func NewStorage(db *sqlx.DB, logger *slog.Logger) *Storage {
	return &Storage{
		db:     db,
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// Migrate creates the jobs table if it does not exist
func (s *Storage) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return domain.StorageError("migrate jobs table", err)
	}
	return nil
}

// CreateJob inserts a new job, assigning its id, pending status and timestamps
func (s *Storage) CreateJob(ctx context.Context, job *domain.Job) error {
	now := s.now()
	job.ID = uuid.NewString()
	job.Status = domain.JobStatusPending
	job.ScheduledAt = job.ScheduledAt.UTC()
	job.CreationID = nil
	job.CreatedAt = now
	job.UpdatedAt = now

	query := `
		INSERT INTO jobs (
			id, account_id, username, access_token, media_key, caption,
			scheduled_at, status, creation_id, created_at, updated_at
		) VALUES (
			:id, :account_id, :username, :access_token, :media_key, :caption,
			:scheduled_at, :status, :creation_id, :created_at, :updated_at
		)
	`

	if _, err := s.db.NamedExecContext(ctx, query, job); err != nil {
		return domain.StorageError("create job", err)
	}

	s.logger.Info("Job created",
		slog.String("job_id", job.ID),
		slog.String("account_id", job.AccountID),
		slog.Time("scheduled_at", job.ScheduledAt),
	)

	return nil
}

// GetJob retrieves a job from the database by its ID
func (s *Storage) GetJob(ctx context.Context, jobID string) (*domain.Job, error) {
	query := s.db.Rebind(`SELECT ` + jobColumns + ` FROM jobs WHERE id = ?`)

	var job domain.Job
	if err := s.db.GetContext(ctx, &job, query, jobID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrJobNotFound
		}
		return nil, domain.StorageError("get job", err)
	}

	return &job, nil
}

// UpdateStatus moves a job to status, but only from a status allowed to
// transition into it. The update is a single conditional statement, so
// concurrent writers cannot move a terminal job back.
func (s *Storage) UpdateStatus(ctx context.Context, jobID string, status domain.JobStatus) error {
	if err := s.transition(ctx, jobID, status, domain.Predecessors(status)); err != nil {
		return err
	}

	s.logger.Info("Job status updated",
		slog.String("job_id", jobID),
		slog.String("status", status.String()),
	)

	return nil
}

// ClaimJob attempts to claim a pending job for publishing using optimistic
// locking. With resume set, a job already awaiting publish can be reclaimed,
// which is how a redelivered message picks up after a worker crash.
func (s *Storage) ClaimJob(ctx context.Context, jobID string, resume bool) (*domain.Job, error) {
	from := []domain.JobStatus{domain.JobStatusPending}
	if resume {
		from = append(from, domain.JobStatusAwaitingPublish)
	}

	if err := s.transition(ctx, jobID, domain.JobStatusAwaitingPublish, from); err != nil {
		if errors.Is(err, domain.ErrInvalidTransition) {
			s.logger.Warn("Failed to claim job - already claimed or finished",
				slog.String("job_id", jobID),
				slog.Bool("resume", resume),
			)
		}
		return nil, err
	}

	job, err := s.GetJob(ctx, jobID)
	if err != nil {
		return nil, err
	}

	s.logger.Info("Job claimed successfully",
		slog.String("job_id", jobID),
		slog.Bool("resume", resume),
	)

	return job, nil
}

// SetCreationID records the upstream media container id for a job
func (s *Storage) SetCreationID(ctx context.Context, jobID, creationID string) error {
	query := s.db.Rebind(`UPDATE jobs SET creation_id = ?, updated_at = ? WHERE id = ?`)

	res, err := s.db.ExecContext(ctx, query, creationID, s.now(), jobID)
	if err != nil {
		return domain.StorageError("set creation id", err)
	}

	rowsAffected, err := res.RowsAffected()
	if err != nil {
		return domain.StorageError("get rows affected", err)
	}
	if rowsAffected == 0 {
		return domain.ErrJobNotFound
	}

	return nil
}

// DiscardJob deletes a job that was never dispatched. Only pending rows are
// removed.
func (s *Storage) DiscardJob(ctx context.Context, jobID string) error {
	query := s.db.Rebind(`DELETE FROM jobs WHERE id = ? AND status = ?`)

	res, err := s.db.ExecContext(ctx, query, jobID, domain.JobStatusPending)
	if err != nil {
		return domain.StorageError("discard job", err)
	}

	rowsAffected, err := res.RowsAffected()
	if err != nil {
		return domain.StorageError("get rows affected", err)
	}
	if rowsAffected == 0 {
		return domain.ErrJobNotFound
	}

	s.logger.Warn("Job discarded",
		slog.String("job_id", jobID),
	)

	return nil
}

func (s *Storage) transition(ctx context.Context, jobID string, to domain.JobStatus, from []domain.JobStatus) error {
	if len(from) == 0 {
		return fmt.Errorf("%w: no status transitions to %s", domain.ErrInvalidTransition, to)
	}

	query, args, err := sqlx.In(
		`UPDATE jobs SET status = ?, updated_at = ? WHERE id = ? AND status IN (?)`,
		to, s.now(), jobID, from,
	)
	if err != nil {
		return fmt.Errorf("failed to build status update: %w", err)
	}

	res, err := s.db.ExecContext(ctx, s.db.Rebind(query), args...)
	if err != nil {
		return domain.StorageError("update job status", err)
	}

	rowsAffected, err := res.RowsAffected()
	if err != nil {
		return domain.StorageError("get rows affected", err)
	}
	if rowsAffected > 0 {
		return nil
	}

	// Nothing matched: either the job is gone or its status forbids the move
	current, err := s.GetJob(ctx, jobID)
	if errors.Is(err, domain.ErrJobNotFound) {
		return domain.StorageError("update job status", err)
	}
	if err != nil {
		return err
	}

	return fmt.Errorf("%w: %s to %s", domain.ErrInvalidTransition, current.Status, to)
}
