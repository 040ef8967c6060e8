package storage

import (
	"context"
	"time"

	"github.com/cuongbtq/reels-scheduler/internal/domain"
)

// JobFilter narrows a job listing. A zero PageSize returns every match.
type JobFilter struct {
	AccountID string
	Status    domain.JobStatus
	PageSize  int
	Cursor    *JobCursor
}

// JobCursor is the last (scheduled_at, id) pair of the previous page
type JobCursor struct {
	ScheduledAt time.Time
	JobID       string
}

// ListAll returns every job ordered by scheduled time ascending
func (s *Storage) ListAll(ctx context.Context) ([]domain.Job, error) {
	return s.ListJobs(ctx, JobFilter{})
}

// ListJobs returns jobs ordered by scheduled time ascending. When PageSize is
// set, one extra row is fetched so callers can tell whether more remain.
func (s *Storage) ListJobs(ctx context.Context, filter JobFilter) ([]domain.Job, error) {
	query := `SELECT ` + jobColumns + ` FROM jobs WHERE 1=1`
	args := []interface{}{}

	// Filters
	if filter.AccountID != "" {
		query += " AND account_id = ?"
		args = append(args, filter.AccountID)
	}

	if filter.Status != "" {
		query += " AND status = ?"
		args = append(args, filter.Status)
	}

	if filter.Cursor != nil {
		query += " AND (scheduled_at, id) > (?, ?)"
		args = append(args, filter.Cursor.ScheduledAt.UTC(), filter.Cursor.JobID)
	}

	// id breaks ties between jobs sharing a slot
	query += " ORDER BY scheduled_at ASC, id ASC"

	if filter.PageSize > 0 {
		query += " LIMIT ?"
		args = append(args, filter.PageSize+1)
	}

	jobs := []domain.Job{}
	if err := s.db.SelectContext(ctx, &jobs, s.db.Rebind(query), args...); err != nil {
		return nil, domain.StorageError("list jobs", err)
	}

	return jobs, nil
}
