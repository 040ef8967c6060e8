package storage_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/cuongbtq/reels-scheduler/internal/domain"
	"github.com/cuongbtq/reels-scheduler/internal/storage"
	"github.com/cuongbtq/reels-scheduler/internal/storage/storagetest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newJob(scheduledAt time.Time) *domain.Job {
	return &domain.Job{
		AccountID:   "17841400000000001",
		Username:    "reels.daily",
		AccessToken: "page-token",
		MediaKey:    "1704096000000_abc-1_clip.mp4",
		Caption:     "hello",
		ScheduledAt: scheduledAt,
	}
}

func TestCreateJob(t *testing.T) {
	store := storagetest.New(t)
	ctx := context.Background()

	loc := time.FixedZone("BRT", -3*60*60)
	job := newJob(time.Date(2024, 1, 1, 8, 0, 0, 0, loc))
	require.NoError(t, store.CreateJob(ctx, job))

	assert.NotEmpty(t, job.ID)
	assert.Equal(t, domain.JobStatusPending, job.Status)
	assert.False(t, job.CreatedAt.IsZero())
	assert.Nil(t, job.CreationID)

	got, err := store.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, job.ID, got.ID)
	assert.Equal(t, "reels.daily", got.Username)
	assert.Equal(t, "page-token", got.AccessToken)
	assert.Equal(t, domain.JobStatusPending, got.Status)
	assert.True(t, got.ScheduledAt.Equal(time.Date(2024, 1, 1, 11, 0, 0, 0, time.UTC)))
	assert.Equal(t, "", got.UpstreamCreationID())
}

func TestCreateJob_UniqueIDs(t *testing.T) {
	store := storagetest.New(t)
	ctx := context.Background()

	seen := map[string]bool{}
	for i := 0; i < 10; i++ {
		job := newJob(time.Now())
		require.NoError(t, store.CreateJob(ctx, job))
		assert.False(t, seen[job.ID], "duplicate id %s", job.ID)
		seen[job.ID] = true
	}
}

func TestGetJob_NotFound(t *testing.T) {
	store := storagetest.New(t)

	_, err := store.GetJob(context.Background(), "0b7c7a6e-2a8f-4a1c-9d55-8f2a8f0f6b11")
	assert.ErrorIs(t, err, domain.ErrJobNotFound)
}

func TestUpdateStatus(t *testing.T) {
	tests := []struct {
		name    string
		steps   []domain.JobStatus
		final   domain.JobStatus
		wantErr error
	}{
		{
			name:  "pending to completed",
			steps: []domain.JobStatus{domain.JobStatusCompleted},
			final: domain.JobStatusCompleted,
		},
		{
			name:  "pending to failed",
			steps: []domain.JobStatus{domain.JobStatusFailed},
			final: domain.JobStatusFailed,
		},
		{
			name:  "awaiting publish to completed",
			steps: []domain.JobStatus{domain.JobStatusAwaitingPublish, domain.JobStatusCompleted},
			final: domain.JobStatusCompleted,
		},
		{
			name:    "completed never reverts to pending",
			steps:   []domain.JobStatus{domain.JobStatusCompleted, domain.JobStatusPending},
			final:   domain.JobStatusCompleted,
			wantErr: domain.ErrInvalidTransition,
		},
		{
			name:    "failed never becomes completed",
			steps:   []domain.JobStatus{domain.JobStatusFailed, domain.JobStatusCompleted},
			final:   domain.JobStatusFailed,
			wantErr: domain.ErrInvalidTransition,
		},
		{
			name:    "completed cannot be overwritten by failed",
			steps:   []domain.JobStatus{domain.JobStatusCompleted, domain.JobStatusFailed},
			final:   domain.JobStatusCompleted,
			wantErr: domain.ErrInvalidTransition,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := storagetest.New(t)
			ctx := context.Background()

			job := newJob(time.Now())
			require.NoError(t, store.CreateJob(ctx, job))

			var err error
			for _, status := range tt.steps {
				err = store.UpdateStatus(ctx, job.ID, status)
			}

			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
			} else {
				assert.NoError(t, err)
			}

			got, err := store.GetJob(ctx, job.ID)
			require.NoError(t, err)
			assert.Equal(t, tt.final, got.Status)
		})
	}
}

func TestUpdateStatus_MissingJob(t *testing.T) {
	store := storagetest.New(t)

	err := store.UpdateStatus(context.Background(), "0b7c7a6e-2a8f-4a1c-9d55-8f2a8f0f6b11", domain.JobStatusCompleted)
	assert.ErrorIs(t, err, domain.ErrStorage)
	assert.ErrorIs(t, err, domain.ErrJobNotFound)
	assert.NotErrorIs(t, err, domain.ErrInvalidTransition)
}

func TestUpdateStatus_ConcurrentWritersLeaveOneTerminalStatus(t *testing.T) {
	store := storagetest.New(t)
	ctx := context.Background()

	job := newJob(time.Now())
	require.NoError(t, store.CreateJob(ctx, job))

	var wg sync.WaitGroup
	results := make(chan error, 2)
	for _, status := range []domain.JobStatus{domain.JobStatusCompleted, domain.JobStatusFailed} {
		wg.Add(1)
		go func(status domain.JobStatus) {
			defer wg.Done()
			results <- store.UpdateStatus(ctx, job.ID, status)
		}(status)
	}
	wg.Wait()
	close(results)

	var succeeded int
	for err := range results {
		if err == nil {
			succeeded++
		} else {
			assert.ErrorIs(t, err, domain.ErrInvalidTransition)
		}
	}
	assert.Equal(t, 1, succeeded)

	got, err := store.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.True(t, got.Status.IsTerminal())
}

func TestClaimJob(t *testing.T) {
	store := storagetest.New(t)
	ctx := context.Background()

	job := newJob(time.Now())
	require.NoError(t, store.CreateJob(ctx, job))

	claimed, err := store.ClaimJob(ctx, job.ID, false)
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusAwaitingPublish, claimed.Status)

	// A duplicate delivery cannot claim it again
	_, err = store.ClaimJob(ctx, job.ID, false)
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)

	// A redelivery after a crash can resume it
	resumed, err := store.ClaimJob(ctx, job.ID, true)
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusAwaitingPublish, resumed.Status)

	require.NoError(t, store.UpdateStatus(ctx, job.ID, domain.JobStatusCompleted))

	// Terminal jobs are never reclaimed
	_, err = store.ClaimJob(ctx, job.ID, true)
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)

	_, err = store.ClaimJob(ctx, "0b7c7a6e-2a8f-4a1c-9d55-8f2a8f0f6b11", false)
	assert.ErrorIs(t, err, domain.ErrJobNotFound)
}

func TestSetCreationID(t *testing.T) {
	store := storagetest.New(t)
	ctx := context.Background()

	job := newJob(time.Now())
	require.NoError(t, store.CreateJob(ctx, job))
	require.NoError(t, store.SetCreationID(ctx, job.ID, "17900000000000001"))

	got, err := store.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, "17900000000000001", got.UpstreamCreationID())

	err = store.SetCreationID(ctx, "0b7c7a6e-2a8f-4a1c-9d55-8f2a8f0f6b11", "1")
	assert.ErrorIs(t, err, domain.ErrJobNotFound)
}

func TestDiscardJob(t *testing.T) {
	store := storagetest.New(t)
	ctx := context.Background()

	pending := newJob(time.Now())
	require.NoError(t, store.CreateJob(ctx, pending))
	require.NoError(t, store.DiscardJob(ctx, pending.ID))

	_, err := store.GetJob(ctx, pending.ID)
	assert.ErrorIs(t, err, domain.ErrJobNotFound)

	done := newJob(time.Now())
	require.NoError(t, store.CreateJob(ctx, done))
	require.NoError(t, store.UpdateStatus(ctx, done.ID, domain.JobStatusCompleted))

	err = store.DiscardJob(ctx, done.ID)
	assert.ErrorIs(t, err, domain.ErrJobNotFound)

	_, err = store.GetJob(ctx, done.ID)
	assert.NoError(t, err)
}

func TestListAll_OrderedByScheduledTime(t *testing.T) {
	store := storagetest.New(t)
	ctx := context.Background()

	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	offsets := []time.Duration{5 * time.Hour, 1 * time.Hour, 72 * time.Hour, 0, 3 * time.Hour}
	for _, off := range offsets {
		require.NoError(t, store.CreateJob(ctx, newJob(base.Add(off))))
	}

	jobs, err := store.ListAll(ctx)
	require.NoError(t, err)
	require.Len(t, jobs, len(offsets))

	for i := 1; i < len(jobs); i++ {
		assert.False(t, jobs[i].ScheduledAt.Before(jobs[i-1].ScheduledAt),
			"job %d scheduled before job %d", i, i-1)
	}
	assert.True(t, jobs[0].ScheduledAt.Equal(base))
	assert.True(t, jobs[len(jobs)-1].ScheduledAt.Equal(base.Add(72*time.Hour)))
}

func TestListAll_Empty(t *testing.T) {
	store := storagetest.New(t)

	jobs, err := store.ListAll(context.Background())
	require.NoError(t, err)
	assert.Empty(t, jobs)
}

func TestListJobs_FilterAndCursor(t *testing.T) {
	store := storagetest.New(t)
	ctx := context.Background()

	base := time.Date(2024, 1, 1, 8, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		require.NoError(t, store.CreateJob(ctx, newJob(base.Add(time.Duration(i)*time.Hour))))
	}
	other := newJob(base)
	other.AccountID = "other-account"
	require.NoError(t, store.CreateJob(ctx, other))

	page, err := store.ListJobs(ctx, storage.JobFilter{AccountID: "17841400000000001", PageSize: 2})
	require.NoError(t, err)
	// one extra row signals more pages
	require.Len(t, page, 3)
	assert.True(t, page[0].ScheduledAt.Equal(base))

	last := page[1]
	next, err := store.ListJobs(ctx, storage.JobFilter{
		AccountID: "17841400000000001",
		PageSize:  2,
		Cursor:    &storage.JobCursor{ScheduledAt: last.ScheduledAt, JobID: last.ID},
	})
	require.NoError(t, err)
	require.Len(t, next, 3)
	assert.True(t, next[0].ScheduledAt.Equal(base.Add(2*time.Hour)))

	require.NoError(t, store.UpdateStatus(ctx, other.ID, domain.JobStatusFailed))
	failed, err := store.ListJobs(ctx, storage.JobFilter{Status: domain.JobStatusFailed})
	require.NoError(t, err)
	require.Len(t, failed, 1)
	assert.Equal(t, other.ID, failed[0].ID)
}
