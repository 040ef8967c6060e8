package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/cuongbtq/reels-scheduler/internal/blob"
	"github.com/cuongbtq/reels-scheduler/internal/domain"
	"github.com/cuongbtq/reels-scheduler/internal/storage"
	"github.com/cuongbtq/reels-scheduler/internal/submission"
	"github.com/gin-gonic/gin"
)

// Submitter accepts new jobs
type Submitter interface {
	SubmitSingle(ctx context.Context, req submission.SingleRequest) (*domain.Job, error)
	SubmitBulk(ctx context.Context, req submission.BulkRequest) (*submission.BulkResult, error)
	MaxBulkItems() int
}

// JobReader reads job records
type JobReader interface {
	GetJob(ctx context.Context, jobID string) (*domain.Job, error)
	ListJobs(ctx context.Context, filter storage.JobFilter) ([]domain.Job, error)
}

// AccountLister lists the upstream accounts a token can publish to
type AccountLister interface {
	ListAccounts(ctx context.Context, accessToken string) ([]domain.Account, error)
}

// MediaReader serves stored media
type MediaReader interface {
	Get(ctx context.Context, key string) (*blob.Object, error)
}

// HealthChecker reports backing store health
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// Dependencies holds all dependencies needed by handlers
type Dependencies struct {
	Logger    *slog.Logger
	Submitter Submitter
	Jobs      JobReader
	Media     MediaReader
	Accounts  AccountLister
	Health    HealthChecker

	// AccountsToken is the user token used for account listing
	AccountsToken string
	// MaxUploadSize bounds a single uploaded file, in bytes; 0 disables it
	MaxUploadSize int64
}

// JobHandler handles job-related HTTP requests
type JobHandler struct {
	logger        *slog.Logger
	submitter     Submitter
	jobs          JobReader
	maxUploadSize int64
}

// NewJobHandler creates a new JobHandler instance
func NewJobHandler(deps *Dependencies) *JobHandler {
	return &JobHandler{
		logger:        deps.Logger,
		submitter:     deps.Submitter,
		jobs:          deps.Jobs,
		maxUploadSize: deps.MaxUploadSize,
	}
}

// respondError maps the error taxonomy onto HTTP status codes
func respondError(c *gin.Context, logger *slog.Logger, err error) {
	status, message := http.StatusInternalServerError, "Internal server error"

	var vErr *domain.ValidationError
	switch {
	case errors.As(err, &vErr):
		status, message = http.StatusBadRequest, vErr.Error()
	case errors.Is(err, domain.ErrJobNotFound):
		status, message = http.StatusNotFound, "Job not found"
	case errors.Is(err, domain.ErrQueue):
		status, message = http.StatusServiceUnavailable, "Job could not be queued for publishing, please retry"
	case errors.Is(err, domain.ErrStorage):
		status, message = http.StatusBadGateway, "Storage is unavailable, please retry"
	case errors.Is(err, domain.ErrUpstreamPublish):
		status, message = http.StatusBadGateway, "Upstream platform request failed"
	}

	if status >= http.StatusInternalServerError {
		logger.Error("Request failed",
			slog.Int("status", status),
			slog.String("path", c.Request.URL.Path),
			slog.String("error", err.Error()),
		)
	}

	c.JSON(status, gin.H{"error": message})
}
