package handler

import (
	"errors"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"

	"github.com/cuongbtq/reels-scheduler/internal/api/dto"
	"github.com/cuongbtq/reels-scheduler/internal/domain"
	"github.com/cuongbtq/reels-scheduler/internal/storage"
	"github.com/cuongbtq/reels-scheduler/internal/submission"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

const maxPageSize = 100

// CreateJob handles POST /api/v1/jobs
// Schedules a single video from a multipart form
func (h *JobHandler) CreateJob(c *gin.Context) {
	var media submission.Media
	fh, err := c.FormFile("video")
	switch {
	case err == nil:
		media = h.mediaFromHeader(fh)
	case errors.Is(err, http.ErrMissingFile):
		// Rejected by submission validation
	default:
		h.logger.Warn("Invalid multipart form", slog.String("error", err.Error()))
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid multipart form"})
		return
	}

	if err := h.checkSize(fh, "video"); err != nil {
		respondError(c, h.logger, err)
		return
	}

	job, err := h.submitter.SubmitSingle(c.Request.Context(), submission.SingleRequest{
		Account:    accountFromForm(c),
		Media:      media,
		ScheduleAt: c.PostForm("scheduleAt"),
		Caption:    c.PostForm("caption"),
	})
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusCreated, dto.NewJobDTO(job))
}

// CreateBulkJobs handles POST /api/v1/jobs/bulk
// Spreads up to MaxBulkItems videos over the daily publish slots
func (h *JobHandler) CreateBulkJobs(c *gin.Context) {
	form, err := c.MultipartForm()
	if err != nil {
		h.logger.Warn("Invalid multipart form", slog.String("error", err.Error()))
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid multipart form"})
		return
	}

	headers := form.File["videos"]
	if len(headers) > h.submitter.MaxBulkItems() {
		respondError(c, h.logger, domain.NewValidationError("videos", "too many files"))
		return
	}

	media := make([]submission.Media, len(headers))
	for i, fh := range headers {
		if err := h.checkSize(fh, "videos"); err != nil {
			respondError(c, h.logger, err)
			return
		}
		media[i] = h.mediaFromHeader(fh)
	}

	result, err := h.submitter.SubmitBulk(c.Request.Context(), submission.BulkRequest{
		Account:   accountFromForm(c),
		Media:     media,
		StartDate: c.PostForm("startDate"),
		Caption:   c.PostForm("caption"),
	})
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusCreated, dto.BulkJobsResponse{Created: result.Created})
}

// GetJob handles GET /api/v1/jobs/:job_id
func (h *JobHandler) GetJob(c *gin.Context) {
	jobID := c.Param("job_id")
	if _, err := uuid.Parse(jobID); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "job_id must be a valid UUID",
		})
		return
	}

	job, err := h.jobs.GetJob(c.Request.Context(), jobID)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusOK, dto.NewJobDTO(job))
}

// ListJobs handles GET /api/v1/jobs
// Lists jobs by scheduled time. Without page_size every job is returned.
func (h *JobHandler) ListJobs(c *gin.Context) {
	var req dto.ListJobsRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		h.logger.Warn("Invalid query parameters", slog.String("error", err.Error()))
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid query parameters",
		})
		return
	}

	status := domain.JobStatus(req.Status)
	if req.Status != "" && !status.Valid() {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid status",
		})
		return
	}

	if req.PageSize < 0 {
		req.PageSize = 0
	}
	if req.PageSize > maxPageSize {
		req.PageSize = maxPageSize
	}

	cursor, err := DecodeJobCursor(req.Cursor)
	if err != nil {
		h.logger.Warn("Invalid cursor", slog.String("error", err.Error()))
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid cursor",
		})
		return
	}

	jobs, err := h.jobs.ListJobs(c.Request.Context(), storage.JobFilter{
		AccountID: req.AccountID,
		Status:    status,
		PageSize:  req.PageSize,
		Cursor:    cursor,
	})
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	hasMore := req.PageSize > 0 && len(jobs) > req.PageSize
	if hasMore {
		jobs = jobs[:req.PageSize]
	}

	jobResponse := make([]dto.JobDTO, len(jobs))
	for i := range jobs {
		jobResponse[i] = dto.NewJobDTO(&jobs[i])
	}

	var nextCursor string
	if hasMore {
		lastJob := jobs[len(jobs)-1]
		nextCursor = EncodeJobCursor(&storage.JobCursor{
			ScheduledAt: lastJob.ScheduledAt,
			JobID:       lastJob.ID,
		})
	}

	c.JSON(http.StatusOK, dto.ListJobsResponse{
		Jobs:       jobResponse,
		NextCursor: nextCursor,
	})
}

func (h *JobHandler) checkSize(fh *multipart.FileHeader, field string) error {
	if fh == nil || h.maxUploadSize <= 0 || fh.Size <= h.maxUploadSize {
		return nil
	}
	return domain.NewValidationError(field, fh.Filename+" exceeds the upload size limit")
}

func (h *JobHandler) mediaFromHeader(fh *multipart.FileHeader) submission.Media {
	return submission.Media{
		Filename:    fh.Filename,
		ContentType: fh.Header.Get("Content-Type"),
		Size:        fh.Size,
		Open: func() (io.ReadCloser, error) {
			return fh.Open()
		},
	}
}

func accountFromForm(c *gin.Context) domain.Account {
	return domain.Account{
		AccountID:   c.PostForm("accountId"),
		Username:    c.PostForm("username"),
		AccessToken: c.PostForm("accessToken"),
	}
}
