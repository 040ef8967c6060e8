package dto

import (
	"time"

	"github.com/cuongbtq/reels-scheduler/internal/domain"
)

type ListJobsRequest struct {
	AccountID string `form:"account_id"`
	Status    string `form:"status"`
	PageSize  int    `form:"page_size"`
	Cursor    string `form:"cursor"`
}

type ListJobsResponse struct {
	Jobs       []JobDTO `json:"jobs"`
	NextCursor string   `json:"next_cursor,omitempty"`
}

// JobDTO is the public view of a job. The access token is never exposed.
type JobDTO struct {
	ID        string `json:"id"`
	Username  string `json:"username"`
	AccountID string `json:"account_id"`
	Datetime  string `json:"datetime"`
	Status    string `json:"status"`
	Caption   string `json:"caption"`
	MediaKey  string `json:"media_key"`
	CreatedAt string `json:"created_at"`
	UpdatedAt string `json:"updated_at"`
}

type BulkJobsResponse struct {
	Created int `json:"created"`
}

type AccountDTO struct {
	Username        string `json:"username"`
	AccountID       string `json:"accountId"`
	PageAccessToken string `json:"pageAccessToken"`
}

type ListAccountsResponse struct {
	Accounts []AccountDTO `json:"accounts"`
}

func NewJobDTO(job *domain.Job) JobDTO {
	return JobDTO{
		ID:        job.ID,
		Username:  job.Username,
		AccountID: job.AccountID,
		Datetime:  job.ScheduledAt.Format(time.RFC3339),
		Status:    job.Status.String(),
		Caption:   job.Caption,
		MediaKey:  job.MediaKey,
		CreatedAt: job.CreatedAt.Format(time.RFC3339),
		UpdatedAt: job.UpdatedAt.Format(time.RFC3339),
	}
}

func NewAccountDTO(account domain.Account) AccountDTO {
	return AccountDTO{
		Username:        account.Username,
		AccountID:       account.AccountID,
		PageAccessToken: account.AccessToken,
	}
}
