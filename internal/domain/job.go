package domain

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Job is one scheduled media publish unit
type Job struct {
	ID          string    `db:"id"`
	AccountID   string    `db:"account_id"`
	Username    string    `db:"username"`
	AccessToken string    `db:"access_token"`
	MediaKey    string    `db:"media_key"`
	Caption     string    `db:"caption"`
	ScheduledAt time.Time `db:"scheduled_at"`
	Status      JobStatus `db:"status"`
	CreationID  *string   `db:"creation_id"`
	CreatedAt   time.Time `db:"created_at"`
	UpdatedAt   time.Time `db:"updated_at"`
}

// UpstreamCreationID returns the recorded media container id, or "" if none
func (j *Job) UpstreamCreationID() string {
	if j.CreationID == nil {
		return ""
	}
	return *j.CreationID
}

// Account is the upstream credential a job publishes with
type Account struct {
	Username    string `json:"username"`
	AccountID   string `json:"accountId"`
	AccessToken string `json:"pageAccessToken"`
}

// Validate checks that every credential field is present
func (a Account) Validate() error {
	if a.AccountID == "" {
		return NewValidationError("accountId", "is required")
	}
	if a.Username == "" {
		return NewValidationError("username", "is required")
	}
	if a.AccessToken == "" {
		return NewValidationError("accessToken", "is required")
	}
	return nil
}

// Message is the dispatch message placed on the queue for a job
type Message struct {
	JobID string `json:"job_id"`
}

// Encode marshals the message for the queue
func (m Message) Encode() ([]byte, error) {
	return json.Marshal(m)
}

// DecodeMessage parses a queue payload and checks the job id is a UUID
func DecodeMessage(body []byte) (Message, error) {
	var msg Message
	if err := json.Unmarshal(body, &msg); err != nil {
		return Message{}, fmt.Errorf("%w: %v", ErrInvalidMessage, err)
	}
	if _, err := uuid.Parse(msg.JobID); err != nil {
		return Message{}, fmt.Errorf("%w: job_id %q: %v", ErrInvalidMessage, msg.JobID, err)
	}
	return msg, nil
}
