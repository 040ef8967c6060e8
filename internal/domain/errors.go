package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrValidation marks input rejected before any side effect
	ErrValidation = errors.New("validation failed")

	// ErrStorage marks a blob store or job store failure
	ErrStorage = errors.New("storage error")

	// ErrQueue marks a dispatch queue failure at enqueue time
	ErrQueue = errors.New("queue error")

	// ErrJobNotFound is returned when a job cannot be found in the database
	ErrJobNotFound = errors.New("job not found")

	// ErrInvalidTransition is returned when a status update would break the job state machine
	ErrInvalidTransition = errors.New("invalid job status transition")

	// ErrUpstreamPublish marks a failure in either phase of the remote publish protocol
	ErrUpstreamPublish = errors.New("upstream publish failed")

	// ErrInvalidMessage is returned when a dispatch message cannot be decoded
	ErrInvalidMessage = errors.New("invalid dispatch message")
)

// ValidationError describes a single rejected input field
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// Is lets errors.Is(err, ErrValidation) match any ValidationError
func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

// NewValidationError creates a new validation error for field
func NewValidationError(field, reason string) error {
	return &ValidationError{Field: field, Reason: reason}
}

// StorageError wraps err so that it matches ErrStorage
func StorageError(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrStorage, op, err)
}

// QueueError wraps err so that it matches ErrQueue
func QueueError(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrQueue, op, err)
}

// RetryableError wraps transient errors that should trigger a requeue
type RetryableError struct {
	Err error
}

func (e *RetryableError) Error() string {
	return "retryable error: " + e.Err.Error()
}

func (e *RetryableError) Unwrap() error {
	return e.Err
}

// NewRetryableError creates a new retryable error
func NewRetryableError(err error) error {
	return &RetryableError{Err: err}
}
