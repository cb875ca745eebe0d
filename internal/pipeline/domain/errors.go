package domain

import "errors"

var (
	// ErrJobNotFound is returned when a job cannot be found in the database
	ErrJobNotFound = errors.New("job not found")

	// ErrJobAlreadyClaimed is returned when attempting to claim a job that's
	// already leased by another worker or in a terminal state
	ErrJobAlreadyClaimed = errors.New("job already claimed or not claimable")

	// ErrRecordNotFound is returned when a record id vanished between
	// selection and processing
	ErrRecordNotFound = errors.New("record not found")

	// ErrInvalidPayload is returned when a job payload JSON is malformed
	ErrInvalidPayload = errors.New("invalid job payload")

	// ErrEmptyAsset is returned when the asset store served a zero-byte body
	ErrEmptyAsset = errors.New("fetched asset is empty")

	// ErrEmptyEmbedding is returned when the inference service produced a
	// zero-length vector
	ErrEmptyEmbedding = errors.New("inference returned empty embedding")

	// ErrEnqueueFailed wraps durable-store or broker failures at scheduling
	// time; it is the only error that can stall the chain
	ErrEnqueueFailed = errors.New("failed to enqueue job")

	// ErrMaxAttemptsExceeded is returned when a job has exhausted its
	// attempts and been discarded
	ErrMaxAttemptsExceeded = errors.New("max attempts exceeded")
)

// RetryableError wraps transient job-level faults that should send the job
// back through the queue's retry/backoff path
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
