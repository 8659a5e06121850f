package domain

import (
	"errors"
	"time"
)

// Common domain errors
var (
	ErrAlreadyExists = errors.New("already exists")
	ErrInvalidInput  = errors.New("invalid input")

	// Book domain errors
	ErrBookNotFound = errors.New("book not found")
	ErrNoSourceURL  = errors.New("book has no source url")

	// Download task domain errors
	ErrTaskNotFound  = errors.New("download task not found")
	ErrAlreadyActive = errors.New("book already has an active transfer")
	ErrNoResumeToken = errors.New("no resume token stored for book")

	// Lifecycle errors
	ErrManagerStopped   = errors.New("download manager stopped")
	ErrRelocationFailed = errors.New("failed to move downloaded file into place")
)

// RetryableError represents an error that should trigger a retry.
type RetryableError struct {
	Err        error
	RetryAfter time.Duration
}

// Error returns the error message
func (e *RetryableError) Error() string {
	if e.Err != nil {
		return e.Err.Error()
	}
	return "retryable error"
}

// Unwrap returns the underlying error
func (e *RetryableError) Unwrap() error {
	return e.Err
}

// NewRetryableError creates a new retryable error
func NewRetryableError(err error, retryAfter time.Duration) *RetryableError {
	return &RetryableError{Err: err, RetryAfter: retryAfter}
}

// IsRetryable returns true if the error should be retried
func IsRetryable(err error) bool {
	var re *RetryableError
	return errors.As(err, &re)
}

// GetRetryAfter returns the retry duration if the error is retryable
func GetRetryAfter(err error) (time.Duration, bool) {
	var re *RetryableError
	if errors.As(err, &re) {
		return re.RetryAfter, true
	}
	return 0, false
}

