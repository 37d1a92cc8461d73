package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrMalformedMessage is returned when a queue message cannot be parsed into a job
	ErrMalformedMessage = errors.New("malformed message")

	// ErrProjectNotFound is returned when no dedup record exists for a lookup
	ErrProjectNotFound = errors.New("project not found")
)

// RetryableError wraps transient errors that should be retried on a later cycle
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

// PipelineError records a contained pipeline failure for one job
type PipelineError struct {
	GitURL string
	Err    error
}

func (e *PipelineError) Error() string {
	return fmt.Sprintf("pipeline failed for %s: %v", e.GitURL, e.Err)
}

func (e *PipelineError) Unwrap() error {
	return e.Err
}
