package ledger

import (
	"errors"
	"fmt"
	"time"
)

var ErrInvalidMetadata = errors.New("invalid intent metadata")

// ValidationError is bad caller input. It is never retried.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

func Invalid(field, reason string) error {
	return &ValidationError{Field: field, Reason: reason}
}

func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// ProcessorError is a failed call to the external payment processor.
type ProcessorError struct {
	Op         string
	StatusCode int // 0 when the request never got a response
	Message    string
	Err        error
}

func (e *ProcessorError) Error() string {
	if e.StatusCode == 0 {
		return fmt.Sprintf("processor %s: %v", e.Op, e.Err)
	}

	return fmt.Sprintf("processor %s: status %d: %s", e.Op, e.StatusCode, e.Message)
}

func (e *ProcessorError) Unwrap() error { return e.Err }

// Temporary reports whether repeating the same idempotent request may succeed.
func (e *ProcessorError) Temporary() bool {
	return e.StatusCode == 0 || e.StatusCode == 429 || e.StatusCode >= 500
}

// RateLimitError is returned when a user exceeds the rolling withdrawal limit.
type RateLimitError struct {
	Limit   int
	ResetAt time.Time
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("withdrawal limit of %d per day reached, resets at %s", e.Limit, e.ResetAt.UTC().Format(time.RFC3339))
}
