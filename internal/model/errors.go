package model

import (
	"errors"
	"fmt"
)

// ValidationError rejects a malformed raw check before it reaches the store.
// A rejected observation is never partially applied.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid observation: %s %s", e.Field, e.Reason)
}

// NewValidationError creates a ValidationError for a field.
func NewValidationError(field, reason string) *ValidationError {
	return &ValidationError{Field: field, Reason: reason}
}

// IsValidation returns true if the error chain contains a ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// ClosedPeriodError rejects a normal ingestion write into a month that has
// already rolled over. Closed months accept writes only through backfill.
type ClosedPeriodError struct {
	Month int
	Year  int
}

func (e *ClosedPeriodError) Error() string {
	return fmt.Sprintf("period %04d-%02d is closed; use backfill", e.Year, e.Month)
}

// IsClosedPeriod returns true if the error chain contains a ClosedPeriodError.
func IsClosedPeriod(err error) bool {
	var ce *ClosedPeriodError
	return errors.As(err, &ce)
}

// StoreTimeoutError marks an upsert that did not complete within its bound.
// It is retried with backoff; after the attempt limit it surfaces to the
// caller as a failed ingestion, leaving prior state untouched.
type StoreTimeoutError struct {
	Err error
}

func (e *StoreTimeoutError) Error() string {
	return fmt.Sprintf("store timeout: %v", e.Err)
}

func (e *StoreTimeoutError) Unwrap() error { return e.Err }

// IsStoreTimeout returns true if the error chain contains a StoreTimeoutError.
func IsStoreTimeout(err error) bool {
	var se *StoreTimeoutError
	return errors.As(err, &se)
}

// LinkageInconsistency flags a bucket with no client linkage. It is a
// warning, not a failure: the engine still aggregates by domain.
type LinkageInconsistency struct {
	BucketID string
	Domain   string
}

func (e *LinkageInconsistency) Error() string {
	return fmt.Sprintf("bucket %s for domain %s has no client linkage", e.BucketID, e.Domain)
}
