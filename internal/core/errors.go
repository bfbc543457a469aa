package core

import (
	"errors"
	"fmt"
)

var (
	// ErrValidation marks recoverable, user-facing input problems.
	ErrValidation = errors.New("validation error")
	// ErrInvalidPeriod marks a malformed year/month argument.
	ErrInvalidPeriod = errors.New("invalid period")
	// ErrInvariantViolation marks persisted data that should never have
	// passed entry validation (unknown type, non-positive amount).
	ErrInvariantViolation = errors.New("invariant violation")

	ErrNotFound         = errors.New("not found")
	ErrAlreadyCorrected = errors.New("transaction already corrected")
	ErrConcurrentUpdate = errors.New("transaction changed concurrently")

	ErrInvalidAmount = errors.New("invalid amount")
)

// ValidationError describes why a mutation was rejected.
type ValidationError struct {
	Field  string
	Reason string
	Err    error // optional cause, e.g. ErrAlreadyCorrected
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("validation error: %s", e.Reason)
	}
	return fmt.Sprintf("validation error: %s: %s", e.Field, e.Reason)
}

// Is makes every ValidationError match ErrValidation.
func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

func (e *ValidationError) Unwrap() error {
	return e.Err
}

// Invalid builds a ValidationError for a field.
func Invalid(field, reason string) *ValidationError {
	return &ValidationError{Field: field, Reason: reason}
}

func invariant(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvariantViolation, fmt.Sprintf(format, args...))
}
