package models

import "fmt"

// Domain error taxonomy. Read/lookup paths signal plain absence with
// (value, ok) returns; these typed errors are reserved for write and
// compute operations. Messages are plain strings fit for direct display.

// NotFoundError marks an unknown model kind, variable or region.
type NotFoundError struct {
	Entity string
	Key    string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %q not found", e.Entity, e.Key)
}

// NewNotFound builds a NotFoundError for the given entity and key.
func NewNotFound(entity, key string) *NotFoundError {
	return &NotFoundError{Entity: entity, Key: key}
}

// ValidationError marks malformed caller input; surfaced immediately, no
// retry.
type ValidationError struct {
	Msg string
}

func (e *ValidationError) Error() string { return e.Msg }

// NewValidation builds a ValidationError with a formatted message.
func NewValidation(format string, a ...interface{}) *ValidationError {
	return &ValidationError{Msg: fmt.Sprintf(format, a...)}
}

// InsufficientObservationsError marks a fit whose observation count is
// below p + margin even after column pruning, or whose assembled dataset
// came out empty.
type InsufficientObservationsError struct {
	N      int
	P      int
	Margin int
	Msg    string
}

func (e *InsufficientObservationsError) Error() string {
	if e.Msg != "" {
		return e.Msg
	}
	return fmt.Sprintf("insufficient observations: n=%d, p=%d, need n >= %d", e.N, e.P, e.P+e.Margin)
}

// NewInsufficientData builds an InsufficientObservationsError with a
// free-form message for empty datasets.
func NewInsufficientData(format string, a ...interface{}) *InsufficientObservationsError {
	return &InsufficientObservationsError{Msg: fmt.Sprintf(format, a...)}
}

// PersistenceError wraps a failed store transaction. The transaction has
// been rolled back; no partial state remains.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persistence failure in %s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }
