package core

import (
	"errors"
	"fmt"
)

var (
	// ErrNotInitialized means a ledger operation ran before the store was
	// loaded. It is a programming error, never a user-facing condition.
	ErrNotInitialized = errors.New("ledger store not initialized")

	// ErrNotFound covers both missing rows and rows owned by someone else.
	ErrNotFound = errors.New("not found")

	ErrConflict     = errors.New("already exists")
	ErrValidation   = errors.New("validation failed")
	ErrRemote       = errors.New("remote snapshot storage failure")
	ErrNotPersisted = errors.New("change applied in memory but not persisted")
)

// ValidationError rejects malformed input before any mutation happens.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

// Invalid builds a ValidationError for field.
func Invalid(field, reason string) error {
	return &ValidationError{Field: field, Reason: reason}
}

// RemoteError reports a failure talking to the snapshot storage. It matches
// both ErrRemote and the underlying cause with errors.Is.
type RemoteError struct {
	Op  string
	Err error
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("remote %s: %v", e.Op, e.Err)
}

func (e *RemoteError) Unwrap() []error { return []error{ErrRemote, e.Err} }

// PersistError is the partial-success outcome of a write: the in-memory
// ledger was mutated but the snapshot could not be saved.
type PersistError struct {
	Op  string
	Err error
}

func (e *PersistError) Error() string {
	return fmt.Sprintf("%s: %v: %v", e.Op, ErrNotPersisted, e.Err)
}

func (e *PersistError) Unwrap() []error { return []error{ErrNotPersisted, e.Err} }
