package apperr

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
)

var (
	// ErrNotFound is a generic sentinel for missing resources.
	ErrNotFound = errors.New("not found")
	// ErrDeferred marks a stage result that is not a failure: the stage
	// cannot run yet and asks to be retried after other work completes.
	ErrDeferred = errors.New("deferred")
)

// CollectionState describes the lifecycle of an existing collection that
// blocked an operation, so callers can tell an operator why.
type CollectionState string

const (
	StateOpen     CollectionState = "open"
	StateClosed   CollectionState = "closed"
	StateDeleting CollectionState = "deleting"
)

// ConflictError reports an identity or uniqueness violation. When the
// conflict is with an existing collection, ExistingID and State say which row
// and what can be done about it.
type ConflictError struct {
	Resource   string
	ExistingID uuid.UUID
	State      CollectionState
	Detail     string
}

func (e *ConflictError) Error() string {
	if e.ExistingID != uuid.Nil {
		return fmt.Sprintf("%s conflict with existing %s (%s): %s", e.Resource, e.ExistingID, e.State, e.Detail)
	}
	return fmt.Sprintf("%s conflict: %s", e.Resource, e.Detail)
}

// ValidationError reports malformed input to a registry or loader operation.
// It is surfaced to the immediate caller and never retried.
type ValidationError struct {
	Field  string
	Detail string
}

func (e *ValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("invalid %s: %s", e.Field, e.Detail)
	}
	return e.Detail
}

// StageError wraps a failure of one stage against one file or item. It is
// recorded into the row's errors payload, not propagated up the chain.
type StageError struct {
	Stage string
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("stage %s: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }

func IsConflict(err error) bool {
	var ce *ConflictError
	return errors.As(err, &ce)
}

func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}
