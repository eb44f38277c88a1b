package scheduling

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// ValidationError reports malformed or out-of-range input. Never retried.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

type NotFoundError struct {
	Kind string
	ID   string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Kind, e.ID)
}

// ConflictError reports a time overlap or a lost concurrent write. The
// caller may retry after re-querying availability.
type ConflictError struct {
	EmployeeIDs []string
	Start       time.Time
	End         time.Time
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("employee %s already booked in [%s, %s)",
		strings.Join(e.EmployeeIDs, ", "),
		e.Start.Format(time.RFC3339), e.End.Format(time.RFC3339))
}

// InvalidStateError reports an operation that is not legal for the
// entity's current lifecycle state.
type InvalidStateError struct {
	Kind   string
	ID     string
	Status string
	Reason string
}

func (e *InvalidStateError) Error() string {
	return fmt.Sprintf("%s %s in status %s: %s", e.Kind, e.ID, e.Status, e.Reason)
}

type InvalidTransitionError struct {
	Kind string
	ID   string
	From string
	To   string
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("%s %s: transition %s -> %s not allowed", e.Kind, e.ID, e.From, e.To)
}

// PersistenceError wraps a store failure. Transient; safe to retry with
// backoff at the caller.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persistence failure during %s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

func IsValidation(err error) bool {
	var e *ValidationError
	return errors.As(err, &e)
}

func IsNotFound(err error) bool {
	var e *NotFoundError
	return errors.As(err, &e)
}

func IsConflict(err error) bool {
	var e *ConflictError
	return errors.As(err, &e)
}

func IsInvalidState(err error) bool {
	var e *InvalidStateError
	return errors.As(err, &e)
}

func IsInvalidTransition(err error) bool {
	var e *InvalidTransitionError
	return errors.As(err, &e)
}

func IsPersistence(err error) bool {
	var e *PersistenceError
	return errors.As(err, &e)
}

// isDomain reports whether err is already one of the typed failures above
// and should pass through the store boundary unwrapped.
func isDomain(err error) bool {
	return IsValidation(err) || IsNotFound(err) || IsConflict(err) ||
		IsInvalidState(err) || IsInvalidTransition(err) || IsPersistence(err)
}
