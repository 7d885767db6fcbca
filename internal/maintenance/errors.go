package maintenance

import (
	"errors"
	"fmt"
)

var (
	// ErrUnitMismatch is returned when a measurement is evaluated against a
	// due rule of a different unit.
	ErrUnitMismatch = errors.New("measurement unit does not match due rule")
	// ErrNotFound is matched by every *NotFoundError.
	ErrNotFound = errors.New("not found")
	// ErrLocked is matched by every *LockedError.
	ErrLocked = errors.New("locked by active order")
	// ErrTerminal is matched by every *TerminalStateError.
	ErrTerminal = errors.New("terminal state")
	// ErrValidation is matched by every *ValidationError.
	ErrValidation = errors.New("validation failed")
	// ErrConflict is matched by every *ConflictError.
	ErrConflict = errors.New("conflict")
)

// ValidationError is a user-correctable input problem. Nothing was applied.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

func (e *ValidationError) Is(target error) bool { return target == ErrValidation }

func invalid(field, format string, args ...any) *ValidationError {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}

// NotFoundError reports an unknown entity id.
type NotFoundError struct {
	Kind string
	ID   string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %q not found", e.Kind, e.ID)
}

func (e *NotFoundError) Is(target error) bool { return target == ErrNotFound }

// LockedError reports that a task is referenced by an open order.
type LockedError struct {
	TaskID  string
	OrderID string
}

func (e *LockedError) Error() string {
	return fmt.Sprintf("task %q is locked by active order %q", e.TaskID, e.OrderID)
}

func (e *LockedError) Is(target error) bool { return target == ErrLocked }

// TerminalStateError reports an attempt to change a completed or cancelled
// entity.
type TerminalStateError struct {
	Kind  string
	ID    string
	State string
}

func (e *TerminalStateError) Error() string {
	return fmt.Sprintf("%s %q is %s and cannot be changed", e.Kind, e.ID, e.State)
}

func (e *TerminalStateError) Is(target error) bool { return target == ErrTerminal }

// ConflictError reports a request that contradicts current state in a way
// not covered by locking or terminal states.
type ConflictError struct {
	Message string
}

func (e *ConflictError) Error() string { return e.Message }

func (e *ConflictError) Is(target error) bool { return target == ErrConflict }

// InvariantViolation signals corrupted engine state. It is raised with
// panic and never returned to callers as a normal error.
type InvariantViolation struct {
	Message string
}

func (e *InvariantViolation) Error() string {
	return "invariant violation: " + e.Message
}

func assertInvariant(ok bool, format string, args ...any) {
	if !ok {
		panic(&InvariantViolation{Message: fmt.Sprintf(format, args...)})
	}
}
