package core

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinels matched with errors.Is against the typed errors below.
var (
	ErrValidation = errors.New("validation error")
	ErrState      = errors.New("state error")
	ErrConflict   = errors.New("conflict")
	ErrDependency = errors.New("dependency failure")
	ErrNotFound   = errors.New("not found")
)

// ErrorContext identifies the operation and entity an error refers to, so the
// presentation layer can render a message without parsing strings.
type ErrorContext struct {
	Op     string
	Entity string
	ID     string
}

func (c ErrorContext) prefix() string {
	var parts []string
	if c.Op != "" {
		parts = append(parts, c.Op)
	}
	if c.Entity != "" {
		if c.ID != "" {
			parts = append(parts, c.Entity+" "+c.ID)
		} else {
			parts = append(parts, c.Entity)
		}
	}
	return strings.Join(parts, " ")
}

func format(ctx ErrorContext, kind, msg string, err error) string {
	var b strings.Builder
	if p := ctx.prefix(); p != "" {
		b.WriteString(p)
		b.WriteString(": ")
	}
	b.WriteString(kind)
	if msg != "" {
		b.WriteString(": ")
		b.WriteString(msg)
	}
	if err != nil {
		b.WriteString(": ")
		b.WriteString(err.Error())
	}
	return b.String()
}

// ValidationError reports malformed input: negative amount, unknown category,
// end odometer below start odometer.
type ValidationError struct {
	ErrorContext
	Field string
	Err   error
}

func (e *ValidationError) Error() string {
	msg := ""
	if e.Field != "" {
		msg = "field " + e.Field
	}
	return format(e.ErrorContext, ErrValidation.Error(), msg, e.Err)
}

func (e *ValidationError) Is(target error) bool { return target == ErrValidation }
func (e *ValidationError) Unwrap() error         { return e.Err }

// StateError reports an operation that is invalid for the current lifecycle
// state, e.g. finalizing a trip that is not started.
type StateError struct {
	ErrorContext
	Current string
	Reason  string
}

func (e *StateError) Error() string {
	msg := e.Reason
	if e.Current != "" {
		msg = fmt.Sprintf("%s (current status %q)", e.Reason, e.Current)
	}
	return format(e.ErrorContext, ErrState.Error(), msg, nil)
}

func (e *StateError) Is(target error) bool { return target == ErrState }

// ConflictError reports a violated uniqueness invariant.
type ConflictError struct {
	ErrorContext
	Reason string
	Err    error
}

func (e *ConflictError) Error() string {
	return format(e.ErrorContext, ErrConflict.Error(), e.Reason, e.Err)
}

func (e *ConflictError) Is(target error) bool { return target == ErrConflict }
func (e *ConflictError) Unwrap() error         { return e.Err }

// DependencyError wraps a failed Record Store, Blob Store or broker call.
// The caller may always retry it.
type DependencyError struct {
	ErrorContext
	Dependency string
	Err        error
}

func (e *DependencyError) Error() string {
	return format(e.ErrorContext, e.Dependency+" "+ErrDependency.Error(), "", e.Err)
}

func (e *DependencyError) Is(target error) bool { return target == ErrDependency }
func (e *DependencyError) Unwrap() error         { return e.Err }

// Retryable is always true: the core never retries internally.
func (e *DependencyError) Retryable() bool { return true }

// NotFoundError reports an entity that does not exist in the caller's
// organization.
type NotFoundError struct {
	ErrorContext
}

func (e *NotFoundError) Error() string {
	return format(e.ErrorContext, ErrNotFound.Error(), "", nil)
}

func (e *NotFoundError) Is(target error) bool { return target == ErrNotFound }

// Invalid builds a ValidationError.
func Invalid(op, entity, id, field string, err error) *ValidationError {
	return &ValidationError{ErrorContext: ErrorContext{Op: op, Entity: entity, ID: id}, Field: field, Err: err}
}

// InvalidState builds a StateError.
func InvalidState(op, entity, id, current, reason string) *StateError {
	return &StateError{ErrorContext: ErrorContext{Op: op, Entity: entity, ID: id}, Current: current, Reason: reason}
}

// Conflict builds a ConflictError.
func Conflict(op, entity, id, reason string, err error) *ConflictError {
	return &ConflictError{ErrorContext: ErrorContext{Op: op, Entity: entity, ID: id}, Reason: reason, Err: err}
}

// DependencyFailed builds a DependencyError.
func DependencyFailed(op, entity, id, dependency string, err error) *DependencyError {
	return &DependencyError{ErrorContext: ErrorContext{Op: op, Entity: entity, ID: id}, Dependency: dependency, Err: err}
}

// NotFound builds a NotFoundError.
func NotFound(op, entity, id string) *NotFoundError {
	return &NotFoundError{ErrorContext: ErrorContext{Op: op, Entity: entity, ID: id}}
}

// Entity names used in error contexts and log fields.
const (
	EntityTruck        = "truck"
	EntityDriver       = "driver"
	EntityTrip         = "trip"
	EntityExpense      = "expense"
	EntityIncome       = "income"
	EntityExpenseImage = "expense_image"
)
