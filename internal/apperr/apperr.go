// Package apperr defines the error taxonomy for the PWP workflow service.
//
// Every error that crosses a package boundary carries one of the codes below so
// that callers (and the HTTP layer) can branch on the kind of failure without
// parsing message text.
package apperr

import (
	"errors"
	"fmt"
)

// Code classifies an error for callers.
type Code string

const (
	// CodeValidation: bad input such as a negative amount, a malformed plan
	// code or a missing field.
	CodeValidation Code = "validation"
	// CodeInvalidTransition: the requested lifecycle transition is not legal
	// from the plan's current state.
	CodeInvalidTransition Code = "invalid_transition"
	// CodeUnauthorized: the actor is not permitted to perform the action.
	CodeUnauthorized Code = "unauthorized"
	// CodeNotFound: plan, budget account or other entity does not exist.
	CodeNotFound Code = "not_found"
	// CodeConflict: duplicate plan code, idempotency token reuse, or a
	// concurrent-write conflict from the store. Retryable after a fresh read.
	CodeConflict Code = "conflict"
	// CodeDependency: a store or external collaborator failed or timed out.
	// Retryable unconditionally since the operation is transactional.
	CodeDependency Code = "dependency"
	// CodeAccountingInvariant: a balance would go negative or exceed its
	// allocation. Always a defect signal, never expected in normal operation.
	CodeAccountingInvariant Code = "accounting_invariant"
	// CodeInternal: unclassified failure.
	CodeInternal Code = "internal"
)

// Error is the concrete error type used throughout the service.
type Error struct {
	Code    Code
	Message string
	Details map[string]string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// WithDetail attaches a key/value pair for the caller-facing payload.
func (e *Error) WithDetail(key, value string) *Error {
	if e.Details == nil {
		e.Details = make(map[string]string)
	}
	e.Details[key] = value
	return e
}

// New creates an error with the given code and message.
func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Newf creates an error with a formatted message.
func Newf(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap annotates an underlying error with a code and message. The underlying
// error is kept for logs but is never rendered to external callers.
func Wrap(err error, code Code, message string) *Error {
	return &Error{Code: code, Message: message, Err: err}
}

// NotFound reports a missing entity.
func NotFound(entity, key string) *Error {
	return Newf(CodeNotFound, "%s not found", entity).WithDetail(entity, key)
}

// InvalidInput reports a validation failure on a single field.
func InvalidInput(field, message string) *Error {
	return New(CodeValidation, message).WithDetail("field", field)
}

// InvalidTransition reports an illegal lifecycle transition with enough
// context for a UI to render an actionable message.
func InvalidTransition(planCode, from, to string) *Error {
	return Newf(CodeInvalidTransition, "cannot move plan from %s to %s", from, to).
		WithDetail("plan_code", planCode).
		WithDetail("current_state", from).
		WithDetail("requested_state", to)
}

// CodeOf extracts the code from err, or CodeInternal when err carries none.
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return CodeInternal
}

// HasCode reports whether err carries the given code.
func HasCode(err error, code Code) bool {
	return CodeOf(err) == code
}

// Detail returns the named detail from err, or "" when absent.
func Detail(err error, key string) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Details[key]
	}
	return ""
}
