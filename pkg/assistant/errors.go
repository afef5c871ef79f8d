package assistant

import (
	"fmt"

	"github.com/pkg/errors"
)

// ErrDuplicateRecord is returned by ApplyLedger.Insert when the unique
// (sessionID, requestID, createdByID) constraint is violated. The orchestrator
// treats it as "someone else created the record first" and re-reads.
var ErrDuplicateRecord = errors.New("apply ledger: duplicate record")

// ClientInputError covers malformed handles, missing fields and unsupported
// action types. Its message is surfaced verbatim.
type ClientInputError struct {
	msg string
}

func (e *ClientInputError) Error() string { return e.msg }

// NewClientInputError formats a client input error.
func NewClientInputError(format string, args ...any) error {
	return &ClientInputError{msg: fmt.Sprintf(format, args...)}
}

// IsClientInputError reports whether err is a client input error.
func IsClientInputError(err error) bool {
	var t *ClientInputError
	return errors.As(err, &t)
}

// ConflictError signals a requestId already bound to a different assistant
// turn than the one claimed by the caller.
type ConflictError struct {
	msg string
}

func (e *ConflictError) Error() string { return e.msg }

// NewConflictError formats a conflict error.
func NewConflictError(format string, args ...any) error {
	return &ConflictError{msg: fmt.Sprintf(format, args...)}
}

// IsConflictError reports whether err is a conflict error.
func IsConflictError(err error) bool {
	var t *ConflictError
	return errors.As(err, &t)
}

// NotFoundError signals an unknown session, turn, request or proposed action.
type NotFoundError struct {
	msg string
}

func (e *NotFoundError) Error() string { return e.msg }

// NewNotFoundError formats a not-found error.
func NewNotFoundError(format string, args ...any) error {
	return &NotFoundError{msg: fmt.Sprintf(format, args...)}
}

// IsNotFoundError reports whether err is a not-found error.
func IsNotFoundError(err error) bool {
	var t *NotFoundError
	return errors.As(err, &t)
}

// StaleRequestError signals an apply that targets a non-latest assistant turn.
type StaleRequestError struct {
	msg string
}

func (e *StaleRequestError) Error() string { return e.msg }

// NewStaleRequestError formats a stale-request error.
func NewStaleRequestError(format string, args ...any) error {
	return &StaleRequestError{msg: fmt.Sprintf(format, args...)}
}

// IsStaleRequestError reports whether err is a stale-request error.
func IsStaleRequestError(err error) bool {
	var t *StaleRequestError
	return errors.As(err, &t)
}

// ValidationError signals an invalid source/template graph after a mutation.
// Most execution paths convert it into a validation_failed result status; a
// composite source+template apply escalates it instead so the transaction
// rolls the source write back.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string { return e.Reason }

// NewValidationError formats a validation error.
func NewValidationError(format string, args ...any) error {
	return &ValidationError{Reason: fmt.Sprintf(format, args...)}
}

// IsValidationError reports whether err is a validation error.
func IsValidationError(err error) bool {
	var t *ValidationError
	return errors.As(err, &t)
}
