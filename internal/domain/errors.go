package domain

import (
	"errors"
	"fmt"
)

// ErrorCode classifies a domain validation failure.
type ErrorCode string

const (
	CodeInvalidStatus     ErrorCode = "invalid_status"
	CodeInvalidArgument   ErrorCode = "invalid_argument"
	CodeInsufficientStock ErrorCode = "insufficient_stock"
	CodeNotFound          ErrorCode = "not_found"
	CodeAlreadyExists     ErrorCode = "already_exists"
	CodeDiscontinued      ErrorCode = "discontinued"
)

// ErrUnknownEvent is returned by replay under the strict unknown-event policy.
var ErrUnknownEvent = errors.New("unknown event type")

// DomainError is a failed command precondition. No event is produced.
type DomainError struct {
	Code    ErrorCode
	Message string
}

func (e *DomainError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func newError(code ErrorCode, format string, args ...any) error {
	return &DomainError{Code: code, Message: fmt.Sprintf(format, args...)}
}

// NotFound builds the error command paths raise for a missing aggregate.
func NotFound(aggregateType, id string) error {
	return newError(CodeNotFound, "%s %s not found", aggregateType, id)
}

// InvalidArgument builds an invalid_argument domain error.
func InvalidArgument(format string, args ...any) error {
	return newError(CodeInvalidArgument, format, args...)
}

// IsDomainError reports whether err is (or wraps) a DomainError.
func IsDomainError(err error) bool {
	var de *DomainError
	return errors.As(err, &de)
}

// HasCode reports whether err is a DomainError with the given code.
func HasCode(err error, code ErrorCode) bool {
	var de *DomainError
	return errors.As(err, &de) && de.Code == code
}

// AlreadyExists builds the error raised when creating an aggregate whose id
// already has events.
func AlreadyExists(aggregateType, id string) error {
	return newError(CodeAlreadyExists, "%s %s already exists", aggregateType, id)
}
