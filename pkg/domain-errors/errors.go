// Package dErrors provides coded domain errors shared across services and
// transport. Services construct or wrap errors with a Code; handlers map the
// Code to an HTTP status without inspecting error strings.
package dErrors

import (
	"errors"
	"fmt"
	"net/http"
)

// Code classifies a domain error for programmatic handling.
type Code string

const (
	CodeInvalidInput Code = "invalid_input"
	CodeBadRequest   Code = "bad_request"
	CodeUnauthorized Code = "unauthorized"
	CodeForbidden    Code = "forbidden"
	CodeNotFound     Code = "not_found"
	CodeConflict     Code = "conflict"
	CodeInternal     Code = "internal"

	// Dual-control lifecycle codes.
	CodeInvalidReason       Code = "invalid_reason"
	CodeAlreadyDecided      Code = "already_decided"
	CodeExpired             Code = "expired"
	CodeSelfApproval        Code = "self_approval"
	CodeActiveSessionExists Code = "active_session_exists"
	CodeExecutorFailed      Code = "executor_failed"
	CodeAuditWriteFailed    Code = "audit_write_failed"
)

// DomainError carries a stable code alongside a human-readable message. It
// optionally wraps a cause for errors.Is/As chains.
type DomainError struct {
	Code    Code
	Message string
	cause   error
}

func (e *DomainError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *DomainError) Unwrap() error { return e.cause }

// New constructs a domain error with the given code and message.
func New(code Code, message string) error {
	return &DomainError{Code: code, Message: message}
}

// Newf constructs a domain error with a formatted message.
func Newf(code Code, format string, args ...any) error {
	return &DomainError{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap attaches a code and message to an underlying error. A nil cause
// returns nil so call sites can wrap unconditionally.
func Wrap(cause error, code Code, message string) error {
	if cause == nil {
		return nil
	}
	return &DomainError{Code: code, Message: message, cause: cause}
}

// HasCode reports whether any error in the chain carries the given code.
func HasCode(err error, code Code) bool {
	var de *DomainError
	if errors.As(err, &de) {
		return de.Code == code
	}
	return false
}

// CodeOf returns the code of the outermost domain error in the chain, or
// CodeInternal when the error is not coded.
func CodeOf(err error) Code {
	var de *DomainError
	if errors.As(err, &de) {
		return de.Code
	}
	return CodeInternal
}

// ToHTTPStatus maps a domain error code to an HTTP status for transport
// layers. Unknown codes map to 500 so nothing leaks as a false success.
func ToHTTPStatus(code Code) int {
	switch code {
	case CodeInvalidInput, CodeBadRequest, CodeInvalidReason:
		return http.StatusBadRequest
	case CodeUnauthorized:
		return http.StatusUnauthorized
	case CodeForbidden, CodeSelfApproval:
		return http.StatusForbidden
	case CodeNotFound:
		return http.StatusNotFound
	case CodeConflict, CodeAlreadyDecided, CodeActiveSessionExists:
		return http.StatusConflict
	case CodeExpired:
		return http.StatusGone
	case CodeExecutorFailed, CodeAuditWriteFailed:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
