package types

import (
	"errors"
	"fmt"
)

// ErrorCode represents a unified error code across the framework.
type ErrorCode string

// Membership error codes
const (
	ErrPeerUnreachable   ErrorCode = "PEER_UNREACHABLE"
	ErrMalformedEnvelope ErrorCode = "MALFORMED_ENVELOPE"
	ErrJoinFailed        ErrorCode = "JOIN_FAILED"
)

// Distributor error codes
const (
	ErrNoAvailableNode ErrorCode = "NO_AVAILABLE_NODE"
	ErrDispatchFailed  ErrorCode = "DISPATCH_FAILED"
	ErrQueueFull       ErrorCode = "QUEUE_FULL"
	ErrNodeExists      ErrorCode = "NODE_EXISTS"
	ErrNodeNotFound    ErrorCode = "NODE_NOT_FOUND"
)

// Configuration error codes
const (
	ErrInvalidConfig ErrorCode = "INVALID_CONFIG"
)

// Error represents a structured error with code, message, and metadata.
type Error struct {
	Code      ErrorCode `json:"code"`
	Message   string    `json:"message"`
	Retryable bool      `json:"retryable"`
	Cause     error     `json:"-"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Cause
}

// NewError creates a new Error with the given code and message.
func NewError(code ErrorCode, message string) *Error {
	return &Error{
		Code:      code,
		Message:   message,
		Retryable: retryable(code),
	}
}

// WrapError creates a new Error wrapping an underlying cause.
func WrapError(code ErrorCode, message string, cause error) *Error {
	return &Error{
		Code:      code,
		Message:   message,
		Retryable: retryable(code),
		Cause:     cause,
	}
}

// CodeOf extracts the ErrorCode from err, or "" if err is not an *Error.
func CodeOf(err error) ErrorCode {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// IsRetryable reports whether err is a transient condition that a later
// cycle may recover from.
func IsRetryable(err error) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Retryable
	}
	return false
}

// retryable classifies codes by the recovery model: transient network and
// capacity conditions retry on the next cycle, everything else does not.
func retryable(code ErrorCode) bool {
	switch code {
	case ErrPeerUnreachable, ErrNoAvailableNode, ErrDispatchFailed, ErrQueueFull, ErrJoinFailed:
		return true
	default:
		return false
	}
}
