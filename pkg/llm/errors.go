package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// ErrorType categorizes provider errors so callers can decide what is
// worth retrying.
type ErrorType int8

const (
	// ErrorTypeRateLimit represents rate limiting errors (429, quota exceeded).
	ErrorTypeRateLimit ErrorType = iota
	// ErrorTypeTransient represents transient errors (5xx, EOF, connection reset, timeout).
	ErrorTypeTransient
	// ErrorTypeEmptyResponse represents HTTP 200 but no content errors.
	ErrorTypeEmptyResponse
	// ErrorTypeAuth represents authentication errors (401/403, bad API key).
	ErrorTypeAuth
	// ErrorTypeBadPrompt represents malformed request errors.
	ErrorTypeBadPrompt
	// ErrorTypeUnknown represents default for unclassified errors.
	ErrorTypeUnknown
)

// String returns the string representation of the error type.
func (et ErrorType) String() string {
	switch et {
	case ErrorTypeRateLimit:
		return "rate_limit"
	case ErrorTypeTransient:
		return "transient"
	case ErrorTypeEmptyResponse:
		return "empty_response"
	case ErrorTypeAuth:
		return "auth"
	case ErrorTypeBadPrompt:
		return "bad_prompt"
	case ErrorTypeUnknown:
		return "unknown"
	default:
		return "invalid"
	}
}

// Retryable reports whether requests failing with this type may succeed on
// a later attempt.
func (et ErrorType) Retryable() bool {
	switch et {
	case ErrorTypeRateLimit, ErrorTypeTransient, ErrorTypeEmptyResponse:
		return true
	default:
		return false
	}
}

// Error is a classified provider error.
type Error struct {
	Cause   error
	Message string
	Type    ErrorType
}

// NewError creates a classified error without an underlying cause.
func NewError(errType ErrorType, message string) *Error {
	return &Error{Type: errType, Message: message}
}

// NewErrorWithCause wraps an underlying provider error.
func NewErrorWithCause(errType ErrorType, cause error, message string) *Error {
	return &Error{Type: errType, Cause: cause, Message: message}
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Type, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// classifyError maps raw provider errors to classified types using status
// codes and common message patterns.
func classifyError(err error) *Error {
	if err == nil {
		return nil
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return NewErrorWithCause(ErrorTypeTransient, err, "request timeout")
	}
	if errors.Is(err, context.Canceled) {
		return NewErrorWithCause(ErrorTypeTransient, err, "request canceled")
	}

	errStr := strings.ToLower(err.Error())

	switch {
	case strings.Contains(errStr, "429") || strings.Contains(errStr, "rate") ||
		strings.Contains(errStr, "quota"):
		return NewErrorWithCause(ErrorTypeRateLimit, err, "rate limit exceeded")
	case strings.Contains(errStr, "401") || strings.Contains(errStr, "403") ||
		strings.Contains(errStr, "unauthorized") || strings.Contains(errStr, "api key"):
		return NewErrorWithCause(ErrorTypeAuth, err, "authentication failed")
	case strings.Contains(errStr, "400") || strings.Contains(errStr, "invalid") ||
		strings.Contains(errStr, "malformed") || strings.Contains(errStr, "too large"):
		return NewErrorWithCause(ErrorTypeBadPrompt, err, "bad request")
	case strings.Contains(errStr, "timeout") || strings.Contains(errStr, "connection") ||
		strings.Contains(errStr, "network") || strings.Contains(errStr, "eof") ||
		strings.Contains(errStr, "reset") || strings.Contains(errStr, "500") ||
		strings.Contains(errStr, "502") || strings.Contains(errStr, "503"):
		return NewErrorWithCause(ErrorTypeTransient, err, "network or server error")
	default:
		return NewErrorWithCause(ErrorTypeUnknown, err, "unclassified error")
	}
}
