// Package errors defines the typed error returned by the context budget core.
package errors

import (
	stderrors "errors"
	"fmt"
)

// ErrorCode is a machine-readable error classification.
type ErrorCode string

const (
	// ErrCodeSessionNotFound indicates a mutation or statistics call addressed a missing session.
	ErrCodeSessionNotFound ErrorCode = "SESSION_NOT_FOUND"
	// ErrCodeSessionAlreadyExists indicates CreateSession was called with an id already in use.
	ErrCodeSessionAlreadyExists ErrorCode = "SESSION_ALREADY_EXISTS"
	// ErrCodeInvalidConfig indicates structurally invalid configuration.
	ErrCodeInvalidConfig ErrorCode = "INVALID_CONFIG"
	// ErrCodeInvalidArgument indicates invalid input parameters.
	ErrCodeInvalidArgument ErrorCode = "INVALID_ARGUMENT"
	// ErrCodeCompressionFailed annotates an entry the compressor could not shrink.
	ErrCodeCompressionFailed ErrorCode = "COMPRESSION_FAILED"
	// ErrCodeManagerDestroyed indicates the manager was used after Destroy.
	ErrCodeManagerDestroyed ErrorCode = "MANAGER_DESTROYED"
)

// ContextError is the single error type raised by the context budget core.
type ContextError struct {
	Code    ErrorCode
	Message string
	Cause   error
	Details map[string]any
}

// Error implements the error interface.
func (e *ContextError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause.
func (e *ContextError) Unwrap() error {
	return e.Cause
}

// WithDetail attaches a structured detail to the error.
func (e *ContextError) WithDetail(key string, value any) *ContextError {
	if e.Details == nil {
		e.Details = make(map[string]any)
	}
	e.Details[key] = value
	return e
}

// SessionNotFound creates a SESSION_NOT_FOUND error for the given id.
func SessionNotFound(sessionID string) *ContextError {
	return (&ContextError{
		Code:    ErrCodeSessionNotFound,
		Message: fmt.Sprintf("session not found: %s", sessionID),
	}).WithDetail("session_id", sessionID)
}

// SessionAlreadyExists creates a SESSION_ALREADY_EXISTS error for the given id.
func SessionAlreadyExists(sessionID string) *ContextError {
	return (&ContextError{
		Code:    ErrCodeSessionAlreadyExists,
		Message: fmt.Sprintf("session already exists: %s", sessionID),
	}).WithDetail("session_id", sessionID)
}

// InvalidConfig creates an INVALID_CONFIG error.
func InvalidConfig(msg string) *ContextError {
	return &ContextError{Code: ErrCodeInvalidConfig, Message: msg}
}

// InvalidArgument creates an INVALID_ARGUMENT error.
func InvalidArgument(msg string) *ContextError {
	return &ContextError{Code: ErrCodeInvalidArgument, Message: msg}
}

// CompressionFailed wraps a summarizer failure.
func CompressionFailed(entryID string, cause error) *ContextError {
	return (&ContextError{
		Code:    ErrCodeCompressionFailed,
		Message: "compression failed",
		Cause:   cause,
	}).WithDetail("entry_id", entryID)
}

// ManagerDestroyed creates a MANAGER_DESTROYED error.
func ManagerDestroyed() *ContextError {
	return &ContextError{Code: ErrCodeManagerDestroyed, Message: "context manager has been destroyed"}
}

// IsCode reports whether err, or any error it wraps, is a ContextError with code.
func IsCode(err error, code ErrorCode) bool {
	var ce *ContextError
	if stderrors.As(err, &ce) {
		return ce.Code == code
	}
	return false
}

// GetCodeFromError extracts the error code from any error.
// Returns the provided default code if the error is not a ContextError.
func GetCodeFromError(err error, defaultCode ErrorCode) ErrorCode {
	var ce *ContextError
	if stderrors.As(err, &ce) {
		return ce.Code
	}
	return defaultCode
}
