package errors

import (
	stderrors "errors"
	"fmt"
)

// ErrorCode represents a logsift error code.
type ErrorCode string

const (
	ErrInvalidRequest  ErrorCode = "INVALID_REQUEST"   // 400
	ErrInvalidEvent    ErrorCode = "INVALID_EVENT"     // 400
	ErrNotFound        ErrorCode = "NOT_FOUND"         // 404
	ErrRulesLoadFailed ErrorCode = "RULES_LOAD_FAILED" // 422
	ErrStorage         ErrorCode = "STORAGE"           // 500
	ErrInternal        ErrorCode = "INTERNAL"          // 500
	ErrEngineStopped   ErrorCode = "ENGINE_STOPPED"    // 503
)

// LogsiftError represents a structured error with code, status, and details.
type LogsiftError struct {
	Code    ErrorCode
	Status  int
	Message string
	Details map[string]any
	Err     error
}

// Error implements the error interface.
func (e *LogsiftError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause, if any.
func (e *LogsiftError) Unwrap() error {
	return e.Err
}

// NewInvalidRequest creates a 400 error for invalid request parameters.
func NewInvalidRequest(msg string) *LogsiftError {
	return &LogsiftError{
		Code:    ErrInvalidRequest,
		Status:  400,
		Message: msg,
	}
}

// NewInvalidEvent creates a 400 error for an ingest line that could not be decoded.
func NewInvalidEvent(err error) *LogsiftError {
	msg := "malformed event"
	if err != nil {
		msg = fmt.Sprintf("malformed event: %v", err)
	}
	return &LogsiftError{
		Code:    ErrInvalidEvent,
		Status:  400,
		Message: msg,
		Err:     err,
	}
}

// NewNotFound creates a 404 error for a missing file or origin.
func NewNotFound(identifier string) *LogsiftError {
	return &LogsiftError{
		Code:    ErrNotFound,
		Status:  404,
		Message: fmt.Sprintf("not found: %s", identifier),
		Details: map[string]any{"identifier": identifier},
	}
}

// NewRulesLoadFailed creates a 422 error when a rule file cannot be loaded.
// The previously loaded rules stay active.
func NewRulesLoadFailed(path string, err error) *LogsiftError {
	return &LogsiftError{
		Code:    ErrRulesLoadFailed,
		Status:  422,
		Message: fmt.Sprintf("failed to load rules from %s: %v", path, err),
		Details: map[string]any{"path": path},
		Err:     err,
	}
}

// NewStorage creates a 500 error for a failed database operation on one origin.
func NewStorage(origin, op string, err error) *LogsiftError {
	return &LogsiftError{
		Code:    ErrStorage,
		Status:  500,
		Message: fmt.Sprintf("%s %s: %v", op, origin, err),
		Details: map[string]any{"origin": origin, "op": op},
		Err:     err,
	}
}

// NewEngineStopped creates a 503 error for commands submitted after shutdown.
func NewEngineStopped() *LogsiftError {
	return &LogsiftError{
		Code:    ErrEngineStopped,
		Status:  503,
		Message: "store engine is stopped",
	}
}

// NewInternal creates a 500 error for unexpected internal errors.
func NewInternal(err error) *LogsiftError {
	msg := "internal error"
	if err != nil {
		msg = err.Error()
	}
	return &LogsiftError{
		Code:    ErrInternal,
		Status:  500,
		Message: msg,
		Err:     err,
	}
}

// Is checks if an error is (or wraps) a LogsiftError with the given code.
func Is(err error, code ErrorCode) bool {
	var lErr *LogsiftError
	if stderrors.As(err, &lErr) {
		return lErr.Code == code
	}
	return false
}

// StatusOf returns the HTTP status for err, defaulting to 500.
func StatusOf(err error) int {
	var lErr *LogsiftError
	if stderrors.As(err, &lErr) && lErr.Status != 0 {
		return lErr.Status
	}
	return 500
}
