// Package apperror provides structured error handling for the barcode service.
// All allocation and transport errors must use AppError for consistent API responses.
package apperror

import (
	"errors"
	"fmt"
	"net/http"
)

// Error codes
const (
	// Infrastructure errors (5xx)
	CodeInternal         = "INTERNAL_ERROR"
	CodeStoreUnavailable = "STORE_UNAVAILABLE"
	CodeTimeout          = "TIMEOUT"
	CodeQueueFull        = "QUEUE_FULL"
	CodeShuttingDown     = "SHUTTING_DOWN"

	// Caller errors (400)
	CodeInvalidRequest = "INVALID_REQUEST"
	CodeRangeExhausted = "RANGE_EXHAUSTED"

	// Authorization errors (401/403)
	CodeUnauthorized = "UNAUTHORIZED"
	CodeForbidden    = "FORBIDDEN"

	CodeNotFound = "NOT_FOUND"

	// Concurrent mutation detected by the store (409)
	CodeConflict = "CONFLICT"
)

// AppError is the standard error type for the service.
// It implements error interface and provides structured details for API responses.
type AppError struct {
	// Code is a machine-readable error identifier
	Code string `json:"code"`

	// Message is a human-readable error description
	Message string `json:"message"`

	// Details contains additional context (scope, counts, etc.)
	Details map[string]any `json:"details,omitempty"`

	// HTTPStatus is the suggested HTTP status code
	HTTPStatus int `json:"-"`

	// Err is the underlying error (not exposed in JSON)
	Err error `json:"-"`
}

// Error implements error interface
func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying error for errors.Is/As support
func (e *AppError) Unwrap() error {
	return e.Err
}

// WithDetail adds a key-value pair to error details
func (e *AppError) WithDetail(key string, value any) *AppError {
	if e.Details == nil {
		e.Details = make(map[string]any)
	}
	e.Details[key] = value
	return e
}

// WithCause sets the underlying error
func (e *AppError) WithCause(err error) *AppError {
	e.Err = err
	return e
}

// --- Factory functions ---

// NewInvalidRequest creates a validation error (400).
func NewInvalidRequest(message string) *AppError {
	return &AppError{
		Code:       CodeInvalidRequest,
		Message:    message,
		HTTPStatus: http.StatusBadRequest,
	}
}

// NewRangeExhausted is returned when a scope has no room left for the requested block.
// Recovering requires an operator to open a new prefix or week.
func NewRangeExhausted(scope string, requested int) *AppError {
	return &AppError{
		Code:       CodeRangeExhausted,
		Message:    "serial range exhausted, configure a new prefix or week/shift code",
		HTTPStatus: http.StatusBadRequest,
		Details:    map[string]any{"scope": scope, "requested": requested},
	}
}

// NewStoreUnavailable wraps a transport or IO failure of the sequence store (500).
// Retrying the whole request is safe.
func NewStoreUnavailable(err error) *AppError {
	return &AppError{
		Code:       CodeStoreUnavailable,
		Message:    "store unavailable",
		HTTPStatus: http.StatusInternalServerError,
		Err:        err,
	}
}

// NewConflict reports a concurrent mutation the engine did not serialize (409).
func NewConflict(scope string) *AppError {
	return &AppError{
		Code:       CodeConflict,
		Message:    "sequence was modified concurrently",
		HTTPStatus: http.StatusConflict,
		Details:    map[string]any{"scope": scope},
	}
}

// NewTimeout creates an admission timeout error (504).
// Server-side state may or may not have advanced.
func NewTimeout(waited string) *AppError {
	return &AppError{
		Code:       CodeTimeout,
		Message:    "request timed out waiting for allocation",
		HTTPStatus: http.StatusGatewayTimeout,
		Details:    map[string]any{"waited": waited},
	}
}

// NewQueueFull is returned when the admission queue is at capacity (503).
func NewQueueFull(depth int) *AppError {
	return &AppError{
		Code:       CodeQueueFull,
		Message:    "allocation queue is full",
		HTTPStatus: http.StatusServiceUnavailable,
		Details:    map[string]any{"depth": depth},
	}
}

// NewShuttingDown is returned for requests rejected during shutdown (503).
func NewShuttingDown() *AppError {
	return &AppError{
		Code:       CodeShuttingDown,
		Message:    "service is shutting down",
		HTTPStatus: http.StatusServiceUnavailable,
	}
}

// NewUnauthorized creates an authentication error (401)
func NewUnauthorized(message string) *AppError {
	return &AppError{
		Code:       CodeUnauthorized,
		Message:    message,
		HTTPStatus: http.StatusUnauthorized,
	}
}

// NewForbidden creates an authorization error (403)
func NewForbidden(message string) *AppError {
	return &AppError{
		Code:       CodeForbidden,
		Message:    message,
		HTTPStatus: http.StatusForbidden,
	}
}

// NewNotFound reports an unknown sequence scope (404).
func NewNotFound(scope string) *AppError {
	return &AppError{
		Code:       CodeNotFound,
		Message:    "sequence not found",
		HTTPStatus: http.StatusNotFound,
		Details:    map[string]any{"scope": scope},
	}
}

// NewInternal creates an internal server error (hides details from client)
func NewInternal(err error) *AppError {
	return &AppError{
		Code:       CodeInternal,
		Message:    "Internal server error",
		HTTPStatus: http.StatusInternalServerError,
		Err:        err,
	}
}

// --- Helper functions ---

// AsAppError extracts AppError from error chain
func AsAppError(err error) (*AppError, bool) {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr, true
	}
	return nil, false
}

// Code returns the AppError code of err, or CodeInternal for foreign errors.
func Code(err error) string {
	if appErr, ok := AsAppError(err); ok {
		return appErr.Code
	}
	return CodeInternal
}

// Is reports whether err carries the given code.
func Is(err error, code string) bool {
	if appErr, ok := AsAppError(err); ok {
		return appErr.Code == code
	}
	return false
}

// GetHTTPStatus returns appropriate HTTP status for any error
func GetHTTPStatus(err error) int {
	if appErr, ok := AsAppError(err); ok {
		return appErr.HTTPStatus
	}
	return http.StatusInternalServerError
}
