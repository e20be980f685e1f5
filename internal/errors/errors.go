// Package errors defines the structured errors returned by the HTTP API.
package errors

import (
	"fmt"
	"net/http"
)

// ErrorCode is the machine readable code in an error response.
type ErrorCode string

const (
	// ErrValidationFailed is returned when input data fails validation
	ErrValidationFailed ErrorCode = "VALIDATION_FAILED"
	// ErrMissingField is returned when a required field is missing
	ErrMissingField ErrorCode = "MISSING_FIELD"
	// ErrInvalidFormat is returned when the body is not the expected JSON
	ErrInvalidFormat ErrorCode = "INVALID_FORMAT"
	// ErrInvalidIndex is returned when a record index is out of range
	ErrInvalidIndex ErrorCode = "INVALID_INDEX"
	// ErrConflict is returned when the client's data version is stale
	ErrConflict ErrorCode = "CONFLICT"
	// ErrUnauthorized is returned when the username is missing
	ErrUnauthorized ErrorCode = "UNAUTHORIZED"
	// ErrForbidden is returned to anyone but the admin on admin routes
	ErrForbidden ErrorCode = "FORBIDDEN"
	// ErrRateLimited is returned when a user sends too many writes
	ErrRateLimited ErrorCode = "RATE_LIMITED"
	// ErrPayloadTooLarge is returned when a request body exceeds the limit
	ErrPayloadTooLarge ErrorCode = "PAYLOAD_TOO_LARGE"
	// ErrNotInitialized is returned while the record store is not loaded
	ErrNotInitialized ErrorCode = "NOT_INITIALIZED"
	// ErrNotImplemented is returned for optional features that are disabled
	ErrNotImplemented ErrorCode = "NOT_IMPLEMENTED"
	// ErrInternal is returned when an unexpected server error occurs
	ErrInternal ErrorCode = "INTERNAL_ERROR"
)

// ErrorWithStatus is an error that knows its HTTP response.
type ErrorWithStatus interface {
	Error() string
	StatusCode() int
	Code() ErrorCode
	Details() map[string]any
}

// APIError is the ErrorWithStatus returned by handlers.
type APIError struct {
	statusCode int
	code       ErrorCode
	message    string
	details    map[string]any
	wrappedErr error
}

// NewAPIError creates a new APIError with the given status code and message.
func NewAPIError(statusCode int, code ErrorCode, message string) *APIError {
	return &APIError{statusCode: statusCode, code: code, message: message}
}

// WithDetail adds a detail to the error response.
func (e *APIError) WithDetail(key string, value any) *APIError {
	if e.details == nil {
		e.details = make(map[string]any)
	}
	e.details[key] = value
	return e
}

// Wrap records the underlying cause. Its text is appended to the message.
func (e *APIError) Wrap(err error) *APIError {
	e.wrappedErr = err
	return e
}

func (e *APIError) Error() string {
	if e.wrappedErr != nil {
		return fmt.Sprintf("%s: %v", e.message, e.wrappedErr)
	}
	return e.message
}

// StatusCode returns the HTTP status code.
func (e *APIError) StatusCode() int {
	return e.statusCode
}

// Code returns the error code.
func (e *APIError) Code() ErrorCode {
	return e.code
}

// Details returns additional error details, nil when there are none.
func (e *APIError) Details() map[string]any {
	return e.details
}

func (e *APIError) Unwrap() error {
	return e.wrappedErr
}

// BadRequest creates a 400 error for invalid input.
func BadRequest(message string) *APIError {
	return NewAPIError(http.StatusBadRequest, ErrValidationFailed, message)
}

// MissingField creates a 400 error for a missing field.
func MissingField(fieldName string) *APIError {
	return NewAPIError(http.StatusBadRequest, ErrMissingField, fmt.Sprintf("Missing required field: %s", fieldName))
}

// InvalidIndex returns a 400 error for an out of range record index.
func InvalidIndex(message string) *APIError {
	return NewAPIError(http.StatusBadRequest, ErrInvalidIndex, message)
}

// Unauthorized returns a 401 error.
func Unauthorized(message string) *APIError {
	return NewAPIError(http.StatusUnauthorized, ErrUnauthorized, message)
}

// Forbidden returns a 403 error.
func Forbidden(message string) *APIError {
	return NewAPIError(http.StatusForbidden, ErrForbidden, message)
}

// Conflict returns a 409 error carrying the version the client should reload.
func Conflict(message, currentVersion string) *APIError {
	return NewAPIError(http.StatusConflict, ErrConflict, message).WithDetail("current_version", currentVersion)
}

// PayloadTooLarge returns a 413 error for an oversized request body.
func PayloadTooLarge(limit int64) *APIError {
	return NewAPIError(http.StatusRequestEntityTooLarge, ErrPayloadTooLarge, "Request body too large").WithDetail("limit", limit)
}

// RateLimited returns a 429 error.
func RateLimited() *APIError {
	return NewAPIError(http.StatusTooManyRequests, ErrRateLimited, "Rate limit exceeded")
}

// InternalWithError creates a 500 error wrapping an underlying error.
func InternalWithError(message string, err error) *APIError {
	return NewAPIError(http.StatusInternalServerError, ErrInternal, message).Wrap(err)
}

// NotImplemented creates a 501 error for a disabled feature.
func NotImplemented(feature string) *APIError {
	return NewAPIError(http.StatusNotImplemented, ErrNotImplemented, fmt.Sprintf("%s is not enabled", feature))
}

// NotInitialized returns a 503 error while the record store is not loaded.
func NotInitialized() *APIError {
	return NewAPIError(http.StatusServiceUnavailable, ErrNotInitialized, "Record store is not initialized")
}
