package apierr

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/onnwee/swrcache/internal/logger"
)

// ErrorCode represents a structured error code
type ErrorCode string

// Error code constants organized by category
const (
	// CACHE_ - Cache lookup errors
	ErrCacheMiss         ErrorCode = "CACHE_MISS"
	ErrCacheOfflineEmpty ErrorCode = "CACHE_OFFLINE_NO_DATA"

	// UPSTREAM_ - Producer errors
	ErrUpstreamFailed      ErrorCode = "UPSTREAM_FAILED"
	ErrUpstreamNotFound    ErrorCode = "UPSTREAM_NOT_FOUND"
	ErrUpstreamUnavailable ErrorCode = "UPSTREAM_UNAVAILABLE"
	ErrUpstreamNotConfig   ErrorCode = "UPSTREAM_NOT_CONFIGURED"

	// SYSTEM_ - System and server errors
	ErrSystemInternal ErrorCode = "SYSTEM_INTERNAL"
	ErrSystemTimeout  ErrorCode = "SYSTEM_TIMEOUT"

	// VALIDATION_ - Request validation errors
	ErrValidationMissingField ErrorCode = "VALIDATION_MISSING_FIELD"
	ErrValidationInvalidValue ErrorCode = "VALIDATION_INVALID_VALUE"
)

// Error represents a structured API error
type Error struct {
	Code      ErrorCode              `json:"code"`
	Message   string                 `json:"message"`
	Details   map[string]interface{} `json:"details,omitempty"`
	RequestID string                 `json:"request_id,omitempty"`
	status    int                    // HTTP status code (not serialized)
}

// ErrorResponse is the top-level error response wrapper
type ErrorResponse struct {
	Error *Error `json:"error"`
}

// New creates a new API error
func New(code ErrorCode, message string, status int) *Error {
	return &Error{
		Code:    code,
		Message: message,
		status:  status,
	}
}

// WithDetails adds details to the error
func (e *Error) WithDetails(details map[string]interface{}) *Error {
	e.Details = details
	return e
}

// WithRequestID adds a request ID to the error
func (e *Error) WithRequestID(requestID string) *Error {
	e.RequestID = requestID
	return e
}

// Error implements the error interface
func (e *Error) Error() string {
	return string(e.Code) + ": " + e.Message
}

// Status returns the HTTP status code
func (e *Error) Status() int {
	return e.status
}

// WriteError writes a structured error response to the HTTP response writer
func WriteError(w http.ResponseWriter, err *Error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(err.Status())
	json.NewEncoder(w).Encode(ErrorResponse{Error: err})
}

// CacheMiss is returned when a key is not cached and no fetch was requested.
func CacheMiss(key string) *Error {
	return New(ErrCacheMiss, "Key is not cached", http.StatusNotFound).
		WithDetails(map[string]interface{}{"key": key})
}

// CacheOfflineEmpty is returned when offline with nothing cached for key.
func CacheOfflineEmpty(key string) *Error {
	return New(ErrCacheOfflineEmpty, "Offline and no cached data", http.StatusServiceUnavailable).
		WithDetails(map[string]interface{}{"key": key})
}

// UpstreamFailed creates a producer failure error
func UpstreamFailed(message string) *Error {
	if message == "" {
		message = "Upstream request failed"
	}
	return New(ErrUpstreamFailed, message, http.StatusBadGateway)
}

// UpstreamNotFound is returned when the upstream has no document for key.
func UpstreamNotFound(key string) *Error {
	return New(ErrUpstreamNotFound, "Upstream has no document for key", http.StatusNotFound).
		WithDetails(map[string]interface{}{"key": key})
}

// UpstreamUnavailable is returned while the upstream circuit is open.
func UpstreamUnavailable() *Error {
	return New(ErrUpstreamUnavailable, "Upstream temporarily unavailable", http.StatusServiceUnavailable)
}

// UpstreamNotConfigured is returned when no upstream base URL is set.
func UpstreamNotConfigured() *Error {
	return New(ErrUpstreamNotConfig, "Upstream not configured", http.StatusServiceUnavailable)
}

// SystemInternal creates an internal server error
func SystemInternal(message string) *Error {
	if message == "" {
		message = "Internal server error"
	}
	return New(ErrSystemInternal, message, http.StatusInternalServerError)
}

// SystemTimeout creates a system timeout error
func SystemTimeout(message string) *Error {
	if message == "" {
		message = "Request timeout"
	}
	return New(ErrSystemTimeout, message, http.StatusGatewayTimeout)
}

// ValidationMissingField creates a missing field error
func ValidationMissingField(field string) *Error {
	return New(ErrValidationMissingField, "Missing required field: "+field, http.StatusBadRequest).
		WithDetails(map[string]interface{}{"field": field})
}

// ValidationInvalidValue creates an invalid value error
func ValidationInvalidValue(field string, message string) *Error {
	if message == "" {
		message = "Invalid value for field: " + field
	}
	return New(ErrValidationInvalidValue, message, http.StatusBadRequest).
		WithDetails(map[string]interface{}{"field": field})
}

// GetRequestID extracts the request ID from the context
func GetRequestID(ctx context.Context) string {
	if reqID, ok := ctx.Value(logger.RequestIDKey).(string); ok {
		return reqID
	}
	return ""
}

// WriteErrorWithContext writes a structured error response with request ID from context
func WriteErrorWithContext(w http.ResponseWriter, r *http.Request, err *Error) {
	if reqID := GetRequestID(r.Context()); reqID != "" {
		err = err.WithRequestID(reqID)
	}
	WriteError(w, err)
}
