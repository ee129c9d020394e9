package apperror

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// Type categorizes an AppError for logging and HTTP status mapping.
type Type string

const (
	TypeValidation  Type = "validation"
	TypeNotFound    Type = "not_found"
	TypeConflict    Type = "conflict"
	TypeRateLimit   Type = "rate_limit"
	TypeInternal    Type = "internal"
	TypeExternal    Type = "external"
	TypeTimeout     Type = "timeout"
	TypeDatabase    Type = "database"
	TypeCache       Type = "cache"
	TypeUnavailable Type = "unavailable"
)

// AppError is a structured application error carrying enough context to
// both log usefully and answer an HTTP request without re-deriving status
// codes at the call site.
type AppError struct {
	Type          Type                   `json:"type"`
	Code          string                 `json:"code"`
	Message       string                 `json:"message"`
	Details       string                 `json:"details,omitempty"`
	CorrelationID string                 `json:"correlation_id,omitempty"`
	Timestamp     time.Time              `json:"timestamp"`
	Metadata      map[string]interface{} `json:"metadata,omitempty"`
	Cause         error                  `json:"-"`
	HTTPStatus    int                    `json:"-"`
}

func (e *AppError) Error() string {
	if e.Details != "" {
		return fmt.Sprintf("%s: %s - %s", e.Code, e.Message, e.Details)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Cause
}

// ToJSON serializes the error for an HTTP error response body.
func (e *AppError) ToJSON() ([]byte, error) {
	return json.Marshal(e)
}

// New creates a new AppError with a default HTTP status for its type.
func New(errType Type, code, message string) *AppError {
	return &AppError{
		Type:       errType,
		Code:       code,
		Message:    message,
		Timestamp:  time.Now().UTC(),
		HTTPStatus: defaultHTTPStatus(errType),
	}
}

// NewWithCause creates an AppError wrapping an underlying error.
func NewWithCause(errType Type, code, message string, cause error) *AppError {
	err := New(errType, code, message)
	err.Cause = cause
	if cause != nil {
		err.Details = cause.Error()
	}
	return err
}

func (e *AppError) WithCorrelationID(id string) *AppError {
	e.CorrelationID = id
	return e
}

func (e *AppError) WithDetails(details string) *AppError {
	e.Details = details
	return e
}

func (e *AppError) WithMetadata(key string, value interface{}) *AppError {
	if e.Metadata == nil {
		e.Metadata = make(map[string]interface{})
	}
	e.Metadata[key] = value
	return e
}

func (e *AppError) WithHTTPStatus(status int) *AppError {
	e.HTTPStatus = status
	return e
}

func defaultHTTPStatus(errType Type) int {
	switch errType {
	case TypeValidation:
		return http.StatusBadRequest
	case TypeNotFound:
		return http.StatusNotFound
	case TypeConflict:
		return http.StatusConflict
	case TypeRateLimit:
		return http.StatusTooManyRequests
	case TypeTimeout:
		return http.StatusRequestTimeout
	case TypeUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// NewValidationError creates a validation error naming the offending field.
func NewValidationError(field, message string) *AppError {
	return New(TypeValidation, "VALIDATION_ERROR", message).WithMetadata("field", field)
}

// NewNotFoundError creates a not-found error for the given resource kind.
func NewNotFoundError(resource string) *AppError {
	return New(TypeNotFound, "NOT_FOUND", fmt.Sprintf("%s not found", resource)).
		WithMetadata("resource", resource)
}

// NewConflictError creates a conflict error, used for idempotency-key collisions.
func NewConflictError(message string) *AppError {
	return New(TypeConflict, "CONFLICT", message)
}

// NewRateLimitError creates a rate-limit error.
func NewRateLimitError(limit int, window string) *AppError {
	return New(TypeRateLimit, "RATE_LIMIT_EXCEEDED", "rate limit exceeded").
		WithMetadata("limit", limit).
		WithMetadata("window", window)
}

// NewInternalError wraps an unexpected failure.
func NewInternalError(message string, cause error) *AppError {
	return NewWithCause(TypeInternal, "INTERNAL_ERROR", message, cause)
}

// NewDatabaseError wraps a failed outbox store operation.
func NewDatabaseError(operation string, cause error) *AppError {
	return NewWithCause(TypeDatabase, "DATABASE_ERROR",
		fmt.Sprintf("database operation failed: %s", operation), cause).
		WithMetadata("operation", operation)
}

// NewCacheError wraps a failed Redis accelerator-cache operation. Callers
// should treat this as non-fatal: the cache is never the source of truth.
func NewCacheError(operation string, cause error) *AppError {
	return NewWithCause(TypeCache, "CACHE_ERROR",
		fmt.Sprintf("cache operation failed: %s", operation), cause).
		WithMetadata("operation", operation)
}

// NewTimeoutError wraps a deadline exceeded error.
func NewTimeoutError(operation string, timeout time.Duration) *AppError {
	return New(TypeTimeout, "TIMEOUT", fmt.Sprintf("operation timed out: %s", operation)).
		WithMetadata("operation", operation).
		WithMetadata("timeout", timeout.String())
}

// NewExternalError wraps a failure from a push provider or other external service.
func NewExternalError(service, operation string, cause error) *AppError {
	return NewWithCause(TypeExternal, "EXTERNAL_ERROR",
		fmt.Sprintf("external service error: %s", service), cause).
		WithMetadata("service", service).
		WithMetadata("operation", operation)
}

// IsType reports whether err is an *AppError of the given type.
func IsType(err error, errType Type) bool {
	if appErr, ok := err.(*AppError); ok {
		return appErr.Type == errType
	}
	return false
}

// GetType returns the AppError's type, if err is one.
func GetType(err error) (Type, bool) {
	if appErr, ok := err.(*AppError); ok {
		return appErr.Type, true
	}
	return "", false
}
