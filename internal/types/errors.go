package types

import (
	"errors"
	"fmt"
	"strings"
)

// ErrorCode is a typed string for categorizing application errors.
type ErrorCode string

// Complete error code constants. All components MUST use these constants
// instead of hardcoded strings so operators can alert on code prefixes.
const (
	// Validation (permanent, never retried)
	ErrCodeValidationMalformed    ErrorCode = "validation_malformed_event"
	ErrCodeValidationUnknownType  ErrorCode = "validation_unknown_event_type"
	ErrCodeValidationMissingField ErrorCode = "validation_missing_required_field"
	ErrCodeValidationTemplate     ErrorCode = "validation_template_missing"

	// Transport (channel send failures, classified for retryability)
	ErrCodeTransportTimeout   ErrorCode = "transport_timeout"
	ErrCodeTransportServer    ErrorCode = "transport_server_error"
	ErrCodeTransportRateLimit ErrorCode = "transport_rate_limited"
	ErrCodeTransportRejected  ErrorCode = "transport_permanent_rejection"

	// Resilience kernel
	ErrCodeCircuitOpen      ErrorCode = "circuit_open"
	ErrCodeExhaustedRetries ErrorCode = "exhausted_retries"

	// Internal/infrastructure (transient at the queue tier)
	ErrCodeInternalDB         ErrorCode = "internal_database_error"
	ErrCodeInternalQueue      ErrorCode = "internal_queue_error"
	ErrCodeInternalUnexpected ErrorCode = "internal_unexpected_error"
)

// IsValidation reports whether the code is a permanent validation failure.
func (c ErrorCode) IsValidation() bool {
	return strings.HasPrefix(string(c), "validation_")
}

// AppError is the standard application error type used throughout the
// platform. All domain errors should be expressed as AppError to enable
// consistent formatting, classification, and error chain support.
type AppError struct {
	Code    ErrorCode      `json:"code"`
	Message string         `json:"message"`
	Err     error          `json:"-"`
	Details map[string]any `json:"details,omitempty"`
}

// Error implements the error interface.
func (e *AppError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying error for errors.Is/errors.As support.
func (e *AppError) Unwrap() error {
	return e.Err
}

// WithDetails returns a copy of the error with the provided details merged in.
func (e *AppError) WithDetails(details map[string]any) *AppError {
	merged := make(map[string]any, len(e.Details)+len(details))
	for k, v := range e.Details {
		merged[k] = v
	}
	for k, v := range details {
		merged[k] = v
	}
	return &AppError{
		Code:    e.Code,
		Message: e.Message,
		Err:     e.Err,
		Details: merged,
	}
}

// NewAppError creates a new AppError with the given code, message, and
// optional underlying error.
func NewAppError(code ErrorCode, message string, err error) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// NewAppErrorWithDetails creates a new AppError carrying structured details.
func NewAppErrorWithDetails(code ErrorCode, message string, err error, details map[string]any) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Err:     err,
		Details: details,
	}
}

// CodeOf extracts the ErrorCode from an error chain. Returns
// ErrCodeInternalUnexpected when no AppError is present.
func CodeOf(err error) ErrorCode {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code
	}
	return ErrCodeInternalUnexpected
}
