package services

import (
	"errors"
	"fmt"
)

// ErrorType represents the type/category of error
type ErrorType string

const (
	ErrorTypeNotFound      ErrorType = "not_found"
	ErrorTypeValidation    ErrorType = "validation"
	ErrorTypeUnauthorized  ErrorType = "unauthorized"
	ErrorTypeForbidden     ErrorType = "forbidden"
	ErrorTypeRateLimit     ErrorType = "rate_limit"
	ErrorTypeInternal      ErrorType = "internal"
	ErrorTypeExternal      ErrorType = "external"
	ErrorTypeConfiguration ErrorType = "configuration"
)

// DomainError represents a structured error with additional context
type DomainError struct {
	Type    ErrorType
	Message string
	Err     error
	Details map[string]interface{}
}

// Error implements the error interface
func (e *DomainError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s (%v)", e.Type, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// Unwrap implements errors.Unwrap
func (e *DomainError) Unwrap() error {
	return e.Err
}

// Is matches any DomainError of the same type
func (e *DomainError) Is(target error) bool {
	t, ok := target.(*DomainError)
	if !ok {
		return false
	}
	return e.Type == t.Type
}

// WithDetail adds a detail to the error
func (e *DomainError) WithDetail(key string, value interface{}) *DomainError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// Wrap returns a copy of e with cause err and its own details map
func (e *DomainError) Wrap(err error) *DomainError {
	details := make(map[string]interface{}, len(e.Details))
	for k, v := range e.Details {
		details[k] = v
	}
	return &DomainError{Type: e.Type, Message: e.Message, Err: err, Details: details}
}

// NewDomainError creates a new domain error
func NewDomainError(errType ErrorType, message string, err error) *DomainError {
	return &DomainError{
		Type:    errType,
		Message: message,
		Err:     err,
		Details: make(map[string]interface{}),
	}
}

// Sentinels for errors.Is comparisons. Return them through Wrap so
// details never land on the shared value.
var (
	ErrTenantNotFound   = NewDomainError(ErrorTypeNotFound, "tenant not found", nil)
	ErrDocumentNotFound = NewDomainError(ErrorTypeNotFound, "document not found", nil)

	ErrEmptyQuery = NewDomainError(ErrorTypeValidation, "query cannot be empty", nil)

	ErrRateLimitExceeded = NewDomainError(ErrorTypeRateLimit, "rate_limit_exceeded", nil)

	ErrProviderUnavailable = NewDomainError(ErrorTypeExternal, "generation provider unavailable", nil)
	ErrEmbeddingFailed     = NewDomainError(ErrorTypeExternal, "embedding failed", nil)

	ErrDimensionMismatch = NewDomainError(ErrorTypeConfiguration, "embedding dimension mismatch", nil)
)

// Error type checking helper functions

func hasType(err error, t ErrorType) bool {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Type == t
	}
	return false
}

// IsNotFoundError checks if an error is a not found error
func IsNotFoundError(err error) bool { return hasType(err, ErrorTypeNotFound) }

// IsValidationError checks if an error is a validation error
func IsValidationError(err error) bool { return hasType(err, ErrorTypeValidation) }

// IsUnauthorizedError checks if an error is an unauthorized error
func IsUnauthorizedError(err error) bool { return hasType(err, ErrorTypeUnauthorized) }

// IsForbiddenError checks if an error is a forbidden error
func IsForbiddenError(err error) bool { return hasType(err, ErrorTypeForbidden) }

// IsRateLimitError checks if an error is a rate limit error
func IsRateLimitError(err error) bool { return hasType(err, ErrorTypeRateLimit) }

// IsInternalError checks if an error is an internal error
func IsInternalError(err error) bool { return hasType(err, ErrorTypeInternal) }

// IsExternalError checks if an error is an external service error
func IsExternalError(err error) bool { return hasType(err, ErrorTypeExternal) }

// IsConfigurationError checks if an error is a configuration error
func IsConfigurationError(err error) bool { return hasType(err, ErrorTypeConfiguration) }

// GetErrorType returns the ErrorType of a domain error, or empty string if not a domain error
func GetErrorType(err error) ErrorType {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Type
	}
	return ""
}

// GetErrorDetails returns the details map of a domain error, or nil if not a domain error
func GetErrorDetails(err error) map[string]interface{} {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Details
	}
	return nil
}

// WrapError wraps an error with additional context
func WrapError(errType ErrorType, message string, err error) error {
	return NewDomainError(errType, message, err)
}

// WrapInternal wraps an error as an internal error
func WrapInternal(message string, err error) error {
	return NewDomainError(ErrorTypeInternal, message, err)
}

// WrapExternal wraps an error as an external service error
func WrapExternal(message string, err error) error {
	return NewDomainError(ErrorTypeExternal, message, err)
}

// NewRateLimitError builds a rate limit error carrying the fields a caller
// needs to back off without parsing the message
func NewRateLimitError(retryAfter, limit, window int, plan string) *DomainError {
	return ErrRateLimitExceeded.Wrap(nil).
		WithDetail("retry_after", retryAfter).
		WithDetail("limit", limit).
		WithDetail("window", window).
		WithDetail("plan", plan)
}
