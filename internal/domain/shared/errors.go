package shared

import "errors"

// Error codes. Every error leaving a store or the delivery pipeline carries
// one of these.
const (
	CodeUnauthorized      = "UNAUTHORIZED"
	CodeForbidden         = "FORBIDDEN"
	CodeNotFound          = "NOT_FOUND"
	CodeConflict          = "CONFLICT"
	CodeValidation        = "VALIDATION_ERROR"
	CodeTransient         = "TRANSIENT"
	CodeBestEffortFailure = "BEST_EFFORT_FAILURE"
)

// DomainError represents a domain-level error
type DomainError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	cause   error
}

// Error implements the error interface
func (e *DomainError) Error() string {
	if e.cause != nil {
		return e.Message + ": " + e.cause.Error()
	}
	return e.Message
}

// Unwrap exposes the underlying cause
func (e *DomainError) Unwrap() error {
	return e.cause
}

// Is matches any DomainError with the same code, so
// errors.Is(err, shared.ErrForbidden) holds for every forbidden error.
func (e *DomainError) Is(target error) bool {
	t, ok := target.(*DomainError)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

// NewDomainError creates a new domain error
func NewDomainError(code, message string) *DomainError {
	return &DomainError{Code: code, Message: message}
}

// Wrap attaches cause to a new error with code and message
func Wrap(code, message string, cause error) *DomainError {
	return &DomainError{Code: code, Message: message, cause: cause}
}

// Common domain errors
var (
	ErrUnauthorized = NewDomainError(CodeUnauthorized, "Missing or invalid credentials")
	ErrForbidden    = NewDomainError(CodeForbidden, "Access to this resource is forbidden")
	ErrNotFound     = NewDomainError(CodeNotFound, "Resource not found")
	ErrConflict     = NewDomainError(CodeConflict, "Resource was created concurrently")
	ErrValidation   = NewDomainError(CodeValidation, "Invalid input provided")
	ErrTransient    = NewDomainError(CodeTransient, "Temporarily unavailable, retry later")
	ErrBestEffort   = NewDomainError(CodeBestEffortFailure, "Best-effort side effect failed")
)

func NewForbidden(message string) *DomainError  { return NewDomainError(CodeForbidden, message) }
func NewNotFound(message string) *DomainError   { return NewDomainError(CodeNotFound, message) }
func NewValidation(message string) *DomainError { return NewDomainError(CodeValidation, message) }

// NewTransient marks cause as retryable
func NewTransient(message string, cause error) *DomainError {
	return Wrap(CodeTransient, message, cause)
}

// CodeOf returns the code of the first DomainError in err's chain, or "".
func CodeOf(err error) string {
	var de *DomainError
	if errors.As(err, &de) {
		return de.Code
	}
	return ""
}

// IsRetryable reports whether the caller may safely retry the operation.
func IsRetryable(err error) bool {
	return CodeOf(err) == CodeTransient
}
