package dto

import (
	"net/http"

	"github.com/campus/messaging/internal/domain/shared"
)

// API error codes, shared by REST responses and realtime error events
const (
	ErrCodeInternal        = "ERR_INTERNAL"
	ErrCodeUnavailable     = "ERR_UNAVAILABLE"
	ErrCodeValidation      = "ERR_VALIDATION"
	ErrCodeUnauthorized    = "ERR_UNAUTHORIZED"
	ErrCodeForbidden       = "ERR_FORBIDDEN"
	ErrCodeTokenExpired    = "ERR_TOKEN_EXPIRED"
	ErrCodeTokenInvalid    = "ERR_TOKEN_INVALID"
	ErrCodeNotFound        = "ERR_NOT_FOUND"
	ErrCodeConflict        = "ERR_CONFLICT"
	ErrCodeBadRequest      = "ERR_BAD_REQUEST"
	ErrCodeInvalidJSON     = "ERR_INVALID_JSON"
	ErrCodeRequestTooLarge = "ERR_REQUEST_TOO_LARGE"
	ErrCodeRateLimited     = "ERR_RATE_LIMITED"
)

var statusByCode = map[string]int{
	ErrCodeInternal:        http.StatusInternalServerError,
	ErrCodeUnavailable:     http.StatusServiceUnavailable,
	ErrCodeValidation:      http.StatusBadRequest,
	ErrCodeUnauthorized:    http.StatusUnauthorized,
	ErrCodeForbidden:       http.StatusForbidden,
	ErrCodeTokenExpired:    http.StatusUnauthorized,
	ErrCodeTokenInvalid:    http.StatusUnauthorized,
	ErrCodeNotFound:        http.StatusNotFound,
	ErrCodeConflict:        http.StatusConflict,
	ErrCodeBadRequest:      http.StatusBadRequest,
	ErrCodeInvalidJSON:     http.StatusBadRequest,
	ErrCodeRequestTooLarge: http.StatusRequestEntityTooLarge,
	ErrCodeRateLimited:     http.StatusTooManyRequests,
}

// BEST_EFFORT_FAILURE has no entry: it is logged, never returned
var codeByDomainCode = map[string]string{
	shared.CodeUnauthorized: ErrCodeUnauthorized,
	shared.CodeForbidden:    ErrCodeForbidden,
	shared.CodeNotFound:     ErrCodeNotFound,
	shared.CodeConflict:     ErrCodeConflict,
	shared.CodeValidation:   ErrCodeValidation,
	shared.CodeTransient:    ErrCodeUnavailable,
}

// HTTPStatus returns the status for an API code, 500 when unknown
func HTTPStatus(code string) int {
	if status, ok := statusByCode[code]; ok {
		return status
	}
	return http.StatusInternalServerError
}

// FromDomainCode translates a shared.DomainError code into the API code and
// status. Unmapped codes surface as ERR_INTERNAL.
func FromDomainCode(domainCode string) (string, int) {
	code, ok := codeByDomainCode[domainCode]
	if !ok {
		code = ErrCodeInternal
	}
	return code, HTTPStatus(code)
}

// retryable codes tell clients to back off and resend the same request
func retryable(code string) bool {
	return code == ErrCodeUnavailable || code == ErrCodeRateLimited
}
