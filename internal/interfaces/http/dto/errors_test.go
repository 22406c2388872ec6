package dto

import (
	"encoding/json"
	"net/http"
	"testing"

	"github.com/campus/messaging/internal/domain/shared"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFromDomainCode(t *testing.T) {
	tests := []struct {
		domain string
		code   string
		status int
	}{
		{shared.CodeUnauthorized, ErrCodeUnauthorized, http.StatusUnauthorized},
		{shared.CodeForbidden, ErrCodeForbidden, http.StatusForbidden},
		{shared.CodeNotFound, ErrCodeNotFound, http.StatusNotFound},
		{shared.CodeConflict, ErrCodeConflict, http.StatusConflict},
		{shared.CodeValidation, ErrCodeValidation, http.StatusBadRequest},
		{shared.CodeTransient, ErrCodeUnavailable, http.StatusServiceUnavailable},
		{shared.CodeBestEffortFailure, ErrCodeInternal, http.StatusInternalServerError},
		{"SOMETHING_NEW", ErrCodeInternal, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.domain, func(t *testing.T) {
			code, status := FromDomainCode(tt.domain)
			assert.Equal(t, tt.code, code)
			assert.Equal(t, tt.status, status)
		})
	}
}

func TestHTTPStatus(t *testing.T) {
	assert.Equal(t, http.StatusRequestEntityTooLarge, HTTPStatus(ErrCodeRequestTooLarge))
	assert.Equal(t, http.StatusTooManyRequests, HTTPStatus(ErrCodeRateLimited))
	assert.Equal(t, http.StatusUnauthorized, HTTPStatus(ErrCodeTokenExpired))
	assert.Equal(t, http.StatusInternalServerError, HTTPStatus("ERR_MADE_UP"))
}

func TestErrorResponse_Retryable(t *testing.T) {
	for code, want := range map[string]bool{
		ErrCodeUnavailable: true,
		ErrCodeRateLimited: true,
		ErrCodeValidation:  false,
		ErrCodeForbidden:   false,
	} {
		assert.Equal(t, want, NewErrorResponse(code, "x").Error.Retryable, code)
	}
}

func TestNewErrorResponseWithRequestID(t *testing.T) {
	resp := NewErrorResponseWithRequestID(ErrCodeNotFound, "Conversation not found", "req-123")

	assert.False(t, resp.Success)
	require.NotNil(t, resp.Error)
	assert.Equal(t, ErrCodeNotFound, resp.Error.Code)
	assert.Equal(t, "Conversation not found", resp.Error.Message)
	assert.Equal(t, "req-123", resp.Error.RequestID)
}

func TestNewValidationErrorResponse(t *testing.T) {
	details := []ValidationDetail{
		{Field: "content", Message: "Must be at most 4000 characters"},
		{Field: "receiver_id", Message: "Invalid UUID format"},
	}

	resp := NewValidationErrorResponse("Validation failed", "req-789", details)

	assert.False(t, resp.Success)
	require.NotNil(t, resp.Error)
	assert.Equal(t, ErrCodeValidation, resp.Error.Code)
	assert.Equal(t, "req-789", resp.Error.RequestID)
	assert.Len(t, resp.Error.Details, 2)
	assert.Equal(t, "content", resp.Error.Details[0].Field)
}

func TestErrorResponseJSON(t *testing.T) {
	data, err := json.Marshal(NewErrorResponse(ErrCodeForbidden, "not a participant"))
	require.NoError(t, err)

	assert.JSONEq(t, `{"success":false,"error":{"code":"ERR_FORBIDDEN","message":"not a participant"}}`, string(data))
}

func TestNewSuccessResponseWithMeta(t *testing.T) {
	resp := NewSuccessResponseWithMeta([]string{"a", "b"}, 42, 20, 40)

	assert.True(t, resp.Success)
	assert.Nil(t, resp.Error)
	require.NotNil(t, resp.Meta)
	assert.Equal(t, Meta{Total: 42, Limit: 20, Offset: 40}, *resp.Meta)
}
