package handler

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/campus/messaging/internal/domain/shared"
	"github.com/campus/messaging/internal/infrastructure/logger"
	"github.com/campus/messaging/internal/interfaces/http/dto"
	"github.com/campus/messaging/internal/interfaces/http/middleware"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// BaseHandler provides common handler utilities
type BaseHandler struct{}

func getRequestID(c *gin.Context) string {
	return middleware.GetRequestID(c)
}

// getUserID returns the authenticated caller or false
func getUserID(c *gin.Context) (uuid.UUID, bool) {
	id := middleware.GetJWTUserID(c)
	return id, id != uuid.Nil
}

// Success sends a success response
func (h *BaseHandler) Success(c *gin.Context, data any) {
	c.JSON(http.StatusOK, dto.NewSuccessResponse(data))
}

// SuccessWithMeta sends a success response with pagination meta
func (h *BaseHandler) SuccessWithMeta(c *gin.Context, data any, total int64, limit, offset int) {
	c.JSON(http.StatusOK, dto.NewSuccessResponseWithMeta(data, total, limit, offset))
}

// Created sends a 201 created response
func (h *BaseHandler) Created(c *gin.Context, data any) {
	c.JSON(http.StatusCreated, dto.NewSuccessResponse(data))
}

// NoContent sends a 204 no content response
func (h *BaseHandler) NoContent(c *gin.Context) {
	c.Status(http.StatusNoContent)
}

// Error sends an error response with the appropriate status code
func (h *BaseHandler) Error(c *gin.Context, statusCode int, code, message string) {
	c.JSON(statusCode, dto.NewErrorResponseWithRequestID(code, message, getRequestID(c)))
}

// BadRequest sends a 400 bad request response
func (h *BaseHandler) BadRequest(c *gin.Context, message string) {
	h.Error(c, http.StatusBadRequest, dto.ErrCodeBadRequest, message)
}

// Unauthorized sends a 401 unauthorized response
func (h *BaseHandler) Unauthorized(c *gin.Context, message string) {
	h.Error(c, http.StatusUnauthorized, dto.ErrCodeUnauthorized, message)
}

// HandleError converts domain errors to the response envelope. Anything
// without a code is logged and reported as an internal error.
func (h *BaseHandler) HandleError(c *gin.Context, err error) {
	if err == nil {
		return
	}

	var domainErr *shared.DomainError
	if errors.As(err, &domainErr) {
		code, status := dto.FromDomainCode(domainErr.Code)
		if status >= http.StatusInternalServerError {
			logger.L(c.Request.Context()).Warn("request failed", zap.Error(err))
		}
		h.Error(c, status, code, domainErr.Message)
		return
	}

	logger.L(c.Request.Context()).Error("unexpected error", zap.Error(err))
	h.Error(c, http.StatusInternalServerError, dto.ErrCodeInternal, "An unexpected error occurred")
}

// caller returns the authenticated user, writing a 401 when absent
func (h *BaseHandler) caller(c *gin.Context) (uuid.UUID, bool) {
	userID, ok := getUserID(c)
	if !ok {
		h.Unauthorized(c, "Authentication required")
	}
	return userID, ok
}

// uuidParam parses a path parameter, writing a 400 when malformed
func (h *BaseHandler) uuidParam(c *gin.Context, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param(name))
	if err != nil {
		h.BadRequest(c, "Invalid "+name)
		return uuid.Nil, false
	}
	return id, true
}

// messageIDParam parses the numeric message id path parameter
func (h *BaseHandler) messageIDParam(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		h.BadRequest(c, "Invalid message id")
		return 0, false
	}
	return id, true
}

func parseUUIDs(raw []string) ([]uuid.UUID, error) {
	out := make([]uuid.UUID, 0, len(raw))
	for _, s := range raw {
		id, err := uuid.Parse(s)
		if err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, nil
}
