package handler

import (
	notificationapp "github.com/campus/messaging/internal/application/notification"
	"github.com/campus/messaging/internal/domain/shared"
	"github.com/campus/messaging/internal/interfaces/http/dto"
	"github.com/campus/messaging/internal/interfaces/http/middleware"
	"github.com/gin-gonic/gin"
)

// NotificationHandler serves the in-app notification inbox
type NotificationHandler struct {
	BaseHandler
	inbox *notificationapp.Service
}

// NewNotificationHandler creates a new NotificationHandler
func NewNotificationHandler(inbox *notificationapp.Service) *NotificationHandler {
	return &NotificationHandler{inbox: inbox}
}

// List godoc
// @Summary      List notifications
// @Tags         notifications
// @Param        unread_only query bool false "Only unread entries"
// @Param        limit query int false "Page size (max 100)"
// @Param        offset query int false "Offset"
// @Success      200 {object} dto.Response
// @Router       /notifications [get]
func (h *NotificationHandler) List(c *gin.Context) {
	userID, ok := h.caller(c)
	if !ok {
		return
	}
	var req dto.NotificationListRequest
	if !middleware.BindQuery(c, &req) {
		return
	}
	page := shared.Pagination{Limit: req.Limit, Offset: req.Offset}.
		Normalize(notificationapp.DefaultPageSize, notificationapp.MaxPageSize)

	result, err := h.inbox.List(c.Request.Context(), userID, req.UnreadOnly, page)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.SuccessWithMeta(c, result, result.Total, page.Limit, page.Offset)
}

// UnreadCount returns the number of unread notifications
func (h *NotificationHandler) UnreadCount(c *gin.Context) {
	userID, ok := h.caller(c)
	if !ok {
		return
	}
	n, err := h.inbox.CountUnread(c.Request.Context(), userID)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, dto.CountResponse{Count: n})
}

// MarkRead flags one notification as read
func (h *NotificationHandler) MarkRead(c *gin.Context) {
	userID, ok := h.caller(c)
	if !ok {
		return
	}
	id, ok := h.uuidParam(c, "id")
	if !ok {
		return
	}
	if err := h.inbox.MarkRead(c.Request.Context(), id, userID); err != nil {
		h.HandleError(c, err)
		return
	}
	h.NoContent(c)
}

// MarkAllRead flags every unread notification
func (h *NotificationHandler) MarkAllRead(c *gin.Context) {
	userID, ok := h.caller(c)
	if !ok {
		return
	}
	n, err := h.inbox.MarkAllRead(c.Request.Context(), userID)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, dto.CountResponse{Count: n})
}

// Delete removes one notification
func (h *NotificationHandler) Delete(c *gin.Context) {
	userID, ok := h.caller(c)
	if !ok {
		return
	}
	id, ok := h.uuidParam(c, "id")
	if !ok {
		return
	}
	if err := h.inbox.Delete(c.Request.Context(), id, userID); err != nil {
		h.HandleError(c, err)
		return
	}
	h.NoContent(c)
}
