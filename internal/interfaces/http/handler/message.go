package handler

import (
	messagingapp "github.com/campus/messaging/internal/application/messaging"
	"github.com/campus/messaging/internal/domain/messaging"
	"github.com/campus/messaging/internal/interfaces/http/dto"
	"github.com/campus/messaging/internal/interfaces/http/middleware"
	"github.com/gin-gonic/gin"
)

// MessageHandler exposes the delivery pipeline over REST
type MessageHandler struct {
	BaseHandler
	delivery *messagingapp.DeliveryService
}

// NewMessageHandler creates a new MessageHandler
func NewMessageHandler(delivery *messagingapp.DeliveryService) *MessageHandler {
	return &MessageHandler{delivery: delivery}
}

// Send godoc
// @Summary      Send a message
// @Description  Stores the message, delivers it to online recipients and
// @Description  pushes a notification to the rest. Returns 201 once stored.
// @Tags         messages
// @Param        request body dto.SendMessageRequest true "Message"
// @Success      201 {object} dto.Response
// @Failure      403 {object} dto.Response
// @Failure      503 {object} dto.Response
// @Router       /messages/send [post]
func (h *MessageHandler) Send(c *gin.Context) {
	userID, ok := h.caller(c)
	if !ok {
		return
	}
	var req dto.SendMessageRequest
	if !middleware.BindJSON(c, &req) {
		return
	}

	senderName := ""
	if identity := middleware.GetIdentity(c); identity != nil {
		senderName = identity.DisplayName()
	}

	result, err := h.delivery.Send(c.Request.Context(), req.ToCommand(userID, senderName))
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Created(c, result)
}

// History godoc
// @Summary      Conversation history
// @Description  Newest first. Pass next_before from the previous page as
// @Description  before to continue.
// @Tags         messages
// @Param        id path string true "Conversation ID"
// @Param        limit query int false "Page size (max 100)"
// @Param        before query int false "Return messages older than this id"
// @Success      200 {object} dto.Response
// @Router       /messages/conversation/{id} [get]
func (h *MessageHandler) History(c *gin.Context) {
	userID, ok := h.caller(c)
	if !ok {
		return
	}
	conversationID, ok := h.uuidParam(c, "id")
	if !ok {
		return
	}
	var req dto.HistoryRequest
	if !middleware.BindQuery(c, &req) {
		return
	}

	page, err := h.delivery.FetchHistory(c.Request.Context(), userID, conversationID, pageQuery(req))
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, messagingapp.NewPageView(conversationID, page))
}

// WithUser returns history of the direct conversation with another user,
// empty when the two never talked.
//
// GET /api/v1/messages/user/:userId
func (h *MessageHandler) WithUser(c *gin.Context) {
	userID, ok := h.caller(c)
	if !ok {
		return
	}
	otherID, ok := h.uuidParam(c, "userId")
	if !ok {
		return
	}
	var req dto.HistoryRequest
	if !middleware.BindQuery(c, &req) {
		return
	}

	conversationID, page, err := h.delivery.FetchWithUser(c.Request.Context(), userID, otherID, pageQuery(req))
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, messagingapp.NewPageView(conversationID, page))
}

func pageQuery(req dto.HistoryRequest) messaging.PageQuery {
	return messaging.PageQuery{Limit: req.Limit, Offset: req.Offset, Before: req.Before}
}

// MarkRead moves the caller's read cursor up to the message
//
// PUT /api/v1/messages/:id/read
func (h *MessageHandler) MarkRead(c *gin.Context) {
	userID, ok := h.caller(c)
	if !ok {
		return
	}
	messageID, ok := h.messageIDParam(c)
	if !ok {
		return
	}

	result, err := h.delivery.MarkRead(c.Request.Context(), messagingapp.MarkReadCommand{
		UserID:    userID,
		MessageID: &messageID,
	})
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, result)
}

// Edit replaces the content of the caller's own message
//
// PUT /api/v1/messages/:id
func (h *MessageHandler) Edit(c *gin.Context) {
	userID, ok := h.caller(c)
	if !ok {
		return
	}
	messageID, ok := h.messageIDParam(c)
	if !ok {
		return
	}
	var req dto.EditMessageRequest
	if !middleware.BindJSON(c, &req) {
		return
	}

	msg, err := h.delivery.Edit(c.Request.Context(), messaging.EditCommand{
		MessageID:   messageID,
		RequesterID: userID,
		Content:     req.Content,
	})
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, messagingapp.NewMessageView(msg))
}

// Delete soft-deletes the caller's own message
//
// DELETE /api/v1/messages/:id
func (h *MessageHandler) Delete(c *gin.Context) {
	userID, ok := h.caller(c)
	if !ok {
		return
	}
	messageID, ok := h.messageIDParam(c)
	if !ok {
		return
	}
	if err := h.delivery.Delete(c.Request.Context(), messageID, userID); err != nil {
		h.HandleError(c, err)
		return
	}
	h.NoContent(c)
}

// React toggles an emoji reaction
//
// POST /api/v1/messages/:id/reactions
func (h *MessageHandler) React(c *gin.Context) {
	userID, ok := h.caller(c)
	if !ok {
		return
	}
	messageID, ok := h.messageIDParam(c)
	if !ok {
		return
	}
	var req dto.ReactRequest
	if !middleware.BindJSON(c, &req) {
		return
	}

	msg, err := h.delivery.React(c.Request.Context(), messaging.ReactCommand{
		MessageID: messageID,
		UserID:    userID,
		Emoji:     req.Emoji,
	})
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, messagingapp.NewMessageView(msg))
}

// UnreadCount returns the caller's unread total
//
// GET /api/v1/messages/unread/count
func (h *MessageHandler) UnreadCount(c *gin.Context) {
	userID, ok := h.caller(c)
	if !ok {
		return
	}
	n, err := h.delivery.UnreadCount(c.Request.Context(), userID)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, dto.CountResponse{Count: n})
}
