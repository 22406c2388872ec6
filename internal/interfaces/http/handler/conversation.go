package handler

import (
	"context"
	"net/http"

	messagingapp "github.com/campus/messaging/internal/application/messaging"
	"github.com/campus/messaging/internal/domain/messaging"
	"github.com/campus/messaging/internal/domain/shared"
	"github.com/campus/messaging/internal/interfaces/http/dto"
	"github.com/campus/messaging/internal/interfaces/http/middleware"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// ConversationHandler handles conversation membership endpoints
type ConversationHandler struct {
	BaseHandler
	conversations *messagingapp.ConversationService
}

// NewConversationHandler creates a new ConversationHandler
func NewConversationHandler(conversations *messagingapp.ConversationService) *ConversationHandler {
	return &ConversationHandler{conversations: conversations}
}

// Create opens a conversation. A direct conversation that already exists is
// returned with 200 instead of 201.
//
// POST /api/v1/conversations
func (h *ConversationHandler) Create(c *gin.Context) {
	userID, ok := h.caller(c)
	if !ok {
		return
	}
	var req dto.CreateConversationRequest
	if !middleware.BindJSON(c, &req) {
		return
	}
	participants, err := parseUUIDs(req.ParticipantIDs)
	if err != nil {
		h.BadRequest(c, "Invalid participant id")
		return
	}

	conv, created, err := h.conversations.Create(c.Request.Context(), messagingapp.CreateConversationCommand{
		CreatorID:      userID,
		Type:           messaging.ConversationType(req.Type),
		Name:           req.Name,
		ParticipantIDs: participants,
	})
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.respondConversation(c, conv, created)
}

// OpenDirect resolves or creates the direct conversation with another user
//
// POST /api/v1/conversations/direct
func (h *ConversationHandler) OpenDirect(c *gin.Context) {
	userID, ok := h.caller(c)
	if !ok {
		return
	}
	var req dto.OpenDirectRequest
	if !middleware.BindJSON(c, &req) {
		return
	}
	otherID := uuid.MustParse(req.UserID)

	conv, created, err := h.conversations.OpenDirect(c.Request.Context(), userID, otherID)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.respondConversation(c, conv, created)
}

func (h *ConversationHandler) respondConversation(c *gin.Context, conv *messaging.Conversation, created bool) {
	view := messagingapp.NewConversationView(conv)
	if created {
		h.Created(c, view)
		return
	}
	h.Success(c, view)
}

// List returns the caller's inbox with the last message and unread count of
// each conversation
//
// GET /api/v1/conversations
func (h *ConversationHandler) List(c *gin.Context) {
	userID, ok := h.caller(c)
	if !ok {
		return
	}
	var req dto.PageRequest
	if !middleware.BindQuery(c, &req) {
		return
	}
	page := shared.Pagination{Limit: req.Limit, Offset: req.Offset}.
		Normalize(messagingapp.DefaultConversationPageSize, messagingapp.MaxConversationPageSize)

	rows, err := h.conversations.List(c.Request.Context(), userID, page)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, messagingapp.NewConversationSummaryViews(rows))
}

// Get returns a conversation and its active participants
//
// GET /api/v1/conversations/:id
func (h *ConversationHandler) Get(c *gin.Context) {
	userID, ok := h.caller(c)
	if !ok {
		return
	}
	conversationID, ok := h.uuidParam(c, "id")
	if !ok {
		return
	}

	detail, err := h.conversations.GetDetail(c.Request.Context(), conversationID, userID)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, messagingapp.NewConversationDetailView(detail))
}

// Archive sets the archive flag; an empty body archives
//
// PUT /api/v1/conversations/:id/archive
func (h *ConversationHandler) Archive(c *gin.Context) {
	var req dto.ArchiveRequest
	h.setFlag(c, &req, func() bool { return req.IsArchived == nil || *req.IsArchived },
		h.conversations.SetArchived)
}

// Pin sets the pin flag; an empty body pins
//
// PUT /api/v1/conversations/:id/pin
func (h *ConversationHandler) Pin(c *gin.Context) {
	var req dto.PinRequest
	h.setFlag(c, &req, func() bool { return req.IsPinned == nil || *req.IsPinned },
		h.conversations.SetPinned)
}

type flagSetter func(ctx context.Context, conversationID, userID uuid.UUID, value bool) (*messaging.Conversation, error)

func (h *ConversationHandler) setFlag(c *gin.Context, req any, value func() bool, set flagSetter) {
	userID, ok := h.caller(c)
	if !ok {
		return
	}
	conversationID, ok := h.uuidParam(c, "id")
	if !ok {
		return
	}
	if c.Request.ContentLength != 0 && !middleware.BindJSON(c, req) {
		return
	}

	conv, err := set(c.Request.Context(), conversationID, userID, value())
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, messagingapp.NewConversationView(conv))
}

// Leave ends the caller's membership
//
// DELETE /api/v1/conversations/:id/leave
func (h *ConversationHandler) Leave(c *gin.Context) {
	userID, ok := h.caller(c)
	if !ok {
		return
	}
	conversationID, ok := h.uuidParam(c, "id")
	if !ok {
		return
	}
	if err := h.conversations.Leave(c.Request.Context(), conversationID, userID); err != nil {
		h.HandleError(c, err)
		return
	}
	h.NoContent(c)
}

// AddParticipantsResponse lists the users that joined
type AddParticipantsResponse struct {
	Added []uuid.UUID `json:"added"`
}

// AddParticipants adds users to a group. Only admins may call it.
//
// POST /api/v1/conversations/:id/participants
func (h *ConversationHandler) AddParticipants(c *gin.Context) {
	userID, ok := h.caller(c)
	if !ok {
		return
	}
	conversationID, ok := h.uuidParam(c, "id")
	if !ok {
		return
	}
	var req dto.AddParticipantsRequest
	if !middleware.BindJSON(c, &req) {
		return
	}
	userIDs, err := parseUUIDs(req.UserIDs)
	if err != nil {
		h.BadRequest(c, "Invalid user id")
		return
	}

	added, err := h.conversations.AddParticipants(c.Request.Context(), conversationID, userID, userIDs)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	if added == nil {
		added = []uuid.UUID{}
	}
	c.JSON(http.StatusOK, dto.NewSuccessResponse(AddParticipantsResponse{Added: added}))
}
