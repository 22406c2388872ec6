package handler

import (
	messagingapp "github.com/campus/messaging/internal/application/messaging"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// PresenceHandler answers presence queries
type PresenceHandler struct {
	BaseHandler
	presence *messagingapp.PresenceService
}

// NewPresenceHandler creates a new PresenceHandler
func NewPresenceHandler(presence *messagingapp.PresenceService) *PresenceHandler {
	return &PresenceHandler{presence: presence}
}

// OnlineUsersResponse lists users with a live connection
type OnlineUsersResponse struct {
	Users []uuid.UUID `json:"users"`
	Count int         `json:"count"`
}

// Online lists online users
//
// GET /api/v1/presence/online
func (h *PresenceHandler) Online(c *gin.Context) {
	if _, ok := h.caller(c); !ok {
		return
	}
	users, err := h.presence.OnlineUsers(c.Request.Context())
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, OnlineUsersResponse{Users: users, Count: len(users)})
}

// Status returns a user's status and whether they are typing to the caller
//
// GET /api/v1/presence/:userId
func (h *PresenceHandler) Status(c *gin.Context) {
	viewerID, ok := h.caller(c)
	if !ok {
		return
	}
	userID, ok := h.uuidParam(c, "userId")
	if !ok {
		return
	}
	h.Success(c, h.presence.Status(c.Request.Context(), viewerID, userID))
}
