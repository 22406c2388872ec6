package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	messagingapp "github.com/campus/messaging/internal/application/messaging"
	"github.com/campus/messaging/internal/domain/messaging"
	"github.com/campus/messaging/internal/domain/shared"
	"github.com/campus/messaging/internal/infrastructure/logger"
	"github.com/campus/messaging/internal/infrastructure/telemetry"
	"github.com/campus/messaging/internal/interfaces/http/dto"
	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// inboundFrame is a client event with its payload left raw until the
// handler for its type decodes it
type inboundFrame struct {
	Type      messaging.EventType `json:"type"`
	RequestID string              `json:"request_id"`
	Data      json.RawMessage     `json:"data"`
}

type connectedData struct {
	UserID       uuid.UUID `json:"user_id"`
	ConnectionID string    `json:"connection_id"`
	NodeID       string    `json:"node_id"`
}

type typingData struct {
	ReceiverID     uuid.UUID  `json:"receiver_id"`
	ConversationID *uuid.UUID `json:"conversation_id"`
	IsTyping       bool       `json:"is_typing"`
}

type readData struct {
	ConversationID *uuid.UUID `json:"conversation_id"`
	MessageID      *int64     `json:"message_id"`
}

// conversationQuery selects history by conversation or by the other user
// of a direct conversation
type conversationQuery struct {
	ConversationID *uuid.UUID `json:"conversation_id"`
	UserID         *uuid.UUID `json:"user_id"`
	Limit          int        `json:"limit"`
	Before         *int64     `json:"before"`
}

type onlineUsersData struct {
	Users []uuid.UUID `json:"users"`
	Count int         `json:"count"`
}

type pongData struct {
	Timestamp string `json:"timestamp"`
}

// eventHandler serves one inbound type. Failures are reported to the
// client as errorEvent.
type eventHandler struct {
	handle     func(ctx context.Context, c *Client, f inboundFrame) error
	errorEvent messaging.EventType
}

func (g *Gateway) eventHandlers() map[messaging.EventType]eventHandler {
	return map[messaging.EventType]eventHandler{
		messaging.EventSendMessage:     {g.onSendMessage, messaging.EventMessageError},
		messaging.EventTyping:          {g.onTyping, messaging.EventError},
		messaging.EventMessageRead:     {g.onMessageRead, messaging.EventMessageError},
		messaging.EventGetConversation: {g.onGetConversation, messaging.EventConversationError},
		messaging.EventGetOnlineUsers:  {g.onGetOnlineUsers, messaging.EventError},
		messaging.EventUserLogout:      {g.onUserLogout, messaging.EventError},
		messaging.EventPing:            {g.onPing, messaging.EventError},
	}
}

// dispatch handles one frame. Every frame counts against the rate limit,
// malformed ones included.
func (g *Gateway) dispatch(ctx context.Context, c *Client, raw []byte) {
	if !c.limiter.Allow() {
		g.reply(c, "", messaging.EventError, messaging.ErrorNotice{
			Code:    dto.ErrCodeRateLimited,
			Message: "Too many events, slow down",
		})
		return
	}

	var f inboundFrame
	if err := json.Unmarshal(raw, &f); err != nil {
		g.fail(ctx, c, "", messaging.EventError, shared.NewValidation("malformed event"))
		return
	}
	h, ok := g.handlers[f.Type]
	if !ok {
		g.fail(ctx, c, f.RequestID, messaging.EventError, shared.NewValidation("unknown event type"))
		return
	}

	ctx, span := telemetry.Start(ctx, "realtime", string(f.Type),
		telemetry.AttrEvent.String(string(f.Type)))
	defer span.End()

	if err := h.handle(ctx, c, f); err != nil {
		telemetry.Fail(span, err)
		g.fail(ctx, c, f.RequestID, h.errorEvent, err)
	}
}

// reply queues an event for this client only; a full queue drops the client
func (g *Gateway) reply(c *Client, requestID string, typ messaging.EventType, data any) {
	payload, err := json.Marshal(messaging.Event{Type: typ, RequestID: requestID, Data: data})
	if err != nil {
		g.logger.Error("Failed to encode realtime event", logger.EventType(string(typ)), zap.Error(err))
		return
	}
	if !c.enqueue(payload) {
		c.close()
	}
}

func (g *Gateway) fail(ctx context.Context, c *Client, requestID string, typ messaging.EventType, err error) {
	notice := messaging.ErrorNotice{Code: dto.ErrCodeInternal, Message: "An unexpected error occurred"}

	var domainErr *shared.DomainError
	if errors.As(err, &domainErr) {
		notice.Code, _ = dto.FromDomainCode(domainErr.Code)
		notice.Message = domainErr.Message
		if shared.IsRetryable(err) {
			logger.LWithFallback(ctx, g.logger).Warn("Realtime event failed", zap.Error(err))
		}
	} else {
		logger.LWithFallback(ctx, g.logger).Error("Realtime event failed", zap.Error(err))
	}
	g.reply(c, requestID, typ, notice)
}

func decodeData(f inboundFrame, v any) error {
	if len(f.Data) == 0 || string(f.Data) == "null" {
		return shared.NewValidation("event data is required")
	}
	if err := json.Unmarshal(f.Data, v); err != nil {
		return shared.NewValidation("malformed event data")
	}
	return nil
}

func validationError(err error) error {
	var fields validator.ValidationErrors
	if errors.As(err, &fields) && len(fields) > 0 {
		return shared.NewValidation("invalid " + fields[0].Field())
	}
	return shared.NewValidation("invalid event data")
}

func (g *Gateway) onSendMessage(ctx context.Context, c *Client, f inboundFrame) error {
	var req dto.SendMessageRequest
	if err := decodeData(f, &req); err != nil {
		return err
	}
	if err := binding.Validator.ValidateStruct(&req); err != nil {
		return validationError(err)
	}

	result, err := g.delivery.Send(ctx, req.ToCommand(c.userID, c.identity.DisplayName()))
	if err != nil {
		return err
	}
	g.reply(c, f.RequestID, messaging.EventMessageSent, result)
	return nil
}

func (g *Gateway) onTyping(ctx context.Context, c *Client, f inboundFrame) error {
	var data typingData
	if err := decodeData(f, &data); err != nil {
		return err
	}
	return g.delivery.Typing(ctx, c.userID, data.ReceiverID, data.ConversationID, data.IsTyping)
}

func (g *Gateway) onMessageRead(ctx context.Context, c *Client, f inboundFrame) error {
	var data readData
	if err := decodeData(f, &data); err != nil {
		return err
	}
	_, err := g.delivery.MarkRead(ctx, messagingapp.MarkReadCommand{
		UserID:         c.userID,
		ConversationID: data.ConversationID,
		MessageID:      data.MessageID,
	})
	return err
}

func (g *Gateway) onGetConversation(ctx context.Context, c *Client, f inboundFrame) error {
	var q conversationQuery
	if err := decodeData(f, &q); err != nil {
		return err
	}
	page := messaging.PageQuery{Limit: q.Limit, Before: q.Before}

	switch {
	case q.ConversationID != nil:
		history, err := g.delivery.FetchHistory(ctx, c.userID, *q.ConversationID, page)
		if err != nil {
			return err
		}
		g.reply(c, f.RequestID, messaging.EventConversationData, messagingapp.NewPageView(*q.ConversationID, history))
	case q.UserID != nil:
		conversationID, history, err := g.delivery.FetchWithUser(ctx, c.userID, *q.UserID, page)
		if err != nil {
			return err
		}
		g.reply(c, f.RequestID, messaging.EventConversationData, messagingapp.NewPageView(conversationID, history))
	default:
		return shared.NewValidation("conversation_id or user_id is required")
	}
	return nil
}

func (g *Gateway) onGetOnlineUsers(ctx context.Context, c *Client, f inboundFrame) error {
	users, err := g.presence.OnlineUsers(ctx)
	if err != nil {
		return err
	}
	g.reply(c, f.RequestID, messaging.EventOnlineUsersData, onlineUsersData{Users: users, Count: len(users)})
	return nil
}

// onUserLogout revokes the token, clears presence and closes every local
// connection of the user
func (g *Gateway) onUserLogout(ctx context.Context, c *Client, _ inboundFrame) error {
	log := logger.LWithFallback(ctx, g.logger)
	if err := g.verifier.Revoke(ctx, c.identity); err != nil {
		log.Warn("Failed to revoke token on logout", zap.Error(err))
	}
	if err := g.presence.Logout(ctx, c.userID); err != nil {
		return err
	}
	for _, client := range g.hub.snapshot(c.userID) {
		client.markLoggedOut()
	}
	closed := g.hub.DisconnectUser(c.userID)
	log.Info("User logged out", zap.Int("connections_closed", closed))
	return nil
}

func (g *Gateway) onPing(ctx context.Context, c *Client, f inboundFrame) error {
	g.heartbeat(ctx, c)
	g.reply(c, f.RequestID, messaging.EventPong, pongData{Timestamp: time.Now().UTC().Format(time.RFC3339)})
	return nil
}
