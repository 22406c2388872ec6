package messaging

import "github.com/google/uuid"

// EventType names a realtime event. Inbound events are sent by clients,
// outbound events by the server.
type EventType string

// Inbound
const (
	EventSendMessage     EventType = "send_message"
	EventTyping          EventType = "typing"
	EventMessageRead     EventType = "message_read"
	EventGetConversation EventType = "get_conversation"
	EventGetOnlineUsers  EventType = "get_online_users"
	EventUserLogout      EventType = "user_logout"
	EventPing            EventType = "ping"
)

// Outbound
const (
	EventConnected          EventType = "connected"
	EventNewMessage         EventType = "new_message"
	EventMessageSent        EventType = "message_sent"
	EventMessageReadReceipt EventType = "message_read_receipt"
	EventStatusChange       EventType = "status_change"
	EventUserTyping         EventType = "user_typing"
	EventConversationData   EventType = "conversation_data"
	EventOnlineUsersData    EventType = "online_users_data"
	EventMessageEdited      EventType = "message_edited"
	EventMessageDeleted     EventType = "message_deleted"
	EventMessageError       EventType = "message_error"
	EventConversationError  EventType = "conversation_error"
	EventError              EventType = "error"
	EventPong               EventType = "pong"
)

// IsInbound reports whether clients may send t
func (t EventType) IsInbound() bool {
	switch t {
	case EventSendMessage, EventTyping, EventMessageRead, EventGetConversation,
		EventGetOnlineUsers, EventUserLogout, EventPing:
		return true
	}
	return false
}

// Event is one realtime frame. Data is marshalled as JSON.
type Event struct {
	Type EventType `json:"type"`
	// RequestID echoes the client's correlation id, when given
	RequestID string `json:"request_id,omitempty"`
	Data      any    `json:"data,omitempty"`
}

// ReadReceipt tells a sender that a reader moved past their messages
type ReadReceipt struct {
	ConversationID uuid.UUID `json:"conversation_id"`
	MessageID      int64     `json:"message_id"`
	ReadBy         uuid.UUID `json:"read_by"`
	ReadAt         string    `json:"read_at"`
}

// StatusChange announces a presence transition
type StatusChange struct {
	UserID   uuid.UUID      `json:"user_id"`
	Status   PresenceStatus `json:"status"`
	LastSeen string         `json:"last_seen,omitempty"`
}

// TypingNotice is forwarded to the receiver of a typing event
type TypingNotice struct {
	SenderID       uuid.UUID  `json:"sender_id"`
	ReceiverID     uuid.UUID  `json:"receiver_id"`
	ConversationID *uuid.UUID `json:"conversation_id,omitempty"`
	IsTyping       bool       `json:"is_typing"`
}

// ErrorNotice is the payload of the error events
type ErrorNotice struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// MessageDeletedNotice tells participants a message was removed
type MessageDeletedNotice struct {
	ConversationID uuid.UUID `json:"conversation_id"`
	MessageID      int64     `json:"message_id"`
	DeletedBy      uuid.UUID `json:"deleted_by"`
}
