package messaging

import (
	"github.com/campus/messaging/internal/domain/shared"
	"github.com/google/uuid"
)

// Domain event types published after successful writes
const (
	EventTypeConversationCreated = "ConversationCreated"
	EventTypeMessageSent         = "MessageSent"
	EventTypeMessageRead         = "MessageRead"
)

// ConversationCreatedEvent is published when a conversation row is inserted
type ConversationCreatedEvent struct {
	shared.BaseDomainEvent
	Kind         ConversationType `json:"conversation_type"`
	Participants int              `json:"participants"`
}

func NewConversationCreatedEvent(c *Conversation, participants int) *ConversationCreatedEvent {
	return &ConversationCreatedEvent{
		BaseDomainEvent: shared.NewBaseDomainEvent(EventTypeConversationCreated, c.ID),
		Kind:            c.Type,
		Participants:    participants,
	}
}

// MessageSentEvent is published once a message is stored and fanned out
type MessageSentEvent struct {
	shared.BaseDomainEvent
	MessageID   int64       `json:"message_id"`
	SenderID    uuid.UUID   `json:"sender_id"`
	MessageType MessageType `json:"message_type"`
	Delivered   int         `json:"delivered"`
	Deferred    int         `json:"deferred"`
}

func NewMessageSentEvent(m *Message, delivered, deferred int) *MessageSentEvent {
	return &MessageSentEvent{
		BaseDomainEvent: shared.NewBaseDomainEvent(EventTypeMessageSent, m.ConversationID),
		MessageID:       m.ID,
		SenderID:        m.SenderID,
		MessageType:     m.Type,
		Delivered:       delivered,
		Deferred:        deferred,
	}
}

// MessageReadEvent is published when a read cursor advances
type MessageReadEvent struct {
	shared.BaseDomainEvent
	ReaderID          uuid.UUID `json:"reader_id"`
	LastReadMessageID int64     `json:"last_read_message_id"`
}

func NewMessageReadEvent(c ReadCursor) *MessageReadEvent {
	return &MessageReadEvent{
		BaseDomainEvent:   shared.NewBaseDomainEvent(EventTypeMessageRead, c.ConversationID),
		ReaderID:          c.UserID,
		LastReadMessageID: c.LastReadMessageID,
	}
}
