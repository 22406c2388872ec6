package messaging

import (
	"github.com/campus/messaging/internal/domain/messaging"
	"github.com/campus/messaging/internal/domain/shared"
	"github.com/google/uuid"
)

// SendCommand is a message submitted through REST or the realtime gateway.
// Exactly one of ConversationID and ReceiverID is set.
type SendCommand struct {
	SenderID         uuid.UUID
	SenderName       string
	ConversationID   *uuid.UUID
	ReceiverID       *uuid.UUID
	Content          string
	Type             messaging.MessageType
	File             *messaging.FileRef
	ReplyToMessageID *int64
}

func (c *SendCommand) validate() error {
	if c.SenderID == uuid.Nil {
		return shared.NewValidation("sender is required")
	}
	hasConversation := c.ConversationID != nil && *c.ConversationID != uuid.Nil
	hasReceiver := c.ReceiverID != nil && *c.ReceiverID != uuid.Nil
	switch {
	case hasConversation && hasReceiver:
		return shared.NewValidation("give either a conversation or a receiver, not both")
	case !hasConversation && !hasReceiver:
		return shared.NewValidation("a conversation or a receiver is required")
	case hasReceiver && *c.ReceiverID == c.SenderID:
		return shared.NewValidation("cannot send a message to yourself")
	}
	return nil
}

// appendCommand builds the store command once the conversation is known
func (c *SendCommand) appendCommand(conversationID uuid.UUID) messaging.AppendCommand {
	return messaging.AppendCommand{
		ConversationID:   conversationID,
		SenderID:         c.SenderID,
		Content:          c.Content,
		Type:             c.Type,
		File:             c.File,
		ReplyToMessageID: c.ReplyToMessageID,
	}
}

// MarkReadCommand moves a reader's cursor. With only MessageID set the
// conversation is taken from the message; with neither cursor field the
// cursor jumps to the newest message.
type MarkReadCommand struct {
	UserID         uuid.UUID
	ConversationID *uuid.UUID
	MessageID      *int64
}

func (c *MarkReadCommand) validate() error {
	if c.UserID == uuid.Nil {
		return shared.NewValidation("user is required")
	}
	if (c.ConversationID == nil || *c.ConversationID == uuid.Nil) && c.MessageID == nil {
		return shared.NewValidation("a conversation or a message is required")
	}
	if c.MessageID != nil && *c.MessageID <= 0 {
		return shared.NewValidation("invalid message id")
	}
	return nil
}

// ReadResult reports the cursor after MarkRead
type ReadResult struct {
	ConversationID    uuid.UUID `json:"conversation_id"`
	LastReadMessageID int64     `json:"last_read_message_id"`
	Advanced          bool      `json:"advanced"`
}
