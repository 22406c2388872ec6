package messaging

import (
	"strings"
	"unicode/utf8"

	"github.com/campus/messaging/internal/domain/shared"
	"github.com/google/uuid"
)

const (
	MaxContentLength = 4000
	maxEmojiLength   = 16
)

// AppendCommand is the only input accepted by MessageRepository.Append
type AppendCommand struct {
	ConversationID   uuid.UUID
	SenderID         uuid.UUID
	Content          string
	Type             MessageType
	File             *FileRef
	ReplyToMessageID *int64
}

// Validate normalizes the command in place and checks it
func (c *AppendCommand) Validate() error {
	if c.ConversationID == uuid.Nil || c.SenderID == uuid.Nil {
		return shared.NewValidation("conversation and sender are required")
	}
	return c.ValidateContent()
}

// ValidateContent checks only the payload, so callers can reject bad input
// before the conversation is known
func (c *AppendCommand) ValidateContent() error {
	if c.Type == "" {
		c.Type = MessageText
	}
	if !c.Type.IsValid() {
		return shared.NewValidation("unknown message type")
	}
	c.Content = strings.TrimSpace(c.Content)
	if c.File != nil && strings.TrimSpace(c.File.URL) == "" {
		c.File = nil
	}
	if c.Type != MessageText && c.File == nil {
		return shared.NewValidation("file messages need a file reference")
	}
	if c.Content == "" && c.File == nil {
		return shared.NewValidation("message content is required")
	}
	if utf8.RuneCountInString(c.Content) > MaxContentLength {
		return shared.NewValidation("message content is too long")
	}
	if c.File != nil && c.File.Size < 0 {
		return shared.NewValidation("file size cannot be negative")
	}
	if c.ReplyToMessageID != nil && *c.ReplyToMessageID <= 0 {
		return shared.NewValidation("invalid reply target")
	}
	return nil
}

// EditCommand replaces the content of a message. Only the content is patchable.
type EditCommand struct {
	MessageID   int64
	RequesterID uuid.UUID
	Content     string
}

func (c *EditCommand) Validate() error {
	if c.MessageID <= 0 {
		return shared.NewValidation("invalid message id")
	}
	c.Content = strings.TrimSpace(c.Content)
	if c.Content == "" {
		return shared.NewValidation("message content is required")
	}
	if utf8.RuneCountInString(c.Content) > MaxContentLength {
		return shared.NewValidation("message content is too long")
	}
	return nil
}

// ConversationFlagsCommand patches the archive and pin flags. Nil fields are
// left unchanged.
type ConversationFlagsCommand struct {
	ConversationID uuid.UUID
	UserID         uuid.UUID
	Archived       *bool
	Pinned         *bool
}

func (c *ConversationFlagsCommand) Validate() error {
	if c.ConversationID == uuid.Nil {
		return shared.NewValidation("conversation id is required")
	}
	if c.Archived == nil && c.Pinned == nil {
		return shared.NewValidation("nothing to update")
	}
	return nil
}

// ReactCommand toggles one emoji reaction of a user on a message
type ReactCommand struct {
	MessageID int64
	UserID    uuid.UUID
	Emoji     string
}

func (c *ReactCommand) Validate() error {
	if c.MessageID <= 0 {
		return shared.NewValidation("invalid message id")
	}
	c.Emoji = strings.TrimSpace(c.Emoji)
	if c.Emoji == "" || utf8.RuneCountInString(c.Emoji) > maxEmojiLength {
		return shared.NewValidation("invalid reaction")
	}
	return nil
}
