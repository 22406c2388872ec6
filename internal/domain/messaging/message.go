package messaging

import (
	"strconv"
	"time"

	"github.com/google/uuid"
)

// MessageType is the payload kind of a message
type MessageType string

const (
	MessageText  MessageType = "text"
	MessageImage MessageType = "image"
	MessageFile  MessageType = "file"
)

// IsValid reports whether t is a known message type
func (t MessageType) IsValid() bool {
	switch t {
	case MessageText, MessageImage, MessageFile:
		return true
	}
	return false
}

// FileRef points at an already uploaded attachment
type FileRef struct {
	URL          string
	Name         string
	Size         int64
	ThumbnailURL string
}

// Message is a single entry of a conversation. ID is assigned by the store,
// increases strictly within a conversation and doubles as the read cursor.
type Message struct {
	ID               int64
	ConversationID   uuid.UUID
	SenderID         uuid.UUID
	Content          string
	Type             MessageType
	File             *FileRef
	ReplyToMessageID *int64
	// Reactions maps an emoji to the users who reacted with it
	Reactions map[string][]uuid.UUID
	CreatedAt time.Time
	EditedAt  *time.Time
	DeletedAt *time.Time
	DeletedBy *uuid.UUID
	// ReadAt is stamped once, by the first reader
	ReadAt *time.Time
}

// IsDeleted reports whether the message was soft deleted
func (m *Message) IsDeleted() bool {
	return m.DeletedAt != nil
}

// IsEdited reports whether the content changed after creation
func (m *Message) IsEdited() bool {
	return m.EditedAt != nil
}

// ToggleReaction adds userID under emoji, or removes it when already present.
// It reports whether the reaction is now set.
func (m *Message) ToggleReaction(emoji string, userID uuid.UUID) bool {
	if m.Reactions == nil {
		m.Reactions = make(map[string][]uuid.UUID)
	}
	users := m.Reactions[emoji]
	for i, id := range users {
		if id == userID {
			users = append(users[:i], users[i+1:]...)
			if len(users) == 0 {
				delete(m.Reactions, emoji)
			} else {
				m.Reactions[emoji] = users
			}
			return false
		}
	}
	m.Reactions[emoji] = append(users, userID)
	return true
}

// PageQuery selects a page of history. Before, when set, returns only
// messages with a smaller id; Offset skips rows after that filter.
type PageQuery struct {
	Limit  int
	Offset int
	Before *int64
}

// Normalize clamps the limit to [1, max], defaulting to def
func (q PageQuery) Normalize(def, max int) PageQuery {
	if q.Limit <= 0 {
		q.Limit = def
	}
	if q.Limit > max {
		q.Limit = max
	}
	if q.Offset < 0 {
		q.Offset = 0
	}
	if q.Before != nil && *q.Before <= 0 {
		q.Before = nil
	}
	return q
}

// CacheKey identifies the page inside a conversation's cache entry
func (q PageQuery) CacheKey() string {
	before := "-"
	if q.Before != nil {
		before = strconv.FormatInt(*q.Before, 10)
	}
	return strconv.Itoa(q.Limit) + ":" + before + ":" + strconv.Itoa(q.Offset)
}

// MessagePage is a slice of history in descending id order
type MessagePage struct {
	Messages []Message
	HasMore  bool
}

// NextBefore is the cursor for the following (older) page, nil at the end
func (p *MessagePage) NextBefore() *int64 {
	if !p.HasMore || len(p.Messages) == 0 {
		return nil
	}
	id := p.Messages[len(p.Messages)-1].ID
	return &id
}

// ReadCursor is a participant's read position after MarkRead
type ReadCursor struct {
	ConversationID    uuid.UUID
	UserID            uuid.UUID
	LastReadMessageID int64
	// PreviousMessageID is the cursor before the call
	PreviousMessageID int64
	ReadAt            time.Time
}

// Advanced reports whether the call moved the cursor forward
func (c ReadCursor) Advanced() bool {
	return c.LastReadMessageID > c.PreviousMessageID
}
