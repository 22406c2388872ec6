package messaging

import (
	"time"

	"github.com/campus/messaging/internal/domain/messaging"
	"github.com/google/uuid"
)

// MessageView is the wire form of a message, shared by REST responses and
// realtime events.
type MessageView struct {
	ID               int64                  `json:"id"`
	ConversationID   uuid.UUID              `json:"conversation_id"`
	SenderID         uuid.UUID              `json:"sender_id"`
	Content          string                 `json:"content"`
	MessageType      messaging.MessageType  `json:"message_type"`
	FileURL          string                 `json:"file_url,omitempty"`
	FileName         string                 `json:"file_name,omitempty"`
	FileSize         int64                  `json:"file_size,omitempty"`
	ThumbnailURL     string                 `json:"thumbnail_url,omitempty"`
	ReplyToMessageID *int64                 `json:"reply_to_message_id,omitempty"`
	Reactions        map[string][]uuid.UUID `json:"reactions,omitempty"`
	IsEdited         bool                   `json:"is_edited"`
	IsRead           bool                   `json:"is_read"`
	CreatedAt        time.Time              `json:"created_at"`
	EditedAt         *time.Time             `json:"edited_at,omitempty"`
	ReadAt           *time.Time             `json:"read_at,omitempty"`
}

// NewMessageView converts a domain message
func NewMessageView(m *messaging.Message) MessageView {
	v := MessageView{
		ID:               m.ID,
		ConversationID:   m.ConversationID,
		SenderID:         m.SenderID,
		Content:          m.Content,
		MessageType:      m.Type,
		ReplyToMessageID: m.ReplyToMessageID,
		Reactions:        m.Reactions,
		IsEdited:         m.IsEdited(),
		IsRead:           m.ReadAt != nil,
		CreatedAt:        m.CreatedAt,
		EditedAt:         m.EditedAt,
		ReadAt:           m.ReadAt,
	}
	if m.File != nil {
		v.FileURL = m.File.URL
		v.FileName = m.File.Name
		v.FileSize = m.File.Size
		v.ThumbnailURL = m.File.ThumbnailURL
	}
	return v
}

// PageView is one page of history
type PageView struct {
	ConversationID uuid.UUID     `json:"conversation_id"`
	Messages       []MessageView `json:"messages"`
	HasMore        bool          `json:"has_more"`
	NextBefore     *int64        `json:"next_before,omitempty"`
}

// NewPageView converts a page; a nil page yields an empty view
func NewPageView(conversationID uuid.UUID, p *messaging.MessagePage) PageView {
	v := PageView{ConversationID: conversationID, Messages: []MessageView{}}
	if p == nil {
		return v
	}
	v.Messages = make([]MessageView, len(p.Messages))
	for i := range p.Messages {
		v.Messages[i] = NewMessageView(&p.Messages[i])
	}
	v.HasMore = p.HasMore
	v.NextBefore = p.NextBefore()
	return v
}

// RecipientStatus reports how one recipient was reached
type RecipientStatus struct {
	UserID    uuid.UUID `json:"user_id"`
	Delivered bool      `json:"delivered"`
}

// SendResult acknowledges a stored message
type SendResult struct {
	Message        MessageView       `json:"message"`
	ConversationID uuid.UUID         `json:"conversation_id"`
	Recipients     []RecipientStatus `json:"recipients"`
	// ConversationCreated is set when the send opened a new direct conversation
	ConversationCreated bool `json:"conversation_created"`
}

// DeliveredCount returns how many recipients were reached live
func (r *SendResult) DeliveredCount() int {
	n := 0
	for _, rs := range r.Recipients {
		if rs.Delivered {
			n++
		}
	}
	return n
}

// ConversationView is the wire form of a conversation
type ConversationView struct {
	ID             uuid.UUID                  `json:"id"`
	Type           messaging.ConversationType `json:"type"`
	Name           string                     `json:"name,omitempty"`
	LastActivityAt time.Time                  `json:"last_activity_at"`
	IsArchived     bool                       `json:"is_archived"`
	IsPinned       bool                       `json:"is_pinned"`
	CreatedAt      time.Time                  `json:"created_at"`
}

// NewConversationView converts a domain conversation
func NewConversationView(c *messaging.Conversation) ConversationView {
	return ConversationView{
		ID:             c.ID,
		Type:           c.Type,
		Name:           c.Name,
		LastActivityAt: c.LastActivityAt,
		IsArchived:     c.IsArchived,
		IsPinned:       c.IsPinned,
		CreatedAt:      c.CreatedAt,
	}
}

// ParticipantView is an active member of a conversation
type ParticipantView struct {
	UserID            uuid.UUID                 `json:"user_id"`
	Role              messaging.ParticipantRole `json:"role"`
	JoinedAt          time.Time                 `json:"joined_at"`
	LastReadMessageID *int64                    `json:"last_read_message_id,omitempty"`
}

// ConversationDetailView is a conversation with its members
type ConversationDetailView struct {
	ConversationView
	Participants []ParticipantView `json:"participants"`
}

// NewConversationDetailView converts a detail
func NewConversationDetailView(d *messaging.ConversationDetail) ConversationDetailView {
	v := ConversationDetailView{
		ConversationView: NewConversationView(&d.Conversation),
		Participants:     make([]ParticipantView, len(d.Participants)),
	}
	for i, p := range d.Participants {
		v.Participants[i] = ParticipantView{
			UserID:            p.UserID,
			Role:              p.Role,
			JoinedAt:          p.JoinedAt,
			LastReadMessageID: p.LastReadMessageID,
		}
	}
	return v
}

// ConversationSummaryView is one inbox row
type ConversationSummaryView struct {
	ConversationView
	Role        messaging.ParticipantRole `json:"role"`
	LastMessage *MessageView              `json:"last_message,omitempty"`
	UnreadCount int64                     `json:"unread_count"`
	OtherUserID *uuid.UUID                `json:"other_user_id,omitempty"`
}

// NewConversationSummaryViews converts an inbox listing
func NewConversationSummaryViews(rows []messaging.ConversationSummary) []ConversationSummaryView {
	out := make([]ConversationSummaryView, len(rows))
	for i := range rows {
		r := &rows[i]
		out[i] = ConversationSummaryView{
			ConversationView: NewConversationView(&r.Conversation),
			Role:             r.Role,
			UnreadCount:      r.UnreadCount,
			OtherUserID:      r.OtherUserID,
		}
		if r.LastMessage != nil {
			mv := NewMessageView(r.LastMessage)
			out[i].LastMessage = &mv
		}
	}
	return out
}

// PresenceView answers a presence query about one user
type PresenceView struct {
	UserID   uuid.UUID                `json:"user_id"`
	Status   messaging.PresenceStatus `json:"status"`
	LastSeen *time.Time               `json:"last_seen,omitempty"`
	// IsTyping tells whether the user is typing to the viewer
	IsTyping bool `json:"is_typing"`
}
