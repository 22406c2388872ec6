package models

import (
	"strings"
	"time"

	"github.com/campus/messaging/internal/domain/messaging"
	"github.com/campus/messaging/internal/domain/shared"
	"github.com/google/uuid"
)

// ConversationModel is the persistence model for conversations
type ConversationModel struct {
	ID        uuid.UUID `gorm:"type:uuid;primary_key"`
	CreatedAt time.Time `gorm:"not null"`
	UpdatedAt time.Time `gorm:"not null"`
	Type      string    `gorm:"type:varchar(16);not null"`
	Name      string    `gorm:"type:varchar(100)"`
	// DirectKey is NULL for groups so the unique index only binds direct pairs
	DirectKey      *string   `gorm:"type:varchar(80);uniqueIndex:idx_conversations_direct_key"`
	LastActivityAt time.Time `gorm:"not null;index:idx_conversations_last_activity"`
	IsArchived     bool      `gorm:"not null;default:false"`
	IsPinned       bool      `gorm:"not null;default:false"`
}

// TableName returns the table name for GORM
func (ConversationModel) TableName() string {
	return "conversations"
}

// ToDomain converts the persistence model to a domain Conversation
func (m *ConversationModel) ToDomain() *messaging.Conversation {
	c := &messaging.Conversation{
		BaseEntity:     shared.BaseEntity{ID: m.ID, CreatedAt: m.CreatedAt, UpdatedAt: m.UpdatedAt},
		Type:           messaging.ConversationType(m.Type),
		Name:           m.Name,
		LastActivityAt: m.LastActivityAt,
		IsArchived:     m.IsArchived,
		IsPinned:       m.IsPinned,
	}
	if m.DirectKey != nil {
		c.DirectKey = *m.DirectKey
	}
	return c
}

// FromDomain populates the persistence model from a domain Conversation
func (m *ConversationModel) FromDomain(c *messaging.Conversation) {
	m.ID, m.CreatedAt, m.UpdatedAt = c.ID, c.CreatedAt, c.UpdatedAt
	m.Type = string(c.Type)
	m.Name = c.Name
	m.DirectKey = nil
	if c.DirectKey != "" {
		key := c.DirectKey
		m.DirectKey = &key
	}
	m.LastActivityAt = c.LastActivityAt
	m.IsArchived = c.IsArchived
	m.IsPinned = c.IsPinned
}

// ConversationModelFromDomain creates a new persistence model from a domain Conversation
func ConversationModelFromDomain(c *messaging.Conversation) *ConversationModel {
	m := &ConversationModel{}
	m.FromDomain(c)
	return m
}

// OtherUser returns the member of a direct conversation that is not userID
func (m *ConversationModel) OtherUser(userID uuid.UUID) *uuid.UUID {
	if m.DirectKey == nil {
		return nil
	}
	parts := strings.SplitN(*m.DirectKey, ":", 2)
	if len(parts) != 2 {
		return nil
	}
	for _, p := range parts {
		id, err := uuid.Parse(p)
		if err != nil {
			return nil
		}
		if id != userID {
			return &id
		}
	}
	return nil
}

// ParticipantModel is one membership period. At most one row per
// (conversation, user) may have a NULL left_at.
type ParticipantModel struct {
	ID                uuid.UUID  `gorm:"type:uuid;primary_key"`
	ConversationID    uuid.UUID  `gorm:"type:uuid;not null;index:idx_participants_active,unique,where:left_at IS NULL,priority:1"`
	UserID            uuid.UUID  `gorm:"type:uuid;not null;index:idx_participants_active,unique,where:left_at IS NULL,priority:2;index:idx_participants_user"`
	Role              string     `gorm:"type:varchar(16);not null;default:'member'"`
	JoinedAt          time.Time  `gorm:"not null"`
	LeftAt            *time.Time
	LastReadMessageID *int64
}

// TableName returns the table name for GORM
func (ParticipantModel) TableName() string {
	return "conversation_participants"
}

// ToDomain converts the persistence model to a domain Participant
func (m *ParticipantModel) ToDomain() messaging.Participant {
	return messaging.Participant{
		ID:                m.ID,
		ConversationID:    m.ConversationID,
		UserID:            m.UserID,
		Role:              messaging.ParticipantRole(m.Role),
		JoinedAt:          m.JoinedAt,
		LeftAt:            m.LeftAt,
		LastReadMessageID: m.LastReadMessageID,
	}
}

// ParticipantModelFromDomain creates a persistence model from a domain Participant
func ParticipantModelFromDomain(p messaging.Participant) *ParticipantModel {
	return &ParticipantModel{
		ID:                p.ID,
		ConversationID:    p.ConversationID,
		UserID:            p.UserID,
		Role:              string(p.Role),
		JoinedAt:          p.JoinedAt,
		LeftAt:            p.LeftAt,
		LastReadMessageID: p.LastReadMessageID,
	}
}
