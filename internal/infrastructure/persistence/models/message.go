package models

import (
	"time"

	"github.com/campus/messaging/internal/domain/messaging"
	"github.com/google/uuid"
	"gorm.io/datatypes"
)

// Reactions is the stored emoji to users map of a message
type Reactions map[string][]uuid.UUID

// MessageModel is the persistence model for messages. The id comes from the
// database sequence and orders messages within a conversation.
type MessageModel struct {
	ID               int64                         `gorm:"primaryKey;autoIncrement;index:idx_messages_conversation_id,priority:2"`
	ConversationID   uuid.UUID                     `gorm:"type:uuid;not null;index:idx_messages_conversation_id,priority:1"`
	SenderID         uuid.UUID                     `gorm:"type:uuid;not null;index"`
	Content          string                        `gorm:"type:text;not null;default:''"`
	Type             string                        `gorm:"type:varchar(16);not null;default:'text'"`
	FileURL          *string                       `gorm:"type:text"`
	FileName         *string                       `gorm:"type:varchar(255)"`
	FileSize         *int64
	ThumbnailURL     *string                       `gorm:"type:text"`
	ReplyToMessageID *int64                        `gorm:"index"`
	Reactions        datatypes.JSONType[Reactions]
	CreatedAt        time.Time                     `gorm:"not null"`
	EditedAt         *time.Time
	DeletedAt        *time.Time                    `gorm:"index"`
	DeletedBy        *uuid.UUID                    `gorm:"type:uuid"`
	ReadAt           *time.Time
}

// TableName returns the table name for GORM
func (MessageModel) TableName() string {
	return "messages"
}

// ToDomain converts the persistence model to a domain Message
func (m *MessageModel) ToDomain() *messaging.Message {
	msg := &messaging.Message{
		ID:               m.ID,
		ConversationID:   m.ConversationID,
		SenderID:         m.SenderID,
		Content:          m.Content,
		Type:             messaging.MessageType(m.Type),
		ReplyToMessageID: m.ReplyToMessageID,
		CreatedAt:        m.CreatedAt,
		EditedAt:         m.EditedAt,
		DeletedAt:        m.DeletedAt,
		DeletedBy:        m.DeletedBy,
		ReadAt:           m.ReadAt,
	}
	if m.FileURL != nil {
		f := &messaging.FileRef{URL: *m.FileURL}
		if m.FileName != nil {
			f.Name = *m.FileName
		}
		if m.FileSize != nil {
			f.Size = *m.FileSize
		}
		if m.ThumbnailURL != nil {
			f.ThumbnailURL = *m.ThumbnailURL
		}
		msg.File = f
	}
	if r := m.Reactions.Data(); len(r) > 0 {
		msg.Reactions = map[string][]uuid.UUID(r)
	}
	return msg
}

// MessageModelFromAppend builds the row for a new message
func MessageModelFromAppend(cmd messaging.AppendCommand, now time.Time) *MessageModel {
	m := &MessageModel{
		ConversationID:   cmd.ConversationID,
		SenderID:         cmd.SenderID,
		Content:          cmd.Content,
		Type:             string(cmd.Type),
		ReplyToMessageID: cmd.ReplyToMessageID,
		Reactions:        datatypes.NewJSONType(Reactions{}),
		CreatedAt:        now,
	}
	if f := cmd.File; f != nil {
		m.FileURL = &f.URL
		if f.Name != "" {
			m.FileName = &f.Name
		}
		if f.Size > 0 {
			m.FileSize = &f.Size
		}
		if f.ThumbnailURL != "" {
			m.ThumbnailURL = &f.ThumbnailURL
		}
	}
	return m
}
