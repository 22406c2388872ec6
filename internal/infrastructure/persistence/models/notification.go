package models

import (
	"time"

	"github.com/campus/messaging/internal/domain/notification"
	"github.com/google/uuid"
	"gorm.io/datatypes"
)

// NotificationModel is the persistence model for inbox notifications
type NotificationModel struct {
	ID        uuid.UUID         `gorm:"type:uuid;primary_key"`
	UserID    uuid.UUID         `gorm:"type:uuid;not null;index:idx_notifications_user,priority:1"`
	Type      string            `gorm:"type:varchar(32);not null"`
	Title     string            `gorm:"type:varchar(255);not null"`
	Body      string            `gorm:"type:text;not null;default:''"`
	Data      datatypes.JSONMap
	IsRead    bool              `gorm:"not null;default:false;index:idx_notifications_user,priority:2"`
	CreatedAt time.Time         `gorm:"not null"`
}

// TableName returns the table name for GORM
func (NotificationModel) TableName() string {
	return "notifications"
}

// ToDomain converts the persistence model to a domain Notification
func (m *NotificationModel) ToDomain() notification.Notification {
	return notification.Notification{
		ID:        m.ID,
		UserID:    m.UserID,
		Type:      notification.Type(m.Type),
		Title:     m.Title,
		Body:      m.Body,
		Data:      map[string]any(m.Data),
		IsRead:    m.IsRead,
		CreatedAt: m.CreatedAt,
	}
}

// NotificationModelFromDomain creates a persistence model from a domain Notification
func NotificationModelFromDomain(n *notification.Notification) *NotificationModel {
	return &NotificationModel{
		ID:        n.ID,
		UserID:    n.UserID,
		Type:      string(n.Type),
		Title:     n.Title,
		Body:      n.Body,
		Data:      datatypes.JSONMap(n.Data),
		IsRead:    n.IsRead,
		CreatedAt: n.CreatedAt,
	}
}
