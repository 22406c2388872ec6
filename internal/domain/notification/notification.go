// Package notification is the durable inbox of deferred deliveries.
package notification

import (
	"context"
	"time"

	"github.com/campus/messaging/internal/domain/shared"
	"github.com/google/uuid"
)

// Type classifies what produced a notification
type Type string

const (
	TypeMessage Type = "message"
)

// Notification is one inbox entry of a user
type Notification struct {
	ID        uuid.UUID
	UserID    uuid.UUID
	Type      Type
	Title     string
	Body      string
	Data      map[string]any
	IsRead    bool
	CreatedAt time.Time
}

// New builds an unread notification
func New(userID uuid.UUID, typ Type, title, body string, data map[string]any, now time.Time) (*Notification, error) {
	if userID == uuid.Nil {
		return nil, shared.NewValidation("notification recipient is required")
	}
	if title == "" {
		return nil, shared.NewValidation("notification title is required")
	}
	return &Notification{
		ID:        uuid.New(),
		UserID:    userID,
		Type:      typ,
		Title:     title,
		Body:      body,
		Data:      data,
		CreatedAt: now,
	}, nil
}

// Filter narrows an inbox listing
type Filter struct {
	UnreadOnly bool
	Page       shared.Pagination
}

// Repository persists notifications. Every method is scoped to the owner;
// another user's notification is NotFound.
type Repository interface {
	Create(ctx context.Context, n *Notification) error
	ListForUser(ctx context.Context, userID uuid.UUID, filter Filter) ([]Notification, int64, error)
	CountUnread(ctx context.Context, userID uuid.UUID) (int64, error)
	MarkRead(ctx context.Context, id, userID uuid.UUID) error
	MarkAllRead(ctx context.Context, userID uuid.UUID) (int64, error)
	Delete(ctx context.Context, id, userID uuid.UUID) error
}
