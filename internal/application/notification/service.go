// Package notification serves a user's inbox of deferred deliveries.
package notification

import (
	"context"
	"errors"
	"time"

	"github.com/campus/messaging/internal/domain/notification"
	"github.com/campus/messaging/internal/domain/shared"
	"github.com/campus/messaging/internal/infrastructure/logger"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Inbox paging
const (
	DefaultPageSize = 20
	MaxPageSize     = 100
)

// View is the wire form of a notification
type View struct {
	ID        uuid.UUID         `json:"id"`
	Type      notification.Type `json:"type"`
	Title     string            `json:"title"`
	Body      string            `json:"body,omitempty"`
	Data      map[string]any    `json:"data,omitempty"`
	IsRead    bool              `json:"is_read"`
	CreatedAt time.Time         `json:"created_at"`
}

// ListResult is one page of the inbox
type ListResult struct {
	Items       []View `json:"items"`
	Total       int64  `json:"total"`
	UnreadCount int64  `json:"unread_count"`
}

// Service is the inbox use-case layer
type Service struct {
	repo   notification.Repository
	logger *zap.Logger
}

// NewService creates the service
func NewService(repo notification.Repository, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{repo: repo, logger: logger}
}

// List returns a page of the user's inbox, newest first
func (s *Service) List(ctx context.Context, userID uuid.UUID, unreadOnly bool, page shared.Pagination) (*ListResult, error) {
	filter := notification.Filter{
		UnreadOnly: unreadOnly,
		Page:       page.Normalize(DefaultPageSize, MaxPageSize),
	}
	rows, total, err := s.repo.ListForUser(ctx, userID, filter)
	if err != nil {
		return nil, inboxError(err)
	}
	unread, err := s.repo.CountUnread(ctx, userID)
	if err != nil {
		return nil, inboxError(err)
	}

	items := make([]View, len(rows))
	for i := range rows {
		items[i] = toView(&rows[i])
	}
	return &ListResult{Items: items, Total: total, UnreadCount: unread}, nil
}

// CountUnread returns the number of unread entries
func (s *Service) CountUnread(ctx context.Context, userID uuid.UUID) (int64, error) {
	n, err := s.repo.CountUnread(ctx, userID)
	if err != nil {
		return 0, inboxError(err)
	}
	return n, nil
}

// MarkRead flags one entry as read
func (s *Service) MarkRead(ctx context.Context, id, userID uuid.UUID) error {
	return inboxError(s.repo.MarkRead(ctx, id, userID))
}

// MarkAllRead flags every unread entry and returns how many changed
func (s *Service) MarkAllRead(ctx context.Context, userID uuid.UUID) (int64, error) {
	n, err := s.repo.MarkAllRead(ctx, userID)
	if err != nil {
		return 0, inboxError(err)
	}
	logger.LWithFallback(ctx, s.logger).Debug("Notifications marked read",
		logger.UserID(userID), zap.Int64("count", n))
	return n, nil
}

// Delete removes one entry
func (s *Service) Delete(ctx context.Context, id, userID uuid.UUID) error {
	return inboxError(s.repo.Delete(ctx, id, userID))
}

func toView(n *notification.Notification) View {
	return View{
		ID:        n.ID,
		Type:      n.Type,
		Title:     n.Title,
		Body:      n.Body,
		Data:      n.Data,
		IsRead:    n.IsRead,
		CreatedAt: n.CreatedAt,
	}
}

func inboxError(err error) error {
	if err == nil {
		return nil
	}
	if shared.CodeOf(err) != "" {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return shared.NewTransient("notification store did not respond in time", err)
	}
	return shared.NewTransient("notification store unavailable", err)
}
