package persistence

import (
	"context"

	"github.com/campus/messaging/internal/domain/notification"
	"github.com/campus/messaging/internal/domain/shared"
	"github.com/campus/messaging/internal/infrastructure/persistence/models"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

const (
	defaultNotificationLimit = 20
	maxNotificationLimit     = 100
)

// GormNotificationRepository implements notification.Repository using GORM
type GormNotificationRepository struct {
	db *gorm.DB
}

// NewGormNotificationRepository creates a new GormNotificationRepository
func NewGormNotificationRepository(db *gorm.DB) *GormNotificationRepository {
	return &GormNotificationRepository{db: db}
}

// Create stores a notification
func (r *GormNotificationRepository) Create(ctx context.Context, n *notification.Notification) error {
	return r.db.WithContext(ctx).Create(models.NotificationModelFromDomain(n)).Error
}

// ListForUser returns a page of the user's notifications, newest first, and the total matching
func (r *GormNotificationRepository) ListForUser(ctx context.Context, userID uuid.UUID, filter notification.Filter) ([]notification.Notification, int64, error) {
	page := filter.Page.Normalize(defaultNotificationLimit, maxNotificationLimit)

	scope := func(db *gorm.DB) *gorm.DB {
		db = db.Where("user_id = ?", userID)
		if filter.UnreadOnly {
			db = db.Where("is_read = ?", false)
		}
		return db
	}

	var total int64
	if err := r.db.WithContext(ctx).
		Model(&models.NotificationModel{}).
		Scopes(scope).
		Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var rows []models.NotificationModel
	if err := r.db.WithContext(ctx).
		Scopes(scope).
		Order("created_at DESC, id").
		Limit(page.Limit).
		Offset(page.Offset).
		Find(&rows).Error; err != nil {
		return nil, 0, err
	}

	items := make([]notification.Notification, len(rows))
	for i := range rows {
		items[i] = rows[i].ToDomain()
	}
	return items, total, nil
}

// CountUnread counts the user's unread notifications
func (r *GormNotificationRepository) CountUnread(ctx context.Context, userID uuid.UUID) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&models.NotificationModel{}).
		Where("user_id = ? AND is_read = ?", userID, false).
		Count(&count).Error
	return count, err
}

// MarkRead marks one of the user's notifications as read
func (r *GormNotificationRepository) MarkRead(ctx context.Context, id, userID uuid.UUID) error {
	var m models.NotificationModel
	if err := r.db.WithContext(ctx).
		Where("id = ? AND user_id = ?", id, userID).
		Take(&m).Error; err != nil {
		return notFound(err, "notification not found")
	}
	if m.IsRead {
		return nil
	}
	return r.db.WithContext(ctx).
		Model(&models.NotificationModel{}).
		Where("id = ?", id).
		Update("is_read", true).Error
}

// MarkAllRead marks every unread notification of the user and returns how many changed
func (r *GormNotificationRepository) MarkAllRead(ctx context.Context, userID uuid.UUID) (int64, error) {
	result := r.db.WithContext(ctx).
		Model(&models.NotificationModel{}).
		Where("user_id = ? AND is_read = ?", userID, false).
		Update("is_read", true)
	return result.RowsAffected, result.Error
}

// Delete removes one of the user's notifications
func (r *GormNotificationRepository) Delete(ctx context.Context, id, userID uuid.UUID) error {
	result := r.db.WithContext(ctx).
		Where("id = ? AND user_id = ?", id, userID).
		Delete(&models.NotificationModel{})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return shared.NewNotFound("notification not found")
	}
	return nil
}
