package persistence

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/campus/messaging/internal/domain/messaging"
	"github.com/campus/messaging/internal/domain/shared"
	"github.com/campus/messaging/internal/infrastructure/persistence/models"
	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	DefaultPageSize = 50
	MaxPageSize     = 100
)

// GormMessageRepository implements messaging.MessageRepository using GORM
type GormMessageRepository struct {
	db  *gorm.DB
	now func() time.Time
}

// NewGormMessageRepository creates a new GormMessageRepository
func NewGormMessageRepository(db *gorm.DB) *GormMessageRepository {
	return &GormMessageRepository{db: db, now: utcNow}
}

// Append stores a message from an active participant. The conversation row
// is updated first so concurrent appends to one conversation serialize on its
// lock and commit in id order.
func (r *GormMessageRepository) Append(ctx context.Context, cmd messaging.AppendCommand) (*messaging.Message, error) {
	if err := cmd.Validate(); err != nil {
		return nil, err
	}

	now := r.now()
	row := models.MessageModelFromAppend(cmd, now)
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if _, err := findActiveParticipant(tx, cmd.ConversationID, cmd.SenderID); err != nil {
			if errors.Is(err, shared.ErrNotFound) {
				return shared.NewForbidden("not a participant of this conversation")
			}
			return err
		}

		if err := tx.Model(&models.ConversationModel{}).
			Where("id = ?", cmd.ConversationID).
			Updates(map[string]any{"last_activity_at": now, "updated_at": now}).Error; err != nil {
			return err
		}

		if cmd.ReplyToMessageID != nil {
			var count int64
			if err := tx.Model(&models.MessageModel{}).
				Where("id = ? AND conversation_id = ?", *cmd.ReplyToMessageID, cmd.ConversationID).
				Count(&count).Error; err != nil {
				return err
			}
			if count == 0 {
				return shared.NewValidation("reply target is not in this conversation")
			}
		}

		return tx.Create(row).Error
	})
	if err != nil {
		return nil, err
	}
	return row.ToDomain(), nil
}

// FindByID finds a message by its ID, deleted or not
func (r *GormMessageRepository) FindByID(ctx context.Context, id int64) (*messaging.Message, error) {
	var m models.MessageModel
	if err := r.db.WithContext(ctx).First(&m, "id = ?", id).Error; err != nil {
		return nil, notFound(err, "message not found")
	}
	return m.ToDomain(), nil
}

// SoftDelete hides a message from history. Only the sender may delete it and
// deleting twice returns the already deleted message.
func (r *GormMessageRepository) SoftDelete(ctx context.Context, id int64, requesterID uuid.UUID) (*messaging.Message, error) {
	var m models.MessageModel
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := lockMessage(tx, id, &m); err != nil {
			return err
		}
		if m.SenderID != requesterID {
			return shared.NewForbidden("only the sender can delete a message")
		}
		if m.DeletedAt != nil {
			return nil
		}
		now := r.now()
		m.DeletedAt = &now
		m.DeletedBy = &requesterID
		return tx.Model(&models.MessageModel{}).
			Where("id = ?", id).
			Updates(map[string]any{"deleted_at": now, "deleted_by": requesterID}).Error
	})
	if err != nil {
		return nil, err
	}
	return m.ToDomain(), nil
}

// Edit replaces the content of a live message owned by the requester
func (r *GormMessageRepository) Edit(ctx context.Context, cmd messaging.EditCommand) (*messaging.Message, error) {
	if err := cmd.Validate(); err != nil {
		return nil, err
	}

	var m models.MessageModel
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := lockMessage(tx, cmd.MessageID, &m); err != nil {
			return err
		}
		if m.DeletedAt != nil {
			return shared.NewNotFound("message not found")
		}
		if m.SenderID != cmd.RequesterID {
			return shared.NewForbidden("only the sender can edit a message")
		}
		now := r.now()
		m.Content = cmd.Content
		m.EditedAt = &now
		return tx.Model(&models.MessageModel{}).
			Where("id = ?", cmd.MessageID).
			Updates(map[string]any{"content": cmd.Content, "edited_at": now}).Error
	})
	if err != nil {
		return nil, err
	}
	return m.ToDomain(), nil
}

// React toggles an emoji of an active participant on a live message
func (r *GormMessageRepository) React(ctx context.Context, cmd messaging.ReactCommand) (*messaging.Message, error) {
	if err := cmd.Validate(); err != nil {
		return nil, err
	}

	var m models.MessageModel
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := lockMessage(tx, cmd.MessageID, &m); err != nil {
			return err
		}
		if m.DeletedAt != nil {
			return shared.NewNotFound("message not found")
		}
		if _, err := findActiveParticipant(tx, m.ConversationID, cmd.UserID); err != nil {
			if errors.Is(err, shared.ErrNotFound) {
				return shared.NewForbidden("not a participant of this conversation")
			}
			return err
		}

		msg := m.ToDomain()
		msg.ToggleReaction(cmd.Emoji, cmd.UserID)
		m.Reactions = datatypes.NewJSONType(models.Reactions(msg.Reactions))
		return tx.Model(&models.MessageModel{}).
			Where("id = ?", cmd.MessageID).
			Update("reactions", m.Reactions).Error
	})
	if err != nil {
		return nil, err
	}
	return m.ToDomain(), nil
}

func lockMessage(tx *gorm.DB, id int64, dest *models.MessageModel) error {
	if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(dest, "id = ?", id).Error; err != nil {
		return notFound(err, "message not found")
	}
	return nil
}

// MarkRead advances the participant's read cursor, never moving it back,
// and stamps read_at on the newly read messages that have none.
func (r *GormMessageRepository) MarkRead(ctx context.Context, conversationID, userID uuid.UUID, upTo *int64) (messaging.ReadCursor, error) {
	now := r.now()
	cursor := messaging.ReadCursor{ConversationID: conversationID, UserID: userID, ReadAt: now}

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		participant, err := findActiveParticipant(tx.Clauses(clause.Locking{Strength: "UPDATE"}), conversationID, userID)
		if err != nil {
			if errors.Is(err, shared.ErrNotFound) {
				return shared.NewForbidden("not a participant of this conversation")
			}
			return err
		}
		current := int64(0)
		if participant.LastReadMessageID != nil {
			current = *participant.LastReadMessageID
		}
		cursor.PreviousMessageID = current
		cursor.LastReadMessageID = current

		var newest sql.NullInt64
		query := tx.Model(&models.MessageModel{}).
			Select("MAX(id)").
			Where("conversation_id = ? AND sender_id <> ?", conversationID, userID)
		if upTo != nil {
			query = query.Where("id <= ?", *upTo)
		}
		if err := query.Scan(&newest).Error; err != nil {
			return err
		}
		if !newest.Valid || newest.Int64 <= current {
			return nil
		}
		target := newest.Int64

		if err := tx.Model(&models.ParticipantModel{}).
			Where("id = ? AND (last_read_message_id IS NULL OR last_read_message_id < ?)", participant.ID, target).
			Update("last_read_message_id", target).Error; err != nil {
			return err
		}
		if err := tx.Model(&models.MessageModel{}).
			Where("conversation_id = ? AND id > ? AND id <= ? AND sender_id <> ? AND read_at IS NULL", conversationID, current, target, userID).
			Update("read_at", now).Error; err != nil {
			return err
		}
		cursor.LastReadMessageID = target
		return nil
	})
	if err != nil {
		return messaging.ReadCursor{}, err
	}
	return cursor, nil
}

// FetchPage returns live messages newest first, one page at a time
func (r *GormMessageRepository) FetchPage(ctx context.Context, conversationID uuid.UUID, q messaging.PageQuery) (*messaging.MessagePage, error) {
	q = q.Normalize(DefaultPageSize, MaxPageSize)

	query := r.db.WithContext(ctx).
		Where("conversation_id = ? AND deleted_at IS NULL", conversationID)
	if q.Before != nil {
		query = query.Where("id < ?", *q.Before)
	}

	var rows []models.MessageModel
	if err := query.
		Order("id DESC").
		Limit(q.Limit + 1).
		Offset(q.Offset).
		Find(&rows).Error; err != nil {
		return nil, err
	}

	page := &messaging.MessagePage{HasMore: len(rows) > q.Limit}
	if page.HasMore {
		rows = rows[:q.Limit]
	}
	page.Messages = make([]messaging.Message, len(rows))
	for i := range rows {
		page.Messages[i] = *rows[i].ToDomain()
	}
	return page, nil
}

// UnreadCount sums unread messages across the user's active conversations
func (r *GormMessageRepository) UnreadCount(ctx context.Context, userID uuid.UUID) (int64, error) {
	var count int64
	if err := unreadQuery(r.db.WithContext(ctx), userID).Count(&count).Error; err != nil {
		return 0, err
	}
	return count, nil
}

// SendersBetween lists the distinct senders of messages in (afterID, uptoID]
func (r *GormMessageRepository) SendersBetween(ctx context.Context, conversationID uuid.UUID, afterID, uptoID int64, exclude uuid.UUID) ([]uuid.UUID, error) {
	var senders []uuid.UUID
	if err := r.db.WithContext(ctx).
		Model(&models.MessageModel{}).
		Where("conversation_id = ? AND id > ? AND id <= ? AND sender_id <> ?", conversationID, afterID, uptoID, exclude).
		Distinct().
		Pluck("sender_id", &senders).Error; err != nil {
		return nil, err
	}
	return senders, nil
}
