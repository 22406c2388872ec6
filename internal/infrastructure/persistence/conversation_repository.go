package persistence

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/campus/messaging/internal/domain/messaging"
	"github.com/campus/messaging/internal/domain/shared"
	"github.com/campus/messaging/internal/infrastructure/persistence/models"
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	defaultInboxLimit = 20
	maxInboxLimit     = 100
)

// GormConversationRepository implements messaging.ConversationRepository using GORM
type GormConversationRepository struct {
	db  *gorm.DB
	now func() time.Time
}

// NewGormConversationRepository creates a new GormConversationRepository
func NewGormConversationRepository(db *gorm.DB) *GormConversationRepository {
	return &GormConversationRepository{db: db, now: utcNow}
}

func utcNow() time.Time {
	return time.Now().UTC()
}

// ResolveOrCreateDirect returns the pair's direct conversation, creating it when missing
func (r *GormConversationRepository) ResolveOrCreateDirect(ctx context.Context, userA, userB uuid.UUID) (*messaging.Conversation, bool, error) {
	conv, err := messaging.NewDirectConversation(userA, userB, r.now())
	if err != nil {
		return nil, false, err
	}

	existing, err := r.FindDirect(ctx, userA, userB)
	switch {
	case err == nil:
		if err := r.rejoinDirect(ctx, existing.ID, userA, userB); err != nil {
			return nil, false, err
		}
		return existing, false, nil
	case !errors.Is(err, shared.ErrNotFound):
		return nil, false, err
	}

	return r.createDirect(ctx, conv, userA, userB)
}

// createDirect inserts the conversation with both members. Losing the race on
// the direct key re-reads the winner's row.
func (r *GormConversationRepository) createDirect(ctx context.Context, conv *messaging.Conversation, userA, userB uuid.UUID) (*messaging.Conversation, bool, error) {
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(models.ConversationModelFromDomain(conv)).Error; err != nil {
			return err
		}
		members := []models.ParticipantModel{
			*models.ParticipantModelFromDomain(messaging.NewParticipant(conv.ID, userA, messaging.RoleMember, conv.CreatedAt)),
			*models.ParticipantModelFromDomain(messaging.NewParticipant(conv.ID, userB, messaging.RoleMember, conv.CreatedAt)),
		}
		return tx.Create(&members).Error
	})
	if err == nil {
		return conv, true, nil
	}
	if !isUniqueViolation(err) {
		return nil, false, err
	}

	winner, findErr := r.FindDirect(ctx, userA, userB)
	if findErr != nil {
		return nil, false, fmt.Errorf("re-read direct conversation after conflict: %w", findErr)
	}
	return winner, false, nil
}

// rejoinDirect restores a member who left the pair's conversation
func (r *GormConversationRepository) rejoinDirect(ctx context.Context, conversationID uuid.UUID, users ...uuid.UUID) error {
	db := r.db.WithContext(ctx)
	var active []uuid.UUID
	if err := db.Model(&models.ParticipantModel{}).
		Where("conversation_id = ? AND user_id IN ? AND left_at IS NULL", conversationID, users).
		Pluck("user_id", &active).Error; err != nil {
		return err
	}
	for _, userID := range messaging.UniqueUsers(users, active...) {
		p := models.ParticipantModelFromDomain(messaging.NewParticipant(conversationID, userID, messaging.RoleMember, r.now()))
		if err := db.Create(p).Error; err != nil && !isUniqueViolation(err) {
			return err
		}
	}
	return nil
}

// FindDirect returns the existing direct conversation of the pair
func (r *GormConversationRepository) FindDirect(ctx context.Context, userA, userB uuid.UUID) (*messaging.Conversation, error) {
	var m models.ConversationModel
	if err := r.db.WithContext(ctx).
		Where("direct_key = ?", messaging.DirectKey(userA, userB)).
		Take(&m).Error; err != nil {
		return nil, notFound(err, "conversation not found")
	}
	return m.ToDomain(), nil
}

// CreateGroup creates a named group with the creator as admin
func (r *GormConversationRepository) CreateGroup(ctx context.Context, creatorID uuid.UUID, name string, memberIDs []uuid.UUID) (*messaging.Conversation, error) {
	now := r.now()
	conv, members, err := messaging.NewGroupConversation(creatorID, name, memberIDs, now)
	if err != nil {
		return nil, err
	}

	rows := make([]models.ParticipantModel, 0, len(members)+1)
	rows = append(rows, *models.ParticipantModelFromDomain(messaging.NewParticipant(conv.ID, creatorID, messaging.RoleAdmin, now)))
	for _, userID := range members {
		rows = append(rows, *models.ParticipantModelFromDomain(messaging.NewParticipant(conv.ID, userID, messaging.RoleMember, now)))
	}

	err = r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(models.ConversationModelFromDomain(conv)).Error; err != nil {
			return err
		}
		return tx.Create(&rows).Error
	})
	if err != nil {
		return nil, err
	}
	return conv, nil
}

// FindByID finds a conversation by its ID
func (r *GormConversationRepository) FindByID(ctx context.Context, id uuid.UUID) (*messaging.Conversation, error) {
	var m models.ConversationModel
	if err := r.db.WithContext(ctx).First(&m, "id = ?", id).Error; err != nil {
		return nil, notFound(err, "conversation not found")
	}
	return m.ToDomain(), nil
}

type inboxRow struct {
	models.ConversationModel
	ParticipantRole string
}

type unreadRow struct {
	ConversationID uuid.UUID
	Unread         int64
}

// ListForUser returns the user's active conversations, most recent activity first
func (r *GormConversationRepository) ListForUser(ctx context.Context, userID uuid.UUID, page shared.Pagination) ([]messaging.ConversationSummary, error) {
	page = page.Normalize(defaultInboxLimit, maxInboxLimit)
	db := r.db.WithContext(ctx)

	var rows []inboxRow
	if err := db.Table("conversation_participants AS p").
		Select("c.*, p.role AS participant_role").
		Joins("JOIN conversations AS c ON c.id = p.conversation_id").
		Where("p.user_id = ? AND p.left_at IS NULL", userID).
		Order("c.last_activity_at DESC, c.id").
		Limit(page.Limit).
		Offset(page.Offset).
		Scan(&rows).Error; err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return []messaging.ConversationSummary{}, nil
	}

	ids := make([]uuid.UUID, len(rows))
	for i := range rows {
		ids[i] = rows[i].ID
	}

	var latest []models.MessageModel
	if err := db.Where("id IN (?)",
		db.Model(&models.MessageModel{}).
			Select("MAX(id)").
			Where("conversation_id IN ? AND deleted_at IS NULL", ids).
			Group("conversation_id"),
	).Find(&latest).Error; err != nil {
		return nil, err
	}
	lastByConv := make(map[uuid.UUID]*messaging.Message, len(latest))
	for i := range latest {
		lastByConv[latest[i].ConversationID] = latest[i].ToDomain()
	}

	var unread []unreadRow
	if err := unreadQuery(db, userID).
		Select("m.conversation_id AS conversation_id, COUNT(*) AS unread").
		Where("m.conversation_id IN ?", ids).
		Group("m.conversation_id").
		Scan(&unread).Error; err != nil {
		return nil, err
	}
	unreadByConv := make(map[uuid.UUID]int64, len(unread))
	for _, u := range unread {
		unreadByConv[u.ConversationID] = u.Unread
	}

	summaries := make([]messaging.ConversationSummary, 0, len(rows))
	for i := range rows {
		row := &rows[i]
		summaries = append(summaries, messaging.ConversationSummary{
			Conversation: *row.ConversationModel.ToDomain(),
			Role:         messaging.ParticipantRole(row.ParticipantRole),
			LastMessage:  lastByConv[row.ID],
			UnreadCount:  unreadByConv[row.ID],
			OtherUserID:  row.OtherUser(userID),
		})
	}
	return summaries, nil
}

// unreadQuery selects messages unread by userID in conversations they are active in
func unreadQuery(db *gorm.DB, userID uuid.UUID) *gorm.DB {
	return db.Table("messages AS m").
		Joins("JOIN conversation_participants AS p ON p.conversation_id = m.conversation_id AND p.user_id = ? AND p.left_at IS NULL", userID).
		Where("m.sender_id <> ? AND m.deleted_at IS NULL AND m.id > COALESCE(p.last_read_message_id, 0)", userID)
}

// ActiveParticipants returns the members who have not left, oldest first
func (r *GormConversationRepository) ActiveParticipants(ctx context.Context, conversationID uuid.UUID) ([]messaging.Participant, error) {
	var rows []models.ParticipantModel
	if err := r.db.WithContext(ctx).
		Where("conversation_id = ? AND left_at IS NULL", conversationID).
		Order("joined_at, id").
		Find(&rows).Error; err != nil {
		return nil, err
	}
	participants := make([]messaging.Participant, len(rows))
	for i := range rows {
		participants[i] = rows[i].ToDomain()
	}
	return participants, nil
}

// FindActiveParticipant returns the user's current membership
func (r *GormConversationRepository) FindActiveParticipant(ctx context.Context, conversationID, userID uuid.UUID) (*messaging.Participant, error) {
	m, err := findActiveParticipant(r.db.WithContext(ctx), conversationID, userID)
	if err != nil {
		return nil, err
	}
	p := m.ToDomain()
	return &p, nil
}

func findActiveParticipant(db *gorm.DB, conversationID, userID uuid.UUID) (*models.ParticipantModel, error) {
	var m models.ParticipantModel
	if err := db.
		Where("conversation_id = ? AND user_id = ? AND left_at IS NULL", conversationID, userID).
		Take(&m).Error; err != nil {
		return nil, notFound(err, "participant not found")
	}
	return &m, nil
}

// AddParticipants adds members to a group on behalf of one of its admins
func (r *GormConversationRepository) AddParticipants(ctx context.Context, conversationID, actingUserID uuid.UUID, userIDs []uuid.UUID) ([]uuid.UUID, error) {
	candidates := messaging.UniqueUsers(userIDs)
	if len(candidates) == 0 {
		return nil, shared.NewValidation("at least one user is required")
	}

	added := make([]uuid.UUID, 0, len(candidates))
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var conv models.ConversationModel
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			First(&conv, "id = ?", conversationID).Error; err != nil {
			return notFound(err, "conversation not found")
		}

		actor, err := findActiveParticipant(tx, conversationID, actingUserID)
		if errors.Is(err, shared.ErrNotFound) {
			return shared.NewForbidden("not a participant of this conversation")
		}
		if err != nil {
			return err
		}
		if conv.Type != string(messaging.ConversationGroup) {
			return shared.NewValidation("participants can only be added to group conversations")
		}
		if actor.Role != string(messaging.RoleAdmin) {
			return shared.NewForbidden("only group admins can add participants")
		}

		var active []uuid.UUID
		if err := tx.Model(&models.ParticipantModel{}).
			Where("conversation_id = ? AND user_id IN ? AND left_at IS NULL", conversationID, candidates).
			Pluck("user_id", &active).Error; err != nil {
			return err
		}

		now := r.now()
		var rows []models.ParticipantModel
		for _, userID := range messaging.UniqueUsers(candidates, active...) {
			rows = append(rows, *models.ParticipantModelFromDomain(messaging.NewParticipant(conversationID, userID, messaging.RoleMember, now)))
			added = append(added, userID)
		}
		if len(rows) == 0 {
			return nil
		}
		if err := tx.Create(&rows).Error; err != nil {
			return err
		}
		return tx.Model(&models.ConversationModel{}).
			Where("id = ?", conversationID).
			Update("updated_at", now).Error
	})
	if err != nil {
		return nil, err
	}
	return added, nil
}

// Leave ends the user's active membership
func (r *GormConversationRepository) Leave(ctx context.Context, conversationID, userID uuid.UUID) error {
	result := r.db.WithContext(ctx).
		Model(&models.ParticipantModel{}).
		Where("conversation_id = ? AND user_id = ? AND left_at IS NULL", conversationID, userID).
		Update("left_at", r.now())
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return shared.NewNotFound("not an active participant of this conversation")
	}
	return nil
}

// UpdateFlags applies the archive and pin flags of cmd
func (r *GormConversationRepository) UpdateFlags(ctx context.Context, cmd messaging.ConversationFlagsCommand) (*messaging.Conversation, error) {
	if err := cmd.Validate(); err != nil {
		return nil, err
	}

	var conv models.ConversationModel
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if _, err := findActiveParticipant(tx, cmd.ConversationID, cmd.UserID); err != nil {
			if errors.Is(err, shared.ErrNotFound) {
				return shared.NewForbidden("not a participant of this conversation")
			}
			return err
		}

		updates := map[string]any{"updated_at": r.now()}
		if cmd.Archived != nil {
			updates["is_archived"] = *cmd.Archived
		}
		if cmd.Pinned != nil {
			updates["is_pinned"] = *cmd.Pinned
		}
		if err := tx.Model(&models.ConversationModel{}).
			Where("id = ?", cmd.ConversationID).
			Updates(updates).Error; err != nil {
			return err
		}
		return tx.First(&conv, "id = ?", cmd.ConversationID).Error
	})
	if err != nil {
		return nil, notFound(err, "conversation not found")
	}
	return conv.ToDomain(), nil
}
