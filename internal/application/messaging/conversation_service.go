package messaging

import (
	"context"

	"github.com/campus/messaging/internal/domain/messaging"
	"github.com/campus/messaging/internal/domain/shared"
	"github.com/campus/messaging/internal/infrastructure/logger"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Inbox paging
const (
	DefaultConversationPageSize = 20
	MaxConversationPageSize     = 100
)

// CreateConversationCommand opens a direct or group conversation
type CreateConversationCommand struct {
	CreatorID      uuid.UUID
	Type           messaging.ConversationType
	Name           string
	ParticipantIDs []uuid.UUID
}

// ConversationService manages conversation membership and per-user flags
type ConversationService struct {
	conversations messaging.ConversationRepository
	events        shared.EventPublisher
	logger        *zap.Logger
}

// NewConversationService creates the service. events may be nil.
func NewConversationService(conversations messaging.ConversationRepository, events shared.EventPublisher, logger *zap.Logger) *ConversationService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ConversationService{
		conversations: conversations,
		events:        events,
		logger:        logger,
	}
}

// Create opens a conversation. A direct conversation needs exactly one
// other participant and returns the existing one when the pair already
// has it.
func (s *ConversationService) Create(ctx context.Context, cmd CreateConversationCommand) (*messaging.Conversation, bool, error) {
	if cmd.CreatorID == uuid.Nil {
		return nil, false, shared.NewValidation("creator is required")
	}
	switch cmd.Type {
	case messaging.ConversationDirect:
		others := messaging.UniqueUsers(cmd.ParticipantIDs, cmd.CreatorID)
		if len(others) != 1 {
			return nil, false, shared.NewValidation("a direct conversation needs exactly one other participant")
		}
		return s.OpenDirect(ctx, cmd.CreatorID, others[0])
	case messaging.ConversationGroup:
		conv, err := s.conversations.CreateGroup(ctx, cmd.CreatorID, cmd.Name, cmd.ParticipantIDs)
		if err != nil {
			return nil, false, storeError(err)
		}
		members := len(messaging.UniqueUsers(cmd.ParticipantIDs, cmd.CreatorID)) + 1
		s.publish(ctx, messaging.NewConversationCreatedEvent(conv, members))
		return conv, true, nil
	default:
		return nil, false, shared.NewValidation("unknown conversation type")
	}
}

// OpenDirect resolves or creates the direct conversation between two users
func (s *ConversationService) OpenDirect(ctx context.Context, userID, otherID uuid.UUID) (*messaging.Conversation, bool, error) {
	conv, created, err := s.conversations.ResolveOrCreateDirect(ctx, userID, otherID)
	if err != nil {
		return nil, false, storeError(err)
	}
	if created {
		s.publish(ctx, messaging.NewConversationCreatedEvent(conv, 2))
	}
	return conv, created, nil
}

// List returns the user's inbox, most recent activity first
func (s *ConversationService) List(ctx context.Context, userID uuid.UUID, page shared.Pagination) ([]messaging.ConversationSummary, error) {
	page = page.Normalize(DefaultConversationPageSize, MaxConversationPageSize)
	rows, err := s.conversations.ListForUser(ctx, userID, page)
	if err != nil {
		return nil, storeError(err)
	}
	return rows, nil
}

// GetDetail returns the conversation with its active members. Callers who
// are not active members get Forbidden, even when the conversation exists.
func (s *ConversationService) GetDetail(ctx context.Context, conversationID, userID uuid.UUID) (*messaging.ConversationDetail, error) {
	participants, err := s.conversations.ActiveParticipants(ctx, conversationID)
	if err != nil {
		return nil, storeError(err)
	}
	member := false
	for _, p := range participants {
		if p.UserID == userID {
			member = true
			break
		}
	}
	if !member {
		if _, err := s.conversations.FindByID(ctx, conversationID); err != nil {
			return nil, storeError(err)
		}
		return nil, shared.NewForbidden("not a participant of this conversation")
	}

	conv, err := s.conversations.FindByID(ctx, conversationID)
	if err != nil {
		return nil, storeError(err)
	}
	return &messaging.ConversationDetail{Conversation: *conv, Participants: participants}, nil
}

// AddParticipants adds users to a group on behalf of an admin
func (s *ConversationService) AddParticipants(ctx context.Context, conversationID, actingUserID uuid.UUID, userIDs []uuid.UUID) ([]uuid.UUID, error) {
	if len(messaging.UniqueUsers(userIDs)) == 0 {
		return nil, shared.NewValidation("no users to add")
	}
	added, err := s.conversations.AddParticipants(ctx, conversationID, actingUserID, userIDs)
	if err != nil {
		return nil, storeError(err)
	}
	logger.LWithFallback(ctx, s.logger).Info("Participants added",
		logger.ConversationID(conversationID),
		logger.UserID(actingUserID),
		zap.Int("added", len(added)))
	return added, nil
}

// Leave ends the user's membership
func (s *ConversationService) Leave(ctx context.Context, conversationID, userID uuid.UUID) error {
	return storeError(s.conversations.Leave(ctx, conversationID, userID))
}

// SetArchived sets the archive flag
func (s *ConversationService) SetArchived(ctx context.Context, conversationID, userID uuid.UUID, archived bool) (*messaging.Conversation, error) {
	return s.updateFlags(ctx, messaging.ConversationFlagsCommand{
		ConversationID: conversationID,
		UserID:         userID,
		Archived:       &archived,
	})
}

// SetPinned sets the pin flag
func (s *ConversationService) SetPinned(ctx context.Context, conversationID, userID uuid.UUID, pinned bool) (*messaging.Conversation, error) {
	return s.updateFlags(ctx, messaging.ConversationFlagsCommand{
		ConversationID: conversationID,
		UserID:         userID,
		Pinned:         &pinned,
	})
}

func (s *ConversationService) updateFlags(ctx context.Context, cmd messaging.ConversationFlagsCommand) (*messaging.Conversation, error) {
	conv, err := s.conversations.UpdateFlags(ctx, cmd)
	if err != nil {
		return nil, storeError(err)
	}
	return conv, nil
}

// Partners returns every user sharing an active conversation with userID
func (s *ConversationService) Partners(ctx context.Context, userID uuid.UUID) ([]uuid.UUID, error) {
	seen := map[uuid.UUID]struct{}{userID: {}}
	var partners []uuid.UUID
	add := func(id uuid.UUID) {
		if _, ok := seen[id]; !ok {
			seen[id] = struct{}{}
			partners = append(partners, id)
		}
	}

	page := shared.Pagination{Limit: MaxConversationPageSize}
	for {
		rows, err := s.conversations.ListForUser(ctx, userID, page)
		if err != nil {
			return nil, storeError(err)
		}
		for _, row := range rows {
			if row.OtherUserID != nil {
				add(*row.OtherUserID)
				continue
			}
			participants, err := s.conversations.ActiveParticipants(ctx, row.Conversation.ID)
			if err != nil {
				return nil, storeError(err)
			}
			for _, p := range participants {
				add(p.UserID)
			}
		}
		if len(rows) < page.Limit {
			return partners, nil
		}
		page.Offset += page.Limit
	}
}

func (s *ConversationService) publish(ctx context.Context, events ...shared.DomainEvent) {
	if s.events == nil {
		return
	}
	if err := s.events.Publish(ctx, events...); err != nil {
		logger.LWithFallback(ctx, s.logger).Warn("Failed to publish domain events", zap.Error(err))
	}
}
