package messaging

import (
	"context"

	"github.com/campus/messaging/internal/domain/shared"
	"github.com/google/uuid"
)

// ConversationRepository persists conversations and their participants
type ConversationRepository interface {
	// ResolveOrCreateDirect returns the direct conversation of the pair,
	// creating it with both participants when missing. created reports
	// whether this call inserted it. Concurrent callers for the same pair
	// all observe the same conversation.
	ResolveOrCreateDirect(ctx context.Context, userA, userB uuid.UUID) (conv *Conversation, created bool, err error)
	// FindDirect returns the existing direct conversation of the pair or NotFound
	FindDirect(ctx context.Context, userA, userB uuid.UUID) (*Conversation, error)
	CreateGroup(ctx context.Context, creatorID uuid.UUID, name string, memberIDs []uuid.UUID) (*Conversation, error)
	FindByID(ctx context.Context, id uuid.UUID) (*Conversation, error)
	// ListForUser returns the user's active conversations, most recent activity first
	ListForUser(ctx context.Context, userID uuid.UUID, page shared.Pagination) ([]ConversationSummary, error)
	ActiveParticipants(ctx context.Context, conversationID uuid.UUID) ([]Participant, error)
	// FindActiveParticipant returns NotFound when the user is not in the conversation
	FindActiveParticipant(ctx context.Context, conversationID, userID uuid.UUID) (*Participant, error)
	// AddParticipants requires actingUserID to be an admin of a group and
	// returns the users actually added. Already active users are skipped.
	AddParticipants(ctx context.Context, conversationID, actingUserID uuid.UUID, userIDs []uuid.UUID) ([]uuid.UUID, error)
	Leave(ctx context.Context, conversationID, userID uuid.UUID) error
	UpdateFlags(ctx context.Context, cmd ConversationFlagsCommand) (*Conversation, error)
}

// MessageRepository is the single write path for messages
type MessageRepository interface {
	// Append stores the message and bumps the conversation's last activity
	// in one transaction. The sender must be an active participant.
	Append(ctx context.Context, cmd AppendCommand) (*Message, error)
	FindByID(ctx context.Context, id int64) (*Message, error)
	SoftDelete(ctx context.Context, id int64, requesterID uuid.UUID) (*Message, error)
	Edit(ctx context.Context, cmd EditCommand) (*Message, error)
	React(ctx context.Context, cmd ReactCommand) (*Message, error)
	// MarkRead moves the participant's cursor to max(current, upTo). A nil
	// upTo means the newest message not sent by the user.
	MarkRead(ctx context.Context, conversationID, userID uuid.UUID, upTo *int64) (ReadCursor, error)
	// FetchPage returns non-deleted messages in descending id order
	FetchPage(ctx context.Context, conversationID uuid.UUID, q PageQuery) (*MessagePage, error)
	// UnreadCount sums unread messages across the user's active conversations
	UnreadCount(ctx context.Context, userID uuid.UUID) (int64, error)
	// SendersBetween lists distinct senders of messages with afterID < id <= uptoID, excluding one user
	SendersBetween(ctx context.Context, conversationID uuid.UUID, afterID, uptoID int64, exclude uuid.UUID) ([]uuid.UUID, error)
}
