// Package messaging holds the conversation and message model, the commands
// that mutate it and the contracts of the stores behind it.
package messaging

import (
	"strings"
	"time"

	"github.com/campus/messaging/internal/domain/shared"
	"github.com/google/uuid"
)

// ConversationType distinguishes two-person threads from named groups
type ConversationType string

const (
	ConversationDirect ConversationType = "direct"
	ConversationGroup  ConversationType = "group"
)

// IsValid reports whether t is a known conversation type
func (t ConversationType) IsValid() bool {
	return t == ConversationDirect || t == ConversationGroup
}

const maxGroupNameLength = 100

// Conversation is a durable thread between a fixed set of participants
type Conversation struct {
	shared.BaseEntity
	Type ConversationType
	Name string
	// DirectKey is the canonical "low:high" user pair of a direct
	// conversation and empty for groups. It is unique across conversations.
	DirectKey      string
	LastActivityAt time.Time
	IsArchived     bool
	IsPinned       bool
}

// DirectKey returns the order-independent key of the pair (a, b)
func DirectKey(a, b uuid.UUID) string {
	as, bs := a.String(), b.String()
	if as > bs {
		as, bs = bs, as
	}
	return as + ":" + bs
}

// NewDirectConversation validates the pair and builds an unsaved direct conversation
func NewDirectConversation(a, b uuid.UUID, now time.Time) (*Conversation, error) {
	if a == uuid.Nil || b == uuid.Nil {
		return nil, shared.NewValidation("both users are required for a direct conversation")
	}
	if a == b {
		return nil, shared.NewValidation("cannot open a direct conversation with yourself")
	}
	return &Conversation{
		BaseEntity:     shared.NewBaseEntity(now),
		Type:           ConversationDirect,
		DirectKey:      DirectKey(a, b),
		LastActivityAt: now,
	}, nil
}

// NewGroupConversation validates the group and returns it with the
// de-duplicated member list, creator excluded.
func NewGroupConversation(creatorID uuid.UUID, name string, memberIDs []uuid.UUID, now time.Time) (*Conversation, []uuid.UUID, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, nil, shared.NewValidation("group name is required")
	}
	if len([]rune(name)) > maxGroupNameLength {
		return nil, nil, shared.NewValidation("group name is too long")
	}
	if creatorID == uuid.Nil {
		return nil, nil, shared.NewValidation("creator is required")
	}

	members := UniqueUsers(memberIDs, creatorID)
	if len(members) == 0 {
		return nil, nil, shared.NewValidation("a group needs at least one other member")
	}

	return &Conversation{
		BaseEntity:     shared.NewBaseEntity(now),
		Type:           ConversationGroup,
		Name:           name,
		LastActivityAt: now,
	}, members, nil
}

// UniqueUsers drops nil ids, duplicates and every id in exclude, keeping order
func UniqueUsers(ids []uuid.UUID, exclude ...uuid.UUID) []uuid.UUID {
	seen := make(map[uuid.UUID]struct{}, len(ids)+len(exclude))
	seen[uuid.Nil] = struct{}{}
	for _, id := range exclude {
		seen[id] = struct{}{}
	}
	out := make([]uuid.UUID, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

// ParticipantRole is a member's permission level inside a conversation
type ParticipantRole string

const (
	RoleMember ParticipantRole = "member"
	RoleAdmin  ParticipantRole = "admin"
)

// Participant is one membership period of a user in a conversation.
// Re-joining after leaving starts a new Participant.
type Participant struct {
	ID                uuid.UUID
	ConversationID    uuid.UUID
	UserID            uuid.UUID
	Role              ParticipantRole
	JoinedAt          time.Time
	LeftAt            *time.Time
	LastReadMessageID *int64
}

// NewParticipant creates an active membership
func NewParticipant(conversationID, userID uuid.UUID, role ParticipantRole, now time.Time) Participant {
	return Participant{
		ID:             uuid.New(),
		ConversationID: conversationID,
		UserID:         userID,
		Role:           role,
		JoinedAt:       now,
	}
}

// IsActive reports whether the membership has not been left
func (p *Participant) IsActive() bool {
	return p.LeftAt == nil
}

// IsAdmin reports whether p may manage the group
func (p *Participant) IsAdmin() bool {
	return p.IsActive() && p.Role == RoleAdmin
}

// ReadCursor returns the last read message id, 0 when nothing was read
func (p *Participant) ReadCursor() int64 {
	if p.LastReadMessageID == nil {
		return 0
	}
	return *p.LastReadMessageID
}

// ConversationSummary is one row of a user's inbox
type ConversationSummary struct {
	Conversation Conversation
	Role         ParticipantRole
	LastMessage  *Message
	UnreadCount  int64
	// OtherUserID is set for direct conversations
	OtherUserID *uuid.UUID
}

// ConversationDetail is a conversation with its active members
type ConversationDetail struct {
	Conversation Conversation
	Participants []Participant
}
