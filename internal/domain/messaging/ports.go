package messaging

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// PresenceStatus is the best-effort liveness of a user
type PresenceStatus string

const (
	StatusOnline  PresenceStatus = "online"
	StatusOffline PresenceStatus = "offline"
)

// ConnectionHandle identifies one live realtime connection of a user
type ConnectionHandle struct {
	ID          string    `json:"id"`
	NodeID      string    `json:"node_id"`
	ConnectedAt time.Time `json:"connected_at"`
}

// PresenceStore keeps TTL-bounded online state and typing flags. Entries
// expire on their own when heartbeats stop.
type PresenceStore interface {
	MarkOnline(ctx context.Context, userID uuid.UUID, handle ConnectionHandle) error
	// Refresh re-registers a live connection and extends the entry TTL. It
	// recreates an entry that expired or was removed.
	Refresh(ctx context.Context, userID uuid.UUID, handle ConnectionHandle) error
	// Status reports offline for missing or expired entries
	Status(ctx context.Context, userID uuid.UUID) (PresenceStatus, error)
	// LastSeen returns the last activity time, zero when unknown
	LastSeen(ctx context.Context, userID uuid.UUID) (time.Time, error)
	// Connections omits handles not refreshed within the online TTL
	Connections(ctx context.Context, userID uuid.UUID) ([]ConnectionHandle, error)
	// RemoveConnection drops one handle and reports whether the user has
	// no connection left
	RemoveConnection(ctx context.Context, userID uuid.UUID, connectionID string) (offline bool, err error)
	MarkOffline(ctx context.Context, userID uuid.UUID) error
	OnlineUsers(ctx context.Context) ([]uuid.UUID, error)

	SetTyping(ctx context.Context, senderID, receiverID uuid.UUID) error
	ClearTyping(ctx context.Context, senderID, receiverID uuid.UUID) error
	IsTyping(ctx context.Context, senderID, receiverID uuid.UUID) (bool, error)
}

// ConversationCache is a disposable read-through view of history pages
type ConversationCache interface {
	Get(ctx context.Context, conversationID uuid.UUID, pageKey string) (*MessagePage, bool, error)
	// Generation returns the conversation's invalidation counter. Read it
	// before loading a page from the store and hand it back to Put.
	Generation(ctx context.Context, conversationID uuid.UUID) (int64, error)
	// Put stores the page only while the generation is unchanged, so a page
	// read before an Invalidate is never cached after it
	Put(ctx context.Context, conversationID uuid.UUID, generation int64, pageKey string, page *MessagePage, ttl time.Duration) error
	// Invalidate drops every cached page of the conversation and bumps its
	// generation
	Invalidate(ctx context.Context, conversationID uuid.UUID) error
}

// LiveChannel pushes an event to a user's live connections
type LiveChannel interface {
	Emit(ctx context.Context, userID uuid.UUID, event Event) error
}

// MessageNotification is what the push collaborator needs to notify an
// offline recipient
type MessageNotification struct {
	SenderName     string
	MessageText    string
	ConversationID uuid.UUID
	SenderID       uuid.UUID
	MessageID      int64
}

// Notifier is the push-notification collaborator. Calls are fire-and-forget
// from the pipeline's point of view.
type Notifier interface {
	SendMessageNotification(ctx context.Context, recipientID uuid.UUID, n MessageNotification) error
}
