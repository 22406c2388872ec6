package messaging

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/campus/messaging/internal/domain/messaging"
	"github.com/campus/messaging/internal/domain/shared"
	"github.com/campus/messaging/internal/infrastructure/cache"
	"github.com/google/uuid"
	"github.com/stretchr/testify/mock"
)

// MockConversationRepository is a mock implementation of ConversationRepository
type MockConversationRepository struct {
	mock.Mock
}

func (m *MockConversationRepository) ResolveOrCreateDirect(ctx context.Context, userA, userB uuid.UUID) (*messaging.Conversation, bool, error) {
	args := m.Called(ctx, userA, userB)
	if args.Get(0) == nil {
		return nil, false, args.Error(2)
	}
	return args.Get(0).(*messaging.Conversation), args.Bool(1), args.Error(2)
}

func (m *MockConversationRepository) FindDirect(ctx context.Context, userA, userB uuid.UUID) (*messaging.Conversation, error) {
	args := m.Called(ctx, userA, userB)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*messaging.Conversation), args.Error(1)
}

func (m *MockConversationRepository) CreateGroup(ctx context.Context, creatorID uuid.UUID, name string, memberIDs []uuid.UUID) (*messaging.Conversation, error) {
	args := m.Called(ctx, creatorID, name, memberIDs)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*messaging.Conversation), args.Error(1)
}

func (m *MockConversationRepository) FindByID(ctx context.Context, id uuid.UUID) (*messaging.Conversation, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*messaging.Conversation), args.Error(1)
}

func (m *MockConversationRepository) ListForUser(ctx context.Context, userID uuid.UUID, page shared.Pagination) ([]messaging.ConversationSummary, error) {
	args := m.Called(ctx, userID, page)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]messaging.ConversationSummary), args.Error(1)
}

func (m *MockConversationRepository) ActiveParticipants(ctx context.Context, conversationID uuid.UUID) ([]messaging.Participant, error) {
	args := m.Called(ctx, conversationID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]messaging.Participant), args.Error(1)
}

func (m *MockConversationRepository) FindActiveParticipant(ctx context.Context, conversationID, userID uuid.UUID) (*messaging.Participant, error) {
	args := m.Called(ctx, conversationID, userID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*messaging.Participant), args.Error(1)
}

func (m *MockConversationRepository) AddParticipants(ctx context.Context, conversationID, actingUserID uuid.UUID, userIDs []uuid.UUID) ([]uuid.UUID, error) {
	args := m.Called(ctx, conversationID, actingUserID, userIDs)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]uuid.UUID), args.Error(1)
}

func (m *MockConversationRepository) Leave(ctx context.Context, conversationID, userID uuid.UUID) error {
	args := m.Called(ctx, conversationID, userID)
	return args.Error(0)
}

func (m *MockConversationRepository) UpdateFlags(ctx context.Context, cmd messaging.ConversationFlagsCommand) (*messaging.Conversation, error) {
	args := m.Called(ctx, cmd)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*messaging.Conversation), args.Error(1)
}

// MockMessageRepository is a mock implementation of MessageRepository
type MockMessageRepository struct {
	mock.Mock
}

func (m *MockMessageRepository) Append(ctx context.Context, cmd messaging.AppendCommand) (*messaging.Message, error) {
	args := m.Called(ctx, cmd)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*messaging.Message), args.Error(1)
}

func (m *MockMessageRepository) FindByID(ctx context.Context, id int64) (*messaging.Message, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*messaging.Message), args.Error(1)
}

func (m *MockMessageRepository) SoftDelete(ctx context.Context, id int64, requesterID uuid.UUID) (*messaging.Message, error) {
	args := m.Called(ctx, id, requesterID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*messaging.Message), args.Error(1)
}

func (m *MockMessageRepository) Edit(ctx context.Context, cmd messaging.EditCommand) (*messaging.Message, error) {
	args := m.Called(ctx, cmd)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*messaging.Message), args.Error(1)
}

func (m *MockMessageRepository) React(ctx context.Context, cmd messaging.ReactCommand) (*messaging.Message, error) {
	args := m.Called(ctx, cmd)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*messaging.Message), args.Error(1)
}

func (m *MockMessageRepository) MarkRead(ctx context.Context, conversationID, userID uuid.UUID, upTo *int64) (messaging.ReadCursor, error) {
	args := m.Called(ctx, conversationID, userID, upTo)
	return args.Get(0).(messaging.ReadCursor), args.Error(1)
}

func (m *MockMessageRepository) FetchPage(ctx context.Context, conversationID uuid.UUID, q messaging.PageQuery) (*messaging.MessagePage, error) {
	args := m.Called(ctx, conversationID, q)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*messaging.MessagePage), args.Error(1)
}

func (m *MockMessageRepository) UnreadCount(ctx context.Context, userID uuid.UUID) (int64, error) {
	args := m.Called(ctx, userID)
	return args.Get(0).(int64), args.Error(1)
}

func (m *MockMessageRepository) SendersBetween(ctx context.Context, conversationID uuid.UUID, afterID, uptoID int64, exclude uuid.UUID) ([]uuid.UUID, error) {
	args := m.Called(ctx, conversationID, afterID, uptoID, exclude)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]uuid.UUID), args.Error(1)
}

// MockNotifier is a mock implementation of Notifier
type MockNotifier struct {
	mock.Mock
}

func (m *MockNotifier) SendMessageNotification(ctx context.Context, recipientID uuid.UUID, n messaging.MessageNotification) error {
	args := m.Called(ctx, recipientID, n)
	return args.Error(0)
}

// MockEventPublisher records published domain events
type MockEventPublisher struct {
	mu     sync.Mutex
	events []shared.DomainEvent
}

func (p *MockEventPublisher) Publish(_ context.Context, events ...shared.DomainEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, events...)
	return nil
}

func (p *MockEventPublisher) Types() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	types := make([]string, len(p.events))
	for i, e := range p.events {
		types[i] = e.EventType()
	}
	return types
}

// trace is the ordered list of side effects seen by the fakes below
type trace struct {
	mu    sync.Mutex
	steps []string
}

func (t *trace) add(step string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.steps = append(t.steps, step)
}

func (t *trace) all() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]string(nil), t.steps...)
}

// recordingLive captures emitted events per user
type recordingLive struct {
	mu     sync.Mutex
	trace  *trace
	events map[uuid.UUID][]messaging.Event
	fail   error
}

func newRecordingLive(tr *trace) *recordingLive {
	return &recordingLive{trace: tr, events: make(map[uuid.UUID][]messaging.Event)}
}

func (l *recordingLive) Emit(_ context.Context, userID uuid.UUID, event messaging.Event) error {
	if l.fail != nil {
		return l.fail
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events[userID] = append(l.events[userID], event)
	if l.trace != nil {
		l.trace.add("emit:" + string(event.Type))
	}
	return nil
}

func (l *recordingLive) For(userID uuid.UUID) []messaging.Event {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]messaging.Event(nil), l.events[userID]...)
}

// recordingCache wraps the in-memory cache and logs invalidations
type recordingCache struct {
	*cache.InMemoryConversationCache
	trace         *trace
	invalidateErr error
}

func newRecordingCache(tr *trace) *recordingCache {
	return &recordingCache{InMemoryConversationCache: cache.NewInMemoryConversationCache(), trace: tr}
}

func (c *recordingCache) Invalidate(ctx context.Context, conversationID uuid.UUID) error {
	c.trace.add("invalidate")
	if c.invalidateErr != nil {
		return c.invalidateErr
	}
	return c.InMemoryConversationCache.Invalidate(ctx, conversationID)
}

// failingPresence reports every lookup as a store outage
type failingPresence struct {
	messaging.PresenceStore
}

func (failingPresence) Status(context.Context, uuid.UUID) (messaging.PresenceStatus, error) {
	return messaging.StatusOffline, errors.New("redis: connection refused")
}

func newPresence() *cache.InMemoryPresenceStore {
	return cache.NewInMemoryPresenceStore(cache.PresenceTTLs{})
}

func goOnline(presence messaging.PresenceStore, userID uuid.UUID) {
	_ = presence.MarkOnline(context.Background(), userID, messaging.ConnectionHandle{
		ID:          uuid.NewString(),
		NodeID:      "test",
		ConnectedAt: time.Now(),
	})
}

func testConversation(id uuid.UUID, typ messaging.ConversationType) *messaging.Conversation {
	now := time.Now()
	return &messaging.Conversation{
		BaseEntity:     shared.BaseEntity{ID: id, CreatedAt: now, UpdatedAt: now},
		Type:           typ,
		LastActivityAt: now,
	}
}

func participants(conversationID uuid.UUID, users ...uuid.UUID) []messaging.Participant {
	out := make([]messaging.Participant, len(users))
	for i, u := range users {
		out[i] = messaging.NewParticipant(conversationID, u, messaging.RoleMember, time.Now())
	}
	return out
}
