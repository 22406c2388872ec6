package cache

import (
	"context"
	"sync"
	"time"

	"github.com/campus/messaging/internal/domain/messaging"
	"github.com/google/uuid"
)

type trackedHandle struct {
	handle messaging.ConnectionHandle
	seenAt time.Time
}

type presenceEntry struct {
	conns     map[string]trackedHandle
	expiresAt time.Time
}

type typingPair struct {
	sender, receiver uuid.UUID
}

// InMemoryPresenceStore implements messaging.PresenceStore in process memory.
// It is suitable for single-instance deployments and testing; expired
// entries are dropped lazily on access.
type InMemoryPresenceStore struct {
	mu       sync.Mutex
	ttls     PresenceTTLs
	entries  map[uuid.UUID]*presenceEntry
	lastSeen map[uuid.UUID]time.Time
	typing   map[typingPair]time.Time
	now      func() time.Time
}

// NewInMemoryPresenceStore creates an in-memory presence store
func NewInMemoryPresenceStore(ttls PresenceTTLs) *InMemoryPresenceStore {
	return &InMemoryPresenceStore{
		ttls:     ttls.withDefaults(),
		entries:  make(map[uuid.UUID]*presenceEntry),
		lastSeen: make(map[uuid.UUID]time.Time),
		typing:   make(map[typingPair]time.Time),
		now:      time.Now,
	}
}

// WithClock replaces the time source, for tests that move time forward
func (s *InMemoryPresenceStore) WithClock(now func() time.Time) *InMemoryPresenceStore {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
	return s
}

// live returns the unexpired entry of userID. Callers hold s.mu.
func (s *InMemoryPresenceStore) live(userID uuid.UUID, now time.Time) *presenceEntry {
	e, ok := s.entries[userID]
	if !ok {
		return nil
	}
	if !now.Before(e.expiresAt) {
		delete(s.entries, userID)
		return nil
	}
	return e
}

func (s *InMemoryPresenceStore) MarkOnline(_ context.Context, userID uuid.UUID, handle messaging.ConnectionHandle) error {
	s.upsert(userID, handle)
	return nil
}

// Refresh re-registers handle, recreating a missing entry
func (s *InMemoryPresenceStore) Refresh(_ context.Context, userID uuid.UUID, handle messaging.ConnectionHandle) error {
	s.upsert(userID, handle)
	return nil
}

func (s *InMemoryPresenceStore) upsert(userID uuid.UUID, handle messaging.ConnectionHandle) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	e := s.live(userID, now)
	if e == nil {
		e = &presenceEntry{conns: make(map[string]trackedHandle)}
		s.entries[userID] = e
	}
	e.conns[handle.ID] = trackedHandle{handle: handle, seenAt: now}
	e.expiresAt = now.Add(s.ttls.Online)
	s.lastSeen[userID] = now
}

// prune drops handles not refreshed within the online TTL. Callers hold s.mu.
func (s *InMemoryPresenceStore) prune(userID uuid.UUID, e *presenceEntry, now time.Time) {
	cutoff := now.Add(-s.ttls.Online)
	for id, t := range e.conns {
		if !t.seenAt.After(cutoff) {
			delete(e.conns, id)
		}
	}
	if len(e.conns) == 0 {
		delete(s.entries, userID)
	}
}

func (s *InMemoryPresenceStore) Status(_ context.Context, userID uuid.UUID) (messaging.PresenceStatus, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.live(userID, s.now()) == nil {
		return messaging.StatusOffline, nil
	}
	return messaging.StatusOnline, nil
}

func (s *InMemoryPresenceStore) LastSeen(_ context.Context, userID uuid.UUID) (time.Time, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastSeen[userID], nil
}

func (s *InMemoryPresenceStore) Connections(_ context.Context, userID uuid.UUID) ([]messaging.ConnectionHandle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	e := s.live(userID, now)
	if e == nil {
		return []messaging.ConnectionHandle{}, nil
	}
	s.prune(userID, e, now)
	handles := make([]messaging.ConnectionHandle, 0, len(e.conns))
	for _, t := range e.conns {
		handles = append(handles, t.handle)
	}
	return handles, nil
}

func (s *InMemoryPresenceStore) RemoveConnection(_ context.Context, userID uuid.UUID, connectionID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	s.lastSeen[userID] = now
	e := s.live(userID, now)
	if e == nil {
		return true, nil
	}
	delete(e.conns, connectionID)
	s.prune(userID, e, now)
	return len(e.conns) == 0, nil
}

func (s *InMemoryPresenceStore) MarkOffline(_ context.Context, userID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.entries, userID)
	s.lastSeen[userID] = s.now()
	return nil
}

func (s *InMemoryPresenceStore) OnlineUsers(_ context.Context) ([]uuid.UUID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	users := make([]uuid.UUID, 0, len(s.entries))
	for userID := range s.entries {
		if s.live(userID, now) != nil {
			users = append(users, userID)
		}
	}
	return users, nil
}

func (s *InMemoryPresenceStore) SetTyping(_ context.Context, senderID, receiverID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.typing[typingPair{senderID, receiverID}] = s.now().Add(s.ttls.Typing)
	return nil
}

func (s *InMemoryPresenceStore) ClearTyping(_ context.Context, senderID, receiverID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.typing, typingPair{senderID, receiverID})
	return nil
}

func (s *InMemoryPresenceStore) IsTyping(_ context.Context, senderID, receiverID uuid.UUID) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	pair := typingPair{senderID, receiverID}
	expiresAt, ok := s.typing[pair]
	if !ok {
		return false, nil
	}
	if !s.now().Before(expiresAt) {
		delete(s.typing, pair)
		return false, nil
	}
	return true, nil
}

var _ messaging.PresenceStore = (*InMemoryPresenceStore)(nil)
