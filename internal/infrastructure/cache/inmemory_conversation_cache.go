package cache

import (
	"context"
	"sync"
	"time"

	"github.com/campus/messaging/internal/domain/messaging"
	"github.com/google/uuid"
)

type cachedPage struct {
	page      messaging.MessagePage
	expiresAt time.Time
}

type generation struct {
	value     int64
	expiresAt time.Time
}

// InMemoryConversationCache implements messaging.ConversationCache in process
// memory. Generations expire like the Redis counter keys.
type InMemoryConversationCache struct {
	mu          sync.RWMutex
	entries     map[uuid.UUID]map[string]cachedPage
	generations map[uuid.UUID]generation
	now         func() time.Time
}

// NewInMemoryConversationCache creates an empty history cache
func NewInMemoryConversationCache() *InMemoryConversationCache {
	return &InMemoryConversationCache{
		entries:     make(map[uuid.UUID]map[string]cachedPage),
		generations: make(map[uuid.UUID]generation),
		now:         time.Now,
	}
}

// WithClock replaces the time source
func (c *InMemoryConversationCache) WithClock(now func() time.Time) *InMemoryConversationCache {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = now
	return c
}

func (c *InMemoryConversationCache) Get(_ context.Context, conversationID uuid.UUID, pageKey string) (*messaging.MessagePage, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	pages := c.entries[conversationID]
	entry, ok := pages[pageKey]
	if !ok {
		return nil, false, nil
	}
	if !c.now().Before(entry.expiresAt) {
		delete(pages, pageKey)
		if len(pages) == 0 {
			delete(c.entries, conversationID)
		}
		return nil, false, nil
	}
	page := copyPage(entry.page)
	return &page, true, nil
}

func (c *InMemoryConversationCache) Generation(_ context.Context, conversationID uuid.UUID) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.generation(conversationID), nil
}

// generation must be called with mu held
func (c *InMemoryConversationCache) generation(conversationID uuid.UUID) int64 {
	gen, ok := c.generations[conversationID]
	if !ok {
		return 0
	}
	if !c.now().Before(gen.expiresAt) {
		delete(c.generations, conversationID)
		return 0
	}
	return gen.value
}

func (c *InMemoryConversationCache) Put(_ context.Context, conversationID uuid.UUID, gen int64, pageKey string, page *messaging.MessagePage, ttl time.Duration) error {
	if page == nil {
		return nil
	}
	if ttl <= 0 {
		ttl = defaultHistoryTTL
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.generation(conversationID) != gen {
		return nil
	}
	pages, ok := c.entries[conversationID]
	if !ok {
		pages = make(map[string]cachedPage)
		c.entries[conversationID] = pages
	}
	pages[pageKey] = cachedPage{page: copyPage(*page), expiresAt: c.now().Add(ttl)}
	return nil
}

func (c *InMemoryConversationCache) Invalidate(_ context.Context, conversationID uuid.UUID) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	delete(c.entries, conversationID)
	c.generations[conversationID] = generation{
		value:     c.generation(conversationID) + 1,
		expiresAt: c.now().Add(generationTTL),
	}
	return nil
}

// Len returns the number of cached pages of a conversation (for testing/monitoring)
func (c *InMemoryConversationCache) Len(conversationID uuid.UUID) int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries[conversationID])
}

func copyPage(p messaging.MessagePage) messaging.MessagePage {
	msgs := make([]messaging.Message, len(p.Messages))
	copy(msgs, p.Messages)
	return messaging.MessagePage{Messages: msgs, HasMore: p.HasMore}
}

var _ messaging.ConversationCache = (*InMemoryConversationCache)(nil)
