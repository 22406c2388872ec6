package persistence

import (
	"sync"
	"testing"
	"time"

	"github.com/campus/messaging/internal/infrastructure/persistence/models"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

// setupMessagingTestDB opens a private in-memory database. A single
// connection keeps every query, including concurrent ones, on the same
// in-memory schema.
func setupMessagingTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{TranslateError: true})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	require.NoError(t, db.AutoMigrate(models.All()...))
	return db
}

// stepClock returns strictly increasing times, one second apart
type stepClock struct {
	mu  sync.Mutex
	now time.Time
}

func newStepClock() *stepClock {
	return &stepClock{now: time.Date(2024, 9, 1, 8, 0, 0, 0, time.UTC)}
}

func (c *stepClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(time.Second)
	return c.now
}

type messagingRepos struct {
	db            *gorm.DB
	conversations *GormConversationRepository
	messages      *GormMessageRepository
}

func newMessagingRepos(t *testing.T) messagingRepos {
	db := setupMessagingTestDB(t)
	clock := newStepClock()

	conversations := NewGormConversationRepository(db)
	conversations.now = clock.Now
	messages := NewGormMessageRepository(db)
	messages.now = clock.Now

	return messagingRepos{db: db, conversations: conversations, messages: messages}
}
