package cache

import (
	"context"
	"testing"
	"time"

	"github.com/campus/messaging/internal/domain/messaging"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func samplePage(convID uuid.UUID) *messaging.MessagePage {
	sender := uuid.New()
	created := time.Date(2024, 9, 1, 8, 0, 0, 0, time.UTC)
	return &messaging.MessagePage{
		Messages: []messaging.Message{
			{ID: 2, ConversationID: convID, SenderID: sender, Content: "second", Type: messaging.MessageText, CreatedAt: created.Add(time.Second)},
			{ID: 1, ConversationID: convID, SenderID: sender, Content: "first", Type: messaging.MessageText, CreatedAt: created,
				Reactions: map[string][]uuid.UUID{"👍": {sender}}},
		},
		HasMore: true,
	}
}

func cacheContract(t *testing.T, newCache func(t *testing.T) messaging.ConversationCache) {
	ctx := context.Background()

	t.Run("miss then hit", func(t *testing.T) {
		c := newCache(t)
		convID := uuid.New()
		key := messaging.PageQuery{Limit: 50}.CacheKey()

		_, ok, err := c.Get(ctx, convID, key)
		require.NoError(t, err)
		assert.False(t, ok)

		page := samplePage(convID)
		require.NoError(t, c.Put(ctx, convID, 0, key, page, time.Minute))

		got, ok, err := c.Get(ctx, convID, key)
		require.NoError(t, err)
		require.True(t, ok)
		assert.True(t, got.HasMore)
		require.Len(t, got.Messages, 2)
		assert.Equal(t, int64(2), got.Messages[0].ID)
		assert.Equal(t, "first", got.Messages[1].Content)
		assert.Equal(t, page.Messages[1].Reactions, got.Messages[1].Reactions)
		assert.True(t, page.Messages[0].CreatedAt.Equal(got.Messages[0].CreatedAt))
	})

	t.Run("invalidate drops every page of the conversation only", func(t *testing.T) {
		c := newCache(t)
		convID, otherID := uuid.New(), uuid.New()

		require.NoError(t, c.Put(ctx, convID, 0, "50:-:0", samplePage(convID), time.Minute))
		require.NoError(t, c.Put(ctx, convID, 0, "20:-:20", samplePage(convID), time.Minute))
		require.NoError(t, c.Put(ctx, otherID, 0, "50:-:0", samplePage(otherID), time.Minute))

		require.NoError(t, c.Invalidate(ctx, convID))

		for _, key := range []string{"50:-:0", "20:-:20"} {
			_, ok, err := c.Get(ctx, convID, key)
			require.NoError(t, err)
			assert.False(t, ok, key)
		}
		_, ok, err := c.Get(ctx, otherID, "50:-:0")
		require.NoError(t, err)
		assert.True(t, ok)
	})

	t.Run("page read before an invalidate is not cached", func(t *testing.T) {
		c := newCache(t)
		convID := uuid.New()

		gen, err := c.Generation(ctx, convID)
		require.NoError(t, err)
		require.NoError(t, c.Invalidate(ctx, convID))

		require.NoError(t, c.Put(ctx, convID, gen, "50:-:0", samplePage(convID), time.Minute))
		_, ok, err := c.Get(ctx, convID, "50:-:0")
		require.NoError(t, err)
		assert.False(t, ok)

		fresh, err := c.Generation(ctx, convID)
		require.NoError(t, err)
		assert.Greater(t, fresh, gen)
		require.NoError(t, c.Put(ctx, convID, fresh, "50:-:0", samplePage(convID), time.Minute))
		_, ok, err = c.Get(ctx, convID, "50:-:0")
		require.NoError(t, err)
		assert.True(t, ok)
	})

	t.Run("invalidating an empty conversation is fine", func(t *testing.T) {
		c := newCache(t)
		assert.NoError(t, c.Invalidate(ctx, uuid.New()))
	})
}

func TestRedisConversationCache(t *testing.T) {
	cacheContract(t, func(t *testing.T) messaging.ConversationCache {
		_, client := newTestRedis(t)
		return NewRedisConversationCacheWithClient(client, nil)
	})
}

func TestInMemoryConversationCache(t *testing.T) {
	cacheContract(t, func(t *testing.T) messaging.ConversationCache {
		return NewInMemoryConversationCache()
	})
}

func TestRedisConversationCache_TTL(t *testing.T) {
	ctx := context.Background()
	mr, client := newTestRedis(t)
	c := NewRedisConversationCacheWithClient(client, nil)
	convID := uuid.New()

	require.NoError(t, c.Put(ctx, convID, 0, "50:-:0", samplePage(convID), 10*time.Minute))
	mr.FastForward(11 * time.Minute)

	_, ok, err := c.Get(ctx, convID, "50:-:0")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRedisConversationCache_CorruptedEntry(t *testing.T) {
	ctx := context.Background()
	mr, client := newTestRedis(t)
	c := NewRedisConversationCacheWithClient(client, nil)
	convID := uuid.New()

	mr.HSet(conversationKey(convID), "50:-:0", "{not json")

	_, ok, err := c.Get(ctx, convID, "50:-:0")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.False(t, mr.Exists(conversationKey(convID)), "corrupted field is removed")
}

func TestInMemoryConversationCache_Isolation(t *testing.T) {
	ctx := context.Background()
	c := NewInMemoryConversationCache()
	convID := uuid.New()
	page := samplePage(convID)

	require.NoError(t, c.Put(ctx, convID, 0, "k", page, time.Minute))
	page.Messages[0].Content = "mutated after put"

	got, ok, err := c.Get(ctx, convID, "k")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "second", got.Messages[0].Content)
	assert.Equal(t, 1, c.Len(convID))
}

func TestInMemoryConversationCache_TTL(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2024, 9, 1, 8, 0, 0, 0, time.UTC)
	c := NewInMemoryConversationCache().WithClock(func() time.Time { return now })
	convID := uuid.New()

	require.NoError(t, c.Put(ctx, convID, 0, "k", samplePage(convID), time.Minute))
	now = now.Add(time.Minute)

	_, ok, err := c.Get(ctx, convID, "k")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Zero(t, c.Len(convID), "expired page is evicted")
}

func TestInMemoryConversationCache_GenerationExpires(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2024, 9, 1, 8, 0, 0, 0, time.UTC)
	c := NewInMemoryConversationCache().WithClock(func() time.Time { return now })
	convID := uuid.New()

	require.NoError(t, c.Invalidate(ctx, convID))
	gen, err := c.Generation(ctx, convID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), gen)

	now = now.Add(generationTTL)
	gen, err = c.Generation(ctx, convID)
	require.NoError(t, err)
	assert.Zero(t, gen)
	assert.Empty(t, c.generations)
}

func TestRedisConversationCache_Generation(t *testing.T) {
	ctx := context.Background()
	mr, client := newTestRedis(t)
	c := NewRedisConversationCacheWithClient(client, nil)
	convID := uuid.New()

	require.NoError(t, c.Invalidate(ctx, convID))
	require.NoError(t, c.Invalidate(ctx, convID))

	gen, err := c.Generation(ctx, convID)
	require.NoError(t, err)
	assert.Equal(t, int64(2), gen)
	assert.Equal(t, generationTTL, mr.TTL(generationKey(convID)))
}
