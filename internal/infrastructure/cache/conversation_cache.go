package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/campus/messaging/internal/domain/messaging"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	conversationKeyPrefix = "chat:conv:"
	generationKeyPrefix   = "chat:convgen:"
	defaultHistoryTTL     = 10 * time.Minute
	// generationTTL outlives any store read between Generation and Put
	generationTTL = 24 * time.Hour
)

// RedisConversationCache implements messaging.ConversationCache with one
// Redis hash per conversation, one field per page key, plus a counter key
// bumped on every invalidation. Put runs under WATCH on the counter.
type RedisConversationCache struct {
	client *redis.Client
	logger *zap.Logger
}

// NewRedisConversationCacheWithClient creates a history cache with an existing Redis client.
// The caller retains ownership of the client.
func NewRedisConversationCacheWithClient(client *redis.Client, logger *zap.Logger) *RedisConversationCache {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RedisConversationCache{client: client, logger: logger}
}

func conversationKey(conversationID uuid.UUID) string {
	return conversationKeyPrefix + conversationID.String()
}

var errStaleGeneration = errors.New("history cache generation changed")

func generationKey(conversationID uuid.UUID) string {
	return generationKeyPrefix + conversationID.String()
}

type stringGetter interface {
	Get(ctx context.Context, key string) *redis.StringCmd
}

// readGeneration treats a missing counter as generation 0
func readGeneration(ctx context.Context, r stringGetter, key string) (int64, error) {
	gen, err := r.Get(ctx, key).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	return gen, err
}

// Get returns a cached page. A miss is (nil, false, nil).
func (c *RedisConversationCache) Get(ctx context.Context, conversationID uuid.UUID, pageKey string) (*messaging.MessagePage, bool, error) {
	key := conversationKey(conversationID)
	data, err := c.client.HGet(ctx, key, pageKey).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to get page from cache: %w", err)
	}

	var page messaging.MessagePage
	if err := json.Unmarshal(data, &page); err != nil {
		c.logger.Warn("Dropping corrupted history cache entry",
			zap.String("conversation_id", conversationID.String()),
			zap.String("page_key", pageKey),
			zap.Error(err))
		_ = c.client.HDel(ctx, key, pageKey).Err()
		return nil, false, nil
	}
	return &page, true, nil
}

// Generation returns the invalidation counter of the conversation
func (c *RedisConversationCache) Generation(ctx context.Context, conversationID uuid.UUID) (int64, error) {
	gen, err := readGeneration(ctx, c.client, generationKey(conversationID))
	if err != nil {
		return 0, fmt.Errorf("failed to read cache generation: %w", err)
	}
	return gen, nil
}

// Put stores a page and resets the conversation entry's TTL. A generation
// that no longer matches, or an Invalidate landing during the write, turns
// Put into a no-op.
func (c *RedisConversationCache) Put(ctx context.Context, conversationID uuid.UUID, gen int64, pageKey string, page *messaging.MessagePage, ttl time.Duration) error {
	if page == nil {
		return nil
	}
	if ttl <= 0 {
		ttl = defaultHistoryTTL
	}

	data, err := json.Marshal(page)
	if err != nil {
		return fmt.Errorf("failed to marshal page: %w", err)
	}

	key, genKey := conversationKey(conversationID), generationKey(conversationID)
	err = c.client.Watch(ctx, func(tx *redis.Tx) error {
		current, err := readGeneration(ctx, tx, genKey)
		if err != nil {
			return err
		}
		if current != gen {
			return errStaleGeneration
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.HSet(ctx, key, pageKey, data)
			pipe.Expire(ctx, key, ttl)
			return nil
		})
		return err
	}, genKey)

	switch {
	case err == nil:
		return nil
	case errors.Is(err, errStaleGeneration), errors.Is(err, redis.TxFailedErr):
		c.logger.Debug("Skipping stale history page",
			zap.String("conversation_id", conversationID.String()),
			zap.String("page_key", pageKey))
		return nil
	default:
		return fmt.Errorf("failed to put page in cache: %w", err)
	}
}

// Invalidate drops every cached page of the conversation and bumps its
// generation
func (c *RedisConversationCache) Invalidate(ctx context.Context, conversationID uuid.UUID) error {
	genKey := generationKey(conversationID)
	_, err := c.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Incr(ctx, genKey)
		pipe.Expire(ctx, genKey, generationTTL)
		pipe.Del(ctx, conversationKey(conversationID))
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to invalidate conversation cache: %w", err)
	}
	return nil
}

var _ messaging.ConversationCache = (*RedisConversationCache)(nil)
