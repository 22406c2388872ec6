package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/campus/messaging/internal/domain/messaging"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	presenceKeyPrefix = "presence:user:"
	lastSeenKeyPrefix = "presence:last_seen:"
	typingKeyPrefix   = "presence:typing:"

	defaultOnlineTTL     = time.Hour
	defaultTypingTTL     = 5 * time.Second
	lastSeenRetention    = 30 * 24 * time.Hour
	defaultScanBatchSize = 100
	maxWatchRetries      = 3
)

// PresenceTTLs bounds how long presence and typing flags live without a refresh
type PresenceTTLs struct {
	Online time.Duration
	Typing time.Duration
}

func (t PresenceTTLs) withDefaults() PresenceTTLs {
	if t.Online <= 0 {
		t.Online = defaultOnlineTTL
	}
	if t.Typing <= 0 {
		t.Typing = defaultTypingTTL
	}
	return t
}

// RedisPresenceStore implements messaging.PresenceStore on Redis. Each user
// has one hash keyed by connection id whose TTL is the online TTL; Redis
// drops the hash when its last connection is removed or the TTL runs out.
// Every field carries its own seen_at stamp so a crashed connection is
// pruned while its siblings keep the hash alive.
type RedisPresenceStore struct {
	client *redis.Client
	ttls   PresenceTTLs
	logger *zap.Logger
	now    func() time.Time
}

// NewRedisPresenceStoreWithClient creates a presence store with an existing Redis client.
// The caller retains ownership of the client.
func NewRedisPresenceStoreWithClient(client *redis.Client, ttls PresenceTTLs, logger *zap.Logger) *RedisPresenceStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RedisPresenceStore{
		client: client,
		ttls:   ttls.withDefaults(),
		logger: logger,
		now:    time.Now,
	}
}

func presenceKey(userID uuid.UUID) string {
	return presenceKeyPrefix + userID.String()
}

func lastSeenKey(userID uuid.UUID) string {
	return lastSeenKeyPrefix + userID.String()
}

func typingKey(senderID, receiverID uuid.UUID) string {
	return typingKeyPrefix + senderID.String() + ":" + receiverID.String()
}

type storedHandle struct {
	messaging.ConnectionHandle
	SeenAt int64 `json:"seen_at"`
}

// MarkOnline registers a connection and refreshes the entry TTL
func (s *RedisPresenceStore) MarkOnline(ctx context.Context, userID uuid.UUID, handle messaging.ConnectionHandle) error {
	if err := s.upsert(ctx, userID, handle); err != nil {
		return fmt.Errorf("failed to mark user online: %w", err)
	}
	return nil
}

// Refresh re-registers a live connection. It recreates an entry that was
// lost or removed while the connection stayed open.
func (s *RedisPresenceStore) Refresh(ctx context.Context, userID uuid.UUID, handle messaging.ConnectionHandle) error {
	if err := s.upsert(ctx, userID, handle); err != nil {
		return fmt.Errorf("failed to refresh presence: %w", err)
	}
	return nil
}

func (s *RedisPresenceStore) upsert(ctx context.Context, userID uuid.UUID, handle messaging.ConnectionHandle) error {
	now := s.now()
	data, err := json.Marshal(storedHandle{ConnectionHandle: handle, SeenAt: now.UnixMilli()})
	if err != nil {
		return fmt.Errorf("marshal connection handle: %w", err)
	}

	key := presenceKey(userID)
	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, key, handle.ID, data)
		pipe.Expire(ctx, key, s.ttls.Online)
		pipe.Set(ctx, lastSeenKey(userID), now.UnixMilli(), lastSeenRetention)
		return nil
	})
	return err
}

// Status reports online while the user's entry exists
func (s *RedisPresenceStore) Status(ctx context.Context, userID uuid.UUID) (messaging.PresenceStatus, error) {
	n, err := s.client.Exists(ctx, presenceKey(userID)).Result()
	if err != nil {
		return messaging.StatusOffline, fmt.Errorf("failed to read presence: %w", err)
	}
	if n == 0 {
		return messaging.StatusOffline, nil
	}
	return messaging.StatusOnline, nil
}

// LastSeen returns the last time the user was marked or refreshed
func (s *RedisPresenceStore) LastSeen(ctx context.Context, userID uuid.UUID) (time.Time, error) {
	ms, err := s.client.Get(ctx, lastSeenKey(userID)).Int64()
	if errors.Is(err, redis.Nil) {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to read last seen: %w", err)
	}
	return time.UnixMilli(ms).UTC(), nil
}

// Connections returns the user's live connection handles, pruning those
// not refreshed within the online TTL
func (s *RedisPresenceStore) Connections(ctx context.Context, userID uuid.UUID) ([]messaging.ConnectionHandle, error) {
	handles, err := s.prune(ctx, userID, "")
	if err != nil {
		return nil, fmt.Errorf("failed to read connections: %w", err)
	}
	return handles, nil
}

// RemoveConnection drops one handle and reports whether none are left
func (s *RedisPresenceStore) RemoveConnection(ctx context.Context, userID uuid.UUID, connectionID string) (bool, error) {
	handles, err := s.prune(ctx, userID, connectionID)
	if err != nil {
		return false, fmt.Errorf("failed to remove connection: %w", err)
	}
	if err := s.client.Set(ctx, lastSeenKey(userID), s.now().UnixMilli(), lastSeenRetention).Err(); err != nil {
		return false, fmt.Errorf("failed to record last seen: %w", err)
	}
	return len(handles) == 0, nil
}

// prune deletes stale handles and the one named by remove, under WATCH on
// the user's hash, and returns the handles left
func (s *RedisPresenceStore) prune(ctx context.Context, userID uuid.UUID, remove string) ([]messaging.ConnectionHandle, error) {
	key := presenceKey(userID)
	var live []messaging.ConnectionHandle

	txf := func(tx *redis.Tx) error {
		raw, err := tx.HGetAll(ctx, key).Result()
		if err != nil {
			return err
		}

		cutoff := s.now().Add(-s.ttls.Online).UnixMilli()
		live = make([]messaging.ConnectionHandle, 0, len(raw))
		var drop []string
		for id, data := range raw {
			var h storedHandle
			switch {
			case id == remove:
				drop = append(drop, id)
			case json.Unmarshal([]byte(data), &h) != nil:
				s.logger.Warn("Dropping unreadable connection handle",
					zap.String("user_id", userID.String()),
					zap.String("connection_id", id))
				drop = append(drop, id)
			case h.SeenAt <= cutoff:
				drop = append(drop, id)
			default:
				live = append(live, h.ConnectionHandle)
			}
		}
		if len(drop) == 0 {
			return nil
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.HDel(ctx, key, drop...)
			return nil
		})
		return err
	}

	for attempt := 0; attempt < maxWatchRetries; attempt++ {
		err := s.client.Watch(ctx, txf, key)
		if !errors.Is(err, redis.TxFailedErr) {
			return live, err
		}
	}
	return nil, fmt.Errorf("presence of %s kept changing", userID)
}

// MarkOffline deletes the user's entry regardless of open connections
func (s *RedisPresenceStore) MarkOffline(ctx context.Context, userID uuid.UUID) error {
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, presenceKey(userID))
		pipe.Set(ctx, lastSeenKey(userID), s.now().UnixMilli(), lastSeenRetention)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to mark user offline: %w", err)
	}
	return nil
}

// OnlineUsers scans for live presence entries
func (s *RedisPresenceStore) OnlineUsers(ctx context.Context) ([]uuid.UUID, error) {
	var users []uuid.UUID
	iter := s.client.Scan(ctx, 0, presenceKeyPrefix+"*", defaultScanBatchSize).Iterator()
	for iter.Next(ctx) {
		id, err := uuid.Parse(strings.TrimPrefix(iter.Val(), presenceKeyPrefix))
		if err != nil {
			continue
		}
		users = append(users, id)
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("failed to scan presence: %w", err)
	}
	return users, nil
}

// SetTyping raises the sender's typing flag towards receiver for the typing TTL
func (s *RedisPresenceStore) SetTyping(ctx context.Context, senderID, receiverID uuid.UUID) error {
	if err := s.client.Set(ctx, typingKey(senderID, receiverID), strconv.FormatInt(s.now().UnixMilli(), 10), s.ttls.Typing).Err(); err != nil {
		return fmt.Errorf("failed to set typing: %w", err)
	}
	return nil
}

// ClearTyping lowers the flag before its TTL
func (s *RedisPresenceStore) ClearTyping(ctx context.Context, senderID, receiverID uuid.UUID) error {
	if err := s.client.Del(ctx, typingKey(senderID, receiverID)).Err(); err != nil {
		return fmt.Errorf("failed to clear typing: %w", err)
	}
	return nil
}

// IsTyping reports whether the flag is raised
func (s *RedisPresenceStore) IsTyping(ctx context.Context, senderID, receiverID uuid.UUID) (bool, error) {
	n, err := s.client.Exists(ctx, typingKey(senderID, receiverID)).Result()
	if err != nil {
		return false, fmt.Errorf("failed to read typing: %w", err)
	}
	return n > 0, nil
}

var _ messaging.PresenceStore = (*RedisPresenceStore)(nil)
