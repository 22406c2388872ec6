package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/campus/messaging/internal/domain/messaging"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	defaultFanoutChannel = "chat:fanout"
	defaultCloseTimeout  = 5 * time.Second
)

// DeliverFunc hands a fanned-out event to the connections of this node
type DeliverFunc func(ctx context.Context, userID uuid.UUID, event messaging.Event) error

type fanoutEnvelope struct {
	UserID uuid.UUID       `json:"user_id"`
	Origin string          `json:"origin"`
	Event  json.RawMessage `json:"event"`
}

type rawEvent struct {
	Type      messaging.EventType `json:"type"`
	RequestID string              `json:"request_id,omitempty"`
	Data      json.RawMessage     `json:"data,omitempty"`
}

// RedisEventFanout implements messaging.LiveChannel over Redis Pub/Sub so an
// event reaches the user on whichever node holds their connection. Every
// node, the publisher included, delivers to its local connections.
type RedisEventFanout struct {
	client    *redis.Client
	channel   string
	nodeID    string
	logger    *zap.Logger
	cancelFn  context.CancelFunc
	doneCh    chan struct{}
	doneOnce  sync.Once
	mu        sync.Mutex
	isRunning bool
}

// RedisEventFanoutOption is a functional option for configuring the fan-out
type RedisEventFanoutOption func(*RedisEventFanout)

// WithFanoutChannel sets the Pub/Sub channel name
func WithFanoutChannel(channel string) RedisEventFanoutOption {
	return func(f *RedisEventFanout) {
		if channel != "" {
			f.channel = channel
		}
	}
}

// WithFanoutLogger sets the logger
func WithFanoutLogger(logger *zap.Logger) RedisEventFanoutOption {
	return func(f *RedisEventFanout) {
		f.logger = logger
	}
}

// NewRedisEventFanoutWithClient creates a fan-out with an existing Redis client.
// The caller retains ownership of the client.
func NewRedisEventFanoutWithClient(client *redis.Client, nodeID string, opts ...RedisEventFanoutOption) *RedisEventFanout {
	f := &RedisEventFanout{
		client:  client,
		channel: defaultFanoutChannel,
		nodeID:  nodeID,
		logger:  zap.NewNop(),
		doneCh:  make(chan struct{}),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Emit publishes the event for userID to every node
func (f *RedisEventFanout) Emit(ctx context.Context, userID uuid.UUID, event messaging.Event) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}
	envelope, err := json.Marshal(fanoutEnvelope{UserID: userID, Origin: f.nodeID, Event: data})
	if err != nil {
		return fmt.Errorf("failed to marshal envelope: %w", err)
	}

	if err := f.client.Publish(ctx, f.channel, envelope).Err(); err != nil {
		f.logger.Error("Failed to publish realtime event",
			zap.String("channel", f.channel),
			zap.String("event_type", string(event.Type)),
			zap.Error(err))
		return fmt.Errorf("failed to publish event: %w", err)
	}
	return nil
}

// Subscribe delivers every published event through deliver until ctx ends.
// It blocks; run it in a goroutine. ready, when not nil, is closed once the
// subscription is confirmed.
func (f *RedisEventFanout) Subscribe(ctx context.Context, deliver DeliverFunc, ready chan<- struct{}) error {
	f.mu.Lock()
	if f.isRunning {
		f.mu.Unlock()
		return fmt.Errorf("subscription already running")
	}
	f.isRunning = true
	subCtx, cancel := context.WithCancel(ctx)
	f.cancelFn = cancel
	f.mu.Unlock()

	defer func() {
		f.mu.Lock()
		f.isRunning = false
		f.mu.Unlock()
		f.markDone()
	}()

	pubsub := f.client.Subscribe(subCtx, f.channel)
	defer pubsub.Close()

	if _, err := pubsub.Receive(subCtx); err != nil {
		return fmt.Errorf("failed to subscribe to channel: %w", err)
	}
	if ready != nil {
		close(ready)
	}

	f.logger.Info("Subscribed to realtime fan-out channel",
		zap.String("channel", f.channel),
		zap.String("node_id", f.nodeID))

	ch := pubsub.Channel()
	for {
		select {
		case <-subCtx.Done():
			f.logger.Info("Realtime fan-out subscription stopped")
			return subCtx.Err()
		case msg, ok := <-ch:
			if !ok {
				f.logger.Warn("Realtime fan-out channel closed")
				return nil
			}
			f.dispatch(subCtx, msg.Payload, deliver)
		}
	}
}

func (f *RedisEventFanout) dispatch(ctx context.Context, payload string, deliver DeliverFunc) {
	var envelope fanoutEnvelope
	if err := json.Unmarshal([]byte(payload), &envelope); err != nil {
		f.logger.Error("Failed to unmarshal fan-out envelope", zap.Error(err))
		return
	}
	var raw rawEvent
	if err := json.Unmarshal(envelope.Event, &raw); err != nil {
		f.logger.Error("Failed to unmarshal fanned-out event", zap.Error(err))
		return
	}

	event := messaging.Event{Type: raw.Type, RequestID: raw.RequestID}
	if len(raw.Data) > 0 {
		event.Data = raw.Data
	}

	defer func() {
		if r := recover(); r != nil {
			f.logger.Error("Panic in fan-out delivery", zap.Any("panic", r))
		}
	}()
	if err := deliver(ctx, envelope.UserID, event); err != nil {
		f.logger.Debug("Fanned-out event not delivered on this node",
			zap.String("user_id", envelope.UserID.String()),
			zap.String("event_type", string(event.Type)),
			zap.Error(err))
	}
}

func (f *RedisEventFanout) markDone() {
	f.doneOnce.Do(func() {
		close(f.doneCh)
	})
}

// Close stops the subscription and waits for it to end
func (f *RedisEventFanout) Close() error {
	f.mu.Lock()
	cancelFn := f.cancelFn
	f.mu.Unlock()

	if cancelFn != nil {
		cancelFn()
		select {
		case <-f.doneCh:
		case <-time.After(defaultCloseTimeout):
			f.logger.Warn("Timeout waiting for fan-out subscription to stop")
		}
	}
	return nil
}

var _ messaging.LiveChannel = (*RedisEventFanout)(nil)
