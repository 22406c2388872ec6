package cache

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/campus/messaging/internal/domain/messaging"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type delivered struct {
	userID uuid.UUID
	event  messaging.Event
}

func startFanout(t *testing.T, f *RedisEventFanout, deliver DeliverFunc) {
	t.Helper()
	ready := make(chan struct{})
	go func() { _ = f.Subscribe(context.Background(), deliver, ready) }()
	select {
	case <-ready:
	case <-time.After(2 * time.Second):
		t.Fatal("subscription not confirmed")
	}
	t.Cleanup(func() { _ = f.Close() })
}

func TestRedisEventFanout_DeliversToEveryNode(t *testing.T) {
	_, client := newTestRedis(t)
	ctx := context.Background()

	nodeA := NewRedisEventFanoutWithClient(client, "node-a")
	nodeB := NewRedisEventFanoutWithClient(client, "node-b")

	gotA := make(chan delivered, 1)
	gotB := make(chan delivered, 1)
	startFanout(t, nodeA, func(_ context.Context, userID uuid.UUID, event messaging.Event) error {
		gotA <- delivered{userID, event}
		return nil
	})
	startFanout(t, nodeB, func(_ context.Context, userID uuid.UUID, event messaging.Event) error {
		gotB <- delivered{userID, event}
		return nil
	})

	recipient := uuid.New()
	convID := uuid.New()
	err := nodeA.Emit(ctx, recipient, messaging.Event{
		Type:      messaging.EventUserTyping,
		RequestID: "req-1",
		Data:      messaging.TypingNotice{SenderID: uuid.New(), ReceiverID: recipient, ConversationID: &convID, IsTyping: true},
	})
	require.NoError(t, err)

	for name, ch := range map[string]chan delivered{"node-a": gotA, "node-b": gotB} {
		select {
		case d := <-ch:
			assert.Equal(t, recipient, d.userID, name)
			assert.Equal(t, messaging.EventUserTyping, d.event.Type, name)
			assert.Equal(t, "req-1", d.event.RequestID, name)

			raw, ok := d.event.Data.(json.RawMessage)
			require.True(t, ok, name)
			var notice messaging.TypingNotice
			require.NoError(t, json.Unmarshal(raw, &notice))
			assert.True(t, notice.IsTyping)
			assert.Equal(t, recipient, notice.ReceiverID)
			require.NotNil(t, notice.ConversationID)
			assert.Equal(t, convID, *notice.ConversationID)
		case <-time.After(2 * time.Second):
			t.Fatalf("%s did not receive the event", name)
		}
	}
}

func TestRedisEventFanout_DeliveryErrorsAndPanicsAreContained(t *testing.T) {
	_, client := newTestRedis(t)
	ctx := context.Background()
	f := NewRedisEventFanoutWithClient(client, "node-a", WithFanoutChannel("test:fanout"))

	calls := make(chan int, 3)
	n := 0
	startFanout(t, f, func(context.Context, uuid.UUID, messaging.Event) error {
		n++
		calls <- n
		switch n {
		case 1:
			return errors.New("not connected here")
		case 2:
			panic("boom")
		}
		return nil
	})

	for i := 0; i < 3; i++ {
		require.NoError(t, f.Emit(ctx, uuid.New(), messaging.Event{Type: messaging.EventPong}))
	}
	for want := 1; want <= 3; want++ {
		select {
		case got := <-calls:
			assert.Equal(t, want, got)
		case <-time.After(2 * time.Second):
			t.Fatalf("delivery %d missing", want)
		}
	}
}

func TestRedisEventFanout_SubscribeTwice(t *testing.T) {
	_, client := newTestRedis(t)
	f := NewRedisEventFanoutWithClient(client, "node-a")
	startFanout(t, f, func(context.Context, uuid.UUID, messaging.Event) error { return nil })

	err := f.Subscribe(context.Background(), func(context.Context, uuid.UUID, messaging.Event) error { return nil }, nil)
	assert.Error(t, err)
}

func TestRedisEventFanout_EmitFailsWhenRedisIsDown(t *testing.T) {
	mr, client := newTestRedis(t)
	f := NewRedisEventFanoutWithClient(client, "node-a")
	mr.Close()

	err := f.Emit(context.Background(), uuid.New(), messaging.Event{Type: messaging.EventPong})
	assert.Error(t, err)
}

func TestRedisEventFanout_CloseWithoutSubscribe(t *testing.T) {
	_, client := newTestRedis(t)
	f := NewRedisEventFanoutWithClient(client, "node-a")
	assert.NoError(t, f.Close())
}
