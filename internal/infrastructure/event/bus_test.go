package event

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/campus/messaging/internal/domain/shared"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type testEvent struct {
	shared.BaseDomainEvent
}

func newTestEvent(eventType string) *testEvent {
	return &testEvent{BaseDomainEvent: shared.NewBaseDomainEvent(eventType, uuid.New())}
}

type testHandler struct {
	eventTypes []string
	handled    []shared.DomainEvent
	err        error
	mu         sync.Mutex
}

func newTestHandler(eventTypes ...string) *testHandler {
	return &testHandler{eventTypes: eventTypes}
}

func (h *testHandler) Handle(_ context.Context, event shared.DomainEvent) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.handled = append(h.handled, event)
	return h.err
}

func (h *testHandler) EventTypes() []string {
	return h.eventTypes
}

type orderHandler struct {
	name  string
	order *[]string
}

func (h *orderHandler) Handle(context.Context, shared.DomainEvent) error {
	*h.order = append(*h.order, h.name)
	return nil
}

func (h *orderHandler) EventTypes() []string { return nil }

type panicHandler struct{}

func (panicHandler) Handle(context.Context, shared.DomainEvent) error {
	panic("handler bug")
}

func (panicHandler) EventTypes() []string {
	return []string{"MessageSent"}
}

func (h *testHandler) getHandled() []shared.DomainEvent {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]shared.DomainEvent(nil), h.handled...)
}

func TestBus_Publish(t *testing.T) {
	bus := NewBus(zap.NewNop())

	handler := newTestHandler("MessageSent")
	bus.Subscribe(handler)

	event := newTestEvent("MessageSent")
	require.NoError(t, bus.Publish(context.Background(), event, newTestEvent("MessageRead")))

	require.Len(t, handler.getHandled(), 1)
	assert.Equal(t, event, handler.getHandled()[0])
}

func TestBus_ExplicitTypesOverrideHandlerTypes(t *testing.T) {
	bus := NewBus(nil)
	handler := newTestHandler("MessageSent")
	bus.Subscribe(handler, "MessageRead")

	require.NoError(t, bus.Publish(context.Background(), newTestEvent("MessageSent"), newTestEvent("MessageRead")))

	require.Len(t, handler.getHandled(), 1)
	assert.Equal(t, "MessageRead", handler.getHandled()[0].EventType())
}

func TestBus_WildcardHandler(t *testing.T) {
	bus := NewBus(nil)
	handler := newTestHandler()
	bus.Subscribe(handler)

	require.NoError(t, bus.Publish(context.Background(), newTestEvent("A"), newTestEvent("B")))

	assert.Len(t, handler.getHandled(), 2)
}

func TestBus_HandlerErrorsAndPanicsAreContained(t *testing.T) {
	bus := NewBus(nil)

	failing := newTestHandler("MessageSent")
	failing.err = errors.New("boom")
	panicking := panicHandler{}
	healthy := newTestHandler("MessageSent")

	bus.Subscribe(failing)
	bus.Subscribe(panicking)
	bus.Subscribe(healthy)

	err := bus.Publish(context.Background(), newTestEvent("MessageSent"))

	assert.NoError(t, err)
	assert.Len(t, failing.getHandled(), 1)
	assert.Len(t, healthy.getHandled(), 1)
}

func TestBus_SubscriptionOrder(t *testing.T) {
	bus := NewBus(nil)
	var order []string
	bus.Subscribe(&orderHandler{name: "metrics", order: &order})
	bus.Subscribe(&orderHandler{name: "audit", order: &order}, "MessageSent")

	require.NoError(t, bus.Publish(context.Background(), newTestEvent("MessageSent"), newTestEvent("MessageRead")))

	assert.Equal(t, []string{"metrics", "audit", "metrics"}, order)
}

func TestBus_StopDropsLaterEvents(t *testing.T) {
	bus := NewBus(nil)
	handler := newTestHandler("MessageSent")
	bus.Subscribe(handler)

	require.NoError(t, bus.Stop(context.Background()))
	require.NoError(t, bus.Publish(context.Background(), newTestEvent("MessageSent")))
	assert.Empty(t, handler.getHandled())
}

func TestBus_StopWaitsForInFlightPublish(t *testing.T) {
	bus := NewBus(nil)
	release := make(chan struct{})
	started := make(chan struct{})
	bus.Subscribe(&blockingHandler{started: started, release: release})

	go func() { _ = bus.Publish(context.Background(), newTestEvent("MessageSent")) }()
	<-started

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, bus.Stop(ctx), context.DeadlineExceeded)

	close(release)
	assert.NoError(t, bus.Stop(context.Background()))
}

type blockingHandler struct {
	started chan struct{}
	release chan struct{}
}

func (h *blockingHandler) Handle(context.Context, shared.DomainEvent) error {
	close(h.started)
	<-h.release
	return nil
}

func (h *blockingHandler) EventTypes() []string { return nil }
