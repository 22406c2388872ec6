// Package event carries domain events from the delivery pipeline to
// in-process observers such as the messaging metrics.
package event

import (
	"context"
	"slices"
	"sync"

	"github.com/campus/messaging/internal/domain/shared"
	"go.uber.org/zap"
)

var _ shared.EventPublisher = (*Bus)(nil)

type subscription struct {
	handler shared.EventHandler
	types   []string
}

func (s subscription) wants(eventType string) bool {
	return len(s.types) == 0 || slices.Contains(s.types, eventType)
}

// Bus dispatches events synchronously, in subscription order. Handler errors
// and panics are logged and never reach the publisher.
type Bus struct {
	mu      sync.RWMutex
	subs    []subscription
	stopped bool
	wg      sync.WaitGroup
	logger  *zap.Logger
}

// NewBus creates a running Bus
func NewBus(logger *zap.Logger) *Bus {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Bus{logger: logger}
}

// Subscribe adds handler for eventTypes, defaulting to handler.EventTypes()
func (b *Bus) Subscribe(handler shared.EventHandler, eventTypes ...string) {
	if len(eventTypes) == 0 {
		eventTypes = handler.EventTypes()
	}
	b.mu.Lock()
	b.subs = append(b.subs, subscription{handler: handler, types: slices.Clone(eventTypes)})
	b.mu.Unlock()
}

// Publish delivers events to their observers. After Stop events are dropped.
func (b *Bus) Publish(ctx context.Context, events ...shared.DomainEvent) error {
	b.mu.RLock()
	if b.stopped {
		b.mu.RUnlock()
		b.logger.Debug("Event bus stopped, dropping events", zap.Int("count", len(events)))
		return nil
	}
	subs := b.subs
	b.wg.Add(1)
	b.mu.RUnlock()
	defer b.wg.Done()

	for _, event := range events {
		for _, sub := range subs {
			if sub.wants(event.EventType()) {
				b.dispatch(ctx, sub.handler, event)
			}
		}
	}
	return nil
}

func (b *Bus) dispatch(ctx context.Context, handler shared.EventHandler, event shared.DomainEvent) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("Event handler panicked",
				zap.String("event_type", event.EventType()), zap.Any("panic", r))
		}
	}()
	if err := handler.Handle(ctx, event); err != nil {
		b.logger.Warn("Event handler failed",
			zap.String("event_type", event.EventType()),
			zap.String("event_id", event.EventID().String()),
			zap.Error(err))
	}
}

// Stop drops further events and waits for in-flight publishes, bounded by ctx
func (b *Bus) Stop(ctx context.Context) error {
	b.mu.Lock()
	b.stopped = true
	b.mu.Unlock()

	done := make(chan struct{})
	go func() {
		b.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
