package shared

import "context"

// EventPublisher is how services announce what happened. Publishing never
// fails the operation that produced the event.
type EventPublisher interface {
	Publish(ctx context.Context, events ...DomainEvent) error
}

// EventHandler observes published events. EventTypes filters by type; an
// empty list observes everything.
type EventHandler interface {
	Handle(ctx context.Context, event DomainEvent) error
	EventTypes() []string
}
