package telemetry

import (
	"context"
	"fmt"
	"time"

	"github.com/campus/messaging/internal/domain/messaging"
	"github.com/campus/messaging/internal/domain/shared"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
)

// OnlineUserLister is the slice of the presence store the metrics need.
type OnlineUserLister interface {
	OnlineUsers(ctx context.Context) ([]uuid.UUID, error)
}

// MessagingMetrics records delivery counters from domain events and exposes
// connection and presence gauges. A nil *MessagingMetrics is a no-op.
type MessagingMetrics struct {
	logger *zap.Logger

	messagesSent         *Counter
	deliveries           *Counter
	readReceipts         *Counter
	conversationsCreated *Counter
	connections          *UpDownCounter
	sendDuration         *Histogram

	onlineUsers  metric.Int64ObservableGauge
	registration metric.Registration
}

// NewMessagingMetrics creates the instruments on meter. When presence is
// non-nil the online user count is observed on every collection.
func NewMessagingMetrics(meter metric.Meter, presence OnlineUserLister, logger *zap.Logger) (*MessagingMetrics, error) {
	m := &MessagingMetrics{logger: logger}
	var err error

	if m.messagesSent, err = NewCounter(meter, "messaging_messages_sent_total",
		"Total number of messages stored", "{message}"); err != nil {
		return nil, err
	}
	if m.deliveries, err = NewCounter(meter, "messaging_deliveries_total",
		"Recipient deliveries by outcome (live or push)", "{delivery}"); err != nil {
		return nil, err
	}
	if m.readReceipts, err = NewCounter(meter, "messaging_read_receipts_total",
		"Read cursor advances", "{receipt}"); err != nil {
		return nil, err
	}
	if m.conversationsCreated, err = NewCounter(meter, "messaging_conversations_created_total",
		"Conversations created", "{conversation}"); err != nil {
		return nil, err
	}
	if m.connections, err = NewUpDownCounter(meter, "messaging_realtime_connections",
		"Open realtime connections on this node", "{connection}"); err != nil {
		return nil, err
	}
	if m.sendDuration, err = NewHistogram(meter, HistogramOpts{
		Name:        "messaging_send_duration_seconds",
		Description: "Time spent in the send pipeline",
		Unit:        "s",
		Boundaries:  DeliveryDurationBuckets,
	}); err != nil {
		return nil, err
	}

	if presence != nil {
		m.onlineUsers, err = meter.Int64ObservableGauge("messaging_online_users",
			metric.WithDescription("Users with at least one live connection"),
			metric.WithUnit("{user}"),
		)
		if err != nil {
			return nil, fmt.Errorf("failed to create gauge messaging_online_users: %w", err)
		}
		m.registration, err = meter.RegisterCallback(func(ctx context.Context, o metric.Observer) error {
			users, err := presence.OnlineUsers(ctx)
			if err != nil {
				logger.Warn("Failed to observe online users", zap.Error(err))
				return nil
			}
			o.ObserveInt64(m.onlineUsers, int64(len(users)))
			return nil
		}, m.onlineUsers)
		if err != nil {
			return nil, fmt.Errorf("failed to register online users callback: %w", err)
		}
	}

	return m, nil
}

// Handle implements shared.EventHandler.
func (m *MessagingMetrics) Handle(ctx context.Context, event shared.DomainEvent) error {
	if m == nil {
		return nil
	}
	switch e := event.(type) {
	case *messaging.MessageSentEvent:
		m.messagesSent.Inc(ctx, AttrMessageType.String(string(e.MessageType)))
		if e.Delivered > 0 {
			m.deliveries.Add(ctx, int64(e.Delivered), AttrDelivery.String("live"))
		}
		if e.Deferred > 0 {
			m.deliveries.Add(ctx, int64(e.Deferred), AttrDelivery.String("push"))
		}
	case *messaging.MessageReadEvent:
		m.readReceipts.Inc(ctx)
	case *messaging.ConversationCreatedEvent:
		m.conversationsCreated.Inc(ctx, AttrConversationType.String(string(e.Kind)))
	}
	return nil
}

// EventTypes implements shared.EventHandler.
func (m *MessagingMetrics) EventTypes() []string {
	return []string{
		messaging.EventTypeMessageSent,
		messaging.EventTypeMessageRead,
		messaging.EventTypeConversationCreated,
	}
}

// ConnectionOpened counts a new realtime connection.
func (m *MessagingMetrics) ConnectionOpened(ctx context.Context) {
	if m == nil {
		return
	}
	m.connections.Add(ctx, 1)
}

// ConnectionClosed counts a closed realtime connection.
func (m *MessagingMetrics) ConnectionClosed(ctx context.Context) {
	if m == nil {
		return
	}
	m.connections.Add(ctx, -1)
}

// ObserveSend records how long a send took.
func (m *MessagingMetrics) ObserveSend(ctx context.Context, d time.Duration) {
	if m == nil {
		return
	}
	m.sendDuration.RecordDuration(ctx, d)
}

// Close unregisters the presence callback.
func (m *MessagingMetrics) Close() error {
	if m == nil || m.registration == nil {
		return nil
	}
	return m.registration.Unregister()
}
