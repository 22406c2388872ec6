// Package messaging wires the conversation and message stores, presence
// and the live channel into the operations exposed over REST and the
// realtime gateway.
package messaging

import (
	"context"
	"errors"
	"time"

	"github.com/campus/messaging/internal/domain/messaging"
	"github.com/campus/messaging/internal/domain/shared"
	"github.com/campus/messaging/internal/infrastructure/logger"
	"github.com/campus/messaging/internal/infrastructure/telemetry"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Delivery defaults
const (
	DefaultPersistTimeout  = 5 * time.Second
	DefaultHistoryTTL      = 10 * time.Minute
	DefaultHistoryPageSize = 50
	MaxHistoryPageSize     = 100
	defaultSenderName      = "Someone"
)

// DeliveryConfig bounds the send pipeline and the history cache
type DeliveryConfig struct {
	PersistTimeout  time.Duration
	HistoryTTL      time.Duration
	DefaultPageSize int
	MaxPageSize     int
}

func (c DeliveryConfig) withDefaults() DeliveryConfig {
	if c.PersistTimeout <= 0 {
		c.PersistTimeout = DefaultPersistTimeout
	}
	if c.HistoryTTL <= 0 {
		c.HistoryTTL = DefaultHistoryTTL
	}
	if c.MaxPageSize <= 0 {
		c.MaxPageSize = MaxHistoryPageSize
	}
	if c.DefaultPageSize <= 0 || c.DefaultPageSize > c.MaxPageSize {
		c.DefaultPageSize = min(DefaultHistoryPageSize, c.MaxPageSize)
	}
	return c
}

// SendObserver receives the duration of every successful send
type SendObserver interface {
	ObserveSend(ctx context.Context, d time.Duration)
}

// DeliveryDeps are the collaborators of the pipeline. Notifier may be nil,
// in which case offline recipients are only reachable through history.
type DeliveryDeps struct {
	Conversations messaging.ConversationRepository
	Messages      messaging.MessageRepository
	Presence      messaging.PresenceStore
	Cache         messaging.ConversationCache
	Live          messaging.LiveChannel
	Notifier      messaging.Notifier
}

// DeliveryOption configures a DeliveryService
type DeliveryOption func(*DeliveryService)

// WithDeliveryConfig overrides the timeouts and page sizes
func WithDeliveryConfig(cfg DeliveryConfig) DeliveryOption {
	return func(s *DeliveryService) {
		s.config = cfg.withDefaults()
	}
}

// WithEventPublisher publishes MessageSent, MessageRead and
// ConversationCreated after the corresponding writes
func WithEventPublisher(p shared.EventPublisher) DeliveryOption {
	return func(s *DeliveryService) {
		s.events = p
	}
}

// WithSendObserver records send latency
func WithSendObserver(o SendObserver) DeliveryOption {
	return func(s *DeliveryService) {
		s.observer = o
	}
}

// WithDeliveryLogger sets the logger
func WithDeliveryLogger(l *zap.Logger) DeliveryOption {
	return func(s *DeliveryService) {
		if l != nil {
			s.logger = l
		}
	}
}

// DeliveryService is the write path for messages and read receipts. Every
// operation persists first; cache invalidation, live delivery and push are
// best-effort steps that never undo or fail a committed write.
type DeliveryService struct {
	conversations messaging.ConversationRepository
	messages      messaging.MessageRepository
	presence      messaging.PresenceStore
	cache         messaging.ConversationCache
	live          messaging.LiveChannel
	notifier      messaging.Notifier
	events        shared.EventPublisher
	observer      SendObserver
	config        DeliveryConfig
	logger        *zap.Logger
}

// NewDeliveryService creates the pipeline
func NewDeliveryService(deps DeliveryDeps, opts ...DeliveryOption) *DeliveryService {
	s := &DeliveryService{
		conversations: deps.Conversations,
		messages:      deps.Messages,
		presence:      deps.Presence,
		cache:         deps.Cache,
		live:          deps.Live,
		notifier:      deps.Notifier,
		config:        DeliveryConfig{}.withDefaults(),
		logger:        zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Send stores a message and fans it out to the other active participants.
// The returned result lists, per recipient, whether the message reached a
// live connection; the rest were handed to the push notifier.
func (s *DeliveryService) Send(ctx context.Context, cmd SendCommand) (*SendResult, error) {
	ctx, span := telemetry.Start(ctx, "delivery", "send",
		telemetry.ID(telemetry.AttrSenderID, cmd.SenderID))
	defer span.End()
	start := time.Now()

	if err := cmd.validate(); err != nil {
		return nil, err
	}
	appendCmd := cmd.appendCommand(uuid.Nil)
	if err := appendCmd.ValidateContent(); err != nil {
		return nil, err
	}

	// Every store call up to the append shares one deadline. Past it the
	// send fails as a whole: nothing is invalidated or delivered.
	persistCtx, cancel := context.WithTimeout(ctx, s.config.PersistTimeout)
	defer cancel()

	conv, created, err := s.resolveConversation(persistCtx, &cmd)
	if err != nil {
		telemetry.Fail(span, err)
		return nil, storeError(err)
	}
	recipients, err := s.recipients(persistCtx, conv.ID, cmd.SenderID)
	if err != nil {
		telemetry.Fail(span, err)
		return nil, storeError(err)
	}

	appendCmd.ConversationID = conv.ID
	msg, err := s.messages.Append(persistCtx, appendCmd)
	if err != nil {
		telemetry.Fail(span, err)
		return nil, storeError(err)
	}
	cancel()

	log := s.log(ctx).With(logger.ConversationID(conv.ID), logger.MessageID(msg.ID))

	// Must happen before the sender sees the ack.
	s.invalidate(ctx, conv.ID)

	view := NewMessageView(msg)
	event := messaging.Event{Type: messaging.EventNewMessage, Data: view}
	notice := messaging.MessageNotification{
		SenderName:     senderName(cmd.SenderName),
		MessageText:    msg.Content,
		ConversationID: conv.ID,
		SenderID:       cmd.SenderID,
		MessageID:      msg.ID,
	}

	result := &SendResult{
		Message:             view,
		ConversationID:      conv.ID,
		Recipients:          make([]RecipientStatus, 0, len(recipients)),
		ConversationCreated: created,
	}
	for _, recipientID := range recipients {
		delivered := s.emitIfOnline(ctx, recipientID, event)
		if !delivered {
			s.notify(ctx, recipientID, notice)
		}
		result.Recipients = append(result.Recipients, RecipientStatus{UserID: recipientID, Delivered: delivered})
	}

	delivered := result.DeliveredCount()
	span.SetAttributes(
		telemetry.ID(telemetry.AttrConversationID, conv.ID),
		telemetry.AttrMessageID.Int64(msg.ID),
		telemetry.AttrRecipients.Int(len(recipients)),
		telemetry.AttrDeliveredLive.Int(delivered),
	)
	log.Debug("Message sent",
		zap.Int("recipients", len(recipients)),
		zap.Int("delivered_live", delivered))

	if created {
		s.publish(ctx, messaging.NewConversationCreatedEvent(conv, 2))
	}
	s.publish(ctx, messaging.NewMessageSentEvent(msg, delivered, len(recipients)-delivered))
	if s.observer != nil {
		s.observer.ObserveSend(ctx, time.Since(start))
	}
	return result, nil
}

func (s *DeliveryService) resolveConversation(ctx context.Context, cmd *SendCommand) (*messaging.Conversation, bool, error) {
	if cmd.ConversationID != nil && *cmd.ConversationID != uuid.Nil {
		conv, err := s.conversations.FindByID(ctx, *cmd.ConversationID)
		return conv, false, err
	}
	return s.conversations.ResolveOrCreateDirect(ctx, cmd.SenderID, *cmd.ReceiverID)
}

// recipients returns the other active participants and rejects senders who
// are not active themselves or who would be talking to nobody.
func (s *DeliveryService) recipients(ctx context.Context, conversationID, senderID uuid.UUID) ([]uuid.UUID, error) {
	participants, err := s.conversations.ActiveParticipants(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	isMember := false
	others := make([]uuid.UUID, 0, len(participants))
	for _, p := range participants {
		if p.UserID == senderID {
			isMember = true
			continue
		}
		others = append(others, p.UserID)
	}
	if !isMember {
		return nil, shared.NewForbidden("not a participant of this conversation")
	}
	if len(others) == 0 {
		return nil, shared.NewForbidden("conversation has no other active participants")
	}
	return others, nil
}

// MarkRead advances the reader's cursor and sends a read receipt to every
// online author of the messages it covered.
func (s *DeliveryService) MarkRead(ctx context.Context, cmd MarkReadCommand) (*ReadResult, error) {
	ctx, span := telemetry.Start(ctx, "delivery", "mark_read")
	defer span.End()

	if err := cmd.validate(); err != nil {
		return nil, err
	}

	var conversationID uuid.UUID
	if cmd.ConversationID != nil {
		conversationID = *cmd.ConversationID
	}
	upTo := cmd.MessageID
	if cmd.MessageID != nil {
		msg, err := s.messages.FindByID(ctx, *cmd.MessageID)
		if err != nil {
			return nil, storeError(err)
		}
		if conversationID != uuid.Nil && conversationID != msg.ConversationID {
			return nil, shared.NewValidation("message does not belong to this conversation")
		}
		conversationID = msg.ConversationID
	}

	cursor, err := s.messages.MarkRead(ctx, conversationID, cmd.UserID, upTo)
	if err != nil {
		telemetry.Fail(span, err)
		return nil, storeError(err)
	}
	result := &ReadResult{
		ConversationID:    conversationID,
		LastReadMessageID: cursor.LastReadMessageID,
		Advanced:          cursor.Advanced(),
	}
	if !cursor.Advanced() {
		return result, nil
	}

	// read flags inside cached pages are now stale
	s.invalidate(ctx, conversationID)

	senders, err := s.messages.SendersBetween(ctx, conversationID, cursor.PreviousMessageID, cursor.LastReadMessageID, cmd.UserID)
	if err != nil {
		s.log(ctx).Warn("Failed to resolve read receipt recipients",
			logger.ConversationID(conversationID), zap.Error(err))
	}
	receipt := messaging.Event{
		Type: messaging.EventMessageReadReceipt,
		Data: messaging.ReadReceipt{
			ConversationID: conversationID,
			MessageID:      cursor.LastReadMessageID,
			ReadBy:         cmd.UserID,
			ReadAt:         cursor.ReadAt.UTC().Format(time.RFC3339),
		},
	}
	for _, senderID := range senders {
		s.emitIfOnline(ctx, senderID, receipt)
	}

	s.publish(ctx, messaging.NewMessageReadEvent(cursor))
	return result, nil
}

// FetchHistory returns a page of the conversation, served from the cache
// when possible. Only active participants may read.
func (s *DeliveryService) FetchHistory(ctx context.Context, userID, conversationID uuid.UUID, q messaging.PageQuery) (*messaging.MessagePage, error) {
	ctx, span := telemetry.Start(ctx, "delivery", "fetch_history",
		telemetry.ID(telemetry.AttrConversationID, conversationID))
	defer span.End()

	if err := s.requireParticipant(ctx, conversationID, userID); err != nil {
		return nil, err
	}

	q = q.Normalize(s.config.DefaultPageSize, s.config.MaxPageSize)
	key := q.CacheKey()
	log := s.log(ctx).With(logger.ConversationID(conversationID))

	page, hit, err := s.cache.Get(ctx, conversationID, key)
	if err != nil {
		log.Warn("History cache read failed", zap.Error(err))
	}
	if hit {
		span.AddEvent("cache_hit")
		return page, nil
	}

	generation, genErr := s.cache.Generation(ctx, conversationID)
	if genErr != nil {
		log.Warn("History cache generation read failed", zap.Error(genErr))
	}

	page, err = s.messages.FetchPage(ctx, conversationID, q)
	if err != nil {
		telemetry.Fail(span, err)
		return nil, storeError(err)
	}
	if genErr == nil {
		if err := s.cache.Put(ctx, conversationID, generation, key, page, s.config.HistoryTTL); err != nil {
			log.Warn("History cache write failed", zap.Error(err))
		}
	}
	return page, nil
}

// FetchWithUser returns history of the direct conversation with otherID.
// It never creates the conversation; without one the page is empty and the
// returned id is uuid.Nil.
func (s *DeliveryService) FetchWithUser(ctx context.Context, userID, otherID uuid.UUID, q messaging.PageQuery) (uuid.UUID, *messaging.MessagePage, error) {
	if userID == otherID {
		return uuid.Nil, nil, shared.NewValidation("cannot open a conversation with yourself")
	}
	conv, err := s.conversations.FindDirect(ctx, userID, otherID)
	if err != nil {
		if errors.Is(err, shared.ErrNotFound) {
			return uuid.Nil, &messaging.MessagePage{}, nil
		}
		return uuid.Nil, nil, storeError(err)
	}
	page, err := s.FetchHistory(ctx, userID, conv.ID, q)
	if err != nil {
		return uuid.Nil, nil, err
	}
	return conv.ID, page, nil
}

// Edit replaces a message's content and tells the other participants
func (s *DeliveryService) Edit(ctx context.Context, cmd messaging.EditCommand) (*messaging.Message, error) {
	msg, err := s.messages.Edit(ctx, cmd)
	if err != nil {
		return nil, storeError(err)
	}
	s.invalidate(ctx, msg.ConversationID)
	s.broadcast(ctx, msg.ConversationID, cmd.RequesterID, messaging.Event{
		Type: messaging.EventMessageEdited,
		Data: NewMessageView(msg),
	})
	return msg, nil
}

// Delete soft-deletes a message and tells the other participants
func (s *DeliveryService) Delete(ctx context.Context, messageID int64, requesterID uuid.UUID) error {
	msg, err := s.messages.SoftDelete(ctx, messageID, requesterID)
	if err != nil {
		return storeError(err)
	}
	s.invalidate(ctx, msg.ConversationID)
	s.broadcast(ctx, msg.ConversationID, requesterID, messaging.Event{
		Type: messaging.EventMessageDeleted,
		Data: messaging.MessageDeletedNotice{
			ConversationID: msg.ConversationID,
			MessageID:      msg.ID,
			DeletedBy:      requesterID,
		},
	})
	return nil
}

// React toggles an emoji reaction. Participants see the updated message
// as a message_edited event.
func (s *DeliveryService) React(ctx context.Context, cmd messaging.ReactCommand) (*messaging.Message, error) {
	msg, err := s.messages.React(ctx, cmd)
	if err != nil {
		return nil, storeError(err)
	}
	s.invalidate(ctx, msg.ConversationID)
	s.broadcast(ctx, msg.ConversationID, cmd.UserID, messaging.Event{
		Type: messaging.EventMessageEdited,
		Data: NewMessageView(msg),
	})
	return msg, nil
}

// Typing sets or clears the sender's typing flag towards receiver and
// forwards the notice when the receiver is online.
func (s *DeliveryService) Typing(ctx context.Context, senderID, receiverID uuid.UUID, conversationID *uuid.UUID, isTyping bool) error {
	if senderID == uuid.Nil || receiverID == uuid.Nil {
		return shared.NewValidation("sender and receiver are required")
	}
	if senderID == receiverID {
		return shared.NewValidation("cannot type to yourself")
	}

	var err error
	if isTyping {
		err = s.presence.SetTyping(ctx, senderID, receiverID)
	} else {
		err = s.presence.ClearTyping(ctx, senderID, receiverID)
	}
	if err != nil {
		return shared.NewTransient("presence store unavailable", err)
	}

	s.emitIfOnline(ctx, receiverID, messaging.Event{
		Type: messaging.EventUserTyping,
		Data: messaging.TypingNotice{
			SenderID:       senderID,
			ReceiverID:     receiverID,
			ConversationID: conversationID,
			IsTyping:       isTyping,
		},
	})
	return nil
}

// UnreadCount returns the user's unread total across conversations
func (s *DeliveryService) UnreadCount(ctx context.Context, userID uuid.UUID) (int64, error) {
	n, err := s.messages.UnreadCount(ctx, userID)
	if err != nil {
		return 0, storeError(err)
	}
	return n, nil
}

func (s *DeliveryService) requireParticipant(ctx context.Context, conversationID, userID uuid.UUID) error {
	_, err := s.conversations.FindActiveParticipant(ctx, conversationID, userID)
	if err == nil {
		return nil
	}
	if errors.Is(err, shared.ErrNotFound) {
		return shared.NewForbidden("not a participant of this conversation")
	}
	return storeError(err)
}

// broadcast emits to every online active participant except actorID
func (s *DeliveryService) broadcast(ctx context.Context, conversationID, actorID uuid.UUID, event messaging.Event) {
	participants, err := s.conversations.ActiveParticipants(ctx, conversationID)
	if err != nil {
		s.log(ctx).Warn("Failed to load participants for broadcast",
			logger.ConversationID(conversationID), zap.Error(err))
		return
	}
	for _, p := range participants {
		if p.UserID != actorID {
			s.emitIfOnline(ctx, p.UserID, event)
		}
	}
}

// emitIfOnline reports whether the event reached the user's live channel.
// A presence read failure counts as offline.
func (s *DeliveryService) emitIfOnline(ctx context.Context, userID uuid.UUID, event messaging.Event) bool {
	log := s.log(ctx).With(logger.RecipientID(userID), logger.EventType(string(event.Type)))

	status, err := s.presence.Status(ctx, userID)
	if err != nil {
		log.Warn("Presence lookup failed, treating user as offline", zap.Error(err))
		return false
	}
	if status != messaging.StatusOnline {
		return false
	}
	if err := s.live.Emit(ctx, userID, event); err != nil {
		log.Warn("Live emit failed", zap.Error(err))
		return false
	}
	return true
}

func (s *DeliveryService) notify(ctx context.Context, recipientID uuid.UUID, n messaging.MessageNotification) {
	if s.notifier == nil {
		return
	}
	if err := s.notifier.SendMessageNotification(ctx, recipientID, n); err != nil {
		s.log(ctx).Warn("Push hand-off failed",
			logger.RecipientID(recipientID),
			logger.MessageID(n.MessageID),
			zap.String("code", shared.CodeBestEffortFailure),
			zap.Error(err))
	}
}

func (s *DeliveryService) invalidate(ctx context.Context, conversationID uuid.UUID) {
	if err := s.cache.Invalidate(ctx, conversationID); err != nil {
		s.log(ctx).Warn("History cache invalidation failed",
			logger.ConversationID(conversationID),
			zap.String("code", shared.CodeBestEffortFailure),
			zap.Error(err))
	}
}

func (s *DeliveryService) publish(ctx context.Context, events ...shared.DomainEvent) {
	if s.events == nil {
		return
	}
	if err := s.events.Publish(ctx, events...); err != nil {
		s.log(ctx).Warn("Failed to publish domain events", zap.Error(err))
	}
}

// storeError keeps domain errors and turns everything else, deadlines
// included, into a retryable Transient error.
func storeError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return shared.NewTransient("message store did not respond in time", err)
	}
	if shared.CodeOf(err) != "" {
		return err
	}
	return shared.NewTransient("message store unavailable", err)
}

func senderName(name string) string {
	if name == "" {
		return defaultSenderName
	}
	return name
}

func (s *DeliveryService) log(ctx context.Context) *logger.ContextLogger {
	return logger.LWithFallback(ctx, s.logger)
}
