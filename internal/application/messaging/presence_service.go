package messaging

import (
	"context"
	"time"

	"github.com/campus/messaging/internal/domain/messaging"
	"github.com/campus/messaging/internal/domain/shared"
	"github.com/campus/messaging/internal/infrastructure/logger"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// PartnerLister finds the users who should hear about a presence change
type PartnerLister interface {
	Partners(ctx context.Context, userID uuid.UUID) ([]uuid.UUID, error)
}

// PresenceService tracks connections and announces online/offline
// transitions to conversation partners.
type PresenceService struct {
	presence messaging.PresenceStore
	partners PartnerLister
	live     messaging.LiveChannel
	logger   *zap.Logger
}

// NewPresenceService creates the service
func NewPresenceService(presence messaging.PresenceStore, partners PartnerLister, live messaging.LiveChannel, logger *zap.Logger) *PresenceService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PresenceService{presence: presence, partners: partners, live: live, logger: logger}
}

// Connect registers a live connection and announces the user as online
func (s *PresenceService) Connect(ctx context.Context, userID uuid.UUID, handle messaging.ConnectionHandle) error {
	if err := s.presence.MarkOnline(ctx, userID, handle); err != nil {
		return shared.NewTransient("presence store unavailable", err)
	}
	s.announce(ctx, userID, messaging.StatusOnline, time.Time{})
	return nil
}

// Heartbeat keeps the connection registered. A heartbeat that finds the
// user offline brings them back online.
func (s *PresenceService) Heartbeat(ctx context.Context, userID uuid.UUID, handle messaging.ConnectionHandle) error {
	if err := s.presence.Refresh(ctx, userID, handle); err != nil {
		return shared.NewTransient("presence store unavailable", err)
	}
	return nil
}

// Disconnect drops one connection. The user is announced offline once
// their last connection is gone.
func (s *PresenceService) Disconnect(ctx context.Context, userID uuid.UUID, connectionID string) (bool, error) {
	offline, err := s.presence.RemoveConnection(ctx, userID, connectionID)
	if err != nil {
		return false, shared.NewTransient("presence store unavailable", err)
	}
	if offline {
		s.announce(ctx, userID, messaging.StatusOffline, s.lastSeen(ctx, userID))
	}
	return offline, nil
}

// Logout removes every connection of the user at once
func (s *PresenceService) Logout(ctx context.Context, userID uuid.UUID) error {
	if err := s.presence.MarkOffline(ctx, userID); err != nil {
		return shared.NewTransient("presence store unavailable", err)
	}
	s.announce(ctx, userID, messaging.StatusOffline, s.lastSeen(ctx, userID))
	return nil
}

// OnlineUsers lists users with a live connection
func (s *PresenceService) OnlineUsers(ctx context.Context) ([]uuid.UUID, error) {
	users, err := s.presence.OnlineUsers(ctx)
	if err != nil {
		return nil, shared.NewTransient("presence store unavailable", err)
	}
	if users == nil {
		users = []uuid.UUID{}
	}
	return users, nil
}

// Status describes userID as seen by viewerID. Presence read failures
// degrade to offline.
func (s *PresenceService) Status(ctx context.Context, viewerID, userID uuid.UUID) PresenceView {
	log := logger.LWithFallback(ctx, s.logger).With(logger.UserID(userID))
	view := PresenceView{UserID: userID, Status: messaging.StatusOffline}

	status, err := s.presence.Status(ctx, userID)
	if err != nil {
		log.Warn("Presence lookup failed", zap.Error(err))
		return view
	}
	view.Status = status

	if seen := s.lastSeen(ctx, userID); !seen.IsZero() {
		view.LastSeen = &seen
	}
	if viewerID != uuid.Nil && viewerID != userID {
		typing, err := s.presence.IsTyping(ctx, userID, viewerID)
		if err != nil {
			log.Warn("Typing lookup failed", zap.Error(err))
		}
		view.IsTyping = typing
	}
	return view
}

func (s *PresenceService) lastSeen(ctx context.Context, userID uuid.UUID) time.Time {
	seen, err := s.presence.LastSeen(ctx, userID)
	if err != nil {
		return time.Time{}
	}
	return seen
}

func (s *PresenceService) announce(ctx context.Context, userID uuid.UUID, status messaging.PresenceStatus, lastSeen time.Time) {
	log := logger.LWithFallback(ctx, s.logger).With(logger.UserID(userID))

	partners, err := s.partners.Partners(ctx, userID)
	if err != nil {
		log.Warn("Failed to load partners for status change", zap.Error(err))
		return
	}

	change := messaging.StatusChange{UserID: userID, Status: status}
	if !lastSeen.IsZero() {
		change.LastSeen = lastSeen.UTC().Format(time.RFC3339)
	}
	event := messaging.Event{Type: messaging.EventStatusChange, Data: change}

	for _, partnerID := range partners {
		online, err := s.presence.Status(ctx, partnerID)
		if err != nil || online != messaging.StatusOnline {
			continue
		}
		if err := s.live.Emit(ctx, partnerID, event); err != nil {
			log.Debug("Status change emit failed", logger.RecipientID(partnerID), zap.Error(err))
		}
	}
}
