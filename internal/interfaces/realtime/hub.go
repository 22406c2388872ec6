// Package realtime serves the websocket gateway: connection lifecycle,
// inbound event dispatch and delivery of outbound events to local clients.
package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/campus/messaging/internal/domain/messaging"
	"github.com/campus/messaging/internal/infrastructure/logger"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ErrNotConnected is returned by Emit when the user has no client on this node
var ErrNotConnected = errors.New("realtime: user has no connection on this node")

// Hub tracks the clients of this node by user. It implements
// messaging.LiveChannel for single-node deployments and is the delivery
// target of the Redis fan-out otherwise.
type Hub struct {
	mu      sync.RWMutex
	clients map[uuid.UUID]map[*Client]struct{}
	logger  *zap.Logger
}

// NewHub creates an empty hub
func NewHub(logger *zap.Logger) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{
		clients: make(map[uuid.UUID]map[*Client]struct{}),
		logger:  logger,
	}
}

func (h *Hub) register(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	set, ok := h.clients[c.userID]
	if !ok {
		set = make(map[*Client]struct{})
		h.clients[c.userID] = set
	}
	set[c] = struct{}{}
}

// unregister removes c and reports whether it was the user's last local client
func (h *Hub) unregister(c *Client) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	set, ok := h.clients[c.userID]
	if !ok {
		return true
	}
	delete(set, c)
	if len(set) == 0 {
		delete(h.clients, c.userID)
		return true
	}
	return false
}

func (h *Hub) snapshot(userID uuid.UUID) []*Client {
	h.mu.RLock()
	defer h.mu.RUnlock()

	set := h.clients[userID]
	out := make([]*Client, 0, len(set))
	for c := range set {
		out = append(out, c)
	}
	return out
}

// Emit queues event on every local client of userID. A client whose queue
// is full is dropped rather than waited on.
func (h *Hub) Emit(ctx context.Context, userID uuid.UUID, event messaging.Event) error {
	clients := h.snapshot(userID)
	if len(clients) == 0 {
		return ErrNotConnected
	}
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal %s event: %w", event.Type, err)
	}

	queued := 0
	for _, c := range clients {
		if c.enqueue(payload) {
			queued++
			continue
		}
		logger.LWithFallback(ctx, h.logger).Warn("Dropping slow realtime client",
			logger.UserID(userID),
			logger.ConnectionID(c.id),
			logger.EventType(string(event.Type)))
		c.close()
	}
	if queued == 0 {
		return ErrNotConnected
	}
	return nil
}

// DisconnectUser closes every local client of userID and returns how many
// were closed
func (h *Hub) DisconnectUser(userID uuid.UUID) int {
	clients := h.snapshot(userID)
	for _, c := range clients {
		c.close()
	}
	return len(clients)
}

// Connected returns the number of local clients of userID
func (h *Hub) Connected(userID uuid.UUID) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients[userID])
}

// Close disconnects every client, for shutdown
func (h *Hub) Close() {
	h.mu.RLock()
	var all []*Client
	for _, set := range h.clients {
		for c := range set {
			all = append(all, c)
		}
	}
	h.mu.RUnlock()

	for _, c := range all {
		c.close()
	}
}

var _ messaging.LiveChannel = (*Hub)(nil)
