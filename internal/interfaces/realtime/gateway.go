package realtime

import (
	"context"
	"net/http"
	"slices"
	"strings"
	"time"

	messagingapp "github.com/campus/messaging/internal/application/messaging"
	"github.com/campus/messaging/internal/domain/messaging"
	"github.com/campus/messaging/internal/infrastructure/auth"
	"github.com/campus/messaging/internal/infrastructure/logger"
	"github.com/campus/messaging/internal/interfaces/http/dto"
	"github.com/campus/messaging/internal/interfaces/http/middleware"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// Config holds per-connection limits
type Config struct {
	NodeID string
	// ReadTimeout is how long a connection may stay silent, pongs included
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	PingPeriod     time.Duration
	MaxMessageSize int64
	SendBuffer     int
	// EventsPerSecond and EventBurst bound inbound events per connection
	EventsPerSecond float64
	EventBurst      int
	// AllowedOrigins empty or containing "*" accepts every origin
	AllowedOrigins []string
	// StoreTimeout bounds the presence calls made on connect and disconnect
	StoreTimeout time.Duration
}

func (c Config) withDefaults() Config {
	if c.NodeID == "" {
		c.NodeID = "local"
	}
	if c.ReadTimeout <= 0 {
		c.ReadTimeout = 60 * time.Second
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = 10 * time.Second
	}
	if c.PingPeriod <= 0 || c.PingPeriod >= c.ReadTimeout {
		c.PingPeriod = c.ReadTimeout * 9 / 10
	}
	if c.MaxMessageSize <= 0 {
		c.MaxMessageSize = 16 << 10
	}
	if c.SendBuffer <= 0 {
		c.SendBuffer = 64
	}
	if c.EventsPerSecond <= 0 {
		c.EventsPerSecond = 20
	}
	if c.EventBurst <= 0 {
		c.EventBurst = 40
	}
	if c.StoreTimeout <= 0 {
		c.StoreTimeout = 5 * time.Second
	}
	return c
}

// TokenVerifier authenticates the upgrade request and revokes on logout
type TokenVerifier interface {
	Verify(ctx context.Context, token string) (*auth.Identity, error)
	Revoke(ctx context.Context, identity *auth.Identity) error
}

// ConnectionObserver counts open connections
type ConnectionObserver interface {
	ConnectionOpened(ctx context.Context)
	ConnectionClosed(ctx context.Context)
}

// Services are the use cases reachable over the socket
type Services struct {
	Delivery *messagingapp.DeliveryService
	Presence *messagingapp.PresenceService
}

// Option configures a Gateway
type Option func(*Gateway)

// WithLogger sets the gateway logger
func WithLogger(l *zap.Logger) Option {
	return func(g *Gateway) {
		if l != nil {
			g.logger = l
		}
	}
}

// WithConnectionObserver records connection counts
func WithConnectionObserver(o ConnectionObserver) Option {
	return func(g *Gateway) {
		g.observer = o
	}
}

// Gateway upgrades authenticated requests to websocket connections and
// dispatches their events
type Gateway struct {
	hub      *Hub
	verifier TokenVerifier
	delivery *messagingapp.DeliveryService
	presence *messagingapp.PresenceService
	observer ConnectionObserver
	upgrader websocket.Upgrader
	config   Config
	logger   *zap.Logger
	handlers map[messaging.EventType]eventHandler
}

// NewGateway creates a gateway that registers its clients with hub
func NewGateway(hub *Hub, verifier TokenVerifier, svc Services, cfg Config, opts ...Option) *Gateway {
	g := &Gateway{
		hub:      hub,
		verifier: verifier,
		delivery: svc.Delivery,
		presence: svc.Presence,
		config:   cfg.withDefaults(),
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(g)
	}
	g.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     g.checkOrigin,
	}
	g.handlers = g.eventHandlers()
	return g
}

func (g *Gateway) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" || len(g.config.AllowedOrigins) == 0 {
		return true
	}
	return slices.Contains(g.config.AllowedOrigins, "*") || slices.Contains(g.config.AllowedOrigins, origin)
}

// bearerToken reads the credential from the token query parameter or the
// Authorization header. Browsers cannot set headers on websocket requests.
func bearerToken(r *http.Request) string {
	if token := strings.TrimSpace(r.URL.Query().Get("token")); token != "" {
		return token
	}
	header := r.Header.Get(middleware.AuthHeaderKey)
	if strings.HasPrefix(header, middleware.BearerPrefix) {
		return strings.TrimSpace(strings.TrimPrefix(header, middleware.BearerPrefix))
	}
	return ""
}

// ServeWS godoc
// @Summary      Open a realtime connection
// @Description  Upgrades to a websocket. The token is read from the token
// @Description  query parameter or the Authorization header.
// @Tags         realtime
// @Param        token query string false "Access token"
// @Success      101
// @Failure      401 {object} dto.Response
// @Router       /ws [get]
func (g *Gateway) ServeWS(c *gin.Context) {
	token := bearerToken(c.Request)
	if token == "" {
		c.AbortWithStatusJSON(http.StatusUnauthorized,
			dto.NewErrorResponseWithRequestID(dto.ErrCodeUnauthorized, "Authentication required", middleware.GetRequestID(c)))
		return
	}
	identity, err := g.verifier.Verify(c.Request.Context(), token)
	if err != nil {
		code, message := middleware.AuthErrorInfo(err)
		c.AbortWithStatusJSON(http.StatusUnauthorized,
			dto.NewErrorResponseWithRequestID(code, message, middleware.GetRequestID(c)))
		return
	}

	conn, err := g.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// the upgrader already wrote the HTTP error
		g.logger.Debug("Websocket upgrade failed", logger.UserID(identity.UserID), zap.Error(err))
		return
	}

	client := newClient(conn, identity, g.config)
	ctx, log := logger.WithConnectionID(context.Background(), g.logger.With(logger.UserID(identity.UserID)), client.id)
	g.serve(ctx, log, client)
}

// serve runs the connection until it closes
func (g *Gateway) serve(ctx context.Context, log *zap.Logger, client *Client) {
	g.hub.register(client)
	go client.writeLoop()
	if g.observer != nil {
		g.observer.ConnectionOpened(ctx)
	}
	log.Info("Realtime client connected")

	handle := messaging.ConnectionHandle{ID: client.id, NodeID: g.config.NodeID, ConnectedAt: time.Now().UTC()}
	connectCtx, cancel := context.WithTimeout(ctx, g.config.StoreTimeout)
	if err := g.presence.Connect(connectCtx, client.userID, handle); err != nil {
		// the connection stays usable; the next heartbeat registers it again
		log.Warn("Failed to mark user online", zap.Error(err))
	}
	cancel()

	g.reply(client, "", messaging.EventConnected, connectedData{
		UserID:       client.userID,
		ConnectionID: client.id,
		NodeID:       g.config.NodeID,
	})

	client.readLoop(
		func(frame []byte) { g.dispatch(ctx, client, frame) },
		func() { g.heartbeat(ctx, client, handle) },
	)

	g.hub.unregister(client)
	if !client.isLoggedOut() {
		disconnectCtx, cancel := context.WithTimeout(ctx, g.config.StoreTimeout)
		if _, err := g.presence.Disconnect(disconnectCtx, client.userID, client.id); err != nil {
			log.Warn("Failed to remove connection from presence", zap.Error(err))
		}
		cancel()
	}
	if g.observer != nil {
		g.observer.ConnectionClosed(ctx)
	}
	log.Info("Realtime client disconnected")
}

func (g *Gateway) heartbeat(ctx context.Context, client *Client, handle messaging.ConnectionHandle) {
	if client.isLoggedOut() {
		return
	}
	if err := g.presence.Heartbeat(ctx, client.userID, handle); err != nil {
		logger.LWithFallback(ctx, g.logger).Debug("Presence heartbeat failed", zap.Error(err))
	}
}

// Close disconnects every client of this node
func (g *Gateway) Close() {
	g.hub.Close()
}
