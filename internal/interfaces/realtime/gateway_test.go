package realtime

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	messagingapp "github.com/campus/messaging/internal/application/messaging"
	"github.com/campus/messaging/internal/domain/messaging"
	"github.com/campus/messaging/internal/infrastructure/auth"
	"github.com/campus/messaging/internal/infrastructure/cache"
	"github.com/campus/messaging/internal/infrastructure/config"
	"github.com/campus/messaging/internal/infrastructure/persistence"
	"github.com/campus/messaging/internal/infrastructure/persistence/models"
	"github.com/campus/messaging/internal/interfaces/http/dto"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

func init() {
	gin.SetMode(gin.TestMode)
}

const readWait = 2 * time.Second

type pushRecorder struct {
	mu    sync.Mutex
	calls []messaging.MessageNotification
}

func (p *pushRecorder) SendMessageNotification(_ context.Context, _ uuid.UUID, n messaging.MessageNotification) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls = append(p.calls, n)
	return nil
}

func (p *pushRecorder) Calls() []messaging.MessageNotification {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]messaging.MessageNotification(nil), p.calls...)
}

type connCounter struct {
	opened, closed atomic.Int32
}

func (c *connCounter) ConnectionOpened(context.Context) { c.opened.Add(1) }
func (c *connCounter) ConnectionClosed(context.Context) { c.closed.Add(1) }

type wsFixture struct {
	t        *testing.T
	server   *httptest.Server
	tokens   *auth.JWTService
	presence *cache.InMemoryPresenceStore
	hub      *Hub
	delivery *messagingapp.DeliveryService
	push     *pushRecorder
	observer *connCounter
}

func newWSFixture(t *testing.T, cfg Config) *wsFixture {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{TranslateError: true})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	require.NoError(t, db.AutoMigrate(models.All()...))

	f := &wsFixture{
		t: t,
		tokens: auth.NewJWTService(config.JWTConfig{
			Secret:                "test-secret-key-at-least-32-chars",
			Issuer:                "campus-test",
			AccessTokenExpiration: 15 * time.Minute,
		}),
		presence: cache.NewInMemoryPresenceStore(cache.PresenceTTLs{}),
		hub:      NewHub(nil),
		push:     &pushRecorder{},
		observer: &connCounter{},
	}

	conversations := persistence.NewGormConversationRepository(db)
	conversationService := messagingapp.NewConversationService(conversations, nil, nil)
	f.delivery = messagingapp.NewDeliveryService(messagingapp.DeliveryDeps{
		Conversations: conversations,
		Messages:      persistence.NewGormMessageRepository(db),
		Presence:      f.presence,
		Cache:         cache.NewInMemoryConversationCache(),
		Live:          f.hub,
		Notifier:      f.push,
	})
	presenceService := messagingapp.NewPresenceService(f.presence, conversationService, f.hub, nil)

	verifier := auth.NewVerifier(f.tokens, auth.NewInMemoryRevocationList())
	gateway := NewGateway(f.hub, verifier, Services{Delivery: f.delivery, Presence: presenceService}, cfg,
		WithConnectionObserver(f.observer))

	engine := gin.New()
	engine.GET("/ws", gateway.ServeWS)
	f.server = httptest.NewServer(engine)
	t.Cleanup(func() {
		gateway.Close()
		f.server.Close()
	})
	return f
}

type user struct {
	id    uuid.UUID
	token string
}

func (f *wsFixture) user(name string) user {
	f.t.Helper()
	id := uuid.New()
	token, _, err := f.tokens.GenerateAccessToken(auth.GenerateTokenInput{
		UserID: id,
		Email:  strings.ToLower(name) + "@campus.edu",
		Name:   name,
	})
	require.NoError(f.t, err)
	return user{id: id, token: token}
}

func (f *wsFixture) url() string {
	return "ws" + strings.TrimPrefix(f.server.URL, "http") + "/ws"
}

func (f *wsFixture) dialRaw(token string) (*websocket.Conn, *http.Response, error) {
	return websocket.DefaultDialer.Dial(f.url()+"?token="+token, nil)
}

// connect dials as u and consumes the connected event
func (f *wsFixture) connect(u user) *websocket.Conn {
	f.t.Helper()
	conn, _, err := f.dialRaw(u.token)
	require.NoError(f.t, err)
	f.t.Cleanup(func() { _ = conn.Close() })

	ev := readEvent(f.t, conn)
	require.Equal(f.t, messaging.EventConnected, ev.Type)
	var data connectedData
	require.NoError(f.t, json.Unmarshal(ev.Data, &data))
	require.Equal(f.t, u.id, data.UserID)
	return conn
}

type wireEvent struct {
	Type      messaging.EventType `json:"type"`
	RequestID string              `json:"request_id"`
	Data      json.RawMessage     `json:"data"`
}

func readEvent(t *testing.T, conn *websocket.Conn) wireEvent {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(readWait)))
	var ev wireEvent
	require.NoError(t, conn.ReadJSON(&ev))
	return ev
}

// readUntil skips events of other types, e.g. presence announcements
func readUntil(t *testing.T, conn *websocket.Conn, typ messaging.EventType) wireEvent {
	t.Helper()
	for {
		ev := readEvent(t, conn)
		if ev.Type == typ {
			return ev
		}
	}
}

func emit(t *testing.T, conn *websocket.Conn, typ messaging.EventType, requestID string, data any) {
	t.Helper()
	require.NoError(t, conn.WriteJSON(map[string]any{"type": typ, "request_id": requestID, "data": data}))
}

func errorNotice(t *testing.T, ev wireEvent) messaging.ErrorNotice {
	t.Helper()
	var n messaging.ErrorNotice
	require.NoError(t, json.Unmarshal(ev.Data, &n))
	return n
}

func TestGateway_RejectsUnauthenticated(t *testing.T) {
	f := newWSFixture(t, Config{})
	expired := auth.NewJWTService(config.JWTConfig{
		Secret:                "test-secret-key-at-least-32-chars",
		Issuer:                "campus-test",
		AccessTokenExpiration: -time.Minute,
	})
	expiredToken, _, err := expired.GenerateAccessToken(auth.GenerateTokenInput{UserID: uuid.New()})
	require.NoError(t, err)

	tests := []struct {
		name     string
		token    string
		wantCode string
	}{
		{"missing", "", dto.ErrCodeUnauthorized},
		{"garbage", "not-a-jwt", dto.ErrCodeTokenInvalid},
		{"expired", expiredToken, dto.ErrCodeTokenExpired},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			conn, resp, err := f.dialRaw(tt.token)
			require.ErrorIs(t, err, websocket.ErrBadHandshake)
			assert.Nil(t, conn)
			require.NotNil(t, resp)
			defer resp.Body.Close()
			assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

			var body dto.Response
			require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
			require.NotNil(t, body.Error)
			assert.Equal(t, tt.wantCode, body.Error.Code)
		})
	}
	assert.Zero(t, f.observer.opened.Load())
}

func TestGateway_BearerHeader(t *testing.T) {
	f := newWSFixture(t, Config{})
	alice := f.user("Alice")

	header := http.Header{}
	header.Set("Authorization", "Bearer "+alice.token)
	conn, _, err := websocket.DefaultDialer.Dial(f.url(), header)
	require.NoError(t, err)
	defer conn.Close()
	assert.Equal(t, messaging.EventConnected, readEvent(t, conn).Type)
}

func TestGateway_ConnectionLifecycle(t *testing.T) {
	f := newWSFixture(t, Config{})
	alice := f.user("Alice")
	ctx := context.Background()

	conn := f.connect(alice)
	status, err := f.presence.Status(ctx, alice.id)
	require.NoError(t, err)
	assert.Equal(t, messaging.StatusOnline, status)
	assert.Equal(t, int32(1), f.observer.opened.Load())
	assert.Equal(t, 1, f.hub.Connected(alice.id))

	require.NoError(t, conn.Close())

	assert.Eventually(t, func() bool {
		status, _ := f.presence.Status(ctx, alice.id)
		return status == messaging.StatusOffline && f.observer.closed.Load() == 1
	}, readWait, 10*time.Millisecond)
	assert.Equal(t, 0, f.hub.Connected(alice.id))
}

func TestGateway_SendMessage(t *testing.T) {
	t.Run("online receiver gets it live", func(t *testing.T) {
		f := newWSFixture(t, Config{})
		alice, bob := f.user("Alice"), f.user("Bob")
		aliceConn, bobConn := f.connect(alice), f.connect(bob)

		emit(t, aliceConn, messaging.EventSendMessage, "r1", map[string]any{
			"receiver_id": bob.id.String(),
			"content":     "hey bob",
		})

		ack := readUntil(t, aliceConn, messaging.EventMessageSent)
		assert.Equal(t, "r1", ack.RequestID)
		var result messagingapp.SendResult
		require.NoError(t, json.Unmarshal(ack.Data, &result))
		assert.Equal(t, []messagingapp.RecipientStatus{{UserID: bob.id, Delivered: true}}, result.Recipients)

		incoming := readUntil(t, bobConn, messaging.EventNewMessage)
		var msg messagingapp.MessageView
		require.NoError(t, json.Unmarshal(incoming.Data, &msg))
		assert.Equal(t, "hey bob", msg.Content)
		assert.Equal(t, alice.id, msg.SenderID)
		assert.Equal(t, result.Message.ID, msg.ID)

		assert.Empty(t, f.push.Calls())
	})

	t.Run("offline receiver is pushed", func(t *testing.T) {
		f := newWSFixture(t, Config{})
		alice, bob := f.user("Alice"), f.user("Bob")
		aliceConn := f.connect(alice)

		emit(t, aliceConn, messaging.EventSendMessage, "r2", map[string]any{
			"receiver_id": bob.id.String(),
			"content":     "call me",
		})

		ack := readUntil(t, aliceConn, messaging.EventMessageSent)
		var result messagingapp.SendResult
		require.NoError(t, json.Unmarshal(ack.Data, &result))
		assert.False(t, result.Recipients[0].Delivered)

		calls := f.push.Calls()
		require.Len(t, calls, 1)
		assert.Equal(t, "Alice", calls[0].SenderName)
		assert.Equal(t, "call me", calls[0].MessageText)
		assert.Equal(t, result.Message.ID, calls[0].MessageID)
	})

	t.Run("invalid payloads", func(t *testing.T) {
		f := newWSFixture(t, Config{})
		alice := f.user("Alice")
		conn := f.connect(alice)

		tests := []struct {
			name string
			data any
		}{
			{"no data", nil},
			{"bad receiver", map[string]any{"receiver_id": "bob", "content": "x"}},
			{"to self", map[string]any{"receiver_id": alice.id.String(), "content": "x"}},
			{"too long", map[string]any{"receiver_id": uuid.NewString(), "content": strings.Repeat("a", 4001)}},
		}
		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				emit(t, conn, messaging.EventSendMessage, tt.name, tt.data)
				ev := readEvent(t, conn)
				assert.Equal(t, messaging.EventMessageError, ev.Type)
				assert.Equal(t, tt.name, ev.RequestID)
				assert.Equal(t, dto.ErrCodeValidation, errorNotice(t, ev).Code)
			})
		}
	})
}

func TestGateway_HistoryAndReadReceipt(t *testing.T) {
	f := newWSFixture(t, Config{})
	alice, bob := f.user("Alice"), f.user("Bob")
	aliceConn, bobConn := f.connect(alice), f.connect(bob)

	emit(t, aliceConn, messaging.EventSendMessage, "s", map[string]any{"receiver_id": bob.id.String(), "content": "one"})
	ack := readUntil(t, aliceConn, messaging.EventMessageSent)
	var sent messagingapp.SendResult
	require.NoError(t, json.Unmarshal(ack.Data, &sent))
	readUntil(t, bobConn, messaging.EventNewMessage)

	emit(t, bobConn, messaging.EventGetConversation, "h1", map[string]any{"user_id": alice.id.String()})
	data := readUntil(t, bobConn, messaging.EventConversationData)
	assert.Equal(t, "h1", data.RequestID)
	var page messagingapp.PageView
	require.NoError(t, json.Unmarshal(data.Data, &page))
	assert.Equal(t, sent.ConversationID, page.ConversationID)
	require.Len(t, page.Messages, 1)

	emit(t, bobConn, messaging.EventMessageRead, "rd", map[string]any{"message_id": sent.Message.ID})
	receipt := readUntil(t, aliceConn, messaging.EventMessageReadReceipt)
	var rr messaging.ReadReceipt
	require.NoError(t, json.Unmarshal(receipt.Data, &rr))
	assert.Equal(t, bob.id, rr.ReadBy)
	assert.Equal(t, sent.Message.ID, rr.MessageID)

	eve := f.user("Eve")
	eveConn := f.connect(eve)
	emit(t, eveConn, messaging.EventGetConversation, "h2", map[string]any{"conversation_id": sent.ConversationID.String()})
	ev := readUntil(t, eveConn, messaging.EventConversationError)
	assert.Equal(t, dto.ErrCodeForbidden, errorNotice(t, ev).Code)

	emit(t, eveConn, messaging.EventGetConversation, "h3", map[string]any{})
	ev = readUntil(t, eveConn, messaging.EventConversationError)
	assert.Equal(t, dto.ErrCodeValidation, errorNotice(t, ev).Code)
}

func TestGateway_TypingAndPresence(t *testing.T) {
	f := newWSFixture(t, Config{})
	alice, bob := f.user("Alice"), f.user("Bob")
	ctx := context.Background()

	// a shared conversation makes them partners for status changes
	_, err := f.delivery.Send(ctx, messagingapp.SendCommand{SenderID: alice.id, ReceiverID: &bob.id, Content: "hi"})
	require.NoError(t, err)

	bobConn := f.connect(bob)
	aliceConn := f.connect(alice)

	online := readUntil(t, bobConn, messaging.EventStatusChange)
	var change messaging.StatusChange
	require.NoError(t, json.Unmarshal(online.Data, &change))
	assert.Equal(t, alice.id, change.UserID)
	assert.Equal(t, messaging.StatusOnline, change.Status)

	emit(t, aliceConn, messaging.EventTyping, "", map[string]any{"receiver_id": bob.id.String(), "is_typing": true})
	typing := readUntil(t, bobConn, messaging.EventUserTyping)
	var notice messaging.TypingNotice
	require.NoError(t, json.Unmarshal(typing.Data, &notice))
	assert.Equal(t, alice.id, notice.SenderID)
	assert.True(t, notice.IsTyping)

	emit(t, bobConn, messaging.EventGetOnlineUsers, "o", nil)
	users := readUntil(t, bobConn, messaging.EventOnlineUsersData)
	var list onlineUsersData
	require.NoError(t, json.Unmarshal(users.Data, &list))
	assert.ElementsMatch(t, []uuid.UUID{alice.id, bob.id}, list.Users)

	require.NoError(t, aliceConn.Close())
	offline := readUntil(t, bobConn, messaging.EventStatusChange)
	require.NoError(t, json.Unmarshal(offline.Data, &change))
	assert.Equal(t, alice.id, change.UserID)
	assert.Equal(t, messaging.StatusOffline, change.Status)
	assert.NotEmpty(t, change.LastSeen)
}

func TestGateway_PingAndUnknownEvents(t *testing.T) {
	f := newWSFixture(t, Config{})
	conn := f.connect(f.user("Alice"))

	emit(t, conn, messaging.EventPing, "p1", nil)
	pong := readEvent(t, conn)
	assert.Equal(t, messaging.EventPong, pong.Type)
	assert.Equal(t, "p1", pong.RequestID)

	// outbound types are not accepted from clients
	emit(t, conn, messaging.EventNewMessage, "x", nil)
	ev := readEvent(t, conn)
	assert.Equal(t, messaging.EventError, ev.Type)
	assert.Equal(t, dto.ErrCodeValidation, errorNotice(t, ev).Code)

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("{not json")))
	ev = readEvent(t, conn)
	assert.Equal(t, messaging.EventError, ev.Type)
}

func TestGateway_RateLimit(t *testing.T) {
	f := newWSFixture(t, Config{EventsPerSecond: 0.01, EventBurst: 2})
	conn := f.connect(f.user("Alice"))

	for i := range 2 {
		emit(t, conn, messaging.EventPing, "ok", nil)
		assert.Equal(t, messaging.EventPong, readEvent(t, conn).Type, "ping %d", i)
	}

	emit(t, conn, messaging.EventPing, "limited", nil)
	ev := readEvent(t, conn)
	assert.Equal(t, messaging.EventError, ev.Type)
	assert.Equal(t, dto.ErrCodeRateLimited, errorNotice(t, ev).Code)
}

func TestGateway_Logout(t *testing.T) {
	f := newWSFixture(t, Config{})
	alice := f.user("Alice")
	phone, laptop := f.connect(alice), f.connect(alice)

	emit(t, phone, messaging.EventUserLogout, "", nil)

	for _, conn := range []*websocket.Conn{phone, laptop} {
		require.NoError(t, conn.SetReadDeadline(time.Now().Add(readWait)))
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				break
			}
		}
	}

	status, err := f.presence.Status(context.Background(), alice.id)
	require.NoError(t, err)
	assert.Equal(t, messaging.StatusOffline, status)
	assert.Eventually(t, func() bool { return f.hub.Connected(alice.id) == 0 }, readWait, 10*time.Millisecond)

	// the token is revoked for the rest of its lifetime
	_, resp, err := f.dialRaw(alice.token)
	require.ErrorIs(t, err, websocket.ErrBadHandshake)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestBearerToken(t *testing.T) {
	tests := []struct {
		name   string
		url    string
		header string
		want   string
	}{
		{"query", "/ws?token=abc", "", "abc"},
		{"header", "/ws", "Bearer xyz", "xyz"},
		{"query wins", "/ws?token=abc", "Bearer xyz", "abc"},
		{"wrong scheme", "/ws", "Basic xyz", ""},
		{"none", "/ws", "", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, tt.url, nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			assert.Equal(t, tt.want, bearerToken(req))
		})
	}
}

func TestConfigDefaults(t *testing.T) {
	cfg := Config{ReadTimeout: 30 * time.Second, PingPeriod: time.Minute}.withDefaults()
	assert.Equal(t, 27*time.Second, cfg.PingPeriod)
	assert.Equal(t, "local", cfg.NodeID)
	assert.Equal(t, 64, cfg.SendBuffer)
	assert.Equal(t, int64(16<<10), cfg.MaxMessageSize)
}
