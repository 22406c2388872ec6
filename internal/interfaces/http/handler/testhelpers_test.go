package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	messagingapp "github.com/campus/messaging/internal/application/messaging"
	notificationapp "github.com/campus/messaging/internal/application/notification"
	"github.com/campus/messaging/internal/domain/messaging"
	"github.com/campus/messaging/internal/infrastructure/auth"
	"github.com/campus/messaging/internal/infrastructure/cache"
	"github.com/campus/messaging/internal/infrastructure/persistence"
	"github.com/campus/messaging/internal/infrastructure/persistence/models"
	"github.com/campus/messaging/internal/infrastructure/storage"
	"github.com/campus/messaging/internal/interfaces/http/dto"
	"github.com/campus/messaging/internal/interfaces/http/middleware"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

func init() {
	gin.SetMode(gin.TestMode)
	middleware.SetupValidator()
}

const testUserHeader = "X-Test-User"

// liveRecorder captures live emits per user
type liveRecorder struct {
	mu     sync.Mutex
	events map[uuid.UUID][]messaging.Event
}

func (l *liveRecorder) Emit(_ context.Context, userID uuid.UUID, event messaging.Event) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events[userID] = append(l.events[userID], event)
	return nil
}

func (l *liveRecorder) For(userID uuid.UUID) []messaging.Event {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]messaging.Event(nil), l.events[userID]...)
}

// notifierRecorder captures push requests
type notifierRecorder struct {
	mu    sync.Mutex
	calls []messaging.MessageNotification
}

func (n *notifierRecorder) SendMessageNotification(_ context.Context, _ uuid.UUID, msg messaging.MessageNotification) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.calls = append(n.calls, msg)
	return nil
}

func (n *notifierRecorder) Calls() []messaging.MessageNotification {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]messaging.MessageNotification(nil), n.calls...)
}

// apiFixture serves the REST surface over sqlite and in-memory stores.
// Requests authenticate through the X-Test-User header.
type apiFixture struct {
	t        *testing.T
	router   *gin.Engine
	presence *cache.InMemoryPresenceStore
	live     *liveRecorder
	push     *notifierRecorder
	inbox    *persistence.GormNotificationRepository
	names    map[uuid.UUID]string
}

func newAPIFixture(t *testing.T) *apiFixture {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{TranslateError: true})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	require.NoError(t, db.AutoMigrate(models.All()...))

	f := &apiFixture{
		t:        t,
		presence: cache.NewInMemoryPresenceStore(cache.PresenceTTLs{}),
		live:     &liveRecorder{events: map[uuid.UUID][]messaging.Event{}},
		push:     &notifierRecorder{},
		inbox:    persistence.NewGormNotificationRepository(db),
		names:    map[uuid.UUID]string{},
	}

	conversations := persistence.NewGormConversationRepository(db)
	conversationService := messagingapp.NewConversationService(conversations, nil, nil)
	delivery := messagingapp.NewDeliveryService(messagingapp.DeliveryDeps{
		Conversations: conversations,
		Messages:      persistence.NewGormMessageRepository(db),
		Presence:      f.presence,
		Cache:         cache.NewInMemoryConversationCache(),
		Live:          f.live,
		Notifier:      f.push,
	})
	presenceService := messagingapp.NewPresenceService(f.presence, conversationService, f.live, nil)

	convH := NewConversationHandler(conversationService)
	msgH := NewMessageHandler(delivery)
	presH := NewPresenceHandler(presenceService)
	notifH := NewNotificationHandler(notificationapp.NewService(f.inbox, nil))
	attachH := NewAttachmentHandler(messagingapp.NewAttachmentService(storage.NewStubObjectStorage(), messagingapp.AttachmentConfig{}, nil))

	r := gin.New()
	r.Use(middleware.RequestID())
	r.Use(func(c *gin.Context) {
		if id, err := uuid.Parse(c.GetHeader(testUserHeader)); err == nil {
			middleware.SetIdentity(c, &auth.Identity{UserID: id, Name: f.names[id]})
		}
		c.Next()
	})

	v1 := r.Group("/api/v1")
	v1.POST("/conversations", convH.Create)
	v1.POST("/conversations/direct", convH.OpenDirect)
	v1.GET("/conversations", convH.List)
	v1.GET("/conversations/:id", convH.Get)
	v1.PUT("/conversations/:id/archive", convH.Archive)
	v1.PUT("/conversations/:id/pin", convH.Pin)
	v1.DELETE("/conversations/:id/leave", convH.Leave)
	v1.POST("/conversations/:id/participants", convH.AddParticipants)

	v1.POST("/messages/send", msgH.Send)
	v1.POST("/messages/attachments", attachH.Initiate)
	v1.POST("/messages/attachments/confirm", attachH.Confirm)
	v1.GET("/messages/conversation/:id", msgH.History)
	v1.GET("/messages/user/:userId", msgH.WithUser)
	v1.GET("/messages/unread/count", msgH.UnreadCount)
	v1.PUT("/messages/:id/read", msgH.MarkRead)
	v1.PUT("/messages/:id", msgH.Edit)
	v1.DELETE("/messages/:id", msgH.Delete)
	v1.POST("/messages/:id/reactions", msgH.React)

	v1.GET("/presence/online", presH.Online)
	v1.GET("/presence/:userId", presH.Status)

	v1.GET("/notifications", notifH.List)
	v1.GET("/notifications/unread/count", notifH.UnreadCount)
	v1.PATCH("/notifications/:id/read", notifH.MarkRead)
	v1.POST("/notifications/mark-all-read", notifH.MarkAllRead)
	v1.DELETE("/notifications/:id", notifH.Delete)

	f.router = r
	return f
}

// user registers a display name and returns a fresh id
func (f *apiFixture) user(name string) uuid.UUID {
	id := uuid.New()
	f.names[id] = name
	return id
}

func (f *apiFixture) online(userID uuid.UUID) {
	f.t.Helper()
	require.NoError(f.t, f.presence.MarkOnline(context.Background(), userID, messaging.ConnectionHandle{
		ID: uuid.NewString(), NodeID: "test", ConnectedAt: time.Now(),
	}))
}

func (f *apiFixture) do(as uuid.UUID, method, path string, body any) *httptest.ResponseRecorder {
	f.t.Helper()

	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(f.t, err)
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if as != uuid.Nil {
		req.Header.Set(testUserHeader, as.String())
	}
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	return w
}

// envelope is the response shape with data left raw for typed decoding
type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   *dto.ErrorInfo  `json:"error"`
	Meta    *dto.Meta       `json:"meta"`
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var env envelope
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env), w.Body.String())
	require.True(t, env.Success, w.Body.String())
	var out T
	require.NoError(t, json.Unmarshal(env.Data, &out))
	return out
}

func decodeError(t *testing.T, w *httptest.ResponseRecorder) *dto.ErrorInfo {
	t.Helper()
	var env envelope
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env), w.Body.String())
	require.False(t, env.Success)
	require.NotNil(t, env.Error)
	return env.Error
}

// sendDirect posts a text message to receiver and returns the ack
func (f *apiFixture) sendDirect(from, to uuid.UUID, content string) messagingapp.SendResult {
	f.t.Helper()
	w := f.do(from, http.MethodPost, "/api/v1/messages/send", map[string]any{
		"receiver_id": to.String(),
		"content":     content,
	})
	require.Equal(f.t, http.StatusCreated, w.Code, w.Body.String())
	return decode[messagingapp.SendResult](f.t, w)
}
