package handler

import (
	"context"
	"net/http"
	"testing"

	messagingapp "github.com/campus/messaging/internal/application/messaging"
	"github.com/campus/messaging/internal/domain/messaging"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPresenceHandler_Online(t *testing.T) {
	f := newAPIFixture(t)
	alice, bob := f.user("Alice"), f.user("Bob")

	w := f.do(alice, http.MethodGet, "/api/v1/presence/online", nil)
	require.Equal(t, http.StatusOK, w.Code)
	empty := decode[OnlineUsersResponse](t, w)
	assert.Equal(t, 0, empty.Count)
	assert.NotNil(t, empty.Users)

	f.online(alice)
	f.online(bob)

	resp := decode[OnlineUsersResponse](t, f.do(alice, http.MethodGet, "/api/v1/presence/online", nil))
	assert.Equal(t, 2, resp.Count)
	assert.ElementsMatch(t, []uuid.UUID{alice, bob}, resp.Users)

	w = f.do(uuid.Nil, http.MethodGet, "/api/v1/presence/online", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestPresenceHandler_Status(t *testing.T) {
	f := newAPIFixture(t)
	alice, bob := f.user("Alice"), f.user("Bob")

	view := decode[messagingapp.PresenceView](t, f.do(alice, http.MethodGet, "/api/v1/presence/"+bob.String(), nil))
	assert.Equal(t, bob, view.UserID)
	assert.Equal(t, messaging.StatusOffline, view.Status)
	assert.False(t, view.IsTyping)

	f.online(bob)
	require.NoError(t, f.presence.SetTyping(context.Background(), bob, alice))

	view = decode[messagingapp.PresenceView](t, f.do(alice, http.MethodGet, "/api/v1/presence/"+bob.String(), nil))
	assert.Equal(t, messaging.StatusOnline, view.Status)
	assert.True(t, view.IsTyping)

	// typing is directional
	carol := f.user("Carol")
	view = decode[messagingapp.PresenceView](t, f.do(carol, http.MethodGet, "/api/v1/presence/"+bob.String(), nil))
	assert.False(t, view.IsTyping)

	w := f.do(alice, http.MethodGet, "/api/v1/presence/not-a-uuid", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}
