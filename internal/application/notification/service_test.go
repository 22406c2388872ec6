package notification

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/campus/messaging/internal/domain/notification"
	"github.com/campus/messaging/internal/domain/shared"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// MockRepository is a mock implementation of notification.Repository
type MockRepository struct {
	mock.Mock
}

func (m *MockRepository) Create(ctx context.Context, n *notification.Notification) error {
	args := m.Called(ctx, n)
	return args.Error(0)
}

func (m *MockRepository) ListForUser(ctx context.Context, userID uuid.UUID, filter notification.Filter) ([]notification.Notification, int64, error) {
	args := m.Called(ctx, userID, filter)
	if args.Get(0) == nil {
		return nil, 0, args.Error(2)
	}
	return args.Get(0).([]notification.Notification), args.Get(1).(int64), args.Error(2)
}

func (m *MockRepository) CountUnread(ctx context.Context, userID uuid.UUID) (int64, error) {
	args := m.Called(ctx, userID)
	return args.Get(0).(int64), args.Error(1)
}

func (m *MockRepository) MarkRead(ctx context.Context, id, userID uuid.UUID) error {
	args := m.Called(ctx, id, userID)
	return args.Error(0)
}

func (m *MockRepository) MarkAllRead(ctx context.Context, userID uuid.UUID) (int64, error) {
	args := m.Called(ctx, userID)
	return args.Get(0).(int64), args.Error(1)
}

func (m *MockRepository) Delete(ctx context.Context, id, userID uuid.UUID) error {
	args := m.Called(ctx, id, userID)
	return args.Error(0)
}

func TestService_List(t *testing.T) {
	repo := new(MockRepository)
	user := uuid.New()
	n, err := notification.New(user, notification.TypeMessage, "Alice", "hi", map[string]any{"message_id": 42}, time.Now())
	require.NoError(t, err)

	repo.On("ListForUser", mock.Anything, user, notification.Filter{
		UnreadOnly: true,
		Page:       shared.Pagination{Limit: MaxPageSize},
	}).Return([]notification.Notification{*n}, int64(1), nil)
	repo.On("CountUnread", mock.Anything, user).Return(int64(1), nil)

	result, err := NewService(repo, nil).List(context.Background(), user, true, shared.Pagination{Limit: 1000})

	require.NoError(t, err)
	assert.Equal(t, int64(1), result.Total)
	assert.Equal(t, int64(1), result.UnreadCount)
	require.Len(t, result.Items, 1)
	assert.Equal(t, "Alice", result.Items[0].Title)
	assert.False(t, result.Items[0].IsRead)
}

func TestService_Errors(t *testing.T) {
	repo := new(MockRepository)
	user, id := uuid.New(), uuid.New()
	repo.On("MarkRead", mock.Anything, id, user).Return(shared.NewNotFound("notification not found"))
	repo.On("Delete", mock.Anything, id, user).Return(errors.New("connection refused"))
	repo.On("MarkAllRead", mock.Anything, user).Return(int64(3), nil)

	svc := NewService(repo, nil)

	assert.ErrorIs(t, svc.MarkRead(context.Background(), id, user), shared.ErrNotFound)
	assert.ErrorIs(t, svc.Delete(context.Background(), id, user), shared.ErrTransient)

	n, err := svc.MarkAllRead(context.Background(), user)
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)
}
