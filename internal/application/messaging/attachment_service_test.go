package messaging

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/campus/messaging/internal/domain/messaging"
	"github.com/campus/messaging/internal/domain/shared"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type MockObjectStorage struct {
	mock.Mock
}

func (m *MockObjectStorage) GenerateUploadURL(ctx context.Context, storageKey, contentType string, expiresIn time.Duration) (string, time.Time, error) {
	args := m.Called(ctx, storageKey, contentType, expiresIn)
	return args.String(0), args.Get(1).(time.Time), args.Error(2)
}

func (m *MockObjectStorage) GenerateDownloadURL(ctx context.Context, storageKey string, expiresIn time.Duration) (string, time.Time, error) {
	args := m.Called(ctx, storageKey, expiresIn)
	return args.String(0), args.Get(1).(time.Time), args.Error(2)
}

func (m *MockObjectStorage) ObjectExists(ctx context.Context, storageKey string) (bool, error) {
	args := m.Called(ctx, storageKey)
	return args.Bool(0), args.Error(1)
}

func TestAttachmentService_InitiateUpload(t *testing.T) {
	user := uuid.New()

	t.Run("presigns under the user prefix", func(t *testing.T) {
		store := new(MockObjectStorage)
		expires := time.Now().Add(10 * time.Minute)
		store.On("GenerateUploadURL", mock.Anything, mock.AnythingOfType("string"), "image/png", 10*time.Minute).
			Return("https://s3.local/put", expires, nil)

		svc := NewAttachmentService(store, AttachmentConfig{UploadURLExpiry: 10 * time.Minute}, nil)
		ticket, err := svc.InitiateUpload(context.Background(), InitiateUploadCommand{
			UserID:      user,
			FileName:    "Notes.PNG",
			ContentType: "Image/PNG",
			Size:        2048,
		})

		require.NoError(t, err)
		assert.True(t, strings.HasPrefix(ticket.StorageKey, "attachments/"+user.String()+"/"))
		assert.True(t, strings.HasSuffix(ticket.StorageKey, ".png"))
		assert.Equal(t, "https://s3.local/put", ticket.UploadURL)
		assert.Equal(t, expires, ticket.ExpiresAt)
		assert.Equal(t, messaging.MessageImage, ticket.MessageType)
		store.AssertExpectations(t)
	})

	t.Run("documents are sent as files", func(t *testing.T) {
		store := new(MockObjectStorage)
		store.On("GenerateUploadURL", mock.Anything, mock.Anything, "application/pdf", mock.Anything).
			Return("https://s3.local/put", time.Now(), nil)

		svc := NewAttachmentService(store, AttachmentConfig{}, nil)
		ticket, err := svc.InitiateUpload(context.Background(), InitiateUploadCommand{
			UserID:      user,
			FileName:    "syllabus.pdf",
			ContentType: "application/pdf; charset=binary",
			Size:        1,
		})

		require.NoError(t, err)
		assert.Equal(t, messaging.MessageFile, ticket.MessageType)
	})

	invalid := []struct {
		name string
		cmd  InitiateUploadCommand
	}{
		{"blank name", InitiateUploadCommand{UserID: user, FileName: "  ", ContentType: "image/png", Size: 1}},
		{"long name", InitiateUploadCommand{UserID: user, FileName: strings.Repeat("a", 256), ContentType: "image/png", Size: 1}},
		{"svg", InitiateUploadCommand{UserID: user, FileName: "x.svg", ContentType: "image/svg+xml", Size: 1}},
		{"empty file", InitiateUploadCommand{UserID: user, FileName: "x.png", ContentType: "image/png", Size: 0}},
		{"too large", InitiateUploadCommand{UserID: user, FileName: "x.png", ContentType: "image/png", Size: 1025}},
	}
	for _, tt := range invalid {
		t.Run(tt.name, func(t *testing.T) {
			store := new(MockObjectStorage)
			svc := NewAttachmentService(store, AttachmentConfig{MaxSize: 1024}, nil)

			_, err := svc.InitiateUpload(context.Background(), tt.cmd)

			assert.ErrorIs(t, err, shared.ErrValidation)
			store.AssertNotCalled(t, "GenerateUploadURL", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
		})
	}

	t.Run("storage failure is transient", func(t *testing.T) {
		store := new(MockObjectStorage)
		store.On("GenerateUploadURL", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
			Return("", time.Time{}, errors.New("connection refused"))

		svc := NewAttachmentService(store, AttachmentConfig{}, nil)
		_, err := svc.InitiateUpload(context.Background(), InitiateUploadCommand{
			UserID: user, FileName: "a.txt", ContentType: "text/plain", Size: 10,
		})

		assert.ErrorIs(t, err, shared.ErrTransient)
		assert.True(t, shared.IsRetryable(err))
	})
}

func TestAttachmentService_ConfirmUpload(t *testing.T) {
	user := uuid.New()
	key := "attachments/" + user.String() + "/" + uuid.NewString() + ".pdf"
	confirm := func(storageKey string) ConfirmUploadCommand {
		return ConfirmUploadCommand{
			UserID:      user,
			StorageKey:  storageKey,
			FileName:    " lecture.pdf ",
			ContentType: "application/pdf",
			Size:        4096,
		}
	}

	t.Run("public base url", func(t *testing.T) {
		store := new(MockObjectStorage)
		store.On("ObjectExists", mock.Anything, key).Return(true, nil)

		svc := NewAttachmentService(store, AttachmentConfig{PublicBaseURL: "https://cdn.campus.edu/"}, nil)
		view, err := svc.ConfirmUpload(context.Background(), confirm(key))

		require.NoError(t, err)
		assert.Equal(t, "https://cdn.campus.edu/"+key, view.FileURL)
		assert.Equal(t, "lecture.pdf", view.FileName)
		assert.Equal(t, int64(4096), view.FileSize)
		assert.Equal(t, messaging.MessageFile, view.MessageType)
		store.AssertNotCalled(t, "GenerateDownloadURL", mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("presigned download url", func(t *testing.T) {
		store := new(MockObjectStorage)
		store.On("ObjectExists", mock.Anything, key).Return(true, nil)
		store.On("GenerateDownloadURL", mock.Anything, key, 24*time.Hour).
			Return("https://s3.local/get", time.Now().Add(24*time.Hour), nil)

		svc := NewAttachmentService(store, AttachmentConfig{DownloadURLExpiry: 24 * time.Hour}, nil)
		view, err := svc.ConfirmUpload(context.Background(), confirm(key))

		require.NoError(t, err)
		assert.Equal(t, "https://s3.local/get", view.FileURL)
		store.AssertExpectations(t)
	})

	t.Run("key of another user", func(t *testing.T) {
		store := new(MockObjectStorage)
		svc := NewAttachmentService(store, AttachmentConfig{}, nil)

		_, err := svc.ConfirmUpload(context.Background(), confirm("attachments/"+uuid.NewString()+"/x.pdf"))
		assert.ErrorIs(t, err, shared.ErrForbidden)

		_, err = svc.ConfirmUpload(context.Background(), confirm("attachments/"+user.String()+"/../other/x.pdf"))
		assert.ErrorIs(t, err, shared.ErrForbidden)
		store.AssertNotCalled(t, "ObjectExists", mock.Anything, mock.Anything)
	})

	t.Run("not uploaded yet", func(t *testing.T) {
		store := new(MockObjectStorage)
		store.On("ObjectExists", mock.Anything, key).Return(false, nil)

		svc := NewAttachmentService(store, AttachmentConfig{}, nil)
		_, err := svc.ConfirmUpload(context.Background(), confirm(key))

		assert.ErrorIs(t, err, shared.ErrNotFound)
	})

	t.Run("existence check fails", func(t *testing.T) {
		store := new(MockObjectStorage)
		store.On("ObjectExists", mock.Anything, key).Return(false, errors.New("timeout"))

		svc := NewAttachmentService(store, AttachmentConfig{}, nil)
		_, err := svc.ConfirmUpload(context.Background(), confirm(key))

		assert.ErrorIs(t, err, shared.ErrTransient)
	})
}
