package storage

import (
	"context"
	"errors"
	"net/url"
	"time"

	messagingapp "github.com/campus/messaging/internal/application/messaging"
)

var _ messagingapp.ObjectStorage = (*StubObjectStorage)(nil)

// StubObjectStorage stands in for object storage when none is configured.
// URLs point at BaseURL and every object is reported as uploaded, so the
// attachment flow can be exercised locally.
type StubObjectStorage struct {
	BaseURL string
}

// NewStubObjectStorage creates a new StubObjectStorage
func NewStubObjectStorage() *StubObjectStorage {
	return &StubObjectStorage{BaseURL: "http://localhost:9000/chat-attachments"}
}

func (s *StubObjectStorage) url(kind, storageKey string, expiresAt time.Time) string {
	q := url.Values{}
	q.Set("expires", expiresAt.UTC().Format(time.RFC3339))
	return s.BaseURL + "/" + kind + "/" + storageKey + "?" + q.Encode()
}

// GenerateUploadURL returns a fake upload URL
func (s *StubObjectStorage) GenerateUploadURL(_ context.Context, storageKey, _ string, expiresIn time.Duration) (string, time.Time, error) {
	if storageKey == "" {
		return "", time.Time{}, errors.New("storage key is required")
	}
	expiresAt := time.Now().Add(expiresIn)
	return s.url("upload", storageKey, expiresAt), expiresAt, nil
}

// GenerateDownloadURL returns a fake download URL
func (s *StubObjectStorage) GenerateDownloadURL(_ context.Context, storageKey string, expiresIn time.Duration) (string, time.Time, error) {
	if storageKey == "" {
		return "", time.Time{}, errors.New("storage key is required")
	}
	expiresAt := time.Now().Add(expiresIn)
	return s.url("download", storageKey, expiresAt), expiresAt, nil
}

// ObjectExists always reports true
func (s *StubObjectStorage) ObjectExists(_ context.Context, storageKey string) (bool, error) {
	if storageKey == "" {
		return false, errors.New("storage key is required")
	}
	return true, nil
}
