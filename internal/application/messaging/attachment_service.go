package messaging

import (
	"context"
	"fmt"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/campus/messaging/internal/domain/messaging"
	"github.com/campus/messaging/internal/domain/shared"
	"github.com/campus/messaging/internal/infrastructure/logger"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ObjectStorage presigns attachment transfers. Clients upload and download
// directly; the server never proxies file bytes.
type ObjectStorage interface {
	GenerateUploadURL(ctx context.Context, storageKey, contentType string, expiresIn time.Duration) (string, time.Time, error)
	GenerateDownloadURL(ctx context.Context, storageKey string, expiresIn time.Duration) (string, time.Time, error)
	ObjectExists(ctx context.Context, storageKey string) (bool, error)
}

// attachmentContentTypes maps the accepted upload types to the message type
// they are sent as. SVG is excluded since it can carry scripts.
var attachmentContentTypes = map[string]messaging.MessageType{
	"image/jpeg":         messaging.MessageImage,
	"image/png":          messaging.MessageImage,
	"image/gif":          messaging.MessageImage,
	"image/webp":         messaging.MessageImage,
	"image/heic":         messaging.MessageImage,
	"application/pdf":    messaging.MessageFile,
	"application/msword": messaging.MessageFile,
	"application/vnd.openxmlformats-officedocument.wordprocessingml.document":   messaging.MessageFile,
	"application/vnd.ms-excel":                                                  messaging.MessageFile,
	"application/vnd.openxmlformats-officedocument.spreadsheetml.sheet":         messaging.MessageFile,
	"application/vnd.ms-powerpoint":                                             messaging.MessageFile,
	"application/vnd.openxmlformats-officedocument.presentationml.presentation": messaging.MessageFile,
	"text/plain":      messaging.MessageFile,
	"application/zip": messaging.MessageFile,
}

const maxAttachmentNameLength = 255

// AttachmentConfig bounds uploads
type AttachmentConfig struct {
	UploadURLExpiry   time.Duration
	DownloadURLExpiry time.Duration
	MaxSize           int64
	// PublicBaseURL serves confirmed attachments without presigning
	PublicBaseURL string
}

func (c AttachmentConfig) withDefaults() AttachmentConfig {
	if c.UploadURLExpiry <= 0 {
		c.UploadURLExpiry = 15 * time.Minute
	}
	if c.DownloadURLExpiry <= 0 {
		c.DownloadURLExpiry = 7 * 24 * time.Hour
	}
	if c.MaxSize <= 0 {
		c.MaxSize = 25 << 20
	}
	c.PublicBaseURL = strings.TrimRight(c.PublicBaseURL, "/")
	return c
}

// InitiateUploadCommand asks for an upload slot
type InitiateUploadCommand struct {
	UserID      uuid.UUID
	FileName    string
	ContentType string
	Size        int64
}

// ConfirmUploadCommand turns a finished upload into a FileRef for sending
type ConfirmUploadCommand struct {
	UserID      uuid.UUID
	StorageKey  string
	FileName    string
	ContentType string
	Size        int64
}

// UploadTicket is a presigned upload slot
type UploadTicket struct {
	StorageKey  string                `json:"storage_key"`
	UploadURL   string                `json:"upload_url"`
	ExpiresAt   time.Time             `json:"expires_at"`
	MessageType messaging.MessageType `json:"message_type"`
}

// AttachmentView is a confirmed upload ready to be attached to a message
type AttachmentView struct {
	FileURL     string                `json:"file_url"`
	FileName    string                `json:"file_name"`
	FileSize    int64                 `json:"file_size"`
	MessageType messaging.MessageType `json:"message_type"`
}

// AttachmentService hands out upload slots and confirms finished uploads
type AttachmentService struct {
	storage ObjectStorage
	config  AttachmentConfig
	logger  *zap.Logger
}

// NewAttachmentService creates a new AttachmentService
func NewAttachmentService(storage ObjectStorage, cfg AttachmentConfig, logger *zap.Logger) *AttachmentService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AttachmentService{storage: storage, config: cfg.withDefaults(), logger: logger}
}

// InitiateUpload validates the file and presigns an upload under the
// user's own key prefix
func (s *AttachmentService) InitiateUpload(ctx context.Context, cmd InitiateUploadCommand) (*UploadTicket, error) {
	messageType, err := s.validate(cmd.FileName, cmd.ContentType, cmd.Size)
	if err != nil {
		return nil, err
	}

	key := userPrefix(cmd.UserID) + uuid.NewString() + strings.ToLower(filepath.Ext(cmd.FileName))
	uploadURL, expiresAt, err := s.storage.GenerateUploadURL(ctx, key, normalizeContentType(cmd.ContentType), s.config.UploadURLExpiry)
	if err != nil {
		return nil, shared.NewTransient("object storage unavailable", err)
	}

	logger.LWithFallback(ctx, s.logger).Debug("Attachment upload initiated",
		logger.UserID(cmd.UserID), zap.String("storage_key", key))
	return &UploadTicket{
		StorageKey:  key,
		UploadURL:   uploadURL,
		ExpiresAt:   expiresAt,
		MessageType: messageType,
	}, nil
}

// ConfirmUpload checks the object landed and returns the URL to send. Keys
// outside the caller's prefix are forbidden.
func (s *AttachmentService) ConfirmUpload(ctx context.Context, cmd ConfirmUploadCommand) (*AttachmentView, error) {
	messageType, err := s.validate(cmd.FileName, cmd.ContentType, cmd.Size)
	if err != nil {
		return nil, err
	}
	if path.Clean(cmd.StorageKey) != cmd.StorageKey || !strings.HasPrefix(cmd.StorageKey, userPrefix(cmd.UserID)) {
		return nil, shared.NewForbidden("attachment belongs to another user")
	}

	exists, err := s.storage.ObjectExists(ctx, cmd.StorageKey)
	if err != nil {
		return nil, shared.NewTransient("object storage unavailable", err)
	}
	if !exists {
		return nil, shared.NewNotFound("attachment has not been uploaded")
	}

	fileURL := s.config.PublicBaseURL + "/" + cmd.StorageKey
	if s.config.PublicBaseURL == "" {
		fileURL, _, err = s.storage.GenerateDownloadURL(ctx, cmd.StorageKey, s.config.DownloadURLExpiry)
		if err != nil {
			return nil, shared.NewTransient("object storage unavailable", err)
		}
	}

	return &AttachmentView{
		FileURL:     fileURL,
		FileName:    strings.TrimSpace(cmd.FileName),
		FileSize:    cmd.Size,
		MessageType: messageType,
	}, nil
}

func (s *AttachmentService) validate(fileName, contentType string, size int64) (messaging.MessageType, error) {
	name := strings.TrimSpace(fileName)
	if name == "" || len(name) > maxAttachmentNameLength {
		return "", shared.NewValidation(fmt.Sprintf("file name must be 1 to %d characters", maxAttachmentNameLength))
	}
	messageType, ok := attachmentContentTypes[normalizeContentType(contentType)]
	if !ok {
		return "", shared.NewValidation("content type " + contentType + " is not allowed")
	}
	if size <= 0 || size > s.config.MaxSize {
		return "", shared.NewValidation(fmt.Sprintf("file size must be between 1 and %d bytes", s.config.MaxSize))
	}
	return messageType, nil
}

func userPrefix(userID uuid.UUID) string {
	return "attachments/" + userID.String() + "/"
}

// normalizeContentType drops parameters such as charset
func normalizeContentType(contentType string) string {
	mediaType, _, _ := strings.Cut(contentType, ";")
	return strings.ToLower(strings.TrimSpace(mediaType))
}
