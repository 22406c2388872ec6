package dto

import (
	messagingapp "github.com/campus/messaging/internal/application/messaging"
	"github.com/campus/messaging/internal/domain/messaging"
	"github.com/google/uuid"
)

// CreateConversationRequest opens a direct or group conversation
type CreateConversationRequest struct {
	Type           string   `json:"type" binding:"required,oneof=direct group"`
	Name           string   `json:"name" binding:"omitempty,max=100"`
	ParticipantIDs []string `json:"participant_ids" binding:"required,min=1,dive,uuid"`
}

// OpenDirectRequest resolves or creates the direct conversation with a user
type OpenDirectRequest struct {
	UserID string `json:"user_id" binding:"required,uuid"`
}

// ArchiveRequest sets the archive flag
type ArchiveRequest struct {
	IsArchived *bool `json:"is_archived"`
}

// PinRequest sets the pin flag
type PinRequest struct {
	IsPinned *bool `json:"is_pinned"`
}

// AddParticipantsRequest adds users to a group
type AddParticipantsRequest struct {
	UserIDs []string `json:"user_ids" binding:"required,min=1,dive,uuid"`
}

// SendMessageRequest is the body of POST /messages/send. Exactly one of
// ReceiverID and ConversationID is set.
type SendMessageRequest struct {
	ReceiverID       string `json:"receiver_id" binding:"omitempty,uuid"`
	ConversationID   string `json:"conversation_id" binding:"omitempty,uuid"`
	Content          string `json:"content" binding:"max=4000"`
	MessageType      string `json:"message_type" binding:"omitempty,oneof=text image file"`
	FileURL          string `json:"file_url" binding:"omitempty,url"`
	FileName         string `json:"file_name" binding:"omitempty,max=255"`
	FileSize         int64  `json:"file_size" binding:"omitempty,min=0"`
	ThumbnailURL     string `json:"thumbnail_url" binding:"omitempty,url"`
	ReplyToMessageID *int64 `json:"reply_to_message_id" binding:"omitempty,gt=0"`
}

// ToCommand converts a validated request. Ids were checked by the uuid rule.
func (r *SendMessageRequest) ToCommand(senderID uuid.UUID, senderName string) messagingapp.SendCommand {
	cmd := messagingapp.SendCommand{
		SenderID:         senderID,
		SenderName:       senderName,
		Content:          r.Content,
		Type:             messaging.MessageType(r.MessageType),
		ReplyToMessageID: r.ReplyToMessageID,
	}
	if r.ReceiverID != "" {
		id := uuid.MustParse(r.ReceiverID)
		cmd.ReceiverID = &id
	}
	if r.ConversationID != "" {
		id := uuid.MustParse(r.ConversationID)
		cmd.ConversationID = &id
	}
	if r.FileURL != "" {
		cmd.File = &messaging.FileRef{
			URL:          r.FileURL,
			Name:         r.FileName,
			Size:         r.FileSize,
			ThumbnailURL: r.ThumbnailURL,
		}
	}
	return cmd
}

// HistoryRequest is the query of history endpoints
type HistoryRequest struct {
	Limit  int    `form:"limit" binding:"omitempty,min=1,max=100"`
	Offset int    `form:"offset" binding:"omitempty,min=0"`
	Before *int64 `form:"before" binding:"omitempty,gt=0"`
}

// EditMessageRequest replaces a message's content
type EditMessageRequest struct {
	Content string `json:"content" binding:"required,notblank,max=4000"`
}

// ReactRequest toggles an emoji reaction
type ReactRequest struct {
	Emoji string `json:"emoji" binding:"required,notblank,max=16"`
}

// InitiateUploadRequest asks for a presigned attachment upload
type InitiateUploadRequest struct {
	FileName    string `json:"file_name" binding:"required,notblank,max=255"`
	ContentType string `json:"content_type" binding:"required,max=255"`
	Size        int64  `json:"size" binding:"required,gt=0"`
}

// ConfirmUploadRequest reports a finished attachment upload
type ConfirmUploadRequest struct {
	StorageKey  string `json:"storage_key" binding:"required,max=512"`
	FileName    string `json:"file_name" binding:"required,notblank,max=255"`
	ContentType string `json:"content_type" binding:"required,max=255"`
	Size        int64  `json:"size" binding:"required,gt=0"`
}

// NotificationListRequest is the query of GET /notifications
type NotificationListRequest struct {
	PageRequest
	UnreadOnly bool `form:"unread_only"`
}

// CountResponse carries a single counter
type CountResponse struct {
	Count int64 `json:"count"`
}
