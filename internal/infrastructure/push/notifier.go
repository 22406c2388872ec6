package push

import (
	"context"
	"errors"
	"strconv"
	"time"
	"unicode/utf8"

	"github.com/campus/messaging/internal/domain/messaging"
	"github.com/campus/messaging/internal/domain/notification"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const maxBodyRunes = 140

// Notifier implements messaging.Notifier. It records every deferred message
// in the recipient's inbox, then pushes it to their devices when a gateway is
// configured.
type Notifier struct {
	inbox   notification.Repository
	gateway *GatewayClient
	logger  *zap.Logger
	now     func() time.Time
}

// NewNotifier creates a notifier. gateway may be nil, in which case only the
// inbox record is written.
func NewNotifier(inbox notification.Repository, gateway *GatewayClient, logger *zap.Logger) *Notifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Notifier{
		inbox:   inbox,
		gateway: gateway,
		logger:  logger,
		now:     time.Now,
	}
}

// SendMessageNotification stores and pushes a new-message notification
func (n *Notifier) SendMessageNotification(ctx context.Context, recipientID uuid.UUID, msg messaging.MessageNotification) error {
	body := previewText(msg.MessageText)
	data := map[string]any{
		"conversation_id": msg.ConversationID.String(),
		"sender_id":       msg.SenderID.String(),
		"message_id":      msg.MessageID,
	}

	var errs []error
	record, err := notification.New(recipientID, notification.TypeMessage, msg.SenderName, body, data, n.now().UTC())
	if err != nil {
		return err
	}
	if err := n.inbox.Create(ctx, record); err != nil {
		n.logger.Warn("Failed to store notification",
			zap.String("user_id", recipientID.String()),
			zap.Int64("message_id", msg.MessageID),
			zap.Error(err))
		errs = append(errs, err)
	}

	if n.gateway.IsEnabled() {
		devices, err := n.gateway.Send(ctx, GatewayRequest{
			UserID: recipientID.String(),
			Title:  msg.SenderName,
			Body:   body,
			Data: map[string]string{
				"type":            string(notification.TypeMessage),
				"conversation_id": msg.ConversationID.String(),
				"sender_id":       msg.SenderID.String(),
				"message_id":      strconv.FormatInt(msg.MessageID, 10),
			},
		})
		if err != nil {
			errs = append(errs, err)
		} else {
			n.logger.Debug("Push notification sent",
				zap.String("user_id", recipientID.String()),
				zap.Int64("message_id", msg.MessageID),
				zap.Int("devices", devices))
		}
	}
	return errors.Join(errs...)
}

// previewText shortens long messages and labels attachment-only ones
func previewText(text string) string {
	if text == "" {
		return "Sent an attachment"
	}
	if utf8.RuneCountInString(text) <= maxBodyRunes {
		return text
	}
	runes := []rune(text)
	return string(runes[:maxBodyRunes-1]) + "…"
}

var _ messaging.Notifier = (*Notifier)(nil)
