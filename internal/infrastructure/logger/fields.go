package logger

import (
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Field constructors shared by the messaging packages so log keys stay consistent.

func ConversationID(id uuid.UUID) zap.Field {
	return zap.String("conversation_id", id.String())
}

func MessageID(id int64) zap.Field {
	return zap.Int64("message_id", id)
}

func UserID(id uuid.UUID) zap.Field {
	return zap.String("user_id", id.String())
}

func RecipientID(id uuid.UUID) zap.Field {
	return zap.String("recipient_id", id.String())
}

func ConnectionID(id string) zap.Field {
	return zap.String("connection_id", id)
}

func EventType(t string) zap.Field {
	return zap.String("event", t)
}
