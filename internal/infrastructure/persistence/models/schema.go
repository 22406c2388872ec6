package models

// All returns every model owned by the messaging schema, parents first.
// Tests AutoMigrate these; production runs the SQL migrations.
func All() []any {
	return []any{
		&ConversationModel{},
		&ParticipantModel{},
		&MessageModel{},
		&NotificationModel{},
	}
}
