// Package models contains GORM-specific persistence models that map to database tables.
// These models are separate from domain entities to keep the domain layer pure and free
// from ORM concerns.
//
// Structure:
//   - schema.go: the model list tests AutoMigrate
//   - conversation.go: conversations and their participants
//   - message.go: messages, attachments and reactions
//   - notification.go: persisted push notifications
package models
