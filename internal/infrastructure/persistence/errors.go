package persistence

import (
	"errors"
	"strings"

	"github.com/campus/messaging/internal/domain/shared"
	"gorm.io/gorm"
)

// notFound maps gorm's missing-row error to a NotFound domain error
func notFound(err error, message string) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return shared.NewNotFound(message)
	}
	return err
}

// isUniqueViolation covers drivers with and without gorm error translation
func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "duplicate key value") ||
		strings.Contains(msg, "SQLSTATE 23505") ||
		strings.Contains(msg, "UNIQUE constraint failed")
}
