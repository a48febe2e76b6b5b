// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for the Message model.
package repo

import (
	"context"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/tbourn/go-chat-stream/internal/domain"
)

// ownedByUser restricts a messages query to rows whose chat belongs to userID.
const ownedByUser = "EXISTS (SELECT 1 FROM chats WHERE chats.id = messages.chat_id AND chats.user_id = ?)"

// InsertMessage inserts m as-is. A collision on the primary key is reported
// as ErrDuplicate and never overwrites the existing row.
func InsertMessage(ctx context.Context, db *gorm.DB, m *domain.Message) error {
	err := db.WithContext(ctx).Omit(clause.Associations).Create(m).Error
	if isUniqueViolation(err) {
		return ErrDuplicate
	}
	return err
}

// UpdateOwnedMessage writes the given columns to message id in chatID, but
// only if the chat is owned by userID. updated_at is always refreshed, to
// the caller's value when cols carries one.
// It returns ErrNotFound when no row matched.
func UpdateOwnedMessage(ctx context.Context, db *gorm.DB, userID, chatID, id string, cols map[string]any) error {
	if cols == nil {
		cols = map[string]any{}
	}
	if _, ok := cols["updated_at"]; !ok {
		cols["updated_at"] = time.Now().UTC()
	}

	res := db.WithContext(ctx).
		Model(&domain.Message{}).
		Where("id = ? AND chat_id = ?", id, chatID).
		Where(ownedByUser, userID).
		UpdateColumns(cols)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// GetOwnedMessage fetches message id in chatID if the chat is owned by userID.
func GetOwnedMessage(ctx context.Context, db *gorm.DB, userID, chatID, id string) (*domain.Message, error) {
	var m domain.Message
	err := db.WithContext(ctx).
		Where("id = ? AND chat_id = ?", id, chatID).
		Where(ownedByUser, userID).
		First(&m).Error
	if err != nil {
		return nil, err
	}
	return &m, nil
}

// CountMessages uses a raw COUNT so a missing table surfaces as an error.
func CountMessages(ctx context.Context, db *gorm.DB, chatID string) (int64, error) {
	var total int64
	err := db.WithContext(ctx).Raw("SELECT COUNT(*) FROM messages WHERE chat_id = ?", chatID).Scan(&total).Error
	return total, err
}

// ListMessagesPage returns a page ordered newest first (created_at DESC,
// id DESC). Callers wanting chronological order reverse the slice.
func ListMessagesPage(ctx context.Context, db *gorm.DB, chatID string, offset, limit int) ([]domain.Message, error) {
	var out []domain.Message
	err := db.WithContext(ctx).
		Where("chat_id = ?", chatID).
		Order("created_at DESC, id DESC").
		Offset(offset).
		Limit(limit).
		Find(&out).Error
	return out, err
}

// ListMessages returns the whole history of a chat in chronological order.
// Turns build their model context from it.
func ListMessages(ctx context.Context, db *gorm.DB, chatID string) ([]domain.Message, error) {
	var out []domain.Message
	err := db.WithContext(ctx).
		Where("chat_id = ?", chatID).
		Order("created_at ASC, id ASC").
		Find(&out).Error
	return out, err
}
