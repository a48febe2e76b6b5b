// Package repo holds the GORM persistence functions for chats, messages and
// idempotency records. Every function takes the *gorm.DB to run on, so
// callers can compose them inside their own transactions.
//
// Ownership is part of every chat query: a chat owned by someone else is
// reported as ErrNotFound, the same as a missing one.
package repo

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/tbourn/go-chat-stream/internal/domain"
)

var (
	// ErrNotFound aliases gorm.ErrRecordNotFound so callers need not import gorm.
	ErrNotFound = gorm.ErrRecordNotFound
	// ErrDuplicate reports a primary key or unique index collision.
	ErrDuplicate = errors.New("duplicate")
)

// isUniqueViolation recognises unique index violations from both drivers.
// glebarez/sqlite reports them as plain text.
func isUniqueViolation(err error) bool {
	switch {
	case err == nil:
		return false
	case errors.Is(err, gorm.ErrDuplicatedKey):
		return true
	}
	msg := strings.ToLower(err.Error())
	for _, frag := range []string{"unique constraint failed", "constraint failed: unique", "duplicate key value"} {
		if strings.Contains(msg, frag) {
			return true
		}
	}
	return false
}

func ownedChats(userID string) func(*gorm.DB) *gorm.DB {
	return func(tx *gorm.DB) *gorm.DB { return tx.Where("user_id = ?", userID) }
}

func ownedChat(id, userID string) func(*gorm.DB) *gorm.DB {
	return func(tx *gorm.DB) *gorm.DB { return tx.Where("id = ? AND user_id = ?", id, userID) }
}

// affected turns a zero-row write into ErrNotFound.
func affected(res *gorm.DB) error {
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// CreateChat stores a new chat for userID.
func CreateChat(ctx context.Context, db *gorm.DB, userID, title string) (*domain.Chat, error) {
	now := time.Now().UTC()
	c := domain.Chat{ID: uuid.NewString(), UserID: userID, Title: title, CreatedAt: now, UpdatedAt: now}
	if err := db.WithContext(ctx).Create(&c).Error; err != nil {
		return nil, err
	}
	return &c, nil
}

// CountChats counts userID's chats.
func CountChats(ctx context.Context, db *gorm.DB, userID string) (int64, error) {
	var n int64
	err := db.WithContext(ctx).Model(&domain.Chat{}).Scopes(ownedChats(userID)).Count(&n).Error
	return n, err
}

// ListChatsPage returns one window of userID's chats, most recently active
// first. Ties on updated_at break on id so pages never overlap.
func ListChatsPage(ctx context.Context, db *gorm.DB, userID string, offset, limit int) ([]domain.Chat, error) {
	var out []domain.Chat
	err := db.WithContext(ctx).
		Scopes(ownedChats(userID)).
		Order("updated_at desc, id desc").
		Offset(offset).
		Limit(limit).
		Find(&out).Error
	return out, err
}

// GetChat loads one chat owned by userID.
func GetChat(ctx context.Context, db *gorm.DB, id, userID string) (*domain.Chat, error) {
	var c domain.Chat
	if err := db.WithContext(ctx).Scopes(ownedChat(id, userID)).First(&c).Error; err != nil {
		return nil, err
	}
	return &c, nil
}

// UpdateChatTitle renames a chat owned by userID and marks it active.
func UpdateChatTitle(ctx context.Context, db *gorm.DB, id, userID, title string) error {
	return affected(db.WithContext(ctx).
		Model(&domain.Chat{}).
		Scopes(ownedChat(id, userID)).
		Updates(map[string]any{"title": title, "updated_at": time.Now().UTC()}))
}

// TouchOwnedChat bumps updated_at to at. Message writes use it as their
// ownership check: ErrNotFound means the chat is missing or foreign.
func TouchOwnedChat(ctx context.Context, db *gorm.DB, id, userID string, at time.Time) error {
	return affected(db.WithContext(ctx).
		Model(&domain.Chat{}).
		Scopes(ownedChat(id, userID)).
		UpdateColumn("updated_at", at.UTC()))
}
