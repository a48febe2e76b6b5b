// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides small aggregate queries used for ETag
// generation in the HTTP layer.
package repo

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/tbourn/go-chat-stream/internal/domain"
)

// ChatsStats returns the number of chats owned by userID and the greatest
// UpdatedAt among them (nil when there are none).
func ChatsStats(ctx context.Context, db *gorm.DB, userID string) (int64, *time.Time, error) {
	return tableStats(db.WithContext(ctx).Model(&domain.Chat{}).Where("user_id = ?", userID))
}

// MessagesStats returns the number of messages in chatID and the greatest
// UpdatedAt among them (nil when there are none). Since a streamed assistant
// message changes on finalize, the pair moves whenever history changes.
func MessagesStats(ctx context.Context, db *gorm.DB, chatID string) (int64, *time.Time, error) {
	return tableStats(db.WithContext(ctx).Model(&domain.Message{}).Where("chat_id = ?", chatID))
}

func tableStats(q *gorm.DB) (count int64, maxUpdatedAt *time.Time, err error) {
	if err = q.Session(&gorm.Session{}).Count(&count).Error; err != nil {
		return 0, nil, err
	}
	if count == 0 {
		return 0, nil, nil
	}

	// avoid MAX() -> TEXT in SQLite
	var row struct {
		UpdatedAt time.Time
	}
	if err = q.Session(&gorm.Session{}).Select("updated_at").Order("updated_at DESC").Limit(1).Scan(&row).Error; err != nil {
		return 0, nil, err
	}
	return count, &row.UpdatedAt, nil
}
