package repository

import (
	"context"
	"errors"

	"gorm.io/gorm"

	"github.com/railguard/railcomm-api/internal/models"
)

// MessageRepository owns the canonical per-room message sequence.
type MessageRepository interface {
	Append(ctx context.Context, message *models.ChatMessage) error
	// ListByRoom returns messages ascending by timestamp. Since is an
	// exclusive unix-millisecond lower bound; zero returns the full history.
	ListByRoom(ctx context.Context, roomID string, since int64) ([]models.ChatMessage, error)
	// LastTimestamp reports the newest timestamp in the room, zero when empty.
	LastTimestamp(ctx context.Context, roomID string) (int64, error)
	// MarkRead flips is_read on every unread message in the room not authored
	// by readerRole and reports how many rows changed.
	MarkRead(ctx context.Context, roomID, readerRole string) (int64, error)
}

type messageRepository struct {
	db *gorm.DB
}

// NewMessageRepository constructs a message repository backed by GORM.
func NewMessageRepository(db *gorm.DB) MessageRepository {
	return &messageRepository{db: db}
}

func (r *messageRepository) Append(ctx context.Context, message *models.ChatMessage) error {
	return r.db.WithContext(ctx).Create(message).Error
}

func (r *messageRepository) ListByRoom(ctx context.Context, roomID string, since int64) ([]models.ChatMessage, error) {
	query := r.db.WithContext(ctx).Where("room_id = ?", roomID)
	if since > 0 {
		query = query.Where("timestamp > ?", since)
	}

	var messages []models.ChatMessage
	if err := query.Order("timestamp ASC, id ASC").Find(&messages).Error; err != nil {
		return nil, err
	}
	return messages, nil
}

func (r *messageRepository) LastTimestamp(ctx context.Context, roomID string) (int64, error) {
	var last models.ChatMessage
	err := r.db.WithContext(ctx).
		Where("room_id = ?", roomID).
		Order("timestamp DESC, id DESC").
		First(&last).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return 0, nil
		}
		return 0, err
	}
	return last.Timestamp, nil
}

func (r *messageRepository) MarkRead(ctx context.Context, roomID, readerRole string) (int64, error) {
	result := r.db.WithContext(ctx).
		Model(&models.ChatMessage{}).
		Where("room_id = ? AND is_read = ? AND sender_role <> ?", roomID, false, readerRole).
		Update("is_read", true)
	if result.Error != nil {
		return 0, result.Error
	}
	return result.RowsAffected, nil
}
