package repository

import (
	"context"
	"errors"
	"strings"

	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/railguard/railcomm-api/internal/models"
)

// ErrRoomNotFound indicates the referenced room does not exist or is inactive.
var ErrRoomNotFound = errors.New("chat room not found")

// RoomRepository owns the room rows and their message-derived summary fields.
type RoomRepository interface {
	// GetOrCreate returns the active room for the pair embedded in candidate,
	// creating it when absent. The boolean reports whether a row was created.
	// Safe under concurrent callers: the unique pair index arbitrates races.
	GetOrCreate(ctx context.Context, candidate models.ChatRoom) (models.ChatRoom, bool, error)
	FindByID(ctx context.Context, id string) (models.ChatRoom, error)
	ListForUser(ctx context.Context, userID, role string) ([]models.ChatRoom, error)
	// ApplyMessage updates the denormalized summary after an append: the last
	// message copy, the recipient role's unread counter and the updated stamp.
	ApplyMessage(ctx context.Context, roomID string, lastMessage datatypes.JSON, recipientRole string, updatedAt int64) error
	// ResetUnread zeroes the unread counter for the given role.
	ResetUnread(ctx context.Context, roomID, role string) error
}

type roomRepository struct {
	db *gorm.DB
}

// NewRoomRepository constructs a room repository backed by GORM.
func NewRoomRepository(db *gorm.DB) RoomRepository {
	return &roomRepository{db: db}
}

func (r *roomRepository) GetOrCreate(ctx context.Context, candidate models.ChatRoom) (models.ChatRoom, bool, error) {
	var room models.ChatRoom
	err := r.db.WithContext(ctx).
		Where("train_number = ? AND station_code = ?", candidate.TrainNumber, candidate.StationCode).
		First(&room).Error
	if err == nil {
		return room, false, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return models.ChatRoom{}, false, err
	}

	if createErr := r.db.WithContext(ctx).Create(&candidate).Error; createErr != nil {
		if isDuplicateKey(createErr) {
			// Lost the create race; the winner's row is authoritative.
			err = r.db.WithContext(ctx).
				Where("train_number = ? AND station_code = ?", candidate.TrainNumber, candidate.StationCode).
				First(&room).Error
			if err != nil {
				return models.ChatRoom{}, false, err
			}
			return room, false, nil
		}
		return models.ChatRoom{}, false, createErr
	}

	return candidate, true, nil
}

func (r *roomRepository) FindByID(ctx context.Context, id string) (models.ChatRoom, error) {
	var room models.ChatRoom
	if err := r.db.WithContext(ctx).First(&room, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return models.ChatRoom{}, ErrRoomNotFound
		}
		return models.ChatRoom{}, err
	}
	return room, nil
}

func (r *roomRepository) ListForUser(ctx context.Context, userID, role string) ([]models.ChatRoom, error) {
	query := r.db.WithContext(ctx)
	switch role {
	case models.RoleTrainDriver:
		query = query.Where("driver_id = ?", userID)
	case models.RoleStationAdmin:
		query = query.Where("admin_id = ?", userID)
	default:
		return []models.ChatRoom{}, nil
	}

	var rooms []models.ChatRoom
	if err := query.Order("updated_at DESC").Find(&rooms).Error; err != nil {
		return nil, err
	}
	return rooms, nil
}

func (r *roomRepository) ApplyMessage(ctx context.Context, roomID string, lastMessage datatypes.JSON, recipientRole string, updatedAt int64) error {
	updates := map[string]interface{}{
		"last_message": lastMessage,
		"updated_at":   updatedAt,
	}
	switch recipientRole {
	case models.RoleTrainDriver:
		updates["unread_driver"] = gorm.Expr("unread_driver + 1")
	case models.RoleStationAdmin:
		updates["unread_admin"] = gorm.Expr("unread_admin + 1")
	}

	result := r.db.WithContext(ctx).Model(&models.ChatRoom{}).Where("id = ?", roomID).Updates(updates)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrRoomNotFound
	}
	return nil
}

func (r *roomRepository) ResetUnread(ctx context.Context, roomID, role string) error {
	column := ""
	switch role {
	case models.RoleTrainDriver:
		column = "unread_driver"
	case models.RoleStationAdmin:
		column = "unread_admin"
	default:
		return nil
	}

	result := r.db.WithContext(ctx).Model(&models.ChatRoom{}).Where("id = ?", roomID).Update(column, 0)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrRoomNotFound
	}
	return nil
}

// isDuplicateKey matches GORM's translated duplicate error plus the raw
// constraint messages sqlite and postgres emit when translation is off.
func isDuplicateKey(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	message := err.Error()
	return strings.Contains(message, "UNIQUE constraint failed") ||
		strings.Contains(message, "duplicate key value")
}
