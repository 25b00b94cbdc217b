package models

import (
	"fmt"

	"gorm.io/datatypes"
)

// Message type values.
const (
	MessageTypeText         = "text"
	MessageTypeAlert        = "alert"
	MessageTypeEmergency    = "emergency"
	MessageTypeStatusUpdate = "status_update"
)

// Message priority values.
const (
	PriorityLow       = "low"
	PriorityMedium    = "medium"
	PriorityHigh      = "high"
	PriorityEmergency = "emergency"
)

// ChatRoom is the unique channel between one train and one station. The
// composite unique index on (train_number, station_code) is what makes
// concurrent lookup-or-create safe: the loser of a create race hits the
// index and re-reads the winner's row.
type ChatRoom struct {
	ID          string `gorm:"primaryKey;size:128" json:"id"`
	TrainNumber string `gorm:"size:32;not null;uniqueIndex:idx_chat_rooms_pair" json:"train_number"`
	StationCode string `gorm:"size:32;not null;uniqueIndex:idx_chat_rooms_pair" json:"station_code"`

	// Participant snapshots taken at creation time, never overwritten by
	// repeat getOrCreate calls.
	DriverID   string `gorm:"size:64;index" json:"driver_id"`
	DriverName string `gorm:"size:128" json:"driver_name"`
	AdminID    string `gorm:"size:64;index" json:"admin_id"`
	AdminName  string `gorm:"size:128" json:"admin_name"`

	// LastMessage is a denormalized copy of the newest message, kept for
	// room listings so they never need a join against the message table.
	LastMessage datatypes.JSON `gorm:"type:json" json:"last_message,omitempty"`

	UnreadDriver int  `gorm:"not null;default:0" json:"unread_driver"`
	UnreadAdmin  int  `gorm:"not null;default:0" json:"unread_admin"`
	IsActive     bool `gorm:"not null;default:true" json:"is_active"`

	// Unix milliseconds, matching the message timestamp domain.
	CreatedAt int64 `gorm:"not null" json:"created_at"`
	UpdatedAt int64 `gorm:"not null" json:"updated_at"`
}

// RoomID derives the deterministic identifier for a (train, station) pair.
func RoomID(trainNumber, stationCode string) string {
	return fmt.Sprintf("room_%s_%s", trainNumber, stationCode)
}

// ChatMessage is an immutable unit of communication. Only IsRead may change
// after creation; the primary key is monotonic, and Timestamp is strictly
// increasing within a room.
type ChatMessage struct {
	ID         uint   `gorm:"primaryKey" json:"id"`
	RoomID     string `gorm:"size:128;not null;index:idx_chat_messages_room_ts,priority:1" json:"room_id"`
	SenderID   string `gorm:"size:64;index" json:"sender_id"`
	SenderName string `gorm:"size:128" json:"sender_name"`
	SenderRole string `gorm:"size:32;not null" json:"sender_role"`
	Body       string `gorm:"type:text;not null" json:"body"`

	// Unix milliseconds. Strictly greater than any earlier message in the
	// same room; bumped logically when the wall clock has not advanced.
	Timestamp int64 `gorm:"not null;index:idx_chat_messages_room_ts,priority:2" json:"timestamp"`

	TrainNumber string `gorm:"size:32" json:"train_number,omitempty"`
	StationCode string `gorm:"size:32" json:"station_code,omitempty"`
	IsRead      bool   `gorm:"not null;default:false" json:"is_read"`
	Type        string `gorm:"size:32;not null;default:text" json:"type"`
	Priority    string `gorm:"size:32;not null;default:medium" json:"priority"`
}
