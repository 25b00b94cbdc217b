package dto

import (
	"encoding/json"

	"github.com/railguard/railcomm-api/internal/models"
)

// ParticipantSnapshot is the identity recorded when a room is created.
type ParticipantSnapshot struct {
	ID   string `json:"id" validate:"required,max=64"`
	Name string `json:"name" validate:"required,max=128"`
}

// RoomCreateRequest is the lookup-or-create payload for the room directory.
// The driver's train number and the admin's station code are the role
// locators; both are required before anything touches storage.
type RoomCreateRequest struct {
	TrainNumber string              `json:"train_number" validate:"required,max=32"`
	StationCode string              `json:"station_code" validate:"required,max=32"`
	Driver      ParticipantSnapshot `json:"driver" validate:"required"`
	Admin       ParticipantSnapshot `json:"admin" validate:"required"`
}

// RoomParticipants mirrors the participant layout clients render.
type RoomParticipants struct {
	TrainDriver  RoomDriverInfo `json:"train_driver"`
	StationAdmin RoomAdminInfo  `json:"station_admin"`
}

// RoomDriverInfo is the driver-side participant snapshot.
type RoomDriverInfo struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	TrainNumber string `json:"train_number"`
}

// RoomAdminInfo is the admin-side participant snapshot.
type RoomAdminInfo struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	StationCode string `json:"station_code"`
}

// RoomUnreadCount carries the per-role unread counters.
type RoomUnreadCount struct {
	TrainDriver  int `json:"train_driver"`
	StationAdmin int `json:"station_admin"`
}

// ChatRoomResponse is the serialized representation of a room.
type ChatRoomResponse struct {
	ID           string               `json:"id"`
	TrainNumber  string               `json:"train_number"`
	StationCode  string               `json:"station_code"`
	Participants RoomParticipants     `json:"participants"`
	LastMessage  *ChatMessageResponse `json:"last_message,omitempty"`
	UnreadCount  RoomUnreadCount      `json:"unread_count"`
	IsActive     bool                 `json:"is_active"`
	CreatedAt    int64                `json:"created_at"`
	UpdatedAt    int64                `json:"updated_at"`
}

// NewChatRoomResponse converts a model into a DTO. A malformed denormalized
// last message is dropped rather than failing the whole listing.
func NewChatRoomResponse(room models.ChatRoom) ChatRoomResponse {
	response := ChatRoomResponse{
		ID:          room.ID,
		TrainNumber: room.TrainNumber,
		StationCode: room.StationCode,
		Participants: RoomParticipants{
			TrainDriver: RoomDriverInfo{
				ID:          room.DriverID,
				Name:        room.DriverName,
				TrainNumber: room.TrainNumber,
			},
			StationAdmin: RoomAdminInfo{
				ID:          room.AdminID,
				Name:        room.AdminName,
				StationCode: room.StationCode,
			},
		},
		UnreadCount: RoomUnreadCount{
			TrainDriver:  room.UnreadDriver,
			StationAdmin: room.UnreadAdmin,
		},
		IsActive:  room.IsActive,
		CreatedAt: room.CreatedAt,
		UpdatedAt: room.UpdatedAt,
	}

	if len(room.LastMessage) > 0 {
		var last ChatMessageResponse
		if err := json.Unmarshal(room.LastMessage, &last); err == nil {
			response.LastMessage = &last
		}
	}

	return response
}

// NewChatRoomResponseSlice converts a slice of models into DTOs.
func NewChatRoomResponseSlice(rooms []models.ChatRoom) []ChatRoomResponse {
	out := make([]ChatRoomResponse, 0, len(rooms))
	for _, room := range rooms {
		out = append(out, NewChatRoomResponse(room))
	}
	return out
}
