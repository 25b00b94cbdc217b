package dto

import (
	"github.com/railguard/railcomm-api/internal/models"
)

// ChatSendRequest is the payload used to append a message to a room, both
// over the REST endpoint and the websocket send channel.
type ChatSendRequest struct {
	RoomID      string `json:"room_id" validate:"required,min=3,max=128"`
	SenderID    string `json:"sender_id" validate:"required,max=64"`
	SenderName  string `json:"sender_name" validate:"required,max=128"`
	SenderRole  string `json:"sender_role" validate:"required,oneof=train_driver station_admin"`
	Body        string `json:"message" validate:"required,min=1,max=4000"`
	Type        string `json:"message_type" validate:"omitempty,oneof=text alert emergency status_update"`
	Priority    string `json:"priority" validate:"omitempty,oneof=low medium high emergency"`
	TrainNumber string `json:"train_number,omitempty" validate:"omitempty,max=32"`
	StationCode string `json:"station_code,omitempty" validate:"omitempty,max=32"`
}

// EmergencyAlertRequest triggers the escalated delivery path. Type and
// priority are forced to emergency by the service, never by the caller.
type EmergencyAlertRequest struct {
	RoomID     string `json:"room_id" validate:"required,min=3,max=128"`
	SenderID   string `json:"sender_id" validate:"required,max=64"`
	SenderName string `json:"sender_name" validate:"required,max=128"`
	SenderRole string `json:"sender_role" validate:"required,oneof=train_driver station_admin"`
	Body       string `json:"message" validate:"required,min=1,max=4000"`
}

// ChatHistoryQuery filters the message sequence of a room. Since is an
// exclusive unix-millisecond lower bound; zero means the full history.
type ChatHistoryQuery struct {
	RoomID string `query:"room_id" validate:"required,min=3,max=128"`
	Since  int64  `query:"since" validate:"omitempty,min=0"`
}

// MarkReadRequest acknowledges every unread message in a room that was not
// authored by the reader's role.
type MarkReadRequest struct {
	RoomID     string `json:"room_id" validate:"required,min=3,max=128"`
	ReaderRole string `json:"reader_role" validate:"required,oneof=train_driver station_admin"`
}

// MarkReadResponse reports how many messages were flipped to read.
type MarkReadResponse struct {
	RoomID  string `json:"room_id"`
	Updated int64  `json:"updated"`
}

// ChatMessageResponse is the serialized representation of a chat message.
type ChatMessageResponse struct {
	ID          uint   `json:"id"`
	RoomID      string `json:"room_id"`
	SenderID    string `json:"sender_id"`
	SenderName  string `json:"sender_name"`
	SenderRole  string `json:"sender_role"`
	Body        string `json:"message"`
	Timestamp   int64  `json:"timestamp"`
	TrainNumber string `json:"train_number,omitempty"`
	StationCode string `json:"station_code,omitempty"`
	IsRead      bool   `json:"is_read"`
	Type        string `json:"message_type"`
	Priority    string `json:"priority"`
}

// NewChatMessageResponse converts a model into a DTO.
func NewChatMessageResponse(message models.ChatMessage) ChatMessageResponse {
	return ChatMessageResponse{
		ID:          message.ID,
		RoomID:      message.RoomID,
		SenderID:    message.SenderID,
		SenderName:  message.SenderName,
		SenderRole:  message.SenderRole,
		Body:        message.Body,
		Timestamp:   message.Timestamp,
		TrainNumber: message.TrainNumber,
		StationCode: message.StationCode,
		IsRead:      message.IsRead,
		Type:        message.Type,
		Priority:    message.Priority,
	}
}

// NewChatMessageResponseSlice converts a slice of models into DTOs.
func NewChatMessageResponseSlice(messages []models.ChatMessage) []ChatMessageResponse {
	out := make([]ChatMessageResponse, 0, len(messages))
	for _, message := range messages {
		out = append(out, NewChatMessageResponse(message))
	}
	return out
}
