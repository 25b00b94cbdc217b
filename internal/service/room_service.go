package service

import (
	"context"
	"encoding/json"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/datatypes"

	"github.com/railguard/railcomm-api/internal/dto"
	"github.com/railguard/railcomm-api/internal/models"
	"github.com/railguard/railcomm-api/internal/observability"
	"github.com/railguard/railcomm-api/internal/repository"
)

// RoomService is the room directory: it owns room lifecycle, the per-role
// unread counters and the message-derived summary fields.
type RoomService interface {
	GetOrCreate(ctx context.Context, payload dto.RoomCreateRequest) (dto.ChatRoomResponse, error)
	ListForUser(ctx context.Context, userID, role string) ([]dto.ChatRoomResponse, error)
	SubscribeRooms(userID string, fn func([]dto.ChatRoomResponse)) func()

	Find(ctx context.Context, roomID string) (models.ChatRoom, error)
	ApplyMessage(ctx context.Context, room models.ChatRoom, last dto.ChatMessageResponse, updatedAt int64) error
	AcknowledgeRead(ctx context.Context, room models.ChatRoom, readerRole string) error
	NotifyParticipants(ctx context.Context, room models.ChatRoom)
}

type roomService struct {
	rooms     repository.RoomRepository
	hub       *Hub
	validator *validator.Validate
	logger    zerolog.Logger
	tracer    trace.Tracer
	locks     lockRegistry
	now       func() time.Time
}

// NewRoomService constructs the room directory service.
func NewRoomService(rooms repository.RoomRepository, hub *Hub, validate *validator.Validate, logger zerolog.Logger) RoomService {
	return &roomService{
		rooms:     rooms,
		hub:       hub,
		validator: validate,
		logger:    logger.With().Str("component", "room_service").Logger(),
		tracer:    otel.Tracer("github.com/railguard/railcomm-api/internal/service/room"),
		now:       time.Now,
	}
}

func (s *roomService) GetOrCreate(ctx context.Context, payload dto.RoomCreateRequest) (dto.ChatRoomResponse, error) {
	if err := s.validator.Struct(payload); err != nil {
		return dto.ChatRoomResponse{}, err
	}

	attrs := []attribute.KeyValue{
		attribute.String("room.train_number", payload.TrainNumber),
		attribute.String("room.station_code", payload.StationCode),
	}
	spanCtx, span := s.tracer.Start(ctx, "rooms.get_or_create", trace.WithAttributes(attrs...))
	defer span.End()

	// Serialize concurrent callers on the same pair; losers of the storage
	// race observe the winner's row either way.
	unlock := s.locks.acquire("pair:" + payload.TrainNumber + ":" + payload.StationCode)
	defer unlock()

	nowMs := s.now().UnixMilli()
	candidate := models.ChatRoom{
		ID:          models.RoomID(payload.TrainNumber, payload.StationCode),
		TrainNumber: payload.TrainNumber,
		StationCode: payload.StationCode,
		DriverID:    payload.Driver.ID,
		DriverName:  payload.Driver.Name,
		AdminID:     payload.Admin.ID,
		AdminName:   payload.Admin.Name,
		IsActive:    true,
		CreatedAt:   nowMs,
		UpdatedAt:   nowMs,
	}

	room, created, err := s.rooms.GetOrCreate(spanCtx, candidate)
	if err != nil {
		span.RecordError(err)
		return dto.ChatRoomResponse{}, err
	}

	if created {
		observability.RoomsCreatedTotal().Inc()
		s.logger.Info().
			Str("room_id", room.ID).
			Str("train_number", room.TrainNumber).
			Str("station_code", room.StationCode).
			Msg("chat room created")
		s.NotifyParticipants(spanCtx, room)
	}

	return dto.NewChatRoomResponse(room), nil
}

func (s *roomService) ListForUser(ctx context.Context, userID, role string) ([]dto.ChatRoomResponse, error) {
	rooms, err := s.rooms.ListForUser(ctx, userID, role)
	if err != nil {
		return nil, err
	}
	return dto.NewChatRoomResponseSlice(rooms), nil
}

func (s *roomService) SubscribeRooms(userID string, fn func([]dto.ChatRoomResponse)) func() {
	return s.hub.SubscribeRooms(userID, fn)
}

func (s *roomService) Find(ctx context.Context, roomID string) (models.ChatRoom, error) {
	return s.rooms.FindByID(ctx, roomID)
}

func (s *roomService) ApplyMessage(ctx context.Context, room models.ChatRoom, last dto.ChatMessageResponse, updatedAt int64) error {
	payload, err := json.Marshal(last)
	if err != nil {
		return err
	}

	recipient := models.CounterpartRole(last.SenderRole)
	return s.rooms.ApplyMessage(ctx, room.ID, datatypes.JSON(payload), recipient, updatedAt)
}

func (s *roomService) AcknowledgeRead(ctx context.Context, room models.ChatRoom, readerRole string) error {
	return s.rooms.ResetUnread(ctx, room.ID, readerRole)
}

// NotifyParticipants pushes fresh room-list snapshots to both sides of a
// room. The driver and admin each get the list filtered to their own role.
func (s *roomService) NotifyParticipants(ctx context.Context, room models.ChatRoom) {
	s.publishRoomList(ctx, room.DriverID, models.RoleTrainDriver)
	s.publishRoomList(ctx, room.AdminID, models.RoleStationAdmin)
}

func (s *roomService) publishRoomList(ctx context.Context, userID, role string) {
	if userID == "" {
		return
	}
	rooms, err := s.ListForUser(ctx, userID, role)
	if err != nil {
		s.logger.Warn().Err(err).Str("user_id", userID).Msg("failed to build room list snapshot")
		return
	}
	s.hub.PublishRoomList(userID, rooms)
}
