package handler_test

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/railguard/railcomm-api/internal/dto"
	"github.com/railguard/railcomm-api/internal/handler"
	"github.com/railguard/railcomm-api/internal/models"
	"github.com/railguard/railcomm-api/internal/repository"
	"github.com/railguard/railcomm-api/internal/service"
)

type mockRoomService struct {
	createPayload dto.RoomCreateRequest
	createResult  dto.ChatRoomResponse
	createErr     error
	listUserID    string
	listRole      string
	listResult    []dto.ChatRoomResponse
	listErr       error
}

func (m *mockRoomService) GetOrCreate(_ context.Context, payload dto.RoomCreateRequest) (dto.ChatRoomResponse, error) {
	m.createPayload = payload
	if m.createErr != nil {
		return dto.ChatRoomResponse{}, m.createErr
	}
	return m.createResult, nil
}

func (m *mockRoomService) ListForUser(_ context.Context, userID, role string) ([]dto.ChatRoomResponse, error) {
	m.listUserID = userID
	m.listRole = role
	if m.listErr != nil {
		return nil, m.listErr
	}
	return m.listResult, nil
}

func (m *mockRoomService) SubscribeRooms(string, func([]dto.ChatRoomResponse)) func() {
	return func() {}
}

func (m *mockRoomService) Find(_ context.Context, roomID string) (models.ChatRoom, error) {
	return models.ChatRoom{}, repository.ErrRoomNotFound
}

func (m *mockRoomService) ApplyMessage(context.Context, models.ChatRoom, dto.ChatMessageResponse, int64) error {
	return nil
}

func (m *mockRoomService) AcknowledgeRead(context.Context, models.ChatRoom, string) error {
	return nil
}

func (m *mockRoomService) NotifyParticipants(context.Context, models.ChatRoom) {}

func newRoomTestApp(svc service.RoomService) *fiber.App {
	app := fiber.New()
	logger := zerolog.New(io.Discard)
	handler.NewRoomHandler(svc, validator.New(validator.WithRequiredStructEnabled()), logger).Register(app.Group("/api/v1/rooms"))
	return app
}

func TestRoomHandler_GetOrCreateSuccess(t *testing.T) {
	svc := &mockRoomService{createResult: dto.ChatRoomResponse{
		ID:          "room_12345_NDLS",
		TrainNumber: "12345",
		StationCode: "NDLS",
		IsActive:    true,
	}}
	app := newRoomTestApp(svc)

	resp, err := app.Test(jsonRequest(http.MethodPost, "/api/v1/rooms/",
		`{"train_number":"12345","station_code":"NDLS","driver":{"id":"driver_001","name":"Ravi Kumar"},"admin":{"id":"admin_001","name":"Station Control NDLS"}}`))
	require.NoError(t, err)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)

	var body struct {
		Success bool                 `json:"success"`
		Data    dto.ChatRoomResponse `json:"data"`
		Message string               `json:"message"`
	}
	decodeResponse(t, resp, &body)
	require.True(t, body.Success)
	require.Equal(t, "chat room ready", body.Message)
	require.Equal(t, "room_12345_NDLS", body.Data.ID)
	require.Equal(t, "12345", svc.createPayload.TrainNumber)
}

func TestRoomHandler_GetOrCreateInvalidBody(t *testing.T) {
	app := newRoomTestApp(&mockRoomService{})

	resp, err := app.Test(jsonRequest(http.MethodPost, "/api/v1/rooms/", `{broken`))
	require.NoError(t, err)
	require.Equal(t, fiber.StatusBadRequest, resp.StatusCode)
}

func TestRoomHandler_GetOrCreateValidationError(t *testing.T) {
	validate := validator.New(validator.WithRequiredStructEnabled())
	err := validate.Struct(dto.RoomCreateRequest{StationCode: "NDLS"})
	require.Error(t, err)

	svc := &mockRoomService{createErr: err}
	app := newRoomTestApp(svc)

	resp, reqErr := app.Test(jsonRequest(http.MethodPost, "/api/v1/rooms/",
		`{"station_code":"NDLS","driver":{"id":"driver_001","name":"Ravi Kumar"},"admin":{"id":"admin_001","name":"Station Control NDLS"}}`))
	require.NoError(t, reqErr)
	require.Equal(t, fiber.StatusBadRequest, resp.StatusCode)
}

func TestRoomHandler_ListRequiresIdentity(t *testing.T) {
	app := newRoomTestApp(&mockRoomService{})

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/api/v1/rooms/", nil))
	require.NoError(t, err)
	require.Equal(t, fiber.StatusBadRequest, resp.StatusCode)
}

func TestRoomHandler_ListByQuery(t *testing.T) {
	svc := &mockRoomService{listResult: []dto.ChatRoomResponse{{ID: "room_12345_NDLS"}}}
	app := newRoomTestApp(svc)

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/api/v1/rooms/?user_id=driver_001&role=train_driver", nil))
	require.NoError(t, err)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)

	require.Equal(t, "driver_001", svc.listUserID)
	require.Equal(t, models.RoleTrainDriver, svc.listRole)

	var body struct {
		Data []dto.ChatRoomResponse `json:"data"`
	}
	decodeResponse(t, resp, &body)
	require.Len(t, body.Data, 1)
}

func TestRoomHandler_WebsocketUpgradeRequired(t *testing.T) {
	app := newRoomTestApp(&mockRoomService{})

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/api/v1/rooms/ws?user_id=driver_001&role=train_driver", nil))
	require.NoError(t, err)
	require.Equal(t, fiber.StatusUpgradeRequired, resp.StatusCode)
}
