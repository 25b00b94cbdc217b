package contract_test

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/railguard/railcomm-api/internal/dto"
	"github.com/railguard/railcomm-api/internal/handler"
	"github.com/railguard/railcomm-api/internal/middleware"
	"github.com/railguard/railcomm-api/internal/models"
	"github.com/railguard/railcomm-api/internal/repository"
	"github.com/railguard/railcomm-api/internal/service"
)

type realtimeStack struct {
	roomService service.RoomService
	chatService service.ChatService
	baseURL     string
}

func setupRealtimeStack(t *testing.T) (*realtimeStack, func()) {
	t.Helper()

	// Shared cache keeps every pooled connection on the same in-memory
	// database; the test name keeps databases isolated between tests.
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{TranslateError: true})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&models.ChatRoom{}, &models.ChatMessage{}))

	validate := validator.New(validator.WithRequiredStructEnabled())
	logger := zerolog.New(io.Discard)

	hub := service.NewHub(logger)
	roomService := service.NewRoomService(repository.NewRoomRepository(db), hub, validate, logger)
	chatService := service.NewChatService(repository.NewMessageRepository(db), roomService, hub, nil, "", nil, validate, logger)

	app := fiber.New()
	app.Use(middleware.CorrelationID())

	handler.NewRoomHandler(roomService, validate, logger).Register(app.Group("/api/v1/rooms"))
	handler.NewChatHandler(chatService, validate, logger).Register(app.Group("/api/v1/chat"))

	baseURL, shutdown := startFiberServer(t, app)

	return &realtimeStack{
		roomService: roomService,
		chatService: chatService,
		baseURL:     baseURL,
	}, shutdown
}

func createRoom(t *testing.T, stack *realtimeStack) dto.ChatRoomResponse {
	t.Helper()
	room, err := stack.roomService.GetOrCreate(context.Background(), dto.RoomCreateRequest{
		TrainNumber: "12345",
		StationCode: "NDLS",
		Driver:      dto.ParticipantSnapshot{ID: "driver_001", Name: "Ravi Kumar"},
		Admin:       dto.ParticipantSnapshot{ID: "admin_001", Name: "Station Control NDLS"},
	})
	require.NoError(t, err)
	return room
}

func dialWebsocket(t *testing.T, baseURL, path string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(baseURL, "http") + path
	dialer := websocket.Dialer{HandshakeTimeout: 3 * time.Second}
	conn, resp, err := dialer.Dial(url, nil)
	require.NoError(t, err)
	if resp != nil {
		_ = resp.Body.Close()
	}
	return conn
}

// readUntil keeps reading snapshot frames until the predicate matches or the
// deadline expires.
func readUntil(t *testing.T, conn *websocket.Conn, match func([]dto.ChatMessageResponse) bool) []dto.ChatMessageResponse {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for {
		require.NoError(t, conn.SetReadDeadline(deadline))
		var snapshot []dto.ChatMessageResponse
		require.NoError(t, conn.ReadJSON(&snapshot), "expected a snapshot frame before the deadline")
		if match(snapshot) {
			return snapshot
		}
	}
}

func TestChatWebsocketDeliversSnapshots(t *testing.T) {
	stack, shutdown := setupRealtimeStack(t)
	defer shutdown()

	room := createRoom(t, stack)

	admin := dialWebsocket(t, stack.baseURL, "/api/v1/chat/ws?room_id="+room.ID+"&user_id=admin_001&role=station_admin")
	defer admin.Close()
	driver := dialWebsocket(t, stack.baseURL, "/api/v1/chat/ws?room_id="+room.ID+"&user_id=driver_001&role=train_driver")
	defer driver.Close()

	// Both sides receive the initial snapshot of an empty room.
	initial := readUntil(t, admin, func([]dto.ChatMessageResponse) bool { return true })
	require.Empty(t, initial)

	// The driver sends through the socket; the admin's next snapshot carries it.
	require.NoError(t, driver.WriteJSON(dto.ChatSendRequest{
		SenderName: "Ravi Kumar",
		Body:       "Approaching platform 4",
	}))

	snapshot := readUntil(t, admin, func(messages []dto.ChatMessageResponse) bool {
		return len(messages) == 1
	})
	require.Equal(t, "driver_001", snapshot[0].SenderID)
	require.Equal(t, models.RoleTrainDriver, snapshot[0].SenderRole)
	require.Equal(t, "Approaching platform 4", snapshot[0].Body)
	require.Equal(t, models.MessageTypeText, snapshot[0].Type)

	// The sender's own socket converges on the same state.
	echo := readUntil(t, driver, func(messages []dto.ChatMessageResponse) bool {
		return len(messages) == 1
	})
	require.Equal(t, snapshot[0].Timestamp, echo[0].Timestamp)
}

func TestChatWebsocketEmergencyEscalation(t *testing.T) {
	stack, shutdown := setupRealtimeStack(t)
	defer shutdown()

	room := createRoom(t, stack)

	admin := dialWebsocket(t, stack.baseURL, "/api/v1/chat/ws?room_id="+room.ID+"&user_id=admin_001&role=station_admin")
	defer admin.Close()

	readUntil(t, admin, func([]dto.ChatMessageResponse) bool { return true })

	_, err := stack.chatService.SendEmergencyAlert(context.Background(), dto.EmergencyAlertRequest{
		RoomID:     room.ID,
		SenderID:   "driver_001",
		SenderName: "Ravi Kumar",
		SenderRole: models.RoleTrainDriver,
		Body:       "Obstruction on track, braking",
	})
	require.NoError(t, err)

	snapshot := readUntil(t, admin, func(messages []dto.ChatMessageResponse) bool {
		return len(messages) == 1
	})
	require.Equal(t, models.MessageTypeEmergency, snapshot[0].Type)
	require.Equal(t, models.PriorityEmergency, snapshot[0].Priority)
}

func TestChatWebsocketFillsSenderIdentity(t *testing.T) {
	stack, shutdown := setupRealtimeStack(t)
	defer shutdown()

	room := createRoom(t, stack)

	driver := dialWebsocket(t, stack.baseURL, "/api/v1/chat/ws?room_id="+room.ID+"&user_id=driver_001&role=train_driver&user_name=Ravi%20Kumar")
	defer driver.Close()

	readUntil(t, driver, func([]dto.ChatMessageResponse) bool { return true })

	// A frame carrying only the body picks up the full sender identity
	// from the connection.
	require.NoError(t, driver.WriteJSON(dto.ChatSendRequest{Body: "Signal cleared"}))

	snapshot := readUntil(t, driver, func(messages []dto.ChatMessageResponse) bool {
		return len(messages) == 1
	})
	require.Equal(t, "driver_001", snapshot[0].SenderID)
	require.Equal(t, "Ravi Kumar", snapshot[0].SenderName)
	require.Equal(t, models.RoleTrainDriver, snapshot[0].SenderRole)
	require.Equal(t, "Signal cleared", snapshot[0].Body)
}

func TestRoomListWebsocketTracksUnread(t *testing.T) {
	stack, shutdown := setupRealtimeStack(t)
	defer shutdown()

	room := createRoom(t, stack)

	conn := dialWebsocket(t, stack.baseURL, "/api/v1/rooms/ws?user_id=admin_001&role=station_admin")
	defer conn.Close()

	deadline := time.Now().Add(3 * time.Second)
	readRooms := func(match func([]dto.ChatRoomResponse) bool) []dto.ChatRoomResponse {
		for {
			require.NoError(t, conn.SetReadDeadline(deadline))
			var rooms []dto.ChatRoomResponse
			require.NoError(t, conn.ReadJSON(&rooms))
			if match(rooms) {
				return rooms
			}
		}
	}

	initial := readRooms(func(rooms []dto.ChatRoomResponse) bool { return len(rooms) == 1 })
	require.Equal(t, room.ID, initial[0].ID)
	require.Zero(t, initial[0].UnreadCount.StationAdmin)

	_, err := stack.chatService.Send(context.Background(), dto.ChatSendRequest{
		RoomID:     room.ID,
		SenderID:   "driver_001",
		SenderName: "Ravi Kumar",
		SenderRole: models.RoleTrainDriver,
		Body:       "Departing on time",
	})
	require.NoError(t, err)

	updated := readRooms(func(rooms []dto.ChatRoomResponse) bool {
		return len(rooms) == 1 && rooms[0].UnreadCount.StationAdmin == 1
	})
	require.NotNil(t, updated[0].LastMessage)
	require.Equal(t, "Departing on time", updated[0].LastMessage.Body)
}

func TestChatWebsocketRequiresRoomID(t *testing.T) {
	stack, shutdown := setupRealtimeStack(t)
	defer shutdown()

	url := "ws" + strings.TrimPrefix(stack.baseURL, "http") + "/api/v1/chat/ws"
	dialer := websocket.Dialer{HandshakeTimeout: 3 * time.Second}
	conn, resp, err := dialer.Dial(url, nil)
	if err == nil {
		// The upgrade may succeed; the server must then close immediately.
		require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
		_, _, readErr := conn.ReadMessage()
		require.Error(t, readErr)
		_ = conn.Close()
	}
	if resp != nil {
		_ = resp.Body.Close()
	}
}

func startFiberServer(t *testing.T, app *fiber.App) (string, func()) {
	t.Helper()

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("failed to create listener: %v", err)
	}

	done := make(chan struct{})
	go func() {
		if err := app.Listener(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			t.Logf("fiber listener stopped: %v", err)
		}
		close(done)
	}()

	time.Sleep(50 * time.Millisecond)

	shutdown := func() {
		_ = app.Shutdown()
		_ = listener.Close()
		select {
		case <-done:
		case <-time.After(100 * time.Millisecond):
		}
	}

	return "http://" + listener.Addr().String(), shutdown
}
