package handler

import (
	"context"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"
	"github.com/rs/zerolog"

	"github.com/railguard/railcomm-api/internal/dto"
	"github.com/railguard/railcomm-api/internal/middleware"
	"github.com/railguard/railcomm-api/internal/service"
	"github.com/railguard/railcomm-api/internal/utils"
)

const roomListSendBuffer = 4

// RoomHandler wires the room directory endpoints, including the room-list
// websocket stream.
type RoomHandler struct {
	service   service.RoomService
	validator *validator.Validate
	logger    zerolog.Logger
}

// NewRoomHandler creates a room handler instance.
func NewRoomHandler(service service.RoomService, validator *validator.Validate, logger zerolog.Logger) *RoomHandler {
	return &RoomHandler{
		service:   service,
		validator: validator,
		logger:    logger.With().Str("component", "room_handler").Logger(),
	}
}

// Register binds room routes under the provided router group.
func (h *RoomHandler) Register(router fiber.Router) {
	router.Post("/", h.getOrCreate)
	router.Get("/", h.list)

	router.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			ctx := c.UserContext()
			if ctx == nil {
				ctx = context.Background()
			}
			ctx = middleware.ContextWithCorrelation(ctx, middleware.GetCorrelationID(c))
			c.Locals("request_ctx", ctx)
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	router.Get("/ws", websocket.New(h.handleConnection))
}

func (h *RoomHandler) getOrCreate(c *fiber.Ctx) error {
	var payload dto.RoomCreateRequest
	if err := c.BodyParser(&payload); err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid request body")
	}

	ctx := requestContext(c)
	room, err := h.service.GetOrCreate(ctx, payload)
	if err != nil {
		requestLogger(h.logger, c).Warn().Err(err).Msg("get-or-create room failed")
		return sendServiceError(c, err)
	}

	return utils.SendSuccess(c, "chat room ready", room)
}

func (h *RoomHandler) list(c *fiber.Ctx) error {
	userID := strings.TrimSpace(c.Query("user_id"))
	if userID == "" {
		userID = userIDFromContext(c)
	}
	role := strings.TrimSpace(c.Query("role"))
	if role == "" {
		role = userRoleFromContext(c)
	}
	if userID == "" || role == "" {
		return utils.SendError(c, fiber.StatusBadRequest, "user_id and role required")
	}

	rooms, err := h.service.ListForUser(requestContext(c), userID, role)
	if err != nil {
		return sendServiceError(c, err)
	}

	return utils.SendSuccess(c, "chat rooms", rooms)
}

// handleConnection streams full room-list snapshots to one user.
func (h *RoomHandler) handleConnection(conn *websocket.Conn) {
	userID := strings.TrimSpace(conn.Query("user_id"))
	role := strings.TrimSpace(conn.Query("role"))
	if userID == "" || role == "" {
		_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(fiber.StatusBadRequest, "user_id and role required"))
		_ = conn.Close()
		return
	}

	baseCtx, _ := conn.Locals("request_ctx").(context.Context)
	if baseCtx == nil {
		baseCtx = context.Background()
	}

	send := make(chan []dto.ChatRoomResponse, roomListSendBuffer)
	closed := make(chan struct{})

	cancel := h.service.SubscribeRooms(userID, func(rooms []dto.ChatRoomResponse) {
		select {
		case <-closed:
		case send <- rooms:
		default:
			h.logger.Debug().Str("user_id", userID).Msg("dropping room list snapshot for slow client")
		}
	})
	defer cancel()

	h.logger.Info().Str("user_id", userID).Str("role", role).Msg("room list websocket connected")

	// Initial snapshot before the first change lands.
	if rooms, err := h.service.ListForUser(baseCtx, userID, role); err == nil {
		select {
		case send <- rooms:
		default:
		}
	}

	go func() {
		defer func() {
			_ = conn.Close()
		}()
		for {
			select {
			case rooms := <-send:
				if err := conn.WriteJSON(rooms); err != nil {
					return
				}
			case <-time.After(30 * time.Second):
				if err := conn.WriteMessage(websocket.PingMessage, []byte("keepalive")); err != nil {
					return
				}
			case <-closed:
				return
			}
		}
	}()

	// Reads only detect disconnects; the stream is one-way.
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}
	close(closed)

	h.logger.Info().Str("user_id", userID).Msg("room list websocket disconnected")
}

func requestContext(c *fiber.Ctx) context.Context {
	ctx := c.UserContext()
	if ctx == nil {
		ctx = context.Background()
	}
	return middleware.ContextWithCorrelation(ctx, middleware.GetCorrelationID(c))
}
