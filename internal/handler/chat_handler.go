package handler

import (
	"context"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"
	"github.com/rs/zerolog"

	"github.com/railguard/railcomm-api/internal/dto"
	"github.com/railguard/railcomm-api/internal/middleware"
	"github.com/railguard/railcomm-api/internal/service"
	"github.com/railguard/railcomm-api/internal/utils"
)

// ChatHandler wires chat endpoints including the websocket upgrade.
type ChatHandler struct {
	service   service.ChatService
	validator *validator.Validate
	logger    zerolog.Logger
}

// NewChatHandler creates a chat handler instance.
func NewChatHandler(service service.ChatService, validator *validator.Validate, logger zerolog.Logger) *ChatHandler {
	return &ChatHandler{
		service:   service,
		validator: validator,
		logger:    logger.With().Str("component", "chat_handler").Logger(),
	}
}

// Register binds chat routes under the provided router group.
func (h *ChatHandler) Register(router fiber.Router) {
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
	router.Get("/history", h.history)
	router.Post("/messages", h.send)
	router.Post("/read", h.markRead)
	router.Post("/emergency", h.emergency)
}

func (h *ChatHandler) handleConnection(conn *websocket.Conn) {
	roomID := strings.TrimSpace(conn.Query("room_id"))
	if roomID == "" {
		_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(fiber.StatusBadRequest, "room_id required"))
		_ = conn.Close()
		return
	}

	userID := websocketUserID(conn)
	role := websocketUserRole(conn)
	correlation := fmt.Sprint(conn.Locals("correlation_id"))
	baseCtx, _ := conn.Locals("request_ctx").(context.Context)

	opts := service.ChatConnectionOptions{
		UserID:        userID,
		UserName:      websocketUserName(conn),
		Role:          role,
		RoomID:        roomID,
		CorrelationID: correlation,
		Context:       baseCtx,
	}

	h.logger.Info().Str("user_id", userID).Str("room_id", roomID).Msg("chat websocket connected")
	h.service.ServeConnection(conn, opts)
	h.logger.Info().Str("user_id", userID).Str("room_id", roomID).Msg("chat websocket disconnected")
}

func (h *ChatHandler) history(c *fiber.Ctx) error {
	roomID := c.Query("room_id")
	if roomID == "" {
		return utils.SendError(c, fiber.StatusBadRequest, "room_id required")
	}

	since, err := parseQueryInt64(c, "since")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid since timestamp")
	}

	query := dto.ChatHistoryQuery{
		RoomID: roomID,
		Since:  since,
	}

	messages, err := h.service.History(requestContext(c), query)
	if err != nil {
		return sendServiceError(c, err)
	}

	return utils.SendSuccess(c, "chat history", messages)
}

func (h *ChatHandler) send(c *fiber.Ctx) error {
	var payload dto.ChatSendRequest
	if err := c.BodyParser(&payload); err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid request body")
	}

	if payload.SenderID == "" {
		payload.SenderID = userIDFromContext(c)
	}
	if payload.SenderRole == "" {
		payload.SenderRole = userRoleFromContext(c)
	}

	message, err := h.service.Send(requestContext(c), payload)
	if err != nil {
		requestLogger(h.logger, c).Warn().Err(err).Str("room_id", payload.RoomID).Msg("send failed")
		return sendServiceError(c, err)
	}

	return utils.SendSuccessWithStatus(c, fiber.StatusCreated, "message sent", message)
}

func (h *ChatHandler) markRead(c *fiber.Ctx) error {
	var payload dto.MarkReadRequest
	if err := c.BodyParser(&payload); err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid request body")
	}

	if payload.ReaderRole == "" {
		payload.ReaderRole = userRoleFromContext(c)
	}

	result, err := h.service.MarkRead(requestContext(c), payload)
	if err != nil {
		return sendServiceError(c, err)
	}

	return utils.SendSuccess(c, "messages marked read", result)
}

func (h *ChatHandler) emergency(c *fiber.Ctx) error {
	var payload dto.EmergencyAlertRequest
	if err := c.BodyParser(&payload); err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid request body")
	}

	if payload.SenderID == "" {
		payload.SenderID = userIDFromContext(c)
	}
	if payload.SenderRole == "" {
		payload.SenderRole = userRoleFromContext(c)
	}

	message, err := h.service.SendEmergencyAlert(requestContext(c), payload)
	if err != nil {
		requestLogger(h.logger, c).Error().Err(err).Str("room_id", payload.RoomID).Msg("emergency alert failed")
		return sendServiceError(c, err)
	}

	return utils.SendSuccessWithStatus(c, fiber.StatusCreated, "emergency alert sent", message)
}

func websocketUserID(conn *websocket.Conn) string {
	if value := conn.Locals("user_id"); value != nil {
		if id, ok := value.(string); ok {
			return strings.TrimSpace(id)
		}
	}
	return strings.TrimSpace(conn.Query("user_id"))
}

func websocketUserName(conn *websocket.Conn) string {
	if value := conn.Locals("user_name"); value != nil {
		if name, ok := value.(string); ok {
			return strings.TrimSpace(name)
		}
	}
	return strings.TrimSpace(conn.Query("user_name"))
}

func websocketUserRole(conn *websocket.Conn) string {
	if value := conn.Locals("user_role"); value != nil {
		if role, ok := value.(string); ok {
			return strings.TrimSpace(role)
		}
	}
	return strings.TrimSpace(conn.Query("role"))
}
