package router

import (
	"github.com/gofiber/fiber/v2"

	"github.com/railguard/railcomm-api/internal/config"
	"github.com/railguard/railcomm-api/internal/handler"
	"github.com/railguard/railcomm-api/internal/middleware"
	"github.com/railguard/railcomm-api/internal/models"
	"github.com/railguard/railcomm-api/internal/observability"
)

// Dependencies groups router dependencies for registration.
type Dependencies struct {
	RoomHandler   *handler.RoomHandler
	ChatHandler   *handler.ChatHandler
	JWTMiddleware fiber.Handler
}

// Register wires the HTTP routes into the fiber application.
func Register(app *fiber.App, cfg config.Config, deps Dependencies) {
	api := app.Group("/api/v1", func(c *fiber.Ctx) error {
		c.Set("X-Application", cfg.AppName)
		return c.Next()
	})
	api.Get("/health", handler.HealthCheck(cfg))
	app.Get("/metrics", observability.MetricsHandler())

	// Use provided JWT middleware, or a no-op if nil
	jwtMiddleware := deps.JWTMiddleware
	if jwtMiddleware == nil {
		jwtMiddleware = func(c *fiber.Ctx) error { return c.Next() }
	}

	participantOnly := middleware.RequireRole(models.RoleTrainDriver, models.RoleStationAdmin)

	if deps.RoomHandler != nil {
		rooms := api.Group("/rooms", jwtMiddleware, participantOnly)
		deps.RoomHandler.Register(rooms)
	}

	if deps.ChatHandler != nil {
		chat := api.Group("/chat", jwtMiddleware, participantOnly)
		chat.Use("/messages", middleware.RateLimit("chat_send", cfg.SendRateLimit, cfg.SendRateWindow))
		deps.ChatHandler.Register(chat)
	}
}
