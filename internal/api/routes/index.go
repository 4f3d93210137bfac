package routes

import (
	"event-canvas-backend/internal/api/routes/v1"
	"event-canvas-backend/internal/libraries"

	"github.com/gofiber/fiber/v2"
)

func Register(app *fiber.App, deps v1.Dependencies) {
	// Realtime transport
	app.Get("/ws", libraries.WebSocketHandler(deps.Hub, deps.Metrics, deps.Settings.WSSendBuffer, deps.Logger))

	// API v1 group
	api := app.Group("/api")
	v1Group := api.Group("/v1")

	// Register v1 routes
	v1.RegisterRoutes(v1Group, deps)
}
