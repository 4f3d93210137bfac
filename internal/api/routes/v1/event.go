package v1

import (
	"event-canvas-backend/internal/handlers"
	"event-canvas-backend/internal/repo"

	"github.com/gofiber/fiber/v2"
)

func registerEvents(r fiber.Router, deps Dependencies) {
	// Initialize handler
	eventRepo := repo.NewEventRepository(deps.DB)
	eventHandler := handlers.NewEventHandler(eventRepo, deps.Images, deps.Settings.MaxImageSize)

	// Register routes
	r.Get("/events", eventHandler.GetAllEvents)
	r.Post("/events", eventHandler.CreateEvent)
	r.Get("/events/:eventId", eventHandler.GetEventByID)
	r.Post("/events/:eventId/image", eventHandler.UploadEventImage)
}
