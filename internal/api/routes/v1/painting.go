package v1

import (
	"event-canvas-backend/internal/handlers"
	"event-canvas-backend/internal/preview"
	"event-canvas-backend/internal/repo"

	"github.com/gofiber/fiber/v2"
)

func registerPaintings(r fiber.Router, deps Dependencies) {
	// Initialize handler
	paintingHandler := handlers.NewPaintingHandler(
		repo.NewPaintingRepository(deps.DB),
		repo.NewEventRepository(deps.DB),
		repo.NewStrokeRepository(deps.DB),
		deps.Hub,
		deps.Metrics,
		preview.Options{
			Size:         deps.Settings.PreviewSize,
			CanvasWidth:  deps.Settings.CanvasWidth,
			CanvasHeight: deps.Settings.CanvasHeight,
		},
		deps.Settings.PreviewStrokeLimit,
	)

	// Register routes
	r.Get("/events/:eventId/paintings", paintingHandler.GetPaintingsByEvent)
	r.Post("/events/:eventId/paintings", paintingHandler.CreatePainting)
	r.Get("/paintings/:paintingId", paintingHandler.GetPaintingByID)
	r.Get("/paintings/:paintingId/strokes", paintingHandler.GetStrokes)
	r.Post("/paintings/:paintingId/strokes", paintingHandler.AppendStroke)
	r.Get("/paintings/:paintingId/preview.png", paintingHandler.GetPreview)
}
