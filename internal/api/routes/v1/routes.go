package v1

import (
	"log/slog"

	"event-canvas-backend/internal/config"
	"event-canvas-backend/internal/libraries"
	"event-canvas-backend/internal/metrics"
	"event-canvas-backend/internal/realtime"

	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"
)

// Dependencies is everything the routes need, built once in main.
type Dependencies struct {
	DB       *gorm.DB
	Hub      *realtime.Hub
	Metrics  *metrics.Metrics
	Images   libraries.ImageStore
	Settings config.Settings
	Logger   *slog.Logger
}

func RegisterRoutes(r fiber.Router, deps Dependencies) {
	registerHealth(r)
	registerEvents(r, deps)
	registerPaintings(r, deps)
}
