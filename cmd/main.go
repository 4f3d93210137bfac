package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"os"

	"event-canvas-backend/internal/api"
	"event-canvas-backend/internal/api/routes"
	v1 "event-canvas-backend/internal/api/routes/v1"
	"event-canvas-backend/internal/config"
	"event-canvas-backend/internal/libraries"
	"event-canvas-backend/internal/metrics"
	"event-canvas-backend/internal/realtime"
)

func main() {
	// Load environment variables
	settings, err := config.Load()
	if err != nil {
		log.Fatal("Failed to load configuration:", err)
	}

	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	// Connect to database
	db, err := config.ConnectDB(settings)
	if err != nil {
		log.Fatal("Failed to connect to database:", err)
	}
	defer config.CloseDB(db)

	// Run migrations
	if err := config.MigrateAllModels(db, settings.RunMigrations); err != nil {
		log.Fatal("Failed to migrate database:", err)
	}

	// Event images are optional
	var images libraries.ImageStore
	gcs, err := libraries.NewGCSClient(context.Background(), settings.GCPCredentials, settings.ImageBucket)
	switch {
	case errors.Is(err, libraries.ErrStorageDisabled):
		log.Println("Warning: image storage not configured, event image upload disabled")
	case err != nil:
		log.Fatalf("failed to init gcp clients: %v", err)
	default:
		defer gcs.Close()
		images = gcs
	}

	m := metrics.New()
	hub := realtime.NewHub(logger, m)

	// Create and configure Fiber app
	app := api.NewServer(settings)

	// Register routes
	routes.Register(app, v1.Dependencies{
		DB:       db,
		Hub:      hub,
		Metrics:  m,
		Images:   images,
		Settings: settings,
		Logger:   logger,
	})

	// Start server
	if err := api.StartServer(app, settings.Port); err != nil {
		log.Fatal("Failed to start server:", err)
	}
}
