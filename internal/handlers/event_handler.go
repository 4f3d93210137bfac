package handlers

import (
	"errors"
	"fmt"
	"log"
	"path/filepath"
	"strings"
	"time"

	"event-canvas-backend/internal/libraries"
	"event-canvas-backend/internal/models"
	"event-canvas-backend/internal/repo"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
)

// for simple crud operations service layer is not required
type EventHandler struct {
	repo         repo.EventRepoInterface
	images       libraries.ImageStore
	maxImageSize int64
}

// NewEventHandler wires the event routes. images may be nil, which disables
// image upload.
func NewEventHandler(repo repo.EventRepoInterface, images libraries.ImageStore, maxImageSize int64) *EventHandler {
	return &EventHandler{
		repo:         repo,
		images:       images,
		maxImageSize: maxImageSize,
	}
}

// parseDate accepts a plain calendar date or a full RFC 3339 timestamp.
func parseDate(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if t, err := time.Parse("2006-01-02", s); err == nil {
		return t, nil
	}
	return time.Parse(time.RFC3339, s)
}

// function to create an event
func (h *EventHandler) CreateEvent(c *fiber.Ctx) error {
	var dto struct {
		Name string `json:"name"`
		Date string `json:"date"`
	}
	if err := c.BodyParser(&dto); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}

	name := strings.TrimSpace(dto.Name)
	if name == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Event name is required",
		})
	}
	date, err := parseDate(dto.Date)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid event date",
		})
	}

	event := &models.Event{Name: name, Date: date}
	id, err := h.repo.CreateEvent(c.UserContext(), event)
	if err != nil {
		log.Println(err, "Error creating event")
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to create event",
		})
	}

	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"uuid":    id.String(),
		"event":   event,
		"message": "Event created successfully",
	})
}

// function to get all events
func (h *EventHandler) GetAllEvents(c *fiber.Ctx) error {
	events, err := h.repo.GetAllEvents(c.UserContext())
	if err != nil {
		log.Println(err, "Error getting events")
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to get events",
		})
	}
	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"events": events,
	})
}

// function to get event by ID
func (h *EventHandler) GetEventByID(c *fiber.Ctx) error {
	eventID, err := uuid.Parse(c.Params("eventId"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid event ID",
		})
	}

	event, err := h.repo.GetEvent(c.UserContext(), eventID)
	if errors.Is(err, repo.ErrNotFound) {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "Event not found",
		})
	}
	if err != nil {
		log.Println(err, "Error getting event")
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to get event",
		})
	}

	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"event": event,
	})
}

// function to attach an image to an event
func (h *EventHandler) UploadEventImage(c *fiber.Ctx) error {
	if h.images == nil {
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
			"error": "Image upload is not configured",
		})
	}

	eventID, err := uuid.Parse(c.Params("eventId"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid event ID",
		})
	}

	file, err := c.FormFile("image")
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "No image provided",
		})
	}
	if h.maxImageSize > 0 && file.Size > h.maxImageSize {
		return c.Status(fiber.StatusRequestEntityTooLarge).JSON(fiber.Map{
			"error": "Image is too large",
		})
	}
	contentType := file.Header.Get("Content-Type")
	if !strings.HasPrefix(contentType, "image/") {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "File must be an image",
		})
	}

	if _, err := h.repo.GetEvent(c.UserContext(), eventID); err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
				"error": "Event not found",
			})
		}
		log.Println(err, "Error getting event")
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to get event",
		})
	}

	src, err := file.Open()
	if err != nil {
		log.Println(err, "Error opening uploaded image")
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid image",
		})
	}
	defer src.Close()

	name := fmt.Sprintf("events/%s/%s%s", eventID, uuid.NewString(), strings.ToLower(filepath.Ext(file.Filename)))
	url, err := h.images.Upload(c.UserContext(), name, contentType, src)
	if err != nil {
		log.Println(err, "Error uploading image")
		return c.Status(fiber.StatusBadGateway).JSON(fiber.Map{
			"error": "Failed to upload image",
		})
	}

	if err := h.repo.SetEventImage(c.UserContext(), eventID, url); err != nil {
		log.Println(err, "Error saving image url")
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to save image",
		})
	}

	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"image_url": url,
		"message":   "Image uploaded successfully",
	})
}
