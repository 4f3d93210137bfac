package handlers

import (
	"bytes"
	"encoding/json"
	"errors"
	"log"
	"strings"

	"event-canvas-backend/internal/metrics"
	"event-canvas-backend/internal/models"
	"event-canvas-backend/internal/preview"
	"event-canvas-backend/internal/realtime"
	"event-canvas-backend/internal/repo"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
)

// EventPaintingCreated is announced on an event's topic when a painting is added.
const EventPaintingCreated = "painting_created"

type PaintingHandler struct {
	paintings    repo.PaintingRepoInterface
	events       repo.EventRepoInterface
	strokes      repo.StrokeRepoInterface
	hub          *realtime.Hub
	metrics      *metrics.Metrics
	preview      preview.Options
	previewLimit int
}

func NewPaintingHandler(
	paintings repo.PaintingRepoInterface,
	events repo.EventRepoInterface,
	strokes repo.StrokeRepoInterface,
	hub *realtime.Hub,
	m *metrics.Metrics,
	previewOpts preview.Options,
	previewLimit int,
) *PaintingHandler {
	d := preview.DefaultOptions()
	if previewOpts.CanvasWidth <= 0 {
		previewOpts.CanvasWidth = d.CanvasWidth
	}
	if previewOpts.CanvasHeight <= 0 {
		previewOpts.CanvasHeight = d.CanvasHeight
	}
	return &PaintingHandler{
		paintings:    paintings,
		events:       events,
		strokes:      strokes,
		hub:          hub,
		metrics:      m,
		preview:      previewOpts,
		previewLimit: previewLimit,
	}
}

// paintingView is a painting plus how many people are on it right now.
type paintingView struct {
	models.Painting
	Participants int `json:"participants"`
}

func (h *PaintingHandler) view(p models.Painting) paintingView {
	count := 0
	if h.hub != nil {
		count = h.hub.PresenceCount(p.Topic())
	}
	return paintingView{Painting: p, Participants: count}
}

// function to create a painting inside an event
func (h *PaintingHandler) CreatePainting(c *fiber.Ctx) error {
	eventID, err := uuid.Parse(c.Params("eventId"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid event ID",
		})
	}

	var dto struct {
		Title     string  `json:"title"`
		PositionX float64 `json:"position_x"`
		PositionY float64 `json:"position_y"`
		Width     float64 `json:"width"`
		Height    float64 `json:"height"`
		CreatedBy string  `json:"created_by"`
	}
	if err := c.BodyParser(&dto); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}

	if _, err := h.events.GetEvent(c.UserContext(), eventID); err != nil {
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

	painting := &models.Painting{
		EventID:   eventID,
		Title:     strings.TrimSpace(dto.Title),
		PositionX: dto.PositionX,
		PositionY: dto.PositionY,
		Width:     dto.Width,
		Height:    dto.Height,
		CreatedBy: dto.CreatedBy,
	}
	if painting.Title == "" {
		painting.Title = "Untitled"
	}
	if painting.Width <= 0 {
		painting.Width = float64(h.preview.CanvasWidth)
	}
	if painting.Height <= 0 {
		painting.Height = float64(h.preview.CanvasHeight)
	}

	id, err := h.paintings.CreatePainting(c.UserContext(), painting)
	if err != nil {
		log.Println(err, "Error creating painting")
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to create painting",
		})
	}

	if h.hub != nil {
		if payload, err := json.Marshal(painting); err == nil {
			h.hub.Publish(models.EventTopic(eventID.String()), EventPaintingCreated, payload)
		}
	}

	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"uuid":     id.String(),
		"painting": h.view(*painting),
		"message":  "Painting created successfully",
	})
}

// function to list an event's paintings
func (h *PaintingHandler) GetPaintingsByEvent(c *fiber.Ctx) error {
	eventID, err := uuid.Parse(c.Params("eventId"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid event ID",
		})
	}

	paintings, err := h.paintings.GetPaintingsByEvent(c.UserContext(), eventID)
	if err != nil {
		log.Println(err, "Error getting paintings")
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to get paintings",
		})
	}

	views := make([]paintingView, 0, len(paintings))
	for _, p := range paintings {
		views = append(views, h.view(p))
	}
	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"paintings": views,
	})
}

// lookup resolves the :paintingId param, writing the error response itself
// when it returns false.
func (h *PaintingHandler) lookup(c *fiber.Ctx) (*models.Painting, bool, error) {
	paintingID, err := uuid.Parse(c.Params("paintingId"))
	if err != nil {
		return nil, false, c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid painting ID",
		})
	}
	painting, err := h.paintings.GetPainting(c.UserContext(), paintingID)
	if errors.Is(err, repo.ErrNotFound) {
		return nil, false, c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "Painting not found",
		})
	}
	if err != nil {
		log.Println(err, "Error getting painting")
		return nil, false, c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to get painting",
		})
	}
	return painting, true, nil
}

// function to get painting by ID
func (h *PaintingHandler) GetPaintingByID(c *fiber.Ctx) error {
	painting, ok, err := h.lookup(c)
	if !ok {
		return err
	}
	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"painting": h.view(*painting),
	})
}

// function to load every stroke of a painting in insertion order
func (h *PaintingHandler) GetStrokes(c *fiber.Ctx) error {
	painting, ok, err := h.lookup(c)
	if !ok {
		return err
	}

	strokes, err := h.strokes.LoadAll(c.UserContext(), painting.UUID.String())
	if err != nil {
		log.Println(err, "Error loading strokes")
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to load strokes",
		})
	}
	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"strokes": strokes,
	})
}

// function to append one completed stroke
func (h *PaintingHandler) AppendStroke(c *fiber.Ctx) error {
	var stroke models.Stroke
	if err := c.BodyParser(&stroke); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}
	if err := stroke.Validate(); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": err.Error(),
		})
	}
	if _, err := uuid.Parse(stroke.ID); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Stroke id must be a uuid",
		})
	}

	painting, ok, err := h.lookup(c)
	if !ok {
		return err
	}

	err = h.strokes.Append(c.UserContext(), painting.UUID.String(), stroke)
	h.metrics.RecordAppend(err)
	if err != nil {
		log.Println(err, "Error appending stroke")
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to save stroke",
		})
	}

	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"id":      stroke.ID,
		"message": "Stroke saved successfully",
	})
}

// function to render a painting's thumbnail
func (h *PaintingHandler) GetPreview(c *fiber.Ctx) error {
	painting, ok, err := h.lookup(c)
	if !ok {
		return err
	}

	strokes, err := h.strokes.LoadPreview(c.UserContext(), painting.UUID.String(), h.previewLimit)
	if err != nil {
		log.Println(err, "Error loading preview strokes")
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to load strokes",
		})
	}

	var buf bytes.Buffer
	if err := preview.Encode(&buf, strokes, h.preview); err != nil {
		log.Println(err, "Error encoding preview")
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to render preview",
		})
	}

	c.Set(fiber.HeaderCacheControl, "no-cache")
	c.Type("png")
	return c.Status(fiber.StatusOK).Send(buf.Bytes())
}
