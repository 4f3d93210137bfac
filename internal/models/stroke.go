package models

import (
	"encoding/json"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

// Point is a canvas-space coordinate, already scaled to the canvas'
// internal resolution.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// OffCanvas is the cursor sentinel for a participant whose pointer is not
// over the canvas.
var OffCanvas = Point{X: -1, Y: -1}

// OnCanvas reports whether p is a real cursor position.
func (p Point) OnCanvas() bool {
	return p != OffCanvas
}

// Finite reports whether both coordinates are finite numbers.
func (p Point) Finite() bool {
	return !math.IsNaN(p.X) && !math.IsInf(p.X, 0) && !math.IsNaN(p.Y) && !math.IsInf(p.Y, 0)
}

// Distance returns the euclidean distance between p and q.
func (p Point) Distance(q Point) float64 {
	return math.Hypot(p.X-q.X, p.Y-q.Y)
}

// MinStrokePoints is the smallest number of points a completed stroke may have.
const MinStrokePoints = 2

// Stroke is one completed freehand gesture. It is immutable once completed;
// ID is assigned by the author and is the identity used for deduplication.
type Stroke struct {
	ID        string  `json:"id"`
	Points    []Point `json:"points"`
	Color     string  `json:"color"`
	UserID    string  `json:"userId"`
	UserName  string  `json:"userName"`
	Timestamp int64   `json:"timestamp"`
}

// Validate checks the invariants every stroke must satisfy before it is
// rendered, stored or broadcast.
func (s Stroke) Validate() error {
	if s.ID == "" {
		return fmt.Errorf("stroke id is required")
	}
	if s.UserID == "" {
		return fmt.Errorf("stroke %s: user id is required", s.ID)
	}
	if len(s.Points) < MinStrokePoints {
		return fmt.Errorf("stroke %s: needs at least %d points, got %d", s.ID, MinStrokePoints, len(s.Points))
	}
	for i, p := range s.Points {
		if !p.Finite() {
			return fmt.Errorf("stroke %s: point %d is not finite", s.ID, i)
		}
	}
	return nil
}

// Clone returns a deep copy so callers can never alias a stroke's points.
func (s Stroke) Clone() Stroke {
	s.Points = append([]Point(nil), s.Points...)
	return s
}

// CanvasStroke is the durable row for a completed stroke.
type CanvasStroke struct {
	UUID       uuid.UUID      `gorm:"primarykey" json:"uuid"`
	PaintingID uuid.UUID      `gorm:"not null;index:idx_canvas_strokes_painting_created" json:"painting_id"`
	UserID     string         `gorm:"not null" json:"user_id"`
	UserName   string         `json:"user_name"`
	Color      string         `gorm:"not null" json:"color"`
	Points     datatypes.JSON `gorm:"not null" json:"points"`
	Timestamp  int64          `json:"timestamp"`
	CreatedAt  time.Time      `gorm:"index:idx_canvas_strokes_painting_created" json:"created_at"`
}

func (CanvasStroke) TableName() string {
	return "canvas_strokes"
}

// NewCanvasStroke converts a stroke into its durable row for a painting.
func NewCanvasStroke(paintingID uuid.UUID, s Stroke) (*CanvasStroke, error) {
	id, err := uuid.Parse(s.ID)
	if err != nil {
		return nil, fmt.Errorf("parse stroke id: %w", err)
	}
	points, err := json.Marshal(s.Points)
	if err != nil {
		return nil, fmt.Errorf("marshal points: %w", err)
	}
	return &CanvasStroke{
		UUID:       id,
		PaintingID: paintingID,
		UserID:     s.UserID,
		UserName:   s.UserName,
		Color:      s.Color,
		Points:     datatypes.JSON(points),
		Timestamp:  s.Timestamp,
	}, nil
}

// Stroke converts the row back into the public stroke shape.
func (c CanvasStroke) Stroke() (Stroke, error) {
	var points []Point
	if err := json.Unmarshal(c.Points, &points); err != nil {
		return Stroke{}, fmt.Errorf("unmarshal points for stroke %s: %w", c.UUID, err)
	}
	userName := c.UserName
	if userName == "" {
		userName = "Anonymous"
	}
	return Stroke{
		ID:        c.UUID.String(),
		Points:    points,
		Color:     c.Color,
		UserID:    c.UserID,
		UserName:  userName,
		Timestamp: c.Timestamp,
	}, nil
}
