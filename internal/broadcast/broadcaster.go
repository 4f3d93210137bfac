// Package broadcast fans stroke events out to the other clients on a canvas
// channel: completed strokes, in-progress "ghost" snapshots, and the clear
// that ends a ghost. Delivery is fire-and-forget.
package broadcast

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"event-canvas-backend/internal/models"
	"event-canvas-backend/internal/realtime"

	"github.com/google/uuid"
)

const (
	EventStroke         = "stroke"
	EventStrokeProgress = "stroke_progress"
	EventStrokeClear    = "stroke_clear"
)

var ErrInvalidStroke = errors.New("broadcast: invalid stroke")

// Progress is a snapshot of a gesture that has not finished yet.
type Progress struct {
	CanvasID string         `json:"canvasId"`
	UserID   string         `json:"userId"`
	Points   []models.Point `json:"points"`
	Color    string         `json:"color"`
}

type clearPayload struct {
	UserID string `json:"userId"`
}

// NewStroke builds a completed stroke with a fresh identity.
func NewStroke(userID, userName, color string, points []models.Point, at time.Time) (models.Stroke, error) {
	s := models.Stroke{
		ID:        uuid.NewString(),
		Points:    append([]models.Point(nil), points...),
		Color:     color,
		UserID:    userID,
		UserName:  userName,
		Timestamp: at.UnixMilli(),
	}
	if err := s.Validate(); err != nil {
		return models.Stroke{}, fmt.Errorf("%w: %v", ErrInvalidStroke, err)
	}
	return s, nil
}

// Broadcaster sends and receives stroke events on one canvas channel.
type Broadcaster struct {
	ch       realtime.Channel
	canvasID string
	logger   *slog.Logger
}

func New(ch realtime.Channel, canvasID string, logger *slog.Logger) *Broadcaster {
	if logger == nil {
		logger = slog.Default()
	}
	return &Broadcaster{
		ch:       ch,
		canvasID: canvasID,
		logger:   logger.With("component", "broadcast", "canvas_id", canvasID),
	}
}

// BroadcastCompletedStroke sends s to every other subscriber and returns the
// stroke for local rendering. The sender never receives it back. A send
// failure still returns the stroke, together with the error.
func (b *Broadcaster) BroadcastCompletedStroke(s models.Stroke) (models.Stroke, error) {
	if err := s.Validate(); err != nil {
		return models.Stroke{}, fmt.Errorf("%w: %v", ErrInvalidStroke, err)
	}
	s = s.Clone()
	if err := b.send(EventStroke, s); err != nil {
		return s, err
	}
	return s, nil
}

// BroadcastInProgressStroke sends the points a user has drawn so far.
// Receivers replace any earlier ghost of that user with this one.
func (b *Broadcaster) BroadcastInProgressStroke(canvasID, userID string, points []models.Point, color string) error {
	if canvasID != b.canvasID {
		return fmt.Errorf("broadcast: canvas %q is not %q", canvasID, b.canvasID)
	}
	if userID == "" || len(points) == 0 {
		return ErrInvalidStroke
	}
	return b.send(EventStrokeProgress, Progress{
		CanvasID: canvasID,
		UserID:   userID,
		Points:   append([]models.Point(nil), points...),
		Color:    color,
	})
}

// ClearInProgressStroke tells receivers to drop the user's ghost.
func (b *Broadcaster) ClearInProgressStroke(userID string) error {
	return b.send(EventStrokeClear, clearPayload{UserID: userID})
}

func (b *Broadcaster) send(event string, v interface{}) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", event, err)
	}
	if err := b.ch.Send(event, payload); err != nil {
		return fmt.Errorf("send %s: %w", event, err)
	}
	return nil
}

// OnCompletedStroke registers fn for completed strokes from peers. Payloads
// that are malformed, or that claim an author other than the sender, are
// dropped.
func (b *Broadcaster) OnCompletedStroke(fn func(models.Stroke)) {
	b.ch.OnBroadcast(EventStroke, func(m realtime.Broadcast) {
		var s models.Stroke
		if err := json.Unmarshal(m.Payload, &s); err != nil {
			b.drop(m, err)
			return
		}
		if err := s.Validate(); err != nil {
			b.drop(m, err)
			return
		}
		if s.UserID != m.Sender {
			b.drop(m, fmt.Errorf("author %q is not sender", s.UserID))
			return
		}
		fn(s)
	})
}

// OnInProgressStroke registers fn for ghost snapshots from peers.
func (b *Broadcaster) OnInProgressStroke(fn func(Progress)) {
	b.ch.OnBroadcast(EventStrokeProgress, func(m realtime.Broadcast) {
		var p Progress
		if err := json.Unmarshal(m.Payload, &p); err != nil {
			b.drop(m, err)
			return
		}
		switch {
		case p.UserID == "" || p.UserID != m.Sender:
			b.drop(m, fmt.Errorf("author %q is not sender", p.UserID))
			return
		case p.CanvasID != b.canvasID:
			b.drop(m, fmt.Errorf("canvas %q", p.CanvasID))
			return
		case len(p.Points) == 0:
			b.drop(m, errors.New("no points"))
			return
		}
		for _, pt := range p.Points {
			if !pt.Finite() {
				b.drop(m, errors.New("point is not finite"))
				return
			}
		}
		fn(p)
	})
}

// OnClear registers fn for ghost clears from peers.
func (b *Broadcaster) OnClear(fn func(userID string)) {
	b.ch.OnBroadcast(EventStrokeClear, func(m realtime.Broadcast) {
		var c clearPayload
		if err := json.Unmarshal(m.Payload, &c); err != nil {
			b.drop(m, err)
			return
		}
		if c.UserID == "" || c.UserID != m.Sender {
			b.drop(m, fmt.Errorf("author %q is not sender", c.UserID))
			return
		}
		fn(c.UserID)
	})
}

func (b *Broadcaster) drop(m realtime.Broadcast, err error) {
	b.logger.Debug("dropping malformed broadcast", "event", m.Event, "sender", m.Sender, "error", err)
}
