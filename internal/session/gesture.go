package session

import (
	"errors"

	"event-canvas-backend/internal/models"
)

var ErrInvalidPoint = errors.New("session: point is not finite")

// BeginStroke starts a gesture at p (pointer-down). The cursor is published
// immediately with the drawing flag set. A gesture that was still open is
// finished first.
func (c *Controller) BeginStroke(p models.Point) error {
	if !p.Finite() {
		return ErrInvalidPoint
	}
	c.mu.Lock()
	open := c.drawing
	c.mu.Unlock()
	if open {
		if _, err := c.EndStroke(); err != nil {
			return err
		}
	}

	c.mu.Lock()
	if c.state == StateClosed {
		c.mu.Unlock()
		return ErrClosed
	}
	c.drawing = true
	c.gesture = []models.Point{p}
	c.throttle.pointerDown()
	c.mu.Unlock()
	c.notify()

	return c.MoveCursor(p.X, p.Y, true)
}

// ExtendStroke adds a pointer sample to the open gesture. Samples within
// MinPointDistance of the previous point are ignored. Peers receive the
// gesture so far as a ghost, at most CursorRate times a second.
func (c *Controller) ExtendStroke(p models.Point) error {
	c.mu.Lock()
	if c.state == StateClosed {
		c.mu.Unlock()
		return ErrClosed
	}
	if !c.drawing || !p.Finite() {
		c.mu.Unlock()
		return nil
	}
	if p.Distance(c.gesture[len(c.gesture)-1]) <= c.cfg.MinPointDistance {
		c.mu.Unlock()
		return nil
	}
	c.gesture = append(c.gesture, p)
	var points []models.Point
	if c.cfg.BypassThrottleWhileDrawing || c.ghostLimiter.AllowN(c.cfg.Now(), 1) {
		points = append([]models.Point(nil), c.gesture...)
	}
	color := c.self.Color
	c.mu.Unlock()
	c.notify()

	if points != nil {
		if err := c.bc.BroadcastInProgressStroke(c.cfg.CanvasID, c.cfg.UserID, points, color); err != nil {
			c.logger.Debug("broadcast ghost", "error", err)
		}
	}
	return c.MoveCursor(p.X, p.Y, true)
}

// EndStroke finishes the open gesture (pointer-up). With enough points the
// stroke is completed; otherwise it is discarded and nil is returned. The
// ghost is always cleared.
func (c *Controller) EndStroke() (*models.Stroke, error) {
	c.mu.Lock()
	if c.state == StateClosed {
		c.mu.Unlock()
		return nil, ErrClosed
	}
	if !c.drawing {
		c.mu.Unlock()
		return nil, nil
	}
	points := c.gesture
	c.gesture = nil
	c.drawing = false
	var (
		out *models.Stroke
		err error
	)
	if len(points) >= models.MinStrokePoints {
		var s models.Stroke
		if s, err = c.completeLocked(points); err == nil {
			out = &s
		}
	}
	c.mu.Unlock()
	c.notify()

	if out != nil {
		c.publishStroke(*out)
	}
	if clearErr := c.bc.ClearInProgressStroke(c.cfg.UserID); clearErr != nil {
		c.logger.Debug("clear ghost", "error", clearErr)
	}
	if err != nil {
		return nil, err
	}
	last := points[len(points)-1]
	return out, c.MoveCursor(last.X, last.Y, false)
}

// CancelStroke handles pointer-leave and pointer-cancel, which finish a
// gesture exactly like pointer-up.
func (c *Controller) CancelStroke() (*models.Stroke, error) {
	return c.EndStroke()
}
