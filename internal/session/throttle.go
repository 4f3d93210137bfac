package session

import (
	"time"

	"golang.org/x/time/rate"
)

// DefaultCursorRate is how many cursor publishes per second a session sends
// at most while the pointer moves.
const DefaultCursorRate rate.Limit = 30

// cursorThrottle decides which cursor moves are published. The first move
// after a pointer-down always passes, as does any change of the drawing
// flag. With bypassDrawing set, every move made while drawing passes too.
type cursorThrottle struct {
	limiter       *rate.Limiter
	now           func() time.Time
	bypassDrawing bool
	armed         bool
	drawing       bool
}

func newCursorThrottle(limit rate.Limit, now func() time.Time, bypassDrawing bool) *cursorThrottle {
	return &cursorThrottle{
		limiter:       rate.NewLimiter(limit, 1),
		now:           now,
		bypassDrawing: bypassDrawing,
	}
}

func (t *cursorThrottle) pointerDown() {
	t.armed = true
}

func (t *cursorThrottle) allow(isDrawing bool) bool {
	now := t.now()
	changed := isDrawing != t.drawing
	t.drawing = isDrawing
	if isDrawing && changed {
		t.armed = true
	}

	if t.armed || changed || (isDrawing && t.bypassDrawing) {
		t.armed = false
		// keep the limiter's clock in step so the next regular move is spaced
		t.limiter.AllowN(now, 1)
		return true
	}
	return t.limiter.AllowN(now, 1)
}
