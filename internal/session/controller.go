// Package session composes presence, stroke broadcast and the stroke store
// into one live view of a canvas: who is here, where their cursors are, what
// they are drawing right now, and every completed stroke.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"event-canvas-backend/internal/broadcast"
	"event-canvas-backend/internal/models"
	"event-canvas-backend/internal/presence"
	"event-canvas-backend/internal/realtime"

	"github.com/cenkalti/backoff/v5"
	"golang.org/x/time/rate"
)

var (
	ErrClosed         = errors.New("session: closed")
	ErrAlreadyJoined  = errors.New("session: already joined")
	ErrStrokeTooShort = fmt.Errorf("session: a stroke needs at least %d points", models.MinStrokePoints)
)

// State is the lifecycle position of a Controller.
type State int

const (
	StateIdle State = iota
	StateConnecting
	StateHydrating
	StateLive
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateHydrating:
		return "hydrating"
	case StateLive:
		return "live"
	case StateClosed:
		return "closed"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// StrokeStore is the durable stroke log a session hydrates from and appends to.
type StrokeStore interface {
	Append(ctx context.Context, canvasID string, stroke models.Stroke) error
	LoadAll(ctx context.Context, canvasID string) ([]models.Stroke, error)
}

const (
	DefaultMinPointDistance = 2.0
	DefaultAppendAttempts   = 3
)

type Config struct {
	CanvasID string
	UserID   string
	UserName string
	// Color defaults to the deterministic colour of UserID.
	Color string

	// CursorRate bounds cursor publishes and in-progress stroke snapshots.
	CursorRate rate.Limit
	// BypassThrottleWhileDrawing sends every drawing move and snapshot.
	BypassThrottleWhileDrawing bool
	// MinPointDistance drops gesture samples within this distance of the
	// previous accepted point.
	MinPointDistance float64

	AppendAttempts int
	AppendBackoff  time.Duration
	AppendTimeout  time.Duration
	LoadTimeout    time.Duration

	Now func() time.Time
}

func (c Config) withDefaults() Config {
	c.UserName = models.DisplayName(c.UserID, c.UserName)
	if c.Color == "" {
		c.Color = models.ColorFor(c.UserID)
	}
	if c.CursorRate == 0 {
		c.CursorRate = DefaultCursorRate
	}
	if c.MinPointDistance <= 0 {
		c.MinPointDistance = DefaultMinPointDistance
	}
	if c.AppendAttempts <= 0 {
		c.AppendAttempts = DefaultAppendAttempts
	}
	if c.AppendBackoff <= 0 {
		c.AppendBackoff = 250 * time.Millisecond
	}
	if c.AppendTimeout <= 0 {
		c.AppendTimeout = 10 * time.Second
	}
	if c.LoadTimeout <= 0 {
		c.LoadTimeout = 30 * time.Second
	}
	if c.Now == nil {
		c.Now = time.Now
	}
	return c
}

// Ghost is a peer's unfinished gesture.
type Ghost struct {
	Points []models.Point `json:"points"`
	Color  string         `json:"color"`
}

// Snapshot is a read-only copy of a session's state for rendering.
type Snapshot struct {
	State        State                         `json:"-"`
	Self         models.Participant            `json:"self"`
	Strokes      []models.Stroke               `json:"strokes"`
	Participants map[string]models.Participant `json:"participants"`
	Ghosts       map[string]Ghost              `json:"ghosts"`
	// Gesture holds the local user's points of a stroke still being drawn.
	Gesture []models.Point `json:"gesture,omitempty"`
}

// Controller is one client's live session on one canvas. All state is owned
// by the controller; channel callbacks and commands are serialised on mu.
type Controller struct {
	cfg      Config
	store    StrokeStore
	registry *presence.Registry
	bc       *broadcast.Broadcaster
	logger   *slog.Logger
	changed  chan struct{}
	appends  sync.WaitGroup

	ctx    context.Context
	cancel context.CancelFunc

	mu       sync.Mutex
	state    State
	gen      uint64
	pending  []event
	strokes  []models.Stroke
	seen     map[string]struct{}
	peers    presence.Peers
	ghosts   map[string]Ghost
	self     models.PresenceInfo
	throttle *cursorThrottle
	gesture  []models.Point
	drawing  bool
	stopCtx  func() bool

	ghostLimiter *rate.Limiter
	appendQueue  []models.Stroke
	appending    bool
}

// NewController builds a session for cfg.UserID on ch, whose presence key
// must be that user id.
func NewController(cfg Config, ch realtime.Channel, store StrokeStore, logger *slog.Logger) (*Controller, error) {
	if cfg.CanvasID == "" {
		return nil, errors.New("session: canvas id is required")
	}
	if cfg.UserID == "" {
		return nil, errors.New("session: user id is required")
	}
	if ch.Key() != cfg.UserID {
		return nil, fmt.Errorf("session: channel key %q does not match user %q", ch.Key(), cfg.UserID)
	}
	if store == nil {
		return nil, errors.New("session: stroke store is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	cfg = cfg.withDefaults()

	ctx, cancel := context.WithCancel(context.Background())
	c := &Controller{
		cfg:      cfg,
		store:    store,
		registry: presence.New(ch, logger),
		bc:       broadcast.New(ch, cfg.CanvasID, logger),
		logger:   logger.With("component", "session", "canvas_id", cfg.CanvasID, "user_id", cfg.UserID),
		changed:  make(chan struct{}, 1),
		ctx:      ctx,
		cancel:   cancel,
		seen:     make(map[string]struct{}),
		peers:    make(presence.Peers),
		ghosts:   make(map[string]Ghost),
		self: models.PresenceInfo{
			UserName: cfg.UserName,
			Color:    cfg.Color,
			Cursor:   models.OffCanvas,
		},
		throttle: newCursorThrottle(cfg.CursorRate, cfg.Now, cfg.BypassThrottleWhileDrawing),

		ghostLimiter: rate.NewLimiter(cfg.CursorRate, 1),
	}

	c.registry.OnStatus(c.handleStatus)
	c.registry.OnSync(func(p presence.Peers) { c.deliver(syncEvent{peers: p}) })
	c.registry.OnJoin(func(userID string, info models.PresenceInfo) { c.deliver(joinEvent{userID: userID, info: info}) })
	c.registry.OnLeave(func(userID string, _ models.PresenceInfo) { c.deliver(leaveEvent{userID: userID}) })
	c.bc.OnCompletedStroke(func(s models.Stroke) { c.deliver(strokeEvent{stroke: s}) })
	c.bc.OnInProgressStroke(func(p broadcast.Progress) { c.deliver(ghostEvent{progress: p}) })
	c.bc.OnClear(func(userID string) { c.deliver(clearEvent{userID: userID}) })
	return c, nil
}

// Join subscribes to the canvas. The session closes itself when ctx ends.
func (c *Controller) Join(ctx context.Context) error {
	c.mu.Lock()
	switch c.state {
	case StateClosed:
		c.mu.Unlock()
		return ErrClosed
	case StateIdle:
	default:
		c.mu.Unlock()
		return ErrAlreadyJoined
	}
	c.state = StateConnecting
	self := c.self
	c.stopCtx = context.AfterFunc(ctx, func() { _ = c.Close() })
	c.mu.Unlock()
	c.notify()

	if err := c.registry.Join(self); err != nil {
		return fmt.Errorf("join canvas %s: %w", c.cfg.CanvasID, err)
	}
	c.logger.Info("joining canvas")
	return nil
}

// Close leaves the canvas. An unfinished gesture is discarded: it is neither
// stored nor broadcast as a completed stroke. Appends already in flight are
// not awaited.
func (c *Controller) Close() error {
	c.mu.Lock()
	if c.state == StateClosed {
		c.mu.Unlock()
		return nil
	}
	joined := c.state != StateIdle
	hadGesture := c.drawing
	c.state = StateClosed
	c.gen++
	c.pending = nil
	c.gesture = nil
	c.drawing = false
	c.strokes = nil
	c.seen = make(map[string]struct{})
	c.peers = make(presence.Peers)
	c.ghosts = make(map[string]Ghost)
	stop := c.stopCtx
	c.mu.Unlock()

	c.cancel()
	if stop != nil {
		stop()
	}
	defer c.notify()
	if !joined {
		return nil
	}
	if hadGesture {
		if err := c.bc.ClearInProgressStroke(c.cfg.UserID); err != nil {
			c.logger.Debug("clear ghost on close", "error", err)
		}
	}
	c.logger.Info("left canvas")
	return c.registry.Leave()
}

// State returns the current lifecycle state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Changed delivers a value after state changes. Notifications coalesce;
// readers should take a Snapshot after each one.
func (c *Controller) Changed() <-chan struct{} {
	return c.changed
}

func (c *Controller) notify() {
	select {
	case c.changed <- struct{}{}:
	default:
	}
}

// Snapshot returns a copy of the session state.
func (c *Controller) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()

	byAuthor := make(map[string][]models.Stroke)
	strokes := make([]models.Stroke, len(c.strokes))
	for i, s := range c.strokes {
		strokes[i] = s.Clone()
		byAuthor[s.UserID] = append(byAuthor[s.UserID], strokes[i])
	}
	participants := make(map[string]models.Participant, len(c.peers))
	for userID, info := range c.peers {
		participants[userID] = models.Participant{UserID: userID, PresenceInfo: info, Strokes: byAuthor[userID]}
	}
	ghosts := make(map[string]Ghost, len(c.ghosts))
	for userID, g := range c.ghosts {
		ghosts[userID] = Ghost{Points: append([]models.Point(nil), g.Points...), Color: g.Color}
	}
	return Snapshot{
		State:        c.state,
		Self:         models.Participant{UserID: c.cfg.UserID, PresenceInfo: c.self, Strokes: byAuthor[c.cfg.UserID]},
		Strokes:      strokes,
		Participants: participants,
		Ghosts:       ghosts,
		Gesture:      append([]models.Point(nil), c.gesture...),
	}
}

// MoveCursor records the local cursor and publishes it, subject to the
// cursor throttle.
func (c *Controller) MoveCursor(x, y float64, isDrawing bool) error {
	c.mu.Lock()
	if c.state == StateClosed {
		c.mu.Unlock()
		return ErrClosed
	}
	c.self.Cursor = models.Point{X: x, Y: y}
	c.self.IsDrawing = isDrawing
	info := c.self
	allow := c.throttle.allow(isDrawing)
	c.mu.Unlock()

	if !allow {
		return nil
	}
	c.notify()
	if err := c.registry.Publish(info); err != nil {
		c.logger.Debug("publish cursor", "error", err)
	}
	return nil
}

// CompleteStroke finishes a stroke from points. The stroke is applied
// locally first, then queued for the store and broadcast to peers. Neither
// failure is fatal.
func (c *Controller) CompleteStroke(points []models.Point) (models.Stroke, error) {
	c.mu.Lock()
	if c.state == StateClosed {
		c.mu.Unlock()
		return models.Stroke{}, ErrClosed
	}
	stroke, err := c.completeLocked(points)
	c.mu.Unlock()
	if err != nil {
		return models.Stroke{}, err
	}
	c.notify()
	c.publishStroke(stroke)
	return stroke, nil
}

// completeLocked builds the stroke, applies it and queues its append, all in
// one critical section so local order and store order agree.
func (c *Controller) completeLocked(points []models.Point) (models.Stroke, error) {
	if len(points) < models.MinStrokePoints {
		return models.Stroke{}, ErrStrokeTooShort
	}
	stroke, err := broadcast.NewStroke(c.cfg.UserID, c.cfg.UserName, c.self.Color, points, c.cfg.Now())
	if err != nil {
		return models.Stroke{}, err
	}
	c.addStrokeLocked(stroke)
	c.enqueueAppendLocked(stroke)
	return stroke, nil
}

func (c *Controller) publishStroke(s models.Stroke) {
	if _, err := c.bc.BroadcastCompletedStroke(s); err != nil {
		c.logger.Warn("broadcast stroke", "stroke_id", s.ID, "error", err)
	}
}

// enqueueAppendLocked adds s to the append queue. A single worker drains the
// queue in order and retries the head before moving on, so one author's
// strokes reach the store in completion order.
func (c *Controller) enqueueAppendLocked(s models.Stroke) {
	c.appends.Add(1)
	c.appendQueue = append(c.appendQueue, s)
	if c.appending {
		return
	}
	c.appending = true
	go c.drainAppends()
}

func (c *Controller) drainAppends() {
	for {
		c.mu.Lock()
		if len(c.appendQueue) == 0 {
			c.appending = false
			c.mu.Unlock()
			return
		}
		s := c.appendQueue[0]
		c.appendQueue[0] = models.Stroke{}
		c.appendQueue = c.appendQueue[1:]
		c.mu.Unlock()

		c.persist(s)
		c.appends.Done()
	}
}

// persist appends one stroke, retrying with backoff. Close does not cancel
// it.
func (c *Controller) persist(s models.Stroke) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(c.ctx), c.cfg.AppendTimeout)
	defer cancel()

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.cfg.AppendBackoff
	b.MaxInterval = 8 * c.cfg.AppendBackoff
	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		return struct{}{}, c.store.Append(ctx, c.cfg.CanvasID, s)
	}, backoff.WithBackOff(b), backoff.WithMaxTries(uint(c.cfg.AppendAttempts)))
	if err != nil {
		c.logger.Warn("stroke not persisted, it will be missing after reload", "stroke_id", s.ID, "error", err)
		return
	}
	c.logger.Debug("stroke persisted", "stroke_id", s.ID)
}

// WaitForAppends blocks until the append queue has drained.
func (c *Controller) WaitForAppends(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		c.appends.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Controller) handleStatus(s realtime.Status) {
	c.mu.Lock()
	if c.state == StateClosed || c.state == StateIdle {
		c.mu.Unlock()
		return
	}
	switch s {
	case realtime.StatusSubscribed:
		c.state = StateHydrating
		c.gen++
		gen := c.gen
		c.mu.Unlock()
		c.notify()
		go c.hydrate(gen)
		return
	case realtime.StatusChannelError:
		c.state = StateConnecting
		c.gen++
		c.ghosts = make(map[string]Ghost)
		c.mu.Unlock()
		c.logger.Warn("canvas channel interrupted, waiting to resubscribe")
		c.notify()
		return
	}
	c.mu.Unlock()
}

func (c *Controller) hydrate(gen uint64) {
	ctx, cancel := context.WithTimeout(c.ctx, c.cfg.LoadTimeout)
	defer cancel()

	loaded, err := c.store.LoadAll(ctx, c.cfg.CanvasID)
	if err != nil {
		c.logger.Warn("hydration failed, continuing with what is already on screen", "error", err)
		loaded = nil
	}

	c.mu.Lock()
	if c.state == StateClosed || gen != c.gen {
		c.mu.Unlock()
		return
	}
	c.mergeLocked(loaded)
	c.state = StateLive
	pending := c.pending
	c.pending = nil
	for _, ev := range pending {
		ev.apply(c)
	}
	count := len(c.strokes)
	c.mu.Unlock()

	c.logger.Info("canvas live", "strokes", count, "buffered_events", len(pending))
	c.notify()
}

// mergeLocked puts the stored strokes first, in store order, followed by any
// local strokes the store does not have yet.
func (c *Controller) mergeLocked(loaded []models.Stroke) {
	next := make([]models.Stroke, 0, len(loaded)+len(c.strokes))
	seen := make(map[string]struct{}, cap(next))
	for _, s := range loaded {
		if err := s.Validate(); err != nil {
			c.logger.Debug("skipping invalid stored stroke", "error", err)
			continue
		}
		if _, dup := seen[s.ID]; dup {
			continue
		}
		seen[s.ID] = struct{}{}
		next = append(next, s.Clone())
	}
	for _, s := range c.strokes {
		if _, dup := seen[s.ID]; dup {
			continue
		}
		seen[s.ID] = struct{}{}
		next = append(next, s)
	}
	c.strokes = next
	c.seen = seen
}

func (c *Controller) addStrokeLocked(s models.Stroke) bool {
	if _, dup := c.seen[s.ID]; dup {
		return false
	}
	c.seen[s.ID] = struct{}{}
	c.strokes = append(c.strokes, s.Clone())
	return true
}

// deliver applies a channel event, or buffers it until hydration finishes.
func (c *Controller) deliver(ev event) {
	c.mu.Lock()
	switch c.state {
	case StateClosed, StateIdle:
		c.mu.Unlock()
		return
	case StateLive:
		ev.apply(c)
	default:
		c.pending = append(c.pending, ev)
	}
	c.mu.Unlock()
	c.notify()
}
