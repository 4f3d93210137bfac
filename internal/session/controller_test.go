package session

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"event-canvas-backend/internal/broadcast"
	"event-canvas-backend/internal/models"
	"event-canvas-backend/internal/realtime"
)

const canvasID = "demo"

type memStore struct {
	mu        sync.Mutex
	rows      []models.Stroke
	appends   int
	appendErr error
	loadErr   error
	// failFirst makes that many initial Append calls fail.
	failFirst int
}

func (s *memStore) Append(_ context.Context, _ string, stroke models.Stroke) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.appends++
	if s.appendErr != nil {
		return s.appendErr
	}
	if s.failFirst > 0 {
		s.failFirst--
		return errors.New("connection reset")
	}
	for _, r := range s.rows {
		if r.ID == stroke.ID {
			return nil
		}
	}
	s.rows = append(s.rows, stroke.Clone())
	return nil
}

func (s *memStore) LoadAll(_ context.Context, _ string) ([]models.Stroke, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.loadErr != nil {
		return nil, s.loadErr
	}
	out := make([]models.Stroke, len(s.rows))
	copy(out, s.rows)
	return out, nil
}

func (s *memStore) stored() []models.Stroke {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]models.Stroke(nil), s.rows...)
}

func (s *memStore) appendCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.appends
}

// gatedStore holds LoadAll until gate is closed.
type gatedStore struct {
	StrokeStore
	gate chan struct{}
}

func (g gatedStore) LoadAll(ctx context.Context, canvasID string) ([]models.Stroke, error) {
	select {
	case <-g.gate:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	return g.StrokeStore.LoadAll(ctx, canvasID)
}

type countingChannel struct {
	realtime.Channel
	mu     sync.Mutex
	tracks int
	sends  map[string]int
}

func (c *countingChannel) Send(event string, payload json.RawMessage) error {
	c.mu.Lock()
	if c.sends == nil {
		c.sends = make(map[string]int)
	}
	c.sends[event]++
	c.mu.Unlock()
	return c.Channel.Send(event, payload)
}

func (c *countingChannel) sent(event string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sends[event]
}

func (c *countingChannel) Track(meta json.RawMessage) error {
	c.mu.Lock()
	c.tracks++
	c.mu.Unlock()
	return c.Channel.Track(meta)
}

func (c *countingChannel) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.tracks
}

func (c *countingChannel) reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.tracks = 0
	c.sends = nil
}

type client struct {
	*Controller
	ch *realtime.LocalChannel
}

func newClient(t *testing.T, hub *realtime.Hub, store StrokeStore, userID, color string, tweak ...func(*Config)) client {
	t.Helper()
	ch := realtime.NewLocalChannel(hub, models.PaintingTopic(canvasID), userID, nil)
	cfg := Config{
		CanvasID:      canvasID,
		UserID:        userID,
		UserName:      userID,
		Color:         color,
		AppendBackoff: time.Millisecond,
	}
	for _, fn := range tweak {
		fn(&cfg)
	}
	c, err := NewController(cfg, ch, store, nil)
	if err != nil {
		t.Fatalf("new controller: %v", err)
	}
	t.Cleanup(func() { _ = c.Close() })
	return client{Controller: c, ch: ch}
}

func live(t *testing.T, c client) {
	t.Helper()
	if err := c.Join(context.Background()); err != nil {
		t.Fatalf("join: %v", err)
	}
	waitFor(t, func() bool { return c.State() == StateLive })
}

func drain(t *testing.T, cs ...client) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	for _, c := range cs {
		if err := c.WaitForAppends(ctx); err != nil {
			t.Fatalf("wait for appends: %v", err)
		}
	}
}

func pts(xy ...float64) []models.Point {
	out := make([]models.Point, 0, len(xy)/2)
	for i := 0; i+1 < len(xy); i += 2 {
		out = append(out, models.Point{X: xy[i], Y: xy[i+1]})
	}
	return out
}

func TestNewControllerValidation(t *testing.T) {
	hub := realtime.NewHub(nil, nil)
	ch := realtime.NewLocalChannel(hub, models.PaintingTopic(canvasID), "alice", nil)
	store := &memStore{}
	tests := []struct {
		name  string
		cfg   Config
		store StrokeStore
	}{
		{name: "missing canvas", cfg: Config{UserID: "alice"}, store: store},
		{name: "missing user", cfg: Config{CanvasID: canvasID}, store: store},
		{name: "key mismatch", cfg: Config{CanvasID: canvasID, UserID: "bob"}, store: store},
		{name: "missing store", cfg: Config{CanvasID: canvasID, UserID: "alice"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := NewController(tt.cfg, ch, tt.store, nil); err == nil {
				t.Fatal("expected error")
			}
		})
	}
}

func TestCompleteStrokeAppendsInCallOrder(t *testing.T) {
	hub := realtime.NewHub(nil, nil)
	store := &memStore{}
	a := newClient(t, hub, store, "alice", "#123456")

	var want []string
	for i := 0; i < 5; i++ {
		before := a.Snapshot().Strokes
		s, err := a.CompleteStroke(pts(float64(i), 0, float64(i), 10))
		if err != nil {
			t.Fatalf("complete %d: %v", i, err)
		}
		want = append(want, s.ID)
		after := a.Snapshot().Strokes
		if len(after) != len(before)+1 {
			t.Fatalf("call %d: expected %d strokes, got %d", i, len(before)+1, len(after))
		}
		for j, id := range want {
			if after[j].ID != id {
				t.Fatalf("call %d: stroke %d is %s, want %s", i, j, after[j].ID, id)
			}
		}
	}
	drain(t, a)
	assertStoredOrder(t, store, want)

	if _, err := a.CompleteStroke(pts(1, 1)); !errors.Is(err, ErrStrokeTooShort) {
		t.Fatalf("expected ErrStrokeTooShort, got %v", err)
	}
}

func assertStoredOrder(t *testing.T, store *memStore, want []string) {
	t.Helper()
	stored := store.stored()
	if len(stored) != len(want) {
		t.Fatalf("expected %d stored strokes, got %d", len(want), len(stored))
	}
	for i, id := range want {
		if stored[i].ID != id {
			t.Fatalf("stored stroke %d is %s, want %s", i, stored[i].ID, id)
		}
	}
}

func TestStoreKeepsCompletionOrder(t *testing.T) {
	tests := []struct {
		name      string
		strokes   int
		failFirst int
	}{
		{name: "first append retried", strokes: 3, failFirst: 1},
		{name: "several retries", strokes: 5, failFirst: 2},
		{name: "rapid completions", strokes: 200},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			hub := realtime.NewHub(nil, nil)
			store := &memStore{failFirst: tt.failFirst}
			a := newClient(t, hub, store, "alice", "#ff0000", func(c *Config) { c.AppendAttempts = 5 })
			live(t, a)

			var want []string
			for i := 0; i < tt.strokes; i++ {
				s, err := a.CompleteStroke(pts(float64(i), 0, float64(i), 10))
				if err != nil {
					t.Fatalf("complete %d: %v", i, err)
				}
				want = append(want, s.ID)
			}
			drain(t, a)
			assertStoredOrder(t, store, want)
		})
	}
}

func TestAppendsContinueAfterClose(t *testing.T) {
	hub := realtime.NewHub(nil, nil)
	store := &memStore{failFirst: 1}
	a := newClient(t, hub, store, "alice", "#ff0000")
	live(t, a)

	first, _ := a.CompleteStroke(pts(0, 0, 1, 1))
	second, _ := a.CompleteStroke(pts(2, 2, 3, 3))
	if err := a.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	drain(t, a)
	assertStoredOrder(t, store, []string{first.ID, second.ID})
}

func TestTwoClientsDrawAndLateJoinerHydrates(t *testing.T) {
	hub := realtime.NewHub(nil, nil)
	store := &memStore{}
	a := newClient(t, hub, store, "alice", "#ff0000")
	b := newClient(t, hub, store, "bob", "#00ff00")
	live(t, a)
	live(t, b)
	waitFor(t, func() bool { return len(a.Snapshot().Participants) == 2 && len(b.Snapshot().Participants) == 2 })

	sa, err := a.CompleteStroke(pts(0, 0, 5, 5, 10, 0))
	if err != nil {
		t.Fatalf("alice: %v", err)
	}
	sb, err := b.CompleteStroke(pts(1, 1, 2, 2))
	if err != nil {
		t.Fatalf("bob: %v", err)
	}

	check := func(name string, snap Snapshot) {
		t.Helper()
		if len(snap.Strokes) != 2 {
			t.Fatalf("%s: expected 2 strokes, got %d", name, len(snap.Strokes))
		}
		byID := map[string]models.Stroke{}
		for _, s := range snap.Strokes {
			byID[s.ID] = s
		}
		if s := byID[sa.ID]; s.UserID != "alice" || s.Color != "#ff0000" || len(s.Points) != 3 {
			t.Fatalf("%s: bad alice stroke %+v", name, s)
		}
		if s := byID[sb.ID]; s.UserID != "bob" || s.Color != "#00ff00" || len(s.Points) != 2 {
			t.Fatalf("%s: bad bob stroke %+v", name, s)
		}
	}
	waitFor(t, func() bool { return len(a.Snapshot().Strokes) == 2 && len(b.Snapshot().Strokes) == 2 })
	check("alice", a.Snapshot())
	check("bob", b.Snapshot())
	if got := a.Snapshot().Participants["bob"].Strokes; len(got) != 1 || got[0].ID != sb.ID {
		t.Fatalf("bob's participant entry should carry his stroke, got %+v", got)
	}

	drain(t, a, b)
	c := newClient(t, hub, store, "carol", "#0000ff")
	live(t, c)
	check("carol", c.Snapshot())
	if loaded, _ := store.LoadAll(context.Background(), canvasID); len(loaded) != 2 {
		t.Fatalf("store should hold 2 strokes, got %d", len(loaded))
	}
}

func TestDisconnectMidGestureDiscardsStroke(t *testing.T) {
	hub := realtime.NewHub(nil, nil)
	store := &memStore{}
	a := newClient(t, hub, store, "alice", "#ff0000", func(c *Config) { c.BypassThrottleWhileDrawing = true })
	b := newClient(t, hub, store, "bob", "#00ff00")
	live(t, a)
	live(t, b)
	waitFor(t, func() bool { return len(b.Snapshot().Participants) == 2 })

	if err := a.BeginStroke(models.Point{X: 0, Y: 0}); err != nil {
		t.Fatalf("begin: %v", err)
	}
	_ = a.ExtendStroke(models.Point{X: 5, Y: 5})
	_ = a.ExtendStroke(models.Point{X: 10, Y: 0})
	if got := len(a.Snapshot().Gesture); got != 3 {
		t.Fatalf("expected 3 accumulated points, got %d", got)
	}
	waitFor(t, func() bool { return len(b.Snapshot().Ghosts["alice"].Points) == 3 })

	if err := a.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	waitFor(t, func() bool {
		snap := b.Snapshot()
		_, ghost := snap.Ghosts["alice"]
		_, present := snap.Participants["alice"]
		return !ghost && !present
	})
	drain(t, a)
	if store.appendCalls() != 0 {
		t.Fatalf("no stroke may be appended for an unfinished gesture, got %d appends", store.appendCalls())
	}
	if got := len(b.Snapshot().Strokes); got != 0 {
		t.Fatalf("bob should have no strokes, got %d", got)
	}
	if _, err := a.CompleteStroke(pts(0, 0, 1, 1)); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
	if err := a.Join(context.Background()); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed on rejoin, got %v", err)
	}
}

func TestLeaveKeepsAuthoredStrokes(t *testing.T) {
	hub := realtime.NewHub(nil, nil)
	store := &memStore{}
	a := newClient(t, hub, store, "alice", "#ff0000")
	b := newClient(t, hub, store, "bob", "#00ff00")
	live(t, a)
	live(t, b)

	s, _ := a.CompleteStroke(pts(0, 0, 3, 3))
	waitFor(t, func() bool { return len(b.Snapshot().Strokes) == 1 })
	_ = a.Close()

	waitFor(t, func() bool {
		_, present := b.Snapshot().Participants["alice"]
		return !present
	})
	snap := b.Snapshot()
	if len(snap.Strokes) != 1 || snap.Strokes[0].ID != s.ID || snap.Strokes[0].UserID != "alice" {
		t.Fatalf("alice's stroke should survive her leaving, got %+v", snap.Strokes)
	}
}

func TestGestureLifecycle(t *testing.T) {
	hub := realtime.NewHub(nil, nil)
	store := &memStore{}
	a := newClient(t, hub, store, "alice", "#ff0000")
	b := newClient(t, hub, store, "bob", "#00ff00")
	live(t, a)
	live(t, b)

	// a tap is too short to become a stroke
	_ = a.BeginStroke(models.Point{X: 1, Y: 1})
	s, err := a.EndStroke()
	if err != nil || s != nil {
		t.Fatalf("expected tap to be discarded, got %+v, %v", s, err)
	}

	_ = a.BeginStroke(models.Point{X: 0, Y: 0})
	_ = a.ExtendStroke(models.Point{X: 1, Y: 1}) // closer than two units
	_ = a.ExtendStroke(models.Point{X: 2, Y: 0}) // exactly two units
	_ = a.ExtendStroke(models.Point{X: 4, Y: 0})
	_ = a.ExtendStroke(models.Point{X: 8, Y: 0})
	s, err = a.CancelStroke()
	if err != nil || s == nil {
		t.Fatalf("pointer-cancel should finish the stroke, got %+v, %v", s, err)
	}
	if len(s.Points) != 3 {
		t.Fatalf("expected decimated stroke of 3 points, got %v", s.Points)
	}
	if a.Snapshot().Self.IsDrawing {
		t.Fatal("drawing flag should be cleared after the gesture")
	}

	waitFor(t, func() bool {
		snap := b.Snapshot()
		_, ghost := snap.Ghosts["alice"]
		return len(snap.Strokes) == 1 && !ghost
	})
	drain(t, a)
	if got := len(store.stored()); got != 1 {
		t.Fatalf("expected 1 stored stroke, got %d", got)
	}
	if again, err := a.EndStroke(); again != nil || err != nil {
		t.Fatalf("ending without a gesture is a no-op, got %+v, %v", again, err)
	}
}

func TestEventsDuringHydrationAreBufferedAndDeduplicated(t *testing.T) {
	hub := realtime.NewHub(nil, nil)
	store := &memStore{}
	a := newClient(t, hub, store, "alice", "#ff0000")
	live(t, a)

	gate := make(chan struct{})
	defer func() {
		select {
		case <-gate:
		default:
			close(gate)
		}
	}()
	b := newClient(t, hub, gatedStore{StrokeStore: store, gate: gate}, "bob", "#00ff00")
	if err := b.Join(context.Background()); err != nil {
		t.Fatalf("join: %v", err)
	}
	waitFor(t, func() bool { return b.State() == StateHydrating })
	waitFor(t, func() bool { return len(a.Snapshot().Participants) == 2 })

	s, _ := a.CompleteStroke(pts(0, 0, 5, 5))
	drain(t, a)
	waitFor(t, func() bool { return pendingStrokes(b.Controller) == 1 })
	if got := len(b.Snapshot().Strokes); got != 0 {
		t.Fatalf("strokes must not be applied before hydration finishes, got %d", got)
	}

	close(gate)
	waitFor(t, func() bool { return b.State() == StateLive })
	snap := b.Snapshot()
	if len(snap.Strokes) != 1 || snap.Strokes[0].ID != s.ID {
		t.Fatalf("stored and broadcast copies must collapse into one stroke, got %+v", snap.Strokes)
	}
	if len(snap.Participants) != 2 {
		t.Fatalf("buffered presence should be applied, got %+v", snap.Participants)
	}
}

func pendingStrokes(c *Controller) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, ev := range c.pending {
		if _, ok := ev.(strokeEvent); ok {
			n++
		}
	}
	return n
}

func TestAppendFailureIsNotFatal(t *testing.T) {
	hub := realtime.NewHub(nil, nil)
	broken := &memStore{appendErr: errors.New("database is down")}
	a := newClient(t, hub, broken, "alice", "#ff0000", func(c *Config) { c.AppendAttempts = 2 })
	b := newClient(t, hub, &memStore{}, "bob", "#00ff00")
	live(t, a)
	live(t, b)

	s, err := a.CompleteStroke(pts(0, 0, 5, 5))
	if err != nil {
		t.Fatalf("append failures must not surface: %v", err)
	}
	if got := a.Snapshot().Strokes; len(got) != 1 || got[0].ID != s.ID {
		t.Fatalf("stroke should be visible locally, got %+v", got)
	}
	waitFor(t, func() bool { return len(b.Snapshot().Strokes) == 1 })
	drain(t, a)
	if got := broken.appendCalls(); got != 2 {
		t.Fatalf("expected 2 append attempts, got %d", got)
	}
	if a.State() != StateLive {
		t.Fatalf("session should stay live, got %s", a.State())
	}
}

func TestHydrationFailureStillGoesLive(t *testing.T) {
	hub := realtime.NewHub(nil, nil)
	a := newClient(t, hub, &memStore{loadErr: errors.New("timeout")}, "alice", "#ff0000")
	live(t, a)
	if got := len(a.Snapshot().Strokes); got != 0 {
		t.Fatalf("expected empty canvas, got %d strokes", got)
	}
	if _, err := a.CompleteStroke(pts(0, 0, 4, 4)); err != nil {
		t.Fatalf("drawing must not be blocked: %v", err)
	}
}

func TestReconnectRehydratesMissedStrokes(t *testing.T) {
	hub := realtime.NewHub(nil, nil)
	store := &memStore{}
	a := newClient(t, hub, store, "alice", "#ff0000")
	b := newClient(t, hub, store, "bob", "#00ff00")
	live(t, a)
	live(t, b)
	waitFor(t, func() bool { return len(a.Snapshot().Participants) == 2 })

	a.ch.Interrupt()
	waitFor(t, func() bool { return a.State() == StateConnecting })

	missed, _ := b.CompleteStroke(pts(2, 2, 9, 9))
	drain(t, b)
	local, _ := a.CompleteStroke(pts(0, 0, 1, 7))

	if err := a.ch.Resume(); err != nil {
		t.Fatalf("resume: %v", err)
	}
	waitFor(t, func() bool { return a.State() == StateLive && len(a.Snapshot().Strokes) == 2 })
	snap := a.Snapshot()
	if snap.Strokes[0].ID != missed.ID || snap.Strokes[1].ID != local.ID {
		t.Fatalf("expected stored stroke first then local one, got %s, %s", snap.Strokes[0].ID, snap.Strokes[1].ID)
	}
	waitFor(t, func() bool { return len(a.Snapshot().Participants) == 2 })
}

func TestCursorPublishesAreThrottled(t *testing.T) {
	hub := realtime.NewHub(nil, nil)
	clock := newFakeClock()
	ch := &countingChannel{Channel: realtime.NewLocalChannel(hub, models.PaintingTopic(canvasID), "alice", nil)}
	c, err := NewController(Config{CanvasID: canvasID, UserID: "alice", Now: clock.Now}, ch, &memStore{}, nil)
	if err != nil {
		t.Fatalf("new controller: %v", err)
	}
	defer c.Close()
	if err := c.Join(context.Background()); err != nil {
		t.Fatalf("join: %v", err)
	}
	waitFor(t, func() bool { return c.State() == StateLive && ch.count() == 1 })
	ch.reset()

	for i := 0; i < 100; i++ {
		if err := c.MoveCursor(float64(i), 0, false); err != nil {
			t.Fatalf("move: %v", err)
		}
		clock.Advance(time.Millisecond)
	}
	// 100ms at 30 per second
	if got := ch.count(); got < 1 || got > 4 {
		t.Fatalf("expected at most 4 publishes, got %d", got)
	}

	ch.reset()
	if err := c.BeginStroke(models.Point{X: 50, Y: 50}); err != nil {
		t.Fatalf("begin: %v", err)
	}
	if ch.count() != 1 {
		t.Fatalf("pointer-down must publish immediately, got %d publishes", ch.count())
	}
	if !c.Snapshot().Self.IsDrawing {
		t.Fatal("self should be drawing")
	}
}

func TestGhostSnapshotsAreThrottled(t *testing.T) {
	hub := realtime.NewHub(nil, nil)
	clock := newFakeClock()
	ch := &countingChannel{Channel: realtime.NewLocalChannel(hub, models.PaintingTopic(canvasID), "alice", nil)}
	c, err := NewController(Config{CanvasID: canvasID, UserID: "alice", Now: clock.Now}, ch, &memStore{}, nil)
	if err != nil {
		t.Fatalf("new controller: %v", err)
	}
	defer c.Close()
	if err := c.Join(context.Background()); err != nil {
		t.Fatalf("join: %v", err)
	}
	waitFor(t, func() bool { return c.State() == StateLive })

	if err := c.BeginStroke(models.Point{X: 0, Y: 0}); err != nil {
		t.Fatalf("begin: %v", err)
	}
	for i := 1; i <= 100; i++ {
		if err := c.ExtendStroke(models.Point{X: float64(3 * i), Y: 0}); err != nil {
			t.Fatalf("extend: %v", err)
		}
		clock.Advance(time.Millisecond)
	}
	// 100ms at 30 per second
	if got := ch.sent(broadcast.EventStrokeProgress); got < 1 || got > 4 {
		t.Fatalf("expected at most 4 ghost snapshots, got %d", got)
	}
	if got := len(c.Snapshot().Gesture); got != 101 {
		t.Fatalf("every accepted sample belongs to the gesture, got %d", got)
	}

	s, err := c.EndStroke()
	if err != nil || s == nil || len(s.Points) != 101 {
		t.Fatalf("expected the full stroke, got %+v, %v", s, err)
	}
	if got := ch.sent(broadcast.EventStrokeClear); got != 1 {
		t.Fatalf("expected one ghost clear, got %d", got)
	}
}

func TestEndStrokeRacingCloseClearsGhost(t *testing.T) {
	for i := 0; i < 20; i++ {
		hub := realtime.NewHub(nil, nil)
		ch := &countingChannel{Channel: realtime.NewLocalChannel(hub, models.PaintingTopic(canvasID), "alice", nil)}
		c, err := NewController(Config{CanvasID: canvasID, UserID: "alice"}, ch, &memStore{}, nil)
		if err != nil {
			t.Fatalf("new controller: %v", err)
		}
		if err := c.Join(context.Background()); err != nil {
			t.Fatalf("join: %v", err)
		}
		waitFor(t, func() bool { return c.State() == StateLive })

		_ = c.BeginStroke(models.Point{X: 0, Y: 0})
		_ = c.ExtendStroke(models.Point{X: 10, Y: 10})

		var wg sync.WaitGroup
		wg.Add(2)
		go func() {
			defer wg.Done()
			_, _ = c.EndStroke()
		}()
		go func() {
			defer wg.Done()
			_ = c.Close()
		}()
		wg.Wait()

		if got := ch.sent(broadcast.EventStrokeClear); got == 0 {
			t.Fatalf("run %d: the ghost was never cleared", i)
		}
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}
