package broadcast

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"event-canvas-backend/internal/models"
	"event-canvas-backend/internal/realtime"
)

const canvas = "demo"

func subscribed(t *testing.T, hub *realtime.Hub, key string) *realtime.LocalChannel {
	t.Helper()
	ch := realtime.NewLocalChannel(hub, models.PaintingTopic(canvas), key, nil)
	if err := ch.Subscribe(); err != nil {
		t.Fatalf("subscribe %s: %v", key, err)
	}
	t.Cleanup(func() { _ = ch.Unsubscribe() })
	return ch
}

func TestNewStroke(t *testing.T) {
	at := time.UnixMilli(1700000000000)
	s, err := NewStroke("u1", "Ada", "#ff0000", []models.Point{{X: 0, Y: 0}, {X: 5, Y: 5}}, at)
	if err != nil {
		t.Fatalf("new stroke: %v", err)
	}
	if s.ID == "" || s.Timestamp != at.UnixMilli() || s.UserID != "u1" {
		t.Fatalf("unexpected stroke %+v", s)
	}

	tests := []struct {
		name   string
		user   string
		points []models.Point
	}{
		{name: "single point", user: "u1", points: []models.Point{{X: 1, Y: 1}}},
		{name: "no points", user: "u1"},
		{name: "no author", user: "", points: []models.Point{{X: 1, Y: 1}, {X: 2, Y: 2}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := NewStroke(tt.user, "", "#000", tt.points, at); !errors.Is(err, ErrInvalidStroke) {
				t.Fatalf("expected ErrInvalidStroke, got %v", err)
			}
		})
	}
}

func TestCompletedStrokeReachesPeersOnly(t *testing.T) {
	hub := realtime.NewHub(nil, nil)
	cha := subscribed(t, hub, "alice")
	chb := subscribed(t, hub, "bob")
	a := New(cha, canvas, nil)
	b := New(chb, canvas, nil)

	toA := make(chan models.Stroke, 4)
	toB := make(chan models.Stroke, 4)
	a.OnCompletedStroke(func(s models.Stroke) { toA <- s })
	b.OnCompletedStroke(func(s models.Stroke) { toB <- s })

	s, _ := NewStroke("alice", "Alice", "#ff0000", []models.Point{{X: 0, Y: 0}, {X: 5, Y: 5}, {X: 10, Y: 0}}, time.Now())
	sent, err := a.BroadcastCompletedStroke(s)
	if err != nil {
		t.Fatalf("broadcast: %v", err)
	}
	if sent.ID != s.ID {
		t.Fatalf("returned stroke should be the one sent, got %+v", sent)
	}

	select {
	case got := <-toB:
		if got.ID != s.ID || len(got.Points) != 3 || got.Color != "#ff0000" {
			t.Fatalf("unexpected stroke %+v", got)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("bob never received the stroke")
	}
	select {
	case got := <-toA:
		t.Fatalf("sender received its own stroke %+v", got)
	case <-time.After(50 * time.Millisecond):
	}

	if _, err := a.BroadcastCompletedStroke(models.Stroke{ID: "x", UserID: "alice"}); !errors.Is(err, ErrInvalidStroke) {
		t.Fatalf("expected ErrInvalidStroke, got %v", err)
	}
}

func TestMalformedBroadcastsAreDropped(t *testing.T) {
	hub := realtime.NewHub(nil, nil)
	mallory := subscribed(t, hub, "mallory")
	chb := subscribed(t, hub, "bob")
	b := New(chb, canvas, nil)

	strokes := make(chan models.Stroke, 8)
	ghosts := make(chan Progress, 8)
	clears := make(chan string, 8)
	b.OnCompletedStroke(func(s models.Stroke) { strokes <- s })
	b.OnInProgressStroke(func(p Progress) { ghosts <- p })
	b.OnClear(func(userID string) { clears <- userID })

	spoofed, _ := json.Marshal(models.Stroke{ID: "s1", UserID: "alice", Points: []models.Point{{X: 0, Y: 0}, {X: 1, Y: 1}}})
	bad := []struct {
		event   string
		payload string
	}{
		{EventStroke, `not json`},
		{EventStroke, `{"id":"s1","userId":"mallory","points":[]}`},
		{EventStroke, `{"id":"s1","userId":"mallory"}`},
		{EventStroke, string(spoofed)},
		{EventStrokeProgress, `{"canvasId":"demo","userId":"mallory","points":[]}`},
		{EventStrokeProgress, `{"canvasId":"other","userId":"mallory","points":[{"x":1,"y":1}]}`},
		{EventStrokeProgress, `{"canvasId":"demo","userId":"alice","points":[{"x":1,"y":1}]}`},
		{EventStrokeClear, `{"userId":"alice"}`},
		{EventStrokeClear, `[]`},
	}
	for _, m := range bad {
		if err := mallory.Send(m.event, json.RawMessage(m.payload)); err != nil {
			t.Fatalf("send: %v", err)
		}
	}
	// a valid clear queued last proves every earlier message was handled
	if err := mallory.Send(EventStrokeClear, json.RawMessage(`{"userId":"mallory"}`)); err != nil {
		t.Fatalf("send: %v", err)
	}

	select {
	case id := <-clears:
		if id != "mallory" {
			t.Fatalf("unexpected clear for %q", id)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("valid clear never arrived")
	}
	if len(strokes) != 0 || len(ghosts) != 0 || len(clears) != 0 {
		t.Fatalf("malformed payloads got through: %d strokes, %d ghosts, %d clears", len(strokes), len(ghosts), len(clears))
	}
}

func TestInProgressStrokeAndClear(t *testing.T) {
	hub := realtime.NewHub(nil, nil)
	a := New(subscribed(t, hub, "alice"), canvas, nil)
	b := New(subscribed(t, hub, "bob"), canvas, nil)

	ghosts := make(chan Progress, 2)
	clears := make(chan string, 2)
	b.OnInProgressStroke(func(p Progress) { ghosts <- p })
	b.OnClear(func(userID string) { clears <- userID })

	if err := a.BroadcastInProgressStroke("elsewhere", "alice", []models.Point{{X: 1, Y: 1}}, "#000"); err == nil {
		t.Fatal("expected error for a foreign canvas")
	}
	pts := []models.Point{{X: 1, Y: 1}, {X: 4, Y: 4}}
	if err := a.BroadcastInProgressStroke(canvas, "alice", pts, "#00f"); err != nil {
		t.Fatalf("progress: %v", err)
	}
	if err := a.ClearInProgressStroke("alice"); err != nil {
		t.Fatalf("clear: %v", err)
	}

	select {
	case p := <-ghosts:
		if p.UserID != "alice" || len(p.Points) != 2 || p.Color != "#00f" {
			t.Fatalf("unexpected ghost %+v", p)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("ghost never arrived")
	}
	select {
	case id := <-clears:
		if id != "alice" {
			t.Fatalf("unexpected clear %q", id)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("clear never arrived")
	}
}
