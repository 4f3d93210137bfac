package models

import (
	"math"
	"strings"
	"testing"

	"github.com/google/uuid"
)

func TestStrokeValidate(t *testing.T) {
	valid := Stroke{
		ID:     uuid.NewString(),
		UserID: "user-1",
		Points: []Point{{X: 0, Y: 0}, {X: 5, Y: 5}},
		Color:  "#ff0000",
	}

	tests := []struct {
		name    string
		mutate  func(s *Stroke)
		wantErr string
	}{
		{name: "valid", mutate: func(s *Stroke) {}},
		{name: "missing id", mutate: func(s *Stroke) { s.ID = "" }, wantErr: "id is required"},
		{name: "missing user", mutate: func(s *Stroke) { s.UserID = "" }, wantErr: "user id is required"},
		{name: "single point", mutate: func(s *Stroke) { s.Points = s.Points[:1] }, wantErr: "at least 2 points"},
		{name: "nan point", mutate: func(s *Stroke) { s.Points = []Point{{X: 0}, {X: math.NaN()}} }, wantErr: "not finite"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := valid.Clone()
			tt.mutate(&s)
			err := s.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("expected error containing %q, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestCanvasStrokeRoundTrip(t *testing.T) {
	painting := uuid.New()
	in := Stroke{
		ID:        uuid.NewString(),
		Points:    []Point{{X: 0, Y: 0}, {X: 5, Y: 5}, {X: 10, Y: 0}},
		Color:     "#ff0000",
		UserID:    "user-a",
		UserName:  "Ada",
		Timestamp: 42,
	}

	row, err := NewCanvasStroke(painting, in)
	if err != nil {
		t.Fatalf("NewCanvasStroke: %v", err)
	}
	if row.PaintingID != painting {
		t.Fatalf("expected painting %s, got %s", painting, row.PaintingID)
	}

	out, err := row.Stroke()
	if err != nil {
		t.Fatalf("Stroke: %v", err)
	}
	if out.ID != in.ID || out.UserID != in.UserID || out.UserName != in.UserName || out.Color != in.Color || out.Timestamp != in.Timestamp {
		t.Fatalf("metadata mismatch: %+v vs %+v", out, in)
	}
	if len(out.Points) != len(in.Points) {
		t.Fatalf("expected %d points, got %d", len(in.Points), len(out.Points))
	}
	for i := range in.Points {
		if out.Points[i] != in.Points[i] {
			t.Fatalf("point %d: expected %+v, got %+v", i, in.Points[i], out.Points[i])
		}
	}
}

func TestNewCanvasStrokeRejectsBadID(t *testing.T) {
	if _, err := NewCanvasStroke(uuid.New(), Stroke{ID: "not-a-uuid"}); err == nil {
		t.Fatal("expected error for non-uuid stroke id")
	}
}

func TestColorForIsDeterministic(t *testing.T) {
	a := ColorFor("3f1c2a90-user")
	b := ColorFor("3f1c2a90-user")
	if a != b {
		t.Fatalf("expected stable colour, got %q and %q", a, b)
	}
	if !strings.HasPrefix(a, "hsl(") || !strings.HasSuffix(a, ",90%,60%)") {
		t.Fatalf("unexpected colour format %q", a)
	}
	if strings.Contains(a, "(-") {
		t.Fatalf("hue must not be negative: %q", a)
	}

	known := []struct {
		userID string
		want   string
	}{
		{userID: "6f1c2a9e-1234-4bcd-9abc-0123456789ab", want: "hsl(343,90%,60%)"},
		{userID: "alice", want: "hsl(0,90%,60%)"},
		// the raw hue is -355, the same colour as 5
		{userID: "3f1c2a90-user", want: "hsl(5,90%,60%)"},
	}
	for _, tt := range known {
		if got := ColorFor(tt.userID); got != tt.want {
			t.Errorf("ColorFor(%q) = %q, want %q", tt.userID, got, tt.want)
		}
	}
}

func TestDisplayName(t *testing.T) {
	if got := DisplayName("abcdefghij", ""); got != "abcdef" {
		t.Fatalf("expected short id, got %q", got)
	}
	if got := DisplayName("abc", "Bea"); got != "Bea" {
		t.Fatalf("expected name, got %q", got)
	}
	if got := DisplayName("", ""); got != "Anonymous" {
		t.Fatalf("expected Anonymous, got %q", got)
	}
}
