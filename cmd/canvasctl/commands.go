package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"math"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"event-canvas-backend/internal/models"
	"event-canvas-backend/internal/preview"
	"event-canvas-backend/internal/session"

	"github.com/spf13/cobra"
)

// =============================================================================
// watch
// =============================================================================

func buildWatchCmd(opts *globalOptions) *cobra.Command {
	var format string
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Join a painting and print its participants as they change",
		Example: `  canvasctl watch --painting 6f1c...
  canvasctl watch --painting 6f1c... --format json`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWatch(cmd.Context(), opts, format, cmd.OutOrStdout())
		},
	}
	cmd.Flags().StringVarP(&format, "format", "f", "text", "Output format (text, json)")
	return cmd
}

// watchLine is one printed view of a session.
type watchLine struct {
	At           time.Time         `json:"at"`
	State        string            `json:"state"`
	Strokes      int               `json:"strokes"`
	Participants []watchParticipant `json:"participants"`
}

type watchParticipant struct {
	UserID    string       `json:"userId"`
	UserName  string       `json:"userName"`
	Cursor    models.Point `json:"cursor"`
	IsDrawing bool         `json:"isDrawing"`
	Strokes   int          `json:"strokes"`
	Ghost     int          `json:"ghostPoints,omitempty"`
}

func summarize(snap session.Snapshot, at time.Time) watchLine {
	line := watchLine{At: at, State: snap.State.String(), Strokes: len(snap.Strokes)}
	for id, p := range snap.Participants {
		line.Participants = append(line.Participants, watchParticipant{
			UserID:    id,
			UserName:  p.UserName,
			Cursor:    p.Cursor,
			IsDrawing: p.IsDrawing,
			Strokes:   len(p.Strokes),
			Ghost:     len(snap.Ghosts[id].Points),
		})
	}
	sort.Slice(line.Participants, func(i, j int) bool {
		return line.Participants[i].UserID < line.Participants[j].UserID
	})
	return line
}

func writeWatchLine(w io.Writer, format string, line watchLine) error {
	if format == "json" {
		return json.NewEncoder(w).Encode(line)
	}
	if _, err := fmt.Fprintf(w, "%s %s strokes=%d participants=%d\n",
		line.At.Format(time.TimeOnly), line.State, line.Strokes, len(line.Participants)); err != nil {
		return err
	}
	for _, p := range line.Participants {
		drawing := ""
		if p.IsDrawing {
			drawing = " drawing"
		}
		if _, err := fmt.Fprintf(w, "  %-12s (%.0f,%.0f) strokes=%d%s\n",
			p.UserName, p.Cursor.X, p.Cursor.Y, p.Strokes, drawing); err != nil {
			return err
		}
	}
	return nil
}

func runWatch(parent context.Context, opts *globalOptions, format string, out io.Writer) error {
	if format != "text" && format != "json" {
		return fmt.Errorf("unknown format %q", format)
	}
	ctx, stop := signalContext(parent)
	defer stop()

	s, err := opts.joinSession(ctx, slog.Default())
	if err != nil {
		return err
	}
	defer s.Close()

	if err := writeWatchLine(out, format, summarize(s.Snapshot(), time.Now())); err != nil {
		return err
	}
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-s.Changed():
			if err := writeWatchLine(out, format, summarize(s.Snapshot(), time.Now())); err != nil {
				return err
			}
		}
	}
}

// =============================================================================
// draw
// =============================================================================

type drawOptions struct {
	shape    string
	points   string
	centerX  float64
	centerY  float64
	size     float64
	steps    int
	interval time.Duration
}

func buildDrawCmd(opts *globalOptions) *cobra.Command {
	d := &drawOptions{}
	cmd := &cobra.Command{
		Use:   "draw",
		Short: "Draw one stroke on a painting",
		Long: `Join a painting, draw one stroke point by point so other participants see
it in progress, then commit it and wait until the store has it.`,
		Example: `  canvasctl draw --painting 6f1c... --shape circle --size 80
  canvasctl draw --painting 6f1c... --points "10,10 50,60 90,10"`,
		RunE: func(cmd *cobra.Command, args []string) error {
			points, err := d.resolve()
			if err != nil {
				return err
			}
			return runDraw(cmd.Context(), opts, points, d.interval, cmd.OutOrStdout())
		},
	}
	cmd.Flags().StringVar(&d.shape, "shape", "line", "Generated shape (line, circle, zigzag)")
	cmd.Flags().StringVar(&d.points, "points", "", `Explicit points as "x,y x,y ..." (overrides --shape)`)
	cmd.Flags().Float64Var(&d.centerX, "x", 150, "Shape centre x")
	cmd.Flags().Float64Var(&d.centerY, "y", 150, "Shape centre y")
	cmd.Flags().Float64Var(&d.size, "size", 100, "Shape size in canvas units")
	cmd.Flags().IntVar(&d.steps, "steps", 24, "Points generated for a shape")
	cmd.Flags().DurationVar(&d.interval, "interval", 15*time.Millisecond, "Delay between pointer moves")
	return cmd
}

func (d *drawOptions) resolve() ([]models.Point, error) {
	if strings.TrimSpace(d.points) != "" {
		return parsePoints(d.points)
	}
	return shapePoints(d.shape, models.Point{X: d.centerX, Y: d.centerY}, d.size, d.steps)
}

// parsePoints reads whitespace separated "x,y" pairs.
func parsePoints(s string) ([]models.Point, error) {
	fields := strings.Fields(s)
	points := make([]models.Point, 0, len(fields))
	for _, f := range fields {
		xs, ys, ok := strings.Cut(f, ",")
		if !ok {
			return nil, fmt.Errorf("point %q: want x,y", f)
		}
		x, err := strconv.ParseFloat(xs, 64)
		if err != nil {
			return nil, fmt.Errorf("point %q: %w", f, err)
		}
		y, err := strconv.ParseFloat(ys, 64)
		if err != nil {
			return nil, fmt.Errorf("point %q: %w", f, err)
		}
		p := models.Point{X: x, Y: y}
		if !p.Finite() {
			return nil, fmt.Errorf("point %q is not finite", f)
		}
		points = append(points, p)
	}
	if len(points) < 2 {
		return nil, fmt.Errorf("a stroke needs at least 2 points, got %d", len(points))
	}
	return points, nil
}

// shapePoints generates a simple stroke centred on c.
func shapePoints(shape string, c models.Point, size float64, steps int) ([]models.Point, error) {
	if steps < 2 {
		return nil, fmt.Errorf("steps must be at least 2")
	}
	if size <= 0 {
		return nil, fmt.Errorf("size must be positive")
	}
	half := size / 2
	points := make([]models.Point, 0, steps+1)
	switch shape {
	case "line":
		for i := 0; i < steps; i++ {
			t := float64(i) / float64(steps-1)
			points = append(points, models.Point{X: c.X - half + t*size, Y: c.Y})
		}
	case "circle":
		for i := 0; i <= steps; i++ {
			a := 2 * math.Pi * float64(i) / float64(steps)
			points = append(points, models.Point{X: c.X + half*math.Cos(a), Y: c.Y + half*math.Sin(a)})
		}
	case "zigzag":
		for i := 0; i < steps; i++ {
			t := float64(i) / float64(steps-1)
			y := c.Y - half
			if i%2 == 1 {
				y = c.Y + half
			}
			points = append(points, models.Point{X: c.X - half + t*size, Y: y})
		}
	default:
		return nil, fmt.Errorf("unknown shape %q", shape)
	}
	return points, nil
}

func runDraw(parent context.Context, opts *globalOptions, points []models.Point, interval time.Duration, out io.Writer) error {
	ctx, stop := signalContext(parent)
	defer stop()

	s, err := opts.joinSession(ctx, slog.Default())
	if err != nil {
		return err
	}
	defer s.Close()

	if err := s.BeginStroke(points[0]); err != nil {
		return err
	}
	for _, p := range points[1:] {
		select {
		case <-ctx.Done():
			_, _ = s.CancelStroke()
			return ctx.Err()
		case <-time.After(interval):
		}
		if err := s.ExtendStroke(p); err != nil {
			return err
		}
	}
	stroke, err := s.EndStroke()
	if err != nil {
		return err
	}
	if stroke == nil {
		return fmt.Errorf("stroke was discarded")
	}

	waitCtx, cancel := context.WithTimeout(ctx, opts.timeout)
	defer cancel()
	if err := s.WaitForAppends(waitCtx); err != nil {
		return fmt.Errorf("wait for store: %w", err)
	}
	_, err = fmt.Fprintf(out, "drew stroke %s with %d points\n", stroke.ID, len(stroke.Points))
	return err
}

// =============================================================================
// preview
// =============================================================================

func buildPreviewCmd(opts *globalOptions) *cobra.Command {
	var output string
	var size int
	cmd := &cobra.Command{
		Use:   "preview",
		Short: "Render a painting's stored strokes to a PNG",
		Example: `  canvasctl preview --painting 6f1c... -o canvas.png
  canvasctl preview --painting 6f1c... --size 600 > canvas.png`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPreview(cmd.Context(), opts, output, size, cmd.OutOrStdout())
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "", "Output file (defaults to stdout)")
	cmd.Flags().IntVar(&size, "size", preview.DefaultOptions().Size, "Width and height of the PNG in pixels")
	return cmd
}

func runPreview(ctx context.Context, opts *globalOptions, output string, size int, stdout io.Writer) error {
	if err := opts.requirePainting(); err != nil {
		return err
	}
	loadCtx, cancel := context.WithTimeout(ctx, opts.timeout)
	defer cancel()
	strokes, err := opts.store().LoadAll(loadCtx, opts.painting)
	if err != nil {
		return err
	}

	w := stdout
	if output != "" {
		f, err := os.Create(output)
		if err != nil {
			return fmt.Errorf("create %s: %w", output, err)
		}
		defer f.Close()
		w = f
	}

	previewOpts := preview.DefaultOptions()
	previewOpts.Size = size
	if err := preview.Encode(w, strokes, previewOpts); err != nil {
		return fmt.Errorf("encode preview: %w", err)
	}
	slog.Info("rendered preview", "painting", opts.painting, "strokes", len(strokes))
	return nil
}
