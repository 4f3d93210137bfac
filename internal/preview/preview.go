// Package preview rasterises a painting's strokes into a small PNG thumbnail
// for painting cards.
package preview

import (
	"image"
	"image/color"
	"image/draw"
	"image/png"
	"io"
	"math"
	"strconv"
	"strings"

	"event-canvas-backend/internal/models"

	"golang.org/x/image/colornames"
	"golang.org/x/image/vector"
)

type Options struct {
	// Size is the edge length of the square thumbnail in pixels.
	Size         int
	CanvasWidth  int
	CanvasHeight int
	// LineWidth is in canvas units and is scaled with the strokes.
	LineWidth  float64
	Background color.Color
}

func DefaultOptions() Options {
	return Options{
		Size:         150,
		CanvasWidth:  300,
		CanvasHeight: 300,
		LineWidth:    3,
		Background:   color.White,
	}
}

func (o Options) normalized() Options {
	d := DefaultOptions()
	if o.Size <= 0 {
		o.Size = d.Size
	}
	if o.CanvasWidth <= 0 {
		o.CanvasWidth = d.CanvasWidth
	}
	if o.CanvasHeight <= 0 {
		o.CanvasHeight = d.CanvasHeight
	}
	if o.LineWidth <= 0 {
		o.LineWidth = d.LineWidth
	}
	if o.Background == nil {
		o.Background = d.Background
	}
	return o
}

// Render draws strokes in order, each as a polyline with round caps and
// joins. Strokes with fewer than two points are skipped.
func Render(strokes []models.Stroke, opts Options) *image.RGBA {
	opts = opts.normalized()
	bounds := image.Rect(0, 0, opts.Size, opts.Size)
	img := image.NewRGBA(bounds)
	draw.Draw(img, bounds, image.NewUniform(opts.Background), image.Point{}, draw.Src)

	sx := float64(opts.Size) / float64(opts.CanvasWidth)
	sy := float64(opts.Size) / float64(opts.CanvasHeight)
	radius := opts.LineWidth * math.Min(sx, sy) / 2

	r := vector.NewRasterizer(opts.Size, opts.Size)
	for _, s := range strokes {
		if len(s.Points) < models.MinStrokePoints {
			continue
		}
		r.Reset(opts.Size, opts.Size)
		scaled := make([]models.Point, 0, len(s.Points))
		for _, p := range s.Points {
			if !p.Finite() {
				continue
			}
			scaled = append(scaled, models.Point{X: p.X * sx, Y: p.Y * sy})
		}
		for i, p := range scaled {
			disc(r, p, radius)
			if i > 0 {
				segment(r, scaled[i-1], p, radius)
			}
		}
		r.Draw(img, bounds, image.NewUniform(ParseColor(s.Color)), image.Point{})
	}
	return img
}

// Encode renders strokes and writes them as PNG.
func Encode(w io.Writer, strokes []models.Stroke, opts Options) error {
	return png.Encode(w, Render(strokes, opts))
}

// Every shape is wound the same way so overlapping coverage never cancels.

func segment(r *vector.Rasterizer, p, q models.Point, radius float64) {
	length := p.Distance(q)
	if length == 0 {
		return
	}
	nx := -(q.Y - p.Y) / length * radius
	ny := (q.X - p.X) / length * radius
	r.MoveTo(float32(p.X+nx), float32(p.Y+ny))
	r.LineTo(float32(q.X+nx), float32(q.Y+ny))
	r.LineTo(float32(q.X-nx), float32(q.Y-ny))
	r.LineTo(float32(p.X-nx), float32(p.Y-ny))
	r.ClosePath()
}

const discSides = 12

func disc(r *vector.Rasterizer, c models.Point, radius float64) {
	r.MoveTo(float32(c.X+radius), float32(c.Y))
	for i := 1; i < discSides; i++ {
		a := -2 * math.Pi * float64(i) / discSides
		r.LineTo(float32(c.X+radius*math.Cos(a)), float32(c.Y+radius*math.Sin(a)))
	}
	r.ClosePath()
}

// ParseColor understands the CSS forms users pick from: hex, rgb(), hsl()
// and named colours. Anything else is black.
func ParseColor(s string) color.RGBA {
	s = strings.ToLower(strings.TrimSpace(s))
	switch {
	case strings.HasPrefix(s, "#"):
		if c, ok := parseHex(s[1:]); ok {
			return c
		}
	case strings.HasPrefix(s, "rgb"):
		if v, ok := parseFunc(s, "rgb"); ok {
			return color.RGBA{R: clampByte(v[0]), G: clampByte(v[1]), B: clampByte(v[2]), A: 0xff}
		}
	case strings.HasPrefix(s, "hsl"):
		if v, ok := parseFunc(s, "hsl"); ok {
			return hsl(v[0], v[1]/100, v[2]/100)
		}
	default:
		if c, ok := colornames.Map[s]; ok {
			return c
		}
	}
	return color.RGBA{A: 0xff}
}

func parseHex(h string) (color.RGBA, bool) {
	if len(h) == 3 || len(h) == 4 {
		var b strings.Builder
		for _, r := range h {
			b.WriteRune(r)
			b.WriteRune(r)
		}
		h = b.String()
	}
	if len(h) != 6 && len(h) != 8 {
		return color.RGBA{}, false
	}
	if len(h) == 6 {
		h += "ff"
	}
	v, err := strconv.ParseUint(h, 16, 32)
	if err != nil {
		return color.RGBA{}, false
	}
	// image/color expects premultiplied alpha
	a := uint32(v & 0xff)
	pre := func(c uint32) uint8 { return uint8(c * a / 0xff) }
	return color.RGBA{R: pre(uint32(v >> 24)), G: pre(uint32(v>>16) & 0xff), B: pre(uint32(v>>8) & 0xff), A: uint8(a)}, true
}

// parseFunc reads the first three numeric arguments of name(...) or name+"a"(...).
func parseFunc(s, name string) ([3]float64, bool) {
	var out [3]float64
	s = strings.TrimPrefix(s, name)
	s = strings.TrimPrefix(s, "a")
	if !strings.HasPrefix(s, "(") || !strings.HasSuffix(s, ")") {
		return out, false
	}
	args := strings.FieldsFunc(s[1:len(s)-1], func(r rune) bool { return r == ',' || r == ' ' || r == '/' })
	if len(args) < 3 {
		return out, false
	}
	for i := 0; i < 3; i++ {
		arg := strings.TrimSuffix(strings.TrimSuffix(args[i], "%"), "deg")
		v, err := strconv.ParseFloat(arg, 64)
		if err != nil {
			return out, false
		}
		out[i] = v
	}
	return out, true
}

func hsl(h, s, l float64) color.RGBA {
	h = math.Mod(h, 360)
	if h < 0 {
		h += 360
	}
	s = clampUnit(s)
	l = clampUnit(l)
	c := (1 - math.Abs(2*l-1)) * s
	x := c * (1 - math.Abs(math.Mod(h/60, 2)-1))
	m := l - c/2

	var r, g, b float64
	switch {
	case h < 60:
		r, g, b = c, x, 0
	case h < 120:
		r, g, b = x, c, 0
	case h < 180:
		r, g, b = 0, c, x
	case h < 240:
		r, g, b = 0, x, c
	case h < 300:
		r, g, b = x, 0, c
	default:
		r, g, b = c, 0, x
	}
	return color.RGBA{
		R: clampByte((r + m) * 255),
		G: clampByte((g + m) * 255),
		B: clampByte((b + m) * 255),
		A: 0xff,
	}
}

func clampUnit(v float64) float64 {
	return math.Max(0, math.Min(1, v))
}

func clampByte(v float64) uint8 {
	return uint8(math.Round(math.Max(0, math.Min(255, v))))
}
