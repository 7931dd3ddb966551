// ABOUTME: Render surfaces for visualizer backends
// ABOUTME: 2D canvas backed by gg and a terminal cell surface for the TUI
package render

import (
	"fmt"
	"image"
	"image/draw"
	"strings"
	"sync"
	"time"

	"github.com/fogleman/gg"
)

// SurfaceKind identifies what a backend can draw on
type SurfaceKind int

const (
	KindCanvas SurfaceKind = iota
	KindText
)

func (k SurfaceKind) String() string {
	switch k {
	case KindCanvas:
		return "canvas"
	case KindText:
		return "text"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Surface is an output a backend renders into. Size is in pixels for a
// canvas and in cells for a text surface.
type Surface interface {
	Kind() SurfaceKind
	Size() (width, height int)
	Resize(width, height int) error
	Present() error
}

// PresentFunc receives the canvas image after each rendered frame. The
// image is only valid for the duration of the call.
type PresentFunc func(img image.Image) error

// Canvas is a 2D raster surface
type Canvas struct {
	mu       sync.Mutex
	dc       *gg.Context
	width    int
	height   int
	sink     PresentFunc
	presents uint64
}

// NewCanvas creates a canvas; sink may be nil
func NewCanvas(width, height int, sink PresentFunc) *Canvas {
	width, height = max(1, width), max(1, height)
	return &Canvas{
		dc:     gg.NewContext(width, height),
		width:  width,
		height: height,
		sink:   sink,
	}
}

// Kind implements Surface
func (c *Canvas) Kind() SurfaceKind { return KindCanvas }

// Size implements Surface
func (c *Canvas) Size() (int, int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.width, c.height
}

// Resize reallocates the drawing context
func (c *Canvas) Resize(width, height int) error {
	if width <= 0 || height <= 0 {
		return fmt.Errorf("invalid canvas size %dx%d", width, height)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.dc = gg.NewContext(width, height)
	c.width, c.height = width, height
	return nil
}

// Context returns the drawing context for the current frame. It is
// replaced on Resize, so backends fetch it every frame.
func (c *Canvas) Context() *gg.Context {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.dc
}

// Present hands the finished frame to the sink
func (c *Canvas) Present() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.presents++
	if c.sink == nil {
		return nil
	}
	return c.sink(c.dc.Image())
}

// Snapshot returns a copy of the current canvas contents
func (c *Canvas) Snapshot() *image.RGBA {
	c.mu.Lock()
	defer c.mu.Unlock()

	src := c.dc.Image()
	dst := image.NewRGBA(src.Bounds())
	draw.Draw(dst, dst.Bounds(), src, src.Bounds().Min, draw.Src)
	return dst
}

// Presents returns how many frames have been presented
func (c *Canvas) Presents() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.presents
}

// PNGSink writes at most one frame per interval to path
func PNGSink(path string, interval time.Duration) PresentFunc {
	var last time.Time
	return func(img image.Image) error {
		now := time.Now()
		if !last.IsZero() && now.Sub(last) < interval {
			return nil
		}
		last = now

		if err := gg.SavePNG(path, img); err != nil {
			return fmt.Errorf("failed to write snapshot: %w", err)
		}
		return nil
	}
}

// TextSurface is a grid of terminal cells. Backends write whole lines;
// Present hands the joined view to the consumer.
type TextSurface struct {
	mu      sync.Mutex
	cols    int
	rows    int
	lines   []string
	view    string
	present func(view string)
}

// NewTextSurface creates a text surface; present may be nil
func NewTextSurface(cols, rows int, present func(view string)) *TextSurface {
	return &TextSurface{
		cols:    max(1, cols),
		rows:    max(1, rows),
		present: present,
	}
}

// Kind implements Surface
func (t *TextSurface) Kind() SurfaceKind { return KindText }

// Size implements Surface
func (t *TextSurface) Size() (int, int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.cols, t.rows
}

// Resize implements Surface
func (t *TextSurface) Resize(cols, rows int) error {
	if cols <= 0 || rows <= 0 {
		return fmt.Errorf("invalid text surface size %dx%d", cols, rows)
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	t.cols, t.rows = cols, rows
	t.lines = nil
	return nil
}

// SetLines replaces the frame contents; extra lines are dropped
func (t *TextSurface) SetLines(lines []string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if len(lines) > t.rows {
		lines = lines[:t.rows]
	}
	t.lines = lines
}

// Present implements Surface
func (t *TextSurface) Present() error {
	t.mu.Lock()
	view := strings.Join(t.lines, "\n")
	t.view = view
	present := t.present
	t.mu.Unlock()

	if present != nil {
		present(view)
	}
	return nil
}

// View returns the last presented frame
func (t *TextSurface) View() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.view
}
