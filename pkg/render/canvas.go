// ABOUTME: Canvas visualizer backends drawn with gg
// ABOUTME: Bars, waveform and radial views with track artwork backdrops
package render

import (
	"image"
	"image/color"
	"math"
	"time"

	"github.com/Resonate-Protocol/resonate-vis/pkg/analysis"
	"github.com/Resonate-Protocol/resonate-vis/pkg/artwork"
	"github.com/fogleman/gg"
)

// artistCycle is how long each artist image stays on screen
const artistCycle = 8 * time.Second

var (
	background   = color.RGBA{12, 12, 28, 255}
	defaultColor = color.RGBA{90, 200, 250, 255}
)

// smoother applies fast-attack slow-decay smoothing to bins
type smoother struct {
	prev []float64
}

func (s *smoother) apply(bins []float64) []float64 {
	if len(s.prev) != len(bins) {
		s.prev = make([]float64, len(bins))
	}
	for i, v := range bins {
		if v > s.prev[i] {
			s.prev[i] = v*0.6 + s.prev[i]*0.4
		} else {
			s.prev[i] = v*0.25 + s.prev[i]*0.75
		}
	}
	return s.prev
}

func (s *smoother) reset() {
	s.prev = nil
}

func canvasFor(s Surface) (*Canvas, error) {
	c, ok := s.(*Canvas)
	if !ok {
		return nil, ErrIncompatibleSurface
	}
	return c, nil
}

// accent picks the drawing color from the track's dominant colors
func accent(frame *analysis.Frame) color.RGBA {
	if frame != nil && frame.Track != nil {
		if c, ok := frame.Track.Accent(); ok {
			return c
		}
	}
	return defaultColor
}

func fillBackground(dc *gg.Context) {
	dc.SetColor(background)
	dc.Clear()
}

// drawCover scales img to cover the rect and dims it
func drawCover(dc *gg.Context, img image.Image, x, y, w, h, dim float64) {
	if img == nil {
		return
	}
	b := img.Bounds()
	scale := math.Max(w/float64(b.Dx()), h/float64(b.Dy()))

	dc.Push()
	dc.DrawRectangle(x, y, w, h)
	dc.Clip()
	dc.Translate(x+w/2, y+h/2)
	dc.Scale(scale, scale)
	dc.DrawImageAnchored(img, 0, 0, 0.5, 0.5)
	dc.Pop()
	dc.ResetClip()

	dc.SetRGBA(0, 0, 0, dim)
	dc.DrawRectangle(x, y, w, h)
	dc.Fill()
}

// textureImage returns the pixels of a, or nil if unavailable
func textureImage(a *artwork.Asset) image.Image {
	if a == nil || a.Texture == nil {
		return nil
	}
	return a.Texture.Image()
}

// cycledArtist picks the artist image to show at elapsed
func cycledArtist(assets *artwork.Assets, elapsed time.Duration) image.Image {
	if len(assets.Artists) == 0 {
		return nil
	}
	i := int(elapsed/artistCycle) % len(assets.Artists)
	return textureImage(assets.Artists[i])
}

// bars draws frequency bins as vertical bars over the album art
type bars struct {
	canvas *Canvas
	smooth smoother
}

func newBars(s Surface) (Backend, error) {
	c, err := canvasFor(s)
	if err != nil {
		return nil, err
	}
	return &bars{canvas: c}, nil
}

func (b *bars) Render(in Input) error {
	dc := b.canvas.Context()
	w, h := float64(dc.Width()), float64(dc.Height())

	fillBackground(dc)
	drawCover(dc, textureImage(in.Assets.AlbumArt), 0, 0, w, h, 0.7)

	if in.Frame == nil || len(in.Frame.Bins) == 0 {
		return nil
	}

	bins := b.smooth.apply(in.Frame.Bins)
	c := accent(in.Frame)
	slot := w / float64(len(bins))
	gap := math.Min(2, slot/4)

	for i, v := range bins {
		bh := v * h * 0.9
		alpha := 0.5 + v/2
		dc.SetRGBA255(int(c.R), int(c.G), int(c.B), int(alpha*255))
		dc.DrawRectangle(float64(i)*slot+gap/2, h-bh, slot-gap, bh)
		dc.Fill()
	}

	// Peak marker
	py := h - in.Frame.Peak*h*0.9
	dc.SetRGBA(1, 1, 1, 0.6)
	dc.SetLineWidth(1)
	dc.DrawLine(0, py, w, py)
	dc.Stroke()
	return nil
}

func (b *bars) Release() {
	b.smooth.reset()
	b.canvas = nil
}

// waveform draws the time-domain signal over cycling artist images
type waveform struct {
	canvas *Canvas
}

func newWaveform(s Surface) (Backend, error) {
	c, err := canvasFor(s)
	if err != nil {
		return nil, err
	}
	return &waveform{canvas: c}, nil
}

func (wf *waveform) Render(in Input) error {
	dc := wf.canvas.Context()
	w, h := float64(dc.Width()), float64(dc.Height())

	fillBackground(dc)
	drawCover(dc, cycledArtist(in.Assets, in.Elapsed), 0, 0, w, h, 0.6)

	mid := h / 2
	if in.Frame == nil || len(in.Frame.Waveform) < 2 {
		dc.SetRGBA(1, 1, 1, 0.3)
		dc.DrawLine(0, mid, w, mid)
		dc.Stroke()
		return nil
	}

	samples := in.Frame.Waveform
	step := w / float64(len(samples)-1)
	amp := h * 0.4 * (0.5 + in.Frame.Peak/2)

	dc.SetColor(accent(in.Frame))
	dc.SetLineWidth(2)
	dc.MoveTo(0, mid-samples[0]*amp)
	for i := 1; i < len(samples); i++ {
		dc.LineTo(float64(i)*step, mid-samples[i]*amp)
	}
	dc.Stroke()
	return nil
}

func (wf *waveform) Release() {
	wf.canvas = nil
}

// radial draws bins as spokes around the album art
type radial struct {
	canvas *Canvas
	smooth smoother
}

func newRadial(s Surface) (Backend, error) {
	c, err := canvasFor(s)
	if err != nil {
		return nil, err
	}
	return &radial{canvas: c}, nil
}

func (r *radial) Render(in Input) error {
	dc := r.canvas.Context()
	w, h := float64(dc.Width()), float64(dc.Height())
	cx, cy := w/2, h/2
	radius := math.Min(w, h) * 0.22

	fillBackground(dc)

	peak := 0.0
	if in.Frame != nil {
		peak = in.Frame.Peak
	}
	pulse := radius * (1 + peak*0.1)

	if img := textureImage(in.Assets.AlbumArt); img != nil {
		b := img.Bounds()
		scale := 2 * pulse / math.Min(float64(b.Dx()), float64(b.Dy()))

		dc.Push()
		dc.DrawCircle(cx, cy, pulse)
		dc.Clip()
		dc.Translate(cx, cy)
		dc.Scale(scale, scale)
		dc.DrawImageAnchored(img, 0, 0, 0.5, 0.5)
		dc.Pop()
		dc.ResetClip()
	} else {
		dc.SetRGBA(1, 1, 1, 0.08)
		dc.DrawCircle(cx, cy, pulse)
		dc.Fill()
	}

	if in.Frame == nil || len(in.Frame.Bins) == 0 {
		return nil
	}

	bins := r.smooth.apply(in.Frame.Bins)
	c := accent(in.Frame)
	maxLen := math.Min(w, h)/2 - pulse - 4

	dc.SetColor(c)
	dc.SetLineWidth(math.Max(1, 2*math.Pi*pulse/float64(len(bins))/2))
	for i, v := range bins {
		angle := 2*math.Pi*float64(i)/float64(len(bins)) - math.Pi/2
		cos, sin := math.Cos(angle), math.Sin(angle)
		inner := pulse + 2
		outer := inner + v*maxLen
		dc.DrawLine(cx+cos*inner, cy+sin*inner, cx+cos*outer, cy+sin*outer)
		dc.Stroke()
	}
	return nil
}

func (r *radial) Release() {
	r.smooth.reset()
	r.canvas = nil
}
