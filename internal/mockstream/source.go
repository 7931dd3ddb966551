// ABOUTME: Synthetic analysis source for the development stream server
// ABOUTME: Generates tone spectra, waveforms and a rotating playlist with enrichment
package mockstream

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"image/color"
	"math"
	"sync"
	"time"

	"github.com/fogleman/gg"

	"github.com/Resonate-Protocol/resonate-vis/pkg/history"
	"github.com/Resonate-Protocol/resonate-vis/pkg/protocol"
)

const (
	DefaultBins    = 64
	DefaultSamples = 128
	maxHistory     = 50
	coverSize      = 64
)

// Track is one playlist entry
type Track struct {
	Artist     string
	Title      string
	Album      string
	Genres     []string
	Colors     [][]int
	Visualizer string
	Source     string
	Frequency  float64
}

// DefaultPlaylist cycles through a few tones with distinct metadata
var DefaultPlaylist = []Track{
	{Artist: "Test Tone", Title: "A4", Album: "Reference Signals", Genres: []string{"test"},
		Colors: [][]int{{220, 60, 90}, {40, 20, 60}}, Visualizer: "bars", Source: "media-session-api", Frequency: 440},
	{Artist: "Test Tone", Title: "A2", Album: "Reference Signals", Genres: []string{"test", "bass"},
		Colors: [][]int{{40, 120, 220}, {10, 20, 40}}, Visualizer: "radial", Source: "fingerprint", Frequency: 110},
	{Artist: "Sweep Ensemble", Title: "Rising", Album: "Chirps", Genres: []string{"ambient"},
		Colors: [][]int{{90, 200, 120}, {20, 40, 30}}, Visualizer: "waveform", Source: "dom-scrape", Frequency: 880},
}

// ToneSource produces one wire frame per call, advancing through the playlist
type ToneSource struct {
	mu sync.Mutex

	playlist      []Track
	trackDuration time.Duration
	enrichAfter   time.Duration
	bins          int
	samples       int

	current        int
	started        bool
	trackStart     time.Time
	historyVersion int
	history        []history.Entry
	covers         map[int]string
}

// NewToneSource creates a source; zero durations never rotate or enrich
func NewToneSource(playlist []Track, trackDuration, enrichAfter time.Duration) *ToneSource {
	if len(playlist) == 0 {
		playlist = DefaultPlaylist
	}
	return &ToneSource{
		playlist:      playlist,
		trackDuration: trackDuration,
		enrichAfter:   enrichAfter,
		bins:          DefaultBins,
		samples:       DefaultSamples,
		covers:        make(map[int]string),
	}
}

// Next returns the frame for time now
func (s *ToneSource) Next(now time.Time) *protocol.WireFrame {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.started {
		s.started = true
		s.startTrack(0, now)
	} else if s.trackDuration > 0 && now.Sub(s.trackStart) >= s.trackDuration {
		s.startTrack((s.current+1)%len(s.playlist), now)
	}

	track := s.playlist[s.current]
	elapsed := now.Sub(s.trackStart).Seconds()

	// A slow beat modulates the level
	level := 0.55 + 0.45*math.Abs(math.Sin(2*math.Pi*elapsed))

	wave := make([]float64, s.samples)
	for i := range wave {
		t := elapsed + float64(i)/float64(s.samples)/track.Frequency*4
		wave[i] = level * math.Sin(2*math.Pi*track.Frequency*t)
	}

	fft := make([]float64, s.bins)
	center := float64(s.bins) * math.Log2(track.Frequency/55) / 6
	peak := 0.0
	for i := range fft {
		d := float64(i) - center
		v := level * math.Exp(-d*d/8)
		// First harmonic
		d2 := float64(i) - center - float64(s.bins)/6
		v += 0.5 * level * math.Exp(-d2*d2/8)
		fft[i] = math.Min(v, 1)
		peak = math.Max(peak, fft[i])
	}

	frame := &protocol.WireFrame{
		FFT:      fft,
		Waveform: wave,
		Peak:     &peak,
		Media:    s.media(track, now),
	}
	return frame
}

func (s *ToneSource) startTrack(idx int, now time.Time) {
	s.current = idx
	s.trackStart = now
	s.historyVersion++

	t := s.playlist[idx]
	entry := history.Entry{Artist: t.Artist, Title: t.Title, Album: t.Album, Source: t.Source, Timestamp: now}
	s.history = append([]history.Entry{entry}, s.history...)
	if len(s.history) > maxHistory {
		s.history = s.history[:maxHistory]
	}
}

func (s *ToneSource) media(t Track, now time.Time) *protocol.Media {
	art := s.cover(s.current, t)
	hv := s.historyVersion
	m := &protocol.Media{
		Artist:          &t.Artist,
		Title:           &t.Title,
		Album:           &t.Album,
		AlbumArt:        &art,
		DetectionSource: &t.Source,
		HistoryVersion:  &hv,
	}

	if s.enrichAfter > 0 && now.Sub(s.trackStart) >= s.enrichAfter {
		version := 1
		m.ProfileVersion = &version
		m.Genres = t.Genres
		m.DominantColors = t.Colors
		m.PreferredVisualizer = &t.Visualizer
	}
	return m
}

// cover renders a gradient album cover for the track as a PNG data URI
func (s *ToneSource) cover(idx int, t Track) string {
	if uri, ok := s.covers[idx]; ok {
		return uri
	}

	dc := gg.NewContext(coverSize, coverSize)
	grad := gg.NewLinearGradient(0, 0, coverSize, coverSize)
	for i, c := range t.Colors {
		if len(c) < 3 {
			continue
		}
		stop := float64(i) / math.Max(1, float64(len(t.Colors)-1))
		grad.AddColorStop(stop, rgb(c))
	}
	dc.SetFillStyle(grad)
	dc.DrawRectangle(0, 0, coverSize, coverSize)
	dc.Fill()

	dc.SetRGBA(1, 1, 1, 0.8)
	dc.DrawCircle(coverSize/2, coverSize/2, coverSize/4)
	dc.Stroke()

	var buf bytes.Buffer
	if err := dc.EncodePNG(&buf); err != nil {
		return ""
	}
	uri := "data:image/png;base64," + base64.StdEncoding.EncodeToString(buf.Bytes())
	s.covers[idx] = uri
	return uri
}

// History returns the plays so far, newest first
func (s *ToneSource) History() []history.Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]history.Entry(nil), s.history...)
}

// Current describes the playing track
func (s *ToneSource) Current() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	t := s.playlist[s.current]
	return fmt.Sprintf("%s - %s", t.Artist, t.Title)
}

func rgb(c []int) color.Color {
	return color.RGBA{R: uint8(c[0]), G: uint8(c[1]), B: uint8(c[2]), A: 255}
}
