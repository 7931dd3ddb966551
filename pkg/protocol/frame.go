// ABOUTME: Frame decoding for the analysis stream
// ABOUTME: Parses JSON/MessagePack frames and converts them to analysis values
package protocol

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"image/color"
	"math"
	"strings"

	"github.com/Resonate-Protocol/resonate-vis/pkg/analysis"
	"github.com/gorilla/websocket"
	"github.com/vmihailenco/msgpack/v5"
)

// ErrEmptyFrame is returned for a message that decodes to nothing
var ErrEmptyFrame = errors.New("empty frame")

// DecodeFrame parses a WebSocket message into an analysis frame.
// Text messages are JSON, binary messages are MessagePack.
func DecodeFrame(messageType int, data []byte) (*analysis.Frame, error) {
	var wire *WireFrame
	var err error

	switch messageType {
	case websocket.TextMessage:
		wire, err = decodeJSON(data)
	case websocket.BinaryMessage:
		wire, err = decodeMsgpack(data)
	default:
		return nil, fmt.Errorf("unsupported message type %d", messageType)
	}
	if err != nil {
		return nil, err
	}

	return wire.toFrame()
}

func decodeJSON(data []byte) (*WireFrame, error) {
	var wire *WireFrame
	if err := json.Unmarshal(data, &wire); err != nil {
		return nil, fmt.Errorf("invalid JSON frame: %w", err)
	}
	if wire == nil {
		return nil, ErrEmptyFrame
	}
	return wire, nil
}

func decodeMsgpack(data []byte) (*WireFrame, error) {
	dec := msgpack.NewDecoder(bytes.NewReader(data))
	dec.SetCustomStructTag("json")

	var wire *WireFrame
	if err := dec.Decode(&wire); err != nil {
		return nil, fmt.Errorf("invalid msgpack frame: %w", err)
	}
	if wire == nil {
		return nil, ErrEmptyFrame
	}
	return wire, nil
}

// EncodeMsgpack encodes a wire frame in the binary stream format
func EncodeMsgpack(wire *WireFrame) ([]byte, error) {
	var buf bytes.Buffer
	enc := msgpack.NewEncoder(&buf)
	enc.SetCustomStructTag("json")
	if err := enc.Encode(wire); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// toFrame validates and converts the wire frame. Out-of-range values are
// clamped; non-finite values reject the whole frame.
func (w *WireFrame) toFrame() (*analysis.Frame, error) {
	bins, err := clampAll(w.FFT, 0, 1)
	if err != nil {
		return nil, fmt.Errorf("fft: %w", err)
	}

	wave, err := clampAll(w.Waveform, -1, 1)
	if err != nil {
		return nil, fmt.Errorf("waveform: %w", err)
	}

	frame := &analysis.Frame{
		Bins:     bins,
		Waveform: wave,
	}

	if w.Peak != nil {
		if !finite(*w.Peak) {
			return nil, fmt.Errorf("peak: non-finite value")
		}
		frame.Peak = clamp(*w.Peak, 0, 1)
	}

	if w.Media != nil {
		frame.Track = w.Media.toTrack()
	}

	return frame, nil
}

// toTrack returns nil when the record has neither an artist nor a title
func (m *Media) toTrack() *analysis.Track {
	artist := strings.TrimSpace(deref(m.Artist))
	title := strings.TrimSpace(deref(m.Title))
	if artist == "" && title == "" {
		return nil
	}

	t := &analysis.Track{
		Artist:              artist,
		Title:               title,
		Album:               deref(m.Album),
		AlbumArtRef:         nonEmpty(m.AlbumArt),
		ThumbnailRef:        nonEmpty(m.YouTubeThumbnailURL),
		Source:              analysis.ParseDetectionSource(deref(m.DetectionSource)),
		EnrichmentVersion:   derefInt(m.ProfileVersion),
		HistoryVersion:      derefInt(m.HistoryVersion),
		Genres:              m.Genres,
		MoodTags:            m.MoodTags,
		PreferredVisualizer: deref(m.PreferredVisualizer),
	}

	for _, ref := range m.ArtistImages {
		if ref != "" {
			t.ArtistImageRefs = append(t.ArtistImageRefs, ref)
		}
	}

	for _, rgb := range m.DominantColors {
		if len(rgb) < 3 {
			continue
		}
		t.DominantColors = append(t.DominantColors, color.RGBA{
			R: channel(rgb[0]),
			G: channel(rgb[1]),
			B: channel(rgb[2]),
			A: 0xff,
		})
	}

	if id := deref(m.YouTubeVideoID); id != "" {
		t.Video = &analysis.VideoInfo{
			ID:       id,
			Title:    deref(m.YouTubeTitle),
			URL:      deref(m.YouTubeURL),
			Duration: derefInt(m.YouTubeDuration),
		}
	}

	return t
}

func clampAll(in []float64, lo, hi float64) ([]float64, error) {
	if len(in) == 0 {
		return nil, nil
	}
	out := make([]float64, len(in))
	for i, v := range in {
		if !finite(v) {
			return nil, fmt.Errorf("non-finite value at index %d", i)
		}
		out[i] = clamp(v, lo, hi)
	}
	return out, nil
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

func channel(v int) uint8 {
	return uint8(max(0, min(255, v)))
}

// deref safely dereferences a string pointer
func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func derefInt(n *int) int {
	if n == nil {
		return 0
	}
	return *n
}

// nonEmpty treats an empty reference as absent; an empty string cannot
// resolve to an image
func nonEmpty(s *string) *string {
	if s == nil || *s == "" {
		return nil
	}
	v := *s
	return &v
}
