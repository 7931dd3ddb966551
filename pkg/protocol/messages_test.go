// ABOUTME: Tests for analysis frame decoding
// ABOUTME: Verifies JSON/MessagePack parsing, clamping and optional fields
package protocol

import (
	"errors"
	"math"
	"testing"

	"github.com/Resonate-Protocol/resonate-vis/pkg/analysis"
	"github.com/gorilla/websocket"
)

func TestDecodeJSONFrame(t *testing.T) {
	data := []byte(`{
		"fft": [0.1, 0.9],
		"waveform": [-0.5, 0.5],
		"peak": 0.75,
		"media": {
			"artist": "A",
			"title": "X",
			"album": "",
			"albumArt": "data:image/png;base64,AAAA",
			"artistImages": ["u1", "", "u2"],
			"detectionSource": "media_session",
			"dominantColors": [[255, 0, 10], [1, 2]],
			"genres": ["shoegaze"],
			"_profileVersion": 3,
			"_historyVersion": 7,
			"youtubeVideoId": "abc",
			"youtubeThumbnailUrl": "http://localhost:8766/media/thumbnails/abc.jpg"
		}
	}`)

	frame, err := DecodeFrame(websocket.TextMessage, data)
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}

	if len(frame.Bins) != 2 || frame.Bins[0] != 0.1 || frame.Bins[1] != 0.9 {
		t.Errorf("unexpected bins %v", frame.Bins)
	}
	if frame.Peak != 0.75 {
		t.Errorf("expected peak 0.75, got %v", frame.Peak)
	}

	tr := frame.Track
	if tr == nil {
		t.Fatal("expected track metadata")
	}
	if tr.Key() != (analysis.Key{Artist: "A", Title: "X"}) {
		t.Errorf("unexpected key %v", tr.Key())
	}
	if tr.Album != "" {
		t.Errorf("expected empty album, got %q", tr.Album)
	}
	if tr.AlbumArtRef == nil || *tr.AlbumArtRef != "data:image/png;base64,AAAA" {
		t.Errorf("unexpected album art ref %v", tr.AlbumArtRef)
	}
	if len(tr.ArtistImageRefs) != 2 {
		t.Errorf("expected empty artist refs to be dropped, got %v", tr.ArtistImageRefs)
	}
	if tr.Source != analysis.SourceMediaSession {
		t.Errorf("expected media session source, got %q", tr.Source)
	}
	if len(tr.DominantColors) != 1 || tr.DominantColors[0].R != 255 {
		t.Errorf("unexpected colors %v", tr.DominantColors)
	}
	if tr.EnrichmentVersion != 3 || tr.HistoryVersion != 7 {
		t.Errorf("unexpected versions %d/%d", tr.EnrichmentVersion, tr.HistoryVersion)
	}
	if tr.Video == nil || tr.Video.ID != "abc" {
		t.Errorf("unexpected video %+v", tr.Video)
	}
	if tr.ThumbnailRef == nil {
		t.Error("expected thumbnail ref")
	}
}

func TestDecodeAbsentVersusEmpty(t *testing.T) {
	frame, err := DecodeFrame(websocket.TextMessage, []byte(`{"media":{"artist":"A","title":"X","albumArt":null}}`))
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if frame.Track.AlbumArtRef != nil {
		t.Error("null album art should be absent")
	}

	frame, err = DecodeFrame(websocket.TextMessage, []byte(`{"media":{"artist":"A","title":"X","albumArt":""}}`))
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if frame.Track.AlbumArtRef != nil {
		t.Error("empty album art reference should be absent")
	}
}

func TestDecodeMediaWithoutIdentity(t *testing.T) {
	frame, err := DecodeFrame(websocket.TextMessage, []byte(`{"fft":[0.5],"media":{"artist":"","title":"","album":"Z"}}`))
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if frame.Track != nil {
		t.Errorf("expected no track for metadata without artist/title, got %+v", frame.Track)
	}
}

func TestDecodeClampsValues(t *testing.T) {
	frame, err := DecodeFrame(websocket.TextMessage, []byte(`{"fft":[-0.5,1.5],"waveform":[-3,3],"peak":2}`))
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}

	if frame.Bins[0] != 0 || frame.Bins[1] != 1 {
		t.Errorf("bins not clamped: %v", frame.Bins)
	}
	if frame.Waveform[0] != -1 || frame.Waveform[1] != 1 {
		t.Errorf("waveform not clamped: %v", frame.Waveform)
	}
	if frame.Peak != 1 {
		t.Errorf("peak not clamped: %v", frame.Peak)
	}
}

func TestDecodeMalformed(t *testing.T) {
	tests := []struct {
		name string
		data string
	}{
		{"garbage", "not json"},
		{"truncated", `{"fft":[0.1,`},
		{"array", `[0.1, 0.2]`},
		{"null", `null`},
		{"wrong type", `{"fft":"loud"}`},
		{"wrong media type", `{"media":"A - X"}`},
	}

	for _, tt := range tests {
		if _, err := DecodeFrame(websocket.TextMessage, []byte(tt.data)); err == nil {
			t.Errorf("%s: expected error", tt.name)
		}
	}

	if _, err := DecodeFrame(websocket.TextMessage, []byte(`null`)); !errors.Is(err, ErrEmptyFrame) {
		t.Errorf("expected ErrEmptyFrame for null, got %v", err)
	}
}

func TestDecodeMsgpackFrame(t *testing.T) {
	artist, title := "A", "X"
	version := 2
	peak := 0.5

	data, err := EncodeMsgpack(&WireFrame{
		FFT:   []float64{0.25, 0.5},
		Peak:  &peak,
		Media: &Media{Artist: &artist, Title: &title, ProfileVersion: &version, ArtistImages: []string{"u1"}},
	})
	if err != nil {
		t.Fatalf("encode failed: %v", err)
	}

	frame, err := DecodeFrame(websocket.BinaryMessage, data)
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}

	if len(frame.Bins) != 2 || frame.Bins[1] != 0.5 {
		t.Errorf("unexpected bins %v", frame.Bins)
	}
	if frame.Track == nil || frame.Track.EnrichmentVersion != 2 {
		t.Fatalf("unexpected track %+v", frame.Track)
	}
	if len(frame.Track.ArtistImageRefs) != 1 {
		t.Errorf("unexpected artist refs %v", frame.Track.ArtistImageRefs)
	}
}

func TestDecodeMsgpackRejectsNaN(t *testing.T) {
	data, err := EncodeMsgpack(&WireFrame{FFT: []float64{0.1, math.NaN()}})
	if err != nil {
		t.Fatalf("encode failed: %v", err)
	}

	if _, err := DecodeFrame(websocket.BinaryMessage, data); err == nil {
		t.Error("expected NaN bins to be rejected")
	}

	if _, err := DecodeFrame(websocket.BinaryMessage, []byte{0xc1}); err == nil {
		t.Error("expected invalid msgpack to be rejected")
	}
}
