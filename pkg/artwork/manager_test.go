// ABOUTME: Tests for the artwork manager
// ABOUTME: Covers caching, bounded fan-out, the disposal grace window and late loads
package artwork

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/Resonate-Protocol/resonate-vis/pkg/analysis"
)

// fakeSource serves a tiny PNG for every reference and counts fetches.
// References starting with "bad" fail. Blocked references wait for release.
type fakeSource struct {
	mu      sync.Mutex
	fetches map[string]int
	blocked map[string]chan struct{}
}

func newFakeSource() *fakeSource {
	return &fakeSource{
		fetches: make(map[string]int),
		blocked: make(map[string]chan struct{}),
	}
}

func (s *fakeSource) block(ref string) func() {
	ch := make(chan struct{})
	s.mu.Lock()
	s.blocked[ref] = ch
	s.mu.Unlock()
	return func() { close(ch) }
}

func (s *fakeSource) Fetch(ctx context.Context, ref string) ([]byte, error) {
	s.mu.Lock()
	s.fetches[ref]++
	gate := s.blocked[ref]
	s.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	if strings.HasPrefix(ref, "bad") {
		return nil, errors.New("not found")
	}
	return testPNG(2, 2), nil
}

func (s *fakeSource) count(ref string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.fetches[ref]
}

func (s *fakeSource) total() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, c := range s.fetches {
		n += c
	}
	return n
}

func testPNG(w, h int) []byte {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for x := 0; x < w; x++ {
		for y := 0; y < h; y++ {
			img.Set(x, y, color.RGBA{R: 200, A: 255})
		}
	}
	var buf bytes.Buffer
	png.Encode(&buf, img)
	return buf.Bytes()
}

func strPtr(s string) *string { return &s }

func track(artist, title string, version int, album string, artists ...string) analysis.Track {
	t := analysis.Track{Artist: artist, Title: title, EnrichmentVersion: version, ArtistImageRefs: artists}
	if album != "" {
		t.AlbumArtRef = strPtr(album)
	}
	return t
}

// waitFor polls cond until it holds or the deadline passes
func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()

	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func newTestManager(t *testing.T, src Source) *Manager {
	t.Helper()
	m := NewManager(ManagerConfig{Source: src})
	t.Cleanup(m.Dispose)
	return m
}

func settled(m *Manager) func() bool {
	return func() bool { return m.Stats().Pending == 0 }
}

func textureOf(t *testing.T, m *Manager, ref string) *RGBATexture {
	t.Helper()
	for _, a := range m.Assets().All() {
		if a.Ref == ref {
			return a.Texture.(*RGBATexture)
		}
	}
	t.Fatalf("asset %s not visible", ref)
	return nil
}

func TestManagerLoadsTrackAssets(t *testing.T) {
	src := newFakeSource()
	m := newTestManager(t, src)

	if m.Assets() == nil || m.Assets().Len() != 0 {
		t.Fatal("expected empty initial asset set")
	}

	m.Update(track("A", "X", 0, "album", "a1", "bad1", "a2"))
	waitFor(t, "loads", settled(m))

	assets := m.Assets()
	if assets.AlbumArt == nil || assets.AlbumArt.Ref != "album" {
		t.Errorf("expected album art, got %+v", assets.AlbumArt)
	}
	if len(assets.Artists) != 2 || assets.Artists[0].Ref != "a1" || assets.Artists[1].Ref != "a2" {
		t.Errorf("expected artist images a1, a2 in order, got %v", refsOf(assets.Artists))
	}
	if n := len(m.Textures()); n != 3 {
		t.Errorf("expected 3 textures, got %d", n)
	}

	stats := m.Stats()
	if stats.Failures != 1 {
		t.Errorf("expected 1 skipped failure, got %d", stats.Failures)
	}
}

func TestManagerGraceWindow(t *testing.T) {
	src := newFakeSource()
	m := newTestManager(t, src)

	m.Update(track("A", "1", 0, "t1-art"))
	waitFor(t, "T1 assets", func() bool { return m.Assets().Len() == 1 })
	t1 := textureOf(t, m, "t1-art")

	m.Update(track("B", "2", 0, "t2-art"))
	waitFor(t, "T2 assets", func() bool { return m.Assets().Len() == 1 && m.Assets().AlbumArt.Ref == "t2-art" })

	if t1.Destroyed() {
		t.Fatal("T1 asset destroyed when T2 loaded")
	}
	for _, a := range m.Assets().All() {
		if a.Ref == "t1-art" {
			t.Fatal("stale asset exposed to readers")
		}
	}

	m.Update(track("C", "3", 0, "t3-art"))
	waitFor(t, "T3 assets", func() bool { return m.Assets().Len() == 1 && m.Assets().AlbumArt.Ref == "t3-art" })

	if !t1.Destroyed() {
		t.Error("T1 asset should be destroyed after T3 loads")
	}
	if m.Stats().Destroyed != 1 {
		t.Errorf("expected 1 destroyed asset, got %d", m.Stats().Destroyed)
	}
}

func TestManagerReusesStaleAsset(t *testing.T) {
	src := newFakeSource()
	m := newTestManager(t, src)

	m.Update(track("A", "1", 0, "shared"))
	waitFor(t, "T1 assets", func() bool { return m.Assets().Len() == 1 })
	shared := textureOf(t, m, "shared")

	m.Update(track("B", "2", 0, "t2-art"))
	waitFor(t, "T2 assets", func() bool { return m.Assets().Len() == 1 && m.Assets().AlbumArt.Ref == "t2-art" })

	// T3 reuses T1's image while it is still held by the stale generation
	m.Update(track("C", "3", 0, "shared"))
	waitFor(t, "T3 assets", settled(m))

	if shared.Destroyed() {
		t.Fatal("reused asset destroyed on the T3 transition")
	}
	if got := textureOf(t, m, "shared"); got != shared {
		t.Error("expected T3 to reuse the cached texture")
	}
	if n := src.count("shared"); n != 1 {
		t.Errorf("expected 1 fetch for the reused reference, got %d", n)
	}
	if d := m.Stats().Destroyed; d != 0 {
		t.Errorf("expected nothing destroyed yet, got %d", d)
	}

	m.Update(track("D", "4", 0, "t4-art"))
	m.Update(track("E", "5", 0, "t5-art"))
	waitFor(t, "T5 assets", settled(m))
	if !shared.Destroyed() {
		t.Error("asset should be destroyed once no track holds it")
	}
}

func TestManagerSharedReference(t *testing.T) {
	src := newFakeSource()
	m := newTestManager(t, src)

	m.Update(track("A", "1", 0, "shared"))
	waitFor(t, "T1", settled(m))
	shared := textureOf(t, m, "shared")

	m.Update(track("B", "2", 0, "shared"))
	waitFor(t, "T2", settled(m))

	if n := src.count("shared"); n != 1 {
		t.Errorf("expected 1 fetch for shared reference, got %d", n)
	}
	if m.Stats().Cached != 1 {
		t.Errorf("expected a single cache entry, got %d", m.Stats().Cached)
	}
	if textureOf(t, m, "shared") != shared {
		t.Error("expected the same cached asset to be reused")
	}

	// T1's hold is released at T3 but T2's stale hold keeps it alive
	m.Update(track("C", "3", 0, ""))
	if shared.Destroyed() {
		t.Fatal("shared asset destroyed while still held by the previous track")
	}

	m.Update(track("D", "4", 0, ""))
	if !shared.Destroyed() {
		t.Error("shared asset should be destroyed once no generation holds it")
	}
}

func TestManagerBoundsArtistImages(t *testing.T) {
	src := newFakeSource()
	m := newTestManager(t, src)

	var refs []string
	for i := 0; i < 15; i++ {
		refs = append(refs, fmt.Sprintf("artist-%d", i))
	}

	m.Update(track("A", "X", 0, "", refs...))
	waitFor(t, "loads", settled(m))

	if n := src.total(); n != MaxArtistImages {
		t.Errorf("expected %d load attempts, got %d", MaxArtistImages, n)
	}
	if n := len(m.Assets().Artists); n != MaxArtistImages {
		t.Errorf("expected %d artist images, got %d", MaxArtistImages, n)
	}
	if m.Stats().Loads != MaxArtistImages {
		t.Errorf("expected %d loads, got %d", MaxArtistImages, m.Stats().Loads)
	}
}

func TestManagerEnrichmentLoadsOnlyNewReferences(t *testing.T) {
	src := newFakeSource()
	m := newTestManager(t, src)

	// Mirrors a stream that announces A/X, then enriches it with u1
	m.Update(track("A", "X", 0, ""))
	m.Update(track("A", "X", 1, "", "u1"))
	waitFor(t, "u1", settled(m))

	if n := src.count("u1"); n != 1 {
		t.Errorf("expected exactly 1 load for u1, got %d", n)
	}

	m.Update(track("A", "X", 2, "art", "u1"))
	waitFor(t, "art", settled(m))

	if n := src.count("u1"); n != 1 {
		t.Errorf("enrichment reloaded u1: %d fetches", n)
	}
	if m.Assets().Len() != 2 {
		t.Errorf("expected album art and u1, got %d assets", m.Assets().Len())
	}
	if m.Stats().Destroyed != 0 {
		t.Error("enrichment must not destroy assets")
	}
}

func TestManagerLateCompletion(t *testing.T) {
	src := newFakeSource()
	m := newTestManager(t, src)

	release := src.block("slow")
	m.Update(track("A", "1", 0, "slow"))
	m.Update(track("B", "2", 0, "fast"))
	waitFor(t, "fast", func() bool { return m.Assets().Len() == 1 })

	release()
	waitFor(t, "slow completion", settled(m))

	for _, a := range m.Assets().All() {
		if a.Ref == "slow" {
			t.Fatal("superseded reference exposed to current track")
		}
	}
	if m.Stats().Cached != 2 {
		t.Errorf("expected late completion to be cached, got %d entries", m.Stats().Cached)
	}

	// Enrichment of the current track reusing it hits the cache
	m.Update(track("B", "2", 1, "fast", "slow"))
	if len(m.Assets().Artists) != 1 || m.Assets().Artists[0].Ref != "slow" {
		t.Error("expected cached late completion to be reused immediately")
	}
	if n := src.count("slow"); n != 1 {
		t.Errorf("expected 1 fetch for slow, got %d", n)
	}
}

func TestManagerDispose(t *testing.T) {
	src := newFakeSource()
	m := NewManager(ManagerConfig{Source: src})

	m.Update(track("A", "1", 0, "one"))
	waitFor(t, "T1", settled(m))
	one := textureOf(t, m, "one")

	m.Update(track("B", "2", 0, "two"))
	waitFor(t, "T2", settled(m))
	two := textureOf(t, m, "two")

	release := src.block("never")
	defer release()
	m.Update(track("B", "2", 1, "two", "never"))

	m.Dispose()
	m.Dispose()

	if !one.Destroyed() || !two.Destroyed() {
		t.Error("expected active and stale assets to be destroyed")
	}
	if m.Assets().Len() != 0 {
		t.Error("expected empty asset set after dispose")
	}

	// Updates after dispose are ignored
	m.Update(track("C", "3", 0, "three"))
	if src.count("three") != 0 {
		t.Error("update after dispose should not load")
	}
}

func TestManagerOnChange(t *testing.T) {
	src := newFakeSource()

	var mu sync.Mutex
	var last *Assets
	m := NewManager(ManagerConfig{
		Source: src,
		OnChange: func(a *Assets) {
			mu.Lock()
			last = a
			mu.Unlock()
		},
	})
	defer m.Dispose()

	m.Update(track("A", "1", 0, "art"))
	waitFor(t, "change", func() bool {
		mu.Lock()
		defer mu.Unlock()
		return last != nil && last.AlbumArt != nil
	})

	mu.Lock()
	defer mu.Unlock()
	if last.Key != (analysis.Key{Artist: "A", Title: "1"}) {
		t.Errorf("unexpected snapshot key %v", last.Key)
	}
}

func refsOf(assets []*Asset) []string {
	var refs []string
	for _, a := range assets {
		refs = append(refs, a.Ref)
	}
	return refs
}
