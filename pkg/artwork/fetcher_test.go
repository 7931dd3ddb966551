// ABOUTME: Tests for image reference fetching and decoding
// ABOUTME: Tests data URIs, HTTP download, disk caching and error handling
package artwork

import (
	"context"
	"encoding/base64"
	"encoding/binary"
	"errors"
	"hash/crc32"
	"image"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func newTestFetcher(t *testing.T) *Fetcher {
	t.Helper()
	f, err := NewFetcher(t.TempDir())
	if err != nil {
		t.Fatalf("failed to create fetcher: %v", err)
	}
	return f
}

func TestNewFetcherDefaultDir(t *testing.T) {
	f, err := NewFetcher("")
	if err != nil {
		t.Fatalf("failed to create fetcher: %v", err)
	}
	defer f.Cleanup()

	if !strings.HasPrefix(f.cacheDir, os.TempDir()) {
		t.Errorf("cache directory should be in temp dir, got %s", f.cacheDir)
	}
	if _, err := os.Stat(f.cacheDir); os.IsNotExist(err) {
		t.Error("cache directory was not created")
	}
}

func TestFetchDataURI(t *testing.T) {
	f := newTestFetcher(t)
	ctx := context.Background()

	png := testPNG(3, 2)
	ref := "data:image/png;base64," + base64.StdEncoding.EncodeToString(png)

	data, err := f.Fetch(ctx, ref)
	if err != nil {
		t.Fatalf("fetch failed: %v", err)
	}

	img, format, err := Decode(data)
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if format != "png" || img.Bounds().Dx() != 3 || img.Bounds().Dy() != 2 {
		t.Errorf("unexpected image %s %v", format, img.Bounds())
	}

	data, err = f.Fetch(ctx, "data:text/plain,hello%20world")
	if err != nil {
		t.Fatalf("fetch failed: %v", err)
	}
	if string(data) != "hello world" {
		t.Errorf("expected 'hello world', got %q", string(data))
	}
}

func TestFetchMalformedDataURI(t *testing.T) {
	f := newTestFetcher(t)

	for _, ref := range []string{"data:image/png;base64", "data:image/png;base64,!!!"} {
		if _, err := f.Fetch(context.Background(), ref); err == nil {
			t.Errorf("expected error for %q", ref)
		}
	}
}

func TestFetchHTTPCaching(t *testing.T) {
	var requests atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)
		w.Write(testPNG(2, 2))
	}))
	defer server.Close()

	f := newTestFetcher(t)
	ref := server.URL + "/art.png?size=large"

	first, err := f.Fetch(context.Background(), ref)
	if err != nil {
		t.Fatalf("fetch failed: %v", err)
	}

	if _, err := os.Stat(f.CachePath(ref)); err != nil {
		t.Errorf("expected cache file at %s", f.CachePath(ref))
	}

	second, err := f.Fetch(context.Background(), ref)
	if err != nil {
		t.Fatalf("second fetch failed: %v", err)
	}

	if requests.Load() != 1 {
		t.Errorf("expected cached fetch to not hit server, got %d requests", requests.Load())
	}
	if string(first) != string(second) {
		t.Error("cached bytes differ from downloaded bytes")
	}
}

func TestFetchCoalescesConcurrentRequests(t *testing.T) {
	var requests atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)
		time.Sleep(50 * time.Millisecond)
		w.Write(testPNG(2, 2))
	}))
	defer server.Close()

	f := newTestFetcher(t)
	ref := server.URL + "/art.png"

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := f.Fetch(context.Background(), ref); err != nil {
				t.Errorf("fetch failed: %v", err)
			}
		}()
	}
	wg.Wait()

	if n := requests.Load(); n != 1 {
		t.Errorf("expected concurrent fetches to share 1 request, got %d", n)
	}
}

func TestFetchHTTPError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	f := newTestFetcher(t)

	_, err := f.Fetch(context.Background(), server.URL+"/missing.jpg")
	if err == nil {
		t.Fatal("expected error for 404 response")
	}
	if !strings.Contains(err.Error(), "404") {
		t.Errorf("expected error to mention 404, got: %v", err)
	}
	if _, statErr := os.Stat(f.CachePath(server.URL + "/missing.jpg")); !os.IsNotExist(statErr) {
		t.Error("failed download should not be cached")
	}
}

func TestFetchEmptyRef(t *testing.T) {
	f := newTestFetcher(t)
	if _, err := f.Fetch(context.Background(), ""); err != ErrEmptyRef {
		t.Errorf("expected ErrEmptyRef, got %v", err)
	}
}

func TestFetchLocalFile(t *testing.T) {
	f := newTestFetcher(t)
	path := filepath.Join(t.TempDir(), "cover.png")
	if err := os.WriteFile(path, testPNG(4, 4), 0644); err != nil {
		t.Fatal(err)
	}

	for _, ref := range []string{path, "file://" + path} {
		data, err := f.Fetch(context.Background(), ref)
		if err != nil {
			t.Fatalf("fetch %s failed: %v", ref, err)
		}
		if _, _, err := Decode(data); err != nil {
			t.Errorf("decode failed: %v", err)
		}
	}

	if _, err := f.Fetch(context.Background(), "not-a-valid-ref"); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestFetchLocalFileLimits(t *testing.T) {
	f := newTestFetcher(t)
	ctx := context.Background()
	dir := t.TempDir()

	big := filepath.Join(dir, "big.png")
	if err := os.WriteFile(big, nil, 0644); err != nil {
		t.Fatal(err)
	}
	if err := os.Truncate(big, maxImageBytes+1<<20); err != nil {
		t.Fatal(err)
	}
	if data, err := f.Fetch(ctx, big); err == nil {
		t.Errorf("expected size error, got %d bytes", len(data))
	}

	if _, err := f.Fetch(ctx, dir); err == nil {
		t.Error("expected error for a directory")
	}

	if _, err := os.Stat("/dev/zero"); err == nil {
		if _, err := f.Fetch(ctx, "/dev/zero"); err == nil {
			t.Error("expected error for a device node")
		}
	}
}

func TestFetchOversizedDataURI(t *testing.T) {
	f := newTestFetcher(t)
	payload := strings.Repeat("A", base64.StdEncoding.EncodedLen(maxImageBytes)+4)

	if _, err := f.Fetch(context.Background(), "data:image/png;base64,"+payload); err == nil {
		t.Error("expected size error for oversized data URI")
	}
}

// withDimensions rewrites a PNG's IHDR to declare w x h
func withDimensions(data []byte, w, h uint32) []byte {
	out := append([]byte(nil), data...)
	binary.BigEndian.PutUint32(out[16:20], w)
	binary.BigEndian.PutUint32(out[20:24], h)
	binary.BigEndian.PutUint32(out[29:33], crc32.ChecksumIEEE(out[12:29]))
	return out
}

func TestDecodeRejectsHugeDimensions(t *testing.T) {
	huge := withDimensions(testPNG(2, 2), 60000, 60000)

	if _, _, err := Decode(huge); !errors.Is(err, ErrImageTooLarge) {
		t.Errorf("expected ErrImageTooLarge, got %v", err)
	}

	if _, _, err := Decode(withDimensions(testPNG(2, 2), 2, 2)); err != nil {
		t.Errorf("header rewrite should keep a valid image: %v", err)
	}
}

func TestDecodeRejectsGarbage(t *testing.T) {
	if _, _, err := Decode([]byte("fake image data")); err == nil {
		t.Error("expected decode error")
	}
}

func TestExtension(t *testing.T) {
	tests := []struct {
		url      string
		expected string
	}{
		{"http://example.com/image.jpg", ".jpg"},
		{"http://example.com/image.webp", ".webp"},
		{"http://example.com/image.jpg?size=large", ".jpg"},
		{"http://example.com/image", ".img"},
		{"http://example.com/path/to/image.jpeg", ".jpeg"},
	}

	for _, tt := range tests {
		if result := extension(tt.url); result != tt.expected {
			t.Errorf("extension(%q) = %q, expected %q", tt.url, result, tt.expected)
		}
	}
}

func TestRGBAUploader(t *testing.T) {
	src := image.NewRGBA(image.Rect(0, 0, 1000, 500))

	tex, err := RGBAUploader{MaxSize: 100}.Upload(src)
	if err != nil {
		t.Fatalf("upload failed: %v", err)
	}
	if b := tex.Bounds(); b.Dx() != 100 || b.Dy() != 50 {
		t.Errorf("expected 100x50 texture, got %v", b)
	}
	if tex.Image() == nil {
		t.Fatal("expected pixels before destroy")
	}

	tex.Destroy()
	tex.Destroy()
	if tex.Image() != nil {
		t.Error("expected no pixels after destroy")
	}

	small, err := RGBAUploader{}.Upload(image.NewRGBA(image.Rect(0, 0, 8, 4)))
	if err != nil {
		t.Fatalf("upload failed: %v", err)
	}
	if b := small.Bounds(); b.Dx() != 8 || b.Dy() != 4 {
		t.Errorf("small image should keep its size, got %v", b)
	}

	if _, err := (RGBAUploader{}).Upload(image.NewRGBA(image.Rect(0, 0, 0, 0))); err == nil {
		t.Error("expected error for empty image")
	}
}
