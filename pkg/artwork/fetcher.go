// ABOUTME: Image reference resolution for track artwork
// ABOUTME: Fetches data URIs, HTTP URLs (disk cached) and local files
package artwork

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"log"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/webp"
	"golang.org/x/sync/singleflight"
)

const (
	// maxImageBytes caps a single fetched image
	maxImageBytes = 16 << 20

	// maxImagePixels caps decoded dimensions (64 MiB as RGBA)
	maxImagePixels = 1 << 24
)

// ErrEmptyRef is returned when asked to resolve an empty reference
var ErrEmptyRef = errors.New("empty image reference")

// ErrImageTooLarge is returned for images over the pixel budget
var ErrImageTooLarge = errors.New("image dimensions too large")

// Source resolves an opaque image reference to encoded image bytes.
// The same reference must always resolve to the same bytes.
type Source interface {
	Fetch(ctx context.Context, ref string) ([]byte, error)
}

// Fetcher is the default Source. HTTP responses are kept in an on-disk
// cache keyed by URL hash; concurrent fetches of one reference share a
// single request.
type Fetcher struct {
	cacheDir string
	client   *http.Client
	group    singleflight.Group
}

// NewFetcher creates a fetcher caching under dir. An empty dir uses a
// directory in the system temp dir.
func NewFetcher(dir string) (*Fetcher, error) {
	if dir == "" {
		dir = filepath.Join(os.TempDir(), "resonate-vis-artwork")
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create cache directory: %w", err)
	}

	return &Fetcher{
		cacheDir: dir,
		client:   &http.Client{Timeout: 15 * time.Second},
	}, nil
}

// Fetch resolves ref to bytes
func (f *Fetcher) Fetch(ctx context.Context, ref string) ([]byte, error) {
	if ref == "" {
		return nil, ErrEmptyRef
	}

	v, err, _ := f.group.Do(ref, func() (interface{}, error) {
		switch {
		case strings.HasPrefix(ref, "data:"):
			return decodeDataURI(ref)
		case strings.HasPrefix(ref, "http://"), strings.HasPrefix(ref, "https://"):
			return f.download(ctx, ref)
		default:
			return readFile(ref)
		}
	})
	if err != nil {
		return nil, err
	}
	return v.([]byte), nil
}

// download fetches a URL through the disk cache
func (f *Fetcher) download(ctx context.Context, ref string) ([]byte, error) {
	cachePath := f.CachePath(ref)

	if data, err := os.ReadFile(cachePath); err == nil {
		return data, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ref, nil)
	if err != nil {
		return nil, fmt.Errorf("invalid image URL: %w", err)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to download image: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("image download failed: HTTP %d", resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxImageBytes+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read image: %w", err)
	}
	if len(data) > maxImageBytes {
		return nil, fmt.Errorf("image exceeds %d bytes", maxImageBytes)
	}

	// Write through a temp file so a partial write never becomes a cache hit
	tmp := cachePath + ".part"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		log.Printf("Failed to cache image %s: %v", ref, err)
		return data, nil
	}
	if err := os.Rename(tmp, cachePath); err != nil {
		os.Remove(tmp)
		log.Printf("Failed to cache image %s: %v", ref, err)
	}

	return data, nil
}

// CachePath returns where the bytes for an HTTP reference are cached
func (f *Fetcher) CachePath(ref string) string {
	hash := sha256.Sum256([]byte(ref))
	return filepath.Join(f.cacheDir, fmt.Sprintf("%x%s", hash[:8], extension(ref)))
}

// Cleanup removes the disk cache
func (f *Fetcher) Cleanup() error {
	return os.RemoveAll(f.cacheDir)
}

// extension extracts the file extension from a URL
func extension(ref string) string {
	ref = strings.Split(ref, "?")[0]

	ext := filepath.Ext(ref)
	if ext == "" || len(ext) > 5 {
		ext = ".img"
	}
	return ext
}

// decodeDataURI parses data:[<mediatype>][;base64],<data>
func decodeDataURI(ref string) ([]byte, error) {
	meta, payload, ok := strings.Cut(strings.TrimPrefix(ref, "data:"), ",")
	if !ok {
		return nil, errors.New("malformed data URI")
	}

	if len(payload) > base64.StdEncoding.EncodedLen(maxImageBytes) {
		return nil, fmt.Errorf("image exceeds %d bytes", maxImageBytes)
	}

	if strings.HasSuffix(meta, ";base64") {
		data, err := base64.StdEncoding.DecodeString(payload)
		if err != nil {
			// Some producers strip padding
			data, err = base64.RawStdEncoding.DecodeString(strings.TrimRight(payload, "="))
		}
		if err != nil {
			return nil, fmt.Errorf("malformed base64 data URI: %w", err)
		}
		return data, nil
	}

	data, err := url.PathUnescape(payload)
	if err != nil {
		return nil, fmt.Errorf("malformed data URI: %w", err)
	}
	return []byte(data), nil
}

// readFile reads a local image. Only regular files are accepted, so device
// nodes and pipes named by a stream can't stall or exhaust the reader.
func readFile(ref string) ([]byte, error) {
	path := strings.TrimPrefix(ref, "file://")

	// Opening a FIFO blocks, so check before open as well as after
	if info, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("failed to stat image file: %w", err)
	} else if !info.Mode().IsRegular() {
		return nil, fmt.Errorf("image path %s is not a regular file", path)
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open image file: %w", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("failed to stat image file: %w", err)
	}
	if !info.Mode().IsRegular() {
		return nil, fmt.Errorf("image path %s is not a regular file", path)
	}
	if info.Size() > maxImageBytes {
		return nil, fmt.Errorf("image exceeds %d bytes", maxImageBytes)
	}

	data, err := io.ReadAll(io.LimitReader(f, maxImageBytes+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read image file: %w", err)
	}
	if len(data) > maxImageBytes {
		return nil, fmt.Errorf("image exceeds %d bytes", maxImageBytes)
	}
	return data, nil
}

// Decode decodes JPEG, PNG, GIF, WebP and BMP images. Images whose header
// declares more than maxImagePixels are rejected before any pixel is
// allocated.
func Decode(data []byte) (image.Image, string, error) {
	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, "", fmt.Errorf("failed to decode image: %w", err)
	}
	if cfg.Width <= 0 || cfg.Height <= 0 || int64(cfg.Width)*int64(cfg.Height) > maxImagePixels {
		return nil, "", fmt.Errorf("%w: %dx%d", ErrImageTooLarge, cfg.Width, cfg.Height)
	}

	img, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, "", fmt.Errorf("failed to decode image: %w", err)
	}
	return img, format, nil
}
