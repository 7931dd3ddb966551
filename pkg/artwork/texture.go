// ABOUTME: Texture upload for decoded artwork
// ABOUTME: Default uploader scales images into owned RGBA buffers
package artwork

import (
	"errors"
	"image"
	"sync"

	"golang.org/x/image/draw"
)

// DefaultMaxTextureSize bounds the longest edge of an uploaded texture
const DefaultMaxTextureSize = 512

// Texture is a render-ready image owned by the Manager. Readers may draw
// from it but must never call Destroy.
type Texture interface {
	// Image returns the pixels, or nil once destroyed
	Image() image.Image
	Bounds() image.Rectangle
	Destroy()
}

// Uploader turns a decoded image into a Texture
type Uploader interface {
	Upload(img image.Image) (Texture, error)
}

// RGBAUploader copies images into RGBA buffers no larger than MaxSize on
// either edge
type RGBAUploader struct {
	MaxSize int
}

// Upload implements Uploader
func (u RGBAUploader) Upload(img image.Image) (Texture, error) {
	src := img.Bounds()
	if src.Empty() {
		return nil, errors.New("empty image")
	}

	maxSize := u.MaxSize
	if maxSize <= 0 {
		maxSize = DefaultMaxTextureSize
	}

	w, h := fit(src.Dx(), src.Dy(), maxSize)
	dst := image.NewRGBA(image.Rect(0, 0, w, h))

	if w == src.Dx() && h == src.Dy() {
		draw.Draw(dst, dst.Bounds(), img, src.Min, draw.Src)
	} else {
		draw.CatmullRom.Scale(dst, dst.Bounds(), img, src, draw.Src, nil)
	}

	return &RGBATexture{img: dst, bounds: dst.Bounds()}, nil
}

// fit scales w×h down to fit within max on the longest edge
func fit(w, h, max int) (int, int) {
	if w <= max && h <= max {
		return w, h
	}
	if w >= h {
		return max, maxInt(1, h*max/w)
	}
	return maxInt(1, w*max/h), max
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}

// RGBATexture is the texture produced by RGBAUploader
type RGBATexture struct {
	mu     sync.RWMutex
	img    *image.RGBA
	bounds image.Rectangle
}

// Image implements Texture
func (t *RGBATexture) Image() image.Image {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.img == nil {
		return nil
	}
	return t.img
}

// Bounds implements Texture
func (t *RGBATexture) Bounds() image.Rectangle {
	return t.bounds
}

// Destroy releases the pixel buffer. Safe to call more than once.
func (t *RGBATexture) Destroy() {
	t.mu.Lock()
	t.img = nil
	t.mu.Unlock()
}

// Destroyed reports whether Destroy has been called
func (t *RGBATexture) Destroyed() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.img == nil
}
