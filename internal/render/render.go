// Package render defines the texture surface the streaming layer draws
// through, plus a software implementation that composites frames in memory.
package render

import (
	"fmt"
	"image"
	"image/draw"
	"sync"
)

// TextureID is an opaque handle to uploaded pixels. The zero value is never
// a valid handle.
type TextureID uint64

// Renderer is the drawing surface contract. A GPU-backed window implements
// the same interface; the streaming layer never sees the difference.
type Renderer interface {
	// Upload copies the pixels into renderer-owned storage and returns a
	// handle for them.
	Upload(pixels *image.RGBA) (TextureID, error)
	// Release frees the storage behind a handle. Releasing an unknown
	// handle is a no-op.
	Release(id TextureID)
	// Draw copies a texture into the current frame at dst. Pixels are
	// copied 1:1 from the texture origin; callers size dst to the
	// texture, and anything past either bound is clipped.
	Draw(id TextureID, dst image.Rectangle)
}

// Software renders frames into a plain RGBA image. It backs the headless
// snapshot path and every test that needs to see composited output.
type Software struct {
	mu       sync.Mutex
	nextID   TextureID
	textures map[TextureID]*image.RGBA
	frame    *image.RGBA
}

func NewSoftware() *Software {
	return &Software{nextID: 1, textures: make(map[TextureID]*image.RGBA)}
}

// BeginFrame allocates a fresh target of the given size. Previous frames
// are discarded.
func (s *Software) BeginFrame(width, height int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.frame = image.NewRGBA(image.Rect(0, 0, width, height))
}

// Frame returns the current composited image, or nil before the first
// BeginFrame.
func (s *Software) Frame() *image.RGBA {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.frame
}

func (s *Software) Upload(pixels *image.RGBA) (TextureID, error) {
	if pixels == nil {
		return 0, fmt.Errorf("upload nil pixels")
	}
	cp := image.NewRGBA(pixels.Bounds())
	draw.Draw(cp, cp.Bounds(), pixels, pixels.Bounds().Min, draw.Src)

	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.nextID
	s.nextID++
	s.textures[id] = cp
	return id, nil
}

func (s *Software) Release(id TextureID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.textures, id)
}

func (s *Software) Draw(id TextureID, dst image.Rectangle) {
	s.mu.Lock()
	defer s.mu.Unlock()
	tex, ok := s.textures[id]
	if !ok || s.frame == nil {
		return
	}
	draw.Draw(s.frame, dst, tex, tex.Bounds().Min, draw.Src)
}

// Live reports how many textures are currently held.
func (s *Software) Live() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.textures)
}
