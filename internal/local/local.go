// Package local renders placeholder tiles so the viewer works offline. Each
// tile is a flat background with a border and its zoom/col/row printed in the
// middle.
package local

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/png"

	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"

	"tilestream/internal/tile"
)

// Provider implements source.Provider without touching the network.
type Provider struct{}

func New() *Provider { return &Provider{} }

func (Provider) ID() tile.SourceID { return tile.SourceLocal }
func (Provider) Name() string      { return "local" }
func (Provider) MaxZoom() uint8    { return tile.MaxZoom }

// FetchTile renders the placeholder and returns it PNG-encoded, matching the
// bytes-in contract of the network providers.
func (Provider) FetchTile(_ context.Context, addr tile.Address) ([]byte, error) {
	img := Render(addr)
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("encode placeholder: %w", err)
	}
	return buf.Bytes(), nil
}

// Render draws the placeholder tile image for addr.
func Render(addr tile.Address) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, tile.Size, tile.Size))

	bg := color.RGBA{R: 200, G: 220, B: 255, A: 255}
	draw.Draw(img, img.Bounds(), &image.Uniform{bg}, image.Point{}, draw.Src)

	border := color.RGBA{R: 100, G: 100, B: 100, A: 255}
	edges := []image.Rectangle{
		image.Rect(0, 0, tile.Size, 1),
		image.Rect(0, tile.Size-1, tile.Size, tile.Size),
		image.Rect(0, 0, 1, tile.Size),
		image.Rect(tile.Size-1, 0, tile.Size, tile.Size),
	}
	for _, r := range edges {
		draw.Draw(img, r, &image.Uniform{border}, image.Point{}, draw.Src)
	}

	drawLabel(img, fmt.Sprintf("%d/%d/%d", addr.Zoom, addr.Col, addr.Row))
	return img
}

func drawLabel(img *image.RGBA, text string) {
	face := basicfont.Face7x13
	d := &font.Drawer{
		Dst:  img,
		Src:  image.NewUniform(color.RGBA{R: 40, G: 40, B: 40, A: 255}),
		Face: face,
	}

	width := d.MeasureString(text).Round()
	d.Dot = fixed.Point26_6{
		X: fixed.I((tile.Size - width) / 2),
		Y: fixed.I(tile.Size / 2),
	}
	d.DrawString(text)
}
