// Package codec turns encoded tile bytes into renderer-ready pixel buffers.
package codec

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/draw"
	_ "image/jpeg"
	_ "image/png"

	xdraw "golang.org/x/image/draw"

	"tilestream/internal/tile"
)

// ErrUnknownFormat means the payload did not start with PNG or JPEG magic
// bytes. Tile servers answer errors with HTML pages often enough that the
// fetch path sniffs before decoding.
var ErrUnknownFormat = errors.New("codec: not a PNG or JPEG payload")

var (
	pngMagic  = []byte{0x89, 'P', 'N', 'G'}
	jpegMagic = []byte{0xFF, 0xD8}
)

// ValidImage reports whether data carries PNG or JPEG magic bytes.
func ValidImage(data []byte) bool {
	return bytes.HasPrefix(data, pngMagic) || bytes.HasPrefix(data, jpegMagic)
}

// Decode validates the magic bytes and decodes data into an RGBA buffer.
func Decode(data []byte) (*image.RGBA, error) {
	if !ValidImage(data) {
		return nil, ErrUnknownFormat
	}
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("codec: decode: %w", err)
	}
	return toRGBA(img), nil
}

func toRGBA(img image.Image) *image.RGBA {
	if rgba, ok := img.(*image.RGBA); ok {
		return rgba
	}
	out := image.NewRGBA(image.Rect(0, 0, img.Bounds().Dx(), img.Bounds().Dy()))
	draw.Draw(out, out.Bounds(), img, img.Bounds().Min, draw.Src)
	return out
}

// CropForDescendant cuts the region of an ancestor tile image covering desc
// and scales it back up to the full tile size, so approximate textures have
// the same dimensions as exact ones.
func CropForDescendant(src *image.RGBA, anc, desc tile.Address) *image.RGBA {
	x, y, size := anc.AncestorCrop(desc)
	region := src.SubImage(image.Rect(x, y, x+size, y+size))

	out := image.NewRGBA(image.Rect(0, 0, tile.Size, tile.Size))
	xdraw.NearestNeighbor.Scale(out, out.Bounds(), region, region.Bounds(), xdraw.Src, nil)
	return out
}
