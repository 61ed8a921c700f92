// Package viewport tracks the continuous pan/zoom state of the map view and
// turns it into the set of tile addresses the renderer needs each frame.
package viewport

import (
	"math"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/maptile"

	"tilestream/internal/tile"
)

// Viewport is the current view center in fractional tile units at the
// current zoom level. It is owned by the render thread and must not be
// mutated from elsewhere.
type Viewport struct {
	Zoom      uint8
	CenterCol float64
	CenterRow float64
}

// New returns a viewport centered on the root tile.
func New() *Viewport {
	return &Viewport{Zoom: 0, CenterCol: 0, CenterRow: 0}
}

// Pan moves the center by (dx, dy) tile units.
func (v *Viewport) Pan(dx, dy float64) {
	v.CenterCol += dx
	v.CenterRow += dy
}

// ZoomIn steps one level deeper. The center is rescaled so the same
// geographic point stays centered; the half-tile pan keeps the sub-tile
// offset aligned with the finer grid.
func (v *Viewport) ZoomIn() {
	if v.Zoom >= tile.MaxZoom {
		return
	}
	v.CenterCol *= 2
	v.CenterRow *= 2
	v.Zoom++
	v.Pan(0.5, 0.5)
}

// ZoomOut steps one level up, exactly undoing ZoomIn so that a
// ZoomIn/ZoomOut pair leaves the center where it started.
func (v *Viewport) ZoomOut() {
	if v.Zoom == 0 {
		return
	}
	v.CenterCol /= 2
	v.CenterRow /= 2
	v.Zoom--
	v.Pan(-0.25, -0.25)
}

// CenterOnPixel pans so the window pixel (px, py) becomes the new center.
// One tile is 256 pixels regardless of zoom.
func (v *Viewport) CenterOnPixel(winW, winH int, px, py int) {
	dx := (float64(px) - float64(winW)/2) / tile.Size
	dy := (float64(py) - float64(winH)/2) / tile.Size
	v.Pan(dx, dy)
}

// ZoomInAtPixel recenters on the clicked pixel and then zooms, so the
// clicked point stays under the cursor.
func (v *Viewport) ZoomInAtPixel(winW, winH int, px, py int) {
	v.CenterOnPixel(winW, winH, px, py)
	v.ZoomIn()
}

// CenterOnLatLon places a WGS84 coordinate at the view center, keeping the
// current zoom.
func (v *Viewport) CenterOnLatLon(lat, lon float64) {
	f := maptile.Fraction(orb.Point{lon, lat}, maptile.Zoom(v.Zoom))
	v.CenterCol = f[0]
	v.CenterRow = f[1]
}

// CenterLatLon returns the WGS84 coordinate currently at the view center,
// the inverse of CenterOnLatLon.
func (v *Viewport) CenterLatLon() (lat, lon float64) {
	n := float64(uint64(1) << v.Zoom)
	lon = v.CenterCol/n*360 - 180
	lat = math.Atan(math.Sinh(math.Pi*(1-2*v.CenterRow/n))) * 180 / math.Pi
	return lat, lon
}

// VisibleAddresses returns every tile address covering a winW×winH window
// plus a one-tile border, clamped to the valid grid and tagged with source.
func (v *Viewport) VisibleAddresses(winW, winH int, source tile.SourceID) []tile.Address {
	halfW := float64(winW) / (2 * tile.Size)
	halfH := float64(winH) / (2 * tile.Size)

	minCol := int(math.Floor(v.CenterCol-halfW)) - 1
	maxCol := int(math.Floor(v.CenterCol+halfW)) + 1
	minRow := int(math.Floor(v.CenterRow-halfH)) - 1
	maxRow := int(math.Floor(v.CenterRow+halfH)) + 1

	limit := (1 << v.Zoom) - 1
	minCol = clamp(minCol, 0, limit)
	maxCol = clamp(maxCol, 0, limit)
	minRow = clamp(minRow, 0, limit)
	maxRow = clamp(maxRow, 0, limit)

	out := make([]tile.Address, 0, (maxCol-minCol+1)*(maxRow-minRow+1))
	for col := minCol; col <= maxCol; col++ {
		for row := minRow; row <= maxRow; row++ {
			out = append(out, tile.Address{
				Zoom:   v.Zoom,
				Col:    uint32(col),
				Row:    uint32(row),
				Source: source,
			})
		}
	}
	return out
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
