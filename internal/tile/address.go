package tile

import "fmt"

const (
	// MaxZoom is the deepest pyramid level served by the supported providers.
	MaxZoom = 19

	// Size is the edge length of every tile image in pixels.
	Size = 256

	// maxCropDepth bounds how many levels an ancestor crop may span.
	// Beyond 8 levels the crop degenerates to a single pixel.
	maxCropDepth = 8
)

// SourceID identifies an imagery provider. The same geographic tile from two
// providers is a distinct cache entry, so the id is part of the address.
type SourceID uint8

const (
	// SourceOSM is the standard {z}/{col}/{row}.png scheme.
	SourceOSM SourceID = iota
	// SourceArcGIS is the ArcGIS REST scheme with row before column.
	SourceArcGIS
	// SourceLocal renders placeholder tiles offline.
	SourceLocal

	// SourceCustomBase is the first id handed to user-defined sources.
	SourceCustomBase
)

func (s SourceID) String() string {
	switch s {
	case SourceOSM:
		return "osm"
	case SourceArcGIS:
		return "arcgis"
	case SourceLocal:
		return "local"
	default:
		return fmt.Sprintf("source-%d", uint8(s))
	}
}

// ParseSourceID is the inverse of String. User-defined sources round-trip
// through their "source-N" form.
func ParseSourceID(name string) (SourceID, bool) {
	switch name {
	case "osm":
		return SourceOSM, true
	case "arcgis":
		return SourceArcGIS, true
	case "local":
		return SourceLocal, true
	}
	var n uint8
	if _, err := fmt.Sscanf(name, "source-%d", &n); err == nil && n >= uint8(SourceCustomBase) {
		return SourceID(n), true
	}
	return 0, false
}

// Address locates one tile in the zoom pyramid of a provider. It is an
// immutable value type; equality is structural over all four fields.
type Address struct {
	Zoom   uint8
	Col    uint32
	Row    uint32
	Source SourceID
}

// Valid reports whether the column and row fit the 2^zoom grid.
func (a Address) Valid() bool {
	if a.Zoom > MaxZoom {
		return false
	}
	n := uint32(1) << a.Zoom
	return a.Col < n && a.Row < n
}

func (a Address) String() string {
	return fmt.Sprintf("%s/%d/%d/%d", a.Source, a.Zoom, a.Col, a.Row)
}

// Less orders addresses structurally: zoom, column, row, then source.
func (a Address) Less(b Address) bool {
	if a.Zoom != b.Zoom {
		return a.Zoom < b.Zoom
	}
	if a.Col != b.Col {
		return a.Col < b.Col
	}
	if a.Row != b.Row {
		return a.Row < b.Row
	}
	return a.Source < b.Source
}

// ZoomIn returns the child at zoom+1 containing the fractional position
// (u, v) in [0,1)² inside this tile. At MaxZoom it returns the address
// unchanged.
func (a Address) ZoomIn(u, v float64) Address {
	if a.Zoom >= MaxZoom {
		return a
	}
	child := a
	child.Zoom++
	child.Col = a.Col * 2
	child.Row = a.Row * 2
	if u >= 0.5 {
		child.Col++
	}
	if v >= 0.5 {
		child.Row++
	}
	return child
}

// ZoomOut returns the parent at zoom-1. At zoom 0 it returns the address
// unchanged.
func (a Address) ZoomOut() Address {
	if a.Zoom == 0 {
		return a
	}
	parent := a
	parent.Zoom--
	parent.Col = a.Col / 2
	parent.Row = a.Row / 2
	return parent
}

// AncestorCrop returns the pixel sub-rectangle of this tile's 256×256 image
// covering the footprint of desc, which must be this address or one of its
// descendants. The depth is clamped to [0, 8]; past that the crop bottoms
// out at a single pixel.
func (a Address) AncestorCrop(desc Address) (x, y, size int) {
	depth := int(desc.Zoom) - int(a.Zoom)
	if depth < 0 {
		depth = 0
	}
	if depth > maxCropDepth {
		depth = maxCropDepth
	}
	period := 1 << depth
	size = Size / period
	x = int(desc.Col%uint32(period)) * size
	y = int(desc.Row%uint32(period)) * size
	return x, y, size
}

// AncestorIter walks from an address up the pyramid toward zoom 0. It yields
// the starting address first and at most MaxZoom+1 addresses in total, which
// keeps the fallback search depth explicit.
type AncestorIter struct {
	cur  Address
	done bool
}

// Ancestors returns an iterator over this address and its ancestors, nearest
// first.
func (a Address) Ancestors() AncestorIter {
	return AncestorIter{cur: a}
}

// Next returns the next candidate ancestor, or ok=false when the walk has
// passed zoom 0.
func (it *AncestorIter) Next() (Address, bool) {
	if it.done {
		return Address{}, false
	}
	a := it.cur
	if a.Zoom == 0 {
		it.done = true
	} else {
		it.cur = a.ZoomOut()
	}
	return a, true
}
