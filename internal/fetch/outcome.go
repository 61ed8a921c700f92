package fetch

import (
	"fmt"
	"image"

	"tilestream/internal/tile"
)

// Kind tags the variants of a fetch outcome.
type Kind uint8

const (
	// KindResolved means the pixels match the requested address exactly.
	KindResolved Kind = iota
	// KindApproximate means the pixels are a cropped ancestor standing in
	// while the exact tile is still being fetched.
	KindApproximate
	// KindUnavailable means the fetch failed after fallback and network
	// attempts.
	KindUnavailable
)

// Outcome is the result of one tile request. It is a closed sum: each
// variant is built by its own constructor and the fields are only reachable
// through accessors, so a consumer cannot observe a half-filled state.
type Outcome struct {
	kind      Kind
	displayed tile.Address
	requested tile.Address
	pixels    *image.RGBA
}

// Resolved builds the exact-match outcome.
func Resolved(addr tile.Address, pixels *image.RGBA) Outcome {
	return Outcome{kind: KindResolved, displayed: addr, requested: addr, pixels: pixels}
}

// Approximate builds the ancestor stand-in outcome. displayed is the
// ancestor whose image the pixels were cropped from; requested is the tile
// they stand in for.
func Approximate(displayed tile.Address, pixels *image.RGBA, requested tile.Address) Outcome {
	return Outcome{kind: KindApproximate, displayed: displayed, requested: requested, pixels: pixels}
}

// Unavailable builds the failure outcome.
func Unavailable(requested tile.Address) Outcome {
	return Outcome{kind: KindUnavailable, displayed: requested, requested: requested}
}

func (o Outcome) Kind() Kind { return o.kind }

// Displayed is the address the pixels actually represent. For resolved and
// unavailable outcomes it equals Requested.
func (o Outcome) Displayed() tile.Address { return o.displayed }

// Requested is the address the caller asked for, and the key the texture
// cache entry belongs under.
func (o Outcome) Requested() tile.Address { return o.requested }

// Pixels is nil for unavailable outcomes.
func (o Outcome) Pixels() *image.RGBA { return o.pixels }

func (o Outcome) String() string {
	switch o.kind {
	case KindResolved:
		return fmt.Sprintf("resolved(%s)", o.requested)
	case KindApproximate:
		return fmt.Sprintf("approximate(%s for %s)", o.displayed, o.requested)
	default:
		return fmt.Sprintf("unavailable(%s)", o.requested)
	}
}
