package tile

import "testing"

func TestZoomInQuadrants(t *testing.T) {
	base := Address{Zoom: 3, Col: 5, Row: 2}

	tests := []struct {
		name     string
		u, v     float64
		col, row uint32
	}{
		{"top-left", 0.0, 0.0, 10, 4},
		{"top-right", 0.5, 0.0, 11, 4},
		{"bottom-left", 0.25, 0.9, 10, 5},
		{"bottom-right", 0.99, 0.5, 11, 5},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			child := base.ZoomIn(tt.u, tt.v)
			if child.Zoom != 4 || child.Col != tt.col || child.Row != tt.row {
				t.Errorf("ZoomIn(%v,%v) = %v, want zoom 4 col %d row %d",
					tt.u, tt.v, child, tt.col, tt.row)
			}
		})
	}
}

func TestZoomInAtMaxZoomIsNoop(t *testing.T) {
	a := Address{Zoom: MaxZoom, Col: 123, Row: 456}
	if got := a.ZoomIn(0.9, 0.9); got != a {
		t.Errorf("ZoomIn at MaxZoom = %v, want %v", got, a)
	}
}

func TestZoomOutAtRootIsNoop(t *testing.T) {
	a := Address{Zoom: 0, Col: 0, Row: 0}
	if got := a.ZoomOut(); got != a {
		t.Errorf("ZoomOut at zoom 0 = %v, want %v", got, a)
	}
}

func TestPyramidRoundTrip(t *testing.T) {
	// ZoomOut(ZoomIn(a, u, v)) must return a for any quadrant.
	addrs := []Address{
		{Zoom: 0, Col: 0, Row: 0},
		{Zoom: 5, Col: 3, Row: 7},
		{Zoom: 12, Col: 2048, Row: 1023, Source: SourceArcGIS},
		{Zoom: MaxZoom - 1, Col: 1 << 17, Row: 99},
	}
	points := [][2]float64{{0, 0}, {0.49, 0.49}, {0.5, 0.5}, {0.99, 0.01}}

	for _, a := range addrs {
		for _, p := range points {
			if got := a.ZoomIn(p[0], p[1]).ZoomOut(); got != a {
				t.Errorf("round trip %v at (%v,%v) = %v", a, p[0], p[1], got)
			}
		}
	}
}

func TestAncestorCrop(t *testing.T) {
	tests := []struct {
		name       string
		anc, desc  Address
		x, y, size int
	}{
		{
			name: "self",
			anc:  Address{Zoom: 4, Col: 9, Row: 9},
			desc: Address{Zoom: 4, Col: 9, Row: 9},
			x:    0, y: 0, size: 256,
		},
		{
			name: "one level",
			anc:  Address{Zoom: 3, Col: 1, Row: 1},
			desc: Address{Zoom: 4, Col: 3, Row: 2},
			x:    128, y: 0, size: 128,
		},
		{
			// Worked example from the fallback chain: zoom-0 ancestor of
			// (5, 3, 7) has period 32, edge 8, offset (24, 56).
			name: "root to depth five",
			anc:  Address{Zoom: 0, Col: 0, Row: 0},
			desc: Address{Zoom: 5, Col: 3, Row: 7},
			x:    24, y: 56, size: 8,
		},
		{
			name: "depth clamped to eight",
			anc:  Address{Zoom: 0, Col: 0, Row: 0},
			desc: Address{Zoom: 12, Col: 300, Row: 500},
			x:    (300 % 256) * 1, y: (500 % 256) * 1, size: 1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			x, y, size := tt.anc.AncestorCrop(tt.desc)
			if x != tt.x || y != tt.y || size != tt.size {
				t.Errorf("AncestorCrop = (%d,%d,%d), want (%d,%d,%d)",
					x, y, size, tt.x, tt.y, tt.size)
			}
		})
	}
}

func TestAncestorCropPartitionsAncestor(t *testing.T) {
	// The crops of all descendants at a fixed depth must tile the ancestor's
	// image exactly once each.
	anc := Address{Zoom: 2, Col: 1, Row: 3}
	const depth = 3
	period := uint32(1) << depth

	covered := make([][]int, Size)
	for i := range covered {
		covered[i] = make([]int, Size)
	}

	baseCol := anc.Col << depth
	baseRow := anc.Row << depth
	for dc := uint32(0); dc < period; dc++ {
		for dr := uint32(0); dr < period; dr++ {
			desc := Address{Zoom: anc.Zoom + depth, Col: baseCol + dc, Row: baseRow + dr}
			x, y, size := anc.AncestorCrop(desc)
			for py := y; py < y+size; py++ {
				for px := x; px < x+size; px++ {
					covered[py][px]++
				}
			}
		}
	}

	for py := range covered {
		for px := range covered[py] {
			if covered[py][px] != 1 {
				t.Fatalf("pixel (%d,%d) covered %d times", px, py, covered[py][px])
			}
		}
	}
}

func TestAncestorsIterBounded(t *testing.T) {
	a := Address{Zoom: 6, Col: 33, Row: 12, Source: SourceArcGIS}

	it := a.Ancestors()
	var got []Address
	for {
		cand, ok := it.Next()
		if !ok {
			break
		}
		got = append(got, cand)
	}

	if len(got) != 7 {
		t.Fatalf("iterator yielded %d addresses, want 7", len(got))
	}
	if got[0] != a {
		t.Errorf("first candidate = %v, want the address itself", got[0])
	}
	last := got[len(got)-1]
	if last.Zoom != 0 || last.Col != 0 || last.Row != 0 {
		t.Errorf("last candidate = %v, want the root tile", last)
	}
	for i := 1; i < len(got); i++ {
		if got[i] != got[i-1].ZoomOut() {
			t.Errorf("candidate %d = %v is not the parent of %v", i, got[i], got[i-1])
		}
		if got[i].Source != a.Source {
			t.Errorf("candidate %d lost the source id", i)
		}
	}
}

func TestValid(t *testing.T) {
	tests := []struct {
		addr Address
		want bool
	}{
		{Address{Zoom: 0, Col: 0, Row: 0}, true},
		{Address{Zoom: 0, Col: 1, Row: 0}, false},
		{Address{Zoom: 3, Col: 7, Row: 7}, true},
		{Address{Zoom: 3, Col: 8, Row: 0}, false},
		{Address{Zoom: MaxZoom + 1, Col: 0, Row: 0}, false},
	}
	for _, tt := range tests {
		if got := tt.addr.Valid(); got != tt.want {
			t.Errorf("Valid(%v) = %v, want %v", tt.addr, got, tt.want)
		}
	}
}

func TestParseSourceID(t *testing.T) {
	tests := []struct {
		name string
		want SourceID
		ok   bool
	}{
		{"osm", SourceOSM, true},
		{"arcgis", SourceArcGIS, true},
		{"local", SourceLocal, true},
		{"source-3", SourceCustomBase, true},
		{"source-7", SourceID(7), true},
		{"source-1", 0, false}, // built-in ids never use the numeric form
		{"bing", 0, false},
		{"source-x", 0, false},
	}
	for _, tt := range tests {
		got, ok := ParseSourceID(tt.name)
		if ok != tt.ok || (ok && got != tt.want) {
			t.Errorf("ParseSourceID(%q) = (%v,%v), want (%v,%v)", tt.name, got, ok, tt.want, tt.ok)
		}
	}

	// Every id round-trips through its String form.
	for _, id := range []SourceID{SourceOSM, SourceArcGIS, SourceLocal, SourceCustomBase, SourceID(9)} {
		got, ok := ParseSourceID(id.String())
		if !ok || got != id {
			t.Errorf("round trip %v = (%v,%v)", id, got, ok)
		}
	}
}
