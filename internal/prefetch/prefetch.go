// Package prefetch warms the disk store for a region ahead of time, so a
// later session over the same area never waits on the network.
package prefetch

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/maptile"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"tilestream/internal/codec"
	"tilestream/internal/source"
	"tilestream/internal/store"
	"tilestream/internal/tile"
)

// Region is an inclusive rectangle of tile coordinates at one zoom level.
type Region struct {
	Source         tile.SourceID
	Zoom           uint8
	MinCol, MaxCol uint32
	MinRow, MaxRow uint32
}

// Addresses enumerates the region row-major.
func (r Region) Addresses() []tile.Address {
	if r.MaxCol < r.MinCol || r.MaxRow < r.MinRow {
		return nil
	}
	addrs := make([]tile.Address, 0, (r.MaxCol-r.MinCol+1)*(r.MaxRow-r.MinRow+1))
	for row := r.MinRow; row <= r.MaxRow; row++ {
		for col := r.MinCol; col <= r.MaxCol; col++ {
			addrs = append(addrs, tile.Address{
				Zoom: r.Zoom, Col: col, Row: row, Source: r.Source,
			})
		}
	}
	return addrs
}

// RegionFromBounds converts a geographic bounding box to the tile region
// covering it at the given zoom. Swapped corners are normalized.
func RegionFromBounds(src tile.SourceID, zoom uint8, minLat, minLon, maxLat, maxLon float64) Region {
	if minLat > maxLat {
		minLat, maxLat = maxLat, minLat
	}
	if minLon > maxLon {
		minLon, maxLon = maxLon, minLon
	}
	// Latitude grows north, tile rows grow south.
	nw := maptile.At(orb.Point{minLon, maxLat}, maptile.Zoom(zoom))
	se := maptile.At(orb.Point{maxLon, minLat}, maptile.Zoom(zoom))
	return Region{
		Source: src,
		Zoom:   zoom,
		MinCol: nw.X, MaxCol: se.X,
		MinRow: nw.Y, MaxRow: se.Y,
	}
}

// Progress reports warm-up state after each tile settles.
type Progress struct {
	Done   int
	Total  int
	Failed int
}

// Warmer downloads regions into the store with bounded concurrency.
type Warmer struct {
	store    *store.Store
	sources  *source.Registry
	parallel int64
	log      *zap.Logger
}

func NewWarmer(st *store.Store, sources *source.Registry, parallel int, log *zap.Logger) *Warmer {
	if parallel <= 0 {
		parallel = 4
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Warmer{store: st, sources: sources, parallel: int64(parallel), log: log}
}

// Warm fetches every tile of the region not already on disk. onProgress, if
// non-nil, is called after each tile settles; it may be called from multiple
// goroutines. Warm returns how many tiles failed, or the context error if
// cancelled.
func (w *Warmer) Warm(ctx context.Context, region Region, onProgress func(Progress)) (int, error) {
	addrs := region.Addresses()
	total := len(addrs)

	var done, failed atomic.Int64
	report := func() {
		if onProgress != nil {
			onProgress(Progress{
				Done:   int(done.Load()),
				Total:  total,
				Failed: int(failed.Load()),
			})
		}
	}

	sem := semaphore.NewWeighted(w.parallel)
	var wg sync.WaitGroup
	for _, addr := range addrs {
		if w.store.Contains(addr) {
			done.Add(1)
			report()
			continue
		}
		if err := sem.Acquire(ctx, 1); err != nil {
			wg.Wait()
			return int(failed.Load()), err
		}
		wg.Add(1)
		go func(addr tile.Address) {
			defer wg.Done()
			defer sem.Release(1)
			if err := w.fetchOne(ctx, addr); err != nil {
				failed.Add(1)
				w.log.Warn("warm tile", zap.Stringer("tile", addr), zap.Error(err))
			}
			done.Add(1)
			report()
		}(addr)
	}
	wg.Wait()
	return int(failed.Load()), ctx.Err()
}

func (w *Warmer) fetchOne(ctx context.Context, addr tile.Address) error {
	provider, ok := w.sources.Get(addr.Source)
	if !ok {
		return source.ErrUnknownSource
	}
	data, err := provider.FetchTile(ctx, addr)
	if err != nil {
		return err
	}
	if !codec.ValidImage(data) {
		return codec.ErrUnknownFormat
	}
	return w.store.Save(addr, data)
}
