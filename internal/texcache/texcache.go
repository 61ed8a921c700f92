// Package texcache keeps a bounded set of uploaded tile textures keyed by
// address. Eviction and replacement both hand the stale handle back to the
// renderer, so every upload is released exactly once.
package texcache

import (
	lru "github.com/hashicorp/golang-lru/v2"

	"tilestream/internal/fetch"
	"tilestream/internal/metrics"
	"tilestream/internal/render"
	"tilestream/internal/tile"
)

type entry struct {
	tex   render.TextureID
	exact bool // pixels match the key address, not an ancestor crop
}

// Poller is the outcome side of the fetch pipeline.
type Poller interface {
	Poll() (fetch.Outcome, bool)
}

// Cache maps addresses to live textures. It is confined to the render
// thread; the pipeline feeds it only through Reconcile.
type Cache struct {
	lru      *lru.Cache[tile.Address, entry]
	renderer render.Renderer
}

func New(capacity int, r render.Renderer) (*Cache, error) {
	c := &Cache{renderer: r}
	l, err := lru.NewWithEvict(capacity, func(_ tile.Address, e entry) {
		r.Release(e.tex)
		metrics.TextureEvictions.Inc()
	})
	if err != nil {
		return nil, err
	}
	c.lru = l
	return c, nil
}

// Probe returns the texture for an address and whether it is the exact tile
// rather than an ancestor stand-in. A hit refreshes recency.
func (c *Cache) Probe(addr tile.Address) (tex render.TextureID, exact, ok bool) {
	e, ok := c.lru.Get(addr)
	if !ok {
		return 0, false, false
	}
	return e.tex, e.exact, true
}

// Reconcile drains pending outcomes into the cache and returns how many
// textures changed. Exact pixels always replace a stand-in; a stand-in never
// replaces exact pixels that arrived first.
func (c *Cache) Reconcile(p Poller) int {
	changed := 0
	for {
		o, ok := p.Poll()
		if !ok {
			return changed
		}
		switch o.Kind() {
		case fetch.KindResolved:
			if c.put(o.Requested(), o, true) {
				changed++
			}
		case fetch.KindApproximate:
			if prev, ok := c.lru.Peek(o.Requested()); ok && prev.exact {
				continue
			}
			if c.put(o.Requested(), o, false) {
				changed++
			}
		case fetch.KindUnavailable:
			// Keep whatever is displayed; the in-flight table already
			// throttles retries.
		}
	}
}

func (c *Cache) put(addr tile.Address, o fetch.Outcome, exact bool) bool {
	tex, err := c.renderer.Upload(o.Pixels())
	if err != nil {
		return false
	}
	// lru.Add does not run the evict callback when it overwrites a key, so
	// a replaced texture is released here.
	if prev, ok := c.lru.Peek(addr); ok {
		c.renderer.Release(prev.tex)
	}
	c.lru.Add(addr, entry{tex: tex, exact: exact})
	return true
}

// Len reports how many textures are cached.
func (c *Cache) Len() int { return c.lru.Len() }

// Purge releases every texture.
func (c *Cache) Purge() { c.lru.Purge() }
