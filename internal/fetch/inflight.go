package fetch

import (
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/simplelru"

	"tilestream/internal/tile"
)

// State tracks where a requested address is in its lifecycle.
type State uint8

const (
	// StateRequested means a worker owns the address and no pixels have
	// been emitted yet.
	StateRequested State = iota
	// StateApproximationSent means an ancestor stand-in was emitted and the
	// exact tile is queued for network fetch.
	StateApproximationSent
	// StateResolved means the exact pixels were emitted.
	StateResolved
)

// inflightEntry pairs a state with when it was set, so stuck entries expire
// instead of suppressing an address forever.
type inflightEntry struct {
	state State
	at    time.Time
}

// inflightTable deduplicates concurrent requests for the same address. It is
// the only structure shared between the render thread and the workers, and
// every method is a single short critical section. The LRU bound keeps a
// burst of distinct addresses from growing the table without limit; evicting
// an in-flight entry never cancels work, it only permits a future duplicate.
type inflightTable struct {
	mu  sync.Mutex
	lru *simplelru.LRU[tile.Address, inflightEntry]
	ttl time.Duration
	now func() time.Time // test hook
}

func newInflightTable(capacity int, ttl time.Duration) *inflightTable {
	lru, err := simplelru.NewLRU[tile.Address, inflightEntry](capacity, nil)
	if err != nil {
		panic(err) // capacity <= 0 is a programming error
	}
	return &inflightTable{lru: lru, ttl: ttl, now: time.Now}
}

// Begin claims the address for resolution. It returns false when the address
// is already in flight and the previous attempt has not expired; resolved
// and expired entries are reclaimed.
func (t *inflightTable) Begin(addr tile.Address) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if e, ok := t.lru.Get(addr); ok {
		active := e.state == StateRequested || e.state == StateApproximationSent
		if active && t.now().Sub(e.at) < t.ttl {
			return false
		}
	}
	t.lru.Add(addr, inflightEntry{state: StateRequested, at: t.now()})
	return true
}

// Mark records a state transition for an address already claimed by Begin.
func (t *inflightTable) Mark(addr tile.Address, s State) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.lru.Add(addr, inflightEntry{state: s, at: t.now()})
}

// Forget drops the entry so the next request starts fresh.
func (t *inflightTable) Forget(addr tile.Address) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.lru.Remove(addr)
}

// Peek returns the current state without touching recency.
func (t *inflightTable) Peek(addr tile.Address) (State, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.lru.Peek(addr)
	if !ok {
		return 0, false
	}
	return e.state, true
}

// Len reports how many addresses are tracked.
func (t *inflightTable) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.lru.Len()
}
