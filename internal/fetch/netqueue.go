package fetch

import (
	"context"
	"sync"

	"tilestream/internal/metrics"
	"tilestream/internal/tile"
)

// netQueue is the bounded network-priority buffer. It pops most-recent-first
// so the tiles of the user's current viewport jump ahead of stale pan
// history, and drops the oldest pending address once full.
type netQueue struct {
	mu       sync.Mutex
	items    []tile.Address
	capacity int
	signal   chan struct{}
}

func newNetQueue(capacity int) *netQueue {
	return &netQueue{
		capacity: capacity,
		signal:   make(chan struct{}, 1),
	}
}

// Push appends an address at the top of the stack, evicting the bottom
// (oldest) entry if the buffer is full.
func (q *netQueue) Push(addr tile.Address) {
	q.mu.Lock()
	if len(q.items) >= q.capacity {
		copy(q.items, q.items[1:])
		q.items = q.items[:len(q.items)-1]
		metrics.NetworkDropped.Inc()
	}
	q.items = append(q.items, addr)
	q.mu.Unlock()

	select {
	case q.signal <- struct{}{}:
	default: // already signaled
	}
}

// Pop blocks until an address is available or the context is done, and
// returns the most recently pushed address.
func (q *netQueue) Pop(ctx context.Context) (tile.Address, bool) {
	for {
		q.mu.Lock()
		if n := len(q.items); n > 0 {
			addr := q.items[n-1]
			q.items = q.items[:n-1]
			q.mu.Unlock()
			return addr, true
		}
		q.mu.Unlock()

		select {
		case <-ctx.Done():
			return tile.Address{}, false
		case <-q.signal:
		}
	}
}

// Len reports the number of pending addresses.
func (q *netQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}
