// Package store is the on-disk tile cache. One file per tile at a
// deterministic path, written once and never rewritten; the path doubles as
// the dedup key for disk presence checks.
package store

import (
	"fmt"
	"image"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"tilestream/internal/codec"
	"tilestream/internal/metrics"
	"tilestream/internal/tile"
)

// Store is a disk-backed tile cache with an in-memory metadata index. The
// index is persisted to cache_index.json and rebuilt from a directory walk
// when it is missing or unreadable.
type Store struct {
	baseDir  string
	maxSize  int64 // bytes; 0 disables size-based eviction
	currSize int64 // atomic
	ttl      time.Duration

	mu    sync.RWMutex
	index map[tile.Address]*entry

	evictCh chan struct{}
	doneCh  chan struct{}
	log     *zap.Logger
}

type entry struct {
	Size       int64     `json:"size"`
	AccessTime time.Time `json:"accessTime"`
	CreateTime time.Time `json:"createTime"`

	// pending marks a reserved slot whose file write has not finished.
	// Readers treat it as a miss and must not delete it.
	pending bool
}

// New opens (or creates) a store rooted at baseDir. maxSizeMB of 0 means
// unbounded; ttlDays of 0 means entries never expire.
func New(baseDir string, maxSizeMB, ttlDays int, log *zap.Logger) (*Store, error) {
	if log == nil {
		log = zap.NewNop()
	}
	if err := os.MkdirAll(baseDir, 0755); err != nil {
		return nil, fmt.Errorf("create cache directory: %w", err)
	}

	s := &Store{
		baseDir: baseDir,
		maxSize: int64(maxSizeMB) * 1024 * 1024,
		ttl:     time.Duration(ttlDays) * 24 * time.Hour,
		index:   make(map[tile.Address]*entry),
		evictCh: make(chan struct{}, 1),
		doneCh:  make(chan struct{}),
		log:     log,
	}

	if err := s.loadIndex(); err != nil {
		if err := s.rebuildIndex(); err != nil {
			return nil, fmt.Errorf("initialize tile store: %w", err)
		}
	}

	go s.maintenanceWorker()

	return s, nil
}

// PathFor returns the deterministic file path for an address:
// {baseDir}/{source}/{zoom}/{col}/{row}.tile
func (s *Store) PathFor(addr tile.Address) string {
	return filepath.Join(s.baseDir, addr.Source.String(),
		fmt.Sprintf("%d", addr.Zoom),
		fmt.Sprintf("%d", addr.Col),
		fmt.Sprintf("%d.tile", addr.Row))
}

// Contains reports whether the address is present without touching the file.
func (s *Store) Contains(addr tile.Address) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.index[addr]
	return ok
}

// Load reads and decodes the stored tile. A corrupt or unreadable entry is
// deleted and reported as a miss; the next request will refetch it.
func (s *Store) Load(addr tile.Address) (*image.RGBA, bool) {
	data, ok := s.LoadRaw(addr)
	if !ok {
		return nil, false
	}

	img, err := codec.Decode(data)
	if err != nil {
		s.log.Warn("deleting corrupt cache entry",
			zap.Stringer("tile", addr), zap.Error(err))
		s.remove(addr)
		metrics.DiskMisses.Inc()
		return nil, false
	}

	metrics.DiskHits.Inc()
	return img, true
}

// LoadRaw returns the stored encoded bytes without decoding. An address
// whose write is still in flight reads as a miss.
func (s *Store) LoadRaw(addr tile.Address) ([]byte, bool) {
	s.mu.RLock()
	e, ok := s.index[addr]
	pending := ok && e.pending
	s.mu.RUnlock()
	if !ok || pending {
		metrics.DiskMisses.Inc()
		return nil, false
	}

	if s.ttl > 0 && time.Since(e.CreateTime) > s.ttl {
		s.remove(addr)
		metrics.DiskMisses.Inc()
		return nil, false
	}

	data, err := os.ReadFile(s.PathFor(addr))
	if err != nil {
		// File vanished underneath the index; treat as a miss.
		s.remove(addr)
		metrics.DiskMisses.Inc()
		return nil, false
	}

	s.mu.Lock()
	e.AccessTime = time.Now()
	s.mu.Unlock()

	return data, true
}

// Save writes the encoded tile once. An existing entry is left untouched.
// The index slot is reserved before the write so two workers racing on the
// same address produce a single file.
func (s *Store) Save(addr tile.Address, data []byte) error {
	now := time.Now()
	e := &entry{Size: int64(len(data)), AccessTime: now, CreateTime: now, pending: true}
	s.mu.Lock()
	if _, exists := s.index[addr]; exists {
		s.mu.Unlock()
		return nil
	}
	s.index[addr] = e
	s.mu.Unlock()

	path := s.PathFor(addr)
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		s.dropReservation(addr)
		return fmt.Errorf("create tile directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		s.dropReservation(addr)
		return fmt.Errorf("write tile file: %w", err)
	}
	s.mu.Lock()
	e.pending = false
	s.mu.Unlock()
	atomic.AddInt64(&s.currSize, int64(len(data)))

	if s.maxSize > 0 && atomic.LoadInt64(&s.currSize) > s.maxSize {
		select {
		case s.evictCh <- struct{}{}:
		default: // already signaled
		}
	}

	go s.saveIndex()
	return nil
}

func (s *Store) dropReservation(addr tile.Address) {
	s.mu.Lock()
	delete(s.index, addr)
	s.mu.Unlock()
}

// remove deletes an entry's file and index slot.
func (s *Store) remove(addr tile.Address) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.index[addr]
	if !ok {
		return
	}
	os.Remove(s.PathFor(addr))
	delete(s.index, addr)
	atomic.AddInt64(&s.currSize, -e.Size)
}

// Stats returns entry count, current size, and configured max size.
func (s *Store) Stats() (entries int, sizeBytes, maxBytes int64) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.index), atomic.LoadInt64(&s.currSize), s.maxSize
}

// Clear removes every cached tile.
func (s *Store) Clear() error {
	s.mu.Lock()
	for addr := range s.index {
		os.Remove(s.PathFor(addr))
	}
	s.index = make(map[tile.Address]*entry)
	atomic.StoreInt64(&s.currSize, 0)
	s.mu.Unlock()
	return s.saveIndex()
}

// Close stops background maintenance and persists the index.
func (s *Store) Close() error {
	close(s.doneCh)
	return s.saveIndex()
}
