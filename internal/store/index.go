package store

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"tilestream/internal/tile"
)

const indexFile = "cache_index.json"

// keyFor flattens an address into the JSON index key
// "{source}:{zoom}:{col}:{row}".
func keyFor(addr tile.Address) string {
	return fmt.Sprintf("%d:%d:%d:%d", addr.Source, addr.Zoom, addr.Col, addr.Row)
}

func parseKey(key string) (tile.Address, bool) {
	parts := strings.Split(key, ":")
	if len(parts) != 4 {
		return tile.Address{}, false
	}
	src, err1 := strconv.ParseUint(parts[0], 10, 8)
	zoom, err2 := strconv.ParseUint(parts[1], 10, 8)
	col, err3 := strconv.ParseUint(parts[2], 10, 32)
	row, err4 := strconv.ParseUint(parts[3], 10, 32)
	if err1 != nil || err2 != nil || err3 != nil || err4 != nil {
		return tile.Address{}, false
	}
	return tile.Address{
		Zoom:   uint8(zoom),
		Col:    uint32(col),
		Row:    uint32(row),
		Source: tile.SourceID(src),
	}, true
}

// loadIndex reads the persisted metadata index.
func (s *Store) loadIndex() error {
	data, err := os.ReadFile(filepath.Join(s.baseDir, indexFile))
	if err != nil {
		return fmt.Errorf("read index: %w", err)
	}

	var raw map[string]*entry
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("parse index: %w", err)
	}

	var total int64
	index := make(map[tile.Address]*entry, len(raw))
	for key, e := range raw {
		addr, ok := parseKey(key)
		if !ok {
			continue
		}
		index[addr] = e
		total += e.Size
	}

	s.index = index
	atomic.StoreInt64(&s.currSize, total)
	return nil
}

// saveIndex persists the metadata index via a temp file and rename.
func (s *Store) saveIndex() error {
	s.mu.RLock()
	raw := make(map[string]*entry, len(s.index))
	for addr, e := range s.index {
		raw[keyFor(addr)] = e
	}
	s.mu.RUnlock()

	data, err := json.MarshalIndent(raw, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal index: %w", err)
	}

	path := filepath.Join(s.baseDir, indexFile)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("write index: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("rename index: %w", err)
	}
	return nil
}

// rebuildIndex reconstructs the metadata by walking the tile tree. Paths are
// {source}/{zoom}/{col}/{row}.tile relative to the base directory.
func (s *Store) rebuildIndex() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.index = make(map[tile.Address]*entry)
	var total int64

	err := filepath.Walk(s.baseDir, func(path string, info os.FileInfo, err error) error {
		if err != nil || info.IsDir() || filepath.Ext(path) != ".tile" {
			return nil
		}

		rel, _ := filepath.Rel(s.baseDir, path)
		parts := strings.Split(rel, string(os.PathSeparator))
		if len(parts) != 4 {
			return nil
		}

		src, ok := tile.ParseSourceID(parts[0])
		if !ok {
			return nil
		}

		zoom, err1 := strconv.ParseUint(parts[1], 10, 8)
		col, err2 := strconv.ParseUint(parts[2], 10, 32)
		row, err3 := strconv.ParseUint(strings.TrimSuffix(parts[3], ".tile"), 10, 32)
		if err1 != nil || err2 != nil || err3 != nil {
			return nil
		}

		addr := tile.Address{Zoom: uint8(zoom), Col: uint32(col), Row: uint32(row), Source: src}
		s.index[addr] = &entry{
			Size:       info.Size(),
			AccessTime: info.ModTime(),
			CreateTime: info.ModTime(),
		}
		total += info.Size()
		return nil
	})
	if err != nil {
		return fmt.Errorf("scan cache directory: %w", err)
	}

	atomic.StoreInt64(&s.currSize, total)
	s.log.Info("rebuilt tile store index",
		zap.Int("entries", len(s.index)), zap.Int64("bytes", total))
	return nil
}

// maintenanceWorker evicts least-recently-used tiles when the store grows
// past its size bound and expired tiles on a timer.
func (s *Store) maintenanceWorker() {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-s.doneCh:
			return
		case <-s.evictCh:
			s.evictOverSize()
		case <-ticker.C:
			s.evictExpired()
		}
	}
}

func (s *Store) evictOverSize() {
	if s.maxSize <= 0 {
		return
	}

	s.mu.Lock()
	currSize := atomic.LoadInt64(&s.currSize)
	if currSize <= s.maxSize {
		s.mu.Unlock()
		return
	}

	// Evict down to 90% of max to avoid thrashing.
	target := s.maxSize * 9 / 10

	type victim struct {
		addr   tile.Address
		access time.Time
		size   int64
	}
	victims := make([]victim, 0, len(s.index))
	for addr, e := range s.index {
		if e.pending {
			continue
		}
		victims = append(victims, victim{addr: addr, access: e.AccessTime, size: e.Size})
	}
	sort.Slice(victims, func(i, j int) bool {
		return victims[i].access.Before(victims[j].access)
	})

	evicted := 0
	for _, v := range victims {
		if currSize <= target {
			break
		}
		os.Remove(s.PathFor(v.addr))
		delete(s.index, v.addr)
		atomic.AddInt64(&s.currSize, -v.size)
		currSize -= v.size
		evicted++
	}
	s.mu.Unlock()

	if evicted > 0 {
		s.log.Info("evicted tiles over size bound", zap.Int("count", evicted))
		s.saveIndex()
	}
}

func (s *Store) evictExpired() {
	if s.ttl <= 0 {
		return
	}

	now := time.Now()
	s.mu.Lock()
	var expired []tile.Address
	for addr, e := range s.index {
		if !e.pending && now.Sub(e.CreateTime) > s.ttl {
			expired = append(expired, addr)
		}
	}
	for _, addr := range expired {
		e := s.index[addr]
		os.Remove(s.PathFor(addr))
		delete(s.index, addr)
		atomic.AddInt64(&s.currSize, -e.Size)
	}
	s.mu.Unlock()

	if len(expired) > 0 {
		s.log.Info("evicted expired tiles", zap.Int("count", len(expired)))
		s.saveIndex()
	}
}
