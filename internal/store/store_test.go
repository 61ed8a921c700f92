package store

import (
	"bytes"
	"image"
	"image/png"
	"os"
	"path/filepath"
	"testing"
	"time"

	"tilestream/internal/tile"
)

func tilePNG(t *testing.T) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := png.Encode(&buf, image.NewRGBA(image.Rect(0, 0, tile.Size, tile.Size))); err != nil {
		t.Fatalf("encode: %v", err)
	}
	return buf.Bytes()
}

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(t.TempDir(), 0, 0, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestSaveAndLoad(t *testing.T) {
	s := newTestStore(t)
	addr := tile.Address{Zoom: 5, Col: 3, Row: 7, Source: tile.SourceOSM}

	if s.Contains(addr) {
		t.Fatal("empty store claims to contain the tile")
	}
	if err := s.Save(addr, tilePNG(t)); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if !s.Contains(addr) {
		t.Fatal("saved tile not reported present")
	}

	img, ok := s.Load(addr)
	if !ok {
		t.Fatal("Load missed a saved tile")
	}
	if img.Bounds().Dx() != tile.Size {
		t.Errorf("decoded width = %d", img.Bounds().Dx())
	}
}

func TestPathForIsDeterministic(t *testing.T) {
	s := newTestStore(t)
	addr := tile.Address{Zoom: 3, Col: 1, Row: 2, Source: tile.SourceArcGIS}

	want := filepath.Join(s.baseDir, "arcgis", "3", "1", "2.tile")
	if got := s.PathFor(addr); got != want {
		t.Errorf("PathFor = %q, want %q", got, want)
	}
}

func TestSaveIsWriteOnce(t *testing.T) {
	s := newTestStore(t)
	addr := tile.Address{Zoom: 1, Col: 0, Row: 1}

	first := tilePNG(t)
	if err := s.Save(addr, first); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if err := s.Save(addr, []byte("replacement that must be ignored")); err != nil {
		t.Fatalf("second Save: %v", err)
	}

	data, err := os.ReadFile(s.PathFor(addr))
	if err != nil {
		t.Fatalf("read tile file: %v", err)
	}
	if !bytes.Equal(data, first) {
		t.Error("second Save overwrote the original bytes")
	}

	entries, size, _ := s.Stats()
	if entries != 1 {
		t.Errorf("entries = %d, want 1", entries)
	}
	if size != int64(len(first)) {
		t.Errorf("size = %d, want %d", size, len(first))
	}
}

func TestCorruptEntryDeletedOnLoad(t *testing.T) {
	s := newTestStore(t)
	addr := tile.Address{Zoom: 2, Col: 3, Row: 3}

	// Valid PNG magic, garbage body: passes the sniff, fails the decode.
	corrupt := append([]byte{0x89, 'P', 'N', 'G'}, []byte("garbage")...)
	if err := s.Save(addr, corrupt); err != nil {
		t.Fatalf("Save: %v", err)
	}

	if _, ok := s.Load(addr); ok {
		t.Fatal("corrupt entry loaded successfully")
	}
	if s.Contains(addr) {
		t.Error("corrupt entry still indexed after failed load")
	}
	if _, err := os.Stat(s.PathFor(addr)); !os.IsNotExist(err) {
		t.Error("corrupt entry file still on disk")
	}

	// The address is now a plain miss and can be refilled.
	if err := s.Save(addr, tilePNG(t)); err != nil {
		t.Fatalf("re-Save after corruption: %v", err)
	}
	if _, ok := s.Load(addr); !ok {
		t.Error("refilled entry did not load")
	}
}

func TestLoadLeavesInFlightSaveAlone(t *testing.T) {
	s := newTestStore(t)
	addr := tile.Address{Zoom: 7, Col: 11, Row: 13}

	// An index slot reserved by a writer whose file write has not landed.
	now := time.Now()
	s.mu.Lock()
	s.index[addr] = &entry{Size: 128, AccessTime: now, CreateTime: now, pending: true}
	s.mu.Unlock()

	if _, ok := s.LoadRaw(addr); ok {
		t.Fatal("in-flight entry loaded")
	}
	s.mu.RLock()
	_, reserved := s.index[addr]
	s.mu.RUnlock()
	if !reserved {
		t.Fatal("read dropped the writer's reservation")
	}

	// The reservation still guards write-once for the racing writer.
	if err := s.Save(addr, []byte("late duplicate")); err != nil {
		t.Fatalf("competing Save: %v", err)
	}
	if _, err := os.Stat(s.PathFor(addr)); !os.IsNotExist(err) {
		t.Error("competing Save wrote over a reserved slot")
	}
}

func TestIndexSurvivesReopen(t *testing.T) {
	dir := t.TempDir()
	addr := tile.Address{Zoom: 6, Col: 10, Row: 20, Source: tile.SourceOSM}

	s, err := New(dir, 0, 0, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	data := tilePNG(t)
	if err := s.Save(addr, data); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	reopened, err := New(dir, 0, 0, nil)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer reopened.Close()

	if !reopened.Contains(addr) {
		t.Error("reopened store lost the entry")
	}
	got, ok := reopened.LoadRaw(addr)
	if !ok || !bytes.Equal(got, data) {
		t.Error("reopened store returned different bytes")
	}
}

func TestRebuildIndexFromWalk(t *testing.T) {
	dir := t.TempDir()
	addr := tile.Address{Zoom: 4, Col: 5, Row: 6, Source: tile.SourceArcGIS}

	s, err := New(dir, 0, 0, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := s.Save(addr, tilePNG(t)); err != nil {
		t.Fatalf("Save: %v", err)
	}
	s.Close()

	// Corrupt the index file; reopening must rebuild from the tile tree.
	if err := os.WriteFile(filepath.Join(dir, indexFile), []byte("{broken"), 0644); err != nil {
		t.Fatalf("corrupt index: %v", err)
	}

	reopened, err := New(dir, 0, 0, nil)
	if err != nil {
		t.Fatalf("reopen with broken index: %v", err)
	}
	defer reopened.Close()

	if !reopened.Contains(addr) {
		t.Error("rebuild did not recover the entry")
	}
}

func TestClear(t *testing.T) {
	s := newTestStore(t)
	for col := uint32(0); col < 4; col++ {
		addr := tile.Address{Zoom: 3, Col: col, Row: 1}
		if err := s.Save(addr, tilePNG(t)); err != nil {
			t.Fatalf("Save: %v", err)
		}
	}

	if err := s.Clear(); err != nil {
		t.Fatalf("Clear: %v", err)
	}
	entries, size, _ := s.Stats()
	if entries != 0 || size != 0 {
		t.Errorf("after Clear: entries=%d size=%d", entries, size)
	}
}

func TestEvictOverSize(t *testing.T) {
	dir := t.TempDir()
	s, err := New(dir, 1, 0, nil) // 1 MB bound
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer s.Close()

	data := tilePNG(t)
	for col := uint32(0); col < 8; col++ {
		addr := tile.Address{Zoom: 10, Col: col, Row: 0}
		if err := s.Save(addr, data); err != nil {
			t.Fatalf("Save: %v", err)
		}
	}

	// Shrink the bound below the stored total and run the eviction pass
	// synchronously instead of waiting on the maintenance worker.
	_, total, _ := s.Stats()
	s.maxSize = total / 2
	s.evictOverSize()

	entries, size, _ := s.Stats()
	if size > s.maxSize {
		t.Errorf("size %d still above bound %d after eviction", size, s.maxSize)
	}
	if entries == 0 || entries == 8 {
		t.Errorf("entries = %d, want a partial eviction", entries)
	}
}
