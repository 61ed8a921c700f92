package source

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"tilestream/internal/tile"
)

func TestXYZTileURLs(t *testing.T) {
	p := NewXYZProvider(tile.SourceOSM, "osm",
		[]string{"a.tile.example.org", "b.tile.example.org"}, 19, nil, "test-agent")

	addr := tile.Address{Zoom: 12, Col: 2134, Row: 1307, Source: tile.SourceOSM}
	urls := p.TileURLs(addr)

	want := []string{
		"https://a.tile.example.org/12/2134/1307.png",
		"https://b.tile.example.org/12/2134/1307.png",
	}
	if len(urls) != len(want) {
		t.Fatalf("got %d urls, want %d", len(urls), len(want))
	}
	for i := range want {
		if urls[i] != want[i] {
			t.Errorf("url[%d] = %q, want %q", i, urls[i], want[i])
		}
	}
}

func TestArcGISTileURLSwapsRowAndColumn(t *testing.T) {
	p := NewArcGISProvider(tile.SourceArcGIS, "arcgis",
		[]string{"services.example.com"}, "World_Imagery", 19, nil, "test-agent")

	addr := tile.Address{Zoom: 9, Col: 123, Row: 456, Source: tile.SourceArcGIS}
	got := p.TileURLs(addr)[0]

	if !strings.HasSuffix(got, "/tile/9/456/123") {
		t.Errorf("url %q does not put row before column", got)
	}
}

func TestFetchTileSetsUserAgent(t *testing.T) {
	var agent string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		agent = r.Header.Get("User-Agent")
		w.Write([]byte{0x89, 'P', 'N', 'G'})
	}))
	defer srv.Close()

	p := httpProvider{client: srv.Client(), userAgent: "tilestream/1.0"}
	_, err := p.fetchWithMirror(context.Background(), []string{srv.URL + "/0/0/0.png"})
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if agent != "tilestream/1.0" {
		t.Errorf("User-Agent = %q", agent)
	}
}

func TestFetchWithMirrorFallsBack(t *testing.T) {
	hits := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
		if strings.HasPrefix(r.URL.Path, "/bad/") {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte("tile-bytes"))
	}))
	defer srv.Close()

	p := httpProvider{client: srv.Client(), userAgent: "t"}
	data, err := p.fetchWithMirror(context.Background(),
		[]string{srv.URL + "/bad/1", srv.URL + "/good/1"})
	if err != nil {
		t.Fatalf("fetchWithMirror: %v", err)
	}
	if string(data) != "tile-bytes" {
		t.Errorf("data = %q", data)
	}
	if hits != 2 {
		t.Errorf("hits = %d, want 2 (primary then mirror)", hits)
	}
}

func TestFetchWithMirrorReportsLastError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	p := httpProvider{client: srv.Client(), userAgent: "t"}
	if _, err := p.fetchWithMirror(context.Background(),
		[]string{srv.URL + "/a", srv.URL + "/b"}); err == nil {
		t.Fatal("expected an error when every mirror fails")
	}
}

func TestNewHTTPClientTimeout(t *testing.T) {
	c := NewHTTPClient(15 * time.Second)
	if c.Timeout != 15*time.Second {
		t.Errorf("timeout = %v", c.Timeout)
	}
}

func TestRegistry(t *testing.T) {
	osm := NewXYZProvider(tile.SourceOSM, "osm", []string{"h"}, 19, nil, "ua")
	arc := NewArcGISProvider(tile.SourceArcGIS, "arcgis", []string{"h"}, "World_Imagery", 19, nil, "ua")

	r := NewRegistry(osm, arc)
	if p, ok := r.Get(tile.SourceOSM); !ok || p.Name() != "osm" {
		t.Error("osm provider not resolved")
	}
	if p, ok := r.Get(tile.SourceArcGIS); !ok || p.Name() != "arcgis" {
		t.Error("arcgis provider not resolved")
	}
	if _, ok := r.Get(tile.SourceLocal); ok {
		t.Error("unregistered source resolved")
	}
}
