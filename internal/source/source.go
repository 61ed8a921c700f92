// Package source defines the imagery providers a tile can be fetched from.
// Each provider owns its URL convention; the fetch pipeline only sees bytes.
package source

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"tilestream/internal/tile"
)

// Provider fetches encoded tile images for one imagery source.
type Provider interface {
	ID() tile.SourceID
	Name() string
	MaxZoom() uint8
	// FetchTile downloads the encoded image for addr. Implementations retry
	// their alternate URL once before giving up; longer retry policies
	// belong to the caller.
	FetchTile(ctx context.Context, addr tile.Address) ([]byte, error)
}

// NewHTTPClient returns the shared client used by network providers, with
// system proxy support.
func NewHTTPClient(timeout time.Duration) *http.Client {
	return &http.Client{
		Timeout: timeout,
		Transport: &http.Transport{
			Proxy: http.ProxyFromEnvironment,
		},
	}
}

// httpProvider carries what every network-backed provider shares: the HTTP
// client and the client-identification header, both configured once at
// startup.
type httpProvider struct {
	client    *http.Client
	userAgent string
}

func (p *httpProvider) get(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", p.userAgent)

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch tile: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("tile request failed with status: %d", resp.StatusCode)
	}

	return io.ReadAll(resp.Body)
}

// fetchWithMirror tries each URL in order, returning the first success.
func (p *httpProvider) fetchWithMirror(ctx context.Context, urls []string) ([]byte, error) {
	var lastErr error
	for _, u := range urls {
		data, err := p.get(ctx, u)
		if err == nil {
			return data, nil
		}
		lastErr = err
		if ctx.Err() != nil {
			break
		}
	}
	return nil, lastErr
}

// XYZProvider serves the standard {host}/{z}/{col}/{row}.png scheme.
type XYZProvider struct {
	httpProvider
	id      tile.SourceID
	name    string
	hosts   []string // primary first, then mirrors
	maxZoom uint8
}

// NewXYZProvider builds a slippy-map provider. hosts must not be empty.
func NewXYZProvider(id tile.SourceID, name string, hosts []string, maxZoom uint8,
	client *http.Client, userAgent string) *XYZProvider {
	return &XYZProvider{
		httpProvider: httpProvider{client: client, userAgent: userAgent},
		id:           id,
		name:         name,
		hosts:        hosts,
		maxZoom:      maxZoom,
	}
}

func (p *XYZProvider) ID() tile.SourceID { return p.id }
func (p *XYZProvider) Name() string      { return p.name }
func (p *XYZProvider) MaxZoom() uint8    { return p.maxZoom }

// TileURLs returns the request URL per host, primary first.
func (p *XYZProvider) TileURLs(addr tile.Address) []string {
	urls := make([]string, 0, len(p.hosts))
	for _, h := range p.hosts {
		urls = append(urls, fmt.Sprintf("https://%s/%d/%d/%d.png", h, addr.Zoom, addr.Col, addr.Row))
	}
	return urls
}

func (p *XYZProvider) FetchTile(ctx context.Context, addr tile.Address) ([]byte, error) {
	return p.fetchWithMirror(ctx, p.TileURLs(addr))
}

// ArcGISProvider serves the ArcGIS REST tile scheme, which puts the row
// before the column.
type ArcGISProvider struct {
	httpProvider
	id      tile.SourceID
	name    string
	hosts   []string
	service string
	maxZoom uint8
}

func NewArcGISProvider(id tile.SourceID, name string, hosts []string, service string,
	maxZoom uint8, client *http.Client, userAgent string) *ArcGISProvider {
	return &ArcGISProvider{
		httpProvider: httpProvider{client: client, userAgent: userAgent},
		id:           id,
		name:         name,
		hosts:        hosts,
		service:      service,
		maxZoom:      maxZoom,
	}
}

func (p *ArcGISProvider) ID() tile.SourceID { return p.id }
func (p *ArcGISProvider) Name() string      { return p.name }
func (p *ArcGISProvider) MaxZoom() uint8    { return p.maxZoom }

// TileURLs returns {host}/arcgis/rest/services/{service}/MapServer/tile/{z}/{row}/{col}
// per host.
func (p *ArcGISProvider) TileURLs(addr tile.Address) []string {
	urls := make([]string, 0, len(p.hosts))
	for _, h := range p.hosts {
		urls = append(urls, fmt.Sprintf("https://%s/arcgis/rest/services/%s/MapServer/tile/%d/%d/%d",
			h, p.service, addr.Zoom, addr.Row, addr.Col))
	}
	return urls
}

func (p *ArcGISProvider) FetchTile(ctx context.Context, addr tile.Address) ([]byte, error) {
	return p.fetchWithMirror(ctx, p.TileURLs(addr))
}

// ErrUnknownSource is returned when no provider is registered for a
// source id.
var ErrUnknownSource = errors.New("unknown tile source")

// Registry resolves a source id to its provider.
type Registry struct {
	providers map[tile.SourceID]Provider
}

func NewRegistry(providers ...Provider) *Registry {
	r := &Registry{providers: make(map[tile.SourceID]Provider, len(providers))}
	for _, p := range providers {
		r.providers[p.ID()] = p
	}
	return r
}

// Register adds or replaces a provider.
func (r *Registry) Register(p Provider) {
	r.providers[p.ID()] = p
}

func (r *Registry) Get(id tile.SourceID) (Provider, bool) {
	p, ok := r.providers[id]
	return p, ok
}
