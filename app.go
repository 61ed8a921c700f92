package main

import (
	"fmt"
	"image"
	"math"
	"net/http"
	goruntime "runtime"
	"sync"
	"time"

	"github.com/posthog/posthog-go"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"tilestream/internal/config"
	"tilestream/internal/fetch"
	"tilestream/internal/local"
	"tilestream/internal/render"
	"tilestream/internal/source"
	"tilestream/internal/store"
	"tilestream/internal/texcache"
	"tilestream/internal/tile"
	"tilestream/internal/viewport"
)

// Linker flags
var (
	PostHogKey  string
	PostHogHost string
	AppVersion  string = "0.0.0-dev"
)

// App wires the streaming layers together and owns their lifetimes. The
// window layer drives it through the input methods and RenderFrame; nothing
// else touches the pipeline or the caches.
type App struct {
	settings     *config.Settings
	settingsPath string
	log          *zap.Logger

	store    *store.Store
	sources  *source.Registry
	pipeline *fetch.Pipeline
	renderer *render.Software
	textures *texcache.Cache
	phClient posthog.Client

	sourceIDs map[string]tile.SourceID

	mu     sync.Mutex
	view   *viewport.Viewport
	source tile.SourceID
}

// NewApp builds the full stack from settings. The returned App is ready to
// render; Shutdown must be called to persist state and stop goroutines.
func NewApp(settingsPath string, log *zap.Logger) (*App, error) {
	if log == nil {
		log = zap.NewNop()
	}

	settings, err := config.Load(settingsPath)
	if err != nil {
		return nil, fmt.Errorf("load settings: %w", err)
	}
	log.Info("settings loaded", zap.String("path", settingsPath))

	st, err := store.New(settings.CacheDir, settings.CacheMaxSizeMB, settings.CacheTTLDays, log)
	if err != nil {
		return nil, fmt.Errorf("open tile store: %w", err)
	}
	log.Info("tile store ready",
		zap.String("dir", settings.CacheDir),
		zap.Int("max_size_mb", settings.CacheMaxSizeMB))

	client := source.NewHTTPClient(time.Duration(settings.NetworkTimeoutSecs) * time.Second)
	registry := source.NewRegistry(
		source.NewXYZProvider(tile.SourceOSM, "OpenStreetMap", settings.OSMHosts,
			tile.MaxZoom, client, settings.UserAgent),
		source.NewArcGISProvider(tile.SourceArcGIS, "ArcGIS World Imagery",
			settings.ArcGISHosts, settings.ArcGISService, tile.MaxZoom, client, settings.UserAgent),
		local.New(),
	)
	sourceIDs := map[string]tile.SourceID{
		"osm":    tile.SourceOSM,
		"arcgis": tile.SourceArcGIS,
		"local":  tile.SourceLocal,
	}
	nextID := tile.SourceCustomBase
	for _, cs := range settings.CustomSources {
		if !cs.Enabled {
			continue
		}
		maxZoom := uint8(cs.MaxZoom)
		if cs.MaxZoom <= 0 {
			maxZoom = tile.MaxZoom
		}
		registry.Register(source.NewXYZProvider(nextID, cs.Name, cs.Hosts,
			maxZoom, client, settings.UserAgent))
		sourceIDs[cs.Name] = nextID
		log.Info("custom source registered",
			zap.String("name", cs.Name), zap.Uint8("max_zoom", maxZoom))
		nextID++
	}

	pipeline := fetch.New(fetch.Config{
		Workers:        settings.FetchWorkers,
		NetworkTimeout: time.Duration(settings.NetworkTimeoutSecs) * time.Second,
	}, st, registry, log)

	renderer := render.NewSoftware()
	textures, err := texcache.New(settings.TextureCacheTiles, renderer)
	if err != nil {
		pipeline.Close()
		st.Close()
		return nil, fmt.Errorf("texture cache: %w", err)
	}

	var phClient posthog.Client
	key := settings.AnalyticsKey
	if key == "" {
		key = PostHogKey
	}
	if key != "" {
		c, err := posthog.NewWithConfig(key, posthog.Config{Endpoint: PostHogHost})
		if err != nil {
			log.Warn("analytics init failed", zap.Error(err))
		} else {
			phClient = c
		}
	}

	startZoom := uint8(tile.MaxZoom)
	if p, ok := registry.Get(sourceIDs[settings.DefaultSource]); ok {
		startZoom = p.MaxZoom()
	}
	view := viewport.New()
	for i := 0; i < settings.LastZoom && uint8(i) < startZoom; i++ {
		view.ZoomIn()
	}
	view.CenterOnLatLon(settings.LastCenterLat, settings.LastCenterLon)

	app := &App{
		settings:     settings,
		settingsPath: settingsPath,
		log:          log,
		store:        st,
		sources:      registry,
		pipeline:     pipeline,
		renderer:     renderer,
		textures:     textures,
		phClient:     phClient,
		sourceIDs:    sourceIDs,
		view:         view,
		source:       sourceIDs[settings.DefaultSource],
	}

	if settings.MetricsAddr != "" {
		go app.serveMetrics(settings.MetricsAddr)
	}

	app.TrackEvent("app_started", map[string]interface{}{
		"version": AppVersion,
		"os":      goruntime.GOOS,
		"arch":    goruntime.GOARCH,
	})

	return app, nil
}

func (a *App) serveMetrics(addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	a.log.Info("metrics listening", zap.String("addr", addr))
	if err := http.ListenAndServe(addr, mux); err != nil {
		a.log.Warn("metrics server stopped", zap.Error(err))
	}
}

// Pan moves the view center by fractional tile units at the current zoom.
func (a *App) Pan(dx, dy float64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.view.Pan(dx, dy)
}

// ZoomIn steps one level deeper, keeping the view center fixed. Zooming
// stops at the active source's deepest level.
func (a *App) ZoomIn() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.view.Zoom >= a.sourceMaxZoom() {
		return
	}
	a.view.ZoomIn()
}

// sourceMaxZoom returns the active provider's deepest level. Callers hold
// a.mu.
func (a *App) sourceMaxZoom() uint8 {
	if p, ok := a.sources.Get(a.source); ok {
		return p.MaxZoom()
	}
	return tile.MaxZoom
}

// ZoomOut steps one level up, keeping the view center fixed.
func (a *App) ZoomOut() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.view.ZoomOut()
}

// CenterOnPixel recenters the view on a window pixel.
func (a *App) CenterOnPixel(winW, winH, px, py int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.view.CenterOnPixel(winW, winH, px, py)
}

// ZoomInAtPixel recenters on a window pixel and then zooms in, the
// double-click gesture.
func (a *App) ZoomInAtPixel(winW, winH, px, py int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.view.CenterOnPixel(winW, winH, px, py)
	if a.view.Zoom < a.sourceMaxZoom() {
		a.view.ZoomIn()
	}
}

// CenterOnLatLon recenters the view on a geographic coordinate.
func (a *App) CenterOnLatLon(lat, lon float64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.view.CenterOnLatLon(lat, lon)
}

// SelectSource switches the active imagery source by name, built-in or
// custom. Cached tiles and textures of other sources stay put; they key on
// the source id. The view zooms out if the new source is shallower than the
// current level.
func (a *App) SelectSource(name string) error {
	id, ok := a.sourceIDs[name]
	if !ok {
		return fmt.Errorf("unknown source: %s", name)
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.source = id
	for a.view.Zoom > a.sourceMaxZoom() {
		a.view.ZoomOut()
	}
	a.log.Info("source selected", zap.String("source", name))
	return nil
}

// Viewport returns a snapshot of the current view state.
func (a *App) Viewport() viewport.Viewport {
	a.mu.Lock()
	defer a.mu.Unlock()
	return *a.view
}

// RenderFrame composites one frame of the given window size and reports
// whether every visible tile is showing its exact pixels. Tiles that miss,
// or are still showing an ancestor stand-in, are (re)requested; the next
// frame picks up whatever resolved in between.
func (a *App) RenderFrame(winW, winH int) (*image.RGBA, bool) {
	a.mu.Lock()
	visible := a.view.VisibleAddresses(winW, winH, a.source)
	centerCol, centerRow := a.view.CenterCol, a.view.CenterRow
	a.mu.Unlock()

	a.textures.Reconcile(a.pipeline)
	a.renderer.BeginFrame(winW, winH)

	complete := true
	for _, addr := range visible {
		tex, exact, ok := a.textures.Probe(addr)
		if ok {
			a.renderer.Draw(tex, tileDst(addr, centerCol, centerRow, winW, winH))
		}
		if !ok || !exact {
			complete = false
			a.pipeline.Request(addr)
		}
	}
	return a.renderer.Frame(), complete
}

// tileDst maps a tile address to its window rectangle for the given view
// center.
func tileDst(addr tile.Address, centerCol, centerRow float64, winW, winH int) image.Rectangle {
	x := int(math.Round((float64(addr.Col)-centerCol)*tile.Size + float64(winW)/2))
	y := int(math.Round((float64(addr.Row)-centerRow)*tile.Size + float64(winH)/2))
	return image.Rect(x, y, x+tile.Size, y+tile.Size)
}

// TrackEvent sends an opt-in analytics event.
func (a *App) TrackEvent(event string, props map[string]interface{}) {
	if a.phClient == nil {
		return
	}
	a.phClient.Enqueue(posthog.Capture{
		DistinctId: "backend_user",
		Event:      event,
		Properties: props,
	})
}

// CacheStats reports the disk store footprint.
func (a *App) CacheStats() (entries int, sizeBytes, maxBytes int64) {
	return a.store.Stats()
}

// ClearCache removes every cached tile from disk.
func (a *App) ClearCache() error {
	return a.store.Clear()
}

// Shutdown persists the last viewed position and releases every resource.
func (a *App) Shutdown() {
	a.mu.Lock()
	a.settings.LastZoom = int(a.view.Zoom)
	a.settings.LastCenterLat, a.settings.LastCenterLon = a.view.CenterLatLon()
	a.mu.Unlock()
	if err := config.Save(a.settingsPath, a.settings); err != nil {
		a.log.Warn("save settings", zap.Error(err))
	}

	a.pipeline.Close()
	a.textures.Purge()
	if err := a.store.Close(); err != nil {
		a.log.Warn("close store", zap.Error(err))
	}
	if a.phClient != nil {
		a.phClient.Close()
	}
}
