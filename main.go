package main

import (
	"context"
	"flag"
	"fmt"
	"image/png"
	"os"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"tilestream/internal/config"
	"tilestream/internal/prefetch"
)

func main() {
	var (
		settingsPath = flag.String("settings", config.DefaultPath(), "settings file path")
		lat          = flag.Float64("lat", 48.8584, "center latitude")
		lon          = flag.Float64("lon", 2.2945, "center longitude")
		zoom         = flag.Int("zoom", 12, "zoom level")
		sourceName   = flag.String("source", "", "imagery source: osm, arcgis or local (default from settings)")
		width        = flag.Int("width", 1024, "snapshot width in pixels")
		height       = flag.Int("height", 768, "snapshot height in pixels")
		out          = flag.String("out", "snapshot.png", "output PNG path")
		timeout      = flag.Duration("timeout", 60*time.Second, "give up after this long")
		verbose      = flag.Bool("v", false, "verbose logging")
		prefetchBox  = flag.String("prefetch", "",
			"warm the cache for a minLon,minLat,maxLon,maxLat box at -zoom instead of rendering")
	)
	flag.Parse()

	var err error
	if *prefetchBox != "" {
		err = runPrefetch(*settingsPath, *prefetchBox, *zoom, *sourceName, *timeout, *verbose)
	} else {
		err = run(*settingsPath, *lat, *lon, *zoom, *sourceName, *width, *height, *out, *timeout, *verbose)
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func buildLogger(verbose bool) (*zap.Logger, error) {
	logCfg := zap.NewProductionConfig()
	if verbose {
		logCfg.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
	}
	return logCfg.Build()
}

// parseBox reads a minLon,minLat,maxLon,maxLat comma string.
func parseBox(s string) (minLon, minLat, maxLon, maxLat float64, err error) {
	parts := strings.Split(s, ",")
	if len(parts) != 4 {
		return 0, 0, 0, 0, fmt.Errorf("box %q: want minLon,minLat,maxLon,maxLat", s)
	}
	vals := make([]float64, 4)
	for i, p := range parts {
		vals[i], err = strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return 0, 0, 0, 0, fmt.Errorf("box coordinate %q: %w", p, err)
		}
	}
	return vals[0], vals[1], vals[2], vals[3], nil
}

// runPrefetch downloads every tile of a region into the disk cache, so a
// later session over the same area works offline.
func runPrefetch(settingsPath, box string, zoom int, sourceName string,
	timeout time.Duration, verbose bool) error {

	minLon, minLat, maxLon, maxLat, err := parseBox(box)
	if err != nil {
		return err
	}

	log, err := buildLogger(verbose)
	if err != nil {
		return err
	}
	defer log.Sync()

	app, err := NewApp(settingsPath, log)
	if err != nil {
		return err
	}
	defer app.Shutdown()

	if sourceName != "" {
		if err := app.SelectSource(sourceName); err != nil {
			return err
		}
	}
	app.mu.Lock()
	src := app.source
	max := int(app.sourceMaxZoom())
	app.mu.Unlock()
	if zoom > max {
		log.Warn("zoom clamped to source maximum", zap.Int("max", max))
		zoom = max
	}

	region := prefetch.RegionFromBounds(src, uint8(zoom), minLat, minLon, maxLat, maxLon)
	total := len(region.Addresses())
	log.Info("prefetch started",
		zap.Int("zoom", zoom),
		zap.Int("tiles", total))

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	warmer := prefetch.NewWarmer(app.store, app.sources, app.settings.FetchWorkers, log)
	failed, err := warmer.Warm(ctx, region, func(p prefetch.Progress) {
		if p.Done%100 == 0 || p.Done == p.Total {
			log.Info("prefetch progress",
				zap.Int("done", p.Done), zap.Int("total", p.Total), zap.Int("failed", p.Failed))
		}
	})
	if err != nil {
		return fmt.Errorf("prefetch: %w", err)
	}
	if failed > 0 {
		return fmt.Errorf("prefetch: %d of %d tiles failed", failed, total)
	}
	log.Info("prefetch complete", zap.Int("tiles", total))
	return nil
}

func run(settingsPath string, lat, lon float64, zoom int, sourceName string,
	width, height int, out string, timeout time.Duration, verbose bool) error {

	log, err := buildLogger(verbose)
	if err != nil {
		return err
	}
	defer log.Sync()

	app, err := NewApp(settingsPath, log)
	if err != nil {
		return err
	}
	defer app.Shutdown()

	if sourceName != "" {
		if err := app.SelectSource(sourceName); err != nil {
			return err
		}
	}
	for app.Viewport().Zoom > 0 {
		app.ZoomOut()
	}
	for i := 0; i < zoom; i++ {
		app.ZoomIn()
	}
	app.CenterOnLatLon(lat, lon)

	// Pump frames until every visible tile shows its exact pixels, or the
	// deadline passes and we keep whatever resolved.
	deadline := time.Now().Add(timeout)
	frame, complete := app.RenderFrame(width, height)
	for !complete && time.Now().Before(deadline) {
		time.Sleep(50 * time.Millisecond)
		frame, complete = app.RenderFrame(width, height)
	}
	if !complete {
		log.Warn("deadline reached before every tile resolved")
	}

	f, err := os.Create(out)
	if err != nil {
		return fmt.Errorf("create output: %w", err)
	}
	defer f.Close()
	if err := png.Encode(f, frame); err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}

	log.Info("snapshot written",
		zap.String("path", out),
		zap.Int("width", width),
		zap.Int("height", height),
		zap.Bool("complete", complete))
	return nil
}
