// Package config holds the persistent settings file and its environment
// overrides.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/caarlos0/env/v11"

	"tilestream/internal/tile"
)

// CustomSource is a user-added XYZ imagery source. Hosts follow the
// {host}/{z}/{col}/{row}.png scheme of the built-in OSM source.
type CustomSource struct {
	Name    string   `json:"name"`
	Hosts   []string `json:"hosts"`
	MaxZoom int      `json:"maxZoom,omitempty"`
	Enabled bool     `json:"enabled"`
}

func (c CustomSource) validate() error {
	if c.Name == "" {
		return fmt.Errorf("custom source name is required")
	}
	switch c.Name {
	case "osm", "arcgis", "local":
		return fmt.Errorf("custom source name %q shadows a built-in source", c.Name)
	}
	if len(c.Hosts) == 0 {
		return fmt.Errorf("custom source %q has no hosts", c.Name)
	}
	if c.MaxZoom < 0 || c.MaxZoom > tile.MaxZoom {
		return fmt.Errorf("custom source %q max zoom %d out of range", c.Name, c.MaxZoom)
	}
	return nil
}

// Settings are the persistent user preferences. JSON tags describe the
// settings file; env tags allow per-run overrides without touching it.
type Settings struct {
	// Cache settings
	CacheDir       string `json:"cacheDir" env:"TILESTREAM_CACHE_DIR"`
	CacheMaxSizeMB int    `json:"cacheMaxSizeMB" env:"TILESTREAM_CACHE_MAX_SIZE_MB"`
	CacheTTLDays   int    `json:"cacheTTLDays" env:"TILESTREAM_CACHE_TTL_DAYS"`

	// Streaming settings
	TextureCacheTiles  int    `json:"textureCacheTiles" env:"TILESTREAM_TEXTURE_CACHE_TILES"`
	FetchWorkers       int    `json:"fetchWorkers" env:"TILESTREAM_FETCH_WORKERS"`
	NetworkTimeoutSecs int    `json:"networkTimeoutSecs" env:"TILESTREAM_NETWORK_TIMEOUT_SECS"`
	UserAgent          string `json:"userAgent" env:"TILESTREAM_USER_AGENT"`

	// Source settings
	DefaultSource string   `json:"defaultSource" env:"TILESTREAM_DEFAULT_SOURCE"`
	OSMHosts      []string `json:"osmHosts" env:"TILESTREAM_OSM_HOSTS"`
	ArcGISHosts   []string `json:"arcgisHosts" env:"TILESTREAM_ARCGIS_HOSTS"`
	ArcGISService string   `json:"arcgisService" env:"TILESTREAM_ARCGIS_SERVICE"`

	// User-added XYZ sources, selectable by name like the built-ins.
	CustomSources []CustomSource `json:"customSources,omitempty"`

	// Last viewed position, written back on shutdown
	LastZoom      int     `json:"lastZoom"`
	LastCenterLat float64 `json:"lastCenterLat"`
	LastCenterLon float64 `json:"lastCenterLon"`

	// MetricsAddr, when set, exposes Prometheus metrics on that address.
	MetricsAddr string `json:"metricsAddr,omitempty" env:"TILESTREAM_METRICS_ADDR"`

	// Analytics is opt-in and off unless a key is present.
	AnalyticsKey string `json:"analyticsKey,omitempty" env:"TILESTREAM_ANALYTICS_KEY"`
}

// DefaultSettings returns the built-in configuration.
func DefaultSettings() *Settings {
	homeDir, _ := os.UserHomeDir()
	return &Settings{
		CacheDir:           filepath.Join(homeDir, ".tilestream", "cache"),
		CacheMaxSizeMB:     250,
		CacheTTLDays:       30,
		TextureCacheTiles:  128,
		FetchWorkers:       4,
		NetworkTimeoutSecs: 15,
		UserAgent:          "tilestream/1.0",
		DefaultSource:      "osm",
		OSMHosts: []string{
			"tile.openstreetmap.org",
		},
		ArcGISHosts: []string{
			"server.arcgisonline.com",
		},
		ArcGISService: "World_Imagery",
		LastZoom:      3,
		LastCenterLat: 0,
		LastCenterLon: 0,
	}
}

// DefaultPath returns the settings file location under the user's home
// directory.
func DefaultPath() string {
	homeDir, _ := os.UserHomeDir()
	return filepath.Join(homeDir, ".tilestream", "settings.json")
}

// Load reads settings from path, fills gaps with defaults, and applies
// environment overrides last. A missing file yields defaults plus
// environment, not an error.
func Load(path string) (*Settings, error) {
	s := DefaultSettings()

	data, err := os.ReadFile(path)
	switch {
	case os.IsNotExist(err):
		// first run
	case err != nil:
		return nil, fmt.Errorf("read settings: %w", err)
	default:
		var fromDisk Settings
		if err := json.Unmarshal(data, &fromDisk); err != nil {
			return nil, fmt.Errorf("parse settings: %w", err)
		}
		s.merge(&fromDisk)
	}

	if err := env.Parse(s); err != nil {
		return nil, fmt.Errorf("parse environment: %w", err)
	}
	if err := s.validate(); err != nil {
		return nil, err
	}
	return s, nil
}

// Save writes settings to path, creating parent directories as needed.
func Save(path string, s *Settings) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create settings directory: %w", err)
	}
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal settings: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("write settings: %w", err)
	}
	return nil
}

// merge copies every field the file actually set over the defaults.
func (s *Settings) merge(o *Settings) {
	if o.CacheDir != "" {
		s.CacheDir = o.CacheDir
	}
	if o.CacheMaxSizeMB != 0 {
		s.CacheMaxSizeMB = o.CacheMaxSizeMB
	}
	if o.CacheTTLDays != 0 {
		s.CacheTTLDays = o.CacheTTLDays
	}
	if o.TextureCacheTiles != 0 {
		s.TextureCacheTiles = o.TextureCacheTiles
	}
	if o.FetchWorkers != 0 {
		s.FetchWorkers = o.FetchWorkers
	}
	if o.NetworkTimeoutSecs != 0 {
		s.NetworkTimeoutSecs = o.NetworkTimeoutSecs
	}
	if o.UserAgent != "" {
		s.UserAgent = o.UserAgent
	}
	if o.DefaultSource != "" {
		s.DefaultSource = o.DefaultSource
	}
	if len(o.OSMHosts) > 0 {
		s.OSMHosts = o.OSMHosts
	}
	if len(o.ArcGISHosts) > 0 {
		s.ArcGISHosts = o.ArcGISHosts
	}
	if o.ArcGISService != "" {
		s.ArcGISService = o.ArcGISService
	}
	if len(o.CustomSources) > 0 {
		s.CustomSources = o.CustomSources
	}
	if o.LastZoom != 0 {
		s.LastZoom = o.LastZoom
	}
	s.LastCenterLat = o.LastCenterLat
	s.LastCenterLon = o.LastCenterLon
	if o.MetricsAddr != "" {
		s.MetricsAddr = o.MetricsAddr
	}
	if o.AnalyticsKey != "" {
		s.AnalyticsKey = o.AnalyticsKey
	}
}

func (s *Settings) validate() error {
	if s.CacheDir == "" {
		return fmt.Errorf("cache directory cannot be empty")
	}
	if s.CacheMaxSizeMB <= 0 {
		return fmt.Errorf("cache size must be positive")
	}
	if s.CacheTTLDays <= 0 {
		return fmt.Errorf("cache TTL must be positive")
	}
	if s.FetchWorkers <= 0 {
		return fmt.Errorf("fetch workers must be positive")
	}
	for _, cs := range s.CustomSources {
		if err := cs.validate(); err != nil {
			return err
		}
	}
	switch s.DefaultSource {
	case "osm", "arcgis", "local":
	default:
		if cs, ok := s.customByName(s.DefaultSource); !ok || !cs.Enabled {
			return fmt.Errorf("unknown default source: %s", s.DefaultSource)
		}
	}
	return nil
}

func (s *Settings) customByName(name string) (CustomSource, bool) {
	for _, cs := range s.CustomSources {
		if cs.Name == name {
			return cs, true
		}
	}
	return CustomSource{}, false
}
