package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	DiskHits = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tilestream_disk_hits_total",
		Help: "Tiles served from the on-disk store",
	})

	DiskMisses = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tilestream_disk_misses_total",
		Help: "Disk store lookups that found nothing usable",
	})

	AncestorFallbacks = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tilestream_ancestor_fallbacks_total",
		Help: "Requests answered with a cropped ancestor tile",
	})

	NetworkFetches = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tilestream_network_fetches_total",
		Help: "Tile downloads attempted over the network",
	})

	NetworkFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tilestream_network_failures_total",
		Help: "Tile downloads that failed after retries",
	})

	NetworkDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tilestream_network_dropped_total",
		Help: "Pending downloads dropped from the full network queue",
	})

	TextureEvictions = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tilestream_texture_evictions_total",
		Help: "Texture handles released by LRU eviction",
	})
)
