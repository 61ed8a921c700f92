// Package fetch resolves tile addresses to pixel data without ever blocking
// the render thread. Resolver workers answer from the disk store, falling
// back to a cropped ancestor while the exact tile is queued behind a
// dedicated network fetcher.
package fetch

import (
	"context"
	"fmt"
	"image"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"tilestream/internal/codec"
	"tilestream/internal/metrics"
	"tilestream/internal/source"
	"tilestream/internal/store"
	"tilestream/internal/tile"
)

// Config sizes the pipeline. Zero values fall back to the defaults below.
type Config struct {
	Workers          int           // resolver workers reading the disk store
	InflightCapacity int           // bound on the dedup table
	NetQueueCapacity int           // bound on pending network fetches
	ResultBuffer     int           // outcome channel depth
	RequestBuffer    int           // request channel depth
	NetworkTimeout   time.Duration // per-attempt bound on one tile download
	NetworkRetries   uint64        // extra attempts after the first, with backoff
	InflightTTL      time.Duration // age at which an in-flight entry expires
}

func (c *Config) applyDefaults() {
	if c.Workers <= 0 {
		c.Workers = 4
	}
	if c.InflightCapacity <= 0 {
		c.InflightCapacity = 64
	}
	if c.NetQueueCapacity <= 0 {
		c.NetQueueCapacity = 64
	}
	if c.ResultBuffer <= 0 {
		c.ResultBuffer = 256
	}
	if c.RequestBuffer <= 0 {
		c.RequestBuffer = 256
	}
	if c.NetworkTimeout <= 0 {
		c.NetworkTimeout = 15 * time.Second
	}
	if c.NetworkRetries == 0 {
		c.NetworkRetries = 2
	}
	if c.InflightTTL <= 0 {
		c.InflightTTL = 30 * time.Second
	}
}

// Pipeline owns the resolver workers, the network fetcher, and every piece
// of state they share. All fetch-path errors are absorbed here and converted
// to outcomes or log lines; nothing propagates to the render loop.
type Pipeline struct {
	cfg      Config
	store    *store.Store
	sources  *source.Registry
	log      *zap.Logger
	requests chan tile.Address
	results  chan Outcome
	inflight *inflightTable
	netq     *netQueue

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New starts the pipeline goroutines immediately.
func New(cfg Config, st *store.Store, sources *source.Registry, log *zap.Logger) *Pipeline {
	cfg.applyDefaults()
	if log == nil {
		log = zap.NewNop()
	}

	ctx, cancel := context.WithCancel(context.Background())
	p := &Pipeline{
		cfg:      cfg,
		store:    st,
		sources:  sources,
		log:      log,
		requests: make(chan tile.Address, cfg.RequestBuffer),
		results:  make(chan Outcome, cfg.ResultBuffer),
		inflight: newInflightTable(cfg.InflightCapacity, cfg.InflightTTL),
		netq:     newNetQueue(cfg.NetQueueCapacity),
		ctx:      ctx,
		cancel:   cancel,
	}

	for i := 0; i < cfg.Workers; i++ {
		p.wg.Add(1)
		go p.worker()
	}
	p.wg.Add(1)
	go p.networkFetcher()

	return p
}

// Request submits an address for resolution. It never blocks: when the
// request buffer is full the submission is dropped, and the next frame's
// miss resubmits it.
func (p *Pipeline) Request(addr tile.Address) {
	select {
	case p.requests <- addr:
	default:
	}
}

// Poll returns one pending outcome without blocking.
func (p *Pipeline) Poll() (Outcome, bool) {
	select {
	case o := <-p.results:
		return o, true
	default:
		return Outcome{}, false
	}
}

// Pending reports how many addresses wait for the network fetcher.
func (p *Pipeline) Pending() int { return p.netq.Len() }

// Close cancels outstanding work and joins every goroutine.
func (p *Pipeline) Close() {
	p.cancel()
	p.wg.Wait()
}

// emit hands an outcome to the render thread. If the buffer is full the
// outcome is dropped and the address forgotten so a later frame can request
// it again; a worker must never wait on the consumer.
func (p *Pipeline) emit(o Outcome) {
	select {
	case p.results <- o:
	default:
		p.inflight.Forget(o.Requested())
		p.log.Warn("result buffer full, dropping outcome", zap.Stringer("outcome", o))
	}
}

// worker consumes requests and resolves them from the disk store via the
// bounded ancestor walk.
func (p *Pipeline) worker() {
	defer p.wg.Done()
	for {
		select {
		case <-p.ctx.Done():
			return
		case addr := <-p.requests:
			p.resolve(addr)
		}
	}
}

// resolve implements the pyramid fallback: exact disk hit, else the nearest
// cached ancestor cropped to the requested footprint, else straight to the
// network queue.
func (p *Pipeline) resolve(addr tile.Address) {
	if !p.inflight.Begin(addr) {
		return
	}

	it := addr.Ancestors()
	for {
		cand, ok := it.Next()
		if !ok {
			break
		}
		img, ok := p.store.Load(cand)
		if !ok {
			continue
		}

		if cand == addr {
			p.inflight.Mark(addr, StateResolved)
			p.emit(Resolved(addr, img))
			return
		}

		metrics.AncestorFallbacks.Inc()
		cropped := codec.CropForDescendant(img, cand, addr)
		p.inflight.Mark(addr, StateApproximationSent)
		p.emit(Approximate(cand, cropped, addr))
		p.netq.Push(addr)
		return
	}

	// Nothing cached at any level; the network fetch will produce the first
	// pixels for this address.
	p.netq.Push(addr)
}

// networkFetcher serializes all tile downloads, most recent first.
func (p *Pipeline) networkFetcher() {
	defer p.wg.Done()
	for {
		addr, ok := p.netq.Pop(p.ctx)
		if !ok {
			return
		}
		p.fetchTile(addr)
	}
}

func (p *Pipeline) fetchTile(addr tile.Address) {
	provider, ok := p.sources.Get(addr.Source)
	if !ok {
		p.log.Warn("no provider for source", zap.Stringer("tile", addr))
		p.emit(Unavailable(addr))
		return
	}

	metrics.NetworkFetches.Inc()

	var img *image.RGBA
	attempt := func() error {
		ctx, cancel := context.WithTimeout(p.ctx, p.cfg.NetworkTimeout)
		defer cancel()

		data, err := provider.FetchTile(ctx, addr)
		if err != nil {
			return err
		}
		if !codec.ValidImage(data) {
			return fmt.Errorf("payload is not an image")
		}
		decoded, err := codec.Decode(data)
		if err != nil {
			return err
		}
		if err := p.store.Save(addr, data); err != nil {
			// The tile is still usable this session; only persistence failed.
			p.log.Warn("persist tile", zap.Stringer("tile", addr), zap.Error(err))
		}
		img = decoded
		return nil
	}

	bo := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewExponentialBackOff(), p.cfg.NetworkRetries),
		p.ctx)
	if err := backoff.Retry(attempt, bo); err != nil {
		metrics.NetworkFailures.Inc()
		p.log.Warn("tile fetch failed", zap.Stringer("tile", addr), zap.Error(err))
		// The in-flight entry stays put until it expires, so a redraw does
		// not turn a dead tile into a retry storm.
		p.emit(Unavailable(addr))
		return
	}

	p.inflight.Mark(addr, StateResolved)
	p.emit(Resolved(addr, img))
}
