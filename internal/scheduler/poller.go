// Package scheduler drives the pipeline: ingest ticks, catalog refreshes,
// retention pruning, and the admin backfill.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/getools/gesniper/internal/alert"
	"github.com/getools/gesniper/internal/catalog"
	"github.com/getools/gesniper/internal/config"
	"github.com/getools/gesniper/internal/domain"
	"github.com/getools/gesniper/internal/engine"
	"github.com/getools/gesniper/internal/metrics"
	"github.com/getools/gesniper/internal/persistence"
	"github.com/getools/gesniper/internal/upstream"
	"github.com/getools/gesniper/internal/views"
)

// Backoff bounds once the upstream looks down.
const (
	backoffAfter = 5
	// degradedAfter is where health reporting flips before backoff kicks in.
	degradedAfter = 3
	backoffBase  = time.Second
	backoffCap   = 5 * time.Minute
)

// maxBackfillHours caps the admin backfill window.
const maxBackfillHours = 24

// PriceFetcher is the slice of the upstream client the poller uses.
type PriceFetcher interface {
	FetchLatest(ctx context.Context) (map[domain.ItemID]upstream.LatestEntry, error)
	Fetch5m(ctx context.Context) (map[domain.ItemID]upstream.WindowEntry, int64, error)
	Fetch5mAt(ctx context.Context, ts int64) (map[domain.ItemID]upstream.WindowEntry, int64, error)
	Fetch1h(ctx context.Context) (map[domain.ItemID]upstream.WindowEntry, int64, error)
}

// Status is the poller's health snapshot for /api/health.
type Status struct {
	ConsecutiveErrors int64 `json:"consecutive_errors"`
	LastSuccess       int64 `json:"last_success"`
	LastAttempt       int64 `json:"last_attempt"`
	Healthy           bool  `json:"healthy"`
}

// Poller owns the periodic loops.
type Poller struct {
	client  PriceFetcher
	store   persistence.PriceStore
	catalog *catalog.Catalog
	engine  *engine.Engine
	views   *views.Registry
	router  *alert.Router
	cfg     *config.Holder
	metrics *metrics.Metrics
	log     zerolog.Logger

	consecErrors atomic.Int64
	lastSuccess  atomic.Int64
	lastAttempt  atomic.Int64

	// hourlyVolumes is the last /1h volume per item, used to enrich the
	// latest-price rows between window fetches.
	hourlyVolumes atomic.Pointer[map[domain.ItemID]int64]

	backfilling atomic.Bool
}

// New wires a Poller.
func New(client PriceFetcher, store persistence.PriceStore, cat *catalog.Catalog,
	eng *engine.Engine, reg *views.Registry, router *alert.Router,
	cfg *config.Holder, m *metrics.Metrics, log zerolog.Logger) *Poller {

	p := &Poller{
		client:  client,
		store:   store,
		catalog: cat,
		engine:  eng,
		views:   reg,
		router:  router,
		cfg:     cfg,
		metrics: m,
		log:     log.With().Str("component", "scheduler").Logger(),
	}
	empty := map[domain.ItemID]int64{}
	p.hourlyVolumes.Store(&empty)
	return p
}

// Run blocks until ctx is canceled, supervising the three loops.
func (p *Poller) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return p.ingestLoop(gctx) })
	g.Go(func() error { return p.catalogLoop(gctx) })
	g.Go(func() error { return p.pruneLoop(gctx) })

	err := g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// Status reports poller health.
func (p *Poller) Status() Status {
	consec := p.consecErrors.Load()
	return Status{
		ConsecutiveErrors: consec,
		LastSuccess:       p.lastSuccess.Load(),
		LastAttempt:       p.lastAttempt.Load(),
		Healthy:           consec < degradedAfter,
	}
}

func (p *Poller) ingestLoop(ctx context.Context) error {
	for {
		p.lastAttempt.Store(time.Now().Unix())
		start := time.Now()
		err := p.Tick(ctx)
		p.metrics.TickDuration.Observe(time.Since(start).Seconds())

		switch {
		case err == nil:
			p.consecErrors.Store(0)
			p.lastSuccess.Store(time.Now().Unix())
			p.metrics.TicksTotal.WithLabelValues("ok").Inc()
		case errors.Is(err, context.Canceled):
			return err
		default:
			p.consecErrors.Add(1)
			p.metrics.TicksTotal.WithLabelValues("error").Inc()
			p.metrics.UpstreamErrors.Inc()
			p.log.Error().Err(err).Int64("consecutive", p.consecErrors.Load()).Msg("ingest tick failed")
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(p.nextWait()):
		}
	}
}

// nextWait is the ingest period, stretched by exponential backoff once the
// upstream has failed repeatedly.
func (p *Poller) nextWait() time.Duration {
	period := p.cfg.Current().IngestPeriod
	consec := p.consecErrors.Load()
	if consec < backoffAfter {
		return period
	}
	shift := consec - backoffAfter
	if shift > 9 {
		shift = 9
	}
	backoff := backoffBase << shift
	if backoff > backoffCap {
		backoff = backoffCap
	}
	if backoff < period {
		return period
	}
	return backoff
}

// Tick runs one ingest pass: poll the upstream, persist snapshots, and when
// a fresh five-minute window arrived, recompute events, publish the view,
// and dispatch alerts.
func (p *Poller) Tick(ctx context.Context) error {
	cfg := p.cfg.Current()

	latest, err := p.client.FetchLatest(ctx)
	if errors.Is(err, upstream.ErrRateLimited) {
		p.log.Debug().Msg("latest fetch paced out, skipping tick")
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to fetch latest prices: %w", err)
	}

	p.refreshHourlyVolumes(ctx)

	now := time.Now().Unix()
	priceRows := p.buildPriceRows(latest, now)
	if err := p.store.PutPrices(ctx, priceRows); err != nil {
		return fmt.Errorf("failed to store latest prices: %w", err)
	}
	p.metrics.SnapshotsStored.Add(float64(len(priceRows)))

	w5, windowTS, err := p.client.Fetch5m(ctx)
	if errors.Is(err, upstream.ErrRateLimited) {
		// Normal between window boundaries; the published view stays live.
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to fetch 5m windows: %w", err)
	}
	if windowTS == 0 {
		windowTS = now
	}

	windowRows := buildWindowRows(latest, w5, windowTS)
	if err := p.store.PutWindows(ctx, windowRows); err != nil {
		return fmt.Errorf("failed to store 5m windows: %w", err)
	}
	p.metrics.SnapshotsStored.Add(float64(len(windowRows)))

	res, err := p.engine.Compute(ctx, windowRows, cfg.Thresholds)
	if err != nil {
		return fmt.Errorf("failed to compute events: %w", err)
	}
	p.metrics.EventsDetected.WithLabelValues(string(domain.KindDump)).Add(float64(len(res.Dumps)))
	p.metrics.EventsDetected.WithLabelValues(string(domain.KindSpike)).Add(float64(len(res.Spikes)))
	p.metrics.EventsDetected.WithLabelValues(string(domain.KindFlip)).Add(float64(len(res.Flips)))

	gen := p.views.Publish(res, time.Now())
	p.metrics.ViewGeneration.Set(float64(gen.Generation))

	if p.router != nil {
		st := p.router.Dispatch(ctx, gen, cfg.IngestPeriod)
		p.metrics.ObserveDispatch(st.Delivered, st.Deduped, st.RateCapped, st.Filtered, st.Failed)
	}

	p.log.Info().
		Uint64("generation", gen.Generation).
		Int("items", len(windowRows)).
		Int("dumps", len(res.Dumps)).
		Int("spikes", len(res.Spikes)).
		Int("flips", len(res.Flips)).
		Msg("tick complete")
	return nil
}

// refreshHourlyVolumes opportunistically updates the hourly volume map; the
// client's limiter makes most calls no-ops.
func (p *Poller) refreshHourlyVolumes(ctx context.Context) {
	h1, _, err := p.client.Fetch1h(ctx)
	if errors.Is(err, upstream.ErrRateLimited) {
		return
	}
	if err != nil {
		p.log.Warn().Err(err).Msg("failed to fetch 1h windows")
		return
	}
	vols := make(map[domain.ItemID]int64, len(h1))
	for id, w := range h1 {
		vols[id] = w.Volume()
	}
	p.hourlyVolumes.Store(&vols)
}

func (p *Poller) buildPriceRows(latest map[domain.ItemID]upstream.LatestEntry, ts int64) []domain.Snapshot {
	vols := *p.hourlyVolumes.Load()
	rows := make([]domain.Snapshot, 0, len(latest))
	for id, e := range latest {
		var low, high int64
		if e.Low != nil {
			low = *e.Low
		}
		if e.High != nil {
			high = *e.High
		}
		if low == 0 && high == 0 {
			continue
		}
		rows = append(rows, domain.Snapshot{
			ItemID:    id,
			Timestamp: ts,
			Low:       low,
			High:      high,
			Volume:    vols[id],
		})
	}
	return rows
}

// buildWindowRows merges the latest prices into the window rows: the traded
// averages fill whichever side the latest feed is missing.
func buildWindowRows(latest map[domain.ItemID]upstream.LatestEntry, w5 map[domain.ItemID]upstream.WindowEntry, ts int64) []domain.Snapshot {
	rows := make([]domain.Snapshot, 0, len(w5))
	for id, w := range w5 {
		var low, high int64
		if e, ok := latest[id]; ok {
			if e.Low != nil {
				low = *e.Low
			}
			if e.High != nil {
				high = *e.High
			}
		}
		if low == 0 && w.AvgLowPrice != nil {
			low = *w.AvgLowPrice
		}
		if high == 0 && w.AvgHighPrice != nil {
			high = *w.AvgHighPrice
		}
		if low == 0 && high == 0 {
			continue
		}
		rows = append(rows, domain.Snapshot{
			ItemID:    id,
			Timestamp: ts,
			Low:       low,
			High:      high,
			Volume:    w.Volume(),
		})
	}
	return rows
}

func (p *Poller) catalogLoop(ctx context.Context) error {
	// Refresh immediately so a cold start has names and buy limits.
	if err := p.catalog.Refresh(ctx); err != nil {
		p.log.Warn().Err(err).Msg("initial catalog refresh failed")
	}
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(p.cfg.Current().CatalogPeriod):
			if err := p.catalog.Refresh(ctx); err != nil {
				p.log.Warn().Err(err).Msg("catalog refresh failed")
			}
		}
	}
}

func (p *Poller) pruneLoop(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(p.cfg.Current().PrunePeriod):
			cfg := p.cfg.Current()
			cutoff := time.Now().Add(-time.Duration(cfg.RetentionDays) * 24 * time.Hour).Unix()
			n, err := p.store.Prune(ctx, cutoff)
			if err != nil {
				p.log.Error().Err(err).Msg("retention prune failed")
				continue
			}
			p.log.Info().Int64("rows", n).Msg("retention prune complete")
		}
	}
}

// Backfill re-fetches the five-minute windows of the last N hours and
// upserts them. Only one backfill runs at a time.
func (p *Poller) Backfill(ctx context.Context, hours int) (int, error) {
	if hours <= 0 {
		hours = 1
	}
	if hours > maxBackfillHours {
		hours = maxBackfillHours
	}
	if !p.backfilling.CompareAndSwap(false, true) {
		return 0, fmt.Errorf("backfill already in progress")
	}
	defer p.backfilling.Store(false)

	const step = 300
	end := time.Now().Unix() / step * step
	start := end - int64(hours)*3600

	var stored int
	for ts := start; ts < end; ts += step {
		w5, windowTS, err := p.client.Fetch5mAt(ctx, ts)
		if err != nil {
			return stored, fmt.Errorf("failed to backfill window at %d: %w", ts, err)
		}
		if windowTS == 0 {
			windowTS = ts
		}
		rows := buildWindowRows(nil, w5, windowTS)
		if err := p.store.PutWindows(ctx, rows); err != nil {
			return stored, fmt.Errorf("failed to store backfill window: %w", err)
		}
		stored += len(rows)
	}
	p.log.Info().Int("hours", hours).Int("rows", stored).Msg("backfill complete")
	return stored, nil
}
