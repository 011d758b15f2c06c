package engine

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/getools/gesniper/internal/config"
	"github.com/getools/gesniper/internal/domain"
	"github.com/getools/gesniper/internal/persistence"
)

// historyDepth is how many five-minute windows the detector looks back over,
// roughly one hour.
const historyDepth = 12

// workers bounds the concurrent per-item history reads.
const workers = 8

// MetaSource is the slice of the catalog the engine needs.
type MetaSource interface {
	Get(id domain.ItemID) (domain.ItemMeta, bool)
}

// Result is everything one detection pass produced.
type Result struct {
	Dumps  []domain.DumpEvent
	Spikes []domain.SpikeEvent
	Flips  []domain.FlipCandidate
	Items  []domain.ItemTicker
}

// Engine computes market events from the snapshot batch of one ingest tick
// plus the stored window history.
type Engine struct {
	store persistence.PriceStore
	meta  MetaSource
	log   zerolog.Logger
}

// New builds an Engine.
func New(store persistence.PriceStore, meta MetaSource, log zerolog.Logger) *Engine {
	return &Engine{
		store: store,
		meta:  meta,
		log:   log.With().Str("component", "engine").Logger(),
	}
}

// Compute scans the tick's snapshots against stored history. The snapshots
// must already be written to the store so history includes the current
// window. Output ordering is deterministic.
func (e *Engine) Compute(ctx context.Context, snaps []domain.Snapshot, thr config.Thresholds) (Result, error) {
	var (
		mu  sync.Mutex
		res Result
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)

	for _, snap := range snaps {
		snap := snap
		meta, ok := e.meta.Get(snap.ItemID)
		if !ok {
			continue
		}

		mu.Lock()
		res.Items = append(res.Items, domain.ItemTicker{
			ItemID:    snap.ItemID,
			Name:      meta.Name,
			Timestamp: snap.Timestamp,
			Low:       snap.Low,
			High:      snap.High,
			Volume:    snap.Volume,
			BuyLimit:  meta.BuyLimit,
			Members:   meta.Members,
		})
		mu.Unlock()

		if snap.Low <= 0 || snap.High <= 0 {
			continue
		}

		if flip, ok := e.flipCandidate(snap, meta, thr); ok {
			mu.Lock()
			res.Flips = append(res.Flips, flip)
			mu.Unlock()
		}

		g.Go(func() error {
			dump, spike, err := e.scanHistory(gctx, snap, meta, thr)
			if err != nil {
				return err
			}
			mu.Lock()
			if dump != nil {
				res.Dumps = append(res.Dumps, *dump)
			}
			if spike != nil {
				res.Spikes = append(res.Spikes, *spike)
			}
			mu.Unlock()
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return Result{}, fmt.Errorf("failed to scan history: %w", err)
	}

	sortResult(&res)
	return res, nil
}

// scanHistory detects dumps and spikes for one item from its stored window
// history.
func (e *Engine) scanHistory(ctx context.Context, snap domain.Snapshot, meta domain.ItemMeta, thr config.Thresholds) (*domain.DumpEvent, *domain.SpikeEvent, error) {
	history, err := e.store.RecentWindows(ctx, snap.ItemID, historyDepth)
	if err != nil {
		return nil, nil, err
	}
	if len(history) < 2 {
		return nil, nil, nil
	}

	cur, prev := history[0], history[1]

	var avgVol float64
	for _, h := range history {
		avgVol += float64(h.Volume)
	}
	avgVol /= float64(len(history))

	var dump *domain.DumpEvent
	if meta.BuyLimit > 0 && prev.Low > 0 && cur.Low > 0 && cur.Low < prev.Low {
		b := dumpScore(prev.Low, cur.Low, cur.Volume, avgVol, meta.BuyLimit)
		if b.Score > 0 && b.DropPct >= thr.DumpDropPct && cur.Volume >= thr.MinVolume {
			tier := domain.TierFor(b.Score)
			dump = &domain.DumpEvent{
				ItemID:        snap.ItemID,
				Name:          meta.Name,
				Timestamp:     cur.Timestamp,
				PrevLow:       prev.Low,
				Low:           cur.Low,
				High:          cur.High,
				Volume:        cur.Volume,
				BuyLimit:      meta.BuyLimit,
				DropPct:       b.DropPct,
				VolSpikePct:   b.VolSpikePct,
				OversupplyPct: b.OversupplyPct,
				BuySpeedPct:   b.BuySpeedPct,
				Score:         b.Score,
				Tier:          tier.Name,
				TierEmoji:     tier.Emoji,
				TierGroup:     tier.Group,
				Flags:         dumpFlags(b, cur.Low),
				MarginGP:      cur.High - cur.Low,
				Quality:       dumpQuality(b.DropPct, cur.Volume, cur.Low),
				Risk:          riskMetrics(cur.Low, cur.High, cur.Volume, meta.BuyLimit),
			}
		}
	}

	var spike *domain.SpikeEvent
	if prev.High > 0 && cur.High > prev.High {
		rise := float64(cur.High-prev.High) / float64(prev.High) * 100
		if rise >= thr.SpikeRisePct && cur.Volume >= thr.MinVolume {
			spike = &domain.SpikeEvent{
				ItemID:    snap.ItemID,
				Name:      meta.Name,
				Timestamp: cur.Timestamp,
				PrevHigh:  prev.High,
				High:      cur.High,
				Low:       cur.Low,
				Volume:    cur.Volume,
				RisePct:   rise,
				MarginGP:  cur.High - cur.Low,
			}
		}
	}

	return dump, spike, nil
}

// flipCandidate checks the standing margin on the current snapshot. Items
// priced at 100 gp or less are noise, and items without a buy limit
// cannot be traded on the exchange at all.
func (e *Engine) flipCandidate(snap domain.Snapshot, meta domain.ItemMeta, thr config.Thresholds) (domain.FlipCandidate, bool) {
	if meta.BuyLimit <= 0 {
		return domain.FlipCandidate{}, false
	}
	margin := snap.High - snap.Low
	if margin < thr.MarginMin || snap.Volume < thr.MinVolume || snap.Low <= 100 {
		return domain.FlipCandidate{}, false
	}
	tax := GETax(snap.High)
	profit := margin - tax
	var roi float64
	if snap.Low > 0 {
		roi = float64(profit) / float64(snap.Low) * 100
	}
	return domain.FlipCandidate{
		ItemID:    snap.ItemID,
		Name:      meta.Name,
		Timestamp: snap.Timestamp,
		Buy:       snap.Low,
		Sell:      snap.High,
		MarginGP:  margin,
		Profit:    profit,
		Tax:       tax,
		ROIPct:    roi,
		Volume:    snap.Volume,
		BuyLimit:  meta.BuyLimit,
		Risk:      riskMetrics(snap.Low, snap.High, snap.Volume, meta.BuyLimit),
	}, true
}

func sortResult(res *Result) {
	sort.Slice(res.Dumps, func(i, j int) bool {
		a, b := res.Dumps[i], res.Dumps[j]
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		if a.MarginGP != b.MarginGP {
			return a.MarginGP > b.MarginGP
		}
		return a.ItemID < b.ItemID
	})
	sort.Slice(res.Spikes, func(i, j int) bool {
		a, b := res.Spikes[i], res.Spikes[j]
		if a.RisePct != b.RisePct {
			return a.RisePct > b.RisePct
		}
		return a.ItemID < b.ItemID
	})
	sort.Slice(res.Flips, func(i, j int) bool {
		a, b := res.Flips[i], res.Flips[j]
		if a.Profit != b.Profit {
			return a.Profit > b.Profit
		}
		return a.ItemID < b.ItemID
	})
	sort.Slice(res.Items, func(i, j int) bool {
		return res.Items[i].ItemID < res.Items[j].ItemID
	})
}
