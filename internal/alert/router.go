package alert

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/getools/gesniper/internal/domain"
	"github.com/getools/gesniper/internal/egress"
	"github.com/getools/gesniper/internal/tenant"
	"github.com/getools/gesniper/internal/views"
)

// tenantWorkers bounds concurrent tenant fan-out.
const tenantWorkers = 4

// routedEvent is the router's kind-agnostic view of one event.
type routedEvent struct {
	kind      domain.EventKind
	itemID    domain.ItemID
	timestamp int64
	// priority orders delivery within a tick: dump score, spike rise, or
	// flip ROI.
	priority  float64
	marginGP  int64
	tier      string
	score     float64
	risePct   float64
	quality   string
	riskLevel string
	payload   egress.Payload
}

// Stats summarizes one dispatch pass.
type Stats struct {
	Delivered  int
	Deduped    int
	RateCapped int
	Filtered   int
	Failed     int
}

func (s *Stats) add(o Stats) {
	s.Delivered += o.Delivered
	s.Deduped += o.Deduped
	s.RateCapped += o.RateCapped
	s.Filtered += o.Filtered
	s.Failed += o.Failed
}

// Router fans a view generation out to every configured tenant.
type Router struct {
	tenants  *tenant.Store
	delivery DeliveryStore
	poster   egress.Poster
	log      zerolog.Logger
}

// NewRouter builds a Router.
func NewRouter(tenants *tenant.Store, delivery DeliveryStore, poster egress.Poster, log zerolog.Logger) *Router {
	return &Router{
		tenants:  tenants,
		delivery: delivery,
		poster:   poster,
		log:      log.With().Str("component", "alert").Logger(),
	}
}

// Dispatch routes the generation's events to all tenants. period is the
// ingest period; it sizes dedup buckets and record TTLs.
func (r *Router) Dispatch(ctx context.Context, gen *views.Generation, period time.Duration) Stats {
	events := collectEvents(gen)
	if len(events) == 0 {
		return Stats{}
	}

	ids, err := r.tenants.List()
	if err != nil {
		r.log.Error().Err(err).Msg("failed to list tenants")
		return Stats{}
	}

	var (
		mu    sync.Mutex
		total Stats
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(tenantWorkers)
	for _, id := range ids {
		id := id
		g.Go(func() error {
			st := r.dispatchTenant(gctx, id, events, period)
			mu.Lock()
			total.add(st)
			mu.Unlock()
			return nil
		})
	}
	g.Wait()

	r.log.Info().
		Int("delivered", total.Delivered).
		Int("deduped", total.Deduped).
		Int("rate_capped", total.RateCapped).
		Int("failed", total.Failed).
		Msg("alert dispatch complete")
	return total
}

// collectEvents flattens a generation into priority order: highest priority
// first, margin and item id as tie-breaks.
func collectEvents(gen *views.Generation) []routedEvent {
	events := make([]routedEvent, 0, len(gen.Dumps)+len(gen.Spikes)+len(gen.TopFlips))
	for _, d := range gen.Dumps {
		events = append(events, routedEvent{
			kind: domain.KindDump, itemID: d.ItemID, timestamp: d.Timestamp,
			priority: d.Score, marginGP: d.MarginGP,
			tier: d.Tier, score: d.Score, quality: d.Quality,
			riskLevel: d.Risk.RiskLevel, payload: dumpPayload(d),
		})
	}
	for _, s := range gen.Spikes {
		events = append(events, routedEvent{
			kind: domain.KindSpike, itemID: s.ItemID, timestamp: s.Timestamp,
			priority: s.RisePct, marginGP: s.MarginGP, risePct: s.RisePct,
			payload: spikePayload(s),
		})
	}
	for _, f := range gen.TopFlips {
		events = append(events, routedEvent{
			kind: domain.KindFlip, itemID: f.ItemID, timestamp: f.Timestamp,
			priority: f.ROIPct, marginGP: f.MarginGP,
			riskLevel: f.Risk.RiskLevel, payload: flipPayload(f),
		})
	}
	sortEvents(events)
	return events
}

func sortEvents(events []routedEvent) {
	sort.SliceStable(events, func(i, j int) bool {
		a, b := events[i], events[j]
		if a.priority != b.priority {
			return a.priority > b.priority
		}
		if a.marginGP != b.marginGP {
			return a.marginGP > b.marginGP
		}
		return a.itemID < b.itemID
	})
}

func (r *Router) dispatchTenant(ctx context.Context, tenantID string, events []routedEvent, period time.Duration) Stats {
	var st Stats

	if r.tenants.Banned(tenantID) {
		st.Filtered += len(events)
		return st
	}
	cfg, err := r.tenants.Get(ctx, tenantID)
	if err != nil {
		r.log.Warn().Str("tenant", tenantID).Err(err).Msg("failed to load tenant config")
		st.Failed += len(events)
		return st
	}
	if !cfg.Enabled || len(cfg.Channels) == 0 {
		st.Filtered += len(events)
		return st
	}

	budget := cfg.Thresholds.MaxAlertsPerInterval
	broken := make(map[string]bool)

	for _, ev := range events {
		if !passesFilters(cfg, ev) {
			st.Filtered++
			continue
		}
		channel := classifyChannel(cfg, ev)
		if channel == "" {
			st.Filtered++
			continue
		}
		if broken[channel] {
			st.Failed++
			continue
		}

		key := DeliveryKey{
			Tenant: tenantID,
			Item:   ev.itemID,
			Kind:   ev.kind,
			Bucket: bucketFor(ev.timestamp, period),
		}
		seen, err := r.delivery.Seen(ctx, key)
		if err != nil {
			// Better a duplicate than a lost alert.
			r.log.Warn().Err(err).Msg("delivery record check failed")
		}
		if seen {
			st.Deduped++
			continue
		}
		if budget <= 0 {
			st.RateCapped++
			continue
		}

		payload := ev.payload
		payload.Mentions = mentionsFor(cfg, ev)
		if err := r.poster.Post(ctx, channel, payload); err != nil {
			st.Failed++
			if egress.IsPermanent(err) {
				broken[channel] = true
				r.log.Warn().Str("tenant", tenantID).Str("channel", channel).Err(err).
					Msg("channel marked broken for this tick")
			} else {
				r.log.Warn().Str("tenant", tenantID).Str("channel", channel).Err(err).
					Msg("alert delivery failed")
			}
			continue
		}

		st.Delivered++
		budget--
		if err := r.delivery.Mark(ctx, key, period); err != nil {
			r.log.Warn().Err(err).Msg("failed to record delivery")
		}
	}
	return st
}

// passesFilters applies the tenant's thresholds. Tier filters only make
// sense for dumps, the rise floor only for spikes; the margin floor
// applies to every kind.
func passesFilters(cfg *tenant.Config, ev routedEvent) bool {
	if ev.kind == domain.KindDump {
		if cfg.MinTier != "" && domain.TierOrder(ev.tier) < domain.TierOrder(cfg.MinTier) {
			return false
		}
		if !cfg.TierEnabled(ev.tier) {
			return false
		}
		if ev.score < cfg.Thresholds.MinScore {
			return false
		}
	}
	if ev.kind == domain.KindSpike && ev.risePct < cfg.MinSpikeRisePct() {
		return false
	}
	if ev.marginGP < cfg.Thresholds.MinMarginGP {
		return false
	}
	return true
}

// classifyChannel picks the destination channel: dumps and spikes go to
// their kind channels, flips to the margin bracket with the general flips
// channel as fallback. Empty means no destination is configured.
func classifyChannel(cfg *tenant.Config, ev routedEvent) string {
	switch ev.kind {
	case domain.KindDump:
		return cfg.Channels[tenant.ChannelDumps]
	case domain.KindSpike:
		return cfg.Channels[tenant.ChannelSpikes]
	case domain.KindFlip:
		return bracketChannel(cfg, ev.marginGP)
	}
	return ""
}

func bracketChannel(cfg *tenant.Config, margin int64) string {
	var kind string
	switch {
	case margin <= cfg.Brackets.CheapMax:
		kind = tenant.ChannelCheapFlips
	case margin <= cfg.Brackets.MediumMax:
		kind = tenant.ChannelMediumFlips
	case margin <= cfg.Brackets.ExpensiveMax:
		kind = tenant.ChannelExpensiveFlips
	default:
		kind = tenant.ChannelBillionaireFlips
	}
	if c := cfg.Channels[kind]; c != "" {
		return c
	}
	return cfg.Channels[tenant.ChannelFlips]
}

// mentionsFor collects the roles to ping: tier role, kind role, risk role,
// quality role. Order is stable and duplicates are dropped.
func mentionsFor(cfg *tenant.Config, ev routedEvent) []string {
	var out []string
	add := func(id string) {
		if id == "" {
			return
		}
		for _, existing := range out {
			if existing == id {
				return
			}
		}
		out = append(out, id)
	}

	if ev.kind == domain.KindDump {
		if tr, ok := cfg.TierRoles[ev.tier]; ok && tr.Enabled {
			add(tr.RoleID)
		}
	}
	add(cfg.Roles[string(ev.kind)+"s"])
	if ev.riskLevel != "" {
		add(cfg.Roles[tenant.RiskRolePrefix+strings.ToLower(strings.ReplaceAll(ev.riskLevel, " ", "_"))])
	}
	if ev.quality != "" {
		add(cfg.Roles[qualityRoleKey(ev.quality)])
	}
	return out
}

// qualityRoleKey maps a quality label onto its role key: "NUCLEAR DUMP"
// pings quality_nuclear, "GOD-TIER" pings quality_god_tier.
func qualityRoleKey(quality string) string {
	q := strings.ToLower(quality)
	q = strings.TrimSuffix(q, " dump")
	q = strings.ReplaceAll(q, "-", "_")
	q = strings.ReplaceAll(q, " ", "_")
	return tenant.QualityRolePrefix + q
}

// bucketFor quantizes an event timestamp to the ingest period.
func bucketFor(ts int64, period time.Duration) int64 {
	secs := int64(period / time.Second)
	if secs <= 0 {
		secs = 60
	}
	return ts / secs
}
