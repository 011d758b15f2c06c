// Package domain holds the core market types shared across the detector:
// catalog metadata, price snapshots, and the events the engine emits.
package domain

// ItemID identifies a tradeable item in the upstream catalog.
type ItemID int64

// ItemMeta is one catalog entry from the upstream /mapping endpoint.
type ItemMeta struct {
	ID       ItemID `json:"id"`
	Name     string `json:"name"`
	Members  bool   `json:"members"`
	BuyLimit int    `json:"buy_limit"`
	Examine  string `json:"examine,omitempty"`
	Icon     string `json:"icon,omitempty"`
}

// Snapshot is one observed (item, timestamp) price point. Low and High are
// instant-sell and instant-buy prices in gp; zero means the side was not
// observed in the window. Volume is the combined traded units for the window.
type Snapshot struct {
	ItemID    ItemID `db:"item_id" json:"item_id"`
	Timestamp int64  `db:"ts" json:"timestamp"`
	Low       int64  `db:"low" json:"low"`
	High      int64  `db:"high" json:"high"`
	Volume    int64  `db:"volume" json:"volume"`
}

// EventKind discriminates detector outputs for routing and dedup.
type EventKind string

const (
	KindDump  EventKind = "dump"
	KindSpike EventKind = "spike"
	KindFlip  EventKind = "flip"
)

// Flag names attached to dump events.
const (
	FlagSlowBuy   = "slow_buy"
	FlagOneGPDump = "one_gp_dump"
	FlagSuper     = "super"
)

// Flags is the set of boolean markers on a dump event.
type Flags []string

// Has reports whether the named flag is present.
func (f Flags) Has(name string) bool {
	for _, v := range f {
		if v == name {
			return true
		}
	}
	return false
}

// RiskMetrics summarizes how dangerous it is to act on an event.
type RiskMetrics struct {
	RiskScore               float64 `json:"risk_score"`
	RiskLevel               string  `json:"risk_level"`
	LiquidityScore          float64 `json:"liquidity_score"`
	SpreadRisk              float64 `json:"spread_risk"`
	VolumeVelocity          float64 `json:"volume_velocity"`
	ProfitabilityConfidence float64 `json:"profitability_confidence"`
}

// Risk level buckets, ordered from safest to most dangerous.
const (
	RiskLow      = "LOW"
	RiskMedium   = "MEDIUM"
	RiskHigh     = "HIGH"
	RiskVeryHigh = "VERY HIGH"
)

// DumpEvent is a detected price dump: the instant-sell price fell sharply
// against recent history with enough volume behind it to matter.
type DumpEvent struct {
	ItemID        ItemID      `json:"item_id"`
	Name          string      `json:"name"`
	Timestamp     int64       `json:"timestamp"`
	PrevLow       int64       `json:"prev_low"`
	Low           int64       `json:"low"`
	High          int64       `json:"high"`
	Volume        int64       `json:"volume"`
	BuyLimit      int         `json:"buy_limit"`
	DropPct       float64     `json:"drop_pct"`
	VolSpikePct   float64     `json:"vol_spike_pct"`
	OversupplyPct float64     `json:"oversupply_pct"`
	BuySpeedPct   float64     `json:"buy_speed_pct"`
	Score         float64     `json:"score"`
	Tier          string      `json:"tier"`
	TierEmoji     string      `json:"tier_emoji"`
	TierGroup     string      `json:"tier_group"`
	Flags         Flags       `json:"flags"`
	MarginGP      int64       `json:"margin_gp"`
	Quality       string      `json:"quality,omitempty"`
	Risk          RiskMetrics `json:"risk"`
}

// SpikeEvent is a detected price spike: the instant-buy price rose sharply
// between consecutive snapshots.
type SpikeEvent struct {
	ItemID    ItemID  `json:"item_id"`
	Name      string  `json:"name"`
	Timestamp int64   `json:"timestamp"`
	PrevHigh  int64   `json:"prev_high"`
	High      int64   `json:"high"`
	Low       int64   `json:"low"`
	Volume    int64   `json:"volume"`
	RisePct   float64 `json:"rise_pct"`
	MarginGP  int64   `json:"margin_gp"`
}

// FlipCandidate is a standing buy-low/sell-high opportunity from the latest
// snapshot, independent of any price movement.
type FlipCandidate struct {
	ItemID    ItemID      `json:"item_id"`
	Name      string      `json:"name"`
	Timestamp int64       `json:"timestamp"`
	Buy       int64       `json:"buy"`
	Sell      int64       `json:"sell"`
	MarginGP  int64       `json:"margin_gp"`
	Profit    int64       `json:"profit"`
	Tax       int64       `json:"tax"`
	ROIPct    float64     `json:"roi_pct"`
	Volume    int64       `json:"volume"`
	BuyLimit  int         `json:"buy_limit"`
	Risk      RiskMetrics `json:"risk"`
}

// ItemTicker is one row of the all-items view: the newest snapshot joined
// with catalog metadata.
type ItemTicker struct {
	ItemID    ItemID `json:"item_id"`
	Name      string `json:"name"`
	Timestamp int64  `json:"timestamp"`
	Low       int64  `json:"low"`
	High      int64  `json:"high"`
	Volume    int64  `json:"volume"`
	BuyLimit  int    `json:"buy_limit"`
	Members   bool   `json:"members"`
}

// WatchlistEntry pins an item for a tenant user.
type WatchlistEntry struct {
	Tenant  string `db:"tenant_id" json:"tenant_id"`
	UserID  string `db:"user_id" json:"user_id"`
	ItemID  ItemID `db:"item_id" json:"item_id"`
	Name    string `db:"item_name" json:"item_name"`
	AddedAt int64  `db:"added_at" json:"added_at"`
}
