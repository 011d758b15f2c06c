// Package persistence stores price history, watchlists, and durable tenant
// settings behind small repository interfaces. One sqlx-backed implementation
// serves both Postgres (DB_URL) and the embedded SQLite fallback (DB_PATH).
package persistence

import (
	"context"
	"errors"

	"github.com/getools/gesniper/internal/domain"
)

// ErrNotFound is returned when a keyed read matches nothing.
var ErrNotFound = errors.New("not found")

// PriceStore holds the two time series: per-tick latest prices and the
// five-minute trade windows the detector reads.
type PriceStore interface {
	// PutPrices appends latest-price rows. Duplicate (item, ts) pairs are
	// ignored.
	PutPrices(ctx context.Context, rows []domain.Snapshot) error
	// PutWindows upserts five-minute window rows; replaying a batch only
	// refreshes the stored values.
	PutWindows(ctx context.Context, rows []domain.Snapshot) error
	// WindowHistory returns window rows for one item at or after since,
	// ascending by timestamp.
	WindowHistory(ctx context.Context, id domain.ItemID, since int64) ([]domain.Snapshot, error)
	// RecentWindows returns the newest n window rows for one item,
	// descending by timestamp.
	RecentWindows(ctx context.Context, id domain.ItemID, n int) ([]domain.Snapshot, error)
	// PriceHistory returns latest-price rows for one item at or after since,
	// ascending by timestamp.
	PriceHistory(ctx context.Context, id domain.ItemID, since int64) ([]domain.Snapshot, error)
	// Prune deletes rows older than cutoff from both series and reports how
	// many went away.
	Prune(ctx context.Context, cutoff int64) (int64, error)
	// Counts reports per-table row counts for health reporting.
	Counts(ctx context.Context) (map[string]int64, error)
}

// WatchlistRepo stores per-tenant, per-user pinned items.
type WatchlistRepo interface {
	Add(ctx context.Context, e domain.WatchlistEntry) error
	Remove(ctx context.Context, tenant, user string, item domain.ItemID) error
	List(ctx context.Context, tenant, user string) ([]domain.WatchlistEntry, error)
}

// TierSetting is one tenant's override for a tier: the chat role to mention
// and whether alerts for the tier are on.
type TierSetting struct {
	RoleID  string `db:"role_id" json:"role_id"`
	Enabled bool   `db:"enabled" json:"enabled"`
}

// AlertSettings are a tenant's durable alert thresholds.
type AlertSettings struct {
	MinMarginGP          int64    `json:"min_margin_gp"`
	MinScore             float64  `json:"min_score"`
	SpikeRisePct         float64  `json:"spike_rise_pct"`
	EnabledTiers         []string `json:"enabled_tiers"`
	MaxAlertsPerInterval int      `json:"max_alerts_per_interval"`
}

// TierRepo seeds and lists the fixed tier scale.
type TierRepo interface {
	Seed(ctx context.Context) error
	All(ctx context.Context) ([]domain.Tier, error)
}

// TenantSettingsRepo stores the per-tenant rows mirrored out of the tenant
// config documents: tier overrides, minimum tier, and alert thresholds.
type TenantSettingsRepo interface {
	TierSettings(ctx context.Context, tenant string) (map[string]TierSetting, error)
	PutTierSetting(ctx context.Context, tenant, tier string, s TierSetting) error
	AlertSettings(ctx context.Context, tenant string) (AlertSettings, bool, error)
	PutAlertSettings(ctx context.Context, tenant string, s AlertSettings) error
	MinTier(ctx context.Context, tenant string) (string, bool, error)
	PutMinTier(ctx context.Context, tenant, tier string) error
}
