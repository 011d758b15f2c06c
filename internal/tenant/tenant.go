// Package tenant manages per-guild configuration: one JSON document per
// tenant under the config root, with durable threshold mirrors in the
// database and an aggregate ban list.
package tenant

import (
	"crypto/rand"
	"encoding/base64"

	"github.com/getools/gesniper/internal/domain"
)

// Channel kinds a tenant may route alerts to.
const (
	ChannelCheapFlips       = "cheap_flips"
	ChannelMediumFlips      = "medium_flips"
	ChannelExpensiveFlips   = "expensive_flips"
	ChannelBillionaireFlips = "billionaire_flips"
	ChannelFlips            = "flips"
	ChannelDumps            = "dumps"
	ChannelSpikes           = "spikes"
	ChannelRecipeItems      = "recipe_items"
	ChannelHighAlchMargins  = "high_alch_margins"
	ChannelHighLimitItems   = "high_limit_items"
)

// KnownChannelKinds lists every accepted channel key.
var KnownChannelKinds = []string{
	ChannelCheapFlips, ChannelMediumFlips, ChannelExpensiveFlips,
	ChannelBillionaireFlips, ChannelFlips, ChannelDumps, ChannelSpikes,
	ChannelRecipeItems, ChannelHighAlchMargins, ChannelHighLimitItems,
}

// Role kind prefixes; concrete keys look like "dumps", "risk_low",
// "quality_elite".
const (
	RoleKindDumps  = "dumps"
	RoleKindSpikes = "spikes"
	RoleKindFlips  = "flips"

	RiskRolePrefix    = "risk_"
	QualityRolePrefix = "quality_"
)

// TierRole is one tenant's mention override for a tier.
type TierRole struct {
	RoleID  string `json:"role_id"`
	Enabled bool   `json:"enabled"`
}

// defaultSpikeRisePct is the spike threshold applied when a tenant has
// not set one.
const defaultSpikeRisePct = 5.0

// AlertThresholds are the tenant's alert filters. They tighten the global
// detection thresholds; they never loosen them.
type AlertThresholds struct {
	MinMarginGP          int64    `json:"min_margin_gp"`
	MinScore             float64  `json:"min_score"`
	SpikeRisePct         float64  `json:"spike_rise_pct"`
	EnabledTiers         []string `json:"enabled_tiers"`
	MaxAlertsPerInterval int      `json:"max_alerts_per_interval"`
}

// PriceBrackets split flip alerts into price-band channels.
type PriceBrackets struct {
	CheapMax     int64 `json:"cheap_max"`
	MediumMax    int64 `json:"medium_max"`
	ExpensiveMax int64 `json:"expensive_max"`
}

// Config is one tenant's full document.
type Config struct {
	TenantID   string              `json:"tenant_id"`
	AdminToken string              `json:"admin_token"`
	Enabled    bool                `json:"enabled"`
	Banned     bool                `json:"banned"`
	Channels   map[string]string   `json:"channels"`
	Roles      map[string]string   `json:"roles"`
	TierRoles  map[string]TierRole `json:"tier_roles"`
	MinTier    string              `json:"min_tier"`
	Thresholds AlertThresholds     `json:"alert_thresholds"`
	Brackets   PriceBrackets       `json:"price_brackets"`
	UpdatedAt  int64               `json:"updated_at"`
}

// DefaultConfig builds a fresh tenant document with every tier enabled and a
// random admin token.
func DefaultConfig(tenantID string) *Config {
	tiers := make([]string, 0, len(domain.Tiers))
	for _, t := range domain.Tiers {
		tiers = append(tiers, t.Name)
	}
	return &Config{
		TenantID:   tenantID,
		AdminToken: newAdminToken(),
		Enabled:    true,
		Channels:   map[string]string{},
		Roles:      map[string]string{},
		TierRoles:  map[string]TierRole{},
		MinTier:    domain.Tiers[0].Name,
		Thresholds: AlertThresholds{
			MinMarginGP:          0,
			MinScore:             0,
			SpikeRisePct:         defaultSpikeRisePct,
			EnabledTiers:         tiers,
			MaxAlertsPerInterval: 1,
		},
		Brackets: PriceBrackets{
			CheapMax:     1_000_000,
			MediumMax:    10_000_000,
			ExpensiveMax: 100_000_000,
		},
	}
}

// newAdminToken returns a 64-character url-safe random token.
func newAdminToken() string {
	buf := make([]byte, 48)
	if _, err := rand.Read(buf); err != nil {
		panic("crypto/rand unavailable: " + err.Error())
	}
	return base64.RawURLEncoding.EncodeToString(buf)
}

// Clone deep-copies the document so callers can mutate freely.
func (c *Config) Clone() *Config {
	cp := *c
	cp.Channels = make(map[string]string, len(c.Channels))
	for k, v := range c.Channels {
		cp.Channels[k] = v
	}
	cp.Roles = make(map[string]string, len(c.Roles))
	for k, v := range c.Roles {
		cp.Roles[k] = v
	}
	cp.TierRoles = make(map[string]TierRole, len(c.TierRoles))
	for k, v := range c.TierRoles {
		cp.TierRoles[k] = v
	}
	cp.Thresholds.EnabledTiers = append([]string(nil), c.Thresholds.EnabledTiers...)
	return &cp
}

// TierEnabled reports whether the tenant wants alerts for the tier. An
// empty enabled_tiers list means no tier filter at all.
func (c *Config) TierEnabled(tier string) bool {
	if tr, ok := c.TierRoles[tier]; ok && !tr.Enabled {
		return false
	}
	if len(c.Thresholds.EnabledTiers) == 0 {
		return true
	}
	for _, t := range c.Thresholds.EnabledTiers {
		if t == tier {
			return true
		}
	}
	return false
}

// MinSpikeRisePct returns the tenant's spike threshold, falling back to
// the default when the document predates the field.
func (c *Config) MinSpikeRisePct() float64 {
	if c.Thresholds.SpikeRisePct <= 0 {
		return defaultSpikeRisePct
	}
	return c.Thresholds.SpikeRisePct
}
