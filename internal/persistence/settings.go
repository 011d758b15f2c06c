package persistence

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
)

type tenantSettingsRepo struct {
	*DB
}

func (r *tenantSettingsRepo) TierSettings(ctx context.Context, tenant string) (map[string]TierSetting, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	type row struct {
		TierName string `db:"tier_name"`
		RoleID   string `db:"role_id"`
		Enabled  bool   `db:"enabled"`
	}
	var rows []row
	err := r.db.SelectContext(ctx, &rows, r.rebind(
		`SELECT tier_name, role_id, enabled FROM guild_tier_settings WHERE tenant_id = ?`), tenant)
	if err != nil {
		return nil, fmt.Errorf("failed to load tier settings: %w", err)
	}
	out := make(map[string]TierSetting, len(rows))
	for _, rw := range rows {
		out[rw.TierName] = TierSetting{RoleID: rw.RoleID, Enabled: rw.Enabled}
	}
	return out, nil
}

func (r *tenantSettingsRepo) PutTierSetting(ctx context.Context, tenant, tier string, s TierSetting) error {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	_, err := r.db.ExecContext(ctx, r.rebind(
		`INSERT INTO guild_tier_settings (tenant_id, tier_name, role_id, enabled)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT (tenant_id, tier_name) DO UPDATE SET
			role_id = excluded.role_id,
			enabled = excluded.enabled`),
		tenant, tier, s.RoleID, s.Enabled)
	if err != nil {
		return fmt.Errorf("failed to store tier setting: %w", err)
	}
	return nil
}

func (r *tenantSettingsRepo) AlertSettings(ctx context.Context, tenant string) (AlertSettings, bool, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	type row struct {
		MinMarginGP          int64   `db:"min_margin_gp"`
		MinScore             float64 `db:"min_score"`
		SpikeRisePct         float64 `db:"spike_rise_pct"`
		EnabledTiers         string  `db:"enabled_tiers"`
		MaxAlertsPerInterval int     `db:"max_alerts_per_interval"`
	}
	var rw row
	err := r.db.GetContext(ctx, &rw, r.rebind(
		`SELECT min_margin_gp, min_score, spike_rise_pct, enabled_tiers, max_alerts_per_interval
		 FROM guild_alert_settings WHERE tenant_id = ?`), tenant)
	if errors.Is(err, sql.ErrNoRows) {
		return AlertSettings{}, false, nil
	}
	if err != nil {
		return AlertSettings{}, false, fmt.Errorf("failed to load alert settings: %w", err)
	}

	s := AlertSettings{
		MinMarginGP:          rw.MinMarginGP,
		MinScore:             rw.MinScore,
		SpikeRisePct:         rw.SpikeRisePct,
		MaxAlertsPerInterval: rw.MaxAlertsPerInterval,
	}
	if rw.EnabledTiers != "" {
		if err := json.Unmarshal([]byte(rw.EnabledTiers), &s.EnabledTiers); err != nil {
			return AlertSettings{}, false, fmt.Errorf("failed to decode enabled tiers: %w", err)
		}
	}
	return s, true, nil
}

func (r *tenantSettingsRepo) PutAlertSettings(ctx context.Context, tenant string, s AlertSettings) error {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	tiers := s.EnabledTiers
	if tiers == nil {
		tiers = []string{}
	}
	encoded, err := json.Marshal(tiers)
	if err != nil {
		return fmt.Errorf("failed to encode enabled tiers: %w", err)
	}

	_, err = r.db.ExecContext(ctx, r.rebind(
		`INSERT INTO guild_alert_settings
			(tenant_id, min_margin_gp, min_score, spike_rise_pct, enabled_tiers, max_alerts_per_interval)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT (tenant_id) DO UPDATE SET
			min_margin_gp = excluded.min_margin_gp,
			min_score = excluded.min_score,
			spike_rise_pct = excluded.spike_rise_pct,
			enabled_tiers = excluded.enabled_tiers,
			max_alerts_per_interval = excluded.max_alerts_per_interval`),
		tenant, s.MinMarginGP, s.MinScore, s.SpikeRisePct, string(encoded), s.MaxAlertsPerInterval)
	if err != nil {
		return fmt.Errorf("failed to store alert settings: %w", err)
	}
	return nil
}

func (r *tenantSettingsRepo) MinTier(ctx context.Context, tenant string) (string, bool, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	var tier string
	err := r.db.GetContext(ctx, &tier, r.rebind(
		`SELECT min_tier_name FROM guild_config WHERE tenant_id = ?`), tenant)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to load min tier: %w", err)
	}
	return tier, true, nil
}

func (r *tenantSettingsRepo) PutMinTier(ctx context.Context, tenant, tier string) error {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	_, err := r.db.ExecContext(ctx, r.rebind(
		`INSERT INTO guild_config (tenant_id, min_tier_name) VALUES (?, ?)
		 ON CONFLICT (tenant_id) DO UPDATE SET min_tier_name = excluded.min_tier_name`),
		tenant, tier)
	if err != nil {
		return fmt.Errorf("failed to store min tier: %w", err)
	}
	return nil
}
