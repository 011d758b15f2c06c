package persistence

import (
	"context"
	"fmt"
)

// The DDL sticks to the SQL subset both backends accept, so one migration
// path serves Postgres and SQLite alike.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS prices (
		item_id BIGINT NOT NULL,
		ts      BIGINT NOT NULL,
		low     BIGINT NOT NULL DEFAULT 0,
		high    BIGINT NOT NULL DEFAULT 0,
		volume  BIGINT NOT NULL DEFAULT 0,
		PRIMARY KEY (item_id, ts)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_prices_ts ON prices (ts)`,
	`CREATE TABLE IF NOT EXISTS ge_prices_5m (
		item_id BIGINT NOT NULL,
		ts      BIGINT NOT NULL,
		low     BIGINT NOT NULL DEFAULT 0,
		high    BIGINT NOT NULL DEFAULT 0,
		volume  BIGINT NOT NULL DEFAULT 0,
		PRIMARY KEY (item_id, ts)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_ge_prices_5m_ts ON ge_prices_5m (ts)`,
	`CREATE TABLE IF NOT EXISTS watchlists (
		tenant_id TEXT   NOT NULL,
		user_id   TEXT   NOT NULL,
		item_id   BIGINT NOT NULL,
		item_name TEXT   NOT NULL DEFAULT '',
		added_at  BIGINT NOT NULL,
		PRIMARY KEY (tenant_id, user_id, item_id)
	)`,
	`CREATE TABLE IF NOT EXISTS tiers (
		name       TEXT PRIMARY KEY,
		emoji      TEXT   NOT NULL,
		tier_group TEXT   NOT NULL,
		min_score  BIGINT NOT NULL,
		max_score  BIGINT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS guild_tier_settings (
		tenant_id TEXT NOT NULL,
		tier_name TEXT NOT NULL,
		role_id   TEXT NOT NULL DEFAULT '',
		enabled   BOOLEAN NOT NULL DEFAULT TRUE,
		PRIMARY KEY (tenant_id, tier_name)
	)`,
	`CREATE TABLE IF NOT EXISTS guild_config (
		tenant_id     TEXT PRIMARY KEY,
		min_tier_name TEXT NOT NULL DEFAULT 'iron'
	)`,
	`CREATE TABLE IF NOT EXISTS guild_alert_settings (
		tenant_id               TEXT PRIMARY KEY,
		min_margin_gp           BIGINT NOT NULL DEFAULT 0,
		min_score               DOUBLE PRECISION NOT NULL DEFAULT 0,
		spike_rise_pct          DOUBLE PRECISION NOT NULL DEFAULT 5,
		enabled_tiers           TEXT   NOT NULL DEFAULT '[]',
		max_alerts_per_interval BIGINT NOT NULL DEFAULT 1
	)`,
}

// Migrate creates missing tables and indexes. It is safe to run on every
// startup.
func (d *DB) Migrate(ctx context.Context) error {
	for _, stmt := range schema {
		if _, err := d.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to apply schema statement: %w", err)
		}
	}
	d.log.Info().Int("statements", len(schema)).Msg("schema migrated")
	return nil
}
