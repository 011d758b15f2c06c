package persistence

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/rs/zerolog"
	_ "modernc.org/sqlite"
)

const (
	dialectPostgres = "postgres"
	dialectSQLite   = "sqlite"

	queryTimeout = 10 * time.Second
	batchSize    = 1000
)

// DB wraps the sqlx handle plus the repos built on it.
type DB struct {
	db      *sqlx.DB
	dialect string
	log     zerolog.Logger

	prices     *priceStore
	watchlists *watchlistRepo
	tiers      *tierRepo
	settings   *tenantSettingsRepo
}

// Open connects to Postgres when dbURL is set, otherwise to the embedded
// SQLite file at dbPath (created on demand, WAL mode).
func Open(dbURL, dbPath string, log zerolog.Logger) (*DB, error) {
	var (
		db      *sqlx.DB
		dialect string
		err     error
	)
	switch {
	case dbURL != "":
		dialect = dialectPostgres
		db, err = sqlx.Open("postgres", dbURL)
		if err != nil {
			return nil, fmt.Errorf("failed to open postgres connection: %w", err)
		}
		// 10 base connections plus 20 overflow, recycled hourly.
		db.SetMaxOpenConns(30)
		db.SetMaxIdleConns(10)
		db.SetConnMaxLifetime(time.Hour)
	case dbPath != "":
		dialect = dialectSQLite
		if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
		dsn := dbPath + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)"
		db, err = sqlx.Open("sqlite", dsn)
		if err != nil {
			return nil, fmt.Errorf("failed to open sqlite database: %w", err)
		}
		// The sqlite driver serializes writes anyway.
		db.SetMaxOpenConns(1)
	default:
		return nil, fmt.Errorf("no database configured: set DB_URL or DB_PATH")
	}

	d := &DB{
		db:      db,
		dialect: dialect,
		log:     log.With().Str("component", "persistence").Str("dialect", dialect).Logger(),
	}
	d.prices = &priceStore{d}
	d.watchlists = &watchlistRepo{d}
	d.tiers = &tierRepo{d}
	d.settings = &tenantSettingsRepo{d}
	return d, nil
}

// Ping verifies connectivity.
func (d *DB) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()
	if err := d.db.PingContext(ctx); err != nil {
		return fmt.Errorf("failed to ping database: %w", err)
	}
	return nil
}

// Close releases the pool.
func (d *DB) Close() error {
	return d.db.Close()
}

// Dialect reports which backend is live.
func (d *DB) Dialect() string {
	return d.dialect
}

// Prices returns the time-series store.
func (d *DB) Prices() PriceStore { return d.prices }

// Watchlists returns the watchlist repo.
func (d *DB) Watchlists() WatchlistRepo { return d.watchlists }

// Tiers returns the tier repo.
func (d *DB) Tiers() TierRepo { return d.tiers }

// TenantSettings returns the tenant settings repo.
func (d *DB) TenantSettings() TenantSettingsRepo { return d.settings }

// rebind converts `?` placeholders to the dialect's form.
func (d *DB) rebind(q string) string {
	return d.db.Rebind(q)
}
