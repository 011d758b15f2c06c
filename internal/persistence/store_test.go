package persistence

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/getools/gesniper/internal/domain"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open("", filepath.Join(t.TempDir(), "test.db"), zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	require.NoError(t, db.Migrate(context.Background()))
	return db
}

func snap(id int64, ts, low, high, vol int64) domain.Snapshot {
	return domain.Snapshot{ItemID: domain.ItemID(id), Timestamp: ts, Low: low, High: high, Volume: vol}
}

func TestPutWindowsUpsertIsIdempotent(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	rows := []domain.Snapshot{
		snap(2, 1000, 175, 180, 500),
		snap(2, 1300, 170, 178, 600),
	}
	require.NoError(t, db.Prices().PutWindows(ctx, rows))
	// Replay with updated values for the same key.
	rows[1].Volume = 650
	require.NoError(t, db.Prices().PutWindows(ctx, rows))

	got, err := db.Prices().WindowHistory(ctx, 2, 0)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, int64(1000), got[0].Timestamp)
	assert.Equal(t, int64(650), got[1].Volume)
}

func TestPutPricesIgnoresDuplicates(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	require.NoError(t, db.Prices().PutPrices(ctx, []domain.Snapshot{snap(7, 100, 10, 12, 1)}))
	require.NoError(t, db.Prices().PutPrices(ctx, []domain.Snapshot{snap(7, 100, 99, 99, 99)}))

	got, err := db.Prices().PriceHistory(ctx, 7, 0)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, int64(10), got[0].Low, "first write wins")
}

func TestRecentWindowsDescending(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	var rows []domain.Snapshot
	for i := int64(0); i < 5; i++ {
		rows = append(rows, snap(3, 1000+i*300, 100+i, 110+i, 50))
	}
	require.NoError(t, db.Prices().PutWindows(ctx, rows))

	got, err := db.Prices().RecentWindows(ctx, 3, 3)
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, int64(2200), got[0].Timestamp)
	assert.Equal(t, int64(1900), got[1].Timestamp)
	assert.Equal(t, int64(1600), got[2].Timestamp)

	got, err = db.Prices().RecentWindows(ctx, 3, 0)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestPruneRemovesOldRowsFromBothSeries(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	require.NoError(t, db.Prices().PutPrices(ctx, []domain.Snapshot{
		snap(1, 100, 1, 2, 3), snap(1, 900, 1, 2, 3),
	}))
	require.NoError(t, db.Prices().PutWindows(ctx, []domain.Snapshot{
		snap(1, 100, 1, 2, 3), snap(1, 900, 1, 2, 3),
	}))

	n, err := db.Prices().Prune(ctx, 500)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	counts, err := db.Prices().Counts(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), counts["prices"])
	assert.Equal(t, int64(1), counts["ge_prices_5m"])
}

func TestBulkInsertSpansBatches(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	rows := make([]domain.Snapshot, 0, batchSize+5)
	for i := int64(0); i < int64(batchSize+5); i++ {
		rows = append(rows, snap(i+1, 1000, 10, 20, 1))
	}
	require.NoError(t, db.Prices().PutWindows(ctx, rows))

	counts, err := db.Prices().Counts(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(batchSize+5), counts["ge_prices_5m"])
}

func TestWatchlistRoundtrip(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	e := domain.WatchlistEntry{
		Tenant: "100000000000000001", UserID: "200000000000000002",
		ItemID: 4151, Name: "Abyssal whip", AddedAt: 1700000000,
	}
	require.NoError(t, db.Watchlists().Add(ctx, e))
	// Re-add updates the name instead of failing.
	e.Name = "Abyssal whip (renamed)"
	require.NoError(t, db.Watchlists().Add(ctx, e))

	list, err := db.Watchlists().List(ctx, e.Tenant, e.UserID)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "Abyssal whip (renamed)", list[0].Name)

	require.NoError(t, db.Watchlists().Remove(ctx, e.Tenant, e.UserID, e.ItemID))
	err = db.Watchlists().Remove(ctx, e.Tenant, e.UserID, e.ItemID)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestTierSeedAndList(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	require.NoError(t, db.Tiers().Seed(ctx))
	require.NoError(t, db.Tiers().Seed(ctx))

	tiers, err := db.Tiers().All(ctx)
	require.NoError(t, err)
	require.Len(t, tiers, len(domain.Tiers))
	assert.Equal(t, "iron", tiers[0].Name)
	assert.Equal(t, "diamond", tiers[len(tiers)-1].Name)
}

func TestTenantSettingsRoundtrip(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	tenant := "100000000000000001"

	_, ok, err := db.TenantSettings().AlertSettings(ctx, tenant)
	require.NoError(t, err)
	assert.False(t, ok)

	want := AlertSettings{
		MinMarginGP:          250_000,
		MinScore:             40,
		SpikeRisePct:         8,
		EnabledTiers:         []string{"gold", "diamond"},
		MaxAlertsPerInterval: 2,
	}
	require.NoError(t, db.TenantSettings().PutAlertSettings(ctx, tenant, want))
	got, ok, err := db.TenantSettings().AlertSettings(ctx, tenant)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, want, got)

	_, ok, err = db.TenantSettings().MinTier(ctx, tenant)
	require.NoError(t, err)
	assert.False(t, ok)
	require.NoError(t, db.TenantSettings().PutMinTier(ctx, tenant, "silver"))
	tier, ok, err := db.TenantSettings().MinTier(ctx, tenant)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "silver", tier)

	require.NoError(t, db.TenantSettings().PutTierSetting(ctx, tenant, "gold",
		TierSetting{RoleID: "300000000000000003", Enabled: true}))
	require.NoError(t, db.TenantSettings().PutTierSetting(ctx, tenant, "iron",
		TierSetting{Enabled: false}))
	settings, err := db.TenantSettings().TierSettings(ctx, tenant)
	require.NoError(t, err)
	require.Len(t, settings, 2)
	assert.True(t, settings["gold"].Enabled)
	assert.False(t, settings["iron"].Enabled)
}
