package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/getools/gesniper/internal/catalog"
	"github.com/getools/gesniper/internal/config"
	"github.com/getools/gesniper/internal/domain"
	"github.com/getools/gesniper/internal/engine"
	"github.com/getools/gesniper/internal/metrics"
	"github.com/getools/gesniper/internal/persistence"
	"github.com/getools/gesniper/internal/scheduler"
	"github.com/getools/gesniper/internal/tenant"
	"github.com/getools/gesniper/internal/views"
)

const (
	testGuild    = "123456789012345678"
	testAdminKey = "test-admin-key"
)

type stubPipeline struct {
	status    scheduler.Status
	backfills atomic.Int32
}

func (p *stubPipeline) Status() scheduler.Status { return p.status }

func (p *stubPipeline) Backfill(ctx context.Context, hours int) (int, error) {
	p.backfills.Add(1)
	return hours * 12, nil
}

type stubMapping struct{ metas []domain.ItemMeta }

func (s *stubMapping) FetchMapping(ctx context.Context) ([]domain.ItemMeta, error) {
	return s.metas, nil
}

type fixture struct {
	srv      *Server
	db       *persistence.DB
	reg      *views.Registry
	tenants  *tenant.Store
	pipeline *stubPipeline
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	db, err := persistence.Open("", filepath.Join(t.TempDir(), "api.db"), zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	ctx := context.Background()
	require.NoError(t, db.Migrate(ctx))
	require.NoError(t, db.Tiers().Seed(ctx))

	cat := catalog.New(&stubMapping{metas: []domain.ItemMeta{
		{ID: 42, Name: "Rune dagger", BuyLimit: 5000},
		{ID: 777, Name: "Twisted bow", BuyLimit: 8},
	}}, "", zerolog.Nop())
	require.NoError(t, cat.Refresh(ctx))

	tenants, err := tenant.NewStore(t.TempDir(), db.TenantSettings(), zerolog.Nop())
	require.NoError(t, err)

	cfg := config.Defaults()
	cfg.AdminKey = testAdminKey

	reg := views.NewRegistry()
	pipeline := &stubPipeline{status: scheduler.Status{Healthy: true}}
	srv := New(config.NewHolder(cfg), db, cat, reg, pipeline, tenants, metrics.New(), zerolog.Nop())
	return &fixture{srv: srv, db: db, reg: reg, tenants: tenants, pipeline: pipeline}
}

func (f *fixture) publish(res engine.Result) {
	f.reg.Publish(res, time.Now())
}

func sampleDump(id domain.ItemID, tier string, score float64, flags ...string) domain.DumpEvent {
	dt, _ := domain.TierByName(tier)
	return domain.DumpEvent{
		ItemID:    id,
		Name:      fmt.Sprintf("Item %d", id),
		Timestamp: time.Now().Unix(),
		PrevLow:   3000,
		Low:       2100,
		High:      2400,
		Volume:    500,
		Score:     score,
		Tier:      dt.Name,
		TierEmoji: dt.Emoji,
		TierGroup: dt.Group,
		Flags:     flags,
		MarginGP:  300,
		Risk:      domain.RiskMetrics{RiskLevel: domain.RiskMedium},
	}
}

// do runs a request through the full middleware chain from a loopback source.
func (f *fixture) do(method, target string, body []byte, headers map[string]string) *httptest.ResponseRecorder {
	var req *http.Request
	if body != nil {
		req = httptest.NewRequest(method, target, bytes.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, target, nil)
	}
	req.RemoteAddr = "127.0.0.1:54321"
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	f.srv.Handler().ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

func TestDumpsFilters(t *testing.T) {
	f := newFixture(t)
	f.publish(engine.Result{Dumps: []domain.DumpEvent{
		sampleDump(1, "sapphire", 73, domain.FlagSuper),
		sampleDump(2, "iron", 8),
		sampleDump(3, "diamond", 95, domain.FlagSuper, domain.FlagOneGPDump),
	}})

	rec := f.do(http.MethodGet, "/api/dumps?tier=sapphire", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	assert.Len(t, body["dumps"], 1)

	rec = f.do(http.MethodGet, "/api/dumps?group=gems", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decodeBody(t, rec)["dumps"], 2)

	rec = f.do(http.MethodGet, "/api/dumps?special=one_gp_dump", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decodeBody(t, rec)["dumps"], 1)

	rec = f.do(http.MethodGet, "/api/dumps?limit=1", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decodeBody(t, rec)["dumps"], 1)
}

func TestDumpsRejectsUnknownFilterValues(t *testing.T) {
	f := newFixture(t)
	for _, target := range []string{
		"/api/dumps?tier=mithril",
		"/api/dumps?group=ores",
		"/api/dumps?special=mega",
		"/api/dumps?limit=0",
		"/api/dumps?limit=abc",
	} {
		rec := f.do(http.MethodGet, target, nil, nil)
		assert.Equal(t, http.StatusBadRequest, rec.Code, target)
	}
}

func TestDumpsGuildFilterAppliesTenantThresholds(t *testing.T) {
	f := newFixture(t)
	f.publish(engine.Result{Dumps: []domain.DumpEvent{
		sampleDump(1, "iron", 8),
		sampleDump(2, "diamond", 95),
	}})

	tc, err := f.tenants.Get(context.Background(), testGuild)
	require.NoError(t, err)
	tc.MinTier = "ruby"
	require.NoError(t, f.tenants.Put(context.Background(), tc))

	rec := f.do(http.MethodGet, "/api/dumps?guild_id="+testGuild, nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	require.Len(t, body["dumps"], 1)

	rec = f.do(http.MethodGet, "/api/dumps?guild_id=short", nil, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestDumpDetailIncludesRecentHistory(t *testing.T) {
	f := newFixture(t)
	f.publish(engine.Result{Dumps: []domain.DumpEvent{sampleDump(42, "gold", 45)}})

	now := time.Now().Unix()
	require.NoError(t, f.db.Prices().PutPrices(context.Background(), []domain.Snapshot{
		{ItemID: 42, Timestamp: now - 120, Low: 2200, High: 2500, Volume: 100},
		{ItemID: 42, Timestamp: now - 60, Low: 2100, High: 2400, Volume: 150},
	}))

	rec := f.do(http.MethodGet, "/api/dumps/42", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	assert.Len(t, body["recent_history"], 2)

	rec = f.do(http.MethodGet, "/api/dumps/999", nil, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestAllItemsTimeWindow(t *testing.T) {
	f := newFixture(t)
	now := time.Now().Unix()
	f.publish(engine.Result{Items: []domain.ItemTicker{
		{ItemID: 1, Name: "Fresh", Timestamp: now - 30},
		{ItemID: 2, Name: "Stale", Timestamp: now - 3600},
	}})

	rec := f.do(http.MethodGet, "/api/all_items?time_window=1", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decodeBody(t, rec)["items"], 1)

	rec = f.do(http.MethodGet, "/api/all_items?time_window=120", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decodeBody(t, rec)["items"], 2)

	rec = f.do(http.MethodGet, "/api/all_items?time_window=0", nil, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestTopLimitsFlips(t *testing.T) {
	f := newFixture(t)
	flips := make([]domain.FlipCandidate, 15)
	for i := range flips {
		flips[i] = domain.FlipCandidate{ItemID: domain.ItemID(i + 1), Profit: int64(1000 - i)}
	}
	f.publish(engine.Result{Flips: flips})

	rec := f.do(http.MethodGet, "/api/top", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decodeBody(t, rec)["flips"], 10)

	rec = f.do(http.MethodGet, "/api/top?limit=3", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decodeBody(t, rec)["flips"], 3)
}

func TestTiersMergesTenantSettings(t *testing.T) {
	f := newFixture(t)

	tc, err := f.tenants.Get(context.Background(), testGuild)
	require.NoError(t, err)
	tc.TierRoles["iron"] = tenant.TierRole{RoleID: "111111111111111111", Enabled: false}
	require.NoError(t, f.tenants.Put(context.Background(), tc))

	rec := f.do(http.MethodGet, "/api/tiers?guild_id="+testGuild, nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		Tiers []tierView `json:"tiers"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body.Tiers, len(domain.Tiers))
	assert.Equal(t, "iron", body.Tiers[0].Name)
	assert.False(t, body.Tiers[0].Enabled)
	assert.Equal(t, "111111111111111111", body.Tiers[0].RoleID)
	assert.True(t, body.Tiers[1].Enabled)
}

func TestHealthReflectsPollerState(t *testing.T) {
	f := newFixture(t)
	rec := f.do(http.MethodGet, "/api/health", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", decodeBody(t, rec)["status"])

	f.pipeline.status = scheduler.Status{Healthy: false, ConsecutiveErrors: 7}
	rec = f.do(http.MethodGet, "/api/health", nil, nil)
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "degraded", decodeBody(t, rec)["status"])
}

func TestTenantConfigRequiresAuth(t *testing.T) {
	f := newFixture(t)

	rec := f.do(http.MethodGet, "/api/config/"+testGuild, nil, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = f.do(http.MethodGet, "/api/config/"+testGuild, nil, map[string]string{"X-Admin-Key": testAdminKey})
	require.Equal(t, http.StatusOK, rec.Code)
	var tc tenant.Config
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &tc))
	assert.Equal(t, testGuild, tc.TenantID)
	assert.NotEmpty(t, tc.AdminToken)

	// The tenant's own token also authorizes.
	rec = f.do(http.MethodGet, "/api/config/"+testGuild, nil, map[string]string{"X-Tenant-Token": tc.AdminToken})
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestTenantConfigUpdateRoundtrip(t *testing.T) {
	f := newFixture(t)
	admin := map[string]string{"X-Admin-Key": testAdminKey}

	rec := f.do(http.MethodGet, "/api/config/"+testGuild, nil, admin)
	require.Equal(t, http.StatusOK, rec.Code)
	var tc tenant.Config
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &tc))

	tc.Thresholds.MinScore = 40
	tc.MinTier = "gold"
	raw, err := json.Marshal(tc)
	require.NoError(t, err)

	rec = f.do(http.MethodPost, "/api/config/"+testGuild, raw, admin)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = f.do(http.MethodGet, "/api/config/"+testGuild, nil, admin)
	require.Equal(t, http.StatusOK, rec.Code)
	var got tenant.Config
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, float64(40), got.Thresholds.MinScore)
	assert.Equal(t, "gold", got.MinTier)
}

func TestTenantConfigRejectsInvalidDocument(t *testing.T) {
	f := newFixture(t)
	admin := map[string]string{"X-Admin-Key": testAdminKey}

	rec := f.do(http.MethodGet, "/api/config/"+testGuild, nil, admin)
	require.Equal(t, http.StatusOK, rec.Code)
	var tc tenant.Config
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &tc))

	tc.MinTier = "mithril"
	raw, err := json.Marshal(tc)
	require.NoError(t, err)
	rec = f.do(http.MethodPost, "/api/config/"+testGuild, raw, admin)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestWatchlistFlow(t *testing.T) {
	f := newFixture(t)
	base := "/api/watchlist/" + testGuild + "/555555555555555555"

	rec := f.do(http.MethodPost, base, []byte(`{"item_id": 42}`), nil)
	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, "Rune dagger", decodeBody(t, rec)["item_name"])

	rec = f.do(http.MethodGet, base, nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decodeBody(t, rec)["watchlist"], 1)

	rec = f.do(http.MethodDelete, base+"/42", nil, nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = f.do(http.MethodDelete, base+"/42", nil, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = f.do(http.MethodPost, base, []byte(`{"item_id": 99999}`), nil)
	assert.Equal(t, http.StatusNotFound, rec.Code, "unknown catalog item")
}

func TestAdminEndpointsAuth(t *testing.T) {
	f := newFixture(t)

	rec := f.do(http.MethodGet, "/api/admin/db_health", nil, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = f.do(http.MethodGet, "/api/admin/db_health", nil, map[string]string{"X-Admin-Key": "wrong"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	// Right key from a public source is still refused.
	req := httptest.NewRequest(http.MethodGet, "/api/admin/db_health", nil)
	req.RemoteAddr = "203.0.113.7:1234"
	req.Header.Set("X-Admin-Key", testAdminKey)
	pub := httptest.NewRecorder()
	f.srv.Handler().ServeHTTP(pub, req)
	assert.Equal(t, http.StatusForbidden, pub.Code)

	rec = f.do(http.MethodGet, "/api/admin/db_health", nil, map[string]string{"X-Admin-Key": testAdminKey})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", decodeBody(t, rec)["status"])
}

func TestAdminPruneAndBackfill(t *testing.T) {
	f := newFixture(t)
	admin := map[string]string{"X-Admin-Key": testAdminKey}

	old := time.Now().AddDate(0, 0, -30).Unix()
	require.NoError(t, f.db.Prices().PutPrices(context.Background(), []domain.Snapshot{
		{ItemID: 42, Timestamp: old, Low: 100, High: 120, Volume: 10},
	}))

	rec := f.do(http.MethodPost, "/api/admin/db_prune", nil, admin)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, float64(1), decodeBody(t, rec)["removed"])

	rec = f.do(http.MethodPost, "/api/admin/cache/fetch_recent?hours=2", nil, admin)
	assert.Equal(t, http.StatusAccepted, rec.Code)
	require.Eventually(t, func() bool { return f.pipeline.backfills.Load() == 1 },
		time.Second, 10*time.Millisecond, "backfill runs in the background")

	rec = f.do(http.MethodPost, "/api/admin/cache/fetch_recent?hours=48", nil, admin)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAdminBanBlocksTenantInDumpFilter(t *testing.T) {
	f := newFixture(t)
	admin := map[string]string{"X-Admin-Key": testAdminKey}

	rec := f.do(http.MethodPost, "/api/admin/ban/"+testGuild, nil, admin)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, f.tenants.Banned(testGuild))

	rec = f.do(http.MethodPost, "/api/admin/unban/"+testGuild, nil, admin)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.False(t, f.tenants.Banned(testGuild))

	rec = f.do(http.MethodPost, "/api/admin/ban/not-a-snowflake", nil, admin)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestBodyGuardRejectsOversizeAndWrongType(t *testing.T) {
	f := newFixture(t)
	admin := map[string]string{"X-Admin-Key": testAdminKey}

	req := httptest.NewRequest(http.MethodPost, "/api/config/"+testGuild, strings.NewReader("hello"))
	req.RemoteAddr = "127.0.0.1:54321"
	req.Header.Set("Content-Type", "text/plain")
	req.Header.Set("X-Admin-Key", testAdminKey)
	rec := httptest.NewRecorder()
	f.srv.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnsupportedMediaType, rec.Code)

	big := bytes.Repeat([]byte("a"), maxBodyBytes+1)
	rec2 := f.do(http.MethodPost, "/api/config/"+testGuild, big, admin)
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec2.Code)
}
