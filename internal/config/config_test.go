package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaults(t *testing.T) {
	cfg := Defaults()
	assert.Equal(t, "https://prices.runescape.wiki/api/v1/osrs", cfg.UpstreamBaseURL)
	assert.Equal(t, 60*time.Second, cfg.IngestPeriod)
	assert.Equal(t, 6*time.Hour, cfg.CatalogPeriod)
	assert.Equal(t, 7, cfg.RetentionDays)
	assert.Equal(t, int64(100_000), cfg.Thresholds.MarginMin)
	assert.Equal(t, float64(5), cfg.Thresholds.DumpDropPct)
	assert.Equal(t, float64(5), cfg.Thresholds.SpikeRisePct)
	assert.Equal(t, int64(100), cfg.Thresholds.MinVolume)
}

func TestLoadFileOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(
		"http_port: 9100\nretention_days: 3\nthresholds:\n  margin_min: 50000\n"), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 9100, cfg.HTTPPort)
	assert.Equal(t, 3, cfg.RetentionDays)
	assert.Equal(t, int64(50_000), cfg.Thresholds.MarginMin)
	// Untouched fields keep defaults.
	assert.Equal(t, 60*time.Second, cfg.IngestPeriod)
}

func TestLoadAcceptsJSONDocument(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"http_port": 9200}`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 9200, cfg.HTTPPort)
}

func TestEnvOverridesFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("http_port: 9100\n"), 0o644))

	t.Setenv("HTTP_PORT", "9300")
	t.Setenv("INGEST_PERIOD_SECONDS", "120")
	t.Setenv("CORS_ORIGINS", "https://a.example, https://b.example")
	t.Setenv("DB_URL", "postgres://ge:ge@localhost/ge")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 9300, cfg.HTTPPort)
	assert.Equal(t, 120*time.Second, cfg.IngestPeriod)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.CORSOrigins)
	assert.Equal(t, "postgres://ge:ge@localhost/ge", cfg.DBURL)
}

func TestLoadMissingFileFails(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}

func TestValidateRejectsBadValues(t *testing.T) {
	cfg := Defaults()
	cfg.IngestPeriod = time.Second
	assert.Error(t, cfg.Validate())

	cfg = Defaults()
	cfg.RetentionDays = 0
	assert.Error(t, cfg.Validate())

	cfg = Defaults()
	cfg.DBPath = ""
	cfg.DBURL = ""
	assert.Error(t, cfg.Validate())

	cfg = Defaults()
	cfg.HTTPPort = 0
	assert.Error(t, cfg.Validate())
}

func TestValidateClampsCatalogPeriod(t *testing.T) {
	cfg := Defaults()
	cfg.CatalogPeriod = time.Minute
	require.NoError(t, cfg.Validate())
	assert.Equal(t, time.Hour, cfg.CatalogPeriod)
}

func TestHolderSwap(t *testing.T) {
	h := NewHolder(Defaults())
	first := h.Current()
	require.NotNil(t, first)

	t.Setenv("HTTP_PORT", "9400")
	reloaded, err := h.Reload()
	require.NoError(t, err)
	assert.Equal(t, 9400, reloaded.HTTPPort)
	assert.Equal(t, 9400, h.Current().HTTPPort)
	// The old value is untouched.
	assert.Equal(t, 8000, first.HTTPPort)
}
