// Package config loads the process configuration: compiled defaults,
// overridden by an optional CONFIG_PATH file, overridden by environment
// variables. The loaded value is immutable; live reload swaps the whole
// struct through Holder.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"gopkg.in/yaml.v3"
)

// Thresholds are the global event-detection knobs. Tenants may tighten but
// not replace them.
type Thresholds struct {
	MarginMin    int64   `yaml:"margin_min"`
	DumpDropPct  float64 `yaml:"dump_drop_pct"`
	SpikeRisePct float64 `yaml:"spike_rise_pct"`
	MinVolume    int64   `yaml:"min_volume"`
}

// Config is the full process configuration.
type Config struct {
	UpstreamBaseURL     string `yaml:"upstream_base_url"`
	UpstreamFallbackURL string `yaml:"upstream_fallback_url"`
	UserAgent           string `yaml:"user_agent"`

	IngestPeriod  time.Duration `yaml:"ingest_period"`
	CatalogPeriod time.Duration `yaml:"catalog_period"`
	PrunePeriod   time.Duration `yaml:"prune_period"`
	RetentionDays int           `yaml:"retention_days"`

	DBURL  string `yaml:"db_url"`
	DBPath string `yaml:"db_path"`

	RedisAddr string `yaml:"redis_addr"`

	ConfigRoot string `yaml:"config_root"`
	CacheRoot  string `yaml:"cache_root"`

	HTTPHost string `yaml:"http_host"`
	HTTPPort int    `yaml:"http_port"`

	AdminKey    string   `yaml:"admin_key"`
	CORSOrigins []string `yaml:"cors_origins"`

	Thresholds Thresholds `yaml:"thresholds"`
}

// Defaults returns the compiled-in configuration.
func Defaults() Config {
	return Config{
		UpstreamBaseURL:     "https://prices.runescape.wiki/api/v1/osrs",
		UpstreamFallbackURL: "",
		UserAgent:           "gesniper/1.0 (market event detector)",
		IngestPeriod:        60 * time.Second,
		CatalogPeriod:       6 * time.Hour,
		PrunePeriod:         time.Hour,
		RetentionDays:       7,
		DBPath:              "data/gesniper.db",
		ConfigRoot:          "data/tenants",
		CacheRoot:           "data/cache",
		HTTPHost:            "0.0.0.0",
		HTTPPort:            8000,
		CORSOrigins:         []string{"*"},
		Thresholds: Thresholds{
			MarginMin:    100_000,
			DumpDropPct:  5,
			SpikeRisePct: 5,
			MinVolume:    100,
		},
	}
}

// Load builds the effective configuration. path may be empty; if set and the
// file is missing or unparseable, Load fails rather than silently running on
// defaults.
func Load(path string) (Config, error) {
	cfg := Defaults()

	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("failed to read config file: %w", err)
		}
		// yaml.v3 accepts JSON documents as well, so CONFIG_PATH may point
		// at either format.
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return Config{}, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	applyEnv(&cfg)

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// LoadFromEnv resolves CONFIG_PATH itself from the environment.
func LoadFromEnv() (Config, error) {
	return Load(os.Getenv("CONFIG_PATH"))
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("UPSTREAM_BASE_URL"); v != "" {
		cfg.UpstreamBaseURL = v
	}
	if v := os.Getenv("UPSTREAM_FALLBACK_URL"); v != "" {
		cfg.UpstreamFallbackURL = v
	}
	if v := os.Getenv("DB_URL"); v != "" {
		cfg.DBURL = v
	}
	if v := os.Getenv("DB_PATH"); v != "" {
		cfg.DBPath = v
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		cfg.RedisAddr = v
	}
	if v := os.Getenv("CONFIG_ROOT"); v != "" {
		cfg.ConfigRoot = v
	}
	if v := os.Getenv("CACHE_ROOT"); v != "" {
		cfg.CacheRoot = v
	}
	if v := os.Getenv("ADMIN_KEY"); v != "" {
		cfg.AdminKey = v
	}
	if v := os.Getenv("CORS_ORIGINS"); v != "" {
		parts := strings.Split(v, ",")
		origins := make([]string, 0, len(parts))
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				origins = append(origins, p)
			}
		}
		cfg.CORSOrigins = origins
	}
	if v := os.Getenv("HTTP_HOST"); v != "" {
		cfg.HTTPHost = v
	}
	if n, ok := envInt("HTTP_PORT"); ok {
		cfg.HTTPPort = n
	}
	if n, ok := envInt("INGEST_PERIOD_SECONDS"); ok {
		cfg.IngestPeriod = time.Duration(n) * time.Second
	}
	if n, ok := envInt("CATALOG_PERIOD_SECONDS"); ok {
		cfg.CatalogPeriod = time.Duration(n) * time.Second
	}
	if n, ok := envInt("RETENTION_DAYS"); ok {
		cfg.RetentionDays = n
	}
}

func envInt(key string) (int, bool) {
	v := os.Getenv(key)
	if v == "" {
		return 0, false
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, false
	}
	return n, true
}

// Validate checks cross-field constraints and clamps the slow timers to
// their floors.
func (c *Config) Validate() error {
	if c.UpstreamBaseURL == "" {
		return fmt.Errorf("upstream base URL must not be empty")
	}
	if c.IngestPeriod < 10*time.Second {
		return fmt.Errorf("ingest period %s below 10s floor", c.IngestPeriod)
	}
	if c.CatalogPeriod < time.Hour {
		c.CatalogPeriod = time.Hour
	}
	if c.PrunePeriod <= 0 {
		c.PrunePeriod = time.Hour
	}
	if c.RetentionDays < 1 {
		return fmt.Errorf("retention days %d must be >= 1", c.RetentionDays)
	}
	if c.HTTPPort <= 0 || c.HTTPPort > 65535 {
		return fmt.Errorf("invalid http port %d", c.HTTPPort)
	}
	if c.DBURL == "" && c.DBPath == "" {
		return fmt.Errorf("one of DB_URL or DB_PATH is required")
	}
	if c.Thresholds.DumpDropPct <= 0 || c.Thresholds.SpikeRisePct <= 0 {
		return fmt.Errorf("detection thresholds must be positive")
	}
	if c.Thresholds.MinVolume < 0 || c.Thresholds.MarginMin < 0 {
		return fmt.Errorf("detection thresholds must not be negative")
	}
	return nil
}

// ListenAddr is the host:port the API binds.
func (c *Config) ListenAddr() string {
	return fmt.Sprintf("%s:%d", c.HTTPHost, c.HTTPPort)
}

// Holder publishes the current Config by atomic pointer swap. Readers see a
// consistent whole value; Reload replaces it without locking.
type Holder struct {
	cur atomic.Pointer[Config]
}

// NewHolder wraps an initial configuration.
func NewHolder(cfg Config) *Holder {
	h := &Holder{}
	h.cur.Store(&cfg)
	return h
}

// Current returns the live configuration.
func (h *Holder) Current() *Config {
	return h.cur.Load()
}

// Reload re-reads the configuration from the same sources and swaps it in.
func (h *Holder) Reload() (*Config, error) {
	cfg, err := LoadFromEnv()
	if err != nil {
		return nil, err
	}
	h.cur.Store(&cfg)
	return &cfg, nil
}
