package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/getools/gesniper/internal/alert"
	"github.com/getools/gesniper/internal/api"
	"github.com/getools/gesniper/internal/catalog"
	"github.com/getools/gesniper/internal/config"
	"github.com/getools/gesniper/internal/egress"
	"github.com/getools/gesniper/internal/engine"
	"github.com/getools/gesniper/internal/metrics"
	"github.com/getools/gesniper/internal/persistence"
	"github.com/getools/gesniper/internal/scheduler"
	"github.com/getools/gesniper/internal/tenant"
	"github.com/getools/gesniper/internal/upstream"
	"github.com/getools/gesniper/internal/views"
)

// Exit codes for the serve path.
const (
	exitConfig = 2
	exitDB     = 3
)

const shutdownGrace = 30 * time.Second

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the poller, detector, alert router, and HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe()
		},
	}
}

func newLogger() zerolog.Logger {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	level := zerolog.InfoLevel
	if raw := os.Getenv("LOG_LEVEL"); raw != "" {
		if parsed, err := zerolog.ParseLevel(raw); err == nil {
			level = parsed
		}
	}
	return zerolog.New(os.Stderr).Level(level).With().Timestamp().Logger()
}

func loadConfig() (config.Config, error) {
	if configPath != "" {
		return config.Load(configPath)
	}
	return config.LoadFromEnv()
}

func runServe() error {
	log := newLogger()

	cfg, err := loadConfig()
	if err != nil {
		log.Error().Err(err).Msg("failed to load configuration")
		os.Exit(exitConfig)
	}
	holder := config.NewHolder(cfg)

	db, err := persistence.Open(cfg.DBURL, cfg.DBPath, log)
	if err != nil {
		log.Error().Err(err).Msg("failed to open database")
		os.Exit(exitDB)
	}
	defer db.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := db.Migrate(ctx); err != nil {
		log.Error().Err(err).Msg("failed to run migrations")
		os.Exit(exitDB)
	}
	if err := db.Tiers().Seed(ctx); err != nil {
		log.Error().Err(err).Msg("failed to seed tiers")
		os.Exit(exitDB)
	}

	client := upstream.New(upstream.Options{
		BaseURL:      cfg.UpstreamBaseURL,
		FallbackURL:  cfg.UpstreamFallbackURL,
		UserAgent:    cfg.UserAgent,
		IngestPeriod: cfg.IngestPeriod,
		Logger:       log,
	})

	cat := catalog.New(client, cfg.CacheRoot, log)
	if err := cat.LoadFromDisk(); err != nil {
		log.Warn().Err(err).Msg("catalog disk cache unusable, waiting for first refresh")
	}

	tenants, err := tenant.NewStore(cfg.ConfigRoot, db.TenantSettings(), log)
	if err != nil {
		return fmt.Errorf("failed to open tenant store: %w", err)
	}

	delivery := alert.NewMemoryDeliveryStore()
	if cfg.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		if err := rdb.Ping(ctx).Err(); err != nil {
			log.Warn().Err(err).Str("addr", cfg.RedisAddr).Msg("redis unreachable, falling back to in-memory dedup")
		} else {
			delivery = alert.NewRedisDeliveryStore(rdb)
			log.Info().Str("addr", cfg.RedisAddr).Msg("using redis delivery dedup")
		}
	}

	var router *alert.Router
	if token := os.Getenv("DISCORD_BOT_TOKEN"); token != "" {
		poster := egress.NewDiscordPoster(token, "", log)
		router = alert.NewRouter(tenants, delivery, poster, log)
	} else {
		log.Warn().Msg("DISCORD_BOT_TOKEN unset, alert delivery disabled")
	}

	m := metrics.New()
	reg := views.NewRegistry()
	eng := engine.New(db.Prices(), cat, log)
	poller := scheduler.New(client, db.Prices(), cat, eng, reg, router, holder, m, log)
	server := api.New(holder, db, cat, reg, poller, tenants, m, log)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return poller.Run(gctx) })
	g.Go(server.Start)
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	log.Info().
		Str("addr", cfg.ListenAddr()).
		Str("dialect", db.Dialect()).
		Dur("ingest_period", cfg.IngestPeriod).
		Msg("gesniper started")

	if err := g.Wait(); err != nil {
		return err
	}
	log.Info().Msg("gesniper stopped")
	return nil
}
