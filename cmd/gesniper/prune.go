package main

import (
	"context"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/getools/gesniper/internal/persistence"
)

func newPruneCmd() *cobra.Command {
	var days int
	cmd := &cobra.Command{
		Use:   "prune",
		Short: "Delete price rows past the retention window and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			log := newLogger()

			cfg, err := loadConfig()
			if err != nil {
				log.Error().Err(err).Msg("failed to load configuration")
				os.Exit(exitConfig)
			}
			if days <= 0 {
				days = cfg.RetentionDays
			}

			db, err := persistence.Open(cfg.DBURL, cfg.DBPath, log)
			if err != nil {
				log.Error().Err(err).Msg("failed to open database")
				os.Exit(exitDB)
			}
			defer db.Close()

			ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Minute)
			defer cancel()
			if err := db.Migrate(ctx); err != nil {
				return err
			}

			cutoff := time.Now().AddDate(0, 0, -days).Unix()
			removed, err := db.Prices().Prune(ctx, cutoff)
			if err != nil {
				return err
			}
			log.Info().Int64("removed", removed).Int("retention_days", days).Msg("prune complete")
			return nil
		},
	}
	cmd.Flags().IntVar(&days, "days", 0, "retention window in days (defaults to the configured value)")
	return cmd
}
