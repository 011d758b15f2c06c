package persistence

import (
	"context"
	"fmt"

	"github.com/getools/gesniper/internal/domain"
)

type tierRepo struct {
	*DB
}

// Seed writes the fixed tier scale. Existing rows are refreshed so emoji or
// grouping corrections roll out on restart.
func (r *tierRepo) Seed(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PreparexContext(ctx, r.rebind(
		`INSERT INTO tiers (name, emoji, tier_group, min_score, max_score)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT (name) DO UPDATE SET
			emoji = excluded.emoji,
			tier_group = excluded.tier_group,
			min_score = excluded.min_score,
			max_score = excluded.max_score`))
	if err != nil {
		return fmt.Errorf("failed to prepare tier seed: %w", err)
	}
	defer stmt.Close()

	for _, t := range domain.Tiers {
		if _, err := stmt.ExecContext(ctx, t.Name, t.Emoji, t.Group, t.MinScore, t.MaxScore); err != nil {
			return fmt.Errorf("failed to seed tier %s: %w", t.Name, err)
		}
	}
	return tx.Commit()
}

func (r *tierRepo) All(ctx context.Context) ([]domain.Tier, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	type row struct {
		Name     string `db:"name"`
		Emoji    string `db:"emoji"`
		Group    string `db:"tier_group"`
		MinScore int    `db:"min_score"`
		MaxScore int    `db:"max_score"`
	}
	var rows []row
	if err := r.db.SelectContext(ctx, &rows,
		`SELECT name, emoji, tier_group, min_score, max_score FROM tiers ORDER BY min_score ASC`); err != nil {
		return nil, fmt.Errorf("failed to list tiers: %w", err)
	}
	tiers := make([]domain.Tier, 0, len(rows))
	for _, r := range rows {
		tiers = append(tiers, domain.Tier{
			Name:     r.Name,
			Emoji:    r.Emoji,
			Group:    r.Group,
			MinScore: r.MinScore,
			MaxScore: r.MaxScore,
		})
	}
	return tiers, nil
}
