package persistence

import (
	"context"
	"fmt"

	"github.com/getools/gesniper/internal/domain"
)

type watchlistRepo struct {
	*DB
}

func (r *watchlistRepo) Add(ctx context.Context, e domain.WatchlistEntry) error {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	_, err := r.db.ExecContext(ctx, r.rebind(
		`INSERT INTO watchlists (tenant_id, user_id, item_id, item_name, added_at)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT (tenant_id, user_id, item_id) DO UPDATE SET
			item_name = excluded.item_name`),
		e.Tenant, e.UserID, int64(e.ItemID), e.Name, e.AddedAt)
	if err != nil {
		return fmt.Errorf("failed to add watchlist entry: %w", err)
	}
	return nil
}

func (r *watchlistRepo) Remove(ctx context.Context, tenant, user string, item domain.ItemID) error {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	res, err := r.db.ExecContext(ctx, r.rebind(
		`DELETE FROM watchlists WHERE tenant_id = ? AND user_id = ? AND item_id = ?`),
		tenant, user, int64(item))
	if err != nil {
		return fmt.Errorf("failed to remove watchlist entry: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *watchlistRepo) List(ctx context.Context, tenant, user string) ([]domain.WatchlistEntry, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	var entries []domain.WatchlistEntry
	err := r.db.SelectContext(ctx, &entries, r.rebind(
		`SELECT tenant_id, user_id, item_id, item_name, added_at
		 FROM watchlists WHERE tenant_id = ? AND user_id = ?
		 ORDER BY added_at ASC`), tenant, user)
	if err != nil {
		return nil, fmt.Errorf("failed to list watchlist: %w", err)
	}
	return entries, nil
}
