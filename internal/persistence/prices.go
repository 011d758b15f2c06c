package persistence

import (
	"context"
	"fmt"

	"github.com/getools/gesniper/internal/domain"
)

type priceStore struct {
	*DB
}

func (s *priceStore) PutPrices(ctx context.Context, rows []domain.Snapshot) error {
	return s.bulkInsert(ctx, "prices",
		`INSERT INTO prices (item_id, ts, low, high, volume)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT (item_id, ts) DO NOTHING`, rows)
}

func (s *priceStore) PutWindows(ctx context.Context, rows []domain.Snapshot) error {
	return s.bulkInsert(ctx, "ge_prices_5m",
		`INSERT INTO ge_prices_5m (item_id, ts, low, high, volume)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT (item_id, ts) DO UPDATE SET
			low = excluded.low,
			high = excluded.high,
			volume = excluded.volume`, rows)
}

// bulkInsert writes rows in transactions of batchSize with one prepared
// statement per batch.
func (s *priceStore) bulkInsert(ctx context.Context, table, query string, rows []domain.Snapshot) error {
	if len(rows) == 0 {
		return nil
	}
	query = s.rebind(query)

	for start := 0; start < len(rows); start += batchSize {
		end := start + batchSize
		if end > len(rows) {
			end = len(rows)
		}
		if err := s.insertBatch(ctx, query, rows[start:end]); err != nil {
			return fmt.Errorf("failed to insert batch into %s: %w", table, err)
		}
	}
	return nil
}

func (s *priceStore) insertBatch(ctx context.Context, query string, rows []domain.Snapshot) error {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PreparexContext(ctx, query)
	if err != nil {
		return fmt.Errorf("failed to prepare statement: %w", err)
	}
	defer stmt.Close()

	for _, r := range rows {
		if _, err := stmt.ExecContext(ctx, int64(r.ItemID), r.Timestamp, r.Low, r.High, r.Volume); err != nil {
			return fmt.Errorf("failed to insert snapshot for item %d: %w", r.ItemID, err)
		}
	}
	return tx.Commit()
}

func (s *priceStore) WindowHistory(ctx context.Context, id domain.ItemID, since int64) ([]domain.Snapshot, error) {
	return s.selectSnapshots(ctx,
		`SELECT item_id, ts, low, high, volume FROM ge_prices_5m
		 WHERE item_id = ? AND ts >= ? ORDER BY ts ASC`, int64(id), since)
}

func (s *priceStore) RecentWindows(ctx context.Context, id domain.ItemID, n int) ([]domain.Snapshot, error) {
	if n <= 0 {
		return nil, nil
	}
	return s.selectSnapshots(ctx,
		`SELECT item_id, ts, low, high, volume FROM ge_prices_5m
		 WHERE item_id = ? ORDER BY ts DESC LIMIT ?`, int64(id), n)
}

func (s *priceStore) PriceHistory(ctx context.Context, id domain.ItemID, since int64) ([]domain.Snapshot, error) {
	return s.selectSnapshots(ctx,
		`SELECT item_id, ts, low, high, volume FROM prices
		 WHERE item_id = ? AND ts >= ? ORDER BY ts ASC`, int64(id), since)
}

func (s *priceStore) selectSnapshots(ctx context.Context, query string, args ...any) ([]domain.Snapshot, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	var rows []domain.Snapshot
	if err := s.db.SelectContext(ctx, &rows, s.rebind(query), args...); err != nil {
		return nil, fmt.Errorf("failed to query snapshots: %w", err)
	}
	return rows, nil
}

func (s *priceStore) Prune(ctx context.Context, cutoff int64) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, 60*queryTimeout)
	defer cancel()

	var total int64
	for _, table := range []string{"prices", "ge_prices_5m"} {
		res, err := s.db.ExecContext(ctx, s.rebind(
			fmt.Sprintf("DELETE FROM %s WHERE ts < ?", table)), cutoff)
		if err != nil {
			return total, fmt.Errorf("failed to prune %s: %w", table, err)
		}
		if n, err := res.RowsAffected(); err == nil {
			total += n
		}
	}
	return total, nil
}

func (s *priceStore) Counts(ctx context.Context) (map[string]int64, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	counts := make(map[string]int64, 4)
	for _, table := range []string{"prices", "ge_prices_5m", "watchlists", "tiers"} {
		var n int64
		if err := s.db.GetContext(ctx, &n, fmt.Sprintf("SELECT COUNT(*) FROM %s", table)); err != nil {
			return nil, fmt.Errorf("failed to count %s: %w", table, err)
		}
		counts[table] = n
	}
	return counts, nil
}
