package store

import (
	"context"

	"github.com/jmoiron/sqlx"

	"github.com/sells-group/deal-pipeline/internal/model"
)

// SnapshotExists reports whether any row exists for key.
func (s *SQLStore) SnapshotExists(ctx context.Context, key string) (bool, error) {
	var n int
	if err := s.db.GetContext(ctx, &n, s.q("SELECT COUNT(*) FROM pipeline_snapshots WHERE snapshot_key = ?"), key); err != nil {
		return false, s.wrapf(err, "snapshot exists %s", key)
	}
	return n > 0, nil
}

// WriteSnapshot stores the aggregate rows for key. With replace set, existing
// rows for the key are deleted first in the same transaction. Without it, rows
// already present are left unchanged.
func (s *SQLStore) WriteSnapshot(ctx context.Context, key string, rows []model.SnapshotRow, replace bool) (int, error) {
	written := 0
	err := s.inTx(ctx, func(tx *sqlx.Tx) error {
		if replace {
			if _, err := tx.ExecContext(ctx, s.q("DELETE FROM pipeline_snapshots WHERE snapshot_key = ?"), key); err != nil {
				return s.wrapf(err, "clear snapshot %s", key)
			}
		}
		for _, r := range rows {
			ib := s.flavor.NewInsertBuilder()
			ib.InsertInto("pipeline_snapshots")
			ib.Cols("snapshot_key", "industry", "status", "source", "deal_count", "snapshot_run_date")
			ib.Values(key, r.Industry, r.Status, r.Source, r.DealCount, r.SnapshotRunDate.UTC())
			query, args := ib.Build()
			query += " ON CONFLICT (snapshot_key, industry, status, source) DO NOTHING"
			res, err := tx.ExecContext(ctx, query, args...)
			if err != nil {
				return s.wrapf(err, "write snapshot %s", key)
			}
			n, err := res.RowsAffected()
			if err != nil {
				return s.wrap(err, "snapshot rows affected")
			}
			written += int(n)
		}
		return nil
	})
	return written, err
}

// ListSnapshot returns the rows stored under key in a stable order.
func (s *SQLStore) ListSnapshot(ctx context.Context, key string) ([]model.SnapshotRow, error) {
	sb := s.flavor.NewSelectBuilder()
	sb.Select("snapshot_key", "industry", "status", "source", "deal_count", "snapshot_run_date")
	sb.From("pipeline_snapshots")
	sb.Where(sb.Equal("snapshot_key", key))
	sb.OrderBy("industry", "status", "source")
	query, args := sb.Build()

	var out []model.SnapshotRow
	if err := s.db.SelectContext(ctx, &out, query, args...); err != nil {
		return nil, s.wrapf(err, "list snapshot %s", key)
	}
	return out, nil
}

// ListSnapshotKeys returns every stored snapshot key, newest first.
func (s *SQLStore) ListSnapshotKeys(ctx context.Context) ([]string, error) {
	var keys []string
	if err := s.db.SelectContext(ctx, &keys,
		"SELECT DISTINCT snapshot_key FROM pipeline_snapshots ORDER BY snapshot_key DESC"); err != nil {
		return nil, s.wrap(err, "list snapshot keys")
	}
	return keys, nil
}
