package store

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/sells-group/deal-pipeline/internal/model"
)

// InsertStatusHistory appends one row to the status ledger.
func (s *SQLStore) InsertStatusHistory(ctx context.Context, dealID int64, oldStatus, newStatus *string, by model.UpdateSource) error {
	return s.inTx(ctx, func(tx *sqlx.Tx) error {
		return s.insertHistory(ctx, tx, dealID, oldStatus, newStatus, by, s.now())
	})
}

func (s *SQLStore) insertHistory(ctx context.Context, tx *sqlx.Tx, dealID int64, oldStatus, newStatus *string, by model.UpdateSource, at time.Time) error {
	ib := s.flavor.NewInsertBuilder()
	ib.InsertInto("deal_status_history")
	ib.Cols("deal_id", "old_status", "new_status", "changed_at", "changed_by")
	ib.Values(dealID, strPtrArg(oldStatus), strPtrArg(newStatus), at, string(by))
	query, args := ib.Build()
	_, err := tx.ExecContext(ctx, query, args...)
	return s.wrapf(err, "insert status history %d", dealID)
}

// ListStatusHistory returns a deal's ledger oldest first.
func (s *SQLStore) ListStatusHistory(ctx context.Context, dealID int64) ([]model.StatusChange, error) {
	sb := s.flavor.NewSelectBuilder()
	sb.Select("id", "deal_id", "old_status", "new_status", "changed_at", "changed_by")
	sb.From("deal_status_history")
	sb.Where(sb.Equal("deal_id", dealID))
	sb.OrderBy("id")
	query, args := sb.Build()

	var out []model.StatusChange
	if err := s.db.SelectContext(ctx, &out, query, args...); err != nil {
		return nil, s.wrapf(err, "list status history %d", dealID)
	}
	return out, nil
}

func strPtrArg(p *string) any {
	if p == nil {
		return nil
	}
	return *p
}
