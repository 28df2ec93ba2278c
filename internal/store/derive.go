package store

import (
	"context"

	"github.com/jmoiron/sqlx"

	"github.com/sells-group/deal-pipeline/internal/model"
)

// derivedRow is the slice of a deal that feeds the derived block.
type derivedRow struct {
	ID int64 `db:"id"`
	model.Financials
	RevenueKManual     *float64 `db:"revenue_k_manual"`
	EbitdaKManual      *float64 `db:"ebitda_k_manual"`
	AskingPriceKManual *float64 `db:"asking_price_k_manual"`
	model.Derived
}

const derivedSelect = `SELECT id, revenue_k, ebitda_k, asking_price_k, profit_margin_pct, revenue_growth_pct, leverage_pct,
	revenue_k_manual, ebitda_k_manual, asking_price_k_manual,
	revenue_k_effective, ebitda_k_effective, asking_price_k_effective,
	ebitda_margin, revenue_multiple, ebitda_multiple
	FROM deals`

func (r derivedRow) derive() model.Derived {
	return model.Derive(r.Financials, r.RevenueKManual, r.EbitdaKManual, r.AskingPriceKManual)
}

// refreshDerived recomputes the derived block of one deal inside tx.
func (s *SQLStore) refreshDerived(ctx context.Context, tx *sqlx.Tx, id int64) error {
	var row derivedRow
	if err := tx.GetContext(ctx, &row, s.q(derivedSelect+" WHERE id = ?"), id); err != nil {
		return s.wrapf(err, "load financials %d", id)
	}
	next := row.derive()
	if next.Equal(row.Derived) {
		return nil
	}
	return s.writeDerived(ctx, tx, id, next)
}

func (s *SQLStore) writeDerived(ctx context.Context, tx *sqlx.Tx, id int64, d model.Derived) error {
	ub := s.flavor.NewUpdateBuilder()
	ub.Update("deals")
	ub.Set(
		ub.Assign("revenue_k_effective", nullFloat(d.RevenueKEffective)),
		ub.Assign("ebitda_k_effective", nullFloat(d.EbitdaKEffective)),
		ub.Assign("asking_price_k_effective", nullFloat(d.AskingPriceKEffective)),
		ub.Assign("ebitda_margin", nullFloat(d.EbitdaMargin)),
		ub.Assign("revenue_multiple", nullFloat(d.RevenueMultiple)),
		ub.Assign("ebitda_multiple", nullFloat(d.EbitdaMultiple)),
	)
	ub.Where(ub.Equal("id", id))
	query, args := ub.Build()
	_, err := tx.ExecContext(ctx, query, args...)
	return s.wrapf(err, "write derived %d", id)
}

// recomputeAll rewrites every deal whose stored derived block is stale.
func (s *SQLStore) recomputeAll(ctx context.Context) (int, error) {
	changed := 0
	err := s.inTx(ctx, func(tx *sqlx.Tx) error {
		var rows []derivedRow
		if err := tx.SelectContext(ctx, &rows, derivedSelect+" ORDER BY id"); err != nil {
			return s.wrap(err, "load financials")
		}
		for _, r := range rows {
			next := r.derive()
			if next.Equal(r.Derived) {
				continue
			}
			if err := s.writeDerived(ctx, tx, r.ID, next); err != nil {
				return err
			}
			changed++
		}
		return nil
	})
	return changed, err
}

// RecomputeEffectiveFields refreshes the effective money columns of every deal.
// It is idempotent: a second run changes nothing.
func (s *SQLStore) RecomputeEffectiveFields(ctx context.Context) (int, error) {
	return s.recomputeAll(ctx)
}

// RecalculateFinancialMetrics refreshes margin and multiples from the
// effective values. Effective and metric columns share one projection, so
// this is the same pass as RecomputeEffectiveFields.
func (s *SQLStore) RecalculateFinancialMetrics(ctx context.Context) (int, error) {
	return s.recomputeAll(ctx)
}
