package store

import (
	"context"
	"fmt"
	"sort"

	"github.com/jmoiron/sqlx"
	"github.com/rotisserie/eris"

	"github.com/sells-group/deal-pipeline/internal/model"
)

// PullableColumns are the analyst-owned columns the workspace may write back.
var PullableColumns = map[string]columnKind{
	"status":                kindStatus,
	"decision":              kindDecision,
	"owner":                 kindText,
	"priority":              kindText,
	"pass_reason":           kindText,
	"notes":                 kindText,
	"lost_reason":           kindText,
	"revenue_k_manual":      kindMoney,
	"ebitda_k_manual":       kindMoney,
	"asking_price_k_manual": kindMoney,
}

type columnKind int

const (
	kindText columnKind = iota
	kindStatus
	kindDecision
	kindMoney
)

// IsPullable reports whether col may be written by the pull path.
func IsPullable(col string) bool {
	_, ok := PullableColumns[col]
	return ok
}

// UpdateDealFields applies analyst edits to one deal. Values are nil (clear),
// string, or float64 for money columns. Columns whose value is unchanged are
// skipped; if nothing changes the row is left untouched.
func (s *SQLStore) UpdateDealFields(ctx context.Context, id model.Identity, updates map[string]any, source model.UpdateSource) error {
	cols := make([]string, 0, len(updates))
	for col, v := range updates {
		kind, ok := PullableColumns[col]
		if !ok {
			return eris.Wrapf(ErrColumnNotPullable, "%s", col)
		}
		if err := checkValue(kind, col, v); err != nil {
			return err
		}
		cols = append(cols, col)
	}
	sort.Strings(cols)

	return s.inTx(ctx, func(tx *sqlx.Tx) error {
		d, err := s.getDealByIdentity(ctx, tx, id)
		if err != nil {
			return err
		}

		ts := s.now()
		ub := s.flavor.NewUpdateBuilder()
		ub.Update("deals")
		var assigns []string
		var statusChanged bool
		var newStatus *string
		for _, col := range cols {
			v := updates[col]
			if sameValue(currentValue(d, col), v) {
				continue
			}
			assigns = append(assigns, ub.Assign(col, v))
			if col == "status" {
				statusChanged = true
				newStatus = stringArg(v)
			}
		}
		if len(assigns) == 0 {
			return nil
		}
		if newStatus != nil && model.Status(*newStatus).Terminal() {
			assigns = append(assigns, ub.Assign("needs_detail_refresh", 0))
		}
		assigns = append(assigns,
			ub.Assign("last_updated", ts),
			ub.Assign("last_updated_source", string(source)),
		)
		ub.Set(assigns...)
		ub.Where(ub.Equal("id", d.ID))
		query, args := ub.Build()
		if _, err := tx.ExecContext(ctx, query, args...); err != nil {
			return s.wrapf(err, "update fields %s", id.UID())
		}

		if statusChanged {
			var old *string
			if d.Status != nil {
				old = model.Ptr(string(*d.Status))
			}
			if err := s.insertHistory(ctx, tx, d.ID, old, newStatus, source, ts); err != nil {
				return err
			}
		}
		return s.refreshDerived(ctx, tx, d.ID)
	})
}

func checkValue(kind columnKind, col string, v any) error {
	if v == nil {
		return nil
	}
	switch kind {
	case kindMoney:
		if _, ok := v.(float64); !ok {
			return eris.Wrapf(ErrInvalidValue, "%s expects a number, got %T", col, v)
		}
	case kindStatus:
		str, ok := v.(string)
		if !ok || !model.Status(str).Valid() {
			return eris.Wrapf(ErrInvalidValue, "status %v", v)
		}
	case kindDecision:
		str, ok := v.(string)
		if !ok || !validDecision(str) {
			return eris.Wrapf(ErrInvalidValue, "decision %v", v)
		}
	default:
		if _, ok := v.(string); !ok {
			return eris.Wrapf(ErrInvalidValue, "%s expects text, got %T", col, v)
		}
	}
	return nil
}

func validDecision(s string) bool {
	for _, d := range model.Decisions {
		if string(d) == s {
			return true
		}
	}
	return false
}

// currentValue returns the stored value of a pullable column as nil, string or float64.
func currentValue(d *model.Deal, col string) any {
	switch col {
	case "status":
		if d.Status == nil {
			return nil
		}
		return string(*d.Status)
	case "decision":
		if d.Decision == nil {
			return nil
		}
		return string(*d.Decision)
	case "owner":
		return strValue(d.Owner)
	case "priority":
		return strValue(d.Priority)
	case "pass_reason":
		return strValue(d.PassReason)
	case "notes":
		return strValue(d.Notes)
	case "lost_reason":
		return strValue(d.LostReason)
	case "revenue_k_manual":
		return floatValue(d.RevenueKManual)
	case "ebitda_k_manual":
		return floatValue(d.EbitdaKManual)
	case "asking_price_k_manual":
		return floatValue(d.AskingPriceKManual)
	}
	panic(fmt.Sprintf("store: unhandled pullable column %s", col))
}

func sameValue(a, b any) bool {
	af, aok := a.(float64)
	bf, bok := b.(float64)
	if aok && bok {
		return model.FloatPtrEqual(&af, &bf)
	}
	return a == b
}

func strValue(p *string) any {
	if p == nil {
		return nil
	}
	return *p
}

func floatValue(p *float64) any {
	if p == nil {
		return nil
	}
	return *p
}

func stringArg(v any) *string {
	if s, ok := v.(string); ok {
		return &s
	}
	return nil
}
