package workspace

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/deal-pipeline/internal/identity"
	"github.com/sells-group/deal-pipeline/internal/model"
	"github.com/sells-group/deal-pipeline/internal/store"
)

// ErrHeaderMismatch is returned when the sheet header differs from Columns.
var ErrHeaderMismatch = eris.New("workspace: header does not match the declared columns")

// Reconciler synchronises the catalog and one workspace sheet.
type Reconciler struct {
	store store.Store
	sheet Sheet
	enums Enums
}

// NewReconciler creates a Reconciler. Owners override the default owner list.
func NewReconciler(st store.Store, sheet Sheet, owners []string) *Reconciler {
	return &Reconciler{store: st, sheet: sheet, enums: DefaultEnums(owners)}
}

// PushSummary counts the effect of a push.
type PushSummary struct {
	Deals        int           `json:"deals"`
	Appended     int           `json:"appended"`
	RowsUpdated  int           `json:"rows_updated"`
	CellsUpdated int           `json:"cells_updated"`
	Duration     time.Duration `json:"duration_ns"`
}

func (s *PushSummary) String() string {
	return fmt.Sprintf("push-workspace: deals=%d appended=%d rows_updated=%d cells_updated=%d in %s",
		s.Deals, s.Appended, s.RowsUpdated, s.CellsUpdated, s.Duration.Round(time.Millisecond))
}

// PullSummary counts the effect of a pull.
type PullSummary struct {
	Rows           int           `json:"rows"`
	Updated        int           `json:"updated"`
	StatusChanges  int           `json:"status_changes"`
	UnknownUIDs    int           `json:"unknown_uids"`
	InvalidValues  int           `json:"invalid_values"`
	Recomputed     int           `json:"recomputed"`
	MetricsChanged int           `json:"metrics_changed"`
	Duration       time.Duration `json:"duration_ns"`
}

func (s *PullSummary) String() string {
	return fmt.Sprintf("pull-workspace: rows=%d updated=%d status_changes=%d unknown_uids=%d invalid_values=%d recomputed=%d in %s",
		s.Rows, s.Updated, s.StatusChanges, s.UnknownUIDs, s.InvalidValues, s.Recomputed+s.MetricsChanged,
		s.Duration.Round(time.Millisecond))
}

// CheckHeader compares a header row with the declared columns, in order.
func CheckHeader(row []string) error {
	want := Header()
	got := trimTrailingBlank(row)
	if len(got) != len(want) {
		return eris.Wrapf(ErrHeaderMismatch, "expected %d columns, found %d", len(want), len(got))
	}
	for i := range want {
		if strings.TrimSpace(got[i]) != want[i] {
			return eris.Wrapf(ErrHeaderMismatch, "column %s is %q, expected %q", ColumnLetter(i), got[i], want[i])
		}
	}
	return nil
}

func trimTrailingBlank(row []string) []string {
	n := len(row)
	for n > 0 && strings.TrimSpace(row[n-1]) == "" {
		n--
	}
	return row[:n]
}

// Push writes every catalog deal to the sheet. Existing rows get only their
// changed push cells rewritten; new deals are appended.
func (r *Reconciler) Push(ctx context.Context) (*PushSummary, error) {
	start := time.Now()
	sum := &PushSummary{}
	log := zap.L().With(zap.String("component", "workspace"), zap.String("op", "push"))

	rows, err := r.sheet.ReadAll(ctx)
	if err != nil {
		return sum, err
	}
	if len(rows) == 0 {
		return sum, eris.Wrap(ErrHeaderMismatch, "sheet is empty; run setup-workspace first")
	}
	if err := CheckHeader(rows[0]); err != nil {
		return sum, err
	}

	uidCol := ColumnIndex("deal_uid")
	existing := make(map[string]int, len(rows))
	for i, row := range rows[1:] {
		if uid := cell(row, uidCol); uid != "" {
			existing[uid] = i + 1
		}
	}

	deals, err := r.store.ListDeals(ctx, store.DealFilter{})
	if err != nil {
		return sum, eris.Wrap(err, "workspace: load deals")
	}
	sum.Deals = len(deals)

	var updates []CellUpdate
	var appends [][]string
	for i := range deals {
		d := &deals[i]
		rowIdx, ok := existing[d.UID()]
		if !ok {
			appends = append(appends, newRow(d))
			continue
		}
		changed := false
		for c, col := range Columns {
			if !col.Push {
				continue
			}
			want := col.render(col.value(d))
			if col.sameCell(cell(rows[rowIdx], c), want) {
				continue
			}
			updates = append(updates, CellUpdate{Row: rowIdx, Col: c, Value: want})
			changed = true
		}
		if changed {
			sum.RowsUpdated++
		}
	}

	if len(updates) > 0 {
		if err := r.sheet.UpdateCells(ctx, updates); err != nil {
			return sum, err
		}
		sum.CellsUpdated = len(updates)
	}
	if len(appends) > 0 {
		if err := r.sheet.AppendRows(ctx, appends); err != nil {
			return sum, err
		}
		sum.Appended = len(appends)
	}

	sum.Duration = time.Since(start)
	log.Info("workspace: push complete",
		zap.Int("deals", sum.Deals),
		zap.Int("appended", sum.Appended),
		zap.Int("cells_updated", sum.CellsUpdated),
	)
	return sum, nil
}

// newRow renders a deal for insertion. Analyst-only columns carry the
// catalog value, which is blank unless the deal was imported with one.
func newRow(d *model.Deal) []string {
	out := make([]string, len(Columns))
	for i, col := range Columns {
		if !col.Push && !col.Pull {
			continue
		}
		out[i] = col.render(col.value(d))
	}
	return out
}

// Pull reads analyst edits back into the catalog, then recomputes derived
// values. Rows whose deal_uid is unknown are skipped silently.
func (r *Reconciler) Pull(ctx context.Context) (*PullSummary, error) {
	start := time.Now()
	sum := &PullSummary{}
	log := zap.L().With(zap.String("component", "workspace"), zap.String("op", "pull"))

	rows, err := r.sheet.ReadAll(ctx)
	if err != nil {
		return sum, err
	}
	if len(rows) == 0 {
		return sum, eris.Wrap(ErrHeaderMismatch, "sheet is empty")
	}
	if err := CheckHeader(rows[0]); err != nil {
		return sum, err
	}

	uidCol := ColumnIndex("deal_uid")
	for _, row := range rows[1:] {
		uid := cell(row, uidCol)
		if uid == "" {
			continue
		}
		sum.Rows++
		id, err := identity.ParseUID(uid)
		if err != nil {
			log.Warn("workspace: malformed deal_uid", zap.String("deal_uid", uid))
			sum.InvalidValues++
			continue
		}
		d, err := r.store.GetDealByIdentity(ctx, id)
		if errors.Is(err, store.ErrDealNotFound) {
			sum.UnknownUIDs++
			continue
		}
		if err != nil {
			return sum, eris.Wrapf(err, "workspace: load %s", uid)
		}

		updates := r.rowUpdates(d, row, sum, log)
		if len(updates) == 0 {
			continue
		}
		if err := r.store.UpdateDealFields(ctx, id, updates, model.UpdateManual); err != nil {
			if errors.Is(err, store.ErrInvalidValue) {
				log.Warn("workspace: rejected edit", zap.String("deal_uid", uid), zap.Error(err))
				sum.InvalidValues++
				continue
			}
			return sum, eris.Wrapf(err, "workspace: apply edits %s", uid)
		}
		sum.Updated++
		if _, ok := updates["status"]; ok {
			sum.StatusChanges++
		}
	}

	n, err := r.store.RecomputeEffectiveFields(ctx)
	if err != nil {
		return sum, eris.Wrap(err, "workspace: recompute effective fields")
	}
	sum.Recomputed = n
	if n, err = r.store.RecalculateFinancialMetrics(ctx); err != nil {
		return sum, eris.Wrap(err, "workspace: recalculate metrics")
	}
	sum.MetricsChanged = n

	sum.Duration = time.Since(start)
	log.Info("workspace: pull complete",
		zap.Int("rows", sum.Rows),
		zap.Int("updated", sum.Updated),
		zap.Int("status_changes", sum.StatusChanges),
		zap.Int("unknown_uids", sum.UnknownUIDs),
	)
	return sum, nil
}

// rowUpdates coerces the pull columns of one row and returns those whose
// value differs from the catalog.
func (r *Reconciler) rowUpdates(d *model.Deal, row []string, sum *PullSummary, log *zap.Logger) map[string]any {
	updates := map[string]any{}
	for c, col := range Columns {
		if !col.Pull || col.System {
			continue
		}
		v, ok := r.coerce(col, cell(row, c))
		if !ok {
			if strings.TrimSpace(cell(row, c)) != "" {
				log.Warn("workspace: invalid cell skipped",
					zap.String("deal_uid", d.UID()),
					zap.String("column", col.Name),
					zap.String("value", cell(row, c)),
				)
				sum.InvalidValues++
			}
			continue
		}
		if systemLost(d) && (col.Name == "status" || col.Name == "lost_reason") {
			// The sheet predates enrichment marking the listing lost; the
			// next push corrects it.
			continue
		}
		if equalValue(col.value(d), v) {
			continue
		}
		updates[col.Name] = v
	}
	return updates
}

// coerce converts a cell into nil, string or float64 for the column kind.
// ok is false when the cell must be left alone.
func (r *Reconciler) coerce(col Column, raw string) (any, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		if col.AllowBlankPull {
			return nil, true
		}
		return nil, false
	}
	switch col.Kind {
	case KindNumber:
		f, err := parseNumber(raw)
		if err != nil {
			return nil, false
		}
		return f, true
	case KindEnum:
		if !r.enums.Allows(col.Enum, raw) {
			return nil, false
		}
		return raw, true
	default:
		return raw, true
	}
}

func systemLost(d *model.Deal) bool {
	return d.Status != nil && *d.Status == model.StatusLost &&
		d.LastUpdatedSource != nil && *d.LastUpdatedSource == model.UpdateAuto
}

func equalValue(a, b any) bool {
	af, aok := a.(float64)
	bf, bok := b.(float64)
	if aok && bok {
		return model.FloatPtrEqual(&af, &bf)
	}
	return a == b
}

func cell(row []string, i int) string {
	if i < 0 || i >= len(row) {
		return ""
	}
	return strings.TrimSpace(row[i])
}
