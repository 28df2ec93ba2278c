// Package snapshot aggregates the catalog into weekly funnel snapshots.
package snapshot

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/deal-pipeline/internal/model"
	"github.com/sells-group/deal-pipeline/internal/store"
)

// Snapshot statuses for deals without a workflow status.
const (
	StatusNew        = "New"
	StatusUnassessed = "Unassessed"
	// NoIndustry groups deals whose industry is unresolved.
	NoIndustry = "NA"
)

// Key returns the ISO week key of t, e.g. "2025-W02".
func Key(t time.Time) string {
	y, w := t.UTC().ISOWeek()
	return fmt.Sprintf("%d-W%02d", y, w)
}

// WeekStart returns Monday 00:00 UTC of the ISO week containing t.
func WeekStart(t time.Time) time.Time {
	t = t.UTC()
	day := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
	offset := (int(day.Weekday()) + 6) % 7
	return day.AddDate(0, 0, -offset)
}

// Result describes one snapshot run.
type Result struct {
	Key       string              `json:"key"`
	WeekStart time.Time           `json:"week_start"`
	Rows      []model.SnapshotRow `json:"-"`
	Deals     int                 `json:"deals"`
	Written   int                 `json:"written"`
	// Skipped is set when the key already existed and force was not given.
	Skipped  bool `json:"skipped"`
	Replaced bool `json:"replaced"`
}

func (r *Result) String() string {
	switch {
	case r.Skipped:
		return fmt.Sprintf("snapshot %s: already taken, nothing written (use --force to replace)", r.Key)
	case r.Replaced:
		return fmt.Sprintf("snapshot %s: replaced with %d rows over %d deals", r.Key, r.Written, r.Deals)
	default:
		return fmt.Sprintf("snapshot %s: wrote %d rows over %d deals", r.Key, r.Written, r.Deals)
	}
}

// Builder writes weekly snapshots.
type Builder struct {
	store store.Store
}

// NewBuilder creates a Builder.
func NewBuilder(st store.Store) *Builder {
	return &Builder{store: st}
}

// Build aggregates every deal for the ISO week containing asOf. An existing
// snapshot for the week is left alone unless force is set, in which case it is
// replaced atomically.
func (b *Builder) Build(ctx context.Context, asOf time.Time, force bool) (*Result, error) {
	res := &Result{Key: Key(asOf), WeekStart: WeekStart(asOf)}
	log := zap.L().With(zap.String("component", "snapshot"), zap.String("snapshot_key", res.Key))

	exists, err := b.store.SnapshotExists(ctx, res.Key)
	if err != nil {
		return nil, eris.Wrap(err, "snapshot: check existing")
	}
	if exists && !force {
		res.Skipped = true
		log.Info("snapshot: key exists, skipping")
		return res, nil
	}

	deals, err := b.store.ListDeals(ctx, store.DealFilter{})
	if err != nil {
		return nil, eris.Wrap(err, "snapshot: load deals")
	}
	res.Deals = len(deals)
	res.Rows = Aggregate(deals, res.Key, res.WeekStart, asOf.UTC())

	n, err := b.store.WriteSnapshot(ctx, res.Key, res.Rows, force)
	if err != nil {
		return nil, eris.Wrapf(err, "snapshot: write %s", res.Key)
	}
	res.Written = n
	res.Replaced = exists && force

	log.Info("snapshot: written",
		zap.Int("deals", res.Deals),
		zap.Int("rows", res.Written),
		zap.Bool("replaced", res.Replaced),
	)
	return res, nil
}

// SnapshotStatus returns the funnel bucket of a deal for the week starting
// weekStart.
func SnapshotStatus(d *model.Deal, weekStart time.Time) string {
	if d.Status != nil && d.Status.Valid() {
		return string(*d.Status)
	}
	if !d.FirstSeen.Before(weekStart) {
		return StatusNew
	}
	return StatusUnassessed
}

type groupKey struct{ industry, status, source string }

// Aggregate counts deals by industry, snapshot status and source. Rows are
// sorted by industry, status and source.
func Aggregate(deals []model.Deal, key string, weekStart, runDate time.Time) []model.SnapshotRow {
	counts := map[groupKey]int{}
	for i := range deals {
		d := &deals[i]
		industry := model.Deref(d.Industry)
		if industry == "" {
			industry = NoIndustry
		}
		counts[groupKey{industry, SnapshotStatus(d, weekStart), d.Source}]++
	}

	rows := make([]model.SnapshotRow, 0, len(counts))
	for k, n := range counts {
		rows = append(rows, model.SnapshotRow{
			SnapshotKey:     key,
			Industry:        k.industry,
			Status:          k.status,
			Source:          k.source,
			DealCount:       n,
			SnapshotRunDate: runDate,
		})
	}
	sort.Slice(rows, func(i, j int) bool {
		a, b := rows[i], rows[j]
		if a.Industry != b.Industry {
			return a.Industry < b.Industry
		}
		if a.Status != b.Status {
			return a.Status < b.Status
		}
		return a.Source < b.Source
	})
	return rows
}
