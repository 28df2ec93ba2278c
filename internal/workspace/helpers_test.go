package workspace

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/sells-group/deal-pipeline/internal/model"
	"github.com/sells-group/deal-pipeline/internal/store"
)

var testNow = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

func newTestStore(t *testing.T) *store.SQLStore {
	t.Helper()
	ctx := context.Background()
	s, err := store.NewSQLite(ctx, filepath.Join(t.TempDir(), "catalog.db"), store.WithClock(func() time.Time { return testNow }))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	require.NoError(t, s.Migrate(ctx))
	return s
}

// seedDeal inserts an enriched deal.
func seedDeal(t *testing.T, st store.Store, src, id, title string, fin model.Financials) *model.Deal {
	t.Helper()
	ctx := context.Background()
	_, err := st.UpsertIndex(ctx, model.IndexRow{
		Source:          src,
		SourceListingID: id,
		SourceURL:       "https://" + src + ".test/listing/" + id,
		Title:           title,
	})
	require.NoError(t, err)
	d := getDeal(t, st, src, id)
	require.NoError(t, st.UpdateDetailFields(ctx, d.ID, model.DetailFields{
		Title:        title,
		Description:  "Established business.",
		Location:     "Kent",
		Industry:     "Healthcare",
		Sector:       "Care Homes",
		SectorSource: model.SectorBroker,
		Confidence:   0.95,
		Financials:   fin,
	}))
	return getDeal(t, st, src, id)
}

func storeUserDeal() store.UserDeal {
	return store.UserDeal{
		ListingID:  "U-3f9a1c2b7d4e",
		Title:      "Off-market dental practice",
		Location:   "Leeds",
		Industry:   "Healthcare",
		Financials: model.Financials{RevenueK: model.Ptr(900.0), EbitdaK: model.Ptr(210.0)},
		Owner:      "TW",
		Notes:      "Introduced by accountant",
	}
}

func getDeal(t *testing.T, st store.Store, src, id string) *model.Deal {
	t.Helper()
	d, err := st.GetDealByIdentity(context.Background(), model.Identity{Source: src, SourceListingID: id})
	require.NoError(t, err)
	return d
}

// fakeSheet is an in-memory Sheet.
type fakeSheet struct {
	mu          sync.Mutex
	rows        [][]string
	validations []Validation
	formats     []ConditionalFormat
	protected   []int
	updates     int
	appends     int
}

func newFakeSheet(rows ...[]string) *fakeSheet {
	return &fakeSheet{rows: rows}
}

func (f *fakeSheet) ReadAll(context.Context) ([][]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([][]string, len(f.rows))
	for i, r := range f.rows {
		out[i] = append([]string(nil), r...)
	}
	return out, nil
}

func (f *fakeSheet) WriteHeader(_ context.Context, header []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.rows) == 0 {
		f.rows = append(f.rows, nil)
	}
	f.rows[0] = append([]string(nil), header...)
	return nil
}

func (f *fakeSheet) AppendRows(_ context.Context, rows [][]string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.appends += len(rows)
	for _, r := range rows {
		f.rows = append(f.rows, append([]string(nil), r...))
	}
	return nil
}

func (f *fakeSheet) UpdateCells(_ context.Context, updates []CellUpdate) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, u := range updates {
		f.set(u.Row, u.Col, u.Value)
		f.updates++
	}
	return nil
}

func (f *fakeSheet) ApplyValidations(_ context.Context, rules []Validation) error {
	f.validations = rules
	return nil
}

func (f *fakeSheet) ApplyConditionalFormats(_ context.Context, rules []ConditionalFormat) error {
	f.formats = rules
	return nil
}

func (f *fakeSheet) ProtectRanges(_ context.Context, cols []int) error {
	f.protected = cols
	return nil
}

func (f *fakeSheet) set(row, col int, v string) {
	for len(f.rows) <= row {
		f.rows = append(f.rows, nil)
	}
	for len(f.rows[row]) <= col {
		f.rows[row] = append(f.rows[row], "")
	}
	f.rows[row][col] = v
}

// edit changes the named column of the row holding uid, as an analyst would.
func (f *fakeSheet) edit(t *testing.T, uid, column, v string) {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	col := ColumnIndex(column)
	require.GreaterOrEqual(t, col, 0, column)
	for i, r := range f.rows {
		if i > 0 && cell(r, 0) == uid {
			f.set(i, col, v)
			return
		}
	}
	t.Fatalf("no row for %s", uid)
}

func (f *fakeSheet) value(t *testing.T, uid, column string) string {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	for i, r := range f.rows {
		if i > 0 && cell(r, 0) == uid {
			return cell(r, ColumnIndex(column))
		}
	}
	t.Fatalf("no row for %s", uid)
	return ""
}
