package workspace

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/deal-pipeline/internal/model"
)

func TestPush_AppendsNewDeals(t *testing.T) {
	st := newTestStore(t)
	seedDeal(t, st, "bb", "51106", "Residential Care Home", model.Financials{
		RevenueK:     model.Ptr(1200.0),
		EbitdaK:      model.Ptr(300.0),
		AskingPriceK: model.Ptr(2400.0),
	})
	sheet := newFakeSheet(Header())
	r := NewReconciler(st, sheet, nil)

	sum, err := r.Push(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, sum.Deals)
	assert.Equal(t, 1, sum.Appended)
	assert.Zero(t, sum.CellsUpdated)

	require.Len(t, sheet.rows, 2)
	row := sheet.rows[1]
	require.Len(t, row, len(Columns))
	assert.Equal(t, "bb:51106", row[ColumnIndex("deal_uid")])
	assert.Equal(t, "Residential Care Home", row[ColumnIndex("title")])
	assert.Equal(t, "Healthcare", row[ColumnIndex("industry")])
	assert.Equal(t, "1200", row[ColumnIndex("revenue_k")])
	assert.Equal(t, "1200", row[ColumnIndex("revenue_k_effective")])
	assert.Equal(t, "25", row[ColumnIndex("ebitda_margin")])
	assert.Equal(t, "2", row[ColumnIndex("revenue_multiple")])
	assert.Equal(t, `=HYPERLINK("https://bb.test/listing/51106","Listing")`, row[ColumnIndex("source_url")])
	assert.Equal(t, "2026-03-02", row[ColumnIndex("first_seen")])
	assert.Equal(t, "AUTO", row[ColumnIndex("last_updated_source")])

	for _, name := range []string{"revenue_k_manual", "decision", "owner", "priority", "pass_reason", "notes", "status"} {
		assert.Empty(t, row[ColumnIndex(name)], name)
	}
}

func TestPush_UpdatesOnlyChangedCells(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	seedDeal(t, st, "bb", "51106", "Residential Care Home", model.Financials{RevenueK: model.Ptr(1200.0)})
	seedDeal(t, st, "bb", "51107", "Day Nursery", model.Financials{RevenueK: model.Ptr(800.0)})
	sheet := newFakeSheet(Header())
	r := NewReconciler(st, sheet, nil)

	_, err := r.Push(ctx)
	require.NoError(t, err)

	// Rendered differently but numerically equal: not rewritten.
	sheet.edit(t, "bb:51106", "revenue_k", "1,200.00")

	again, err := r.Push(ctx)
	require.NoError(t, err)
	assert.Zero(t, again.Appended)
	assert.Zero(t, again.CellsUpdated)

	d := getDeal(t, st, "bb", "51107")
	require.NoError(t, st.UpdateDetailFields(ctx, d.ID, model.DetailFields{
		Title:      "Day Nursery (Ofsted Good)",
		Industry:   "Education",
		Financials: model.Financials{RevenueK: model.Ptr(850.0)},
	}))

	third, err := r.Push(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, third.RowsUpdated)
	assert.Equal(t, "Day Nursery (Ofsted Good)", sheet.value(t, "bb:51107", "title"))
	assert.Equal(t, "Education", sheet.value(t, "bb:51107", "industry"))
	assert.Equal(t, "850", sheet.value(t, "bb:51107", "revenue_k"))
	assert.Equal(t, "1,200.00", sheet.value(t, "bb:51106", "revenue_k"))
}

func TestPush_DatesComparedAsDates(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	seedDeal(t, st, "bb", "51106", "Residential Care Home", model.Financials{})
	sheet := newFakeSheet(Header())
	r := NewReconciler(st, sheet, nil)

	_, err := r.Push(ctx)
	require.NoError(t, err)

	// The sheet shows dates in its own locale.
	sheet.edit(t, "bb:51106", "first_seen", "02/03/2026")
	sheet.edit(t, "bb:51106", "last_seen", "2 Mar 2026")

	again, err := r.Push(ctx)
	require.NoError(t, err)
	assert.Zero(t, again.CellsUpdated)
	assert.Equal(t, "02/03/2026", sheet.value(t, "bb:51106", "first_seen"))

	sheet.edit(t, "bb:51106", "first_seen", "03/03/2026")
	third, err := r.Push(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, third.CellsUpdated)
	assert.Equal(t, "2026-03-02", sheet.value(t, "bb:51106", "first_seen"))
}

func TestParseDate(t *testing.T) {
	want := time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)
	for _, in := range []string{"2026-03-02", "02/03/2026", "2/3/2026", "02/03/26", "2026/03/02", "2 Mar 2026", "2 March 2026", "Mar 2, 2026", "2026-03-02 09:00:00", "46083"} {
		got, ok := parseDate(in)
		require.True(t, ok, in)
		assert.True(t, want.Equal(got), "%s: %s", in, got)
	}
	for _, in := range []string{"", "soon", "0", "2026-13-40"} {
		_, ok := parseDate(in)
		assert.False(t, ok, in)
	}
}

func TestPush_NeverOverwritesAnalystColumns(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	seedDeal(t, st, "bb", "51106", "Residential Care Home", model.Financials{})
	sheet := newFakeSheet(Header())
	r := NewReconciler(st, sheet, nil)

	_, err := r.Push(ctx)
	require.NoError(t, err)
	sheet.edit(t, "bb:51106", "notes", "call vendor Tuesday")
	sheet.edit(t, "bb:51106", "owner", "JS")

	_, err = r.Push(ctx)
	require.NoError(t, err)
	assert.Equal(t, "call vendor Tuesday", sheet.value(t, "bb:51106", "notes"))
	assert.Equal(t, "JS", sheet.value(t, "bb:51106", "owner"))
}

func TestPush_HeaderMismatchIsFatal(t *testing.T) {
	st := newTestStore(t)
	seedDeal(t, st, "bb", "51106", "Residential Care Home", model.Financials{})

	swapped := Header()
	swapped[1], swapped[2] = swapped[2], swapped[1]

	for name, sheet := range map[string]*fakeSheet{
		"empty":     newFakeSheet(),
		"reordered": newFakeSheet(swapped),
		"short":     newFakeSheet(Header()[:5]),
	} {
		t.Run(name, func(t *testing.T) {
			_, err := NewReconciler(st, sheet, nil).Push(context.Background())
			require.ErrorIs(t, err, ErrHeaderMismatch)
			assert.Zero(t, sheet.appends)
			assert.Zero(t, sheet.updates)
		})
	}
}

func TestCheckHeader_IgnoresTrailingBlankCells(t *testing.T) {
	require.NoError(t, CheckHeader(append(Header(), "", " ")))
}

func TestSetup(t *testing.T) {
	st := newTestStore(t)
	sheet := newFakeSheet()
	r := NewReconciler(st, sheet, []string{"AMO", "KP"})

	require.NoError(t, r.Setup(context.Background()))
	require.Len(t, sheet.rows, 1)
	assert.Equal(t, Header(), sheet.rows[0])

	var enumCols []string
	for _, v := range sheet.validations {
		enumCols = append(enumCols, Columns[v.Col].Name)
		if Columns[v.Col].Name == "owner" {
			assert.Equal(t, []string{"AMO", "KP"}, v.Values)
		}
	}
	assert.Equal(t, []string{"status", "decision", "owner", "priority", "pass_reason"}, enumCols)

	require.Len(t, sheet.formats, len(model.Statuses))
	assert.Equal(t, "Initial Contact", sheet.formats[0].Value)

	assert.Contains(t, sheet.protected, ColumnIndex("deal_uid"))
	assert.Contains(t, sheet.protected, ColumnIndex("revenue_k_effective"))
	assert.NotContains(t, sheet.protected, ColumnIndex("status"))
	assert.NotContains(t, sheet.protected, ColumnIndex("revenue_k_manual"))

	// A second run keeps the header.
	require.NoError(t, r.Setup(context.Background()))
	assert.Len(t, sheet.rows, 1)
}

func TestColumnLetter(t *testing.T) {
	assert.Equal(t, "A", ColumnLetter(0))
	assert.Equal(t, "Z", ColumnLetter(25))
	assert.Equal(t, "AA", ColumnLetter(26))
	assert.Equal(t, "AF", ColumnLetter(31))
	assert.Equal(t, "ZZ", ColumnLetter(701))
}

func TestHyperlink_EscapesQuotes(t *testing.T) {
	assert.Equal(t, `=HYPERLINK("https://x.test/?q=""a""","PDF")`, Hyperlink(`https://x.test/?q="a"`, "PDF"))
}
