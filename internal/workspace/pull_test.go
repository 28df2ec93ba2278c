package workspace

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/deal-pipeline/internal/model"
)

func TestPull_StatusEditRoundTrip(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	d := seedDeal(t, st, "bb", "51106", "Residential Care Home", model.Financials{})
	require.NoError(t, st.UpdateDealFields(ctx, d.Identity(), map[string]any{"status": "Initial Contact"}, model.UpdateManual))
	before, err := st.ListStatusHistory(ctx, d.ID)
	require.NoError(t, err)

	sheet := newFakeSheet(Header())
	r := NewReconciler(st, sheet, nil)
	_, err = r.Push(ctx)
	require.NoError(t, err)
	assert.Equal(t, "Initial Contact", sheet.value(t, "bb:51106", "status"))

	// The analyst types the uid in upper case; lookups normalise the source.
	sheet.edit(t, "bb:51106", "status", "CIM")
	sheet.edit(t, "bb:51106", "owner", "AMO")
	sheet.edit(t, "bb:51106", "deal_uid", "BB:51106")

	sum, err := r.Pull(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, sum.Updated)
	assert.Equal(t, 1, sum.StatusChanges)

	got := getDeal(t, st, "bb", "51106")
	assert.Equal(t, model.StatusCIM, *got.Status)
	assert.Equal(t, "AMO", model.Deref(got.Owner))
	assert.Equal(t, model.UpdateManual, *got.LastUpdatedSource)

	after, err := st.ListStatusHistory(ctx, d.ID)
	require.NoError(t, err)
	require.Len(t, after, len(before)+1)
	last := after[len(after)-1]
	assert.Equal(t, "Initial Contact", model.Deref(last.OldStatus))
	assert.Equal(t, "CIM", model.Deref(last.NewStatus))
	assert.Equal(t, model.UpdateManual, last.ChangedBy)
}

func TestPull_ManualOverrideRecomputesDerived(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	seedDeal(t, st, "bb", "51106", "Residential Care Home", model.Financials{
		RevenueK:     model.Ptr(500.0),
		EbitdaK:      model.Ptr(100.0),
		AskingPriceK: model.Ptr(1000.0),
	})
	sheet := newFakeSheet(Header())
	r := NewReconciler(st, sheet, nil)
	_, err := r.Push(ctx)
	require.NoError(t, err)

	sheet.edit(t, "bb:51106", "revenue_k_manual", "£650")
	_, err = r.Pull(ctx)
	require.NoError(t, err)

	d := getDeal(t, st, "bb", "51106")
	assert.InDelta(t, 500, *d.RevenueK, 1e-9)
	assert.InDelta(t, 650, *d.RevenueKManual, 1e-9)
	assert.InDelta(t, 650, *d.RevenueKEffective, 1e-9)
	assert.InDelta(t, 1.54, *d.RevenueMultiple, 1e-9)
	assert.InDelta(t, 15.38, *d.EbitdaMargin, 1e-9)

	// Clearing the override falls back to the declared value.
	sheet.edit(t, "bb:51106", "revenue_k_manual", "")
	_, err = r.Pull(ctx)
	require.NoError(t, err)
	d = getDeal(t, st, "bb", "51106")
	assert.Nil(t, d.RevenueKManual)
	assert.InDelta(t, 500, *d.RevenueKEffective, 1e-9)
	assert.InDelta(t, 2, *d.RevenueMultiple, 1e-9)

	// A zero override makes the margin undefined.
	sheet.edit(t, "bb:51106", "revenue_k_manual", "0")
	_, err = r.Pull(ctx)
	require.NoError(t, err)
	d = getDeal(t, st, "bb", "51106")
	assert.Nil(t, d.EbitdaMargin)
	assert.Nil(t, d.RevenueMultiple)
}

func TestPushThenPull_IsNoOp(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	seedDeal(t, st, "bb", "51106", "Residential Care Home", model.Financials{RevenueK: model.Ptr(1200.0)})
	seedDeal(t, st, "mv", "MV12345", "IT Support", model.Financials{AskingPriceK: model.Ptr(450.0)})
	_, err := st.UpsertUserDeal(ctx, storeUserDeal())
	require.NoError(t, err)

	sheet := newFakeSheet(Header())
	r := NewReconciler(st, sheet, nil)
	_, err = r.Push(ctx)
	require.NoError(t, err)

	sum, err := r.Pull(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, sum.Rows)
	assert.Zero(t, sum.Updated)
	assert.Zero(t, sum.InvalidValues)

	d := getDeal(t, st, "bb", "51106")
	assert.Equal(t, model.UpdateAuto, *d.LastUpdatedSource)
}

func TestPullThenPush_AnalystColumnsRoundTrip(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	seedDeal(t, st, "bb", "51106", "Residential Care Home", model.Financials{RevenueK: model.Ptr(1200.0)})
	sheet := newFakeSheet(Header())
	r := NewReconciler(st, sheet, nil)
	_, err := r.Push(ctx)
	require.NoError(t, err)

	edits := map[string]string{
		"status":           "Pass",
		"decision":         "Pass",
		"owner":            "RB",
		"priority":         "Low",
		"pass_reason":      "Valuation",
		"notes":            "Vendor wants 8x",
		"revenue_k_manual": "1100",
	}
	for col, v := range edits {
		sheet.edit(t, "bb:51106", col, v)
	}

	_, err = r.Pull(ctx)
	require.NoError(t, err)
	_, err = r.Push(ctx)
	require.NoError(t, err)

	for col, v := range edits {
		assert.Equal(t, v, sheet.value(t, "bb:51106", col), col)
	}
	assert.Equal(t, "1100", sheet.value(t, "bb:51106", "revenue_k_effective"))

	d := getDeal(t, st, "bb", "51106")
	assert.False(t, d.NeedsDetailRefresh)
}

func TestPull_InvalidEnumSkipped(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	seedDeal(t, st, "bb", "51106", "Residential Care Home", model.Financials{})
	sheet := newFakeSheet(Header())
	r := NewReconciler(st, sheet, nil)
	_, err := r.Push(ctx)
	require.NoError(t, err)

	sheet.edit(t, "bb:51106", "status", "Maybe Later")
	sheet.edit(t, "bb:51106", "owner", "ZZ")
	sheet.edit(t, "bb:51106", "revenue_k_manual", "about a million")
	sheet.edit(t, "bb:51106", "notes", "  keep warm  ")

	sum, err := r.Pull(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, sum.InvalidValues)
	assert.Equal(t, 1, sum.Updated)

	d := getDeal(t, st, "bb", "51106")
	assert.Nil(t, d.Status)
	assert.Nil(t, d.Owner)
	assert.Nil(t, d.RevenueKManual)
	assert.Equal(t, "keep warm", model.Deref(d.Notes))
}

func TestPull_UnknownUIDSkipped(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	seedDeal(t, st, "bb", "51106", "Residential Care Home", model.Financials{})
	sheet := newFakeSheet(Header())
	r := NewReconciler(st, sheet, nil)
	_, err := r.Push(ctx)
	require.NoError(t, err)

	ghost := make([]string, len(Columns))
	ghost[ColumnIndex("deal_uid")] = "bb:99999"
	ghost[ColumnIndex("status")] = "CIM"
	sheet.rows = append(sheet.rows, ghost, make([]string, len(Columns)))

	sum, err := r.Pull(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, sum.Rows)
	assert.Equal(t, 1, sum.UnknownUIDs)
	assert.Zero(t, sum.Updated)

	exists, err := st.DealExists(ctx, "bb", "99999")
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestPull_StaleSheetDoesNotReviveLostDeal(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	d := seedDeal(t, st, "bb", "51106", "Residential Care Home", model.Financials{})
	require.NoError(t, st.UpdateDealFields(ctx, d.Identity(), map[string]any{"status": "CIM"}, model.UpdateManual))

	sheet := newFakeSheet(Header())
	r := NewReconciler(st, sheet, nil)
	_, err := r.Push(ctx)
	require.NoError(t, err)

	// Enrichment finds the listing withdrawn before the next push.
	require.NoError(t, st.MarkLost(ctx, d.ID, "listing_unavailable"))

	sum, err := r.Pull(ctx)
	require.NoError(t, err)
	assert.Zero(t, sum.StatusChanges)
	got := getDeal(t, st, "bb", "51106")
	assert.Equal(t, model.StatusLost, *got.Status)

	_, err = r.Push(ctx)
	require.NoError(t, err)
	assert.Equal(t, "Lost", sheet.value(t, "bb:51106", "status"))
	assert.Equal(t, "listing_unavailable", sheet.value(t, "bb:51106", "lost_reason"))
}

func TestPull_SystemColumnsIgnored(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	seedDeal(t, st, "bb", "51106", "Residential Care Home", model.Financials{RevenueK: model.Ptr(1200.0)})
	sheet := newFakeSheet(Header())
	r := NewReconciler(st, sheet, nil)
	_, err := r.Push(ctx)
	require.NoError(t, err)

	sheet.edit(t, "bb:51106", "title", "Renamed by analyst")
	sheet.edit(t, "bb:51106", "revenue_k", "9999")
	sheet.edit(t, "bb:51106", "industry", "Technology")

	sum, err := r.Pull(ctx)
	require.NoError(t, err)
	assert.Zero(t, sum.Updated)

	d := getDeal(t, st, "bb", "51106")
	assert.Equal(t, "Residential Care Home", model.Deref(d.Title))
	assert.InDelta(t, 1200, *d.RevenueK, 1e-9)
	assert.Equal(t, "Healthcare", model.Deref(d.Industry))

	_, err = r.Push(ctx)
	require.NoError(t, err)
	assert.Equal(t, "Residential Care Home", sheet.value(t, "bb:51106", "title"))
}
