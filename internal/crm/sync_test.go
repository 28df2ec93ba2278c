package crm

import (
	"context"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/deal-pipeline/internal/model"
	"github.com/sells-group/deal-pipeline/internal/store"
	"github.com/sells-group/deal-pipeline/pkg/salesforce"
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

func seedDeal(t *testing.T, st store.Store, id, title string, updates map[string]any) {
	t.Helper()
	ctx := context.Background()
	_, err := st.UpsertIndex(ctx, model.IndexRow{
		Source:          "bb",
		SourceListingID: id,
		SourceURL:       "https://bb.test/listing/" + id,
		Title:           title,
		Industry:        "Healthcare",
		SectorSrc:       model.SectorBroker,
		Confidence:      0.95,
	})
	require.NoError(t, err)
	if len(updates) > 0 {
		require.NoError(t, st.UpdateDealFields(ctx, model.Identity{Source: "bb", SourceListingID: id}, updates, model.UpdateManual))
	}
}

// fakeSF is an in-memory Opportunity table.
type fakeSF struct {
	mu      sync.Mutex
	opps    map[string]map[string]any // by Id
	nextID  int
	fields  []string
	inserts int
	updates int
}

func newFakeSF() *fakeSF {
	return &fakeSF{opps: map[string]map[string]any{}, fields: append([]string{"Id", "Name", "StageName"}, RequiredFields...)}
}

func (f *fakeSF) Query(_ context.Context, soql string, out any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	opps := out.(*[]salesforce.Opportunity)
	for id, rec := range f.opps {
		uid, _ := rec[salesforce.DealUIDField].(string)
		if strings.Contains(soql, "'"+uid+"'") {
			*opps = append(*opps, salesforce.Opportunity{ID: id, DealUID: uid})
		}
	}
	return nil
}

func (f *fakeSF) Insert(_ context.Context, _ string, records []map[string]any) ([]salesforce.SaveResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]salesforce.SaveResult, len(records))
	for i, r := range records {
		f.nextID++
		id := "006" + strings.Repeat("0", 3) + string(rune('A'+f.nextID))
		f.opps[id] = r
		f.inserts++
		out[i] = salesforce.SaveResult{ID: id, Success: true}
	}
	return out, nil
}

func (f *fakeSF) Update(_ context.Context, _ string, records []salesforce.RecordUpdate) ([]salesforce.SaveResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]salesforce.SaveResult, len(records))
	for i, r := range records {
		for k, v := range r.Fields {
			f.opps[r.ID][k] = v
		}
		f.updates++
		out[i] = salesforce.SaveResult{ID: r.ID, Success: true}
	}
	return out, nil
}

func (f *fakeSF) Describe(_ context.Context, name string) (*salesforce.ObjectSchema, error) {
	desc := &salesforce.ObjectSchema{Name: name}
	for _, n := range f.fields {
		desc.Fields = append(desc.Fields, salesforce.Field{Name: n})
	}
	return desc, nil
}

func (f *fakeSF) byUID(uid string) map[string]any {
	for _, rec := range f.opps {
		if rec[salesforce.DealUIDField] == uid {
			return rec
		}
	}
	return nil
}

func TestSync_ProgressedDealsOnly(t *testing.T) {
	st := newTestStore(t)
	seedDeal(t, st, "51106", "Residential Care Home", map[string]any{"decision": "Progress", "status": "CIM", "asking_price_k_manual": 2400.0})
	seedDeal(t, st, "51107", "Day Nursery", map[string]any{"decision": "Park"})
	seedDeal(t, st, "51108", "Dental Practice", nil)
	sf := newFakeSF()
	s := NewSyncer(st, sf)
	s.now = func() time.Time { return testNow }

	res, err := s.Sync(context.Background(), false)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Deals)
	assert.Equal(t, 1, res.Created)
	assert.Empty(t, res.Failures)

	rec := sf.byUID("bb:51106")
	require.NotNil(t, rec)
	assert.Equal(t, "Residential Care Home", rec["Name"])
	assert.Equal(t, "Qualification", rec["StageName"])
	assert.Equal(t, "bb", rec["LeadSource"])
	assert.Equal(t, "Healthcare", rec[fieldIndustry])
	assert.Equal(t, "https://bb.test/listing/51106", rec[fieldSourceURL])
	assert.InDelta(t, 2_400_000, rec["Amount"], 1e-6)
	assert.Equal(t, "2026-05-31", rec["CloseDate"])
}

func TestSync_SecondRunUpdates(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	seedDeal(t, st, "51106", "Residential Care Home", map[string]any{"decision": "Progress", "status": "CIM"})
	sf := newFakeSF()
	s := NewSyncer(st, sf)

	_, err := s.Sync(ctx, false)
	require.NoError(t, err)
	require.NoError(t, st.UpdateDealFields(ctx, model.Identity{Source: "bb", SourceListingID: "51106"},
		map[string]any{"status": "LOI"}, model.UpdateManual))

	res, err := s.Sync(ctx, false)
	require.NoError(t, err)
	assert.Zero(t, res.Created)
	assert.Equal(t, 1, res.Updated)
	assert.Equal(t, 1, sf.inserts)
	assert.Equal(t, "Proposal/Price Quote", sf.byUID("bb:51106")["StageName"])
}

func TestSync_DryRunWritesNothing(t *testing.T) {
	st := newTestStore(t)
	seedDeal(t, st, "51106", "Residential Care Home", map[string]any{"decision": "Progress"})
	sf := newFakeSF()

	res, err := NewSyncer(st, sf).Sync(context.Background(), true)
	require.NoError(t, err)
	assert.True(t, res.DryRun)
	assert.Equal(t, 1, res.Deals)
	assert.Empty(t, sf.opps)
}

func TestSync_MissingCustomField(t *testing.T) {
	st := newTestStore(t)
	seedDeal(t, st, "51106", "Residential Care Home", map[string]any{"decision": "Progress"})
	sf := newFakeSF()
	sf.fields = []string{"Id", "Name"}

	_, err := NewSyncer(st, sf).Sync(context.Background(), false)
	require.Error(t, err)
	assert.Contains(t, err.Error(), salesforce.DealUIDField)
	assert.Empty(t, sf.opps)
}

func TestStage(t *testing.T) {
	assert.Equal(t, "Prospecting", Stage(nil))
	for _, s := range model.Statuses {
		assert.NotEmpty(t, stages[s], s)
	}
	lost := model.StatusLost
	assert.Equal(t, "Closed Lost", Stage(&lost))
}

func TestOpportunity_TruncatesNameAndFallsBackToUID(t *testing.T) {
	s := NewSyncer(nil, nil)
	long := strings.Repeat("x", 200)
	in := s.Opportunity(&model.Deal{Source: "bb", SourceListingID: "1", Title: &long})
	assert.Len(t, in.Fields["Name"], maxName)
	assert.NotContains(t, in.Fields, "Amount")

	in = s.Opportunity(&model.Deal{Source: "bb", SourceListingID: "2"})
	assert.Equal(t, "bb:2", in.Fields["Name"])
}
