package ingest

import (
	"bytes"
	"context"
	"errors"
	"iter"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/sells-group/deal-pipeline/internal/identity"
	"github.com/sells-group/deal-pipeline/internal/model"
	"github.com/sells-group/deal-pipeline/internal/source"
	"github.com/sells-group/deal-pipeline/internal/store"
	"github.com/sells-group/deal-pipeline/internal/taxonomy"
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

// testPDF is a printable page large enough to be uploaded.
func testPDF(fill byte) []byte {
	return append([]byte("%PDF-1.7\n"), bytes.Repeat([]byte{fill}, 11*1024)...)
}

// fakeSite is an in-memory broker: its adapter reads index records and
// extraction results from it and its sessions serve its pages.
type fakeSite struct {
	name       string
	order      store.Order
	records    []source.IndexRecord
	recErr     error
	requiresID bool
	rules      source.TerminalRules
	// mapping replaces the embedded sector table when set.
	mapping *taxonomy.Mapping

	mu        sync.Mutex
	pages     map[string]*source.DetailPage
	extracted map[string]*source.Extracted
	fetchErr  map[string]error
	panicOn   map[string]bool
	documents map[string][]byte
	// block makes FetchDetail wait for ctx to end.
	block   bool
	fetches int
	opened  int
	closed  int
}

func newFakeSite(name string) *fakeSite {
	return &fakeSite{
		name:      name,
		order:     store.OrderListingIDAsc,
		pages:     map[string]*source.DetailPage{},
		extracted: map[string]*source.Extracted{},
		fetchErr:  map[string]error{},
		panicOn:   map[string]bool{},
		documents: map[string][]byte{},
	}
}

func (f *fakeSite) url(id string) string { return "https://" + f.name + ".test/listing/" + id }

// listing registers a live detail page and its extraction result.
func (f *fakeSite) listing(id string, ex *source.Extracted, pdf []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	u := f.url(id)
	f.pages[u] = &source.DetailPage{URL: u, FinalURL: u, StatusCode: 200, HTML: "<h1>" + ex.Title + "</h1>", PDF: pdf}
	f.extracted[u] = ex
}

func (f *fakeSite) adapter() source.Adapter { return fakeAdapter{f} }

func (f *fakeSite) factory() source.SessionFactory {
	return source.SessionFactoryFunc(func(context.Context, source.Adapter) (source.Session, error) {
		f.mu.Lock()
		f.opened++
		f.mu.Unlock()
		return &fakeSession{site: f}, nil
	})
}

// seed inserts an index row for each id.
func (f *fakeSite) seed(t *testing.T, st store.Store, ids ...string) {
	t.Helper()
	for _, id := range ids {
		_, err := st.UpsertIndex(context.Background(), model.IndexRow{
			Source: f.name, SourceListingID: id, SourceURL: f.url(id), Title: "Listing " + id,
		})
		require.NoError(t, err)
	}
}

type fakeAdapter struct{ site *fakeSite }

func (a fakeAdapter) Name() string                { return a.site.name }
func (a fakeAdapter) Order() store.Order          { return a.site.order }
func (a fakeAdapter) Cleanup() source.PageCleanup { return source.PageCleanup{} }
func (a fakeAdapter) RequiresCanonicalID() bool   { return a.site.requiresID }

func (a fakeAdapter) IndexRecords(context.Context) iter.Seq2[source.IndexRecord, error] {
	return func(yield func(source.IndexRecord, error) bool) {
		for _, r := range a.site.records {
			if !yield(r, nil) {
				return
			}
		}
		if a.site.recErr != nil {
			yield(source.IndexRecord{}, a.site.recErr)
		}
	}
}

func (a fakeAdapter) IsTerminal(p *source.DetailPage) (bool, string) {
	return a.site.rules.Evaluate(p)
}

func (a fakeAdapter) Extract(p *source.DetailPage) (*source.Extracted, error) {
	a.site.mu.Lock()
	defer a.site.mu.Unlock()
	if a.site.panicOn[p.URL] {
		panic("malformed page")
	}
	ex, ok := a.site.extracted[p.URL]
	if !ok || ex.Title == "" {
		return nil, identity.NewMissing(identity.ReasonMissingTitle)
	}
	cp := *ex
	return &cp, nil
}

func (a fakeAdapter) SectorMapping() *taxonomy.Mapping {
	if a.site.mapping != nil {
		return a.site.mapping
	}
	m, _ := taxonomy.MappingFor(a.site.name)
	return m
}

func (a fakeAdapter) FetchDocument(_ context.Context, url string) ([]byte, error) {
	a.site.mu.Lock()
	defer a.site.mu.Unlock()
	b, ok := a.site.documents[url]
	if !ok {
		return nil, errors.New("document status 404")
	}
	return b, nil
}

type fakeSession struct {
	site   *fakeSite
	closed bool
}

func (s *fakeSession) FetchDetail(ctx context.Context, url string) (*source.DetailPage, error) {
	s.site.mu.Lock()
	s.site.fetches++
	block := s.site.block
	err := s.site.fetchErr[url]
	page, ok := s.site.pages[url]
	s.site.mu.Unlock()

	if block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if err != nil {
		return nil, err
	}
	if !ok {
		return &source.DetailPage{URL: url, FinalURL: url, StatusCode: 404}, nil
	}
	cp := *page
	return &cp, nil
}

func (s *fakeSession) Close() error {
	s.site.mu.Lock()
	defer s.site.mu.Unlock()
	if !s.closed {
		s.closed = true
		s.site.closed++
	}
	return nil
}

func getDeal(t *testing.T, st store.Store, src, id string) *model.Deal {
	t.Helper()
	d, err := st.GetDealByIdentity(context.Background(), model.Identity{Source: src, SourceListingID: id})
	require.NoError(t, err)
	return d
}
