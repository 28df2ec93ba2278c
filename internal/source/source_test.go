package source

import (
	"context"
	"iter"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/deal-pipeline/internal/fetch"
	"github.com/sells-group/deal-pipeline/internal/store"
	"github.com/sells-group/deal-pipeline/internal/taxonomy"
)

type stubAdapter struct {
	name    string
	mapping *taxonomy.Mapping
}

func (s stubAdapter) Name() string         { return s.name }
func (s stubAdapter) Order() store.Order   { return store.OrderListingIDAsc }
func (s stubAdapter) Cleanup() PageCleanup { return PageCleanup{} }
func (s stubAdapter) IndexRecords(context.Context) iter.Seq2[IndexRecord, error] {
	return func(func(IndexRecord, error) bool) {}
}
func (s stubAdapter) IsTerminal(*DetailPage) (bool, string)   { return false, "" }
func (s stubAdapter) Extract(*DetailPage) (*Extracted, error) { return &Extracted{}, nil }
func (s stubAdapter) SectorMapping() *taxonomy.Mapping        { return s.mapping }
func (s stubAdapter) RequiresCanonicalID() bool               { return false }

func TestRegistry(t *testing.T) {
	r := NewRegistry()
	r.Register(stubAdapter{name: "mv"})
	r.Register(stubAdapter{name: "bb"})
	r.Register(stubAdapter{name: "mv"})

	all := r.All()
	require.Len(t, all, 2)
	assert.Equal(t, "mv", all[0].Name())
	assert.Equal(t, []string{"bb", "mv"}, r.Names())

	a, err := r.Get("bb")
	require.NoError(t, err)
	assert.Equal(t, "bb", a.Name())

	_, err = r.Get("nope")
	assert.ErrorContains(t, err, "unknown source")

	sel, err := r.Select([]string{"bb"})
	require.NoError(t, err)
	require.Len(t, sel, 1)

	sel, err = r.Select(nil)
	require.NoError(t, err)
	assert.Len(t, sel, 2)
}

func TestNewResolver_UsesAdapterMappings(t *testing.T) {
	m, err := taxonomy.ParseMapping([]byte(`
source: xx
case_insensitive: true
entries:
  Quantum Widgets: {industry: Technology, sector: Software}
`))
	require.NoError(t, err)

	r, err := NewResolver(stubAdapter{name: "xx", mapping: m})
	require.NoError(t, err)
	res, err := r.Resolve("xx", "quantum widgets")
	require.NoError(t, err)
	assert.Equal(t, "Technology", res.Industry)

	_, err = r.Resolve("bb", "Retail")
	assert.Error(t, err, "only the adapters' tables are registered")

	_, err = NewResolver(stubAdapter{name: "yy"})
	assert.ErrorContains(t, err, "has no sector mapping")

	_, err = NewResolver(stubAdapter{name: "yy", mapping: m})
	assert.ErrorContains(t, err, `sector mapping for "xx"`)

	_, err = NewResolver()
	assert.Error(t, err)
}

func TestIndexRecordRow_Trims(t *testing.T) {
	row := IndexRecord{ListingID: " ECA-029 ", URL: "https://example/ECA-029 ", Title: " Online Retailer"}.Row("ec")
	assert.Equal(t, "ec", row.Source)
	assert.Equal(t, "ECA-029", row.SourceListingID)
	assert.Equal(t, "https://example/ECA-029", row.SourceURL)
	assert.Equal(t, "Online Retailer", row.Title)
}

func TestTerminalRules(t *testing.T) {
	rules := TerminalRules{
		SoldSelectors: []string{".ribbon-sold"},
		TitlePhrases:  []string{"listing removed"},
		IndexPaths:    []string{"/businesses-for-sale"},
	}
	tests := []struct {
		name   string
		page   DetailPage
		want   bool
		reason string
	}{
		{"404", DetailPage{StatusCode: 404}, true, LostNotFound},
		{"410", DetailPage{StatusCode: 410}, true, LostGone},
		{"phrase", DetailPage{StatusCode: 200, HTML: "<p>Sorry, this business is no longer available.</p>"}, true, LostUnavailable},
		{"title", DetailPage{StatusCode: 200, HTML: "<title>Listing Removed</title>"}, true, LostUnavailable},
		{"sold ribbon", DetailPage{StatusCode: 200, HTML: `<div class="ribbon-sold">Sold</div>`}, true, LostSoldMarker},
		{"redirect", DetailPage{StatusCode: 200, URL: "https://b.test/l/1", FinalURL: "https://b.test/businesses-for-sale/"}, true, LostRedirToIndex},
		{"live", DetailPage{StatusCode: 200, URL: "https://b.test/l/1", FinalURL: "https://b.test/l/1", HTML: "<h1>Care home</h1>"}, false, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, reason := rules.Evaluate(&tt.page)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.reason, reason)
		})
	}
}

func TestHTTPSession_LoginAndCleanup(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/login", func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "analyst", r.PostForm.Get("email"))
		http.SetCookie(w, &http.Cookie{Name: "sid", Value: "ok", Path: "/"})
	})
	mux.HandleFunc("/listing/1", func(w http.ResponseWriter, r *http.Request) {
		if c, err := r.Cookie("sid"); err != nil || c.Value != "ok" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		_, _ = w.Write([]byte(`<html><body><div id="cookie-banner">Accept</div><h1>Bakery</h1></body></html>`))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	s := NewHTTPSession(fetch.Options{RequestsPerSec: 1000, Backoff: time.Millisecond}, PageCleanup{
		RemoveSelectors: []string{"#cookie-banner"},
		Login: &Login{
			URL: srv.URL + "/login", UsernameField: "email", PasswordField: "password",
			Username: "analyst", Password: "secret",
		},
	})
	defer s.Close() //nolint:errcheck

	page, err := s.FetchDetail(context.Background(), srv.URL+"/listing/1")
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, page.StatusCode)
	assert.Contains(t, page.HTML, "Bakery")
	assert.NotContains(t, page.HTML, "cookie-banner")
	assert.Empty(t, page.PDF)
}
