// Package source defines the contract every broker or aggregator adapter
// implements, and the registry the CLI selects adapters from.
package source

import (
	"context"
	"iter"
	"net/http"
	"strings"

	"github.com/sells-group/deal-pipeline/internal/model"
	"github.com/sells-group/deal-pipeline/internal/store"
	"github.com/sells-group/deal-pipeline/internal/taxonomy"
)

// IndexRecord is one listing stub discovered on a source's index pages.
type IndexRecord struct {
	ListingID        string
	URL              string
	Title            string
	SectorRaw        string
	IndustryRaw      string
	LocationRaw      string
	TurnoverRangeRaw string
}

// Row converts the record into a catalog index row for source.
func (r IndexRecord) Row(source string) model.IndexRow {
	return model.IndexRow{
		Source:           source,
		SourceListingID:  strings.TrimSpace(r.ListingID),
		SourceURL:        strings.TrimSpace(r.URL),
		Title:            strings.TrimSpace(r.Title),
		SectorRaw:        strings.TrimSpace(r.SectorRaw),
		IndustryRaw:      strings.TrimSpace(r.IndustryRaw),
		LocationRaw:      strings.TrimSpace(r.LocationRaw),
		TurnoverRangeRaw: strings.TrimSpace(r.TurnoverRangeRaw),
	}
}

// DetailPage is a fetched listing detail page. PDF is the rendered snapshot of
// the cleaned page and may be empty when the session cannot print.
type DetailPage struct {
	URL        string
	FinalURL   string
	StatusCode int
	Header     http.Header
	HTML       string
	PDF        []byte
}

// Extracted holds the fields parsed from a detail page. Money is in thousands
// of pounds and ratios in percentage points.
type Extracted struct {
	Title       string
	Description string
	Location    string
	SectorRaw   string
	IndustryRaw string
	CanonicalID string
	Financials  model.Financials
	// Documents are absolute URLs of attached PDFs such as an information
	// memorandum.
	Documents []string
}

// Login describes a form login performed once per session.
type Login struct {
	URL            string
	UsernameField  string
	PasswordField  string
	SubmitSelector string
	Username       string
	Password       string
}

// PageCleanup tells a session how to prepare a detail page before printing it.
type PageCleanup struct {
	// WaitSelector is awaited after navigation.
	WaitSelector string
	// ClickSelectors are clicked if present, e.g. cookie consent buttons.
	ClickSelectors []string
	// RemoveSelectors are deleted from the DOM: overlays, banners, chat widgets.
	RemoveSelectors []string
	// StripStyles removes fixed/sticky positioning so nothing floats over print.
	StripStyles bool
	Login       *Login
}

// Adapter is implemented once per source. The core never looks past this
// contract into source-specific fields.
type Adapter interface {
	// Name is the stable source key stored in deals.source.
	Name() string
	// Order is the deterministic processing order of the enrichment queue.
	Order() store.Order
	// IndexRecords lazily enumerates listings without visiting detail pages.
	IndexRecords(ctx context.Context) iter.Seq2[IndexRecord, error]
	// Cleanup describes overlay removal and login for detail sessions.
	Cleanup() PageCleanup
	// IsTerminal reports whether the listing is lost or sold, and why.
	IsTerminal(page *DetailPage) (bool, string)
	// Extract parses the detail page. Missing required fields are returned as
	// identity.ContentError.
	Extract(page *DetailPage) (*Extracted, error)
	// SectorMapping is the static table the sector resolver consults.
	SectorMapping() *taxonomy.Mapping
	// RequiresCanonicalID reports whether a detail page without a broker
	// reference must be quarantined.
	RequiresCanonicalID() bool
}

// DocumentFetcher is implemented by adapters that can download the documents
// their detail pages link to.
type DocumentFetcher interface {
	FetchDocument(ctx context.Context, url string) ([]byte, error)
}

// Session fetches detail pages for one source. Sessions hold cookies and a
// browser and are never shared between sources or goroutines.
type Session interface {
	FetchDetail(ctx context.Context, url string) (*DetailPage, error)
	Close() error
}

// SessionFactory opens a session configured for an adapter.
type SessionFactory interface {
	Open(ctx context.Context, a Adapter) (Session, error)
}

// SessionFactoryFunc adapts a function to SessionFactory.
type SessionFactoryFunc func(ctx context.Context, a Adapter) (Session, error)

// Open calls f.
func (f SessionFactoryFunc) Open(ctx context.Context, a Adapter) (Session, error) {
	return f(ctx, a)
}
