package sites

import (
	"context"
	"iter"
	"net/url"

	"golang.org/x/net/html"

	"github.com/sells-group/deal-pipeline/internal/htmlx"
	"github.com/sells-group/deal-pipeline/internal/source"
	"github.com/sells-group/deal-pipeline/internal/store"
)

// BFS is an aggregator search. It has no sector dropdown and identifies
// listings only by URL slug, so sectors are inferred from listing text and
// the catalog guards on source_url.
type BFS struct {
	site
	query string
}

// NewBFS returns the BFS adapter. query is the search term used for the
// index, e.g. "uk".
func NewBFS(cfg Config, query string) *BFS {
	a := &BFS{site: newSite("bfs", "https://www.bfs-search.co.uk", cfg, store.OrderLastSeenDesc), query: query}
	a.cleanup = source.PageCleanup{
		WaitSelector:    "main",
		ClickSelectors:  []string{"#accept-cookies", ".cc-allow"},
		RemoveSelectors: []string{".cc-window", ".sticky-header", ".ad-slot", "#similar-listings", ".modal"},
		StripStyles:     true,
	}
	a.rules = source.TerminalRules{
		SoldSelectors: []string{".sold-stamp"},
		TitlePhrases:  []string{"no longer listed", "search results"},
		IndexPaths:    []string{"/search", "/"},
	}
	return a
}

// IndexRecords walks the search result pages.
func (a *BFS) IndexRecords(ctx context.Context) iter.Seq2[source.IndexRecord, error] {
	u := a.url("/search") + "?q=" + url.QueryEscape(a.query)
	return a.paginate(ctx, pageParam(u, "page", 1), func(doc *html.Node, pageURL string) ([]source.IndexRecord, string) {
		var out []source.IndexRecord
		for _, res := range htmlx.FindAll(doc, ".search-result") {
			link := htmlx.Find(res, "a.result-link")
			if link == nil {
				continue
			}
			href := a.url(htmlx.Attr(link, "href"))
			out = append(out, source.IndexRecord{
				ListingID:        lastSegment(href),
				URL:              href,
				Title:            htmlx.Text(link),
				LocationRaw:      htmlx.FindText(res, ".result-location"),
				TurnoverRangeRaw: htmlx.FindText(res, ".result-turnover"),
			})
		}
		next := ""
		if n := htmlx.Find(doc, `link[rel="next"], a.pager-next`); n != nil {
			next = htmlx.Attr(n, "href")
		}
		return out, next
	})
}

// Extract reads the detail page. The aggregator has no reference or sector.
func (a *BFS) Extract(page *source.DetailPage) (*source.Extracted, error) {
	doc, err := parseDetail(page)
	if err != nil {
		return nil, err
	}
	body := htmlx.Find(doc, "main")
	if body == nil {
		body = doc
	}
	f := facts(htmlx.Labeled(body))
	ex := &source.Extracted{
		Title:       htmlx.FindText(body, "h1"),
		Description: htmlx.Paragraphs(htmlx.Find(body, ".listing-body")),
		Location:    f.first("location", "area"),
		Financials:  f.financials(),
		Documents:   documents(htmlx.Find(body, ".attachments"), page),
	}
	return ex, checkRequired(ex)
}

// RequiresCanonicalID is false.
func (a *BFS) RequiresCanonicalID() bool { return false }
