package sites

import (
	"context"
	"iter"
	"regexp"
	"strings"

	"golang.org/x/net/html"

	"github.com/sells-group/deal-pipeline/internal/htmlx"
	"github.com/sells-group/deal-pipeline/internal/source"
	"github.com/sells-group/deal-pipeline/internal/store"
)

var bbRefRe = regexp.MustCompile(`(?i)\bref(?:erence)?[:\s#]*([0-9]{3,})`)

// BB is a broker whose index cards declare a sector from a fixed dropdown and
// whose listing ids are numeric references.
type BB struct {
	site
}

// NewBB returns the BB adapter.
func NewBB(cfg Config) *BB {
	a := &BB{site: newSite("bb", "https://www.bb-businesses.co.uk", cfg, store.OrderListingIDAsc)}
	a.cleanup = source.PageCleanup{
		WaitSelector:    "h1",
		ClickSelectors:  []string{"#onetrust-accept-btn-handler"},
		RemoveSelectors: []string{"#onetrust-consent-sdk", ".enquiry-sticky", "header.site-header", "footer", ".chat-widget"},
		StripStyles:     true,
	}
	a.rules = source.TerminalRules{
		SoldSelectors: []string{".listing-status--sold", ".sold-banner"},
		TitlePhrases:  []string{"business sold", "listing not found"},
		IndexPaths:    []string{"/businesses-for-sale"},
	}
	return a
}

// IndexRecords walks the search results, newest reference first.
func (a *BB) IndexRecords(ctx context.Context) iter.Seq2[source.IndexRecord, error] {
	first := pageParam(a.url("/businesses-for-sale"), "page", 1)
	return a.paginate(ctx, first, func(doc *html.Node, pageURL string) ([]source.IndexRecord, string) {
		var out []source.IndexRecord
		for _, card := range htmlx.FindAll(doc, ".listing-card") {
			link := htmlx.Find(card, "a.listing-card__title")
			if link == nil {
				continue
			}
			id := htmlx.Attr(card, "data-ref")
			if id == "" {
				id = bbRef(htmlx.Text(card))
			}
			out = append(out, source.IndexRecord{
				ListingID:        id,
				URL:              a.url(htmlx.Attr(link, "href")),
				Title:            htmlx.Text(link),
				SectorRaw:        htmlx.FindText(card, ".listing-card__sector"),
				LocationRaw:      htmlx.FindText(card, ".listing-card__location"),
				TurnoverRangeRaw: htmlx.FindText(card, ".listing-card__turnover"),
			})
		}
		next := ""
		if n := htmlx.Find(doc, `a[rel="next"]`); n != nil {
			next = htmlx.Attr(n, "href")
		}
		return out, next
	})
}

// Extract reads the detail page.
func (a *BB) Extract(page *source.DetailPage) (*source.Extracted, error) {
	doc, err := parseDetail(page)
	if err != nil {
		return nil, err
	}
	f := facts(htmlx.Labeled(htmlx.Find(doc, ".key-facts")))
	ex := &source.Extracted{
		Title:       htmlx.FindText(doc, "h1"),
		Description: htmlx.Paragraphs(htmlx.Find(doc, ".listing-description")),
		Location:    f.first("location", "region"),
		SectorRaw:   f.first("sector", "category"),
		CanonicalID: bbRef(f.first("reference", "ref")),
		Financials:  f.financials(),
		Documents:   documents(htmlx.Find(doc, ".listing-documents"), page),
	}
	if ex.CanonicalID == "" {
		ex.CanonicalID = bbRef(htmlx.FindText(doc, ".listing-ref"))
	}
	return ex, checkRequired(ex)
}

// RequiresCanonicalID is false; the index already carries the reference.
func (a *BB) RequiresCanonicalID() bool { return false }

func bbRef(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}
	if m := bbRefRe.FindStringSubmatch(s); m != nil {
		return m[1]
	}
	if isDigits(s) {
		return s
	}
	return ""
}

func isDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return s != ""
}
