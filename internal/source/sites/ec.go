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

var ecRefRe = regexp.MustCompile(`\b(EC[A-Z])[-\s]?(\d{2,})\b`)

// EC lists references whose prefix encodes the sector (ECA-029 is e-commerce),
// so index rows are classified without a sector label.
type EC struct {
	site
}

// NewEC returns the EC adapter.
func NewEC(cfg Config) *EC {
	a := &EC{site: newSite("ec", "https://www.ec-corporate.co.uk", cfg, store.OrderListingIDAsc)}
	a.cleanup = source.PageCleanup{
		WaitSelector:    "#listing",
		RemoveSelectors: []string{"#cookie-notice", ".newsletter-popup", "header", "footer"},
		StripStyles:     true,
	}
	a.rules = source.TerminalRules{
		SoldSelectors: []string{".status-sold", ".status-completed"},
		IndexPaths:    []string{"/current-opportunities"},
	}
	return a
}

// IndexRecords reads the single opportunities table, which may be split
// across numbered pages.
func (a *EC) IndexRecords(ctx context.Context) iter.Seq2[source.IndexRecord, error] {
	return a.paginate(ctx, a.url("/current-opportunities"), func(doc *html.Node, pageURL string) ([]source.IndexRecord, string) {
		var out []source.IndexRecord
		for _, tr := range htmlx.FindAll(doc, "table.opportunities tbody tr") {
			link := htmlx.Find(tr, "a")
			if link == nil {
				continue
			}
			out = append(out, source.IndexRecord{
				ListingID:        ecRef(htmlx.FindText(tr, "td.ref")),
				URL:              a.url(htmlx.Attr(link, "href")),
				Title:            htmlx.Text(link),
				SectorRaw:        htmlx.FindText(tr, "td.sector"),
				LocationRaw:      htmlx.FindText(tr, "td.location"),
				TurnoverRangeRaw: htmlx.FindText(tr, "td.turnover"),
			})
		}
		next := ""
		if n := htmlx.Find(doc, ".pagination a.next"); n != nil {
			next = htmlx.Attr(n, "href")
		}
		return out, next
	})
}

// Extract reads the detail page.
func (a *EC) Extract(page *source.DetailPage) (*source.Extracted, error) {
	doc, err := parseDetail(page)
	if err != nil {
		return nil, err
	}
	root := htmlx.Find(doc, "#listing")
	if root == nil {
		root = doc
	}
	f := facts(htmlx.Labeled(root))
	ex := &source.Extracted{
		Title:       htmlx.FindText(root, "h1"),
		Description: htmlx.Paragraphs(htmlx.Find(root, ".overview")),
		Location:    f.first("location"),
		SectorRaw:   f.first("sector"),
		CanonicalID: ecRef(f.first("reference", "ref")),
		Financials:  f.financials(),
	}
	return ex, checkRequired(ex)
}

// RequiresCanonicalID is false; the reference is the listing id.
func (a *EC) RequiresCanonicalID() bool { return false }

func ecRef(s string) string {
	if m := ecRefRe.FindStringSubmatch(strings.ToUpper(strings.TrimSpace(s))); m != nil {
		return m[1] + "-" + m[2]
	}
	return ""
}
