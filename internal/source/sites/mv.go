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

var mvRefRe = regexp.MustCompile(`(?i)\bMV[-\s]?(\d{4,})\b`)

// MV is a members-only marketplace. Index cards link by slug; the broker
// reference appears only on the detail page, so rows are promoted once it is
// found and quarantined when it is not.
type MV struct {
	site
}

// NewMV returns the MV adapter.
func NewMV(cfg Config) *MV {
	a := &MV{site: newSite("mv", "https://www.mv-marketplace.co.uk", cfg, store.OrderLastSeenDesc)}
	a.cleanup = source.PageCleanup{
		WaitSelector:    ".opportunity-detail",
		ClickSelectors:  []string{"button.cookie-accept"},
		RemoveSelectors: []string{".cookie-bar", ".nda-modal", ".modal-backdrop", "nav.top-nav"},
		StripStyles:     true,
	}
	if a.cfg.Username != "" {
		a.cleanup.Login = &source.Login{
			URL:            a.url("/account/login"),
			UsernameField:  "email",
			PasswordField:  "password",
			SubmitSelector: `button[type="submit"]`,
			Username:       a.cfg.Username,
			Password:       a.cfg.Password,
		}
	}
	a.rules = source.TerminalRules{
		SoldSelectors: []string{".badge-completed", ".badge-withdrawn"},
		TitlePhrases:  []string{"opportunity closed"},
		IndexPaths:    []string{"/opportunities", "/account/login"},
	}
	return a
}

// IndexRecords walks the opportunity listing.
func (a *MV) IndexRecords(ctx context.Context) iter.Seq2[source.IndexRecord, error] {
	first := pageParam(a.url("/opportunities"), "p", 1)
	page := 1
	return a.paginate(ctx, first, func(doc *html.Node, pageURL string) ([]source.IndexRecord, string) {
		var out []source.IndexRecord
		for _, card := range htmlx.FindAll(doc, "article.opportunity") {
			link := htmlx.Find(card, "a.opportunity__link")
			if link == nil {
				continue
			}
			href := a.url(htmlx.Attr(link, "href"))
			id := mvRef(htmlx.Attr(card, "data-ref"))
			if id == "" {
				id = lastSegment(href)
			}
			out = append(out, source.IndexRecord{
				ListingID:        id,
				URL:              href,
				Title:            htmlx.Text(link),
				SectorRaw:        htmlx.FindText(card, ".opportunity__sector"),
				LocationRaw:      htmlx.FindText(card, ".opportunity__region"),
				TurnoverRangeRaw: htmlx.FindText(card, ".opportunity__turnover"),
			})
		}
		page++
		if len(out) == 0 {
			return out, ""
		}
		return out, pageParam(pageURL, "p", page)
	})
}

// Extract reads the detail page. The financial table headers carry the unit.
func (a *MV) Extract(page *source.DetailPage) (*source.Extracted, error) {
	doc, err := parseDetail(page)
	if err != nil {
		return nil, err
	}
	root := htmlx.Find(doc, ".opportunity-detail")
	if root == nil {
		root = doc
	}
	f := facts(htmlx.Labeled(root))
	ex := &source.Extracted{
		Title:       htmlx.FindText(root, "h1"),
		Description: htmlx.Paragraphs(htmlx.Find(root, ".opportunity-summary")),
		Location:    f.first("region", "location"),
		SectorRaw:   f.first("sector"),
		CanonicalID: mvRef(f.first("reference", "mv reference", "ref")),
		Financials:  f.financials(),
	}
	if ex.CanonicalID == "" {
		ex.CanonicalID = mvRef(htmlx.Text(root))
	}
	return ex, checkRequired(ex)
}

// RequiresCanonicalID is true: slugs are reused across relistings.
func (a *MV) RequiresCanonicalID() bool { return true }

func mvRef(s string) string {
	if m := mvRefRe.FindStringSubmatch(strings.TrimSpace(s)); m != nil {
		return "MV" + m[1]
	}
	return ""
}
