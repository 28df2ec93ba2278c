package source

import (
	"net/http"
	"net/url"
	"strings"

	"github.com/sells-group/deal-pipeline/internal/htmlx"
	"github.com/sells-group/deal-pipeline/internal/identity"
)

// Lost reasons recorded by the shared terminal predicate.
const (
	LostNotFound     = "http_404"
	LostGone         = "http_410"
	LostSoldMarker   = "sold"
	LostUnavailable  = identity.ReasonListingUnavailable
	LostRedirToIndex = identity.ReasonRedirectedToIndex
)

// TerminalRules is the declarative part of a source's Lost/Sold predicate.
type TerminalRules struct {
	// Phrases matched case-insensitively anywhere in the page text.
	Phrases []string
	// SoldSelectors are DOM markers (e.g. a "sold" ribbon) that end a listing.
	SoldSelectors []string
	// TitlePhrases are matched against the document title only.
	TitlePhrases []string
	// IndexPaths are URL paths a removed listing redirects to.
	IndexPaths []string
}

// DefaultPhrases covers the wording UK brokers use for withdrawn listings.
var DefaultPhrases = []string{
	"no longer available",
	"this listing has been removed",
	"this business has been sold",
	"listing has expired",
	"is now under offer and no longer",
	"page not found",
}

// Evaluate applies the rules to a page. HTTP 404 and 410 are always terminal.
func (r TerminalRules) Evaluate(page *DetailPage) (bool, string) {
	if page == nil {
		return false, ""
	}
	switch page.StatusCode {
	case http.StatusNotFound:
		return true, LostNotFound
	case http.StatusGone:
		return true, LostGone
	}

	if page.FinalURL != "" && page.FinalURL != page.URL && len(r.IndexPaths) > 0 {
		if u, err := url.Parse(page.FinalURL); err == nil {
			p := strings.TrimSuffix(u.Path, "/")
			for _, ip := range r.IndexPaths {
				if p == strings.TrimSuffix(ip, "/") {
					return true, LostRedirToIndex
				}
			}
		}
	}

	doc, err := htmlx.Parse(page.HTML)
	if err != nil {
		return false, ""
	}
	title := strings.ToLower(htmlx.Title(doc))
	for _, p := range r.TitlePhrases {
		if strings.Contains(title, strings.ToLower(p)) {
			return true, LostUnavailable
		}
	}
	for _, sel := range r.SoldSelectors {
		if htmlx.Find(doc, sel) != nil {
			return true, LostSoldMarker
		}
	}
	text := strings.ToLower(htmlx.Text(doc))
	phrases := r.Phrases
	if phrases == nil {
		phrases = DefaultPhrases
	}
	for _, p := range phrases {
		if strings.Contains(text, strings.ToLower(p)) {
			return true, LostUnavailable
		}
	}
	return false, ""
}
