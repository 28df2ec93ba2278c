// Package sites holds the concrete broker and aggregator adapters.
package sites

import (
	"context"
	"iter"
	"maps"
	"net/url"
	"slices"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/net/html"

	"github.com/sells-group/deal-pipeline/internal/fetch"
	"github.com/sells-group/deal-pipeline/internal/htmlx"
	"github.com/sells-group/deal-pipeline/internal/identity"
	"github.com/sells-group/deal-pipeline/internal/model"
	"github.com/sells-group/deal-pipeline/internal/money"
	"github.com/sells-group/deal-pipeline/internal/source"
	"github.com/sells-group/deal-pipeline/internal/store"
	"github.com/sells-group/deal-pipeline/internal/taxonomy"
)

// Config is the per-source configuration shared by all adapters.
type Config struct {
	BaseURL  string
	MaxPages int
	Username string
	Password string
	Fetch    fetch.Options
}

func (c Config) maxPages() int {
	if c.MaxPages <= 0 {
		return 50
	}
	return c.MaxPages
}

// site carries the parts of an adapter that are pure configuration.
type site struct {
	name    string
	cfg     Config
	client  *fetch.Client
	order   store.Order
	cleanup source.PageCleanup
	rules   source.TerminalRules
}

func newSite(name, defaultBase string, cfg Config, order store.Order) site {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBase
	}
	cfg.BaseURL = strings.TrimSuffix(cfg.BaseURL, "/")
	return site{name: name, cfg: cfg, client: fetch.New(cfg.Fetch), order: order}
}

func (s *site) Name() string                { return s.name }
func (s *site) Order() store.Order          { return s.order }
func (s *site) Cleanup() source.PageCleanup { return s.cleanup }

func (s *site) SectorMapping() *taxonomy.Mapping {
	m, _ := taxonomy.MappingFor(s.name)
	return m
}

func (s *site) IsTerminal(page *source.DetailPage) (bool, string) {
	return s.rules.Evaluate(page)
}

// FetchDocument downloads an attached document with the index client.
func (s *site) FetchDocument(ctx context.Context, rawURL string) ([]byte, error) {
	return s.client.Download(ctx, rawURL)
}

// documents returns the distinct absolute URLs of PDF links under root, which
// may be nil.
func documents(root *html.Node, page *source.DetailPage) []string {
	if root == nil {
		return nil
	}
	base := page.FinalURL
	if base == "" {
		base = page.URL
	}
	var out []string
	seen := make(map[string]struct{})
	for _, href := range htmlx.Links(root, `a[href$=".pdf"], a[href$=".PDF"]`) {
		u := fetch.Resolve(base, href)
		if _, dup := seen[u]; dup {
			continue
		}
		seen[u] = struct{}{}
		out = append(out, u)
	}
	return out
}

func (s *site) url(path string) string {
	return fetch.Resolve(s.cfg.BaseURL+"/", path)
}

// indexPage parses one index page into records and the next page URL.
type indexPage func(doc *html.Node, pageURL string) (records []source.IndexRecord, next string)

// paginate walks index pages from first until a page yields nothing new, has
// no next link, or the page budget is spent.
func (s *site) paginate(ctx context.Context, first string, parse indexPage) iter.Seq2[source.IndexRecord, error] {
	return func(yield func(source.IndexRecord, error) bool) {
		log := zap.L().With(zap.String("component", "index"), zap.String("source", s.name))
		seen := make(map[string]struct{})
		next := first
		for page := 1; next != "" && page <= s.cfg.maxPages(); page++ {
			if err := ctx.Err(); err != nil {
				yield(source.IndexRecord{}, err)
				return
			}
			p, err := s.client.Get(ctx, next)
			if err != nil {
				yield(source.IndexRecord{}, eris.Wrapf(err, "%s: index page %d", s.name, page))
				return
			}
			if p.StatusCode != 200 {
				yield(source.IndexRecord{}, eris.Errorf("%s: index page %d: status %d", s.name, page, p.StatusCode))
				return
			}
			doc, err := htmlx.Parse(p.HTML())
			if err != nil {
				yield(source.IndexRecord{}, eris.Wrapf(err, "%s: parse index page %d", s.name, page))
				return
			}
			records, nextURL := parse(doc, p.FinalURL)
			fresh := 0
			for _, r := range records {
				if r.ListingID == "" {
					continue
				}
				if _, dup := seen[r.ListingID]; dup {
					continue
				}
				seen[r.ListingID] = struct{}{}
				fresh++
				if !yield(r, nil) {
					return
				}
			}
			log.Debug("index page parsed", zap.Int("page", page), zap.Int("listings", len(records)), zap.Int("new", fresh))
			if fresh == 0 {
				return
			}
			if nextURL != "" {
				nextURL = fetch.Resolve(p.FinalURL, nextURL)
			}
			next = nextURL
		}
	}
}

// pageParam returns base with the page query parameter set to n.
func pageParam(base string, key string, n int) string {
	u, err := url.Parse(base)
	if err != nil {
		return ""
	}
	q := u.Query()
	q.Set(key, strconv.Itoa(n))
	u.RawQuery = q.Encode()
	return u.String()
}

// lastSegment returns the final non-empty path segment of a URL.
func lastSegment(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	parts := strings.Split(strings.Trim(u.Path, "/"), "/")
	return parts[len(parts)-1]
}

// facts is a label → value table read from a detail page.
type facts map[string]string

// first returns the value of the first label present.
func (f facts) first(labels ...string) string {
	for _, l := range labels {
		if v, ok := f[l]; ok {
			return v
		}
	}
	return ""
}

// money returns the first present label as thousands of pounds, using a unit
// hint embedded in the label itself ("turnover (£000s)"). An exact label wins
// over unit-suffixed variants, which are tried in sorted order.
func (f facts) money(labels ...string) *float64 {
	var keys []string
	for _, l := range labels {
		if v, ok := f[l]; ok {
			return money.ToThousandsHint(v, money.DetectUnit(l))
		}
		if keys == nil {
			keys = slices.Sorted(maps.Keys(f))
		}
		for _, k := range keys {
			if strings.HasPrefix(k, l+" (") {
				return money.ToThousandsHint(f[k], money.DetectUnit(k))
			}
		}
	}
	return nil
}

func (f facts) percent(labels ...string) *float64 {
	if v := f.first(labels...); v != "" {
		return money.ToPercent(v)
	}
	return nil
}

// financials reads the declared financial track from common UK labels.
func (f facts) financials() model.Financials {
	return model.Financials{
		RevenueK:         f.money("turnover", "revenue", "annual turnover", "sales"),
		EbitdaK:          f.money("ebitda", "adjusted ebitda", "net profit", "profit", "adjusted net profit"),
		AskingPriceK:     f.money("asking price", "price", "guide price"),
		ProfitMarginPct:  f.percent("profit margin", "margin", "ebitda margin"),
		RevenueGrowthPct: f.percent("growth", "revenue growth", "turnover growth"),
		LeveragePct:      f.percent("leverage", "debt"),
	}
}

// checkRequired returns the standard content errors for absent title or description.
func checkRequired(ex *source.Extracted) error {
	if strings.TrimSpace(ex.Title) == "" {
		return identity.NewMissing(identity.ReasonMissingTitle)
	}
	if strings.TrimSpace(ex.Description) == "" {
		return identity.NewMissing(identity.ReasonMissingDescription)
	}
	return nil
}

func parseDetail(page *source.DetailPage) (*html.Node, error) {
	doc, err := htmlx.Parse(page.HTML)
	if err != nil {
		return nil, eris.Wrapf(err, "parse detail %s", page.URL)
	}
	return doc, nil
}
