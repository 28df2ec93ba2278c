// Package fetch retrieves broker pages over plain HTTP with per-host rate
// limiting, bounded retries and anti-bot block detection.
package fetch

import (
	"context"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/sells-group/deal-pipeline/internal/resilience"
)

// maxBody bounds a single page read.
const maxBody = 8 << 20

// Page is one fetched document.
type Page struct {
	URL        string
	FinalURL   string
	StatusCode int
	Header     http.Header
	Body       []byte
}

// HTML returns the body as a string.
func (p *Page) HTML() string {
	return string(p.Body)
}

// Options configures a Client.
type Options struct {
	UserAgent      string
	Timeout        time.Duration
	Retries        int
	RequestsPerSec float64
	// Backoff overrides the initial retry delay.
	Backoff time.Duration
}

// Client fetches pages for a single source session. It keeps a cookie jar so
// a login survives across requests.
type Client struct {
	http     *http.Client
	opts     Options
	mu       sync.Mutex
	limiters map[string]*AdaptiveLimiter
}

// New creates a Client with its own cookie jar.
func New(opts Options) *Client {
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	if opts.Retries <= 0 {
		opts.Retries = 3
	}
	if opts.RequestsPerSec <= 0 {
		opts.RequestsPerSec = 1
	}
	if opts.UserAgent == "" {
		opts.UserAgent = "Mozilla/5.0 (compatible; DealPipeline/1.0)"
	}
	jar, _ := cookiejar.New(nil)
	return &Client{
		http: &http.Client{
			Timeout: opts.Timeout,
			Jar:     jar,
			Transport: &http.Transport{
				MaxIdleConnsPerHost: 4,
				IdleConnTimeout:     90 * time.Second,
				TLSHandshakeTimeout: 10 * time.Second,
			},
		},
		opts:     opts,
		limiters: make(map[string]*AdaptiveLimiter),
	}
}

func (c *Client) limiterFor(host string) *AdaptiveLimiter {
	c.mu.Lock()
	defer c.mu.Unlock()
	lim, ok := c.limiters[host]
	if !ok {
		lim = NewAdaptiveLimiter(rate.Limit(c.opts.RequestsPerSec), 1)
		c.limiters[host] = lim
	}
	return lim
}

// Get fetches rawURL. Client errors such as 404 and 410 are returned as a Page
// so callers can apply terminal detection; 408/429/5xx are retried.
func (c *Client) Get(ctx context.Context, rawURL string) (*Page, error) {
	return c.do(ctx, http.MethodGet, rawURL, nil, "")
}

// PostForm submits a form, typically a login.
func (c *Client) PostForm(ctx context.Context, rawURL string, form url.Values) (*Page, error) {
	return c.do(ctx, http.MethodPost, rawURL, form, "application/x-www-form-urlencoded")
}

func (c *Client) do(ctx context.Context, method, rawURL string, form url.Values, contentType string) (*Page, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, eris.Wrapf(err, "fetch: parse url %s", rawURL)
	}
	lim := c.limiterFor(u.Host)
	policy := resilience.DefaultPolicy().WithAttempts(c.opts.Retries).Logged("fetch", method+" "+u.Host)
	if c.opts.Backoff > 0 {
		policy.InitialBackoff = c.opts.Backoff
		policy.MaxBackoff = 10 * c.opts.Backoff
	}

	return resilience.DoVal(ctx, policy, func(ctx context.Context) (*Page, error) {
		if err := lim.Wait(ctx); err != nil {
			return nil, eris.Wrap(err, "fetch: rate limiter wait")
		}

		var body io.Reader
		if form != nil {
			body = strings.NewReader(form.Encode())
		}
		req, err := http.NewRequestWithContext(ctx, method, rawURL, body)
		if err != nil {
			return nil, eris.Wrap(err, "fetch: create request")
		}
		req.Header.Set("User-Agent", c.opts.UserAgent)
		req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
		req.Header.Set("Accept-Language", "en-GB,en;q=0.9")
		if contentType != "" {
			req.Header.Set("Content-Type", contentType)
		}

		resp, err := c.http.Do(req)
		if err != nil {
			return nil, eris.Wrapf(err, "fetch: %s %s", method, rawURL)
		}
		defer func() { _ = resp.Body.Close() }()

		data, err := io.ReadAll(io.LimitReader(resp.Body, maxBody))
		if err != nil {
			return nil, resilience.NewTransientError(eris.Wrap(err, "fetch: read body"), resp.StatusCode)
		}

		if resp.StatusCode == http.StatusTooManyRequests {
			lim.OnRateLimit()
		}
		if resilience.IsTransientHTTPStatus(resp.StatusCode) {
			if blocked, kind := DetectBlock(resp, data); blocked {
				return nil, &BlockedError{URL: rawURL, Kind: kind, StatusCode: resp.StatusCode}
			}
			return nil, resilience.FromResponse(eris.Errorf("fetch: status %d from %s", resp.StatusCode, rawURL), resp)
		}
		if blocked, kind := DetectBlock(resp, data); blocked {
			return nil, &BlockedError{URL: rawURL, Kind: kind, StatusCode: resp.StatusCode}
		}
		lim.OnSuccess()

		zap.L().Debug("fetched page",
			zap.String("url", rawURL),
			zap.Int("status", resp.StatusCode),
			zap.Int("bytes", len(data)),
		)
		return &Page{
			URL:        rawURL,
			FinalURL:   resp.Request.URL.String(),
			StatusCode: resp.StatusCode,
			Header:     resp.Header,
			Body:       data,
		}, nil
	})
}

// Download fetches a binary such as an attached information memorandum.
func (c *Client) Download(ctx context.Context, rawURL string) ([]byte, error) {
	p, err := c.Get(ctx, rawURL)
	if err != nil {
		return nil, err
	}
	if p.StatusCode != http.StatusOK {
		return nil, eris.Errorf("fetch: download %s: status %d", rawURL, p.StatusCode)
	}
	return p.Body, nil
}

// Resolve makes ref absolute against base. Invalid refs are returned as-is.
func Resolve(base, ref string) string {
	b, err := url.Parse(base)
	if err != nil {
		return ref
	}
	r, err := url.Parse(strings.TrimSpace(ref))
	if err != nil {
		return ref
	}
	return b.ResolveReference(r).String()
}
