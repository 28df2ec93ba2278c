// Package browser drives a headless Chrome through chromedp to render listing
// detail pages, strip overlays and print them to PDF.
package browser

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/deal-pipeline/internal/fetch"
	"github.com/sells-group/deal-pipeline/internal/source"
)

// Options configures Chrome sessions.
type Options struct {
	Headless    bool
	Timeout     time.Duration
	UnblockWait time.Duration
	ExecPath    string
	UserAgent   string
	// PollInterval is how often a visible session rechecks a challenge page.
	PollInterval time.Duration
}

func (o Options) withDefaults() Options {
	if o.Timeout <= 0 {
		o.Timeout = 45 * time.Second
	}
	if o.UnblockWait <= 0 {
		o.UnblockWait = 5 * time.Minute
	}
	if o.PollInterval <= 0 {
		o.PollInterval = 5 * time.Second
	}
	return o
}

// Factory opens one Chrome per session.
type Factory struct {
	Opts Options
}

// Open starts Chrome for adapter a.
func (f Factory) Open(ctx context.Context, a source.Adapter) (source.Session, error) {
	return New(ctx, f.Opts, a.Cleanup())
}

// Session is a single Chrome instance with one tab. It is not safe for
// concurrent use.
type Session struct {
	opts    Options
	cleanup source.PageCleanup

	ctx           context.Context
	allocCancel   context.CancelFunc
	browserCancel context.CancelFunc

	mu       sync.Mutex
	status   int
	header   http.Header
	loggedIn bool
	closed   bool
}

// New launches Chrome. The browser lives until Close, independent of ctx
// cancellation after launch.
func New(ctx context.Context, opts Options, cleanup source.PageCleanup) (*Session, error) {
	opts = opts.withDefaults()
	allocOpts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", opts.Headless),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("no-sandbox", true),
		chromedp.Flag("disable-dev-shm-usage", true),
	)
	if opts.ExecPath != "" {
		allocOpts = append(allocOpts, chromedp.ExecPath(opts.ExecPath))
	}
	if opts.UserAgent != "" {
		allocOpts = append(allocOpts, chromedp.UserAgent(opts.UserAgent))
	}

	allocCtx, allocCancel := chromedp.NewExecAllocator(context.WithoutCancel(ctx), allocOpts...)
	browserCtx, browserCancel := chromedp.NewContext(allocCtx)

	s := &Session{
		opts:          opts,
		cleanup:       cleanup,
		ctx:           browserCtx,
		allocCancel:   allocCancel,
		browserCancel: browserCancel,
	}

	chromedp.ListenTarget(browserCtx, func(ev any) {
		if e, ok := ev.(*network.EventResponseReceived); ok && e.Type == network.ResourceTypeDocument {
			s.mu.Lock()
			s.status = int(e.Response.Status)
			s.header = http.Header{}
			for k, v := range e.Response.Headers {
				if str, ok := v.(string); ok {
					s.header.Set(k, str)
				}
			}
			s.mu.Unlock()
		}
	})

	if err := chromedp.Run(browserCtx, network.Enable()); err != nil {
		s.Close() //nolint:errcheck
		return nil, eris.Wrap(err, "browser: start chrome")
	}
	zap.L().Debug("browser session started", zap.Bool("headless", opts.Headless))
	return s, nil
}

// call runs actions under the per-call timeout, also honoring ctx.
func (s *Session) call(ctx context.Context, timeout time.Duration, actions ...chromedp.Action) error {
	tctx, cancel := context.WithTimeout(s.ctx, timeout)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()
	return chromedp.Run(tctx, actions...)
}

// FetchDetail navigates to url, waits out a challenge page when running
// visibly, removes overlays and prints the page.
func (s *Session) FetchDetail(ctx context.Context, url string) (*source.DetailPage, error) {
	if err := s.login(ctx); err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.status, s.header = 0, nil
	s.mu.Unlock()

	if err := s.call(ctx, s.opts.Timeout, chromedp.Navigate(url)); err != nil {
		return nil, eris.Wrapf(err, "browser: navigate %s", url)
	}
	if s.cleanup.WaitSelector != "" {
		// Removed listings often lack the selector; a miss is not fatal.
		_ = s.call(ctx, s.opts.Timeout/3, chromedp.WaitReady(s.cleanup.WaitSelector, chromedp.ByQuery))
	}

	html, err := s.outerHTML(ctx)
	if err != nil {
		return nil, err
	}
	if html, err = s.awaitUnblock(ctx, url, html); err != nil {
		return nil, err
	}

	if err := s.call(ctx, s.opts.Timeout, s.cleanupActions()...); err != nil {
		return nil, eris.Wrapf(err, "browser: clean %s", url)
	}
	if html, err = s.outerHTML(ctx); err != nil {
		return nil, err
	}

	var finalURL string
	var pdf []byte
	err = s.call(ctx, s.opts.Timeout,
		chromedp.Location(&finalURL),
		chromedp.ActionFunc(func(ctx context.Context) error {
			buf, _, err := page.PrintToPDF().
				WithPrintBackground(true).
				WithPreferCSSPageSize(true).
				Do(ctx)
			pdf = buf
			return err
		}),
	)
	if err != nil {
		return nil, eris.Wrapf(err, "browser: print %s", url)
	}

	s.mu.Lock()
	status, header := s.status, s.header
	s.mu.Unlock()
	if status == 0 {
		status = http.StatusOK
	}
	return &source.DetailPage{
		URL:        url,
		FinalURL:   finalURL,
		StatusCode: status,
		Header:     header,
		HTML:       html,
		PDF:        pdf,
	}, nil
}

func (s *Session) outerHTML(ctx context.Context) (string, error) {
	var html string
	if err := s.call(ctx, s.opts.Timeout, chromedp.OuterHTML("html", &html, chromedp.ByQuery)); err != nil {
		return "", eris.Wrap(err, "browser: read document")
	}
	return html, nil
}

// awaitUnblock polls a challenge page until a human clears it in the visible
// browser. Headless sessions report the block immediately.
func (s *Session) awaitUnblock(ctx context.Context, url, html string) (string, error) {
	blocked, kind := fetch.DetectBlockParts(s.currentStatus(), nil, []byte(html))
	if !blocked {
		return html, nil
	}
	if s.opts.Headless {
		return "", &fetch.BlockedError{URL: url, Kind: kind, StatusCode: s.currentStatus()}
	}

	zap.L().Warn("challenge page detected; waiting for manual unblock",
		zap.String("url", url),
		zap.String("kind", string(kind)),
		zap.Duration("max_wait", s.opts.UnblockWait),
	)
	deadline := time.Now().Add(s.opts.UnblockWait)
	ticker := time.NewTicker(s.opts.PollInterval)
	defer ticker.Stop()
	for time.Now().Before(deadline) {
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-ticker.C:
		}
		next, err := s.outerHTML(ctx)
		if err != nil {
			return "", err
		}
		if blocked, _ = fetch.DetectBlockParts(0, nil, []byte(next)); !blocked {
			zap.L().Info("challenge cleared", zap.String("url", url))
			return next, nil
		}
	}
	return "", &fetch.BlockedError{URL: url, Kind: kind, StatusCode: s.currentStatus()}
}

func (s *Session) currentStatus() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// cleanupActions clicks consent buttons and removes overlays. Missing nodes
// are ignored.
func (s *Session) cleanupActions() []chromedp.Action {
	script := CleanupScript(s.cleanup)
	if script == "" {
		return []chromedp.Action{chromedp.Sleep(0)}
	}
	var ignored any
	return []chromedp.Action{chromedp.Evaluate(script, &ignored)}
}

// CleanupScript builds the in-page script for a page cleanup.
func CleanupScript(c source.PageCleanup) string {
	if len(c.ClickSelectors) == 0 && len(c.RemoveSelectors) == 0 && !c.StripStyles {
		return ""
	}
	clicks, _ := json.Marshal(nonNil(c.ClickSelectors))
	removes, _ := json.Marshal(nonNil(c.RemoveSelectors))
	strip := "false"
	if c.StripStyles {
		strip = "true"
	}
	return `(() => {
	for (const sel of ` + string(clicks) + `) {
		const el = document.querySelector(sel);
		if (el) { el.click(); }
	}
	for (const sel of ` + string(removes) + `) {
		document.querySelectorAll(sel).forEach(el => el.remove());
	}
	if (` + strip + `) {
		document.querySelectorAll('*').forEach(el => {
			const pos = getComputedStyle(el).position;
			if (pos === 'fixed' || pos === 'sticky') { el.style.position = 'static'; }
		});
		document.documentElement.style.overflow = 'visible';
		document.body.style.overflow = 'visible';
	}
	return true;
})()`
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

func (s *Session) login(ctx context.Context) error {
	l := s.cleanup.Login
	if s.loggedIn || l == nil || l.Username == "" {
		return nil
	}
	submit := l.SubmitSelector
	if submit == "" {
		submit = `button[type="submit"]`
	}
	err := s.call(ctx, s.opts.Timeout,
		chromedp.Navigate(l.URL),
		chromedp.WaitVisible(`[name="`+l.UsernameField+`"]`, chromedp.ByQuery),
		chromedp.SendKeys(`[name="`+l.UsernameField+`"]`, l.Username, chromedp.ByQuery),
		chromedp.SendKeys(`[name="`+l.PasswordField+`"]`, l.Password, chromedp.ByQuery),
		chromedp.Click(submit, chromedp.ByQuery),
		chromedp.Sleep(2*time.Second),
	)
	if err != nil {
		return eris.Wrap(err, "browser: login")
	}
	s.loggedIn = true
	zap.L().Info("browser session logged in", zap.String("url", l.URL))
	return nil
}

// Close shuts Chrome down. It is safe to call more than once.
func (s *Session) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	err := chromedp.Cancel(s.ctx)
	s.browserCancel()
	s.allocCancel()
	if err != nil && !errors.Is(err, context.Canceled) {
		return eris.Wrap(err, "browser: close")
	}
	return nil
}
