package source

import (
	"context"
	"net/url"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/deal-pipeline/internal/fetch"
	"github.com/sells-group/deal-pipeline/internal/htmlx"
)

// HTTPSession fetches detail pages over plain HTTP. It cannot print, so pages
// carry no PDF; it serves dry runs and sources whose pages need no rendering.
type HTTPSession struct {
	client   *fetch.Client
	cleanup  PageCleanup
	loggedIn bool
}

// NewHTTPSession returns a session over its own cookie-keeping client.
func NewHTTPSession(opts fetch.Options, cleanup PageCleanup) *HTTPSession {
	return &HTTPSession{client: fetch.New(opts), cleanup: cleanup}
}

// HTTPSessionFactory opens HTTPSessions with shared fetch options.
func HTTPSessionFactory(opts fetch.Options) SessionFactory {
	return SessionFactoryFunc(func(_ context.Context, a Adapter) (Session, error) {
		return NewHTTPSession(opts, a.Cleanup()), nil
	})
}

// FetchDetail logs in on first use, fetches url and strips overlay nodes.
func (s *HTTPSession) FetchDetail(ctx context.Context, rawURL string) (*DetailPage, error) {
	if err := s.login(ctx); err != nil {
		return nil, err
	}
	p, err := s.client.Get(ctx, rawURL)
	if err != nil {
		return nil, err
	}
	body := p.HTML()
	if len(s.cleanup.RemoveSelectors) > 0 {
		if doc, err := htmlx.Parse(body); err == nil {
			for _, sel := range s.cleanup.RemoveSelectors {
				htmlx.Remove(doc, sel)
			}
			body = htmlx.Render(doc)
		}
	}
	return &DetailPage{
		URL:        rawURL,
		FinalURL:   p.FinalURL,
		StatusCode: p.StatusCode,
		Header:     p.Header,
		HTML:       body,
	}, nil
}

func (s *HTTPSession) login(ctx context.Context) error {
	l := s.cleanup.Login
	if s.loggedIn || l == nil || l.Username == "" {
		return nil
	}
	form := url.Values{}
	form.Set(l.UsernameField, l.Username)
	form.Set(l.PasswordField, l.Password)
	p, err := s.client.PostForm(ctx, l.URL, form)
	if err != nil {
		return eris.Wrap(err, "source: login")
	}
	if p.StatusCode >= 400 {
		return eris.Errorf("source: login rejected with status %d", p.StatusCode)
	}
	s.loggedIn = true
	zap.L().Debug("http session logged in", zap.String("url", l.URL))
	return nil
}

// Close is a no-op; the cookie jar is dropped with the session.
func (s *HTTPSession) Close() error {
	return nil
}
