// Package notion wraps the Notion API for the weekly report database.
package notion

import (
	"context"

	"github.com/jomei/notionapi"
	"github.com/rotisserie/eris"
	"golang.org/x/time/rate"
)

// DefaultRPS is Notion's documented average request budget per integration.
const DefaultRPS = 3

// Client is the subset of the Notion API the report sink needs.
type Client interface {
	QueryDatabase(ctx context.Context, dbID string, req *notionapi.DatabaseQueryRequest) (*notionapi.DatabaseQueryResponse, error)
	CreatePage(ctx context.Context, req *notionapi.PageCreateRequest) (*notionapi.Page, error)
	UpdatePage(ctx context.Context, pageID string, req *notionapi.PageUpdateRequest) (*notionapi.Page, error)
}

// ClientOption configures NewClient.
type ClientOption func(*throttled)

// WithRateLimit replaces DefaultRPS. Zero or less turns throttling off.
func WithRateLimit(rps float64) ClientOption {
	return func(t *throttled) {
		t.limiter = nil
		if rps > 0 {
			t.limiter = rate.NewLimiter(rate.Limit(rps), max(int(rps), 1))
		}
	}
}

// throttled puts every call behind a shared token bucket.
type throttled struct {
	api     *notionapi.Client
	limiter *rate.Limiter
}

// NewClient returns a Client for an integration token.
func NewClient(token string, opts ...ClientOption) Client {
	t := &throttled{
		api:     notionapi.NewClient(notionapi.Token(token)),
		limiter: rate.NewLimiter(DefaultRPS, 1),
	}
	for _, o := range opts {
		o(t)
	}
	return t
}

// call waits for a token, runs fn and prefixes any failure with action.
func call[T any](ctx context.Context, t *throttled, action string, fn func() (T, error)) (T, error) {
	var zero T
	if t.limiter != nil {
		if err := t.limiter.Wait(ctx); err != nil {
			return zero, eris.Wrap(err, "notion: rate limit")
		}
	}
	v, err := fn()
	if err != nil {
		return zero, eris.Wrap(err, "notion: "+action)
	}
	return v, nil
}

func (t *throttled) QueryDatabase(ctx context.Context, dbID string, req *notionapi.DatabaseQueryRequest) (*notionapi.DatabaseQueryResponse, error) {
	return call(ctx, t, "query database "+dbID, func() (*notionapi.DatabaseQueryResponse, error) {
		return t.api.Database.Query(ctx, notionapi.DatabaseID(dbID), req)
	})
}

func (t *throttled) CreatePage(ctx context.Context, req *notionapi.PageCreateRequest) (*notionapi.Page, error) {
	return call(ctx, t, "create page", func() (*notionapi.Page, error) {
		return t.api.Page.Create(ctx, req)
	})
}

func (t *throttled) UpdatePage(ctx context.Context, pageID string, req *notionapi.PageUpdateRequest) (*notionapi.Page, error) {
	return call(ctx, t, "update page "+pageID, func() (*notionapi.Page, error) {
		return t.api.Page.Update(ctx, notionapi.PageID(pageID), req)
	})
}
