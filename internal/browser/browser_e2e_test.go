//go:build e2e

package browser

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/deal-pipeline/internal/source"
)

func TestSession_PrintsCleanedPage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`<html><body>
			<div id="cookie-wall" style="position:fixed">We use cookies</div>
			<h1>Care Home in Kent</h1><p>Twenty beds.</p>
		</body></html>`))
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	s, err := New(ctx, Options{Headless: true}, source.PageCleanup{
		WaitSelector:    "h1",
		RemoveSelectors: []string{"#cookie-wall"},
		StripStyles:     true,
	})
	require.NoError(t, err)
	defer s.Close() //nolint:errcheck

	page, err := s.FetchDetail(ctx, srv.URL)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, page.StatusCode)
	assert.Contains(t, page.HTML, "Care Home in Kent")
	assert.NotContains(t, page.HTML, "We use cookies")
	assert.True(t, len(page.PDF) > 1000)
	assert.Equal(t, "%PDF", string(page.PDF[:4]))
}
