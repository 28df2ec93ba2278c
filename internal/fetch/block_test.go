package fetch

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDetectBlock(t *testing.T) {
	tests := []struct {
		name   string
		status int
		header http.Header
		body   string
		want   BlockType
	}{
		{"cloudflare ray", 403, http.Header{"Cf-Ray": {"abc"}}, "", BlockCloudflare},
		{"cloudflare server", 503, http.Header{"Server": {"cloudflare"}}, "", BlockCloudflare},
		{"challenge body", 200, http.Header{}, "<p>Checking your browser before accessing</p>", BlockCloudflare},
		{"recaptcha", 200, http.Header{}, `<div class="g-recaptcha"></div>`, BlockCaptcha},
		{"js shell", 200, http.Header{}, "<noscript>Please enable JavaScript</noscript>", BlockJSShell},
		{"normal page", 200, http.Header{}, "<html><h1>Care home for sale</h1></html>", BlockNone},
		{"plain 403", 403, http.Header{}, "forbidden", BlockNone},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := &http.Response{StatusCode: tt.status, Header: tt.header}
			blocked, kind := DetectBlock(resp, []byte(tt.body))
			assert.Equal(t, tt.want != BlockNone, blocked)
			assert.Equal(t, tt.want, kind)
		})
	}
}

func TestDetectBlock_NilResponse(t *testing.T) {
	blocked, _ := DetectBlock(nil, []byte("<html>fine</html>"))
	assert.False(t, blocked)
}

func TestAdaptiveLimiter(t *testing.T) {
	l := NewAdaptiveLimiter(8, 1)
	l.OnRateLimit()
	assert.InDelta(t, 4.0, float64(l.Limit()), 0.001)
	for i := 0; i < 10; i++ {
		l.OnRateLimit()
	}
	assert.InDelta(t, 1.0, float64(l.Limit()), 0.001)
	for i := 0; i < 100; i++ {
		l.OnSuccess()
	}
	assert.InDelta(t, 8.0, float64(l.Limit()), 0.001)
}
