package fetch

import (
	"fmt"
	"net/http"
	"strings"
)

// BlockType describes the kind of anti-bot interstitial detected.
type BlockType string

const (
	BlockNone       BlockType = ""
	BlockCloudflare BlockType = "cloudflare"
	BlockCaptcha    BlockType = "captcha"
	BlockJSShell    BlockType = "js_shell"
)

// BlockedError is returned when a page is an anti-bot challenge rather than
// content. It is not retried by the HTTP client; the browser session may
// wait for a manual unblock instead.
type BlockedError struct {
	URL        string
	Kind       BlockType
	StatusCode int
}

func (e *BlockedError) Error() string {
	return fmt.Sprintf("fetch: blocked by %s at %s (status %d)", e.Kind, e.URL, e.StatusCode)
}

// DetectBlock checks a response for signs of anti-bot protection.
func DetectBlock(resp *http.Response, body []byte) (bool, BlockType) {
	status := 0
	var header http.Header
	if resp != nil {
		status = resp.StatusCode
		header = resp.Header
	}
	return DetectBlockParts(status, header, body)
}

// DetectBlockParts is DetectBlock for callers without an *http.Response, such
// as a rendered browser page.
func DetectBlockParts(status int, header http.Header, body []byte) (bool, BlockType) {
	if (status == http.StatusForbidden || status == http.StatusServiceUnavailable) && header != nil {
		if header.Get("cf-ray") != "" || header.Get("cf-mitigated") != "" ||
			strings.EqualFold(header.Get("server"), "cloudflare") {
			return true, BlockCloudflare
		}
	}

	lower := strings.ToLower(string(body))
	if strings.Contains(lower, "checking your browser") ||
		strings.Contains(lower, "cf-browser-verification") ||
		strings.Contains(lower, "cf-challenge") ||
		strings.Contains(lower, "just a moment...") && strings.Contains(lower, "cloudflare") {
		return true, BlockCloudflare
	}
	if strings.Contains(lower, "g-recaptcha") ||
		strings.Contains(lower, "h-captcha") ||
		strings.Contains(lower, "please complete the captcha") ||
		strings.Contains(lower, "verify you are human") {
		return true, BlockCaptcha
	}

	if len(body) > 0 && len(body) < 2000 {
		if strings.Contains(lower, "<noscript") && strings.Contains(lower, "enable javascript") {
			return true, BlockJSShell
		}
	}
	return false, BlockNone
}
