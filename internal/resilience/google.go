package resilience

import (
	"errors"
	"net/http"

	"google.golang.org/api/googleapi"
)

// quotaReasons are the 403 reasons Google APIs use for rate limiting.
var quotaReasons = map[string]bool{
	"rateLimitExceeded":     true,
	"userRateLimitExceeded": true,
	"quotaExceeded":         true,
	"backendError":          true,
}

// FromGoogle marks quota and server errors from a Google API call as
// transient. Other errors are returned unchanged.
func FromGoogle(err error) error {
	if err == nil {
		return nil
	}
	var gerr *googleapi.Error
	if !errors.As(err, &gerr) {
		return err
	}
	if IsTransientHTTPStatus(gerr.Code) {
		te := NewTransientError(err, gerr.Code)
		te.RetryAfter = ParseRetryAfter(gerr.Header.Get("Retry-After"))
		return te
	}
	if gerr.Code == http.StatusForbidden {
		for _, e := range gerr.Errors {
			if quotaReasons[e.Reason] {
				return NewTransientError(err, gerr.Code)
			}
		}
	}
	return err
}
