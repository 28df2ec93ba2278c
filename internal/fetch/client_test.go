package fetch

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testClient() *Client {
	return New(Options{Retries: 3, RequestsPerSec: 1000, Backoff: time.Millisecond, Timeout: 5 * time.Second})
}

func TestGet_ReturnsPage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Contains(t, r.Header.Get("User-Agent"), "DealPipeline")
		_, _ = w.Write([]byte("<html><title>Listing</title></html>"))
	}))
	defer srv.Close()

	p, err := testClient().Get(context.Background(), srv.URL+"/listing/1")
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, p.StatusCode)
	assert.Contains(t, p.HTML(), "<title>Listing</title>")
	assert.Equal(t, srv.URL+"/listing/1", p.FinalURL)
}

func TestGet_GoneIsAPageNotAnError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusGone)
	}))
	defer srv.Close()

	p, err := testClient().Get(context.Background(), srv.URL)
	require.NoError(t, err)
	assert.Equal(t, http.StatusGone, p.StatusCode)
}

func TestGet_RetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_, _ = w.Write([]byte("ok"))
	}))
	defer srv.Close()

	p, err := testClient().Get(context.Background(), srv.URL)
	require.NoError(t, err)
	assert.Equal(t, "ok", p.HTML())
	assert.Equal(t, int32(3), calls.Load())
}

func TestGet_ExhaustedRetriesFail(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	_, err := testClient().Get(context.Background(), srv.URL)
	require.Error(t, err)
	assert.Equal(t, int32(3), calls.Load())
}

func TestGet_BlockedIsNotRetried(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.Header().Set("cf-ray", "abc")
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	_, err := testClient().Get(context.Background(), srv.URL)
	var be *BlockedError
	require.True(t, errors.As(err, &be))
	assert.Equal(t, BlockCloudflare, be.Kind)
	assert.Equal(t, int32(1), calls.Load())
}

func TestPostForm_KeepsCookies(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/login", func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "analyst", r.PostForm.Get("username"))
		http.SetCookie(w, &http.Cookie{Name: "session", Value: "s1", Path: "/"})
	})
	mux.HandleFunc("/private", func(w http.ResponseWriter, r *http.Request) {
		c, err := r.Cookie("session")
		if err != nil || c.Value != "s1" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		_, _ = w.Write([]byte("members only"))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	c := testClient()
	_, err := c.PostForm(context.Background(), srv.URL+"/login", url.Values{"username": {"analyst"}})
	require.NoError(t, err)

	p, err := c.Get(context.Background(), srv.URL+"/private")
	require.NoError(t, err)
	assert.Equal(t, "members only", p.HTML())
}

func TestDownload_RequiresOK(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	_, err := testClient().Download(context.Background(), srv.URL)
	assert.Error(t, err)
}

func TestResolve(t *testing.T) {
	assert.Equal(t, "https://broker.test/listing/7", Resolve("https://broker.test/search?page=2", "/listing/7"))
	assert.Equal(t, "https://other.test/x", Resolve("https://broker.test/", "https://other.test/x"))
}
