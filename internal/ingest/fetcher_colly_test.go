package ingest

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestFetcher(t *testing.T, cfg CollyFetcherConfig) *CollyFetcher {
	t.Helper()
	if cfg.UserAgent == "" {
		cfg.UserAgent = "lawnet-ingest-test"
	}
	if cfg.RequestTimeout == 0 {
		cfg.RequestTimeout = 5 * time.Second
	}
	f, err := NewCollyFetcher(cfg, zap.NewNop())
	require.NoError(t, err)
	return f
}

func TestCollyFetcherSuccess(t *testing.T) {
	t.Parallel()

	const body = "<html><body><div class=\"judgment\">text</div></body></html>"
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "lawnet-ingest-test", r.Header.Get("User-Agent"))
		w.Write([]byte(body))
	}))
	defer srv.Close()

	f := newTestFetcher(t, CollyFetcherConfig{})
	page, err := f.Fetch(context.Background(), srv.URL+"/citation/[2026]+SGHC+21")
	require.NoError(t, err)

	assert.Equal(t, http.StatusOK, page.StatusCode)
	assert.Equal(t, body, string(page.Body))
	assert.Contains(t, page.URL, "/citation/")
	assert.False(t, page.Rendered)
	assert.Positive(t, page.Duration)
}

func TestCollyFetcherStatusMapping(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		status    int
		wantKind  FetchErrorKind
		transient bool
	}{
		{name: "not found", status: http.StatusNotFound, wantKind: FetchNotFound},
		{name: "gone", status: http.StatusGone, wantKind: FetchNotFound},
		{name: "forbidden", status: http.StatusForbidden, wantKind: FetchForbidden},
		{name: "unauthorized", status: http.StatusUnauthorized, wantKind: FetchForbidden},
		{name: "rate limited", status: http.StatusTooManyRequests, wantKind: FetchUnreachable, transient: true},
		{name: "server error", status: http.StatusInternalServerError, wantKind: FetchUnreachable, transient: true},
		{name: "bad gateway", status: http.StatusBadGateway, wantKind: FetchUnreachable, transient: true},
		{name: "other client error", status: http.StatusTeapot, wantKind: FetchNotFound},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
			}))
			defer srv.Close()

			f := newTestFetcher(t, CollyFetcherConfig{})
			_, err := f.Fetch(context.Background(), srv.URL)

			var fe *FetchError
			require.True(t, errors.As(err, &fe))
			assert.Equal(t, tt.wantKind, fe.Kind)
			assert.Equal(t, tt.status, fe.StatusCode)
			assert.Equal(t, tt.transient, fe.Transient())
		})
	}
}

func TestCollyFetcherConnectionRefused(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := srv.URL
	srv.Close()

	f := newTestFetcher(t, CollyFetcherConfig{})
	_, err := f.Fetch(context.Background(), url)

	var fe *FetchError
	require.True(t, errors.As(err, &fe))
	assert.Equal(t, FetchUnreachable, fe.Kind)
	assert.True(t, fe.Transient())
}

func TestCollyFetcherTimeout(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(2 * time.Second)
	}))
	defer srv.Close()

	f := newTestFetcher(t, CollyFetcherConfig{RequestTimeout: 100 * time.Millisecond})
	_, err := f.Fetch(context.Background(), srv.URL)

	var fe *FetchError
	require.True(t, errors.As(err, &fe))
	assert.Equal(t, FetchTimeout, fe.Kind)
	assert.True(t, fe.Transient())
}

func TestCollyFetcherTruncatesOversizedBody(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(strings.Repeat("a", 4096)))
	}))
	defer srv.Close()

	f := newTestFetcher(t, CollyFetcherConfig{MaxBodyBytes: 1024})
	page, err := f.Fetch(context.Background(), srv.URL)
	require.NoError(t, err)
	assert.Len(t, page.Body, 1024)
}

func TestCollyFetcherFollowsRedirects(t *testing.T) {
	t.Parallel()

	mux := http.NewServeMux()
	mux.HandleFunc("/old", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/new", http.StatusMovedPermanently)
	})
	mux.HandleFunc("/new", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("final"))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	f := newTestFetcher(t, CollyFetcherConfig{})
	page, err := f.Fetch(context.Background(), srv.URL+"/old")
	require.NoError(t, err)

	assert.Equal(t, srv.URL+"/old", page.URL)
	assert.Equal(t, srv.URL+"/new", page.FinalURL)
	assert.Equal(t, "final", string(page.Body))
}
