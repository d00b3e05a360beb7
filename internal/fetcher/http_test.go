package fetcher

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/aminoscout/internal/resilience"
)

func newTestFetcher() *HTTPFetcher {
	return NewHTTPFetcher(HTTPOptions{
		UserAgent:  "test-agent",
		Timeout:    5 * time.Second,
		MaxRetries: 3,
		Backoff:    time.Millisecond,
	})
}

func TestGet_MergesParamsAndSetsUserAgent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "test-agent", r.Header.Get("User-Agent"))
		assert.Equal(t, "pmc", r.URL.Query().Get("db"))
		assert.Equal(t, "PMC123", r.URL.Query().Get("id"))
		assert.Equal(t, "keep", r.URL.Query().Get("existing"))
		w.Write([]byte("<pmc-articleset/>"))
	}))
	defer srv.Close()

	f := newTestFetcher()
	resp, err := f.Get(context.Background(), srv.URL+"/efetch.fcgi?existing=keep", url.Values{
		"db": {"pmc"},
		"id": {"PMC123"},
	})
	require.NoError(t, err)
	assert.True(t, resp.OK())
	assert.Equal(t, "<pmc-articleset/>", string(resp.Body))
}

func TestGet_RetriesTransientStatus(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte("ok"))
	}))
	defer srv.Close()

	resp, err := newTestFetcher().Get(context.Background(), srv.URL, nil)
	require.NoError(t, err)
	assert.Equal(t, "ok", string(resp.Body))
	assert.Equal(t, int32(3), calls.Load())
}

func TestGet_ExhaustsRetries(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	_, err := newTestFetcher().Get(context.Background(), srv.URL, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "all 3 attempts failed")
	assert.Equal(t, 429, resilience.StatusCode(err))
	assert.Equal(t, int32(3), calls.Load())
}

func TestGet_PermanentStatusNotRetried(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte("missing"))
	}))
	defer srv.Close()

	resp, err := newTestFetcher().Get(context.Background(), srv.URL, nil)
	require.NoError(t, err)
	assert.False(t, resp.OK())
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, int32(1), calls.Load())
}

func TestGet_NetworkErrorRetried(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	target := srv.URL
	srv.Close()

	var mu sync.Mutex
	var outcomes []string
	f := NewHTTPFetcher(HTTPOptions{
		MaxRetries: 2,
		Backoff:    time.Millisecond,
		Observe: func(_, outcome string) {
			mu.Lock()
			defer mu.Unlock()
			outcomes = append(outcomes, outcome)
		},
	})

	_, err := f.Get(context.Background(), target, nil)
	require.Error(t, err)
	assert.Equal(t, []string{"error", "error"}, outcomes)
}

func TestGet_RateDelaySpacesRequests(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	}))
	defer srv.Close()

	f := NewHTTPFetcher(HTTPOptions{MaxRetries: 1, RateDelay: 40 * time.Millisecond})

	start := time.Now()
	for range 3 {
		_, err := f.Get(context.Background(), srv.URL, nil)
		require.NoError(t, err)
	}
	// First call passes immediately, the next two wait one interval each.
	assert.GreaterOrEqual(t, time.Since(start), 70*time.Millisecond)
}

func TestGet_InvalidURL(t *testing.T) {
	_, err := newTestFetcher().Get(context.Background(), "://bad", nil)
	assert.Error(t, err)
}

func TestGet_ContextCancelled(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := newTestFetcher().Get(ctx, srv.URL, nil)
	assert.Error(t, err)
}
