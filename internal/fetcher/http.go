package fetcher

import (
	"context"
	"io"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/sells-group/aminoscout/internal/resilience"
)

// maxBodyBytes bounds a single response; PMC articles with large
// supplementary tables stay well under this.
const maxBodyBytes = 64 << 20

// HTTPOptions configures the HTTP fetcher.
type HTTPOptions struct {
	UserAgent string
	// Timeout applies to each attempt, not to the whole retry sequence.
	Timeout time.Duration
	// MaxRetries is the total attempt count.
	MaxRetries int
	// Backoff is the linear backoff base: attempt n waits n × Backoff.
	Backoff time.Duration
	// RateDelay is the minimum spacing between requests to the same host.
	RateDelay time.Duration
	// Observe, when set, is told the outcome of every attempt
	// ("ok", "status", "retry", "error").
	Observe func(host, outcome string)
}

// HTTPFetcher implements Getter using net/http with linear retry and
// per-host spacing.
type HTTPFetcher struct {
	client *http.Client
	opts   HTTPOptions

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

// NewHTTPFetcher creates a new HTTPFetcher with the given options.
func NewHTTPFetcher(opts HTTPOptions) *HTTPFetcher {
	if opts.Timeout == 0 {
		opts.Timeout = 20 * time.Second
	}
	if opts.MaxRetries == 0 {
		opts.MaxRetries = 3
	}
	if opts.Backoff == 0 {
		opts.Backoff = 1500 * time.Millisecond
	}
	if opts.UserAgent == "" {
		opts.UserAgent = "aminoscout/1.0"
	}
	transport := &http.Transport{
		MaxIdleConnsPerHost: 4,
		MaxConnsPerHost:     8,
		IdleConnTimeout:     90 * time.Second,
	}
	return &HTTPFetcher{
		client: &http.Client{
			Timeout:   opts.Timeout,
			Transport: transport,
		},
		opts:     opts,
		limiters: make(map[string]*rate.Limiter),
	}
}

// limiterFor returns the shared limiter for a host. A zero RateDelay means
// no spacing.
func (f *HTTPFetcher) limiterFor(host string) *rate.Limiter {
	f.mu.Lock()
	defer f.mu.Unlock()
	lim, ok := f.limiters[host]
	if !ok {
		limit := rate.Inf
		if f.opts.RateDelay > 0 {
			limit = rate.Every(f.opts.RateDelay)
		}
		lim = rate.NewLimiter(limit, 1)
		f.limiters[host] = lim
	}
	return lim
}

func (f *HTTPFetcher) observe(host, outcome string) {
	if f.opts.Observe != nil {
		f.opts.Observe(host, outcome)
	}
}

// Get fetches rawURL with params merged into the query string.
func (f *HTTPFetcher) Get(ctx context.Context, rawURL string, params url.Values) (*Response, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, eris.Wrapf(err, "fetcher: parse url %q", rawURL)
	}
	if len(params) > 0 {
		q := u.Query()
		for k, vs := range params {
			for _, v := range vs {
				q.Add(k, v)
			}
		}
		u.RawQuery = q.Encode()
	}
	target := u.String()

	cfg := resilience.LinearRetryConfig(f.opts.MaxRetries, f.opts.Backoff)
	cfg.OnRetry = func(attempt int, err error) {
		zap.L().Warn("http request failed, retrying",
			zap.String("url", target),
			zap.Int("attempt", attempt),
			zap.Error(err),
		)
	}

	resp, err := resilience.DoVal(ctx, cfg, func(ctx context.Context) (*Response, error) {
		return f.attempt(ctx, u.Host, target)
	})
	if err != nil {
		return nil, eris.Wrapf(err, "fetcher: all %d attempts failed for %s", f.opts.MaxRetries, target)
	}
	return resp, nil
}

func (f *HTTPFetcher) attempt(ctx context.Context, host, target string) (*Response, error) {
	if err := f.limiterFor(host).Wait(ctx); err != nil {
		return nil, eris.Wrap(err, "fetcher: rate limiter wait")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, eris.Wrap(err, "fetcher: create request")
	}
	req.Header.Set("User-Agent", f.opts.UserAgent)

	resp, err := f.client.Do(req)
	if err != nil {
		f.observe(host, "error")
		// Network failures are always worth another attempt.
		return nil, resilience.NewTransientError(eris.Wrap(err, "fetcher: do request"), 0)
	}
	defer resp.Body.Close() //nolint:errcheck

	if resilience.IsTransientHTTPStatus(resp.StatusCode) {
		_, _ = io.Copy(io.Discard, resp.Body)
		f.observe(host, "retry")
		return nil, resilience.NewTransientError(
			eris.Errorf("fetcher: http %d from %s", resp.StatusCode, target), resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		f.observe(host, "error")
		return nil, resilience.NewTransientError(eris.Wrap(err, "fetcher: read body"), resp.StatusCode)
	}

	if resp.StatusCode == http.StatusOK {
		f.observe(host, "ok")
	} else {
		f.observe(host, "status")
	}
	return &Response{StatusCode: resp.StatusCode, Body: body, URL: target}, nil
}
