package fetcher

import (
	"context"
	"net/url"
)

// Response is a fully-read HTTP response. Non-200 statuses that were not
// retried are returned as-is so callers can decide what "unavailable" means.
type Response struct {
	StatusCode int
	Body       []byte
	URL        string
}

// OK reports whether the response carried a 200 status.
func (r *Response) OK() bool {
	return r != nil && r.StatusCode == 200
}

// Getter issues polite GET requests against the literature APIs.
type Getter interface {
	// Get fetches rawURL with params merged into its query string. Transient
	// failures are retried; an error means every attempt failed.
	Get(ctx context.Context, rawURL string, params url.Values) (*Response, error)
}
