// Package crossref provides a client for the Crossref REST API works search.
package crossref

import (
	"context"
	"encoding/json"
	"net/url"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/aminoscout/internal/fetcher"
	"github.com/sells-group/aminoscout/internal/resilience"
)

// Client defines the Crossref operations used by discovery.
type Client interface {
	// Search runs a bibliographic query and returns at most rows works.
	Search(ctx context.Context, query string, rows int) ([]Work, error)
}

// Work is one item of a works search response.
type Work struct {
	DOI      string   `json:"DOI"`
	URL      string   `json:"URL"`
	Title    []string `json:"title"`
	Issued   Date     `json:"issued"`
	Author   []Author `json:"author"`
	Abstract string   `json:"abstract"`
	Score    *float64 `json:"score"`
}

// Author is a contributor as Crossref reports it.
type Author struct {
	Given  string `json:"given"`
	Family string `json:"family"`
	Name   string `json:"name"`
}

// FullName returns "Given Family", or the organisation name for group
// authors.
func (a Author) FullName() string {
	full := strings.TrimSpace(strings.TrimSpace(a.Given) + " " + strings.TrimSpace(a.Family))
	if full == "" {
		full = strings.TrimSpace(a.Name)
	}
	return full
}

// Date is Crossref's partial-date shape: {"date-parts": [[2019, 5, 1]]}.
// Parts may be null.
type Date struct {
	DateParts [][]*int `json:"date-parts"`
}

// Year returns the first date part, if any.
func (d Date) Year() (int, bool) {
	if len(d.DateParts) == 0 || len(d.DateParts[0]) == 0 || d.DateParts[0][0] == nil {
		return 0, false
	}
	return *d.DateParts[0][0], true
}

// FirstTitle returns the first non-blank title.
func (w Work) FirstTitle() string {
	for _, t := range w.Title {
		if t = strings.TrimSpace(t); t != "" {
			return t
		}
	}
	return ""
}

type searchResponse struct {
	Status  string `json:"status"`
	Message struct {
		Items []Work `json:"items"`
	} `json:"message"`
}

// Option configures the Crossref client.
type Option func(*httpClient)

// WithBaseURL sets a custom base URL (for testing).
func WithBaseURL(u string) Option {
	return func(c *httpClient) {
		c.baseURL = strings.TrimRight(u, "/")
	}
}

// WithMailto identifies the caller for Crossref's polite pool.
func WithMailto(email string) Option {
	return func(c *httpClient) {
		c.mailto = email
	}
}

type httpClient struct {
	get     fetcher.Getter
	baseURL string
	mailto  string
}

// NewClient creates a Crossref client issuing requests through get.
func NewClient(get fetcher.Getter, opts ...Option) Client {
	c := &httpClient{
		get:     get,
		baseURL: "https://api.crossref.org",
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *httpClient) Search(ctx context.Context, query string, rows int) ([]Work, error) {
	params := url.Values{
		"query.bibliographic": {query},
		"rows":                {strconv.Itoa(rows)},
	}
	if c.mailto != "" {
		params.Set("mailto", c.mailto)
	}

	resp, err := c.get.Get(ctx, c.baseURL+"/works", params)
	if err != nil {
		return nil, eris.Wrap(err, "crossref: search")
	}
	if !resp.OK() {
		return nil, eris.Wrap(&resilience.StatusError{StatusCode: resp.StatusCode, URL: resp.URL}, "crossref: search")
	}

	var out searchResponse
	if err := json.Unmarshal(resp.Body, &out); err != nil {
		return nil, eris.Wrap(err, "crossref: decode search response")
	}
	return out.Message.Items, nil
}
