// Package discovery searches bibliographic providers for papers that may
// report amino-acid values for a failed query, ranks the hits and stores the
// best ones as candidates.
package discovery

import (
	"context"
	"strconv"
	"strings"
)

// Provider tags stored on candidates.
const (
	ProviderCrossref = "crossref"
	ProviderPubMed   = "pubmed"
)

const (
	minYear    = 1500
	maxYear    = 2100
	maxAuthors = 8
)

// Hit is a provider result normalized to one shape. Empty strings mean
// "absent".
type Hit struct {
	Provider string   `json:"provider"`
	Title    string   `json:"title"`
	DOI      string   `json:"doi,omitempty"`
	URL      string   `json:"url,omitempty"`
	Year     *int     `json:"published_year,omitempty"`
	Authors  string   `json:"authors,omitempty"`
	Abstract string   `json:"abstract,omitempty"`
	RawScore *float64 `json:"raw_score,omitempty"`
}

// Provider searches one bibliographic source and returns normalized hits.
type Provider interface {
	Name() string
	Search(ctx context.Context, query string, rows int) ([]Hit, error)
}

// plausibleYear keeps years in [1500, 2100].
func plausibleYear(y int) *int {
	if y < minYear || y > maxYear {
		return nil
	}
	return &y
}

// parseYear parses a textual year, discarding anything implausible.
func parseYear(s string) *int {
	y, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return nil
	}
	return plausibleYear(y)
}

// joinAuthors joins the first eight non-empty names.
func joinAuthors(names []string) string {
	out := make([]string, 0, maxAuthors)
	for _, n := range names {
		if n = strings.TrimSpace(n); n == "" {
			continue
		}
		out = append(out, n)
		if len(out) == maxAuthors {
			break
		}
	}
	return strings.Join(out, ", ")
}
