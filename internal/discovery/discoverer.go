package discovery

import (
	"context"
	"fmt"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Result is the outcome of one discovery call. Warnings name providers that
// failed while others succeeded.
type Result struct {
	Hits     []Hit
	Warnings []string
}

// Discoverer fans a query out to every registered provider.
type Discoverer struct {
	providers []Provider
	rows      int
}

// NewDiscoverer creates a Discoverer asking each provider for up to rows
// results. Hits are concatenated in provider order.
func NewDiscoverer(rows int, providers ...Provider) *Discoverer {
	if rows <= 0 {
		rows = 20
	}
	return &Discoverer{providers: providers, rows: rows}
}

// Discover queries every provider concurrently. It returns an error only when
// every provider failed; partial failures become warnings.
func (d *Discoverer) Discover(ctx context.Context, query string) (Result, error) {
	hits := make([][]Hit, len(d.providers))
	errs := make([]error, len(d.providers))

	g, gctx := errgroup.WithContext(ctx)
	for i, p := range d.providers {
		g.Go(func() error {
			h, err := p.Search(gctx, query, d.rows)
			if err != nil {
				zap.L().Warn("provider search failed",
					zap.String("provider", p.Name()),
					zap.String("query", query),
					zap.Error(err),
				)
				errs[i] = err
				return nil // other providers still count
			}
			hits[i] = h
			return nil
		})
	}
	_ = g.Wait()

	var res Result
	failed := 0
	for i, p := range d.providers {
		if errs[i] != nil {
			failed++
			res.Warnings = append(res.Warnings, fmt.Sprintf("%s: %v", p.Name(), errs[i]))
			continue
		}
		res.Hits = append(res.Hits, hits[i]...)
	}

	if len(d.providers) > 0 && failed == len(d.providers) {
		return res, eris.Errorf("discovery: every provider failed: %s", strings.Join(res.Warnings, "; "))
	}
	return res, nil
}
