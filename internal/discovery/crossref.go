package discovery

import (
	"context"
	"regexp"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/aminoscout/pkg/crossref"
)

// jatsTagRe strips the JATS markup Crossref embeds in abstracts.
var jatsTagRe = regexp.MustCompile(`<[^>]+>`)

// CrossrefProvider adapts the Crossref works search.
type CrossrefProvider struct {
	client crossref.Client
	limit  int
}

// NewCrossrefProvider creates a provider backed by client.
func NewCrossrefProvider(client crossref.Client) *CrossrefProvider {
	return &CrossrefProvider{client: client}
}

// WithLimit overrides the per-call row count the Discoverer asks for.
func (p *CrossrefProvider) WithLimit(n int) *CrossrefProvider {
	p.limit = n
	return p
}

func (p *CrossrefProvider) Name() string { return ProviderCrossref }

func (p *CrossrefProvider) Search(ctx context.Context, query string, rows int) ([]Hit, error) {
	if p.limit > 0 {
		rows = p.limit
	}
	works, err := p.client.Search(ctx, query, rows)
	if err != nil {
		return nil, eris.Wrap(err, "discovery: crossref search")
	}

	hits := make([]Hit, 0, len(works))
	for _, w := range works {
		title := w.FirstTitle()
		if title == "" {
			continue
		}

		h := Hit{
			Provider: ProviderCrossref,
			Title:    title,
			DOI:      strings.ToLower(strings.TrimSpace(w.DOI)),
			URL:      strings.TrimSpace(w.URL),
			RawScore: w.Score,
		}
		if y, ok := w.Issued.Year(); ok {
			h.Year = plausibleYear(y)
		}

		names := make([]string, 0, len(w.Author))
		for _, a := range w.Author {
			names = append(names, a.FullName())
		}
		h.Authors = joinAuthors(names)

		if w.Abstract != "" {
			h.Abstract = strings.Join(strings.Fields(jatsTagRe.ReplaceAllString(w.Abstract, " ")), " ")
		}
		hits = append(hits, h)
	}
	return hits, nil
}
