package discovery

import (
	"context"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/aminoscout/pkg/pubmed"
)

// PubMedProvider adapts the esearch-then-efetch PubMed flow.
type PubMedProvider struct {
	client pubmed.Client
	limit  int
}

// NewPubMedProvider creates a provider backed by client.
func NewPubMedProvider(client pubmed.Client) *PubMedProvider {
	return &PubMedProvider{client: client}
}

// WithLimit overrides the per-call row count the Discoverer asks for.
func (p *PubMedProvider) WithLimit(n int) *PubMedProvider {
	p.limit = n
	return p
}

func (p *PubMedProvider) Name() string { return ProviderPubMed }

func (p *PubMedProvider) Search(ctx context.Context, query string, rows int) ([]Hit, error) {
	if p.limit > 0 {
		rows = p.limit
	}
	ids, err := p.client.SearchIDs(ctx, query, rows)
	if err != nil {
		return nil, eris.Wrap(err, "discovery: pubmed search")
	}

	pmids := make([]string, 0, len(ids))
	for _, id := range ids {
		if id = strings.TrimSpace(id); isDigits(id) {
			pmids = append(pmids, id)
		} else {
			zap.L().Debug("skipping non-numeric pmid", zap.String("pmid", id))
		}
	}
	if len(pmids) == 0 {
		return nil, nil
	}

	articles, err := p.client.FetchArticles(ctx, pmids)
	if err != nil && len(articles) == 0 {
		return nil, eris.Wrap(err, "discovery: pubmed fetch")
	}
	if err != nil {
		zap.L().Warn("pubmed efetch stream ended early",
			zap.Int("articles", len(articles)), zap.Error(err))
	}

	hits := make([]Hit, 0, len(articles))
	for _, a := range articles {
		title := strings.TrimSpace(a.Title.String())
		if title == "" {
			continue
		}

		h := Hit{
			Provider: ProviderPubMed,
			Title:    title,
			DOI:      strings.ToLower(a.ID("doi")),
			Year:     parseYear(a.Year()),
			Abstract: a.AbstractText(),
		}
		if pmid := strings.TrimSpace(a.PMID); pmid != "" {
			h.URL = "https://pubmed.ncbi.nlm.nih.gov/" + pmid + "/"
		}

		names := make([]string, 0, len(a.Authors))
		for _, au := range a.Authors {
			names = append(names, au.FullName())
		}
		h.Authors = joinAuthors(names)
		hits = append(hits, h)
	}
	return hits, nil
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
