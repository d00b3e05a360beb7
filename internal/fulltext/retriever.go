package fulltext

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/sells-group/aminoscout/internal/resilience"
	"github.com/sells-group/aminoscout/pkg/pmc"
)

// Retriever resolves a paper to PMC full text, consulting the cache first.
type Retriever struct {
	cache   Cache
	pmc     pmc.Client
	observe func(hit bool)
}

// RetrieverOption configures a Retriever.
type RetrieverOption func(*Retriever)

// WithCacheObserver reports every cache lookup outcome.
func WithCacheObserver(fn func(hit bool)) RetrieverOption {
	return func(r *Retriever) {
		r.observe = fn
	}
}

// NewRetriever creates a Retriever.
func NewRetriever(cache Cache, client pmc.Client, opts ...RetrieverOption) *Retriever {
	r := &Retriever{cache: cache, pmc: client}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Fetch returns the best available document for a paper. Network and
// availability failures are recorded as warnings on the document, which is
// cached whatever the outcome. The error return is reserved for context
// cancellation; cancelled attempts are not cached.
func (r *Retriever) Fetch(ctx context.Context, title, rawURL, doi string) (*Document, error) {
	if doi == "" {
		doi = ExtractDOI(rawURL)
	}
	if doi == "" {
		doi = ExtractDOI(title)
	}
	pmcid := ExtractPMCID(rawURL)
	if pmcid == "" {
		pmcid = ExtractPMCID(title)
	}
	pmid := ExtractPMID(rawURL)

	key := CacheKey(title, rawURL, doi, pmcid, pmid)
	log := zap.L().With(zap.String("cache_key", key))

	if cached, ok := r.cache.Get(ctx, key); ok {
		r.observeLookup(true)
		log.Debug("fulltext: cache hit")
		return cached, nil
	}
	r.observeLookup(false)

	doc := NewDocument(title, rawURL)
	doc.DOI, doc.PMCID, doc.PMID = doi, pmcid, pmid
	doc.Provider = ProviderIDConvPMC

	r.resolve(ctx, doc)
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if doc.PMCID != "" {
		xml, ok, err := r.pmc.FullText(ctx, doc.PMCID)
		switch {
		case err != nil:
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}
			doc.Warn(fmt.Sprintf("pmc full text fetch failed: %v", err))
		case !ok:
			doc.Warn("pmc full text not available (efetch returned empty or error)")
		default:
			doc.Content = xml
		}
	} else {
		doc.Warn("no PMCID (cannot fetch PMC full text)")
	}

	if err := r.cache.Put(ctx, key, doc); err != nil {
		log.Warn("fulltext: cache write failed", zap.Error(err))
	}
	return doc, nil
}

// resolve fills missing identifiers through the ID converter. A known PMCID
// skips the call.
func (r *Retriever) resolve(ctx context.Context, doc *Document) {
	if doc.PMCID != "" {
		return
	}
	var ids []string
	if doc.DOI != "" {
		ids = append(ids, doc.DOI)
	}
	if doc.PMID != "" {
		ids = append(ids, doc.PMID)
	}
	if len(ids) == 0 {
		return
	}

	rec, err := r.pmc.IDConv(ctx, ids)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		var se *resilience.StatusError
		if errors.As(err, &se) {
			doc.Warn(fmt.Sprintf("idconv http %d", se.StatusCode))
		} else {
			doc.Warn(fmt.Sprintf("idconv failed: %v", err))
		}
		return
	}
	if rec == nil {
		return
	}
	if rec.DOI != "" {
		doc.DOI = rec.DOI
	}
	if rec.PMID != "" {
		doc.PMID = string(rec.PMID)
	}
	if rec.PMCID != "" {
		doc.PMCID = rec.PMCID
	}
}

func (r *Retriever) observeLookup(hit bool) {
	if r.observe != nil {
		r.observe(hit)
	}
}
