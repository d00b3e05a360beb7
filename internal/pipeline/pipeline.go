// Package pipeline runs the batch stages that move failed queries through
// triage, candidate discovery and table extraction.
package pipeline

import (
	"context"

	"github.com/sells-group/aminoscout/internal/classify"
	"github.com/sells-group/aminoscout/internal/config"
	"github.com/sells-group/aminoscout/internal/discovery"
	"github.com/sells-group/aminoscout/internal/fulltext"
	"github.com/sells-group/aminoscout/internal/metrics"
	"github.com/sells-group/aminoscout/internal/model"
	"github.com/sells-group/aminoscout/internal/store"
)

// Stage names used in logs and metrics.
const (
	StageTriage     = "triage"
	StageCandidates = "candidates"
	StageExtract    = "extract"
)

// progressEvery controls how often a stage logs progress.
const progressEvery = 10

// Discoverer searches literature providers for a query.
type Discoverer interface {
	Discover(ctx context.Context, query string) (discovery.Result, error)
}

// Retriever fetches full text for a paper.
type Retriever interface {
	Fetch(ctx context.Context, title, rawURL, doi string) (*fulltext.Document, error)
}

// Deps are the collaborators a Pipeline needs. Stages only touch the ones
// they use, so triage runs without providers and discovery without a cache.
type Deps struct {
	Store      store.Store
	Classifier classify.Classifier
	Discoverer Discoverer
	Retriever  Retriever
	Metrics    *metrics.Metrics
}

// Pipeline orchestrates the three stages.
type Pipeline struct {
	cfg        config.PipelineConfig
	store      store.Store
	classifier classify.Classifier
	discoverer Discoverer
	retriever  Retriever
	metrics    *metrics.Metrics
}

// New creates a Pipeline. A nil Metrics gets a private registry.
func New(cfg config.PipelineConfig, deps Deps) *Pipeline {
	m := deps.Metrics
	if m == nil {
		m = metrics.New(false)
	}
	return &Pipeline{
		cfg:        cfg,
		store:      deps.Store,
		classifier: deps.Classifier,
		discoverer: deps.Discoverer,
		retriever:  deps.Retriever,
		metrics:    m,
	}
}

// Metrics exposes the instruments the stages record into.
func (p *Pipeline) Metrics() *metrics.Metrics {
	return p.metrics
}

func (p *Pipeline) pending(ctx context.Context, status model.QueryStatus, limit int) ([]model.FailedQuery, error) {
	if limit <= 0 {
		return nil, nil
	}
	return p.store.ListFailedQueries(ctx, store.QueryFilter{Status: status, Limit: limit})
}
