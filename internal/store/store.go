package store

import (
	"context"

	"github.com/sells-group/aminoscout/internal/model"
)

// QueryFilter selects failed queries for a stage or for the review queue.
// Results are always in priority order: seen_count DESC, last_seen_at DESC,
// id ASC.
type QueryFilter struct {
	Status model.QueryStatus `json:"status,omitempty"`
	Limit  int               `json:"limit,omitempty"`
}

// Store defines the persistence interface for the discovery pipeline.
type Store interface {
	// Failed queries
	RecordFailedQuery(ctx context.Context, raw, normalized string) (*model.FailedQuery, error)
	GetFailedQuery(ctx context.Context, id int64) (*model.FailedQuery, error)
	ListFailedQueries(ctx context.Context, filter QueryFilter) ([]model.FailedQuery, error)
	CountByStatus(ctx context.Context) (map[model.QueryStatus]int, error)

	// Catalog
	GetOrCreateFood(ctx context.Context, food model.Food) (*model.Food, error)
	GetFood(ctx context.Context, id int64) (*model.Food, error)
	BestCatalogMatch(ctx context.Context, text string) (*model.CatalogMatch, error)

	// Candidates, best score first
	ListCandidates(ctx context.Context, failedQueryID int64, limit int) ([]model.Candidate, error)

	// Facts
	ListFacts(ctx context.Context, foodID int64) ([]model.AminoAcidFact, error)

	// WithTx runs fn in one transaction; returning an error rolls it back.
	WithTx(ctx context.Context, fn func(tx Tx) error) error

	// Lifecycle
	Ping(ctx context.Context) error
	Migrate(ctx context.Context) error
	Close() error
}

// Tx is the write surface used inside a stage transaction.
type Tx interface {
	// UpdateFailedQuery persists status, label, score and note.
	UpdateFailedQuery(ctx context.Context, q *model.FailedQuery) error

	// CandidateExists applies the layered dedup key: (query, provider, doi)
	// when a DOI is known, else (query, provider, url), else
	// (query, provider, title, year).
	CandidateExists(ctx context.Context, c *model.Candidate) (bool, error)
	// InsertCandidate returns 0 when a concurrent writer already inserted
	// the same candidate.
	InsertCandidate(ctx context.Context, c *model.Candidate) (int64, error)

	FindPublicationSource(ctx context.Context, url string) (*model.Source, error)
	// InsertSource returns the stored row, which is the existing one when
	// another writer won the race on the same publication URL.
	InsertSource(ctx context.Context, src *model.Source) (*model.Source, error)
	UpdateSource(ctx context.Context, src *model.Source) error

	// UpsertFact replaces amount, units and source and keeps the higher
	// confidence on (food, amino acid) conflicts.
	UpsertFact(ctx context.Context, f *model.AminoAcidFact) (*model.AminoAcidFact, error)
	FactsForFood(ctx context.Context, foodID int64) ([]model.AminoAcidFact, error)
	SaveCoverage(ctx context.Context, foodID int64, cov model.Coverage) error
}

const failedQueryColumns = `id, query, normalized_query, seen_count, first_seen_at, last_seen_at, status, nlp_label, nlp_score, note`

const candidateColumns = `id, failed_query_id, provider, title, doi, url, published_year, authors, abstract, score, raw_score, created_at`

const sourceColumns = `id, source_type, source_name, source_url, citation_text, version`

const foodColumns = `id, name, external_source, external_food_id, essential_aa_present_count, essential_aa_total, amino_data_incomplete`

const factColumns = `id, food_id, amino_acid, amount_mg_per_100g, units, confidence, source_id`
