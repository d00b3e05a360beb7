package store

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/pgx/v5" // pgx5:// driver
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/sells-group/aminoscout/internal/db"
	"github.com/sells-group/aminoscout/internal/model"
)

//go:embed migrations/postgres/*.sql
var postgresMigrations embed.FS

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool       db.Pool
	connString string
	closeFn    func()
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(10)
	minConns := int32(1)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, connString: connString, closeFn: pool.Close}, nil
}

// Pool returns the underlying database pool.
func (s *PostgresStore) Pool() db.Pool {
	return s.pool
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return eris.Wrap(s.pool.Ping(ctx), "postgres: ping")
}

// Migrate applies the embedded migrations with golang-migrate.
func (s *PostgresStore) Migrate(_ context.Context) error {
	if s.connString == "" {
		return eris.New("postgres: migrate: no connection string")
	}

	src, err := iofs.New(postgresMigrations, "migrations/postgres")
	if err != nil {
		return eris.Wrap(err, "postgres: migrate: open source")
	}
	m, err := migrate.NewWithSourceInstance("iofs", src, migrateURL(s.connString))
	if err != nil {
		return eris.Wrap(err, "postgres: migrate: init")
	}
	defer m.Close() //nolint:errcheck

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return eris.Wrap(err, "postgres: migrate: up")
	}
	return nil
}

// migrateURL rewrites a libpq URL to the scheme the pgx/v5 migrate driver
// registers.
func migrateURL(connString string) string {
	for _, prefix := range []string{"postgres://", "postgresql://"} {
		if strings.HasPrefix(connString, prefix) {
			return "pgx5://" + strings.TrimPrefix(connString, prefix)
		}
	}
	return connString
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

// WithTx runs fn in a single Postgres transaction.
func (s *PostgresStore) WithTx(ctx context.Context, fn func(tx Tx) error) error {
	return db.WithTx(ctx, s.pool, func(tx pgx.Tx) error {
		return fn(&pgTx{q: tx})
	})
}

func (s *PostgresStore) RecordFailedQuery(ctx context.Context, raw, normalized string) (*model.FailedQuery, error) {
	now := time.Now().UTC()
	q, err := scanFailedQuery(s.pool.QueryRow(ctx,
		`INSERT INTO failed_queries (query, normalized_query, seen_count, first_seen_at, last_seen_at, status)
		VALUES ($1, $2, 1, $3, $3, $4)
		ON CONFLICT (normalized_query) DO UPDATE
		SET seen_count = failed_queries.seen_count + 1, last_seen_at = EXCLUDED.last_seen_at
		RETURNING `+failedQueryColumns,
		raw, normalized, now, string(model.StatusNew),
	))
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: record failed query %q", normalized)
	}
	return q, nil
}

func (s *PostgresStore) GetFailedQuery(ctx context.Context, id int64) (*model.FailedQuery, error) {
	q, err := scanFailedQuery(s.pool.QueryRow(ctx,
		`SELECT `+failedQueryColumns+` FROM failed_queries WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get failed query %d", id)
	}
	return q, nil
}

func (s *PostgresStore) ListFailedQueries(ctx context.Context, filter QueryFilter) ([]model.FailedQuery, error) {
	query := `SELECT ` + failedQueryColumns + ` FROM failed_queries`
	args := []any{}
	argIdx := 1

	if filter.Status != "" {
		query += fmt.Sprintf(` WHERE status = $%d`, argIdx)
		args = append(args, string(filter.Status))
		argIdx++
	}
	query += ` ORDER BY seen_count DESC, last_seen_at DESC, id ASC`

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query += fmt.Sprintf(` LIMIT $%d`, argIdx)
	args = append(args, limit)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list failed queries")
	}
	defer rows.Close()

	var out []model.FailedQuery
	for rows.Next() {
		q, err := scanFailedQuery(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan failed query")
		}
		out = append(out, *q)
	}
	return out, eris.Wrap(rows.Err(), "postgres: iterate failed queries")
}

func (s *PostgresStore) CountByStatus(ctx context.Context) (map[model.QueryStatus]int, error) {
	rows, err := s.pool.Query(ctx, `SELECT status, count(*) FROM failed_queries GROUP BY status`)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: count by status")
	}
	defer rows.Close()

	counts := make(map[model.QueryStatus]int)
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, eris.Wrap(err, "postgres: scan status count")
		}
		counts[model.QueryStatus(status)] = n
	}
	return counts, eris.Wrap(rows.Err(), "postgres: iterate status counts")
}

func (s *PostgresStore) GetOrCreateFood(ctx context.Context, food model.Food) (*model.Food, error) {
	f, err := scanFood(s.pool.QueryRow(ctx,
		`INSERT INTO foods (name, external_source, external_food_id)
		VALUES ($1, $2, $3)
		ON CONFLICT (external_source, external_food_id) DO UPDATE SET name = foods.name
		RETURNING `+foodColumns,
		food.Name, food.ExternalSource, food.ExternalFoodID,
	))
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get or create food %s/%s", food.ExternalSource, food.ExternalFoodID)
	}
	return f, nil
}

func (s *PostgresStore) GetFood(ctx context.Context, id int64) (*model.Food, error) {
	f, err := scanFood(s.pool.QueryRow(ctx, `SELECT `+foodColumns+` FROM foods WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get food %d", id)
	}
	return f, nil
}

// BestCatalogMatch ranks every catalog name with pg_trgm similarity().
func (s *PostgresStore) BestCatalogMatch(ctx context.Context, text string) (*model.CatalogMatch, error) {
	var m model.CatalogMatch
	err := s.pool.QueryRow(ctx,
		`SELECT id, name, similarity(lower(name), $1)::float8 AS sim
		FROM foods
		ORDER BY sim DESC, id ASC
		LIMIT 1`,
		strings.ToLower(text),
	).Scan(&m.FoodID, &m.Name, &m.Similarity)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "postgres: best catalog match")
	}
	return &m, nil
}

func (s *PostgresStore) ListCandidates(ctx context.Context, failedQueryID int64, limit int) ([]model.Candidate, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.pool.Query(ctx,
		`SELECT `+candidateColumns+` FROM paper_candidates
		WHERE failed_query_id = $1
		ORDER BY score DESC, id ASC
		LIMIT $2`,
		failedQueryID, limit,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: list candidates for %d", failedQueryID)
	}
	defer rows.Close()

	var out []model.Candidate
	for rows.Next() {
		c, err := scanCandidate(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan candidate")
		}
		out = append(out, *c)
	}
	return out, eris.Wrap(rows.Err(), "postgres: iterate candidates")
}

func (s *PostgresStore) ListFacts(ctx context.Context, foodID int64) ([]model.AminoAcidFact, error) {
	return (&pgTx{q: s.pool}).FactsForFood(ctx, foodID)
}

// pgTx implements Tx over a pgx.Tx (or the pool, for read-only helpers).
type pgTx struct {
	q db.Querier
}

func (t *pgTx) UpdateFailedQuery(ctx context.Context, q *model.FailedQuery) error {
	tag, err := t.q.Exec(ctx,
		`UPDATE failed_queries SET status = $1, nlp_label = $2, nlp_score = $3, note = $4 WHERE id = $5`,
		string(q.Status), labelArg(q.Label), floatArg(q.Score), q.Note, q.ID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: update failed query %d", q.ID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("postgres: failed query not found: %d", q.ID)
	}
	return nil
}

func (t *pgTx) CandidateExists(ctx context.Context, c *model.Candidate) (bool, error) {
	var query string
	args := []any{c.FailedQueryID, c.Provider}
	switch {
	case c.DOI != "":
		query = `SELECT EXISTS (SELECT 1 FROM paper_candidates WHERE failed_query_id = $1 AND provider = $2 AND doi = $3)`
		args = append(args, c.DOI)
	case c.URL != "":
		query = `SELECT EXISTS (SELECT 1 FROM paper_candidates WHERE failed_query_id = $1 AND provider = $2 AND url = $3)`
		args = append(args, c.URL)
	default:
		query = `SELECT EXISTS (SELECT 1 FROM paper_candidates WHERE failed_query_id = $1 AND provider = $2 AND title = $3 AND published_year IS NOT DISTINCT FROM $4::int)`
		args = append(args, c.Title, intArg(c.PublishedYear))
	}

	var exists bool
	if err := t.q.QueryRow(ctx, query, args...).Scan(&exists); err != nil {
		return false, eris.Wrap(err, "postgres: candidate exists")
	}
	return exists, nil
}

func (t *pgTx) InsertCandidate(ctx context.Context, c *model.Candidate) (int64, error) {
	var id int64
	err := t.q.QueryRow(ctx,
		`INSERT INTO paper_candidates
			(failed_query_id, provider, title, doi, url, published_year, authors, abstract, score, raw_score, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT DO NOTHING
		RETURNING id`,
		c.FailedQueryID, c.Provider, c.Title, nilIfEmpty(c.DOI), nilIfEmpty(c.URL), intArg(c.PublishedYear),
		nilIfEmpty(c.Authors), nilIfEmpty(c.Abstract), c.Score, floatArg(c.RawScore), time.Now().UTC(),
	).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, eris.Wrap(err, "postgres: insert candidate")
	}
	return id, nil
}

func (t *pgTx) FindPublicationSource(ctx context.Context, url string) (*model.Source, error) {
	src, err := scanSource(t.q.QueryRow(ctx,
		`SELECT `+sourceColumns+` FROM sources WHERE source_type = $1 AND source_url = $2 ORDER BY id LIMIT 1`,
		string(model.SourcePublication), url,
	))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "postgres: find publication source")
	}
	return src, nil
}

func (t *pgTx) InsertSource(ctx context.Context, src *model.Source) (*model.Source, error) {
	out, err := scanSource(t.q.QueryRow(ctx,
		`INSERT INTO sources (source_type, source_name, source_url, citation_text, version)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT DO NOTHING
		RETURNING `+sourceColumns,
		string(src.Type), src.Name, src.URL, src.Citation, nilIfEmpty(src.Version),
	))
	if errors.Is(err, pgx.ErrNoRows) {
		return t.FindPublicationSource(ctx, src.URL)
	}
	if err != nil {
		return nil, eris.Wrap(err, "postgres: insert source")
	}
	return out, nil
}

func (t *pgTx) UpdateSource(ctx context.Context, src *model.Source) error {
	_, err := t.q.Exec(ctx,
		`UPDATE sources SET source_name = $1, citation_text = $2, version = $3 WHERE id = $4`,
		src.Name, src.Citation, nilIfEmpty(src.Version), src.ID,
	)
	return eris.Wrapf(err, "postgres: update source %d", src.ID)
}

func (t *pgTx) UpsertFact(ctx context.Context, f *model.AminoAcidFact) (*model.AminoAcidFact, error) {
	out, err := scanFact(t.q.QueryRow(ctx,
		`INSERT INTO food_amino_acids (food_id, amino_acid, amount_mg_per_100g, units, confidence, source_id)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (food_id, amino_acid) DO UPDATE SET
			amount_mg_per_100g = EXCLUDED.amount_mg_per_100g,
			units = EXCLUDED.units,
			source_id = EXCLUDED.source_id,
			confidence = GREATEST(food_amino_acids.confidence, EXCLUDED.confidence)
		RETURNING `+factColumns,
		f.FoodID, f.AminoAcid, f.AmountMg, f.Units, f.Confidence, f.SourceID,
	))
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: upsert fact %d/%s", f.FoodID, f.AminoAcid)
	}
	return out, nil
}

func (t *pgTx) FactsForFood(ctx context.Context, foodID int64) ([]model.AminoAcidFact, error) {
	rows, err := t.q.Query(ctx,
		`SELECT `+factColumns+` FROM food_amino_acids WHERE food_id = $1 ORDER BY amino_acid`, foodID)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: facts for food %d", foodID)
	}
	defer rows.Close()

	var out []model.AminoAcidFact
	for rows.Next() {
		f, err := scanFact(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan fact")
		}
		out = append(out, *f)
	}
	return out, eris.Wrap(rows.Err(), "postgres: iterate facts")
}

func (t *pgTx) SaveCoverage(ctx context.Context, foodID int64, cov model.Coverage) error {
	tag, err := t.q.Exec(ctx,
		`UPDATE foods SET essential_aa_present_count = $1, essential_aa_total = $2, amino_data_incomplete = $3 WHERE id = $4`,
		cov.Present, cov.Total, cov.Incomplete, foodID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: save coverage for food %d", foodID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("postgres: food not found: %d", foodID)
	}
	return nil
}
