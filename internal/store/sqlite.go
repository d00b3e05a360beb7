package store

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/sells-group/aminoscout/internal/model"
	"github.com/sells-group/aminoscout/internal/trigram"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
// busy_timeout and foreign_keys are per connection, so they ride on the DSN.
// Timestamps are written in SQLite's own format so they sort as text.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	sep := "?"
	if strings.Contains(dsn, "?") {
		sep = "&"
	}
	db, err := sql.Open("sqlite", dsn+sep+"_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)&_time_format=sqlite")
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close() //nolint:errcheck
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS sources (
	id            INTEGER PRIMARY KEY AUTOINCREMENT,
	source_type   TEXT NOT NULL CHECK (source_type IN ('dataset', 'publication')),
	source_name   TEXT NOT NULL DEFAULT '',
	source_url    TEXT NOT NULL DEFAULT '',
	citation_text TEXT NOT NULL DEFAULT '',
	version       TEXT
);

DROP INDEX IF EXISTS uq_sources_publication_url;

CREATE UNIQUE INDEX IF NOT EXISTS uq_sources_publication_url_set
	ON sources (source_url) WHERE source_type = 'publication' AND source_url <> '';

CREATE TABLE IF NOT EXISTS foods (
	id                         INTEGER PRIMARY KEY AUTOINCREMENT,
	name                       TEXT NOT NULL,
	external_source            TEXT NOT NULL,
	external_food_id           TEXT NOT NULL,
	essential_aa_present_count INTEGER NOT NULL DEFAULT 0,
	essential_aa_total         INTEGER NOT NULL DEFAULT 9,
	amino_data_incomplete      BOOLEAN NOT NULL DEFAULT 1,
	UNIQUE (external_source, external_food_id)
);

CREATE TABLE IF NOT EXISTS food_amino_acids (
	id                 INTEGER PRIMARY KEY AUTOINCREMENT,
	food_id            INTEGER NOT NULL REFERENCES foods(id) ON DELETE CASCADE,
	amino_acid         TEXT NOT NULL,
	amount_mg_per_100g REAL NOT NULL,
	units              TEXT NOT NULL DEFAULT 'mg/100g',
	confidence         REAL NOT NULL DEFAULT 1.0 CHECK (confidence >= 0 AND confidence <= 1),
	source_id          INTEGER NOT NULL REFERENCES sources(id),
	UNIQUE (food_id, amino_acid)
);

CREATE TABLE IF NOT EXISTS failed_queries (
	id               INTEGER PRIMARY KEY AUTOINCREMENT,
	query            TEXT NOT NULL,
	normalized_query TEXT NOT NULL UNIQUE,
	seen_count       INTEGER NOT NULL DEFAULT 1,
	first_seen_at    DATETIME NOT NULL DEFAULT (datetime('now')),
	last_seen_at     DATETIME NOT NULL DEFAULT (datetime('now')),
	status           TEXT NOT NULL DEFAULT 'new',
	nlp_label        TEXT,
	nlp_score        REAL,
	note             TEXT NOT NULL DEFAULT ''
);

CREATE INDEX IF NOT EXISTS idx_failed_queries_priority
	ON failed_queries (status, seen_count DESC, last_seen_at DESC);

CREATE TABLE IF NOT EXISTS paper_candidates (
	id               INTEGER PRIMARY KEY AUTOINCREMENT,
	failed_query_id  INTEGER NOT NULL REFERENCES failed_queries(id) ON DELETE CASCADE,
	provider         TEXT NOT NULL,
	title            TEXT NOT NULL,
	doi              TEXT,
	url              TEXT,
	published_year   INTEGER,
	authors          TEXT,
	abstract         TEXT,
	score            REAL NOT NULL DEFAULT 0,
	raw_score        REAL,
	created_at       DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE UNIQUE INDEX IF NOT EXISTS uq_candidates_doi
	ON paper_candidates (failed_query_id, provider, doi) WHERE doi IS NOT NULL;
CREATE UNIQUE INDEX IF NOT EXISTS uq_candidates_url
	ON paper_candidates (failed_query_id, provider, url) WHERE doi IS NULL AND url IS NOT NULL;
CREATE INDEX IF NOT EXISTS idx_candidates_score
	ON paper_candidates (failed_query_id, score DESC);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Ping(ctx context.Context) error {
	return eris.Wrap(s.db.PingContext(ctx), "sqlite: ping")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// WithTx runs fn inside a database/sql transaction.
func (s *SQLiteStore) WithTx(ctx context.Context, fn func(tx Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin tx")
	}
	defer tx.Rollback() //nolint:errcheck

	if err := fn(&sqliteTx{q: tx}); err != nil {
		return err
	}
	return eris.Wrap(tx.Commit(), "sqlite: commit tx")
}

// RecordFailedQuery upserts by normalized text and re-reads the row so the
// timestamps come back with their declared column type.
func (s *SQLiteStore) RecordFailedQuery(ctx context.Context, raw, normalized string) (*model.FailedQuery, error) {
	now := time.Now().UTC()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO failed_queries (query, normalized_query, seen_count, first_seen_at, last_seen_at, status)
		VALUES (?, ?, 1, ?, ?, ?)
		ON CONFLICT(normalized_query) DO UPDATE
		SET seen_count = failed_queries.seen_count + 1, last_seen_at = excluded.last_seen_at`,
		raw, normalized, now, now, string(model.StatusNew),
	)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: record failed query %q", normalized)
	}

	q, err := scanFailedQuery(s.db.QueryRowContext(ctx,
		`SELECT `+failedQueryColumns+` FROM failed_queries WHERE normalized_query = ?`, normalized))
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: reload failed query %q", normalized)
	}
	return q, nil
}

func (s *SQLiteStore) GetFailedQuery(ctx context.Context, id int64) (*model.FailedQuery, error) {
	q, err := scanFailedQuery(s.db.QueryRowContext(ctx,
		`SELECT `+failedQueryColumns+` FROM failed_queries WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get failed query %d", id)
	}
	return q, nil
}

func (s *SQLiteStore) ListFailedQueries(ctx context.Context, filter QueryFilter) ([]model.FailedQuery, error) {
	query := `SELECT ` + failedQueryColumns + ` FROM failed_queries WHERE 1=1`
	var args []any

	if filter.Status != "" {
		query += ` AND status = ?`
		args = append(args, string(filter.Status))
	}
	query += ` ORDER BY seen_count DESC, last_seen_at DESC, id ASC`

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query += ` LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list failed queries")
	}
	defer rows.Close() //nolint:errcheck

	var out []model.FailedQuery
	for rows.Next() {
		q, err := scanFailedQuery(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan failed query")
		}
		out = append(out, *q)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list failed queries iterate")
}

func (s *SQLiteStore) CountByStatus(ctx context.Context) (map[model.QueryStatus]int, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT status, count(*) FROM failed_queries GROUP BY status`)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: count by status")
	}
	defer rows.Close() //nolint:errcheck

	counts := make(map[model.QueryStatus]int)
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan status count")
		}
		counts[model.QueryStatus(status)] = n
	}
	return counts, eris.Wrap(rows.Err(), "sqlite: count by status iterate")
}

func (s *SQLiteStore) GetOrCreateFood(ctx context.Context, food model.Food) (*model.Food, error) {
	f, err := scanFood(s.db.QueryRowContext(ctx,
		`INSERT INTO foods (name, external_source, external_food_id)
		VALUES (?, ?, ?)
		ON CONFLICT(external_source, external_food_id) DO UPDATE SET name = foods.name
		RETURNING `+foodColumns,
		food.Name, food.ExternalSource, food.ExternalFoodID,
	))
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get or create food %s/%s", food.ExternalSource, food.ExternalFoodID)
	}
	return f, nil
}

func (s *SQLiteStore) GetFood(ctx context.Context, id int64) (*model.Food, error) {
	f, err := scanFood(s.db.QueryRowContext(ctx, `SELECT `+foodColumns+` FROM foods WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get food %d", id)
	}
	return f, nil
}

// BestCatalogMatch scores every catalog name in process; SQLite has no
// trigram extension.
func (s *SQLiteStore) BestCatalogMatch(ctx context.Context, text string) (*model.CatalogMatch, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, name FROM foods ORDER BY id`)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: best catalog match")
	}
	defer rows.Close() //nolint:errcheck

	var best *model.CatalogMatch
	for rows.Next() {
		var id int64
		var name string
		if err := rows.Scan(&id, &name); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan catalog food")
		}
		sim := trigram.Similarity(text, name)
		if best == nil || sim > best.Similarity {
			best = &model.CatalogMatch{FoodID: id, Name: name, Similarity: sim}
		}
	}
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "sqlite: best catalog match iterate")
	}
	return best, nil
}

func (s *SQLiteStore) ListCandidates(ctx context.Context, failedQueryID int64, limit int) ([]model.Candidate, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+candidateColumns+` FROM paper_candidates
		WHERE failed_query_id = ?
		ORDER BY score DESC, id ASC
		LIMIT ?`,
		failedQueryID, limit,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: list candidates for %d", failedQueryID)
	}
	defer rows.Close() //nolint:errcheck

	var out []model.Candidate
	for rows.Next() {
		c, err := scanCandidate(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan candidate")
		}
		out = append(out, *c)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list candidates iterate")
}

func (s *SQLiteStore) ListFacts(ctx context.Context, foodID int64) ([]model.AminoAcidFact, error) {
	return (&sqliteTx{q: s.db}).FactsForFood(ctx, foodID)
}

// sqlQuerier is the subset shared by *sql.DB and *sql.Tx.
type sqlQuerier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type sqliteTx struct {
	q sqlQuerier
}

func (t *sqliteTx) UpdateFailedQuery(ctx context.Context, q *model.FailedQuery) error {
	res, err := t.q.ExecContext(ctx,
		`UPDATE failed_queries SET status = ?, nlp_label = ?, nlp_score = ?, note = ? WHERE id = ?`,
		string(q.Status), labelArg(q.Label), floatArg(q.Score), q.Note, q.ID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: update failed query %d", q.ID)
	}
	return checkRowsAffected(res, "failed query", q.ID)
}

func (t *sqliteTx) CandidateExists(ctx context.Context, c *model.Candidate) (bool, error) {
	var query string
	args := []any{c.FailedQueryID, c.Provider}
	switch {
	case c.DOI != "":
		query = `SELECT EXISTS (SELECT 1 FROM paper_candidates WHERE failed_query_id = ? AND provider = ? AND doi = ?)`
		args = append(args, c.DOI)
	case c.URL != "":
		query = `SELECT EXISTS (SELECT 1 FROM paper_candidates WHERE failed_query_id = ? AND provider = ? AND url = ?)`
		args = append(args, c.URL)
	default:
		query = `SELECT EXISTS (SELECT 1 FROM paper_candidates WHERE failed_query_id = ? AND provider = ? AND title = ? AND published_year IS ?)`
		args = append(args, c.Title, intArg(c.PublishedYear))
	}

	var exists bool
	if err := t.q.QueryRowContext(ctx, query, args...).Scan(&exists); err != nil {
		return false, eris.Wrap(err, "sqlite: candidate exists")
	}
	return exists, nil
}

func (t *sqliteTx) InsertCandidate(ctx context.Context, c *model.Candidate) (int64, error) {
	res, err := t.q.ExecContext(ctx,
		`INSERT INTO paper_candidates
			(failed_query_id, provider, title, doi, url, published_year, authors, abstract, score, raw_score, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT DO NOTHING`,
		c.FailedQueryID, c.Provider, c.Title, nilIfEmpty(c.DOI), nilIfEmpty(c.URL), intArg(c.PublishedYear),
		nilIfEmpty(c.Authors), nilIfEmpty(c.Abstract), c.Score, floatArg(c.RawScore), time.Now().UTC(),
	)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: insert candidate")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: insert candidate rows affected")
	}
	if n == 0 {
		return 0, nil
	}
	id, err := res.LastInsertId()
	return id, eris.Wrap(err, "sqlite: insert candidate id")
}

func (t *sqliteTx) FindPublicationSource(ctx context.Context, url string) (*model.Source, error) {
	src, err := scanSource(t.q.QueryRowContext(ctx,
		`SELECT `+sourceColumns+` FROM sources WHERE source_type = ? AND source_url = ? ORDER BY id LIMIT 1`,
		string(model.SourcePublication), url,
	))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: find publication source")
	}
	return src, nil
}

func (t *sqliteTx) InsertSource(ctx context.Context, src *model.Source) (*model.Source, error) {
	out, err := scanSource(t.q.QueryRowContext(ctx,
		`INSERT INTO sources (source_type, source_name, source_url, citation_text, version)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT DO NOTHING
		RETURNING `+sourceColumns,
		string(src.Type), src.Name, src.URL, src.Citation, nilIfEmpty(src.Version),
	))
	if errors.Is(err, sql.ErrNoRows) {
		return t.FindPublicationSource(ctx, src.URL)
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: insert source")
	}
	return out, nil
}

func (t *sqliteTx) UpdateSource(ctx context.Context, src *model.Source) error {
	_, err := t.q.ExecContext(ctx,
		`UPDATE sources SET source_name = ?, citation_text = ?, version = ? WHERE id = ?`,
		src.Name, src.Citation, nilIfEmpty(src.Version), src.ID,
	)
	return eris.Wrapf(err, "sqlite: update source %d", src.ID)
}

func (t *sqliteTx) UpsertFact(ctx context.Context, f *model.AminoAcidFact) (*model.AminoAcidFact, error) {
	out, err := scanFact(t.q.QueryRowContext(ctx,
		`INSERT INTO food_amino_acids (food_id, amino_acid, amount_mg_per_100g, units, confidence, source_id)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(food_id, amino_acid) DO UPDATE SET
			amount_mg_per_100g = excluded.amount_mg_per_100g,
			units = excluded.units,
			source_id = excluded.source_id,
			confidence = MAX(food_amino_acids.confidence, excluded.confidence)
		RETURNING `+factColumns,
		f.FoodID, f.AminoAcid, f.AmountMg, f.Units, f.Confidence, f.SourceID,
	))
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: upsert fact %d/%s", f.FoodID, f.AminoAcid)
	}
	return out, nil
}

func (t *sqliteTx) FactsForFood(ctx context.Context, foodID int64) ([]model.AminoAcidFact, error) {
	rows, err := t.q.QueryContext(ctx,
		`SELECT `+factColumns+` FROM food_amino_acids WHERE food_id = ? ORDER BY amino_acid`, foodID)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: facts for food %d", foodID)
	}
	defer rows.Close() //nolint:errcheck

	var out []model.AminoAcidFact
	for rows.Next() {
		f, err := scanFact(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan fact")
		}
		out = append(out, *f)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: facts iterate")
}

func (t *sqliteTx) SaveCoverage(ctx context.Context, foodID int64, cov model.Coverage) error {
	res, err := t.q.ExecContext(ctx,
		`UPDATE foods SET essential_aa_present_count = ?, essential_aa_total = ?, amino_data_incomplete = ? WHERE id = ?`,
		cov.Present, cov.Total, cov.Incomplete, foodID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: save coverage for food %d", foodID)
	}
	return checkRowsAffected(res, "food", foodID)
}

func checkRowsAffected(res sql.Result, entity string, id int64) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrapf(err, "sqlite: rows affected for %s %d", entity, id)
	}
	if n == 0 {
		return eris.Errorf("sqlite: %s not found: %d", entity, id)
	}
	return nil
}
