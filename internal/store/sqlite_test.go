package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/aminoscout/internal/model"
)

func newTestSQLite(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLite(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	require.NoError(t, s.Migrate(context.Background()))
	t.Cleanup(func() { s.Close() }) //nolint:errcheck
	return s
}

func TestNewSQLite_InvalidDSN(t *testing.T) {
	_, err := NewSQLite("/nonexistent/dir/subdir/test.db")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "sqlite")
}

func TestNewSQLite_WALMode(t *testing.T) {
	s := newTestSQLite(t)

	var mode string
	require.NoError(t, s.db.QueryRow("PRAGMA journal_mode").Scan(&mode))
	assert.Equal(t, "wal", mode)
	assert.NoError(t, s.Ping(context.Background()))
}

func TestSQLite_MigrateIdempotent(t *testing.T) {
	s := newTestSQLite(t)
	require.NoError(t, s.Migrate(context.Background()))
}

func TestSQLite_RecordFailedQuery_Dedup(t *testing.T) {
	s := newTestSQLite(t)
	ctx := context.Background()

	first, err := s.RecordFailedQuery(ctx, "Red Peepper", "red peepper")
	require.NoError(t, err)
	assert.Equal(t, 1, first.SeenCount)
	assert.Equal(t, model.StatusNew, first.Status)
	assert.Equal(t, "Red Peepper", first.Query)

	time.Sleep(5 * time.Millisecond)
	second, err := s.RecordFailedQuery(ctx, "red   peepper", "red peepper")
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, 2, second.SeenCount)
	// The first raw text wins.
	assert.Equal(t, "Red Peepper", second.Query)
	assert.False(t, second.LastSeenAt.Before(first.LastSeenAt))
	assert.True(t, second.FirstSeenAt.Equal(first.FirstSeenAt))
}

func TestSQLite_ListFailedQueries_PriorityOrder(t *testing.T) {
	s := newTestSQLite(t)
	ctx := context.Background()

	_, err := s.RecordFailedQuery(ctx, "once", "once")
	require.NoError(t, err)
	for i := 0; i < 3; i++ {
		_, err = s.RecordFailedQuery(ctx, "thrice", "thrice")
		require.NoError(t, err)
	}
	time.Sleep(5 * time.Millisecond)
	_, err = s.RecordFailedQuery(ctx, "later once", "later once")
	require.NoError(t, err)

	got, err := s.ListFailedQueries(ctx, QueryFilter{Status: model.StatusNew})
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, "thrice", got[0].NormalizedQuery)
	assert.Equal(t, "later once", got[1].NormalizedQuery)
	assert.Equal(t, "once", got[2].NormalizedQuery)

	limited, err := s.ListFailedQueries(ctx, QueryFilter{Limit: 1})
	require.NoError(t, err)
	assert.Len(t, limited, 1)

	none, err := s.ListFailedQueries(ctx, QueryFilter{Status: model.StatusResolved})
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestSQLite_UpdateFailedQuery(t *testing.T) {
	s := newTestSQLite(t)
	ctx := context.Background()

	q, err := s.RecordFailedQuery(ctx, "kale", "kale")
	require.NoError(t, err)

	label := model.LabelFood
	score := 0.82
	q.Status = model.StatusQueued
	q.Label = &label
	q.Score = &score
	q.Note = "trgm>=0.30 match=Kale, raw"
	require.NoError(t, s.WithTx(ctx, func(tx Tx) error {
		return tx.UpdateFailedQuery(ctx, q)
	}))

	got, err := s.GetFailedQuery(ctx, q.ID)
	require.NoError(t, err)
	require.NotNil(t, got.Label)
	assert.Equal(t, model.LabelFood, *got.Label)
	require.NotNil(t, got.Score)
	assert.InDelta(t, 0.82, *got.Score, 1e-9)
	assert.Equal(t, model.StatusQueued, got.Status)
	assert.Equal(t, "trgm>=0.30 match=Kale, raw", got.Note)

	counts, err := s.CountByStatus(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, counts[model.StatusQueued])

	missing := &model.FailedQuery{ID: 999, Status: model.StatusQueued}
	err = s.WithTx(ctx, func(tx Tx) error { return tx.UpdateFailedQuery(ctx, missing) })
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not found")
}

func TestSQLite_GetFailedQuery_NotFound(t *testing.T) {
	s := newTestSQLite(t)
	got, err := s.GetFailedQuery(context.Background(), 42)
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestSQLite_WithTx_RollsBack(t *testing.T) {
	s := newTestSQLite(t)
	ctx := context.Background()

	q, err := s.RecordFailedQuery(ctx, "oats", "oats")
	require.NoError(t, err)

	err = s.WithTx(ctx, func(tx Tx) error {
		q.Status = model.StatusRejected
		if err := tx.UpdateFailedQuery(ctx, q); err != nil {
			return err
		}
		return assert.AnError
	})
	require.ErrorIs(t, err, assert.AnError)

	got, err := s.GetFailedQuery(ctx, q.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusNew, got.Status)
}

func TestSQLite_Candidates_LayeredDedup(t *testing.T) {
	s := newTestSQLite(t)
	ctx := context.Background()

	q, err := s.RecordFailedQuery(ctx, "chickpeas raw", "chickpeas raw")
	require.NoError(t, err)

	year := 2019
	byDOI := &model.Candidate{FailedQueryID: q.ID, Provider: "crossref", Title: "Amino acids of chickpea", DOI: "10.1/abc", PublishedYear: &year, Score: 0.9}
	byURL := &model.Candidate{FailedQueryID: q.ID, Provider: "pubmed", Title: "Chickpea protein", URL: "https://pubmed.ncbi.nlm.nih.gov/1/", Score: 0.5}
	byTitle := &model.Candidate{FailedQueryID: q.ID, Provider: "crossref", Title: "Untitled legume survey", Score: 0.1}

	require.NoError(t, s.WithTx(ctx, func(tx Tx) error {
		for _, c := range []*model.Candidate{byDOI, byURL, byTitle} {
			exists, err := tx.CandidateExists(ctx, c)
			require.NoError(t, err)
			assert.False(t, exists)
			id, err := tx.InsertCandidate(ctx, c)
			require.NoError(t, err)
			assert.NotZero(t, id)
		}
		return nil
	}))

	require.NoError(t, s.WithTx(ctx, func(tx Tx) error {
		for _, c := range []*model.Candidate{byDOI, byURL, byTitle} {
			exists, err := tx.CandidateExists(ctx, c)
			require.NoError(t, err)
			assert.True(t, exists, c.Title)
		}
		// Same DOI under another provider is a different candidate.
		other := *byDOI
		other.Provider = "pubmed"
		exists, err := tx.CandidateExists(ctx, &other)
		require.NoError(t, err)
		assert.False(t, exists)

		// A racing duplicate is swallowed by the unique index.
		id, err := tx.InsertCandidate(ctx, byDOI)
		require.NoError(t, err)
		assert.Zero(t, id)
		return nil
	}))

	got, err := s.ListCandidates(ctx, q.ID, 10)
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, "10.1/abc", got[0].DOI)
	require.NotNil(t, got[0].PublishedYear)
	assert.Equal(t, 2019, *got[0].PublishedYear)
	assert.Equal(t, "pubmed", got[1].Provider)
	assert.Nil(t, got[2].PublishedYear)
	assert.False(t, got[0].CreatedAt.IsZero())
}

func TestSQLite_FoodsAndCatalogMatch(t *testing.T) {
	s := newTestSQLite(t)
	ctx := context.Background()

	none, err := s.BestCatalogMatch(ctx, "anything")
	require.NoError(t, err)
	assert.Nil(t, none)

	pepper, err := s.GetOrCreateFood(ctx, model.Food{Name: "Peppers, sweet, red, raw", ExternalSource: "usda", ExternalFoodID: "11821"})
	require.NoError(t, err)
	assert.True(t, pepper.Incomplete)
	assert.Equal(t, 9, pepper.EssentialTotal)

	again, err := s.GetOrCreateFood(ctx, model.Food{Name: "renamed", ExternalSource: "usda", ExternalFoodID: "11821"})
	require.NoError(t, err)
	assert.Equal(t, pepper.ID, again.ID)
	assert.Equal(t, "Peppers, sweet, red, raw", again.Name)

	_, err = s.GetOrCreateFood(ctx, model.Food{Name: "Chickpeas, raw", ExternalSource: "usda", ExternalFoodID: "16056"})
	require.NoError(t, err)

	m, err := s.BestCatalogMatch(ctx, "red peepper")
	require.NoError(t, err)
	require.NotNil(t, m)
	assert.Equal(t, pepper.ID, m.FoodID)
	assert.InDelta(t, 0.375, m.Similarity, 1e-9)

	missing, err := s.GetFood(ctx, 999)
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestSQLite_SourcesAndFacts(t *testing.T) {
	s := newTestSQLite(t)
	ctx := context.Background()

	food, err := s.GetOrCreateFood(ctx, model.Food{Name: "Chickpeas, raw", ExternalSource: "publication", ExternalFoodID: "chickpeas raw"})
	require.NoError(t, err)

	var src *model.Source
	require.NoError(t, s.WithTx(ctx, func(tx Tx) error {
		found, err := tx.FindPublicationSource(ctx, "https://doi.org/10.1/abc")
		require.NoError(t, err)
		assert.Nil(t, found)

		src, err = tx.InsertSource(ctx, &model.Source{Type: model.SourcePublication, URL: "https://doi.org/10.1/abc"})
		require.NoError(t, err)

		// Same URL returns the stored row rather than a second one.
		dup, err := tx.InsertSource(ctx, &model.Source{Type: model.SourcePublication, URL: "https://doi.org/10.1/abc", Name: "x"})
		require.NoError(t, err)
		assert.Equal(t, src.ID, dup.ID)

		src.Name = "Amino acids of chickpea"
		src.Citation = "Doe J (2019). Amino acids of chickpea. doi:10.1/abc"
		return tx.UpdateSource(ctx, src)
	}))

	require.NoError(t, s.WithTx(ctx, func(tx Tx) error {
		found, err := tx.FindPublicationSource(ctx, "https://doi.org/10.1/abc")
		require.NoError(t, err)
		require.NotNil(t, found)
		assert.Equal(t, "Amino acids of chickpea", found.Name)

		f, err := tx.UpsertFact(ctx, &model.AminoAcidFact{FoodID: food.ID, AminoAcid: "lysine", AmountMg: 1200, Units: model.CanonicalUnit, Confidence: 0.9, SourceID: src.ID})
		require.NoError(t, err)
		assert.InDelta(t, 0.9, f.Confidence, 1e-9)

		// Lower confidence replaces the amount but keeps the higher confidence.
		f, err = tx.UpsertFact(ctx, &model.AminoAcidFact{FoodID: food.ID, AminoAcid: "lysine", AmountMg: 1300, Units: model.CanonicalUnit, Confidence: 0.7, SourceID: src.ID})
		require.NoError(t, err)
		assert.InDelta(t, 1300, f.AmountMg, 1e-9)
		assert.InDelta(t, 0.9, f.Confidence, 1e-9)

		facts, err := tx.FactsForFood(ctx, food.ID)
		require.NoError(t, err)
		assert.Len(t, facts, 1)

		return tx.SaveCoverage(ctx, food.ID, model.Coverage{Present: 1, Total: 9, Incomplete: true})
	}))

	got, err := s.GetFood(ctx, food.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, got.EssentialPresent)
	assert.True(t, got.Incomplete)

	facts, err := s.ListFacts(ctx, food.ID)
	require.NoError(t, err)
	require.Len(t, facts, 1)
	assert.Equal(t, "lysine", facts[0].AminoAcid)

	err = s.WithTx(ctx, func(tx Tx) error {
		return tx.SaveCoverage(ctx, 999, model.Coverage{Total: 9})
	})
	assert.Error(t, err)
}
