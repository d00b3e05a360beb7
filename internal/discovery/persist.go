package discovery

import (
	"context"
	"strings"
	"unicode/utf8"

	"github.com/rotisserie/eris"

	"github.com/sells-group/aminoscout/internal/model"
)

// maxTitleRunes matches the candidate title column width.
const maxTitleRunes = 500

// CandidateWriter is the slice of a store transaction Persist needs.
type CandidateWriter interface {
	CandidateExists(ctx context.Context, c *model.Candidate) (bool, error)
	InsertCandidate(ctx context.Context, c *model.Candidate) (int64, error)
}

// ToCandidate converts a ranked hit into a candidate row for failedQueryID.
// Titles are trimmed and cut to 500 runes.
func ToCandidate(failedQueryID int64, s ScoredHit) model.Candidate {
	title := strings.TrimSpace(s.Hit.Title)
	if utf8.RuneCountInString(title) > maxTitleRunes {
		title = string([]rune(title)[:maxTitleRunes])
	}
	return model.Candidate{
		FailedQueryID: failedQueryID,
		Provider:      s.Hit.Provider,
		Title:         title,
		DOI:           strings.TrimSpace(s.Hit.DOI),
		URL:           strings.TrimSpace(s.Hit.URL),
		PublishedYear: s.Hit.Year,
		Authors:       strings.TrimSpace(s.Hit.Authors),
		Abstract:      strings.TrimSpace(s.Hit.Abstract),
		Score:         s.Score,
		RawScore:      s.Hit.RawScore,
	}
}

// Persist stores ranked hits as candidates, skipping any that already exist
// under the layered dedup key. It returns the number of rows inserted.
func Persist(ctx context.Context, w CandidateWriter, failedQueryID int64, ranked []ScoredHit) (int, error) {
	inserted := 0
	for _, s := range ranked {
		c := ToCandidate(failedQueryID, s)
		if c.Title == "" {
			continue
		}

		exists, err := w.CandidateExists(ctx, &c)
		if err != nil {
			return inserted, eris.Wrap(err, "discovery: check candidate")
		}
		if exists {
			continue
		}

		id, err := w.InsertCandidate(ctx, &c)
		if err != nil {
			return inserted, eris.Wrap(err, "discovery: insert candidate")
		}
		if id != 0 {
			inserted++
		}
	}
	return inserted, nil
}
