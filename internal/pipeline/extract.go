package pipeline

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/aminoscout/internal/extract"
	"github.com/sells-group/aminoscout/internal/fulltext"
	"github.com/sells-group/aminoscout/internal/fusion"
	"github.com/sells-group/aminoscout/internal/model"
	"github.com/sells-group/aminoscout/internal/store"
)

// needs_review notes.
const (
	NoteNoCandidates    = "no paper candidates available"
	NoteNoFullText      = "no PMC XML"
	NoteNoTables        = "no amino-acid tables found"
	NoteNoFoodMatch     = "could not confidently match food"
	NoteNoValidValues   = "extraction yielded no valid rows"
	NoteAmbiguousValues = "amino-acid values use comma number formatting"
)

// ExtractStats summarizes an extraction run.
type ExtractStats struct {
	Processed   int `json:"processed"`
	Resolved    int `json:"resolved"`
	NeedsReview int `json:"needs_review"`
	Facts       int `json:"facts_written"`
}

// Outcome is what extraction decided for one query.
type Outcome struct {
	Status model.QueryStatus
	Note   string
	Facts  int
}

// Extract processes up to limit candidates_done queries: fetch the best
// candidate's full text, read its amino-acid tables and write the values to
// the matched food. Each row commits on its own.
func (p *Pipeline) Extract(ctx context.Context, limit int) (ExtractStats, error) {
	defer p.metrics.TimeStage(StageExtract)()
	log := zap.L().With(zap.String("stage", StageExtract))
	start := time.Now()

	var stats ExtractStats
	if p.retriever == nil {
		return stats, eris.New("pipeline: extraction requires a full-text retriever")
	}

	rows, err := p.pending(ctx, model.StatusCandidatesDone, limit)
	if err != nil {
		return stats, eris.Wrap(err, "pipeline: list candidates_done queries")
	}

	for i := range rows {
		if err := ctx.Err(); err != nil {
			return stats, err
		}
		fq := &rows[i]

		out, err := p.extractOne(ctx, fq)
		if err != nil {
			return stats, err
		}

		stats.Processed++
		stats.Facts += out.Facts
		if out.Status == model.StatusResolved {
			stats.Resolved++
		} else {
			stats.NeedsReview++
		}
		p.metrics.Transition(StageExtract, string(out.Status))
		p.metrics.FactsUpserted.Add(float64(out.Facts))

		log.Debug("extracted",
			zap.Int64("failed_query_id", fq.ID),
			zap.String("status", string(out.Status)),
			zap.String("note", out.Note),
		)
		if (i+1)%progressEvery == 0 {
			log.Info("extract progress", zap.Int("done", i+1), zap.Int("total", len(rows)))
		}
	}

	log.Info("extract complete",
		zap.Int("processed", stats.Processed),
		zap.Int("resolved", stats.Resolved),
		zap.Int("needs_review", stats.NeedsReview),
		zap.Int("facts_written", stats.Facts),
		zap.Duration("elapsed", time.Since(start)),
	)
	return stats, nil
}

// extractOne decides and persists the outcome for one query. Network work
// happens before the row's transaction opens. Only data-layer failures and
// cancellation are returned as errors.
func (p *Pipeline) extractOne(ctx context.Context, fq *model.FailedQuery) (Outcome, error) {
	log := zap.L().With(zap.String("stage", StageExtract), zap.Int64("failed_query_id", fq.ID))

	cands, err := p.store.ListCandidates(ctx, fq.ID, 1)
	if err != nil {
		return Outcome{}, eris.Wrapf(err, "pipeline: list candidates for query %d", fq.ID)
	}
	if len(cands) == 0 {
		return p.review(ctx, fq, NoteNoCandidates)
	}
	cand := cands[0]

	doc, err := p.retriever.Fetch(ctx, cand.Title, cand.URL, cand.DOI)
	if err != nil {
		return Outcome{}, eris.Wrapf(err, "pipeline: fetch full text for candidate %d", cand.ID)
	}
	if !doc.HasContent() {
		note := strings.Join(doc.Warnings, "; ")
		if note == "" {
			note = NoteNoFullText
		}
		return p.review(ctx, fq, note)
	}

	read, err := extract.Extract(ctx, doc.Content)
	if err != nil {
		return Outcome{}, eris.Wrapf(err, "pipeline: extract tables for query %d", fq.ID)
	}
	facts := read.Facts
	if len(facts) == 0 {
		if read.Ambiguous > 0 {
			return p.review(ctx, fq, NoteAmbiguousValues)
		}
		return p.review(ctx, fq, NoteNoTables)
	}
	if read.Ambiguous > 0 {
		log.Warn("comma-formatted rows skipped", zap.Int("rows", read.Ambiguous))
	}

	match, err := p.store.BestCatalogMatch(ctx, fq.NormalizedQuery)
	if err != nil {
		return Outcome{}, eris.Wrapf(err, "pipeline: match food for query %d", fq.ID)
	}
	if match == nil || match.Similarity < p.cfg.FoodMatchThreshold {
		return p.review(ctx, fq, NoteNoFoodMatch)
	}

	values := validValues(facts)
	if len(values) == 0 {
		return p.review(ctx, fq, NoteNoValidValues)
	}

	out := Outcome{
		Status: model.StatusResolved,
		Note:   fmt.Sprintf("extracted from paper candidate %d", cand.ID),
	}
	err = p.store.WithTx(ctx, func(tx store.Tx) error {
		res, err := fusion.Apply(ctx, tx, fusion.Batch{
			FoodID:     match.FoodID,
			Source:     publicationFor(cand, doc),
			Values:     values,
			Confidence: p.cfg.ExtractConfidence,
		})
		if err != nil {
			return err
		}
		out.Facts = len(res.Facts)

		fq.Status = out.Status
		fq.Note = out.Note
		return tx.UpdateFailedQuery(ctx, fq)
	})
	if err != nil {
		return Outcome{}, eris.Wrapf(err, "pipeline: save extraction for query %d", fq.ID)
	}

	log.Info("resolved from paper",
		zap.Int64("candidate_id", cand.ID),
		zap.Int64("food_id", match.FoodID),
		zap.String("food", match.Name),
		zap.Int("facts", out.Facts),
		zap.String("context", facts[0].Context),
	)
	return out, nil
}

func (p *Pipeline) review(ctx context.Context, fq *model.FailedQuery, note string) (Outcome, error) {
	fq.Status = model.StatusNeedsReview
	fq.Note = note
	err := p.store.WithTx(ctx, func(tx store.Tx) error {
		return tx.UpdateFailedQuery(ctx, fq)
	})
	if err != nil {
		return Outcome{}, eris.Wrapf(err, "pipeline: mark query %d for review", fq.ID)
	}
	return Outcome{Status: model.StatusNeedsReview, Note: note}, nil
}

// validValues keeps the first valid value per acid in document order.
func validValues(facts []extract.Fact) []fusion.Value {
	seen := make(map[string]bool, len(facts))
	out := make([]fusion.Value, 0, len(facts))
	for _, f := range facts {
		v := fusion.Value{AminoAcid: f.AminoAcid, AmountMg: f.AmountMgPer100g}
		if seen[v.AminoAcid] || v.Validate() != nil {
			continue
		}
		seen[v.AminoAcid] = true
		out = append(out, v)
	}
	return out
}

// publicationFor describes the paper a document came from.
func publicationFor(c model.Candidate, doc *fulltext.Document) fusion.PublicationInput {
	doi := doc.DOI
	if doi == "" {
		doi = c.DOI
	}
	title := doc.Title
	if title == "" {
		title = c.Title
	}
	url := doc.SourceURL
	if url == "" && doi != "" {
		url = "https://doi.org/" + doi
	}
	return fusion.PublicationInput{
		Name:     title,
		URL:      url,
		Citation: Citation(c.Authors, c.PublishedYear, title, doi),
		Version:  doi,
	}
}

// Citation formats "Authors (Year). Title. doi:DOI", leaving out parts that
// are unknown.
func Citation(authors string, year *int, title, doi string) string {
	head := strings.TrimSpace(authors)
	if year != nil {
		head = strings.TrimSpace(fmt.Sprintf("%s (%d)", head, *year))
	}
	var parts []string
	for _, s := range []string{head, strings.TrimSpace(title)} {
		if s != "" {
			parts = append(parts, strings.TrimSuffix(s, "."))
		}
	}
	if doi != "" {
		parts = append(parts, "doi:"+doi)
	}
	return strings.Join(parts, ". ")
}
