package classify

import (
	"context"
	"fmt"

	"github.com/rotisserie/eris"

	"github.com/sells-group/aminoscout/internal/model"
)

// DefaultSimilarityThreshold keeps "red peepper" (0.375 against
// "Peppers, sweet, red, raw") while rejecting unrelated catalog names.
const DefaultSimilarityThreshold = 0.30

// Lexical labels a query food when its trigram similarity to the closest
// catalog name reaches the threshold.
type Lexical struct {
	matcher   CatalogMatcher
	threshold float64
}

// NewLexical creates a Lexical classifier. A non-positive threshold selects
// DefaultSimilarityThreshold.
func NewLexical(matcher CatalogMatcher, threshold float64) *Lexical {
	if threshold <= 0 {
		threshold = DefaultSimilarityThreshold
	}
	return &Lexical{matcher: matcher, threshold: threshold}
}

// Classify implements Classifier. Errors come only from the catalog read.
func (l *Lexical) Classify(ctx context.Context, query string) (Result, error) {
	prepared := Prepare(query)
	if res, rejected := HardReject(query, prepared); rejected {
		return res, nil
	}

	match, err := l.matcher.BestCatalogMatch(ctx, prepared)
	if err != nil {
		return Result{}, eris.Wrap(err, "classify: catalog lookup")
	}

	var sim float64
	name := "None"
	if match != nil {
		sim = match.Similarity
		name = match.Name
	}

	if sim >= l.threshold {
		return Result{
			Label:  model.LabelFood,
			Score:  sim,
			Reason: fmt.Sprintf("trgm>=%.2f match=%s", l.threshold, name),
		}, nil
	}
	return Result{
		Label:  model.LabelJunk,
		Score:  sim,
		Reason: fmt.Sprintf("trgm<%.2f best_match=%s", l.threshold, name),
	}, nil
}
