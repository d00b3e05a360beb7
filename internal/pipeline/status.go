package pipeline

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/sells-group/aminoscout/internal/model"
	"github.com/sells-group/aminoscout/internal/store"
)

// StatusReport is the operator view of the queue.
type StatusReport struct {
	Counts map[model.QueryStatus]int `json:"counts"`
	Review []model.FailedQuery       `json:"needs_review"`
}

// Status counts queries per status (every status present, zero included)
// and lists up to reviewLimit needs_review rows in priority order.
func (p *Pipeline) Status(ctx context.Context, reviewLimit int) (StatusReport, error) {
	counts, err := p.store.CountByStatus(ctx)
	if err != nil {
		return StatusReport{}, eris.Wrap(err, "pipeline: count by status")
	}
	report := StatusReport{Counts: make(map[model.QueryStatus]int, len(model.AllStatuses))}
	for _, st := range model.AllStatuses {
		report.Counts[st] = counts[st]
	}

	if reviewLimit > 0 {
		report.Review, err = p.store.ListFailedQueries(ctx, store.QueryFilter{
			Status: model.StatusNeedsReview,
			Limit:  reviewLimit,
		})
		if err != nil {
			return StatusReport{}, eris.Wrap(err, "pipeline: list needs_review")
		}
	}
	return report, nil
}

// RunLimits bounds each stage of a full run.
type RunLimits struct {
	Triage   int
	Discover int
	TopK     int
	Extract  int
}

// RunStats collects the per-stage summaries of a full run.
type RunStats struct {
	Triage     TriageStats   `json:"triage"`
	Candidates DiscoverStats `json:"candidates"`
	Extract    ExtractStats  `json:"extract"`
}

// Run executes triage, candidate discovery and extraction in order. The
// first stage error stops the run; earlier stages stay committed.
func (p *Pipeline) Run(ctx context.Context, lim RunLimits) (RunStats, error) {
	var rs RunStats
	var err error

	if rs.Triage, err = p.Triage(ctx, lim.Triage); err != nil {
		return rs, err
	}
	if rs.Candidates, err = p.GenerateCandidates(ctx, lim.Discover, lim.TopK); err != nil {
		return rs, err
	}
	if rs.Extract, err = p.Extract(ctx, lim.Extract); err != nil {
		return rs, err
	}
	return rs, nil
}
