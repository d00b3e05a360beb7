package pipeline

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/aminoscout/internal/model"
	"github.com/sells-group/aminoscout/internal/store"
)

// TriageStats summarizes a triage run.
type TriageStats struct {
	Processed int `json:"processed"`
	Queued    int `json:"queued"`
	Rejected  int `json:"rejected"`
}

// Triage classifies up to limit new queries in priority order. The whole
// batch commits in one transaction; a classifier error aborts it with
// nothing written.
func (p *Pipeline) Triage(ctx context.Context, limit int) (TriageStats, error) {
	defer p.metrics.TimeStage(StageTriage)()
	log := zap.L().With(zap.String("stage", StageTriage))
	start := time.Now()

	var stats TriageStats
	if p.classifier == nil {
		return stats, eris.New("pipeline: triage requires a classifier")
	}

	rows, err := p.pending(ctx, model.StatusNew, limit)
	if err != nil {
		return stats, eris.Wrap(err, "pipeline: list new queries")
	}
	if len(rows) == 0 {
		log.Info("no new failed queries")
		return stats, nil
	}

	var transitions []model.QueryStatus
	err = p.store.WithTx(ctx, func(tx store.Tx) error {
		for i := range rows {
			if err := ctx.Err(); err != nil {
				return err
			}
			fq := &rows[i]

			res, err := p.classifier.Classify(ctx, fq.Query)
			if err != nil {
				return eris.Wrapf(err, "pipeline: classify query %d", fq.ID)
			}

			next := model.StatusRejected
			if res.Label == model.LabelFood {
				next = model.StatusQueued
			}
			label, score := res.Label, res.Score
			fq.Label = &label
			fq.Score = &score
			fq.Status = next
			fq.Note = "NLP: " + res.Reason

			if err := tx.UpdateFailedQuery(ctx, fq); err != nil {
				return eris.Wrapf(err, "pipeline: update query %d", fq.ID)
			}
			transitions = append(transitions, next)

			log.Debug("triaged",
				zap.Int64("failed_query_id", fq.ID),
				zap.String("status", string(next)),
				zap.Float64("score", res.Score),
				zap.String("reason", res.Reason),
			)
			if (i+1)%progressEvery == 0 {
				log.Info("triage progress", zap.Int("done", i+1), zap.Int("total", len(rows)))
			}
		}
		return nil
	})
	if err != nil {
		return TriageStats{}, err
	}

	for _, st := range transitions {
		stats.Processed++
		if st == model.StatusQueued {
			stats.Queued++
		} else {
			stats.Rejected++
		}
		p.metrics.Transition(StageTriage, string(st))
	}

	log.Info("triage complete",
		zap.Int("processed", stats.Processed),
		zap.Int("queued", stats.Queued),
		zap.Int("rejected", stats.Rejected),
		zap.Duration("elapsed", time.Since(start)),
	)
	return stats, nil
}
