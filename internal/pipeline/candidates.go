package pipeline

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/aminoscout/internal/discovery"
	"github.com/sells-group/aminoscout/internal/model"
	"github.com/sells-group/aminoscout/internal/store"
)

// NoteRetryPrefix starts the note on a queued row whose providers all
// failed.
const NoteRetryPrefix = "candidate search failed, will retry: "

// DiscoverStats summarizes a candidate discovery run.
type DiscoverStats struct {
	Processed  int `json:"processed"`
	Advanced   int `json:"advanced"`
	Retry      int `json:"retry"`
	Candidates int `json:"candidates_inserted"`
}

// GenerateCandidates searches every provider for up to limit queued
// queries, persists the topK ranked hits and marks each row
// candidates_done. A row whose providers all failed stays queued with a note
// so the next run retries it. Each row commits on its own.
func (p *Pipeline) GenerateCandidates(ctx context.Context, limit, topK int) (DiscoverStats, error) {
	defer p.metrics.TimeStage(StageCandidates)()
	log := zap.L().With(zap.String("stage", StageCandidates))
	start := time.Now()

	var stats DiscoverStats
	if p.discoverer == nil {
		return stats, eris.New("pipeline: candidate discovery requires providers")
	}

	rows, err := p.pending(ctx, model.StatusQueued, limit)
	if err != nil {
		return stats, eris.Wrap(err, "pipeline: list queued queries")
	}

	for i := range rows {
		if err := ctx.Err(); err != nil {
			return stats, err
		}
		fq := &rows[i]
		qlog := log.With(zap.Int64("failed_query_id", fq.ID))

		res, discErr := p.discoverer.Discover(ctx, fq.Query)
		if discErr != nil && ctx.Err() != nil {
			return stats, ctx.Err()
		}
		p.countProviderFailures(res.Warnings)

		var inserted int
		err := p.store.WithTx(ctx, func(tx store.Tx) error {
			if discErr != nil {
				fq.Note = NoteRetryPrefix + discErr.Error()
				return tx.UpdateFailedQuery(ctx, fq)
			}

			ranked := discovery.Rank(res.Hits, fq.Query, topK)
			n, err := discovery.Persist(ctx, tx, fq.ID, ranked)
			if err != nil {
				return err
			}
			inserted = n

			fq.Status = model.StatusCandidatesDone
			fq.Note = candidatesNote(n, len(res.Hits), res.Warnings)
			return tx.UpdateFailedQuery(ctx, fq)
		})
		if err != nil {
			return stats, eris.Wrapf(err, "pipeline: save candidates for query %d", fq.ID)
		}

		stats.Processed++
		if discErr != nil {
			stats.Retry++
			qlog.Warn("every provider failed, row stays queued", zap.Error(discErr))
		} else {
			stats.Advanced++
			stats.Candidates += inserted
			p.metrics.CandidatesInserted.Add(float64(inserted))
			p.metrics.Transition(StageCandidates, string(model.StatusCandidatesDone))
			qlog.Debug("candidates saved",
				zap.Int("hits", len(res.Hits)),
				zap.Int("inserted", inserted),
				zap.Strings("warnings", res.Warnings),
			)
		}
		if (i+1)%progressEvery == 0 {
			log.Info("candidates progress", zap.Int("done", i+1), zap.Int("total", len(rows)))
		}
	}

	log.Info("candidates complete",
		zap.Int("processed", stats.Processed),
		zap.Int("advanced", stats.Advanced),
		zap.Int("retry", stats.Retry),
		zap.Int("candidates_inserted", stats.Candidates),
		zap.Duration("elapsed", time.Since(start)),
	)
	return stats, nil
}

func candidatesNote(inserted, hits int, warnings []string) string {
	note := fmt.Sprintf("%d candidates saved from %d hits", inserted, hits)
	if len(warnings) > 0 {
		note += "; partial provider failure: " + strings.Join(warnings, "; ")
	}
	return note
}

// countProviderFailures reads the provider name off each "name: err" warning.
func (p *Pipeline) countProviderFailures(warnings []string) {
	for _, w := range warnings {
		name, _, _ := strings.Cut(w, ":")
		p.metrics.ProviderFailures.WithLabelValues(name).Inc()
	}
}
