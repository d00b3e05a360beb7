// Package monitoring watches the failed-query queue and raises alerts when
// it stops draining.
package monitoring

import (
	"context"
	"strings"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/aminoscout/internal/model"
	"github.com/sells-group/aminoscout/internal/pipeline"
	"github.com/sells-group/aminoscout/internal/store"
)

// retryScanLimit bounds the queued rows scanned for retry notes.
const retryScanLimit = 10000

// Snapshot is a point-in-time view of queue health.
type Snapshot struct {
	Counts map[model.QueryStatus]int `json:"counts"`

	// Backlog is every row automation has not finished with.
	Backlog int `json:"backlog"`
	// ReviewRate is needs_review / (resolved + needs_review).
	ReviewRate float64 `json:"review_rate"`
	// RetryPending counts queued rows whose last discovery attempt failed on
	// every provider.
	RetryPending int `json:"retry_pending"`

	CollectedAt time.Time `json:"collected_at"`
}

// QueueReader is the slice of the store the collector reads.
type QueueReader interface {
	CountByStatus(ctx context.Context) (map[model.QueryStatus]int, error)
	ListFailedQueries(ctx context.Context, filter store.QueryFilter) ([]model.FailedQuery, error)
}

// Collector gathers snapshots from the store.
type Collector struct {
	store QueueReader
}

// NewCollector creates a new queue collector.
func NewCollector(st QueueReader) *Collector {
	return &Collector{store: st}
}

// Collect gathers a snapshot of the queue.
func (c *Collector) Collect(ctx context.Context) (*Snapshot, error) {
	counts, err := c.store.CountByStatus(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "monitoring: count by status")
	}

	snap := &Snapshot{
		Counts:      make(map[model.QueryStatus]int, len(model.AllStatuses)),
		CollectedAt: time.Now().UTC(),
	}
	for _, st := range model.AllStatuses {
		snap.Counts[st] = counts[st]
		if !st.Terminal() {
			snap.Backlog += counts[st]
		}
	}

	finished := counts[model.StatusResolved] + counts[model.StatusNeedsReview]
	if finished > 0 {
		snap.ReviewRate = float64(counts[model.StatusNeedsReview]) / float64(finished)
	}

	if counts[model.StatusQueued] > 0 {
		queued, err := c.store.ListFailedQueries(ctx, store.QueryFilter{
			Status: model.StatusQueued,
			Limit:  retryScanLimit,
		})
		if err != nil {
			return nil, eris.Wrap(err, "monitoring: list queued")
		}
		for _, fq := range queued {
			if strings.HasPrefix(fq.Note, pipeline.NoteRetryPrefix) {
				snap.RetryPending++
			}
		}
	}

	return snap, nil
}
