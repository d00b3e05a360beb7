package model

import "time"

// QueryStatus is the lifecycle state of a FailedQuery.
type QueryStatus string

const (
	StatusNew            QueryStatus = "new"
	StatusQueued         QueryStatus = "queued"
	StatusRejected       QueryStatus = "rejected"
	StatusCandidatesDone QueryStatus = "candidates_done"
	StatusResolved       QueryStatus = "resolved"
	StatusNeedsReview    QueryStatus = "needs_review"
)

// AllStatuses lists every status in pipeline order.
var AllStatuses = []QueryStatus{
	StatusNew,
	StatusQueued,
	StatusRejected,
	StatusCandidatesDone,
	StatusResolved,
	StatusNeedsReview,
}

var transitions = map[QueryStatus][]QueryStatus{
	StatusNew:            {StatusQueued, StatusRejected},
	StatusQueued:         {StatusCandidatesDone},
	StatusCandidatesDone: {StatusResolved, StatusNeedsReview},
}

// CanTransition reports whether automation may move a query from s to next.
// Staying in place is always allowed so a stage can annotate a row it could
// not advance.
func (s QueryStatus) CanTransition(next QueryStatus) bool {
	if s == next {
		return true
	}
	for _, allowed := range transitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Terminal reports whether automation stops at s. needs_review is terminal
// for the pipeline but still open for an operator.
func (s QueryStatus) Terminal() bool {
	switch s {
	case StatusRejected, StatusResolved, StatusNeedsReview:
		return true
	}
	return false
}

// Valid reports whether s is a known status.
func (s QueryStatus) Valid() bool {
	for _, known := range AllStatuses {
		if s == known {
			return true
		}
	}
	return false
}

// Label is the triage classifier's verdict.
type Label string

const (
	LabelFood Label = "food"
	LabelJunk Label = "junk"
)

// FailedQuery is a user search that missed the curated catalog.
type FailedQuery struct {
	ID              int64       `json:"id" db:"id"`
	Query           string      `json:"query" db:"query"`
	NormalizedQuery string      `json:"normalized_query" db:"normalized_query"`
	SeenCount       int         `json:"seen_count" db:"seen_count"`
	FirstSeenAt     time.Time   `json:"first_seen_at" db:"first_seen_at"`
	LastSeenAt      time.Time   `json:"last_seen_at" db:"last_seen_at"`
	Status          QueryStatus `json:"status" db:"status"`
	Label           *Label      `json:"nlp_label,omitempty" db:"nlp_label"`
	Score           *float64    `json:"nlp_score,omitempty" db:"nlp_score"`
	Note            string      `json:"note,omitempty" db:"note"`
}
