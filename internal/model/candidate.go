package model

import "time"

// Candidate is a bibliographic hit proposed as a source document for a
// FailedQuery. Rows are never updated after insert.
type Candidate struct {
	ID            int64     `json:"id" db:"id"`
	FailedQueryID int64     `json:"failed_query_id" db:"failed_query_id"`
	Provider      string    `json:"provider" db:"provider"`
	Title         string    `json:"title" db:"title"`
	DOI           string    `json:"doi,omitempty" db:"doi"`
	URL           string    `json:"url,omitempty" db:"url"`
	PublishedYear *int      `json:"published_year,omitempty" db:"published_year"`
	Authors       string    `json:"authors,omitempty" db:"authors"`
	Abstract      string    `json:"abstract,omitempty" db:"abstract"`
	Score         float64   `json:"score" db:"score"`
	RawScore      *float64  `json:"raw_score,omitempty" db:"raw_score"`
	CreatedAt     time.Time `json:"created_at" db:"created_at"`
}
