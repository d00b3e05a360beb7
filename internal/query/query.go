// Package query normalizes user search text and records searches that missed
// the catalog.
package query

import (
	"context"
	"strings"
	"unicode/utf8"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/aminoscout/internal/model"
)

// MinLength is the shortest normalized query worth recording.
const MinLength = 2

// Normalize lowercases raw, collapses internal whitespace to single spaces
// and trims the ends. Normalize(Normalize(s)) == Normalize(s).
func Normalize(raw string) string {
	return strings.Join(strings.Fields(strings.ToLower(raw)), " ")
}

// Recorder persists failed queries with insert-or-increment semantics.
type Recorder interface {
	RecordFailedQuery(ctx context.Context, raw, normalized string) (*model.FailedQuery, error)
}

// Logger is the entrypoint for unmatched searches.
type Logger struct {
	rec Recorder
}

// NewLogger creates a Logger writing through rec.
func NewLogger(rec Recorder) *Logger {
	return &Logger{rec: rec}
}

// Log records raw as a failed query. It returns nil without writing when the
// normalized text is shorter than MinLength runes.
func (l *Logger) Log(ctx context.Context, raw string) (*model.FailedQuery, error) {
	normalized := Normalize(raw)
	if utf8.RuneCountInString(normalized) < MinLength {
		return nil, nil
	}

	q, err := l.rec.RecordFailedQuery(ctx, strings.TrimSpace(raw), normalized)
	if err != nil {
		return nil, eris.Wrap(err, "query: log failed query")
	}

	zap.L().Debug("failed query logged",
		zap.Int64("failed_query_id", q.ID),
		zap.String("normalized_query", q.NormalizedQuery),
		zap.Int("seen_count", q.SeenCount),
	)
	return q, nil
}
