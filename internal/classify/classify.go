// Package classify labels failed queries as food-like or junk before any
// literature search is spent on them.
package classify

import (
	"context"
	"regexp"
	"strings"
	"unicode"

	"github.com/rotisserie/eris"

	"github.com/sells-group/aminoscout/internal/model"
)

// Strategy names accepted by New.
const (
	StrategyLexical = "lexical"
	StrategyLearned = "learned"
)

// Result is a classifier verdict. Reason is short and meant for audit notes.
type Result struct {
	Label  model.Label `json:"label"`
	Score  float64     `json:"score"`
	Reason string      `json:"reason"`
}

// Classifier labels a single query.
type Classifier interface {
	Classify(ctx context.Context, query string) (Result, error)
}

// CatalogMatcher finds the catalog food closest to a piece of text.
// It returns nil when the catalog is empty.
type CatalogMatcher interface {
	BestCatalogMatch(ctx context.Context, text string) (*model.CatalogMatch, error)
}

// Options selects and tunes the active strategy.
type Options struct {
	Strategy            string
	SimilarityThreshold float64
	LearnedThreshold    float64
	// SeedsPath overrides the embedded training phrases for the learned
	// strategy.
	SeedsPath string
}

// New builds the one classifier named by opts.Strategy.
func New(opts Options, matcher CatalogMatcher) (Classifier, error) {
	switch opts.Strategy {
	case "", StrategyLexical:
		if matcher == nil {
			return nil, eris.New("classify: lexical strategy needs a catalog matcher")
		}
		return NewLexical(matcher, opts.SimilarityThreshold), nil
	case StrategyLearned:
		seeds, err := LoadSeeds(opts.SeedsPath)
		if err != nil {
			return nil, err
		}
		return NewLearned(seeds, opts.LearnedThreshold), nil
	default:
		return nil, eris.Errorf("classify: unknown strategy %q", opts.Strategy)
	}
}

var (
	nonWordRe = regexp.MustCompile(`[^a-z0-9\s\-']+`)
	urlRe     = regexp.MustCompile(`https?://|www\.`)
)

// junkWords are greetings and filler that never name a food on their own.
var junkWords = map[string]bool{
	"help": true, "hi": true, "hello": true, "test": true,
	"asdf": true, "lol": true, "pls": true, "please": true,
}

// Prepare lowercases s, replaces punctuation other than hyphens and
// apostrophes with spaces and collapses whitespace.
func Prepare(s string) string {
	t := strings.ToLower(strings.TrimSpace(s))
	t = nonWordRe.ReplaceAllString(t, " ")
	return strings.Join(strings.Fields(t), " ")
}

// HardReject applies the cheap rules every strategy shares. ok is true when
// the query was rejected and res holds the verdict.
func HardReject(raw, prepared string) (res Result, ok bool) {
	junk := func(score float64, reason string) (Result, bool) {
		return Result{Label: model.LabelJunk, Score: score, Reason: reason}, true
	}

	switch {
	case prepared == "":
		return junk(0, "empty")
	case len([]rune(prepared)) < 3:
		return junk(0, "too_short")
	case digitsOnly(prepared):
		return junk(0, "digits_only")
	case urlRe.MatchString(strings.ToLower(raw)):
		return junk(0, "url")
	}

	tokens := strings.Fields(prepared)
	if len(tokens) <= 2 {
		all := true
		for _, tok := range tokens {
			if !junkWords[tok] {
				all = false
				break
			}
		}
		if all {
			return junk(0.05, "junk_word_only")
		}
	}
	return Result{}, false
}

// digitsOnly reports whether s is a single run of digits. Spaced numbers
// such as "12 34" fall through to the classifier.
func digitsOnly(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if !unicode.IsDigit(r) {
			return false
		}
	}
	return true
}
