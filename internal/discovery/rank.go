package discovery

import (
	"fmt"
	"math"
	"regexp"
	"sort"
	"strings"
)

// Additive signal weights.
const (
	weightMeasurement = 1.2
	weightUnits       = 2.5
	weightLowValue    = -1.8
	weightOffDomain   = -3.0
	weightOverlap     = 0.9
	maxOverlap        = 3
	priorPubMed       = 1.0
	priorCrossref     = 0.2
	// squashScale spreads the logistic so raw scores of a few points stay
	// distinguishable.
	squashScale = 2.5
)

var measurementKeywords = []string{
	"amino acid",
	"amino acids",
	"amino-acid",
	"composition",
	"profile",
	"content",
	"quantification",
	"determination",
	"analysis",
	"hplc",
	"uhplc",
	"chromatography",
	"mass spectrometry",
	"lc-ms",
	"gc-ms",
	"mg/100g",
	"g/100g",
	"protein quality",
	"digestibility",
	"iaao",
}

var lowValueKeywords = []string{
	"review",
	"systematic review",
	"meta-analysis",
	"scoping review",
	"editorial",
	"commentary",
	"case report",
	"protocol",
	"guideline",
}

// offDomainKeywords are matched as phrases, so "chickpeas, and" catches
// the list-style titles of humanities records.
var offDomainKeywords = []string{
	"novel",
	"poetry",
	"literature",
	"philosophy",
	"politics",
	"chickpeas, and",
}

var wordRe = regexp.MustCompile(`[a-z0-9]+`)

// ScoredHit is a hit with its rank score in [0, 1] and the signals that
// produced it.
type ScoredHit struct {
	Hit     Hit      `json:"hit"`
	Score   float64  `json:"score"`
	Reasons []string `json:"reasons"`
}

// Score rates a single hit against the query.
func Score(h Hit, query string) ScoredHit {
	title := lowerCollapse(h.Title)
	abstract := lowerCollapse(h.Abstract)
	combined := strings.TrimSpace(title + " " + abstract)

	var raw float64
	var reasons []string

	for _, kw := range measurementKeywords {
		if strings.Contains(combined, kw) {
			raw += weightMeasurement
			reasons = append(reasons, "+measurement:"+kw)
		}
	}
	if strings.Contains(combined, "mg/100g") || strings.Contains(combined, "g/100g") {
		raw += weightUnits
		reasons = append(reasons, "+units:mg/100g_or_g/100g")
	}
	for _, kw := range lowValueKeywords {
		if strings.Contains(combined, kw) {
			raw += weightLowValue
			reasons = append(reasons, "-low_value:"+kw)
		}
	}
	for _, kw := range offDomainKeywords {
		if strings.Contains(combined, kw) {
			raw += weightOffDomain
			reasons = append(reasons, "-off_domain:"+kw)
		}
	}

	qTokens := tokenSet(lowerCollapse(query))
	if len(qTokens) > 0 {
		textTokens := tokenSet(combined)
		overlap := 0
		for tok := range qTokens {
			if textTokens[tok] {
				overlap++
			}
		}
		raw += weightOverlap * float64(min(maxOverlap, overlap))
		reasons = append(reasons, fmt.Sprintf("+query_overlap:%d", overlap))
	}

	switch h.Provider {
	case ProviderPubMed:
		raw += priorPubMed
		reasons = append(reasons, "+provider:pubmed_prior")
	case ProviderCrossref:
		raw += priorCrossref
		reasons = append(reasons, "+provider:crossref_prior")
	}

	score := 1 / (1 + math.Exp(-raw/squashScale))
	score = math.Max(0, math.Min(1, score))
	return ScoredHit{Hit: h, Score: score, Reasons: reasons}
}

// Rank scores every hit, sorts by score descending (ties keep input order)
// and returns at most topN.
func Rank(hits []Hit, query string, topN int) []ScoredHit {
	scored := make([]ScoredHit, 0, len(hits))
	for _, h := range hits {
		scored = append(scored, Score(h, query))
	}
	sort.SliceStable(scored, func(i, j int) bool {
		return scored[i].Score > scored[j].Score
	})
	if topN >= 0 && len(scored) > topN {
		scored = scored[:topN]
	}
	return scored
}

func lowerCollapse(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}

func tokenSet(s string) map[string]bool {
	out := make(map[string]bool)
	for _, tok := range wordRe.FindAllString(s, -1) {
		out[tok] = true
	}
	return out
}
