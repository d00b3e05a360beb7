// Package extract pulls essential amino-acid values out of table markup in
// JATS full text, normalizing every value to mg per 100 g.
package extract

import (
	"context"
	"regexp"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/aminoscout/internal/model"
)

// maxContextRunes bounds the caption text kept for audit.
const maxContextRunes = 300

// Fact is one amino-acid value read from a table row.
type Fact struct {
	AminoAcid       string  `json:"amino_acid"`
	AmountMgPer100g float64 `json:"amount_mg_per_100g"`
	RawValue        float64 `json:"raw_value"`
	RawUnit         string  `json:"raw_unit"`
	Context         string  `json:"context,omitempty"`
}

// table is a captioned table reduced to the text of its cells.
type table struct {
	Caption string
	Rows    [][]string
}

var aliases = map[string][]string{
	"histidine":     {"histidine", "his"},
	"isoleucine":    {"isoleucine", "ile"},
	"leucine":       {"leucine", "leu"},
	"lysine":        {"lysine", "lys"},
	"methionine":    {"methionine", "met"},
	"phenylalanine": {"phenylalanine", "phe"},
	"threonine":     {"threonine", "thr"},
	"tryptophan":    {"tryptophan", "trp"},
	"valine":        {"valine", "val"},
}

var aliasRes = func() map[string]*regexp.Regexp {
	out := make(map[string]*regexp.Regexp, len(aliases))
	for acid, names := range aliases {
		out[acid] = regexp.MustCompile(`\b(?:` + strings.Join(names, "|") + `)\b`)
	}
	return out
}()

// valueRe captures comma-formatted numbers whole so "1,450" is never read as
// 450.
var valueRe = regexp.MustCompile(`(\d[\d,]*(?:\.\d+)?)\s*(mg|g)\s*/\s*(100\s*g|g|kg)`)

// Result holds the values read from a document's tables.
type Result struct {
	Facts []Fact
	// Ambiguous counts rows naming an acid whose value uses a comma, either
	// as thousands grouping or as a decimal mark. Those rows are not read.
	Ambiguous int
}

// Extract returns every convertible amino-acid value found in the markup's
// tables. JATS table-wrap elements are preferred; plain HTML tables are used
// when the document has none or cannot be streamed. Cancellation is reported
// instead of falling back.
func Extract(ctx context.Context, markup string) (Result, error) {
	var res Result
	if err := ctx.Err(); err != nil {
		return res, eris.Wrap(err, "extract: read tables")
	}

	tables, err := jatsTables(ctx, markup)
	if ctxErr := ctx.Err(); ctxErr != nil {
		return res, eris.Wrap(ctxErr, "extract: read tables")
	}
	if err != nil {
		zap.L().Debug("extract: jats stream failed, falling back to html", zap.Error(err))
	}
	if err != nil || len(tables) == 0 {
		tables, err = htmlTables(markup)
		if err != nil {
			zap.L().Warn("extract: html parse failed", zap.Error(err))
			return res, nil
		}
	}

	for _, t := range tables {
		caption := truncRunes(t.Caption, maxContextRunes)
		for _, cells := range t.Rows {
			facts, ambiguous := factsFromRow(cells, caption)
			res.Facts = append(res.Facts, facts...)
			if ambiguous {
				res.Ambiguous++
			}
		}
	}
	return res, nil
}

// factsFromRow applies the first value in the row to every acid it names.
// A row whose first value contains a comma yields nothing and reports
// ambiguous when it names an acid.
func factsFromRow(cells []string, caption string) ([]Fact, bool) {
	if len(cells) < 2 {
		return nil, false
	}
	rowText := strings.ToLower(strings.Join(cells, " "))

	m := valueRe.FindStringSubmatch(rowText)
	if m == nil {
		return nil, false
	}
	var acids []string
	for _, acid := range model.EssentialAminoAcids {
		if aliasRes[acid].MatchString(rowText) {
			acids = append(acids, acid)
		}
	}
	if len(acids) == 0 {
		return nil, false
	}
	if strings.Contains(m[1], ",") {
		zap.L().Debug("extract: comma-formatted value skipped",
			zap.String("value", m[0]), zap.Strings("acids", acids))
		return nil, true
	}

	value, err := strconv.ParseFloat(m[1], 64)
	if err != nil {
		return nil, false
	}
	unit := m[2] + "/" + strings.ReplaceAll(m[3], " ", "")
	amount, ok := NormalizeUnit(value, unit)
	if !ok {
		return nil, false
	}

	facts := make([]Fact, 0, len(acids))
	for _, acid := range acids {
		facts = append(facts, Fact{
			AminoAcid:       acid,
			AmountMgPer100g: amount,
			RawValue:        value,
			RawUnit:         unit,
			Context:         caption,
		})
	}
	return facts, false
}

// NormalizeUnit converts a value to mg/100g. Units other than mg/100g,
// g/100g, mg/g and g/kg are not convertible.
func NormalizeUnit(value float64, unit string) (float64, bool) {
	switch strings.ReplaceAll(strings.ToLower(unit), " ", "") {
	case "mg/100g":
		return value, true
	case "g/100g":
		return value * 1000, true
	case "mg/g", "g/kg":
		return value * 100, true
	}
	return 0, false
}

func truncRunes(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
