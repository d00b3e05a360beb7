// Package fusion writes extracted amino-acid values into the catalog with
// provenance and keeps each food's coverage flags current.
package fusion

import (
	"context"
	"math"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/aminoscout/internal/model"
	"github.com/sells-group/aminoscout/internal/store"
)

const (
	defaultSourceName = "Unknown publication"
	maxNameRunes      = 200
	maxURLRunes       = 500
	maxCitationRunes  = 500
)

// PublicationInput describes a paper used as a provenance source.
type PublicationInput struct {
	Name     string
	URL      string
	Citation string
	Version  string
}

// FactInput is one value to upsert. Units default to mg/100g.
type FactInput struct {
	FoodID     int64
	SourceID   int64
	AminoAcid  string
	AmountMg   float64
	Units      string
	Confidence float64
}

// GetOrCreatePublicationSource reuses the publication source with the same
// URL, backfilling any empty name, citation or version, or inserts a new
// one. Populated fields are never overwritten. Papers without a URL cannot
// be told apart, so each gets its own source.
func GetOrCreatePublicationSource(ctx context.Context, tx store.Tx, in PublicationInput) (*model.Source, error) {
	url := truncRunes(strings.TrimSpace(in.URL), maxURLRunes)

	var existing *model.Source
	if url != "" {
		var err error
		existing, err = tx.FindPublicationSource(ctx, url)
		if err != nil {
			return nil, eris.Wrap(err, "fusion: find publication source")
		}
	}
	if existing != nil {
		if backfill(existing, in) {
			if err := tx.UpdateSource(ctx, existing); err != nil {
				return nil, eris.Wrap(err, "fusion: backfill publication source")
			}
		}
		return existing, nil
	}

	name := strings.TrimSpace(in.Name)
	if name == "" {
		name = defaultSourceName
	}
	src, err := tx.InsertSource(ctx, &model.Source{
		Type:     model.SourcePublication,
		Name:     truncRunes(name, maxNameRunes),
		URL:      url,
		Citation: truncRunes(strings.TrimSpace(in.Citation), maxCitationRunes),
		Version:  strings.TrimSpace(in.Version),
	})
	if err != nil {
		return nil, eris.Wrap(err, "fusion: insert publication source")
	}
	return src, nil
}

// backfill fills empty fields on src from in and reports whether anything
// changed.
func backfill(src *model.Source, in PublicationInput) bool {
	changed := false
	if name := strings.TrimSpace(in.Name); name != "" && src.Name == "" {
		src.Name = truncRunes(name, maxNameRunes)
		changed = true
	}
	if cite := strings.TrimSpace(in.Citation); cite != "" && src.Citation == "" {
		src.Citation = truncRunes(cite, maxCitationRunes)
		changed = true
	}
	if ver := strings.TrimSpace(in.Version); ver != "" && src.Version == "" {
		src.Version = ver
		changed = true
	}
	return changed
}

// UpsertFact validates and stores one value. On a (food, amino acid)
// conflict the amount, units and source are replaced and the confidence
// becomes the larger of the two.
func UpsertFact(ctx context.Context, tx store.Tx, in FactInput) (*model.AminoAcidFact, error) {
	acid := model.NormalizeAminoAcid(in.AminoAcid)
	if err := (Value{AminoAcid: acid, AmountMg: in.AmountMg}).Validate(); err != nil {
		return nil, err
	}
	if in.Confidence < 0 || in.Confidence > 1 || math.IsNaN(in.Confidence) {
		return nil, eris.Errorf("fusion: confidence %v outside [0, 1]", in.Confidence)
	}
	units := strings.TrimSpace(in.Units)
	if units == "" {
		units = model.CanonicalUnit
	}

	fact, err := tx.UpsertFact(ctx, &model.AminoAcidFact{
		FoodID:     in.FoodID,
		AminoAcid:  acid,
		AmountMg:   in.AmountMg,
		Units:      units,
		Confidence: in.Confidence,
		SourceID:   in.SourceID,
	})
	if err != nil {
		return nil, eris.Wrap(err, "fusion: upsert fact")
	}
	return fact, nil
}

// ComputeCoverage counts the distinct essential acids among facts.
func ComputeCoverage(facts []model.AminoAcidFact) model.Coverage {
	seen := make(map[string]struct{}, len(model.EssentialAminoAcids))
	for _, f := range facts {
		acid := model.NormalizeAminoAcid(f.AminoAcid)
		if model.IsEssential(acid) {
			seen[acid] = struct{}{}
		}
	}
	total := len(model.EssentialAminoAcids)
	return model.Coverage{
		Present:    len(seen),
		Total:      total,
		Incomplete: len(seen) < total,
	}
}

// RecomputeCoverage reads every fact for the food and persists its coverage.
func RecomputeCoverage(ctx context.Context, tx store.Tx, foodID int64) (model.Coverage, error) {
	facts, err := tx.FactsForFood(ctx, foodID)
	if err != nil {
		return model.Coverage{}, eris.Wrap(err, "fusion: read facts")
	}
	cov := ComputeCoverage(facts)
	if err := tx.SaveCoverage(ctx, foodID, cov); err != nil {
		return model.Coverage{}, eris.Wrap(err, "fusion: save coverage")
	}
	return cov, nil
}

// Value is one amino-acid amount already normalized to mg/100g.
type Value struct {
	AminoAcid string
	AmountMg  float64
}

// Validate checks the acid is one of the nine and the amount is a finite,
// non-negative number.
func (v Value) Validate() error {
	if !model.IsEssential(v.AminoAcid) {
		return eris.Errorf("fusion: unknown amino acid %q", v.AminoAcid)
	}
	if math.IsNaN(v.AmountMg) || math.IsInf(v.AmountMg, 0) || v.AmountMg < 0 {
		return eris.Errorf("fusion: invalid amount %v for %s", v.AmountMg, v.AminoAcid)
	}
	return nil
}

// Batch is everything one paper contributes to one food.
type Batch struct {
	FoodID     int64
	Source     PublicationInput
	Values     []Value
	Confidence float64
}

// Result reports what Apply wrote.
type Result struct {
	Source   *model.Source
	Facts    []model.AminoAcidFact
	Coverage model.Coverage
}

// Apply writes the source, every value and the refreshed coverage through
// tx. Any failure leaves the caller to roll the transaction back.
func Apply(ctx context.Context, tx store.Tx, b Batch) (Result, error) {
	if len(b.Values) == 0 {
		return Result{}, eris.New("fusion: batch has no values")
	}

	src, err := GetOrCreatePublicationSource(ctx, tx, b.Source)
	if err != nil {
		return Result{}, err
	}

	res := Result{Source: src, Facts: make([]model.AminoAcidFact, 0, len(b.Values))}
	for _, v := range b.Values {
		fact, err := UpsertFact(ctx, tx, FactInput{
			FoodID:     b.FoodID,
			SourceID:   src.ID,
			AminoAcid:  v.AminoAcid,
			AmountMg:   v.AmountMg,
			Confidence: b.Confidence,
		})
		if err != nil {
			return Result{}, err
		}
		res.Facts = append(res.Facts, *fact)
	}

	res.Coverage, err = RecomputeCoverage(ctx, tx, b.FoodID)
	if err != nil {
		return Result{}, err
	}
	return res, nil
}

func truncRunes(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
