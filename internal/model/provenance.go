package model

// SourceType distinguishes dataset releases from individual publications.
type SourceType string

const (
	SourceDataset     SourceType = "dataset"
	SourcePublication SourceType = "publication"
)

// Source records where a numeric value originated.
type Source struct {
	ID       int64      `json:"id" db:"id"`
	Type     SourceType `json:"source_type" db:"source_type"`
	Name     string     `json:"source_name" db:"source_name"`
	URL      string     `json:"source_url" db:"source_url"`
	Citation string     `json:"citation_text" db:"citation_text"`
	Version  string     `json:"version,omitempty" db:"version"`
}

// Food is a catalog item that amino-acid facts attach to.
type Food struct {
	ID               int64  `json:"id" db:"id"`
	Name             string `json:"name" db:"name"`
	ExternalSource   string `json:"external_source" db:"external_source"`
	ExternalFoodID   string `json:"external_food_id" db:"external_food_id"`
	EssentialPresent int    `json:"essential_aa_present_count" db:"essential_aa_present_count"`
	EssentialTotal   int    `json:"essential_aa_total" db:"essential_aa_total"`
	Incomplete       bool   `json:"amino_data_incomplete" db:"amino_data_incomplete"`
}

// AminoAcidFact is one (food, amino acid) measurement.
type AminoAcidFact struct {
	ID         int64   `json:"id" db:"id"`
	FoodID     int64   `json:"food_id" db:"food_id"`
	AminoAcid  string  `json:"amino_acid" db:"amino_acid"`
	AmountMg   float64 `json:"amount_mg_per_100g" db:"amount_mg_per_100g"`
	Units      string  `json:"units" db:"units"`
	Confidence float64 `json:"confidence" db:"confidence"`
	SourceID   int64   `json:"source_id" db:"source_id"`
}

// Coverage summarizes how many essential acids a food has values for.
type Coverage struct {
	Present    int  `json:"present"`
	Total      int  `json:"total"`
	Incomplete bool `json:"incomplete"`
}

// CatalogMatch is the closest catalog food to a piece of query text.
type CatalogMatch struct {
	FoodID     int64   `json:"food_id"`
	Name       string  `json:"name"`
	Similarity float64 `json:"similarity"`
}
