package store

import (
	"github.com/sells-group/aminoscout/internal/model"
)

// scannable is satisfied by pgx.Row, pgx.Rows, *sql.Row and *sql.Rows.
type scannable interface {
	Scan(dest ...any) error
}

func scanFailedQuery(row scannable) (*model.FailedQuery, error) {
	var q model.FailedQuery
	var status string
	var label *string
	err := row.Scan(&q.ID, &q.Query, &q.NormalizedQuery, &q.SeenCount,
		&q.FirstSeenAt, &q.LastSeenAt, &status, &label, &q.Score, &q.Note)
	if err != nil {
		return nil, err
	}
	q.Status = model.QueryStatus(status)
	if label != nil {
		l := model.Label(*label)
		q.Label = &l
	}
	return &q, nil
}

func scanCandidate(row scannable) (*model.Candidate, error) {
	var c model.Candidate
	var doi, url, authors, abstract *string
	err := row.Scan(&c.ID, &c.FailedQueryID, &c.Provider, &c.Title, &doi, &url,
		&c.PublishedYear, &authors, &abstract, &c.Score, &c.RawScore, &c.CreatedAt)
	if err != nil {
		return nil, err
	}
	c.DOI = deref(doi)
	c.URL = deref(url)
	c.Authors = deref(authors)
	c.Abstract = deref(abstract)
	return &c, nil
}

func scanSource(row scannable) (*model.Source, error) {
	var s model.Source
	var typ string
	var version *string
	if err := row.Scan(&s.ID, &typ, &s.Name, &s.URL, &s.Citation, &version); err != nil {
		return nil, err
	}
	s.Type = model.SourceType(typ)
	s.Version = deref(version)
	return &s, nil
}

func scanFood(row scannable) (*model.Food, error) {
	var f model.Food
	err := row.Scan(&f.ID, &f.Name, &f.ExternalSource, &f.ExternalFoodID,
		&f.EssentialPresent, &f.EssentialTotal, &f.Incomplete)
	if err != nil {
		return nil, err
	}
	return &f, nil
}

func scanFact(row scannable) (*model.AminoAcidFact, error) {
	var f model.AminoAcidFact
	err := row.Scan(&f.ID, &f.FoodID, &f.AminoAcid, &f.AmountMg, &f.Units, &f.Confidence, &f.SourceID)
	if err != nil {
		return nil, err
	}
	return &f, nil
}

// nilIfEmpty maps "" to SQL NULL.
func nilIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func labelArg(l *model.Label) any {
	if l == nil {
		return nil
	}
	return string(*l)
}

func intArg(v *int) any {
	if v == nil {
		return nil
	}
	return *v
}

func floatArg(v *float64) any {
	if v == nil {
		return nil
	}
	return *v
}
