package pipeline

import (
	"context"
	"errors"
	"path/filepath"
	"strconv"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/sells-group/aminoscout/internal/classify"
	"github.com/sells-group/aminoscout/internal/config"
	"github.com/sells-group/aminoscout/internal/discovery"
	"github.com/sells-group/aminoscout/internal/fulltext"
	"github.com/sells-group/aminoscout/internal/model"
	"github.com/sells-group/aminoscout/internal/query"
	"github.com/sells-group/aminoscout/internal/store"
)

const jatsWithTable = `<?xml version="1.0"?>
<pmc-articleset><article><body>
<p>Seeds from three cultivars were hydrolysed and analysed by HPLC.</p>
<table-wrap id="t1"><label>Table 2</label><caption><p>Essential amino acids in quinoa</p></caption>
<table><thead><tr><th>Amino acid</th><th>Content</th></tr></thead>
<tbody>
<tr><td>Lysine</td><td>2.4 g/100 g</td></tr>
<tr><td>Leucine</td><td>24 mg/g</td></tr>
<tr><td>Valine</td><td>5 g/kg</td></tr>
</tbody></table></table-wrap>
</body></article></pmc-articleset>`

func testConfig() config.PipelineConfig {
	return config.PipelineConfig{
		TriageLimit:        100,
		DiscoverLimit:      100,
		TopK:               5,
		ExtractLimit:       100,
		ExtractConfidence:  0.7,
		FoodMatchThreshold: 0.6,
	}
}

func newTestStore(t *testing.T) *store.SQLiteStore {
	t.Helper()
	s, err := store.NewSQLite(filepath.Join(t.TempDir(), "pipeline.db"))
	require.NoError(t, err)
	require.NoError(t, s.Migrate(context.Background()))
	t.Cleanup(func() { s.Close() }) //nolint:errcheck
	return s
}

func logQuery(t *testing.T, s store.Store, raw string) *model.FailedQuery {
	t.Helper()
	fq, err := query.NewLogger(s).Log(context.Background(), raw)
	require.NoError(t, err)
	require.NotNil(t, fq)
	return fq
}

func seedFood(t *testing.T, s store.Store, name string) *model.Food {
	t.Helper()
	f, err := s.GetOrCreateFood(context.Background(), model.Food{Name: name, ExternalSource: "usda", ExternalFoodID: name})
	require.NoError(t, err)
	return f
}

// setStatus moves a row directly, bypassing the stages.
func setStatus(t *testing.T, s store.Store, fq *model.FailedQuery, status model.QueryStatus) {
	t.Helper()
	fq.Status = status
	require.NoError(t, s.WithTx(context.Background(), func(tx store.Tx) error {
		return tx.UpdateFailedQuery(context.Background(), fq)
	}))
}

func addCandidate(t *testing.T, s store.Store, fqID int64, c model.Candidate) int64 {
	t.Helper()
	c.FailedQueryID = fqID
	if c.Provider == "" {
		c.Provider = discovery.ProviderPubMed
	}
	var id int64
	require.NoError(t, s.WithTx(context.Background(), func(tx store.Tx) error {
		var err error
		id, err = tx.InsertCandidate(context.Background(), &c)
		return err
	}))
	require.NotZero(t, id)
	return id
}

func reload(t *testing.T, s store.Store, id int64) *model.FailedQuery {
	t.Helper()
	fq, err := s.GetFailedQuery(context.Background(), id)
	require.NoError(t, err)
	require.NotNil(t, fq)
	return fq
}

// keywordClassifier labels queries containing "quinoa" or "teff" as food.
type keywordClassifier struct {
	failOn string
}

func (k *keywordClassifier) Classify(_ context.Context, q string) (classify.Result, error) {
	if k.failOn != "" && strings.Contains(q, k.failOn) {
		return classify.Result{}, errors.New("catalog unavailable")
	}
	if strings.Contains(strings.ToLower(q), "quinoa") || strings.Contains(strings.ToLower(q), "teff") {
		return classify.Result{Label: model.LabelFood, Score: 0.9, Reason: "keyword"}, nil
	}
	return classify.Result{Label: model.LabelJunk, Score: 0.1, Reason: "no keyword"}, nil
}

type stubDiscoverer struct {
	res   discovery.Result
	err   error
	calls int
}

func (s *stubDiscoverer) Discover(context.Context, string) (discovery.Result, error) {
	s.calls++
	return s.res, s.err
}

type stubRetriever struct {
	doc   *fulltext.Document
	err   error
	calls int
}

func (s *stubRetriever) Fetch(_ context.Context, title, rawURL, doi string) (*fulltext.Document, error) {
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	doc := *s.doc
	if doc.Title == "" {
		doc.Title = title
	}
	if doc.SourceURL == "" {
		doc.SourceURL = rawURL
	}
	if doc.DOI == "" {
		doc.DOI = doi
	}
	return &doc, nil
}

func docWith(content string, warnings ...string) *fulltext.Document {
	d := fulltext.NewDocument("", "")
	d.Content = content
	for _, w := range warnings {
		d.Warn(w)
	}
	return d
}

func intp(v int) *int { return &v }

func itoa(v int64) string { return strconv.FormatInt(v, 10) }
