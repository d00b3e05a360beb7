package pipeline

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/aminoscout/internal/classify"
	"github.com/sells-group/aminoscout/internal/discovery"
	"github.com/sells-group/aminoscout/internal/fetcher"
	"github.com/sells-group/aminoscout/internal/fulltext"
	"github.com/sells-group/aminoscout/internal/metrics"
	"github.com/sells-group/aminoscout/internal/model"
	"github.com/sells-group/aminoscout/pkg/crossref"
	"github.com/sells-group/aminoscout/pkg/pmc"
	"github.com/sells-group/aminoscout/pkg/pubmed"
)

const e2eCrossrefJSON = `{"status":"ok","message":{"items":[{
  "DOI":"10.5555/quinoa.1",
  "URL":"https://doi.org/10.5555/quinoa.1",
  "title":["Amino acid composition of quinoa seeds"],
  "issued":{"date-parts":[[2021]]},
  "author":[{"given":"Ana","family":"Lopez"}]
}]}}`

const e2ePubMedXML = `<?xml version="1.0"?>
<PubmedArticleSet><PubmedArticle>
  <MedlineCitation><PMID>111</PMID>
    <Article>
      <Journal><JournalIssue><PubDate><Year>2022</Year></PubDate></JournalIssue></Journal>
      <ArticleTitle>Quinoa protein quality and amino acid content</ArticleTitle>
      <AuthorList><Author><LastName>Chen</LastName><ForeName>Bo</ForeName></Author></AuthorList>
    </Article>
  </MedlineCitation>
  <PubmedData><ArticleIdList>
    <ArticleId IdType="pubmed">111</ArticleId>
    <ArticleId IdType="doi">10.5555/quinoa.2</ArticleId>
  </ArticleIdList></PubmedData>
</PubmedArticle></PubmedArticleSet>`

type literatureServer struct {
	*httptest.Server
	idconvCalls atomic.Int32
	pmcCalls    atomic.Int32
}

func newLiteratureServer(t *testing.T) *literatureServer {
	t.Helper()
	ls := &literatureServer{}
	mux := http.NewServeMux()
	mux.HandleFunc("/works", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(e2eCrossrefJSON))
	})
	mux.HandleFunc("/esearch.fcgi", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"esearchresult":{"idlist":["111"]}}`))
	})
	mux.HandleFunc("/efetch.fcgi", func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Query().Get("db") {
		case "pmc":
			ls.pmcCalls.Add(1)
			assert.Equal(t, "PMC4242", r.URL.Query().Get("id"))
			_, _ = w.Write([]byte(jatsWithTable))
		default:
			_, _ = w.Write([]byte(e2ePubMedXML))
		}
	})
	mux.HandleFunc("/idconv/", func(w http.ResponseWriter, r *http.Request) {
		ls.idconvCalls.Add(1)
		assert.Equal(t, "json", r.URL.Query().Get("format"))
		_, _ = w.Write([]byte(`{"status":"ok","records":[{"doi":"10.5555/quinoa.2","pmid":111,"pmcid":"pmc4242"}]}`))
	})
	ls.Server = httptest.NewServer(mux)
	t.Cleanup(ls.Close)
	return ls
}

func TestEndToEnd_LogToResolved(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	food := seedFood(t, s, "quinoa")
	srv := newLiteratureServer(t)

	m := metrics.New(false)
	get := fetcher.NewHTTPFetcher(fetcher.HTTPOptions{
		Timeout:    2 * time.Second,
		MaxRetries: 2,
		Backoff:    time.Millisecond,
		Observe:    m.ObserveHTTP,
	})

	cls, err := classify.New(classify.Options{Strategy: classify.StrategyLexical, SimilarityThreshold: 0.3}, s)
	require.NoError(t, err)

	disc := discovery.NewDiscoverer(5,
		discovery.NewCrossrefProvider(crossref.NewClient(get, crossref.WithBaseURL(srv.URL))),
		discovery.NewPubMedProvider(pubmed.NewClient(get, pubmed.WithBaseURL(srv.URL))),
	)

	cacheDir := filepath.Join(t.TempDir(), "papers")
	cache, err := fulltext.NewDiskCache(cacheDir)
	require.NoError(t, err)
	ret := fulltext.NewRetriever(cache,
		pmc.NewClient(get, pmc.WithIDConvURL(srv.URL+"/idconv/"), pmc.WithEUtilsURL(srv.URL)),
		fulltext.WithCacheObserver(m.ObserveCache),
	)

	p := New(testConfig(), Deps{Store: s, Classifier: cls, Discoverer: disc, Retriever: ret, Metrics: m})

	fq := logQuery(t, s, "Quinoa")
	logQuery(t, s, "  quinoa ")
	junk := logQuery(t, s, "asdf")
	offDomain := logQuery(t, s, "zzzz qqqq")
	assert.Equal(t, 2, reload(t, s, fq.ID).SeenCount)

	rs, err := p.Run(ctx, RunLimits{Triage: 10, Discover: 10, TopK: 5, Extract: 10})
	require.NoError(t, err)

	assert.Equal(t, TriageStats{Processed: 3, Queued: 1, Rejected: 2}, rs.Triage)
	assert.Equal(t, 1, rs.Candidates.Advanced)
	assert.Equal(t, 2, rs.Candidates.Candidates)
	assert.Equal(t, ExtractStats{Processed: 1, Resolved: 1, Facts: 3}, rs.Extract)

	got := reload(t, s, fq.ID)
	assert.Equal(t, model.StatusResolved, got.Status)
	assert.True(t, strings.HasPrefix(got.Note, "extracted from paper candidate "), got.Note)
	assert.Equal(t, model.StatusRejected, reload(t, s, junk.ID).Status)
	assert.Equal(t, model.StatusRejected, reload(t, s, offDomain.ID).Status)

	cands, err := s.ListCandidates(ctx, fq.ID, 10)
	require.NoError(t, err)
	require.Len(t, cands, 2)
	assert.Equal(t, discovery.ProviderPubMed, cands[0].Provider, "pubmed prior and keywords rank it first")

	facts, err := s.ListFacts(ctx, food.ID)
	require.NoError(t, err)
	require.Len(t, facts, 3)
	for _, f := range facts {
		assert.InDelta(t, 0.7, f.Confidence, 1e-9)
		assert.Equal(t, model.CanonicalUnit, f.Units)
	}

	f, err := s.GetFood(ctx, food.ID)
	require.NoError(t, err)
	assert.Equal(t, model.Coverage{Present: 3, Total: 9, Incomplete: true},
		model.Coverage{Present: f.EssentialPresent, Total: f.EssentialTotal, Incomplete: f.Incomplete})

	// The retrieval outcome was cached on disk.
	entries, err := os.ReadDir(cacheDir)
	require.NoError(t, err)
	assert.Len(t, entries, 2)
	assert.EqualValues(t, 1, srv.idconvCalls.Load())
	assert.EqualValues(t, 1, srv.pmcCalls.Load())
	assert.InDelta(t, 1, testutil.ToFloat64(m.CacheLookups.WithLabelValues("miss")), 0)
	assert.Positive(t, testutil.CollectAndCount(m.HTTPAttempts))

	// A second run finds nothing left to do.
	rs, err = p.Run(ctx, RunLimits{Triage: 10, Discover: 10, TopK: 5, Extract: 10})
	require.NoError(t, err)
	assert.Zero(t, rs.Triage.Processed+rs.Candidates.Processed+rs.Extract.Processed)
}
