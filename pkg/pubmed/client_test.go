package pubmed

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/aminoscout/internal/fetcher"
)

func testGetter() fetcher.Getter {
	return fetcher.NewHTTPFetcher(fetcher.HTTPOptions{
		Timeout:    2 * time.Second,
		MaxRetries: 2,
		Backoff:    time.Millisecond,
	})
}

const efetchXML = `<?xml version="1.0" ?>
<!DOCTYPE PubmedArticleSet PUBLIC "-//NLM//DTD PubMedArticle, 1st January 2024//EN" "https://dtd.nlm.nih.gov/ncbi/pubmed/out/pubmed_240101.dtd">
<PubmedArticleSet>
<PubmedArticle>
  <MedlineCitation Status="MEDLINE" Owner="NLM">
    <PMID Version="1">31234567</PMID>
    <Article PubModel="Print">
      <Journal>
        <JournalIssue CitedMedium="Print">
          <PubDate><Year>2020</Year><Month>Jan</Month></PubDate>
        </JournalIssue>
      </Journal>
      <ArticleTitle>Essential <i>amino acid</i> profile of chickpeas.</ArticleTitle>
      <Abstract>
        <AbstractText Label="BACKGROUND">Legumes matter.</AbstractText>
        <AbstractText Label="RESULTS">Lysine reached 1.5 g/100g.</AbstractText>
      </Abstract>
      <AuthorList CompleteYN="Y">
        <Author><LastName>Smith</LastName><ForeName>Jane</ForeName></Author>
        <Author><CollectiveName>Legume Study Group</CollectiveName></Author>
      </AuthorList>
    </Article>
  </MedlineCitation>
  <PubmedData>
    <ArticleIdList>
      <ArticleId IdType="pubmed">31234567</ArticleId>
      <ArticleId IdType="doi">10.3390/nu12010001</ArticleId>
      <ArticleId IdType="pmc">PMC7000001</ArticleId>
    </ArticleIdList>
  </PubmedData>
</PubmedArticle>
<PubmedArticle>
  <MedlineCitation>
    <PMID>999</PMID>
    <Article>
      <Journal><JournalIssue><PubDate><MedlineDate>1998 Dec-1999 Jan</MedlineDate></PubDate></JournalIssue></Journal>
      <ArticleTitle>Older work</ArticleTitle>
    </Article>
  </MedlineCitation>
</PubmedArticle>
</PubmedArticleSet>`

func newServer(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/esearch.fcgi", func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		assert.Equal(t, "pubmed", q.Get("db"))
		assert.Equal(t, "json", q.Get("retmode"))
		assert.Equal(t, "aminoscout", q.Get("tool"))
		assert.Equal(t, "ops@example.org", q.Get("email"))
		assert.Equal(t, "k123", q.Get("api_key"))
		_, _ = w.Write([]byte(`{"esearchresult":{"count":"2","idlist":["31234567","999"]}}`))
	})
	mux.HandleFunc("/efetch.fcgi", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "31234567,999", r.URL.Query().Get("id"))
		assert.Equal(t, "xml", r.URL.Query().Get("retmode"))
		_, _ = w.Write([]byte(efetchXML))
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestSearchAndFetch(t *testing.T) {
	srv := newServer(t)
	c := NewClient(testGetter(), WithBaseURL(srv.URL), WithIdentity("aminoscout", "ops@example.org", "k123"))

	ids, err := c.SearchIDs(context.Background(), "lysine chickpeas", 20)
	require.NoError(t, err)
	assert.Equal(t, []string{"31234567", "999"}, ids)

	arts, err := c.FetchArticles(context.Background(), ids)
	require.NoError(t, err)
	require.Len(t, arts, 2)

	a := arts[0]
	assert.Equal(t, "31234567", a.PMID)
	assert.Equal(t, "Essential amino acid profile of chickpeas.", a.Title.String())
	assert.Equal(t, "2020", a.Year())
	assert.Equal(t, "Legumes matter. Lysine reached 1.5 g/100g.", a.AbstractText())
	assert.Equal(t, "10.3390/nu12010001", a.ID("doi"))
	assert.Equal(t, "PMC7000001", a.ID("pmc"))
	require.Len(t, a.Authors, 2)
	assert.Equal(t, "Jane Smith", a.Authors[0].FullName())
	assert.Equal(t, "Legume Study Group", a.Authors[1].FullName())

	assert.Equal(t, "1998", arts[1].Year())
	assert.Equal(t, "", arts[1].ID("doi"))
}

func TestFetchArticles_Empty(t *testing.T) {
	c := NewClient(testGetter(), WithBaseURL("http://127.0.0.1:1"))
	arts, err := c.FetchArticles(context.Background(), nil)
	require.NoError(t, err)
	assert.Nil(t, arts)
}

func TestSearchIDs_ServerError(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	c := NewClient(testGetter(), WithBaseURL(srv.URL))
	_, err := c.SearchIDs(context.Background(), "x", 5)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "pubmed: esearch")
	assert.Equal(t, int32(2), calls.Load())
}
