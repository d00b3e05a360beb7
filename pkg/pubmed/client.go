// Package pubmed provides a client for NCBI E-utilities PubMed search.
//
// Search is a two-step flow: esearch returns PMIDs as JSON, efetch returns
// the article records as XML.
package pubmed

import (
	"bytes"
	"context"
	"encoding/json"
	"net/url"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/aminoscout/internal/fetcher"
	"github.com/sells-group/aminoscout/internal/resilience"
)

// Client defines the PubMed operations used by discovery.
type Client interface {
	// SearchIDs returns up to retmax PMIDs matching term.
	SearchIDs(ctx context.Context, term string, retmax int) ([]string, error)
	// FetchArticles returns the records for the given PMIDs.
	FetchArticles(ctx context.Context, pmids []string) ([]Article, error)
}

// Article is a PubmedArticle record reduced to the fields discovery uses.
type Article struct {
	PMID        string         `xml:"MedlineCitation>PMID"`
	Title       fetcher.Text   `xml:"MedlineCitation>Article>ArticleTitle"`
	Abstract    []fetcher.Text `xml:"MedlineCitation>Article>Abstract>AbstractText"`
	PubYear     string         `xml:"MedlineCitation>Article>Journal>JournalIssue>PubDate>Year"`
	MedlineDate string         `xml:"MedlineCitation>Article>Journal>JournalIssue>PubDate>MedlineDate"`
	Authors     []Author       `xml:"MedlineCitation>Article>AuthorList>Author"`
	ArticleIDs  []ArticleID    `xml:"PubmedData>ArticleIdList>ArticleId"`
}

// Author is one AuthorList entry.
type Author struct {
	LastName       string `xml:"LastName"`
	ForeName       string `xml:"ForeName"`
	CollectiveName string `xml:"CollectiveName"`
}

// FullName returns "ForeName LastName" or the collective name.
func (a Author) FullName() string {
	full := strings.TrimSpace(strings.TrimSpace(a.ForeName) + " " + strings.TrimSpace(a.LastName))
	if full == "" {
		full = strings.TrimSpace(a.CollectiveName)
	}
	return full
}

// ArticleID is a typed identifier such as a DOI or PMCID.
type ArticleID struct {
	Type  string `xml:"IdType,attr"`
	Value string `xml:",chardata"`
}

// ID returns the identifier of the given type ("doi", "pmc", ...).
func (a Article) ID(idType string) string {
	for _, id := range a.ArticleIDs {
		if id.Type == idType {
			return strings.TrimSpace(id.Value)
		}
	}
	return ""
}

// Year returns the publication year text: PubDate/Year, else the leading
// year of a MedlineDate such as "1998 Dec-1999 Jan".
func (a Article) Year() string {
	if y := strings.TrimSpace(a.PubYear); y != "" {
		return y
	}
	if md := strings.TrimSpace(a.MedlineDate); len(md) >= 4 {
		return md[:4]
	}
	return ""
}

// AbstractText joins every abstract section with a space.
func (a Article) AbstractText() string {
	parts := make([]string, 0, len(a.Abstract))
	for _, p := range a.Abstract {
		if s := p.String(); s != "" {
			parts = append(parts, s)
		}
	}
	return strings.Join(parts, " ")
}

// Option configures the PubMed client.
type Option func(*httpClient)

// WithBaseURL sets the E-utilities base URL (for testing).
func WithBaseURL(u string) Option {
	return func(c *httpClient) {
		c.baseURL = strings.TrimRight(u, "/")
	}
}

// WithIdentity sets the tool/email pair NCBI asks callers to send, plus an
// optional API key that raises the rate limit.
func WithIdentity(tool, email, apiKey string) Option {
	return func(c *httpClient) {
		c.tool = tool
		c.email = email
		c.apiKey = apiKey
	}
}

type httpClient struct {
	get     fetcher.Getter
	baseURL string
	tool    string
	email   string
	apiKey  string
}

// NewClient creates a PubMed client issuing requests through get.
func NewClient(get fetcher.Getter, opts ...Option) Client {
	c := &httpClient{
		get:     get,
		baseURL: "https://eutils.ncbi.nlm.nih.gov/entrez/eutils",
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *httpClient) identify(params url.Values) url.Values {
	if c.tool != "" {
		params.Set("tool", c.tool)
	}
	if c.email != "" {
		params.Set("email", c.email)
	}
	if c.apiKey != "" {
		params.Set("api_key", c.apiKey)
	}
	return params
}

type esearchResponse struct {
	Result struct {
		IDList []string `json:"idlist"`
	} `json:"esearchresult"`
}

func (c *httpClient) SearchIDs(ctx context.Context, term string, retmax int) ([]string, error) {
	params := c.identify(url.Values{
		"db":      {"pubmed"},
		"term":    {term},
		"retmode": {"json"},
		"retmax":  {strconv.Itoa(retmax)},
	})

	resp, err := c.get.Get(ctx, c.baseURL+"/esearch.fcgi", params)
	if err != nil {
		return nil, eris.Wrap(err, "pubmed: esearch")
	}
	if !resp.OK() {
		return nil, eris.Wrap(&resilience.StatusError{StatusCode: resp.StatusCode, URL: resp.URL}, "pubmed: esearch")
	}

	var out esearchResponse
	if err := json.Unmarshal(resp.Body, &out); err != nil {
		return nil, eris.Wrap(err, "pubmed: decode esearch response")
	}
	return out.Result.IDList, nil
}

func (c *httpClient) FetchArticles(ctx context.Context, pmids []string) ([]Article, error) {
	if len(pmids) == 0 {
		return nil, nil
	}
	params := c.identify(url.Values{
		"db":      {"pubmed"},
		"id":      {strings.Join(pmids, ",")},
		"retmode": {"xml"},
	})

	resp, err := c.get.Get(ctx, c.baseURL+"/efetch.fcgi", params)
	if err != nil {
		return nil, eris.Wrap(err, "pubmed: efetch")
	}
	if !resp.OK() {
		return nil, eris.Wrap(&resilience.StatusError{StatusCode: resp.StatusCode, URL: resp.URL}, "pubmed: efetch")
	}

	articles, err := fetcher.CollectXML[Article](ctx, bytes.NewReader(resp.Body), "PubmedArticle", fetcher.Lenient())
	if err != nil {
		return articles, eris.Wrap(err, "pubmed: parse efetch xml")
	}
	return articles, nil
}
