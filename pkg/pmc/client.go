// Package pmc provides clients for the PMC ID converter and PMC full-text
// retrieval through E-utilities efetch.
package pmc

import (
	"bytes"
	"context"
	"encoding/json"
	"net/url"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/aminoscout/internal/fetcher"
	"github.com/sells-group/aminoscout/internal/resilience"
)

// minFullTextBytes is the shortest efetch body treated as a real article.
const minFullTextBytes = 200

// Client defines the PMC operations used by full-text retrieval.
type Client interface {
	// IDConv resolves DOIs/PMIDs to a DOI/PMID/PMCID triple. It returns nil
	// when the converter has no record, and a *resilience.StatusError for a
	// non-200 response.
	IDConv(ctx context.Context, ids []string) (*Record, error)
	// FullText fetches the JATS XML for a PMCID. ok is false when PMC
	// answered but has no usable article.
	FullText(ctx context.Context, pmcid string) (xml string, ok bool, err error)
}

// Record is one ID converter result.
type Record struct {
	DOI   string `json:"doi"`
	PMID  idText `json:"pmid"`
	PMCID string `json:"pmcid"`
}

// idText accepts identifiers encoded as either JSON strings or numbers.
type idText string

func (t *idText) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if bytes.Equal(b, []byte("null")) {
		*t = ""
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*t = idText(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return err
	}
	*t = idText(n.String())
	return nil
}

type idconvResponse struct {
	Status  string   `json:"status"`
	Records []Record `json:"records"`
}

// Option configures the PMC client.
type Option func(*httpClient)

// WithIDConvURL sets the ID converter endpoint (for testing).
func WithIDConvURL(u string) Option {
	return func(c *httpClient) {
		c.idconvURL = u
	}
}

// WithEUtilsURL sets the E-utilities base URL (for testing).
func WithEUtilsURL(u string) Option {
	return func(c *httpClient) {
		c.eutilsURL = strings.TrimRight(u, "/")
	}
}

// WithIdentity sets the NCBI tool/email pair and optional API key.
func WithIdentity(tool, email, apiKey string) Option {
	return func(c *httpClient) {
		c.tool = tool
		c.email = email
		c.apiKey = apiKey
	}
}

type httpClient struct {
	get       fetcher.Getter
	idconvURL string
	eutilsURL string
	tool      string
	email     string
	apiKey    string
}

// NewClient creates a PMC client issuing requests through get.
func NewClient(get fetcher.Getter, opts ...Option) Client {
	c := &httpClient{
		get:       get,
		idconvURL: "https://pmc.ncbi.nlm.nih.gov/tools/idconv/api/v1/articles/",
		eutilsURL: "https://eutils.ncbi.nlm.nih.gov/entrez/eutils",
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
	return params
}

func (c *httpClient) IDConv(ctx context.Context, ids []string) (*Record, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	params := c.identify(url.Values{
		"ids":    {strings.Join(ids, ",")},
		"format": {"json"},
	})

	resp, err := c.get.Get(ctx, c.idconvURL, params)
	if err != nil {
		return nil, eris.Wrap(err, "pmc: idconv")
	}
	if !resp.OK() {
		return nil, &resilience.StatusError{StatusCode: resp.StatusCode, URL: resp.URL}
	}

	var out idconvResponse
	if err := json.Unmarshal(resp.Body, &out); err != nil {
		return nil, eris.Wrap(err, "pmc: decode idconv response")
	}
	if len(out.Records) == 0 {
		return nil, nil
	}
	rec := out.Records[0]
	rec.DOI = strings.ToLower(strings.TrimSpace(rec.DOI))
	rec.PMCID = strings.ToUpper(strings.TrimSpace(rec.PMCID))
	return &rec, nil
}

func (c *httpClient) FullText(ctx context.Context, pmcid string) (string, bool, error) {
	params := c.identify(url.Values{
		"db":      {"pmc"},
		"id":      {strings.ToUpper(strings.TrimSpace(pmcid))},
		"retmode": {"xml"},
	})
	if c.apiKey != "" {
		params.Set("api_key", c.apiKey)
	}

	resp, err := c.get.Get(ctx, c.eutilsURL+"/efetch.fcgi", params)
	if err != nil {
		return "", false, eris.Wrap(err, "pmc: efetch")
	}
	if !resp.OK() {
		return "", false, nil
	}

	body := string(resp.Body)
	if strings.Contains(strings.ToLower(body), "<error") || len(strings.TrimSpace(body)) < minFullTextBytes {
		return "", false, nil
	}
	return body, true, nil
}
