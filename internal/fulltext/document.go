// Package fulltext resolves paper identifiers and retrieves machine-readable
// full text, caching every outcome so repeated runs stay offline.
package fulltext

import (
	"crypto/sha256"
	"encoding/hex"
	"regexp"
	"strings"
)

// ProviderIDConvPMC tags documents resolved through the PMC ID converter and
// fetched from PMC.
const ProviderIDConvPMC = "idconv+pmc"

// Document is the best-effort result of a retrieval. Content is empty when no
// full text was obtained; Warnings say why.
type Document struct {
	Title     string   `json:"title"`
	SourceURL string   `json:"source_url"`
	DOI       string   `json:"doi,omitempty"`
	PMID      string   `json:"pmid,omitempty"`
	PMCID     string   `json:"pmcid,omitempty"`
	Provider  string   `json:"provider"`
	Warnings  []string `json:"warnings"`
	Content   string   `json:"-"`
}

// NewDocument returns a Document with its own empty warnings list.
func NewDocument(title, sourceURL string) *Document {
	return &Document{
		Title:     title,
		SourceURL: sourceURL,
		Provider:  "unknown",
		Warnings:  make([]string, 0, 2),
	}
}

// Warn appends a warning.
func (d *Document) Warn(msg string) {
	d.Warnings = append(d.Warnings, msg)
}

// HasContent reports whether full text was retrieved.
func (d *Document) HasContent() bool {
	return strings.TrimSpace(d.Content) != ""
}

var (
	doiRe   = regexp.MustCompile(`(?i)\b10\.\d{4,9}/[-._;()/:A-Z0-9]+\b`)
	pmcidRe = regexp.MustCompile(`(?i)\bPMC\d+\b`)
	pmidRe  = regexp.MustCompile(`(?i)(?:pubmed\.ncbi\.nlm\.nih\.gov/|/pubmed/)(\d+)`)
)

// ExtractDOI returns the first DOI in text, lowercased.
func ExtractDOI(text string) string {
	return strings.ToLower(strings.TrimSpace(doiRe.FindString(text)))
}

// ExtractPMCID returns the first PMC identifier in text, uppercased.
func ExtractPMCID(text string) string {
	return strings.ToUpper(pmcidRe.FindString(text))
}

// ExtractPMID returns the PubMed id from a PubMed article URL.
func ExtractPMID(rawURL string) string {
	m := pmidRe.FindStringSubmatch(rawURL)
	if m == nil {
		return ""
	}
	return m[1]
}

// CacheKey derives the stable cache key for a retrieval from the title
// (first 120 runes), URL (first 200 runes) and known identifiers.
func CacheKey(title, rawURL, doi, pmcid, pmid string) string {
	parts := make([]string, 0, 5)
	for _, p := range []string{truncRunes(title, 120), truncRunes(rawURL, 200), doi, pmcid, pmid} {
		if p != "" {
			parts = append(parts, p)
		}
	}
	sum := sha256.Sum256([]byte(strings.Join(parts, "||")))
	return hex.EncodeToString(sum[:])[:24]
}

func truncRunes(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
