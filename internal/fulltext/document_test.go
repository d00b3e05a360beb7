package fulltext

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewDocument_FreshWarnings(t *testing.T) {
	a := NewDocument("a", "")
	b := NewDocument("b", "")
	a.Warn("only on a")

	assert.Equal(t, []string{"only on a"}, a.Warnings)
	assert.Empty(t, b.Warnings)
	assert.NotNil(t, b.Warnings)
	assert.False(t, a.HasContent())
}

func TestExtractIdentifiers(t *testing.T) {
	assert.Equal(t, "10.1016/j.foodchem.2020.12345", ExtractDOI("https://doi.org/10.1016/J.FOODCHEM.2020.12345"))
	assert.Equal(t, "", ExtractDOI("no identifier here"))

	assert.Equal(t, "PMC123456", ExtractPMCID("https://pmc.ncbi.nlm.nih.gov/articles/pmc123456/"))
	assert.Equal(t, "", ExtractPMCID("PMCX"))

	assert.Equal(t, "3456789", ExtractPMID("https://pubmed.ncbi.nlm.nih.gov/3456789/"))
	assert.Equal(t, "42", ExtractPMID("https://www.ncbi.nlm.nih.gov/pubmed/42"))
	assert.Equal(t, "", ExtractPMID("https://example.org/42"))
}

func TestCacheKey(t *testing.T) {
	k := CacheKey("Amino acids in quinoa", "https://x.org/a", "10.1/abc", "", "")
	assert.Len(t, k, 24)
	assert.Equal(t, k, CacheKey("Amino acids in quinoa", "https://x.org/a", "10.1/abc", "", ""))

	// Empty parts are skipped rather than joined.
	assert.Equal(t, CacheKey("t", "", "d", "", ""), CacheKey("t", "d", "", "", ""))

	// Titles beyond 120 runes do not change the key.
	long := strings.Repeat("é", 120)
	assert.Equal(t, CacheKey(long, "", "", "", ""), CacheKey(long+"tail", "", "", "", ""))
	assert.NotEqual(t, CacheKey("a", "", "", "", ""), CacheKey("b", "", "", "", ""))
}
