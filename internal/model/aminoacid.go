package model

import (
	"slices"
	"strings"
)

// CanonicalUnit is the only unit stored on an AminoAcidFact.
const CanonicalUnit = "mg/100g"

// EssentialAminoAcids are the nine acids the body cannot synthesize.
var EssentialAminoAcids = []string{
	"histidine",
	"isoleucine",
	"leucine",
	"lysine",
	"methionine",
	"phenylalanine",
	"threonine",
	"tryptophan",
	"valine",
}

// NormalizeAminoAcid lowercases and trims an acid name.
func NormalizeAminoAcid(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

// IsEssential reports whether name (after normalization) is one of the nine.
func IsEssential(name string) bool {
	return slices.Contains(EssentialAminoAcids, NormalizeAminoAcid(name))
}
