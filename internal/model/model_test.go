package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCanTransition(t *testing.T) {
	tests := []struct {
		from, to QueryStatus
		want     bool
	}{
		{StatusNew, StatusQueued, true},
		{StatusNew, StatusRejected, true},
		{StatusNew, StatusCandidatesDone, false},
		{StatusQueued, StatusCandidatesDone, true},
		{StatusQueued, StatusQueued, true},
		{StatusQueued, StatusResolved, false},
		{StatusCandidatesDone, StatusResolved, true},
		{StatusCandidatesDone, StatusNeedsReview, true},
		{StatusRejected, StatusQueued, false},
		{StatusResolved, StatusNeedsReview, false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, tt.from.CanTransition(tt.to), "%s -> %s", tt.from, tt.to)
	}
}

func TestTerminal(t *testing.T) {
	assert.True(t, StatusRejected.Terminal())
	assert.True(t, StatusResolved.Terminal())
	assert.True(t, StatusNeedsReview.Terminal())
	assert.False(t, StatusNew.Terminal())
	assert.False(t, StatusQueued.Terminal())
	assert.False(t, StatusCandidatesDone.Terminal())
}

func TestValid(t *testing.T) {
	for _, s := range AllStatuses {
		assert.True(t, s.Valid(), s)
	}
	assert.False(t, QueryStatus("done").Valid())
}

func TestIsEssential(t *testing.T) {
	assert.True(t, IsEssential("Lysine"))
	assert.True(t, IsEssential("  TRYPTOPHAN "))
	assert.False(t, IsEssential("glycine"))
	assert.False(t, IsEssential("lys"))
	assert.Len(t, EssentialAminoAcids, 9)
}
