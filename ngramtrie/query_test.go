package ngramtrie

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestProbability_FullMatch(t *testing.T) {
	trie := buildFixture(t)
	assert.Equal(t, float32(-0.20), trie.Probability([]string{"the", "cat"}))
	assert.Equal(t, float32(-0.15), trie.Probability([]string{"the", "cat", "sat"}))
	assert.Equal(t, float32(-0.35), trie.Probability([]string{"the", "cat", "ran"}))
}

// TestProbability_Backoff exercises Katz backoff: "dog cat" isn't a
// known bigram, so probability falls back to unigram("cat") plus the
// backoff weight of the abandoned context "dog".
func TestProbability_Backoff(t *testing.T) {
	trie := buildFixture(t)
	want := float32(-0.6) + float32(-0.25)
	assert.Equal(t, want, trie.Probability([]string{"dog", "cat"}))
}

func TestProbability_UnigramOnly(t *testing.T) {
	trie := buildFixture(t)
	assert.Equal(t, float32(-0.6), trie.Probability([]string{"cat"}))
}

func TestProbability_TrailingOOV(t *testing.T) {
	trie := buildFixture(t)
	// Every suffix containing the OOV token is skipped, and the final
	// token itself is unknown, so only the zero-value backoff sum
	// remains.
	assert.Equal(t, float32(0), trie.Probability([]string{"the", "nonexistent"}))
}

func TestNextWord_PicksHighestProbabilityChild(t *testing.T) {
	trie := buildFixture(t)
	word, ok := trie.NextWord([]string{"the"})
	assert.True(t, ok)
	assert.Equal(t, "cat", word) // -0.20 beats "dog" at -0.30

	word, ok = trie.NextWord([]string{"the", "cat"})
	assert.True(t, ok)
	assert.Equal(t, "sat", word) // -0.15 beats "ran" at -0.35
}

func TestNextWord_EmptyContextFallsBackToStartOfSentence(t *testing.T) {
	trie := buildFixture(t)
	word, ok := trie.NextWord(nil)
	assert.True(t, ok)
	assert.Equal(t, "the", word)
}

func TestNextWord_LeadingOOVIsTrimmed(t *testing.T) {
	trie := buildFixture(t)
	// "nonexistent cat" is an OOV bigram context; the leading
	// unresolvable token is trimmed and the query retries against
	// ["cat"] alone.
	word, ok := trie.NextWord([]string{"nonexistent", "cat"})
	assert.True(t, ok)
	assert.Equal(t, "sat", word)
}

func TestNextWord_AllOOVFallsBackToStartOfSentence(t *testing.T) {
	trie := buildFixture(t)
	word, ok := trie.NextWord([]string{"nonexistent"})
	assert.True(t, ok)
	assert.Equal(t, "the", word)
}

func TestNextWord_NoChildrenReturnsFalse(t *testing.T) {
	trie := buildFixture(t)
	_, ok := trie.NextWord([]string{"the", "dog"})
	assert.False(t, ok)
}

func TestTopK_SortedDescending(t *testing.T) {
	trie := buildFixture(t)
	got := trie.TopK([]string{"the"}, 5)
	assert.Equal(t, []string{"cat", "dog"}, got)
}

func TestTopK_BoundedByRangeSize(t *testing.T) {
	trie := buildFixture(t)
	got := trie.TopK([]string{"the"}, 1)
	assert.Equal(t, []string{"cat"}, got)
}

func TestTopK_ZeroOrNegativeK(t *testing.T) {
	trie := buildFixture(t)
	assert.Nil(t, trie.TopK([]string{"the"}, 0))
	assert.Nil(t, trie.TopK([]string{"the"}, -3))
}

func TestTopK_EmptyChildRange(t *testing.T) {
	trie := buildFixture(t)
	assert.Nil(t, trie.TopK([]string{"the", "dog"}, 5))
}
