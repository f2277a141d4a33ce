package ngramtrie

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVocabulary_BuildAccelIndex_AccelLookupRoundTrip(t *testing.T) {
	trie := buildFixture(t)

	require.NoError(t, trie.BuildVocabAccelerator(t.TempDir()))
	defer trie.Close()

	require.NotNil(t, trie.vocab.accel)

	for id, text := range trie.vocab.texts {
		gotID, ok := trie.vocab.accelLookup(text)
		require.Truef(t, ok, "accelLookup(%q) missed", text)
		assert.Equal(t, uint32(id), gotID)
	}

	_, ok := trie.vocab.accelLookup("not-a-real-word")
	assert.False(t, ok)
}

func TestVocabulary_BuildAccelIndex_WordIDUsesAccelerator(t *testing.T) {
	trie := buildFixture(t)

	require.NoError(t, trie.BuildVocabAccelerator(t.TempDir()))
	defer trie.Close()

	for id, text := range trie.vocab.texts {
		gotID, ok := trie.WordID(text)
		require.True(t, ok)
		assert.Equal(t, uint32(id), gotID)
	}

	_, ok := trie.WordID("not-a-real-word")
	assert.False(t, ok)
}

func TestVocabulary_BuildAccelIndex_EmptyVocabularyIsNoop(t *testing.T) {
	v := &Vocabulary{}
	require.NoError(t, v.BuildAccelIndex(t.TempDir()))
	assert.Nil(t, v.accel)
	require.NoError(t, v.Close())
}
