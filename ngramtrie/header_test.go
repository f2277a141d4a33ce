package ngramtrie

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSaveLoad_RoundTrip(t *testing.T) {
	trie := buildFixture(t)

	var buf bytes.Buffer
	require.NoError(t, trie.Save(&buf))

	loaded, err := Load(bytes.NewReader(buf.Bytes()))
	require.NoError(t, err)

	assert.Equal(t, trie.Order(), loaded.Order())
	assert.Equal(t, trie.nNgrams, loaded.nNgrams)
	assert.Equal(t, trie.vocab.hashes, loaded.vocab.hashes)
	assert.Equal(t, trie.vocab.texts, loaded.vocab.texts)
	assert.Equal(t, trie.layouts, loaded.layouts)

	for i, arr := range trie.arrays {
		require.Equal(t, arr.Len(), loaded.arrays[i].Len())
		for row := uint64(0); row < arr.Len(); row++ {
			assert.Equal(t, arr.Get(row), loaded.arrays[i].Get(row), "order %d row %d", i+1, row)
		}
	}

	assert.Equal(t, trie.Probability([]string{"the", "cat"}), loaded.Probability([]string{"the", "cat"}))
	nw1, ok1 := trie.NextWord([]string{"the"})
	nw2, ok2 := loaded.NextWord([]string{"the"})
	assert.Equal(t, ok1, ok2)
	assert.Equal(t, nw1, nw2)
	assert.Equal(t, trie.TopK([]string{"the"}, 5), loaded.TopK([]string{"the"}, 5))
}

func TestLoad_RejectsBadMagic(t *testing.T) {
	_, err := Load(bytes.NewReader([]byte("NOTAVALIDHEADERATALL")))
	assert.ErrorIs(t, err, ErrBadMagic)
}

func TestLoad_RejectsTruncatedStream(t *testing.T) {
	trie := buildFixture(t)
	var buf bytes.Buffer
	require.NoError(t, trie.Save(&buf))

	truncated := buf.Bytes()[:len(buf.Bytes())-20]
	_, err := Load(bytes.NewReader(truncated))
	assert.Error(t, err)
}

func TestLoad_RejectsCorruptedChecksum(t *testing.T) {
	trie := buildFixture(t)
	var buf bytes.Buffer
	require.NoError(t, trie.Save(&buf))

	corrupted := append([]byte(nil), buf.Bytes()...)
	corrupted[len(corrupted)-1] ^= 0xFF
	_, err := Load(bytes.NewReader(corrupted))
	assert.ErrorIs(t, err, ErrChecksumMismatch)
}
