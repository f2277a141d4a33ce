package ngramtrie

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

// fixtureARPA is a small, hand-built 3-gram ARPA file used across the
// package's tests. Its vocabulary and branching are chosen so every
// assertion below is independent of murmur3's hash-sort word id
// ordering: tests only ever look up words by text.
const fixtureARPA = `\data\
ngram 1=6
ngram 2=5
ngram 3=3

\1-grams:
-1.0 <s> -0.05
-0.5 the -0.20
-0.6 cat -0.30
-0.65 dog -0.25
-0.70 sat -0.15
-0.75 ran -0.35

\2-grams:
-0.10 <s> the -0.05
-0.20 the cat -0.05
-0.30 the dog -0.40
-0.40 cat sat -0.05
-0.50 dog ran -0.40

\3-grams:
-0.05 <s> the cat
-0.15 the cat sat
-0.35 the cat ran

\end\
`

func buildFixture(t *testing.T) *Trie {
	t.Helper()
	trie, err := BuildFromARPA(strings.NewReader(fixtureARPA), 3)
	require.NoError(t, err)
	require.NotNil(t, trie)
	return trie
}
