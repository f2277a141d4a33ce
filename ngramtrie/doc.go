// Package ngramtrie implements a compact, read-optimized n-gram
// language model: a reverse-free (context→word) trie built from an
// ARPA-format text file and persisted to a binary snapshot.
//
// Ngrams are stored forward rather than reverse, so the set of children
// of a context is a contiguous, binary-searchable range of the next
// order's array instead of a graph walk. Each order lives in its own
// bit-packed PackedArray, sized to the minimum width its record fields
// require, and is linked to the previous order via a first_child_index
// column rather than pointers.
//
//	t, err := ngramtrie.BuildFromARPA(r, order)
//	t.Probability([]string{"the", "cat"})
//	t.NextWord([]string{"the"})
//	t.TopK([]string{"the"}, 5)
package ngramtrie
