package ngramtrie

import (
	"container/heap"
	"sort"
)

// Probability returns the smoothed log-probability of the token
// sequence. If the full sequence isn't found, it applies Katz backoff:
// drop the earliest context token, add the backoff weight of the
// context that was just abandoned (if that context itself is a known
// n-gram), and retry with the shorter suffix, until some suffix
// resolves or only the final token remains.
func (t *Trie) Probability(tokens []string) float32 {
	m := len(tokens)
	if m == 0 {
		return 0
	}
	ids := make([]uint32, m)
	oov := make([]bool, m)
	for i, tok := range tokens {
		id, found := t.vocab.IDOf(tok)
		ids[i] = id
		oov[i] = !found
	}

	var backoffSum float32
	for contextLen := m - 1; contextLen >= 0; contextLen-- {
		start := m - 1 - contextLen
		if anyTrue(oov[start:]) {
			continue
		}
		seq := ids[start:]
		depth, row := t.descend(seq)
		if depth == len(seq) {
			rec := t.getRecord(depth, row)
			return rec.prob + backoffSum
		}
		if contextLen > 0 {
			ctxSeq := ids[start : m-1]
			ctxDepth, ctxRow := t.descend(ctxSeq)
			if ctxDepth == len(ctxSeq) {
				ctxRec := t.getRecord(ctxDepth, ctxRow)
				backoffSum += ctxRec.backoff
			}
		}
	}
	return backoffSum
}

func anyTrue(bs []bool) bool {
	for _, b := range bs {
		if b {
			return true
		}
	}
	return false
}

// resolveContext trims leading tokens up to and including the last
// out-of-vocabulary token, then drops further leading tokens until the
// remaining suffix fully resolves via descend. depth is 0 if no
// non-empty suffix resolves at all (e.g. every token is OOV).
func (t *Trie) resolveContext(tokens []string) (depth int, row uint64) {
	start := 0
	ids := make([]uint32, len(tokens))
	for i, tok := range tokens {
		id, found := t.vocab.IDOf(tok)
		ids[i] = id
		if !found {
			start = i + 1
		}
	}
	ids = ids[start:]
	for len(ids) > 0 {
		d, r := t.descend(ids)
		if d == len(ids) {
			return d, r
		}
		ids = ids[1:]
	}
	return 0, 0
}

// clampContext keeps only the trailing order-1 tokens of context, since
// that's the longest context any order can use to predict a next word.
func (t *Trie) clampContext(context []string) []string {
	maxLen := int(t.order) - 1
	if maxLen < 1 {
		maxLen = 1
	}
	if len(context) > maxLen {
		return context[len(context)-maxLen:]
	}
	return context
}

// startOfSentence resolves the substitute context used when the caller
// passes an empty context or one that is entirely out of vocabulary.
func (t *Trie) startOfSentence() (depth int, row uint64, ok bool) {
	id, found := t.vocab.IDOf("<s>")
	if !found {
		return 0, 0, false
	}
	return 1, uint64(id), true
}

// NextWord returns the single most probable token following context,
// falling back to start-of-sentence ("<s>") when context is empty or
// entirely unresolvable.
func (t *Trie) NextWord(context []string) (string, bool) {
	context = t.clampContext(context)
	depth, row := 0, uint64(0)
	if len(context) > 0 {
		depth, row = t.resolveContext(context)
	}
	if depth == 0 {
		d, r, ok := t.startOfSentence()
		if !ok {
			return "", false
		}
		depth, row = d, r
	}
	if depth >= int(t.order) {
		return "", false
	}
	lo, hi := t.childRange(depth, row)
	if lo >= hi {
		return "", false
	}
	best := t.getRecord(depth+1, lo)
	for i := lo + 1; i < hi; i++ {
		rec := t.getRecord(depth+1, i)
		if rec.prob > best.prob {
			best = rec
		}
	}
	return t.vocab.TextOf(best.wordID)
}

type topKItem struct {
	prob   float32
	wordID uint32
	row    uint64
}

// topKHeap is a min-heap by probability, bounded to size k, so the
// weakest candidate is evicted in O(log k) as stronger ones arrive.
type topKHeap []topKItem

func (h topKHeap) Len() int { return len(h) }
func (h topKHeap) Less(i, j int) bool {
	return h[i].prob < h[j].prob || (h[i].prob == h[j].prob && h[i].row > h[j].row)
}
func (h topKHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *topKHeap) Push(x interface{}) { *h = append(*h, x.(topKItem)) }
func (h *topKHeap) Pop() interface{} {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}

// TopK returns up to k tokens following context, sorted descending by
// probability (ties broken by lowest row index). If the child range
// holds fewer than k candidates, the returned slice is correspondingly
// shorter instead of reading past the range.
func (t *Trie) TopK(context []string, k int) []string {
	if k <= 0 {
		return nil
	}
	context = t.clampContext(context)
	depth, row := 0, uint64(0)
	if len(context) > 0 {
		depth, row = t.resolveContext(context)
	}
	if depth == 0 {
		d, r, ok := t.startOfSentence()
		if !ok {
			return nil
		}
		depth, row = d, r
	}
	if depth >= int(t.order) {
		return nil
	}
	lo, hi := t.childRange(depth, row)
	rangeSize := hi - lo
	if uint64(k) > rangeSize {
		k = int(rangeSize)
	}
	if k <= 0 {
		return nil
	}

	h := make(topKHeap, 0, k)
	for i := lo; i < hi; i++ {
		rec := t.getRecord(depth+1, i)
		item := topKItem{prob: rec.prob, wordID: rec.wordID, row: i}
		if len(h) < k {
			heap.Push(&h, item)
			continue
		}
		if item.prob > h[0].prob {
			heap.Pop(&h)
			heap.Push(&h, item)
		}
	}

	items := make([]topKItem, len(h))
	copy(items, h)
	sort.Slice(items, func(a, b int) bool {
		if items[a].prob != items[b].prob {
			return items[a].prob > items[b].prob
		}
		return items[a].row < items[b].row
	})

	out := make([]string, len(items))
	for i, it := range items {
		text, _ := t.vocab.TextOf(it.wordID)
		out[i] = text
	}
	return out
}
