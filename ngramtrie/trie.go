package ngramtrie

import "math"

// orderLayout caches the per-order field widths derived from the
// per-order counts, so hot paths never recompute ceil(log2(...)) on
// every record access.
type orderLayout struct {
	hasWordID  bool
	hasChild   bool
	hasBackoff bool
	wordIDW    int
	childW     int
}

// widths returns the field widths in on-disk order: prob, [backoff],
// [word_id], [first_child_index].
func (l orderLayout) widths() []int {
	w := make([]int, 0, 4)
	w = append(w, 32)
	if l.hasBackoff {
		w = append(w, 32)
	}
	if l.hasWordID {
		w = append(w, l.wordIDW)
	}
	if l.hasChild {
		w = append(w, l.childW)
	}
	return w
}

func (l orderLayout) totalWidth() int {
	var total int
	for _, w := range l.widths() {
		total += w
	}
	return total
}

// computeLayouts derives the run-time record layout of every order from
// the declared per-order counts and which orders carry ARPA backoff
// weights. nNgrams[i] is N_(i+1); order is len(nNgrams).
func computeLayouts(nNgrams []uint64, backoffPresent []bool) []orderLayout {
	order := len(nNgrams)
	wordIDW := int(ceilLog2(nNgrams[0]))
	layouts := make([]orderLayout, order)
	for i := 0; i < order; i++ {
		n := i + 1
		var l orderLayout
		l.hasWordID = n > 1
		if l.hasWordID {
			l.wordIDW = wordIDW
		}
		l.hasChild = n < order
		if l.hasChild {
			l.childW = int(ceilLog2(nNgrams[n] + 1))
		}
		l.hasBackoff = l.hasChild && backoffPresent[i]
		layouts[i] = l
	}
	return layouts
}

// record is the decoded form of one trie row. Which fields are
// meaningful is determined by the owning order's layout.
type record struct {
	prob    float32
	backoff float32
	wordID  uint32
	fci     uint64
}

// Trie is the read-only, bit-packed reverse-free n-gram trie: N parallel
// packed arrays (one per order) linked by contiguous child ranges, plus
// the vocabulary that maps token text to word id.
type Trie struct {
	order   uint16
	nNgrams []uint64 // nNgrams[i] = N_(i+1)
	vocab   *Vocabulary
	arrays  []*PackedArray // arrays[i] holds order i+1
	layouts []orderLayout
}

// Order returns the maximum n-gram length the trie holds.
func (t *Trie) Order() uint16 { return t.order }

// NNgrams returns the declared count for order n (1-indexed).
func (t *Trie) NNgrams(n int) uint64 { return t.nNgrams[n-1] }

// WordID returns the word id of text, or (0, false) if text is out of
// vocabulary.
func (t *Trie) WordID(text string) (uint32, bool) { return t.vocab.IDOf(text) }

// WordText returns the text of a word id, or ("", false) if out of
// range.
func (t *Trie) WordText(id uint32) (string, bool) { return t.vocab.TextOf(id) }

// BuildVocabAccelerator builds the optional bucketed-hash vocabulary
// index described in Vocabulary.BuildAccelIndex, using tmpDir for
// scratch files. It's a pure optimization; WordID works with or
// without it.
func (t *Trie) BuildVocabAccelerator(tmpDir string) error {
	return t.vocab.BuildAccelIndex(tmpDir)
}

// Close releases resources held by the optional vocabulary accelerator,
// if one was built.
func (t *Trie) Close() error { return t.vocab.Close() }

func (t *Trie) getRecord(order int, idx uint64) record {
	l := t.layouts[order-1]
	raw := t.arrays[order-1].GetFields(idx, l.widths())
	var rec record
	k := 0
	rec.prob = math.Float32frombits(uint32(raw[k]))
	k++
	if l.hasBackoff {
		rec.backoff = math.Float32frombits(uint32(raw[k]))
		k++
	}
	if l.hasWordID {
		rec.wordID = uint32(raw[k])
		k++
	} else {
		rec.wordID = uint32(idx)
	}
	if l.hasChild {
		rec.fci = raw[k]
	}
	return rec
}

func (t *Trie) setRecord(order int, idx uint64, rec record) {
	l := t.layouts[order-1]
	fields := make([]uint64, 0, 4)
	fields = append(fields, uint64(math.Float32bits(rec.prob)))
	if l.hasBackoff {
		fields = append(fields, uint64(math.Float32bits(rec.backoff)))
	}
	if l.hasWordID {
		fields = append(fields, uint64(rec.wordID))
	}
	if l.hasChild {
		fields = append(fields, rec.fci)
	}
	t.arrays[order-1].SetFields(idx, fields, l.widths())
}

// wordIDAt extracts just the word_id field from a raw record already
// read via PackedArray.Get, to avoid decoding the whole record during a
// binary search's comparator.
func (t *Trie) wordIDAt(order int, raw uint64) uint32 {
	l := t.layouts[order-1]
	if !l.hasWordID {
		return 0
	}
	shift := 32
	if l.hasBackoff {
		shift += 32
	}
	mask := uint64(1)<<uint(l.wordIDW) - 1
	return uint32((raw >> uint(shift)) & mask)
}

func (t *Trie) childRange(order int, parentIdx uint64) (lo, hi uint64) {
	parent := t.getRecord(order, parentIdx)
	next := t.getRecord(order, parentIdx+1)
	return parent.fci, next.fci
}

// descend walks the trie from order 1 following wordIDs[0], wordIDs[1],
// ... as far as it can. It returns the deepest level reached (0 if
// wordIDs is empty) and the row index at that level.
func (t *Trie) descend(wordIDs []uint32) (depth int, rowIndex uint64) {
	if len(wordIDs) == 0 {
		return 0, 0
	}
	rowIndex = uint64(wordIDs[0])
	depth = 1
	for level := 1; level < len(wordIDs); level++ {
		lo, hi := t.childRange(level, rowIndex)
		want := wordIDs[level]
		idx, ok := t.arrays[level].BSearch(lo, hi, func(raw uint64) int {
			wid := t.wordIDAt(level+1, raw)
			switch {
			case wid < want:
				return -1
			case wid > want:
				return 1
			default:
				return 0
			}
		})
		if !ok {
			return depth, rowIndex
		}
		rowIndex = idx
		depth = level + 1
	}
	return depth, rowIndex
}

// resolveIDs maps token texts to word ids, stopping at the first
// out-of-vocabulary token. ok reports whether every token resolved.
func (t *Trie) resolveIDs(tokens []string) (ids []uint32, ok bool) {
	ids = make([]uint32, len(tokens))
	for i, tok := range tokens {
		id, found := t.vocab.IDOf(tok)
		if !found {
			return nil, false
		}
		ids[i] = id
	}
	return ids, true
}
