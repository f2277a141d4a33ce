package ngramtrie

import (
	"fmt"
	"io"
	"log/slog"
	"math"
	"sort"
)

// BuildFromARPA constructs a Trie from an ARPA text stream. order must
// match the order declared in the ARPA \data\ header.
//
// Construction is a streaming, two-pass-per-order process: each order's
// rows are appended to a scratch array carrying an explicit context_id
// column, sorted by (context_id, word_id), then used to back-patch the
// previous order's first_child_index column. The scratch array is then
// reduced to its final (prob[, backoff], word_id[, first_child_index])
// layout, discarding context_id.
func BuildFromARPA(r io.Reader, order uint16) (*Trie, error) {
	ar, err := NewARPAReader(r)
	if err != nil {
		return nil, err
	}
	if ar.Order() != order {
		return nil, fmt.Errorf("%w: arpa declares order %d, build requested order %d", ErrInvalidARPA, ar.Order(), order)
	}
	nNgrams := ar.Counts()

	if err := ar.NextSection(1); err != nil {
		return nil, err
	}
	hashes := make([]uint64, nNgrams[0])
	texts := make([]string, nNgrams[0])
	unigramProbs := make([]float32, nNgrams[0])
	unigramBackoffs := make([]float32, nNgrams[0])
	unigramHasBackoff := make([]bool, nNgrams[0])
	var i uint64
	for {
		ng, ok, err := ar.NextNgram(1)
		if err != nil {
			return nil, err
		}
		if !ok {
			break
		}
		if i >= nNgrams[0] {
			return nil, fmt.Errorf("%w: more than %d unigrams", ErrCountMismatch, nNgrams[0])
		}
		hashes[i] = wordHash([]byte(ng.Words[0]))
		texts[i] = ng.Words[0]
		unigramProbs[i] = ng.LogProb
		unigramBackoffs[i] = ng.LogBackoff
		unigramHasBackoff[i] = ng.HasBackoff
		i++
	}
	if i != nNgrams[0] {
		return nil, fmt.Errorf("%w: declared %d unigrams, read %d", ErrCountMismatch, nNgrams[0], i)
	}

	// Sort order permutation to go from ARPA row order to hash order, so
	// the per-row probability/backoff can be placed at the right word id
	// (newVocabularyFromPairs applies the same stable sort internally).
	perm := make([]int, len(hashes))
	for k := range perm {
		perm[k] = k
	}
	sort.SliceStable(perm, func(a, b int) bool { return hashes[perm[a]] < hashes[perm[b]] })
	vocab := newVocabularyFromPairs(hashes, texts)
	slog.Debug("vocabulary built", "n1", vocab.Len())

	backoffPresent := make([]bool, order)
	for k := range unigramHasBackoff {
		if unigramHasBackoff[k] {
			backoffPresent[0] = true
			break
		}
	}

	t := &Trie{
		order:   order,
		nNgrams: nNgrams,
		vocab:   vocab,
		arrays:  make([]*PackedArray, order),
	}

	// Unigram array: row i is keyed by word id i directly (no word_id
	// column of its own). first_child_index is patched while processing
	// order 2; left at zero until then.
	l1 := orderLayout{hasChild: order > 1, hasBackoff: order > 1 && backoffPresent[0]}
	if l1.hasChild {
		l1.childW = int(ceilLog2(nNgrams[1] + 1))
	}
	t.layouts = append(t.layouts, l1)
	t.arrays[0] = NewPackedArray(l1.totalWidth(), nNgrams[0]+boolToU64(order > 1))
	// Word id == hash-sorted position; map each back to its ARPA row to
	// read that row's probability/backoff.
	origIndexOfID := make([]int, len(perm))
	for newPos, oldPos := range perm {
		origIndexOfID[newPos] = oldPos
	}
	for id := 0; id < len(origIndexOfID); id++ {
		orig := origIndexOfID[id]
		rec := record{prob: unigramProbs[orig]}
		if l1.hasBackoff {
			rec.backoff = unigramBackoffs[orig]
		}
		t.setRecord(1, uint64(id), rec)
	}

	if order == 1 {
		return t, nil
	}

	for n := 2; n <= int(order); n++ {
		if err := ar.NextSection(n); err != nil {
			return nil, err
		}
		_, backoffSeen, err := buildOrder(t, ar, n, nNgrams, backoffPresent)
		if err != nil {
			return nil, err
		}
		backoffPresent[n-1] = backoffSeen
		slog.Debug("order populated", "order", n, "count", nNgrams[n-1])
	}

	if err := ar.Finish(); err != nil {
		return nil, err
	}

	return t, nil
}

func boolToU64(b bool) uint64 {
	if b {
		return 1
	}
	return 0
}

// buildOrder populates array n from its ARPA section, sorts it by
// (context_id, word_id), back-patches array n-1's first_child_index
// column, and stores the finished, reduced array n in t.arrays; it
// returns that array's layout plus whether it carried backoff weights.
func buildOrder(t *Trie, ar *ARPAReader, n int, nNgrams []uint64, backoffPresent []bool) (orderLayout, bool, error) {
	order := int(t.order)
	wordIDW := int(ceilLog2(nNgrams[0]))
	ctxW := int(ceilLog2(nNgrams[n-2] + 1))

	final := orderLayout{hasWordID: true, hasChild: n < order}
	final.wordIDW = wordIDW
	if final.hasChild {
		final.childW = int(ceilLog2(nNgrams[n] + 1))
	}

	rowCount := nNgrams[n-1]
	buildWidths := func(hasBackoff bool) []int {
		w := []int{32}
		if hasBackoff {
			w = append(w, 32)
		}
		w = append(w, wordIDW, ctxW)
		return w
	}

	// First pass over the section to learn whether this order's rows
	// carry backoff weights, without holding the whole section in memory
	// twice: ARPA sections are streamed once, so read into a small
	// staging slice instead.
	type stagedRow struct {
		prob       float32
		backoff    float32
		hasBackoff bool
		contextID  uint64
		wordID     uint32
	}
	staged := make([]stagedRow, 0, rowCount)
	var hasBackoff bool
	var i uint64
	for {
		ng, ok, err := ar.NextNgram(n)
		if err != nil {
			return orderLayout{}, false, err
		}
		if !ok {
			break
		}
		if i >= rowCount {
			return orderLayout{}, false, fmt.Errorf("%w: more than %d %d-grams", ErrCountMismatch, rowCount, n)
		}
		ids, ok := t.resolveIDs(ng.Words)
		if !ok {
			return orderLayout{}, false, fmt.Errorf("%w: unresolved token in %d-gram row %d", ErrUnknownToken, n, i)
		}
		ctxDepth, ctxRow := t.descend(ids[:n-1])
		if ctxDepth != n-1 {
			return orderLayout{}, false, fmt.Errorf("%w: context of %d-gram row %d only resolves to depth %d", ErrUnknownToken, n, i, ctxDepth)
		}
		row := stagedRow{
			prob:       ng.LogProb,
			contextID:  ctxRow,
			wordID:     ids[n-1],
			hasBackoff: ng.HasBackoff,
			backoff:    ng.LogBackoff,
		}
		if ng.HasBackoff {
			hasBackoff = true
		}
		staged = append(staged, row)
		i++
	}
	if i != rowCount {
		return orderLayout{}, false, fmt.Errorf("%w: declared %d %d-grams, read %d", ErrCountMismatch, rowCount, n, i)
	}
	hasBackoff = hasBackoff && n < order

	tmp := NewPackedArray(sumInts(buildWidths(hasBackoff)), rowCount+1)
	packRow := func(idx uint64, row stagedRow) {
		fields := []uint64{uint64(math.Float32bits(row.prob))}
		if hasBackoff {
			fields = append(fields, uint64(math.Float32bits(row.backoff)))
		}
		fields = append(fields, uint64(row.wordID), row.contextID)
		tmp.SetFields(idx, fields, buildWidths(hasBackoff))
	}
	for idx, row := range staged {
		packRow(uint64(idx), row)
	}
	// Sentinel row: word_id == N1 sorts after every real row sharing the
	// same trailing context_id.
	packRow(rowCount, stagedRow{contextID: nNgrams[n-2], wordID: uint32(nNgrams[0])})

	wordIDWidth := wordIDW
	tmp.Sort(func(a, b uint64) bool {
		aCtx, aWid := unpackBuildKey(a, hasBackoff, wordIDWidth, ctxW)
		bCtx, bWid := unpackBuildKey(b, hasBackoff, wordIDWidth, ctxW)
		if aCtx != bCtx {
			return aCtx < bCtx
		}
		return aWid < bWid
	})

	// Back-patch array n-1's first_child_index column.
	parentOrder := n - 1
	cursor := uint64(0)
	firstRec := t.getRecord(parentOrder, cursor)
	firstRec.fci = 0
	t.setRecord(parentOrder, cursor, firstRec)
	for idx := uint64(0); idx < tmp.Len(); idx++ {
		raw := tmp.Get(idx)
		ctxID, _ := unpackBuildKey(raw, hasBackoff, wordIDWidth, ctxW)
		for cursor < ctxID {
			cursor++
			rec := t.getRecord(parentOrder, cursor)
			rec.fci = idx
			t.setRecord(parentOrder, cursor, rec)
		}
	}

	// Reduce to the final (prob[, backoff], word_id[, first_child_index])
	// layout, discarding context_id. The layout must be registered before
	// setRecord below, since setRecord looks up field widths by order.
	final.hasBackoff = hasBackoff
	t.layouts = append(t.layouts, final)
	finalLen := rowCount
	if final.hasChild {
		finalLen++
	}
	t.arrays[n-1] = NewPackedArray(final.totalWidth(), finalLen)
	for idx := uint64(0); idx < rowCount; idx++ {
		raw := tmp.Get(idx)
		_, wid := unpackBuildKey(raw, hasBackoff, wordIDWidth, ctxW)
		rec := record{wordID: wid}
		probBits := uint32(raw & (uint64(1)<<32 - 1))
		rec.prob = math.Float32frombits(probBits)
		if hasBackoff {
			backoffBits := uint32((raw >> 32) & (uint64(1)<<32 - 1))
			rec.backoff = math.Float32frombits(backoffBits)
		}
		t.setRecord(n, idx, rec)
	}

	return final, hasBackoff, nil
}

func sumInts(xs []int) int {
	var total int
	for _, x := range xs {
		total += x
	}
	return total
}

// unpackBuildKey extracts (context_id, word_id) from a raw build-time
// record, given the order's hasBackoff flag and field widths.
func unpackBuildKey(raw uint64, hasBackoff bool, wordIDW, ctxW int) (ctxID uint64, wordID uint32) {
	shift := uint(32)
	if hasBackoff {
		shift += 32
	}
	widMask := uint64(1)<<uint(wordIDW) - 1
	wordID = uint32((raw >> shift) & widMask)
	shift += uint(wordIDW)
	ctxMask := uint64(1)<<uint(ctxW) - 1
	ctxID = (raw >> shift) & ctxMask
	return ctxID, wordID
}
