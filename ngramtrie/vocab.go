package ngramtrie

import (
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sort"

	"github.com/rpcpool/ngramtrie/compactindexsized"
)

// Vocabulary is the ordered set of (hash, text) pairs that make up the
// unigram table: a token's word id is its index in this hash-sorted
// sequence.
type Vocabulary struct {
	hashes []uint64
	texts  []string

	// accel is an optional on-disk accelerated index from token hash to
	// word id, built only by an explicit BuildAccelIndex call. nil unless
	// BuildAccelIndex succeeded.
	accel     *compactindexsized.DB
	accelFile *os.File
}

// newVocabularyFromPairs sorts (hash, text) pairs ascending by hash and
// returns the resulting Vocabulary. Word ids are assigned by sorted
// position.
func newVocabularyFromPairs(hashes []uint64, texts []string) *Vocabulary {
	idx := make([]int, len(hashes))
	for i := range idx {
		idx[i] = i
	}
	sort.SliceStable(idx, func(a, b int) bool { return hashes[idx[a]] < hashes[idx[b]] })

	v := &Vocabulary{
		hashes: make([]uint64, len(hashes)),
		texts:  make([]string, len(hashes)),
	}
	for newPos, oldPos := range idx {
		v.hashes[newPos] = hashes[oldPos]
		v.texts[newPos] = texts[oldPos]
	}
	return v
}

// Len returns the number of unigrams, i.e. N1.
func (v *Vocabulary) Len() int { return len(v.texts) }

// IDOf returns the word id of text, or (0, false) if text is out of
// vocabulary. A hash match whose stored text disagrees with text is
// treated as a miss rather than trusted on hash alone.
func (v *Vocabulary) IDOf(text string) (uint32, bool) {
	if v.accel != nil {
		if id, ok := v.accelLookup(text); ok {
			return id, true
		}
	}
	h := wordHash([]byte(text))
	i := sort.Search(len(v.hashes), func(i int) bool { return v.hashes[i] >= h })
	for ; i < len(v.hashes) && v.hashes[i] == h; i++ {
		if v.texts[i] == text {
			return uint32(i), true
		}
	}
	return 0, false
}

// TextOf returns the text of word id, or ("", false) if id is out of
// range.
func (v *Vocabulary) TextOf(id uint32) (string, bool) {
	if int(id) >= len(v.texts) {
		return "", false
	}
	return v.texts[id], true
}

func (v *Vocabulary) accelLookup(text string) (uint32, bool) {
	var key [8]byte
	binary.LittleEndian.PutUint64(key[:], wordHash([]byte(text)))
	val, err := v.accel.Lookup(key[:])
	if err != nil {
		return 0, false
	}
	id := binary.LittleEndian.Uint32(val)
	if stored, ok := v.TextOf(id); ok && stored == text {
		return id, true
	}
	return 0, false
}

// BuildAccelIndex builds the optional bucketed-hash accelerator, using
// tmpDir for scratch files. It is a pure optimization: IDOf falls back to
// binary search when accel is absent or misses.
func (v *Vocabulary) BuildAccelIndex(tmpDir string) error {
	if len(v.texts) == 0 {
		return nil
	}
	b, err := compactindexsized.NewBuilderSized(tmpDir, uint(len(v.texts)), 4)
	if err != nil {
		return fmt.Errorf("ngramtrie: build vocabulary accel index: %w", err)
	}
	if err := b.SetKind([]byte("ngramtrie-vocab")); err != nil {
		return fmt.Errorf("ngramtrie: set vocab accel kind: %w", err)
	}
	for id, hash := range v.hashes {
		var key [8]byte
		binary.LittleEndian.PutUint64(key[:], hash)
		var val [4]byte
		binary.LittleEndian.PutUint32(val[:], uint32(id))
		if err := b.Insert(key[:], val[:]); err != nil {
			return fmt.Errorf("ngramtrie: insert vocab accel entry: %w", err)
		}
	}
	f, err := os.CreateTemp(tmpDir, "ngramtrie-vocab-accel-")
	if err != nil {
		return fmt.Errorf("ngramtrie: create vocab accel file: %w", err)
	}
	if err := b.Seal(context.Background(), f); err != nil {
		f.Close()
		return fmt.Errorf("ngramtrie: seal vocab accel index: %w", err)
	}
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		f.Close()
		return err
	}
	db, err := compactindexsized.Open(f)
	if err != nil {
		f.Close()
		return fmt.Errorf("ngramtrie: open vocab accel index: %w", err)
	}
	v.accel = db
	v.accelFile = f
	slog.Debug("built vocabulary accelerator", "entries", len(v.texts))
	return nil
}

// Close releases the accelerator's backing file, if any.
func (v *Vocabulary) Close() error {
	if v.accelFile != nil {
		return v.accelFile.Close()
	}
	return nil
}

func (v *Vocabulary) writeTo(w io.Writer) error {
	n := uint32(len(v.texts))
	for _, h := range v.hashes {
		var b [8]byte
		binary.LittleEndian.PutUint64(b[:], h)
		if _, err := w.Write(b[:]); err != nil {
			return err
		}
	}
	for i := uint32(0); i < n; i++ {
		text := v.texts[i]
		var lenBuf [4]byte
		binary.LittleEndian.PutUint32(lenBuf[:], uint32(len(text)))
		if _, err := w.Write(lenBuf[:]); err != nil {
			return err
		}
		if _, err := io.WriteString(w, text); err != nil {
			return err
		}
	}
	return nil
}

func readVocabulary(r io.Reader, n1 uint64) (*Vocabulary, error) {
	hashes := make([]uint64, n1)
	for i := range hashes {
		var b [8]byte
		if _, err := io.ReadFull(r, b[:]); err != nil {
			return nil, fmt.Errorf("%w: vocabulary hash %d: %v", ErrTruncatedSnapshot, i, err)
		}
		hashes[i] = binary.LittleEndian.Uint64(b[:])
	}
	texts := make([]string, n1)
	for i := range texts {
		var lenBuf [4]byte
		if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
			return nil, fmt.Errorf("%w: vocabulary text length %d: %v", ErrTruncatedSnapshot, i, err)
		}
		length := binary.LittleEndian.Uint32(lenBuf[:])
		buf := make([]byte, length)
		if _, err := io.ReadFull(r, buf); err != nil {
			return nil, fmt.Errorf("%w: vocabulary text %d: %v", ErrTruncatedSnapshot, i, err)
		}
		texts[i] = string(buf)
	}
	if !sort.SliceIsSorted(hashes, func(i, j int) bool { return hashes[i] < hashes[j] }) {
		return nil, fmt.Errorf("%w: vocabulary hashes not sorted", ErrInvalidARPA)
	}
	return &Vocabulary{hashes: hashes, texts: texts}, nil
}
