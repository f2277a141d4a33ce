package ngramtrie

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/cespare/xxhash/v2"
	"github.com/rpcpool/ngramtrie/indexmeta"
	"golang.org/x/sys/unix"
)

// Magic are the first eight bytes of a ngramtrie snapshot.
var Magic = [8]byte{'N', 'G', 'R', 'A', 'M', 'T', 'R', 'I'}

// Version is the current snapshot format version.
const Version = uint8(1)

// Save serializes the trie to w as: magic, headerLen, header (order,
// version, metadata KV block), per-order counts, vocabulary, per-order
// packed arrays, and a trailing xxhash64 checksum over everything after
// the magic.
func (t *Trie) Save(w io.Writer) error {
	var payload bytes.Buffer

	header, err := t.encodeHeader()
	if err != nil {
		return fmt.Errorf("ngramtrie: encode header: %w", err)
	}
	var headerLen [4]byte
	binary.LittleEndian.PutUint32(headerLen[:], uint32(len(header)))
	payload.Write(headerLen[:])
	payload.Write(header)

	for _, n := range t.nNgrams {
		var b [8]byte
		binary.LittleEndian.PutUint64(b[:], n)
		payload.Write(b[:])
	}

	if err := t.vocab.writeTo(&payload); err != nil {
		return fmt.Errorf("ngramtrie: write vocabulary: %w", err)
	}
	for i, arr := range t.arrays {
		if _, err := arr.WriteTo(&payload); err != nil {
			return fmt.Errorf("ngramtrie: write array for order %d: %w", i+1, err)
		}
	}

	checksum := xxhash.Sum64(payload.Bytes())

	if f, ok := w.(*os.File); ok {
		total := int64(len(Magic)) + int64(payload.Len()) + 8
		if err := unix.Fallocate(int(f.Fd()), 0, 0, total); err != nil {
			slog.Debug("snapshot fallocate skipped", "err", err)
		}
	}

	if _, err := w.Write(Magic[:]); err != nil {
		return fmt.Errorf("ngramtrie: write magic: %w", err)
	}
	if _, err := w.Write(payload.Bytes()); err != nil {
		return fmt.Errorf("ngramtrie: write payload: %w", err)
	}
	var sumBuf [8]byte
	binary.LittleEndian.PutUint64(sumBuf[:], checksum)
	if _, err := w.Write(sumBuf[:]); err != nil {
		return fmt.Errorf("ngramtrie: write checksum: %w", err)
	}
	return nil
}

func (t *Trie) encodeHeader() ([]byte, error) {
	var buf bytes.Buffer
	var orderVersion [3]byte
	binary.LittleEndian.PutUint16(orderVersion[0:2], t.order)
	orderVersion[2] = Version
	buf.Write(orderVersion[:])

	meta := new(indexmeta.Meta)
	if err := meta.Add(indexmeta.MetadataKey_Kind, []byte("ngramtrie")); err != nil {
		return nil, err
	}
	if err := meta.AddUint64(indexmeta.MetadataKey_Order, uint64(t.order)); err != nil {
		return nil, err
	}
	if err := meta.Add(indexmeta.MetadataKey_HashAlgo, []byte("murmur3-64")); err != nil {
		return nil, err
	}
	buf.Write(meta.Bytes())
	return buf.Bytes(), nil
}

// Load deserializes a trie previously written by Save.
func Load(r io.Reader) (*Trie, error) {
	var magic [8]byte
	if _, err := io.ReadFull(r, magic[:]); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTruncatedSnapshot, err)
	}
	if magic != Magic {
		return nil, ErrBadMagic
	}

	// Buffer the remainder to verify the checksum before trusting any of
	// it; snapshots are built to fit comfortably in memory (same
	// assumption the builder itself makes).
	rest, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTruncatedSnapshot, err)
	}
	if len(rest) < 8 {
		return nil, ErrTruncatedSnapshot
	}
	body, wantSum := rest[:len(rest)-8], rest[len(rest)-8:]
	if xxhash.Sum64(body) != binary.LittleEndian.Uint64(wantSum) {
		return nil, ErrChecksumMismatch
	}

	br := bytes.NewReader(body)

	var headerLenBuf [4]byte
	if _, err := io.ReadFull(br, headerLenBuf[:]); err != nil {
		return nil, fmt.Errorf("%w: header length: %v", ErrTruncatedSnapshot, err)
	}
	headerLen := binary.LittleEndian.Uint32(headerLenBuf[:])
	headerBytes := make([]byte, headerLen)
	if _, err := io.ReadFull(br, headerBytes); err != nil {
		return nil, fmt.Errorf("%w: header: %v", ErrTruncatedSnapshot, err)
	}
	order, meta, err := decodeHeader(headerBytes)
	if err != nil {
		return nil, err
	}
	if declared, ok := meta.GetUint64(indexmeta.MetadataKey_Order); !ok || uint16(declared) != order {
		return nil, fmt.Errorf("%w: header/metadata order mismatch", ErrInvalidARPA)
	}

	nNgrams := make([]uint64, order)
	for i := range nNgrams {
		var b [8]byte
		if _, err := io.ReadFull(br, b[:]); err != nil {
			return nil, fmt.Errorf("%w: ngram count %d: %v", ErrTruncatedSnapshot, i, err)
		}
		nNgrams[i] = binary.LittleEndian.Uint64(b[:])
	}

	vocab, err := readVocabulary(br, nNgrams[0])
	if err != nil {
		return nil, err
	}

	arrays := make([]*PackedArray, order)
	for i := range arrays {
		arr, err := ReadPackedArray(br)
		if err != nil {
			return nil, fmt.Errorf("%w (order %d): %v", ErrTruncatedSnapshot, i+1, err)
		}
		arrays[i] = arr
	}

	backoffPresent := make([]bool, order)
	for i, arr := range arrays {
		expectedLen := nNgrams[i]
		if i < int(order)-1 {
			expectedLen++
		}
		if arr.Len() != expectedLen {
			return nil, fmt.Errorf("%w: order %d array has %d rows, want %d", ErrCountMismatch, i+1, arr.Len(), expectedLen)
		}
		backoffPresent[i] = inferBackoffPresent(arr, i+1, int(order), nNgrams)
	}

	t := &Trie{
		order:   order,
		nNgrams: nNgrams,
		vocab:   vocab,
		arrays:  arrays,
		layouts: computeLayouts(nNgrams, backoffPresent),
	}
	return t, nil
}

// inferBackoffPresent recovers whether order n carried a backoff column
// by comparing the array's actual bit width against the width implied
// by (prob, [word_id], [first_child_index]) alone: a snapshot always
// round-trips through Save/Load as a whole, so the declared widths are
// self-consistent and this is exact, not a heuristic over record values.
func inferBackoffPresent(arr *PackedArray, n, order int, nNgrams []uint64) bool {
	if n == order {
		return false
	}
	l := orderLayout{hasWordID: n > 1, hasChild: n < order}
	if l.hasWordID {
		l.wordIDW = int(ceilLog2(nNgrams[0]))
	}
	if l.hasChild {
		l.childW = int(ceilLog2(nNgrams[n] + 1))
	}
	withoutBackoff := l.totalWidth()
	return arr.Width() == withoutBackoff+32
}

func decodeHeader(b []byte) (order uint16, meta *indexmeta.Meta, err error) {
	if len(b) < 3 {
		return 0, nil, fmt.Errorf("%w: header too short", ErrTruncatedSnapshot)
	}
	order = binary.LittleEndian.Uint16(b[0:2])
	version := b[2]
	if version != Version {
		return 0, nil, ErrUnsupportedVersion
	}
	meta = new(indexmeta.Meta)
	if err := meta.UnmarshalBinary(b[3:]); err != nil {
		return 0, nil, fmt.Errorf("%w: metadata: %v", ErrInvalidARPA, err)
	}
	return order, meta, nil
}

// Warm hints the OS to prefetch the snapshot file into the page cache,
// for the common case of loading from a regular file. It's a best-effort
// optimization; failures are ignored.
func Warm(f *os.File) {
	fi, err := f.Stat()
	if err != nil {
		return
	}
	_ = unix.Fadvise(int(f.Fd()), 0, fi.Size(), unix.FADV_WILLNEED)
}
