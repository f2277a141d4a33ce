package ngramtrie

import (
	"encoding/binary"
	"fmt"
	"io"
	"sort"

	"github.com/valyala/bytebufferpool"
)

// packedArrayPadding is extra byte slack appended to every backing buffer
// so that a read-modify-write of the last record never walks off the end
// of the slice.
const packedArrayPadding = 8

// maxRecordWidth is the widest record this package ever packs (prob +
// word_id + first_child_index, each well under 32 bits in practice, plus
// an optional backoff field). Records are carried as uint64 end to end;
// anything wider would need a byte-slice based Get/Set instead.
const maxRecordWidth = 64

// PackedArray is a dense sequence of fixed-width bit records backed by a
// single byte buffer. Record i occupies bits [i*width, (i+1)*width) of the
// buffer, little-endian within each byte.
type PackedArray struct {
	width int
	n     uint64
	buf   []byte
}

// NewPackedArray allocates a zero-filled array of n records, each width
// bits wide. width must be in (0, 64].
func NewPackedArray(width int, n uint64) *PackedArray {
	if width <= 0 || width > maxRecordWidth {
		panic(fmt.Sprintf("ngramtrie: invalid packed array record width %d", width))
	}
	nbytes := (uint64(width)*n + 7) / 8
	return &PackedArray{
		width: width,
		n:     n,
		buf:   make([]byte, nbytes+packedArrayPadding),
	}
}

// Len returns the number of records.
func (p *PackedArray) Len() uint64 { return p.n }

// Width returns the bit width of a single record.
func (p *PackedArray) Width() int { return p.width }

func (p *PackedArray) bitOffset(i uint64) int {
	return int(i * uint64(p.width))
}

// Get reads record i, zero-extended into a uint64.
func (p *PackedArray) Get(i uint64) uint64 {
	return readBits(p.buf, p.bitOffset(i), p.width)
}

// Set writes the low p.Width() bits of v into record i.
func (p *PackedArray) Set(i uint64, v uint64) {
	writeBits(p.buf, p.bitOffset(i), p.width, v)
}

// SetFields packs fields[0] into the low widths[0] bits of the record,
// fields[1] into the next widths[1] bits, and so on. sum(widths) must
// equal p.Width().
func (p *PackedArray) SetFields(i uint64, fields []uint64, widths []int) {
	var total int
	for _, w := range widths {
		total += w
	}
	if total != p.width {
		panic(fmt.Sprintf("ngramtrie: field widths sum to %d, want %d", total, p.width))
	}
	var raw uint64
	var shift uint
	for k, w := range widths {
		mask := uint64(1)<<uint(w) - 1
		if w == 64 {
			mask = ^uint64(0)
		}
		raw |= (fields[k] & mask) << shift
		shift += uint(w)
	}
	p.Set(i, raw)
}

// GetFields is the inverse of SetFields.
func (p *PackedArray) GetFields(i uint64, widths []int) []uint64 {
	raw := p.Get(i)
	out := make([]uint64, len(widths))
	var shift uint
	for k, w := range widths {
		mask := uint64(1)<<uint(w) - 1
		if w == 64 {
			mask = ^uint64(0)
		}
		out[k] = (raw >> shift) & mask
		shift += uint(w)
	}
	return out
}

// sortView adapts a PackedArray plus a raw-record comparator to
// sort.Interface.
type sortView struct {
	p    *PackedArray
	less func(a, b uint64) bool
}

func (s sortView) Len() int           { return int(s.p.n) }
func (s sortView) Less(i, j int) bool { return s.less(s.p.Get(uint64(i)), s.p.Get(uint64(j))) }
func (s sortView) Swap(i, j int) {
	a, b := s.p.Get(uint64(i)), s.p.Get(uint64(j))
	s.p.Set(uint64(i), b)
	s.p.Set(uint64(j), a)
}

// Sort reorders records in place so that less(record[i+1], record[i]) is
// false for every adjacent pair, given a comparator over raw record
// bits. The sort is not guaranteed stable.
func (p *PackedArray) Sort(less func(a, b uint64) bool) {
	sort.Sort(sortView{p: p, less: less})
}

// BSearch performs a half-open binary search over [lo, hi) for a record
// satisfying cmp(record) == 0, where cmp must be consistent with the
// array's ascending order (negative if record < key, positive if
// record > key, zero on match). Returns the matching index and true, or
// (0, false) if absent. The array must not contain duplicate keys within
// the searched range.
func (p *PackedArray) BSearch(lo, hi uint64, cmp func(record uint64) int) (uint64, bool) {
	for lo < hi {
		mid := lo + (hi-lo)/2
		c := cmp(p.Get(mid))
		switch {
		case c == 0:
			return mid, true
		case c < 0:
			lo = mid + 1
		default:
			hi = mid
		}
	}
	return 0, false
}

// Slice copies out [l, r) as a new, independently-backed PackedArray.
func (p *PackedArray) Slice(l, r uint64) *PackedArray {
	out := NewPackedArray(p.width, r-l)
	for i := l; i < r; i++ {
		out.Set(i-l, p.Get(i))
	}
	return out
}

// byteLen returns the number of meaningful payload bytes (excluding
// padding) for the current width/length.
func (p *PackedArray) byteLen() uint64 {
	return (uint64(p.width)*p.n + 7) / 8
}

// WriteTo serializes the array as { width: u8, len: u64, bytes... }. The
// header and body are assembled in a single pooled buffer first, so a
// slow or unbuffered w only sees one Write call.
func (p *PackedArray) WriteTo(w io.Writer) (int64, error) {
	out := bytebufferpool.Get()
	defer bytebufferpool.Put(out)
	out.Reset()

	var hdr [9]byte
	hdr[0] = byte(p.width)
	binary.LittleEndian.PutUint64(hdr[1:], p.n)
	out.Write(hdr[:])
	out.Write(p.buf[:p.byteLen()])

	n, err := w.Write(out.Bytes())
	if err != nil {
		return int64(n), fmt.Errorf("ngramtrie: write packed array: %w", err)
	}
	return int64(n), nil
}

// ReadPackedArray is the inverse of WriteTo.
func ReadPackedArray(r io.Reader) (*PackedArray, error) {
	var hdr [9]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return nil, fmt.Errorf("%w: packed array header: %v", ErrTruncatedSnapshot, err)
	}
	width := int(hdr[0])
	n := binary.LittleEndian.Uint64(hdr[1:])
	p := NewPackedArray(width, n)
	if _, err := io.ReadFull(r, p.buf[:p.byteLen()]); err != nil {
		return nil, fmt.Errorf("%w: packed array body: %v", ErrTruncatedSnapshot, err)
	}
	return p, nil
}
