package ngramtrie

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestPackedArray_GetSetLaw checks invariant 6: get(set(a,i,v),i) == v,
// and setting record i never perturbs any other record.
func TestPackedArray_GetSetLaw(t *testing.T) {
	const width = 13
	const n = 20
	p := NewPackedArray(width, n)
	max := uint64(1)<<width - 1

	values := make([]uint64, n)
	for i := uint64(0); i < n; i++ {
		values[i] = (i * 97) % (max + 1)
		p.Set(i, values[i])
	}
	for i := uint64(0); i < n; i++ {
		assert.Equal(t, values[i], p.Get(i), "record %d", i)
	}

	p.Set(5, max)
	assert.Equal(t, max, p.Get(5))
	for i := uint64(0); i < n; i++ {
		if i == 5 {
			continue
		}
		assert.Equal(t, values[i], p.Get(i), "record %d perturbed by writing record 5", i)
	}
}

func TestPackedArray_SetFieldsGetFields(t *testing.T) {
	widths := []int{32, 10, 6}
	p := NewPackedArray(48, 4)
	want := []uint64{0xDEADBEEF, 777, 42}
	p.SetFields(2, want, widths)
	assert.Equal(t, want, p.GetFields(2, widths))
	assert.EqualValues(t, 0, p.Get(0))
	assert.EqualValues(t, 0, p.Get(1))
	assert.EqualValues(t, 0, p.Get(3))
}

func TestPackedArray_SortAndBSearch(t *testing.T) {
	p := NewPackedArray(16, 6)
	in := []uint64{40, 10, 30, 20, 60, 50}
	for i, v := range in {
		p.Set(uint64(i), v)
	}
	p.Sort(func(a, b uint64) bool { return a < b })

	var sorted []uint64
	for i := uint64(0); i < p.Len(); i++ {
		sorted = append(sorted, p.Get(i))
	}
	assert.Equal(t, []uint64{10, 20, 30, 40, 50, 60}, sorted)

	idx, ok := p.BSearch(0, p.Len(), func(r uint64) int {
		switch {
		case r < 30:
			return -1
		case r > 30:
			return 1
		default:
			return 0
		}
	})
	require.True(t, ok)
	assert.EqualValues(t, 2, idx)

	_, ok = p.BSearch(0, p.Len(), func(r uint64) int {
		if r < 99 {
			return -1
		}
		return 1
	})
	assert.False(t, ok)
}

func TestPackedArray_WriteToReadPackedArray(t *testing.T) {
	p := NewPackedArray(20, 9)
	for i := uint64(0); i < p.Len(); i++ {
		p.Set(i, i*i)
	}
	var buf bytes.Buffer
	n, err := p.WriteTo(&buf)
	require.NoError(t, err)
	assert.Equal(t, int64(buf.Len()), n)

	got, err := ReadPackedArray(&buf)
	require.NoError(t, err)
	assert.Equal(t, p.Width(), got.Width())
	assert.Equal(t, p.Len(), got.Len())
	for i := uint64(0); i < p.Len(); i++ {
		assert.Equal(t, p.Get(i), got.Get(i))
	}
}

func TestPackedArray_Slice(t *testing.T) {
	p := NewPackedArray(8, 10)
	for i := uint64(0); i < p.Len(); i++ {
		p.Set(i, i+1)
	}
	s := p.Slice(3, 7)
	require.EqualValues(t, 4, s.Len())
	for i := uint64(0); i < s.Len(); i++ {
		assert.Equal(t, p.Get(3+i), s.Get(i))
	}
}
