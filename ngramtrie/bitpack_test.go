package ngramtrie

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCeilLog2(t *testing.T) {
	cases := map[uint64]uint8{
		0: 0, 1: 0, 2: 1, 3: 2, 4: 2, 5: 3, 8: 3, 9: 4, 255: 8, 256: 8, 257: 9,
	}
	for x, want := range cases {
		assert.Equal(t, want, ceilLog2(x), "ceilLog2(%d)", x)
	}
}

func TestReadWriteBits_RoundTrip(t *testing.T) {
	buf := make([]byte, 16)
	writeBits(buf, 5, 11, 0x3AB)
	assert.EqualValues(t, 0x3AB, readBits(buf, 5, 11))
}

func TestWriteBits_DoesNotDisturbNeighbors(t *testing.T) {
	buf := make([]byte, 16)
	for i := range buf {
		buf[i] = 0xFF
	}
	writeBits(buf, 8, 8, 0x00)
	assert.EqualValues(t, 0xFF, readBits(buf, 0, 8))
	assert.EqualValues(t, 0x00, readBits(buf, 8, 8))
	assert.EqualValues(t, 0xFF, readBits(buf, 16, 8))
}

func TestReadWriteBits_UnalignedMultiField(t *testing.T) {
	buf := make([]byte, 16)
	writeBits(buf, 0, 3, 5)
	writeBits(buf, 3, 7, 100)
	writeBits(buf, 10, 5, 17)
	assert.EqualValues(t, 5, readBits(buf, 0, 3))
	assert.EqualValues(t, 100, readBits(buf, 3, 7))
	assert.EqualValues(t, 17, readBits(buf, 10, 5))
}
