package compactindexsized

import (
	"bytes"
	"fmt"
)

func concatBytes(bs ...[]byte) []byte {
	var out []byte
	for _, b := range bs {
		out = append(out, b...)
	}
	return out
}

// FormatByteSlice renders a byte slice as a hex string for debug dumps.
func FormatByteSlice(b []byte) string {
	return fmt.Sprintf("% x", b)
}

func splitBufferWithProvidedSizes(buf []byte, sizes []int) [][]byte {
	parts := make([][]byte, len(sizes))
	for i, size := range sizes {
		size = min(size, len(buf))
		parts[i], buf = buf[:size], buf[size:]
	}
	return parts
}

func compareBufferArrays(a, b [][]byte) []bool {
	equal := make([]bool, len(a))
	for i := range a {
		equal[i] = i < len(b) && bytes.Equal(a[i], b[i])
	}
	return equal
}
