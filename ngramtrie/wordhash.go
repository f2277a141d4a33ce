package ngramtrie

import "github.com/spaolacci/murmur3"

// wordHash computes the 64-bit token identity hash used to order and
// look up vocabulary entries. It uses the low 64 bits of a 128-bit
// MurmurHash3 digest.
func wordHash(text []byte) uint64 {
	h1, _ := murmur3.Sum128(text)
	return h1
}
