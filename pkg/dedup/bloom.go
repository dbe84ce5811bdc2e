package dedup

import (
	"encoding/binary"
	"math"

	"github.com/bits-and-blooms/bitset"
)

// bloomFilter is a Bloom filter over the bit array from bits-and-blooms,
// sized for an expected capacity and target false-positive rate, with hash
// positions derived from the semantic hash's own two 64-bit halves via
// double hashing (no extra hash library needed).
type bloomFilter struct {
	bits *bitset.BitSet
	m    uint
	k    uint
}

// newBloomFilter sizes m (bit count) and k (hash count) for n expected
// items at target false-positive rate p, using the standard formulas
// m = -n·ln(p)/ln(2)^2 and k = (m/n)·ln(2).
func newBloomFilter(n int, p float64) *bloomFilter {
	if n <= 0 {
		n = 1
	}
	m := uint(math.Ceil(-float64(n) * math.Log(p) / (math.Ln2 * math.Ln2)))
	if m == 0 {
		m = 1
	}
	k := uint(math.Round((float64(m) / float64(n)) * math.Ln2))
	if k == 0 {
		k = 1
	}
	return &bloomFilter{bits: bitset.New(m), m: m, k: k}
}

func (b *bloomFilter) positions(hash [16]byte) []uint {
	h1 := binary.LittleEndian.Uint64(hash[0:8])
	h2 := binary.LittleEndian.Uint64(hash[8:16])
	positions := make([]uint, b.k)
	for i := uint(0); i < b.k; i++ {
		combined := h1 + uint64(i)*h2
		positions[i] = uint(combined % uint64(b.m))
	}
	return positions
}

// Add records hash as present.
func (b *bloomFilter) Add(hash [16]byte) {
	for _, pos := range b.positions(hash) {
		b.bits.Set(pos)
	}
}

// MaybeContains reports whether hash might be present. false is a definite
// negative; true requires the authoritative set to confirm.
func (b *bloomFilter) MaybeContains(hash [16]byte) bool {
	for _, pos := range b.positions(hash) {
		if !b.bits.Test(pos) {
			return false
		}
	}
	return true
}
