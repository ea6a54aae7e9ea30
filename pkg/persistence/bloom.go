package persistence

import (
	"math"

	"github.com/cespare/xxhash/v2"
)

const bloomFPRate = 0.01

// bloomFilter answers "definitely absent" for keys of a table. Probe
// positions come from one xxhash64 split into two halves (double hashing).
type bloomFilter struct {
	bits   []uint64
	size   uint64
	hashes uint64
}

func newBloomFilter(expectedItems int, falsePositiveRate float64) *bloomFilter {
	size := optimalSize(expectedItems, falsePositiveRate)
	return &bloomFilter{
		bits:   make([]uint64, (size+63)/64),
		size:   size,
		hashes: optimalHashCount(expectedItems, size),
	}
}

func (bf *bloomFilter) Add(key []byte) {
	h := xxhash.Sum64(key)
	h1, h2 := h, h>>32|h<<32
	for i := uint64(0); i < bf.hashes; i++ {
		idx := (h1 + i*h2) % bf.size
		bf.bits[idx/64] |= 1 << (idx % 64)
	}
}

func (bf *bloomFilter) MayContain(key []byte) bool {
	h := xxhash.Sum64(key)
	h1, h2 := h, h>>32|h<<32
	for i := uint64(0); i < bf.hashes; i++ {
		idx := (h1 + i*h2) % bf.size
		if bf.bits[idx/64]&(1<<(idx%64)) == 0 {
			return false
		}
	}
	return true
}

// optimalSize is m = -n*ln(p) / ln(2)^2 bits.
func optimalSize(n int, p float64) uint64 {
	if n < 1 {
		n = 1
	}
	m := -float64(n) * math.Log(p) / (math.Ln2 * math.Ln2)
	if m < 64 {
		m = 64
	}
	return uint64(math.Ceil(m))
}

// optimalHashCount is k = m/n * ln(2), clamped to [1, 10].
func optimalHashCount(n int, m uint64) uint64 {
	if n < 1 {
		n = 1
	}
	k := uint64(math.Round(float64(m) / float64(n) * math.Ln2))
	return min(max(k, 1), 10)
}
