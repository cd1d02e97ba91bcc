// Package bloom provides a probabilistic data structure for efficient membership testing.
package bloom

import (
	"math"

	"github.com/spaolacci/murmur3"
)

// Filter provides probabilistic membership testing with configurable false positive rate.
// It guarantees no false negatives - if an item was added, Contains() will always return true.
//
// A Filter is populated by a single goroutine and then frozen. After Freeze,
// Contains may be called concurrently without locking; Add panics.
type Filter struct {
	bits      []uint64
	numBits   uint64
	numHashes uint64
	count     uint64
	frozen    bool
}

// New creates a new Filter with the specified number of bits and hash functions.
func New(numBits, numHashes int) *Filter {
	if numBits <= 0 {
		numBits = 1024
	}
	if numHashes <= 0 {
		numHashes = 7
	}

	// Round up to nearest 64 bits
	numWords := (numBits + 63) / 64
	actualBits := uint64(numWords * 64)

	return &Filter{
		bits:      make([]uint64, numWords),
		numBits:   actualBits,
		numHashes: uint64(numHashes),
	}
}

// NewWithEstimates creates a Filter sized for the expected number of items
// and target false positive rate.
func NewWithEstimates(expectedItems int, targetFPR float64) *Filter {
	numBits, numHashes := OptimalParameters(expectedItems, targetFPR)
	return New(numBits, numHashes)
}

// OptimalParameters calculates the optimal number of bits and hash functions
// for a given expected number of items and target false positive rate.
//
// The formulas are:
//   - m = -n * ln(p) / (ln(2)^2)  where m = bits, n = items, p = FPR
//   - k = (m/n) * ln(2)           where k = hash functions
func OptimalParameters(expectedItems int, targetFPR float64) (numBits, numHashes int) {
	if expectedItems <= 0 {
		expectedItems = 1000
	}
	if targetFPR <= 0 || targetFPR >= 1 {
		targetFPR = 0.01
	}

	n := float64(expectedItems)
	ln2Sq := math.Ln2 * math.Ln2

	m := -n * math.Log(targetFPR) / ln2Sq
	numBits = int(math.Ceil(m))
	numHashes = int(math.Ceil((m / n) * math.Ln2))

	if numBits < 64 {
		numBits = 64
	}
	if numHashes < 1 {
		numHashes = 1
	}
	return numBits, numHashes
}

// Add inserts item. It panics if the filter has been frozen.
func (f *Filter) Add(item []byte) {
	if f.frozen {
		panic("bloom: Add on frozen filter")
	}
	h1, h2 := murmur3.Sum128(item)
	for i := uint64(0); i < f.numHashes; i++ {
		// Double hashing: h(i) = h1 + i*h2
		pos := (h1 + i*h2) % f.numBits
		f.bits[pos/64] |= 1 << (pos % 64)
	}
	f.count++
}

// AddString inserts s.
func (f *Filter) AddString(s string) {
	f.Add([]byte(s))
}

// Freeze marks the filter read-only.
func (f *Filter) Freeze() {
	f.frozen = true
}

// Frozen reports whether Freeze has been called.
func (f *Filter) Frozen() bool {
	return f.frozen
}

// Contains tests if an item might be in the filter.
// Returns false only if the item is definitely not present.
func (f *Filter) Contains(item []byte) bool {
	h1, h2 := murmur3.Sum128(item)
	for i := uint64(0); i < f.numHashes; i++ {
		pos := (h1 + i*h2) % f.numBits
		if f.bits[pos/64]&(1<<(pos%64)) == 0 {
			return false
		}
	}
	return true
}

// ContainsString tests if s might be in the filter.
func (f *Filter) ContainsString(s string) bool {
	return f.Contains([]byte(s))
}

// NumBits returns the number of bits in the filter.
func (f *Filter) NumBits() int {
	return int(f.numBits)
}

// NumHashes returns the number of hash functions used.
func (f *Filter) NumHashes() int {
	return int(f.numHashes)
}

// Count returns the number of items added to the filter.
func (f *Filter) Count() uint64 {
	return f.count
}

// FalsePositiveRate returns the estimated false positive rate based on
// the current fill ratio.
//
// Formula: (1 - e^(-k*n/m))^k
func (f *Filter) FalsePositiveRate() float64 {
	if f.count == 0 {
		return 0
	}
	k := float64(f.numHashes)
	n := float64(f.count)
	m := float64(f.numBits)
	return math.Pow(1-math.Exp(-k*n/m), k)
}
