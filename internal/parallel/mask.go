package parallel

import (
	"math/bits"
	"sync/atomic"
)

// Mask is a fixed-size set of bucket indices backed by an atomic bitmap.
// The renderer uses it to record which buckets have finished.
//
// All methods are safe for concurrent use without external synchronization.
type Mask struct {
	// words packs one bit per bucket, 64 buckets per word.
	words []atomic.Uint64
	n     int
}

// NewMask creates an empty mask over n buckets.
// Returns nil if n is not positive.
func NewMask(n int) *Mask {
	if n <= 0 {
		return nil
	}
	return &Mask{
		words: make([]atomic.Uint64, (n+63)/64),
		n:     n,
	}
}

// Set adds idx to the mask and reports whether it was newly added.
// Out-of-range indices are ignored.
func (m *Mask) Set(idx int) bool {
	if idx < 0 || idx >= m.n {
		return false
	}
	bit := uint64(1) << (idx & 63)
	old := m.words[idx/64].Or(bit)
	return old&bit == 0
}

// Has reports whether idx is in the mask.
func (m *Mask) Has(idx int) bool {
	if idx < 0 || idx >= m.n {
		return false
	}
	return m.words[idx/64].Load()&(1<<(idx&63)) != 0
}

// Count returns the number of indices in the mask.
func (m *Mask) Count() int {
	count := 0
	for i := range m.words {
		count += bits.OnesCount64(m.words[i].Load())
	}
	return count
}

// Len returns the number of buckets the mask covers.
func (m *Mask) Len() int { return m.n }

// Full reports whether every bucket is in the mask.
func (m *Mask) Full() bool { return m.Count() == m.n }

// Reset empties the mask.
func (m *Mask) Reset() {
	for i := range m.words {
		m.words[i].Store(0)
	}
}

// ForEachMissing calls fn, in ascending order, for every index not in the mask.
func (m *Mask) ForEachMissing(fn func(idx int)) {
	for w := range m.words {
		missing := ^m.words[w].Load()
		for missing != 0 {
			b := bits.TrailingZeros64(missing)
			idx := w*64 + b
			if idx >= m.n {
				break
			}
			fn(idx)
			missing &^= 1 << b
		}
	}
}
