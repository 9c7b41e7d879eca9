// Package ratio provides the shared duty-cycle value read by every CPU worker.
package ratio

import (
	"math"
	"sync/atomic"
)

// Store holds a single float64 in [min, max]. The value is kept as its IEEE
// bit pattern in an atomic word, so Get and Set never observe a torn value
// and never block each other.
//
// There is exactly one writer (the CPU controller) and any number of readers.
// Readers may see a value up to one Set behind.
type Store struct {
	bits     atomic.Uint64
	min, max float64
}

// NewStore returns a Store clamped to [min, max] and seeded with initial.
func NewStore(initial, min, max float64) *Store {
	if min > max {
		min, max = max, min
	}
	s := &Store{min: min, max: max}
	s.bits.Store(math.Float64bits(s.clamp(initial)))
	return s
}

// Get returns the current ratio.
func (s *Store) Get() float64 {
	return math.Float64frombits(s.bits.Load())
}

// Set clamps v into bounds, stores it and returns the stored value.
// NaN is ignored and the current value is returned.
func (s *Store) Set(v float64) float64 {
	if math.IsNaN(v) {
		return s.Get()
	}
	v = s.clamp(v)
	s.bits.Store(math.Float64bits(v))
	return v
}

// Bounds returns the clamp range.
func (s *Store) Bounds() (min, max float64) {
	return s.min, s.max
}

func (s *Store) clamp(v float64) float64 {
	if math.IsNaN(v) {
		return s.min
	}
	return math.Max(s.min, math.Min(s.max, v))
}
