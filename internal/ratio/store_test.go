package ratio

import (
	"math"
	"sync"
	"sync/atomic"
	"testing"
)

func TestNewStoreClampsInitial(t *testing.T) {
	tests := []struct {
		initial, want float64
	}{
		{0.81, 0.81},
		{0.0, 0.05},
		{2.0, 1.0},
		{math.NaN(), 0.05},
	}
	for _, tt := range tests {
		s := NewStore(tt.initial, 0.05, 1.0)
		if got := s.Get(); got != tt.want {
			t.Errorf("NewStore(%v).Get() = %v, want %v", tt.initial, got, tt.want)
		}
	}
}

func TestSetClamps(t *testing.T) {
	s := NewStore(0.5, 0.05, 1.0)

	if got := s.Set(1.7); got != 1.0 {
		t.Errorf("Set(1.7) = %v, want 1.0", got)
	}
	if got := s.Get(); got != 1.0 {
		t.Errorf("Get() = %v, want 1.0", got)
	}
	if got := s.Set(-3); got != 0.05 {
		t.Errorf("Set(-3) = %v, want 0.05", got)
	}
	if got := s.Set(0.42); got != 0.42 {
		t.Errorf("Set(0.42) = %v, want 0.42", got)
	}
}

func TestSetIgnoresNaN(t *testing.T) {
	s := NewStore(0.3, 0.05, 1.0)
	if got := s.Set(math.NaN()); got != 0.3 {
		t.Errorf("Set(NaN) = %v, want unchanged 0.3", got)
	}
	if got := s.Get(); got != 0.3 {
		t.Errorf("Get() after NaN = %v, want 0.3", got)
	}
}

func TestBoundsSwapped(t *testing.T) {
	s := NewStore(0.5, 1.0, 0.05)
	min, max := s.Bounds()
	if min != 0.05 || max != 1.0 {
		t.Errorf("Bounds() = (%v, %v), want (0.05, 1.0)", min, max)
	}
}

// Readers must only ever see values that were actually written.
func TestConcurrentReadersSeeWrittenValues(t *testing.T) {
	written := []float64{0.05, 0.123456789, 0.5, 0.987654321, 1.0}
	valid := make(map[uint64]bool, len(written))
	for _, v := range written {
		valid[math.Float64bits(v)] = true
	}

	s := NewStore(written[0], 0.05, 1.0)

	var stop atomic.Bool
	var bad atomic.Int64
	var wg sync.WaitGroup

	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for !stop.Load() {
				if !valid[math.Float64bits(s.Get())] {
					bad.Add(1)
				}
			}
		}()
	}

	for i := 0; i < 100000; i++ {
		s.Set(written[i%len(written)])
	}
	stop.Store(true)
	wg.Wait()

	if n := bad.Load(); n != 0 {
		t.Fatalf("observed %d torn or unexpected values", n)
	}
}
