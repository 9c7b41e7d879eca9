// Package balloon holds a deliberately allocated block of memory and resizes
// it to push system memory utilization toward a target.
package balloon

import (
	"errors"
	"fmt"
	"math"
	"sync/atomic"
)

const bytesPerMB = 1024 * 1024

// ErrAllocation marks a failed balloon allocation. The previous block is
// kept when it occurs.
var ErrAllocation = errors.New("balloon: allocation failed")

// AllocationError reports the size that could not be allocated.
type AllocationError struct {
	RequestedMB int
	Cause       error
}

func (e *AllocationError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("balloon: allocate %d MB: %v", e.RequestedMB, e.Cause)
	}
	return fmt.Sprintf("balloon: allocate %d MB", e.RequestedMB)
}

func (e *AllocationError) Unwrap() error { return e.Cause }

// Is lets errors.Is(err, ErrAllocation) match any AllocationError.
func (e *AllocationError) Is(target error) bool { return target == ErrAllocation }

// Block is one contiguous, resident allocation.
type Block interface {
	// Size returns the block size in bytes.
	Size() int

	// Release returns the memory to the operating system.
	Release() error
}

// Allocator creates blocks.
type Allocator interface {
	Alloc(mb int) (Block, error)
}

// Resize describes the outcome of one Adjust call.
type Resize struct {
	// DesiredMB is the unrounded target balloon size.
	DesiredMB float64

	FromMB int
	ToMB   int

	// Reallocated is true when a new block replaced the old one.
	Reallocated bool
}

// Plan computes the balloon size for a measurement:
//
//	desired = max(0, current + (target-measured)/100 * totalMB)
//
// The returned size is desired floored to whole MB. reallocate is false
// when |desired - current| does not exceed hysteresisMB.
func Plan(currentMB int, measuredPct, targetPct, totalMB, hysteresisMB float64) (desired float64, newMB int, reallocate bool) {
	deltaMB := ((targetPct - measuredPct) / 100.0) * totalMB
	desired = math.Max(0, float64(currentMB)+deltaMB)
	if math.IsNaN(desired) || math.IsInf(desired, 0) {
		return float64(currentMB), currentMB, false
	}
	if math.Abs(desired-float64(currentMB)) <= hysteresisMB {
		return desired, currentMB, false
	}
	newMB = int(math.Floor(desired))
	return desired, newMB, newMB != currentMB
}

// Controller owns the balloon. Adjust and Release must be called from a
// single goroutine; SizeMB may be read from any goroutine.
type Controller struct {
	alloc        Allocator
	hysteresisMB float64

	block  Block
	sizeMB atomic.Int64
}

// NewController returns an empty balloon that grows through alloc.
func NewController(alloc Allocator, hysteresisMB float64) *Controller {
	if alloc == nil {
		alloc = NewPageAllocator()
	}
	return &Controller{alloc: alloc, hysteresisMB: hysteresisMB}
}

// SizeMB returns the current balloon size.
func (c *Controller) SizeMB() int { return int(c.sizeMB.Load()) }

// Adjust resizes the balloon for one memory measurement. On allocation
// failure the existing block and size are kept and an error wrapping
// ErrAllocation is returned.
func (c *Controller) Adjust(measuredPct, targetPct, totalMB float64) (Resize, error) {
	cur := c.SizeMB()
	desired, newMB, realloc := Plan(cur, measuredPct, targetPct, totalMB, c.hysteresisMB)
	r := Resize{DesiredMB: desired, FromMB: cur, ToMB: cur}
	if !realloc {
		return r, nil
	}
	err := c.resize(newMB)
	if errors.Is(err, ErrAllocation) {
		return r, err
	}
	r.ToMB = newMB
	r.Reallocated = true
	return r, err
}

// SetSizeMB replaces the balloon with a block of exactly mb megabytes,
// ignoring hysteresis.
func (c *Controller) SetSizeMB(mb int) error {
	if mb < 0 {
		mb = 0
	}
	if mb == c.SizeMB() {
		return nil
	}
	return c.resize(mb)
}

func (c *Controller) resize(mb int) error {
	if mb == 0 {
		return c.Release()
	}

	// The new block is fully allocated before the old one is dropped, so a
	// failure leaves the balloon untouched.
	next, err := c.alloc.Alloc(mb)
	if err != nil {
		var ae *AllocationError
		if errors.As(err, &ae) {
			return err
		}
		return &AllocationError{RequestedMB: mb, Cause: err}
	}

	prev := c.block
	c.block = next
	c.sizeMB.Store(int64(mb))

	if prev != nil {
		if err := prev.Release(); err != nil {
			return fmt.Errorf("balloon: release previous block: %w", err)
		}
	}
	return nil
}

// Release frees the balloon and sets its size to zero.
func (c *Controller) Release() error {
	prev := c.block
	c.block = nil
	c.sizeMB.Store(0)
	if prev == nil {
		return nil
	}
	return prev.Release()
}
