// Package cpuload generates CPU load with duty-cycled busy loops.
//
// Each Worker splits a fixed cycle into a busy-spin phase and an idle phase.
// The split is re-read from a shared RatioSource at the start of every cycle,
// so a controller can steer all workers through a single value.
package cpuload

import (
	"context"
	"fmt"
	"math"
	"sync/atomic"
	"time"
)

// spinBatch is the number of arithmetic steps between deadline and
// cancellation checks in the busy phase.
const spinBatch = 2048

// RatioSource supplies the duty-cycle ratio in [0, 1].
type RatioSource interface {
	Get() float64
}

// FaultHandler is told about a cycle that failed. It is called from the
// worker's goroutine and must be safe for concurrent use.
type FaultHandler func(workerID int, err error)

// Worker consumes CPU for ratio x cycle of every cycle.
type Worker struct {
	id           int
	ratio        RatioSource
	cycle        time.Duration
	faultBackoff time.Duration
	onFault      FaultHandler

	cycles atomic.Int64
	faults atomic.Int64
	sink   float64
}

// NewWorker creates a worker. Zero durations fall back to one second.
func NewWorker(id int, ratio RatioSource, cycle, faultBackoff time.Duration, onFault FaultHandler) *Worker {
	if cycle <= 0 {
		cycle = time.Second
	}
	if faultBackoff <= 0 {
		faultBackoff = time.Second
	}
	return &Worker{
		id:           id,
		ratio:        ratio,
		cycle:        cycle,
		faultBackoff: faultBackoff,
		onFault:      onFault,
	}
}

// ID returns the worker index.
func (w *Worker) ID() int { return w.id }

// Cycles returns the number of completed cycles.
func (w *Worker) Cycles() int64 { return w.cycles.Load() }

// Faults returns the number of failed cycles.
func (w *Worker) Faults() int64 { return w.faults.Load() }

// Run loops until ctx is cancelled. A failed cycle is reported to the fault
// handler and followed by a backoff; it never ends the loop.
func (w *Worker) Run(ctx context.Context) {
	for ctx.Err() == nil {
		if err := w.runCycle(ctx); err != nil {
			if ctx.Err() != nil {
				return
			}
			w.faults.Add(1)
			if w.onFault != nil {
				w.onFault(w.id, err)
			}
			if !sleepContext(ctx, w.faultBackoff) {
				return
			}
			continue
		}
		w.cycles.Add(1)
	}
}

func (w *Worker) runCycle(ctx context.Context) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("worker %d: panic: %v", w.id, r)
		}
	}()

	r := w.ratio.Get()
	if math.IsNaN(r) || r < 0 || r > 1 {
		return fmt.Errorf("worker %d: ratio %v out of range [0, 1]", w.id, r)
	}

	busy, idle := DutySplit(r, w.cycle)
	w.spin(ctx, busy)
	sleepContext(ctx, idle)
	return nil
}

// spin burns CPU for d of wall-clock time without blocking, returning early
// when ctx is cancelled.
func (w *Worker) spin(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	done := ctx.Done()
	deadline := time.Now().Add(d)
	x := w.sink
	for time.Now().Before(deadline) {
		for i := 0; i < spinBatch; i++ {
			x = x*1.0000001 + 1
			if x > 1e12 {
				x = 0
			}
		}
		select {
		case <-done:
			w.sink = x
			return
		default:
		}
	}
	w.sink = x
}

// DutySplit divides a cycle into its busy and idle parts.
func DutySplit(ratio float64, cycle time.Duration) (busy, idle time.Duration) {
	ratio = math.Max(0, math.Min(1, ratio))
	busy = time.Duration(ratio * float64(cycle))
	idle = cycle - busy
	if idle < 0 {
		idle = 0
	}
	return busy, idle
}

// sleepContext sleeps for d or until ctx is done. It reports whether the
// full duration elapsed.
func sleepContext(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
