package cpuload

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"
)

// ErrPoolStarted is returned when Start is called on a running pool.
var ErrPoolStarted = errors.New("cpuload: pool already started")

// PoolConfig configures a worker pool.
type PoolConfig struct {
	// Workers is the number of workers, normally the logical CPU count.
	Workers int

	// Cycle is the duty-cycle period. Default: 1s.
	Cycle time.Duration

	// FaultBackoff is how long a worker pauses after a failed cycle. Default: 1s.
	FaultBackoff time.Duration

	// OnFault is called for every failed cycle. Optional.
	OnFault FaultHandler
}

// Pool owns the lifecycle of a set of workers sharing one RatioSource.
type Pool struct {
	workers []*Worker

	mu      sync.Mutex
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	running atomic.Int32
}

// NewPool builds (but does not start) cfg.Workers workers. At least one
// worker is always created.
func NewPool(ratio RatioSource, cfg PoolConfig) *Pool {
	n := cfg.Workers
	if n <= 0 {
		n = 1
	}
	p := &Pool{workers: make([]*Worker, n)}
	for i := range p.workers {
		p.workers[i] = NewWorker(i, ratio, cfg.Cycle, cfg.FaultBackoff, cfg.OnFault)
	}
	return p
}

// Start launches one goroutine per worker. The workers stop when ctx is
// cancelled or Stop is called.
func (p *Pool) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.cancel != nil {
		return ErrPoolStarted
	}

	runCtx, cancel := context.WithCancel(ctx)
	p.cancel = cancel

	for _, w := range p.workers {
		p.wg.Add(1)
		p.running.Add(1)
		go func(w *Worker) {
			defer p.wg.Done()
			defer p.running.Add(-1)
			w.Run(runCtx)
		}(w)
	}
	return nil
}

// Stop cancels every worker and waits for all of them to return.
// It is safe to call more than once.
func (p *Pool) Stop() {
	p.mu.Lock()
	cancel := p.cancel
	p.cancel = nil
	p.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	p.wg.Wait()
}

// Size returns the number of workers in the pool.
func (p *Pool) Size() int { return len(p.workers) }

// Running returns the number of worker goroutines still executing.
func (p *Pool) Running() int { return int(p.running.Load()) }

// Faults returns the total failed cycles across all workers.
func (p *Pool) Faults() int64 {
	var n int64
	for _, w := range p.workers {
		n += w.Faults()
	}
	return n
}

// Cycles returns the total completed cycles across all workers.
func (p *Pool) Cycles() int64 {
	var n int64
	for _, w := range p.workers {
		n += w.Cycles()
	}
	return n
}
