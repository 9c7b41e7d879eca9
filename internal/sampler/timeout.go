package sampler

import (
	"context"
	"fmt"
	"time"
)

type timeoutSampler struct {
	inner   Sampler
	timeout time.Duration
}

// WithTimeout bounds every call on s. CPUPercent gets window+timeout,
// Memory gets timeout. The inner call runs on its own goroutine, so a
// sampler that ignores its context still cannot stall the caller.
// A non-positive timeout returns s unchanged.
func WithTimeout(s Sampler, timeout time.Duration) Sampler {
	if timeout <= 0 {
		return s
	}
	return &timeoutSampler{inner: s, timeout: timeout}
}

type cpuResult struct {
	pct float64
	err error
}

type memResult struct {
	reading MemoryReading
	err     error
}

func (t *timeoutSampler) CPUPercent(ctx context.Context, window time.Duration) (float64, error) {
	budget := window + t.timeout
	ctx, cancel := context.WithTimeout(ctx, budget)
	defer cancel()

	ch := make(chan cpuResult, 1)
	go func() {
		pct, err := t.inner.CPUPercent(ctx, window)
		ch <- cpuResult{pct: pct, err: err}
	}()

	select {
	case r := <-ch:
		return r.pct, r.err
	case <-ctx.Done():
		if ctx.Err() == context.DeadlineExceeded {
			return 0, fmt.Errorf("cpu sample after %s: %w", budget, ErrTimeout)
		}
		return 0, ctx.Err()
	}
}

func (t *timeoutSampler) Memory(ctx context.Context) (MemoryReading, error) {
	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()

	ch := make(chan memResult, 1)
	go func() {
		r, err := t.inner.Memory(ctx)
		ch <- memResult{reading: r, err: err}
	}()

	select {
	case r := <-ch:
		return r.reading, r.err
	case <-ctx.Done():
		if ctx.Err() == context.DeadlineExceeded {
			return MemoryReading{}, fmt.Errorf("memory sample after %s: %w", t.timeout, ErrTimeout)
		}
		return MemoryReading{}, ctx.Err()
	}
}
