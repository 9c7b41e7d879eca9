package cpuload

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestPoolStartStop(t *testing.T) {
	p := NewPool(fixedRatio(0.5), PoolConfig{Workers: 4, Cycle: 50 * time.Millisecond})
	if p.Size() != 4 {
		t.Fatalf("Size() = %d, want 4", p.Size())
	}

	if err := p.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	waitFor(t, time.Second, func() bool { return p.Running() == 4 })

	time.Sleep(120 * time.Millisecond)

	stopped := make(chan struct{})
	go func() {
		p.Stop()
		close(stopped)
	}()

	select {
	case <-stopped:
	case <-time.After(time.Second):
		t.Fatal("Stop did not return within one second")
	}

	if p.Running() != 0 {
		t.Errorf("Running() = %d after Stop, want 0", p.Running())
	}
	if p.Cycles() == 0 {
		t.Error("expected workers to complete at least one cycle")
	}
}

func TestPoolStartTwice(t *testing.T) {
	p := NewPool(fixedRatio(0.1), PoolConfig{Workers: 1, Cycle: 10 * time.Millisecond})
	if err := p.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer p.Stop()

	if err := p.Start(context.Background()); !errors.Is(err, ErrPoolStarted) {
		t.Fatalf("second Start error = %v, want ErrPoolStarted", err)
	}
}

func TestPoolStopsOnParentCancel(t *testing.T) {
	p := NewPool(fixedRatio(1.0), PoolConfig{Workers: 2, Cycle: time.Second})

	ctx, cancel := context.WithCancel(context.Background())
	if err := p.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	waitFor(t, time.Second, func() bool { return p.Running() == 2 })

	cancel()
	waitFor(t, time.Second, func() bool { return p.Running() == 0 })

	p.Stop()
	p.Stop()
}

func TestPoolMinimumOneWorker(t *testing.T) {
	p := NewPool(fixedRatio(0.1), PoolConfig{Workers: 0})
	if p.Size() != 1 {
		t.Fatalf("Size() = %d, want 1", p.Size())
	}
}

func TestPoolReportsFaults(t *testing.T) {
	src := &flakyRatio{value: 0.1}
	src.panics.Store(2)

	faulted := make(chan int, 8)
	p := NewPool(src, PoolConfig{
		Workers:      2,
		Cycle:        10 * time.Millisecond,
		FaultBackoff: 10 * time.Millisecond,
		OnFault:      func(id int, err error) { faulted <- id },
	})
	if err := p.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer p.Stop()

	waitFor(t, time.Second, func() bool { return len(faulted) == 2 })
	if got := p.Faults(); got != 2 {
		t.Errorf("Faults() = %d, want 2", got)
	}
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("condition not met within %v", timeout)
}
