package sampler

import (
	"context"
	"errors"
	"math"
	"runtime"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v4"
)

type stubSampler struct {
	cpu      float64
	mem      MemoryReading
	cpuErr   error
	memErr   error
	block    chan struct{}
	failures atomic.Int64
	calls    atomic.Int64
}

func (s *stubSampler) CPUPercent(ctx context.Context, window time.Duration) (float64, error) {
	s.calls.Add(1)
	if s.block != nil {
		<-s.block
	}
	if s.failures.Add(-1) >= 0 {
		return 0, errors.New("transient")
	}
	return s.cpu, s.cpuErr
}

func (s *stubSampler) Memory(ctx context.Context) (MemoryReading, error) {
	if s.block != nil {
		<-s.block
	}
	return s.mem, s.memErr
}

func TestHostSampler(t *testing.T) {
	h := NewHost()
	ctx := context.Background()

	pct, err := h.CPUPercent(ctx, 50*time.Millisecond)
	if err != nil {
		t.Fatalf("CPUPercent failed: %v", err)
	}
	if pct < 0 || pct > 100 {
		t.Errorf("CPUPercent = %v, want within [0, 100]", pct)
	}

	m, err := h.Memory(ctx)
	if err != nil {
		t.Fatalf("Memory failed: %v", err)
	}
	if m.TotalMB <= 0 {
		t.Errorf("TotalMB = %v, want > 0", m.TotalMB)
	}
	if m.UsedPercent < 0 || m.UsedPercent > 100 {
		t.Errorf("UsedPercent = %v, want within [0, 100]", m.UsedPercent)
	}
}

func TestLogicalCPUs(t *testing.T) {
	n := LogicalCPUs(context.Background())
	if n <= 0 {
		t.Fatalf("LogicalCPUs = %d, want > 0", n)
	}
	if n != runtime.NumCPU() {
		t.Logf("gopsutil reports %d logical CPUs, runtime reports %d", n, runtime.NumCPU())
	}
}

func TestClampPercent(t *testing.T) {
	tests := map[float64]float64{
		-5:    0,
		0:     0,
		42.5:  42.5,
		100:   100,
		100.3: 100,
	}
	for in, want := range tests {
		if got := clampPercent(in); got != want {
			t.Errorf("clampPercent(%v) = %v, want %v", in, got, want)
		}
	}
	if got := clampPercent(math.NaN()); got != 0 {
		t.Errorf("clampPercent(NaN) = %v, want 0", got)
	}
}

func TestWithTimeoutPassesThrough(t *testing.T) {
	inner := &stubSampler{cpu: 55, mem: MemoryReading{UsedPercent: 40, TotalMB: 2048}}
	s := WithTimeout(inner, time.Second)

	pct, err := s.CPUPercent(context.Background(), 0)
	if err != nil || pct != 55 {
		t.Fatalf("CPUPercent = (%v, %v), want (55, nil)", pct, err)
	}
	m, err := s.Memory(context.Background())
	if err != nil || m.TotalMB != 2048 {
		t.Fatalf("Memory = (%+v, %v), want TotalMB 2048", m, err)
	}
}

func TestWithTimeoutDisabled(t *testing.T) {
	inner := &stubSampler{}
	if s := WithTimeout(inner, 0); s != Sampler(inner) {
		t.Fatal("WithTimeout(0) should return the inner sampler")
	}
}

func TestWithTimeoutStalledSampler(t *testing.T) {
	inner := &stubSampler{block: make(chan struct{})}
	defer close(inner.block)

	s := WithTimeout(inner, 50*time.Millisecond)

	start := time.Now()
	_, err := s.CPUPercent(context.Background(), 20*time.Millisecond)
	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("CPUPercent error = %v, want ErrTimeout", err)
	}
	if elapsed := time.Since(start); elapsed > 500*time.Millisecond {
		t.Errorf("timeout took %v, expected about 70ms", elapsed)
	}

	_, err = s.Memory(context.Background())
	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("Memory error = %v, want ErrTimeout", err)
	}
}

func TestWithTimeoutParentCancelled(t *testing.T) {
	inner := &stubSampler{block: make(chan struct{})}
	defer close(inner.block)

	s := WithTimeout(inner, time.Minute)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := s.CPUPercent(ctx, time.Second)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("error = %v, want context.Canceled", err)
	}
}

func TestProbeSucceedsAfterRetries(t *testing.T) {
	inner := &stubSampler{mem: MemoryReading{UsedPercent: 30, TotalMB: 1024}}
	inner.failures.Store(2)

	b := backoff.WithMaxRetries(&backoff.ZeroBackOff{}, 3)
	if err := Probe(context.Background(), inner, b); err != nil {
		t.Fatalf("Probe failed: %v", err)
	}
	if got := inner.calls.Load(); got != 3 {
		t.Errorf("CPUPercent called %d times, want 3", got)
	}
}

func TestProbeGivesUp(t *testing.T) {
	inner := &stubSampler{mem: MemoryReading{TotalMB: 1024}}
	inner.failures.Store(100)

	b := backoff.WithMaxRetries(&backoff.ZeroBackOff{}, 2)
	if err := Probe(context.Background(), inner, b); err == nil {
		t.Fatal("expected Probe to fail")
	}
	if got := inner.calls.Load(); got != 3 {
		t.Errorf("CPUPercent called %d times, want 3 (1 + 2 retries)", got)
	}
}

func TestProbeZeroMemoryIsPermanent(t *testing.T) {
	inner := &stubSampler{mem: MemoryReading{TotalMB: 0}}

	b := backoff.WithMaxRetries(&backoff.ZeroBackOff{}, 5)
	if err := Probe(context.Background(), inner, b); err == nil {
		t.Fatal("expected Probe to fail on zero memory total")
	}
	if got := inner.calls.Load(); got != 1 {
		t.Errorf("CPUPercent called %d times, want 1 (no retry on permanent error)", got)
	}
}
