// Package sampler reads system-wide CPU and memory utilization.
package sampler

import (
	"context"
	"errors"
	"fmt"
	"math"
	"runtime"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"
)

const bytesPerMB = 1024 * 1024

// ErrTimeout is returned when a sample does not complete within its budget.
var ErrTimeout = errors.New("sampler: timed out")

// MemoryReading is a single virtual-memory snapshot.
type MemoryReading struct {
	// UsedPercent is the system-wide memory utilization (0-100).
	UsedPercent float64

	// TotalMB is the total physical memory in MiB.
	TotalMB float64
}

// Sampler is the measurement collaborator the control loop depends on.
type Sampler interface {
	// CPUPercent blocks for window and returns the average utilization
	// across all CPUs over that window (0-100). A zero window compares
	// against the previous call.
	CPUPercent(ctx context.Context, window time.Duration) (float64, error)

	// Memory returns the current memory utilization.
	Memory(ctx context.Context) (MemoryReading, error)
}

// Host samples the local machine through gopsutil.
type Host struct{}

// NewHost returns a gopsutil-backed sampler.
func NewHost() *Host {
	return &Host{}
}

// CPUPercent implements Sampler.
func (h *Host) CPUPercent(ctx context.Context, window time.Duration) (float64, error) {
	pct, err := cpu.PercentWithContext(ctx, window, false)
	if err != nil {
		return 0, fmt.Errorf("read cpu percent: %w", err)
	}
	if len(pct) == 0 {
		return 0, errors.New("read cpu percent: no data")
	}
	return clampPercent(pct[0]), nil
}

// Memory implements Sampler.
func (h *Host) Memory(ctx context.Context) (MemoryReading, error) {
	vm, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		return MemoryReading{}, fmt.Errorf("read virtual memory: %w", err)
	}
	if vm == nil || vm.Total == 0 {
		return MemoryReading{}, errors.New("read virtual memory: total is zero")
	}
	return MemoryReading{
		UsedPercent: clampPercent(vm.UsedPercent),
		TotalMB:     float64(vm.Total) / bytesPerMB,
	}, nil
}

// LogicalCPUs returns the logical CPU count, falling back to the Go
// runtime's view when gopsutil cannot tell.
func LogicalCPUs(ctx context.Context) int {
	n, err := cpu.CountsWithContext(ctx, true)
	if err != nil || n <= 0 {
		return runtime.NumCPU()
	}
	return n
}

func clampPercent(v float64) float64 {
	if math.IsNaN(v) {
		return 0
	}
	return math.Max(0, math.Min(100, v))
}
