package loop

import (
	"fmt"
	"io"
	"sync"

	"github.com/bc-dunia/sysload/internal/config"
)

// Status is one cycle's report.
type Status struct {
	CPUPercent       float64
	TargetCPUPercent float64
	RAMPercent       float64
	TargetRAMPercent float64
	WorkerRatio      float64
}

// StatusReporter writes the human-readable console lines. The format is
// informational and not meant to be parsed.
type StatusReporter struct {
	mu sync.Mutex
	w  io.Writer
}

// NewStatusReporter writes to w. A nil w discards everything.
func NewStatusReporter(w io.Writer) *StatusReporter {
	if w == nil {
		w = io.Discard
	}
	return &StatusReporter{w: w}
}

// Banner prints the startup targets.
func (r *StatusReporter) Banner(targets config.TargetConfig) {
	r.printf("Dynamic Resource Manager Initialized.\n")
	r.printf("Targets -> CPU: %g%%, RAM: %g%%\n", targets.TargetCPUPercent(), targets.TargetRAMPercent())
}

// WorkersStarted prints the worker count.
func (r *StatusReporter) WorkersStarted(n int) {
	r.printf("Started %d CPU workers.\n", n)
}

// Adjusting prints a balloon reallocation.
func (r *StatusReporter) Adjusting(fromMB, toMB int) {
	r.printf("Adjusting RAM: %d MB -> %d MB\n", fromMB, toMB)
}

// AllocationFailed prints that the balloon kept its size.
func (r *StatusReporter) AllocationFailed() {
	r.printf("Failed to allocate new RAM amount, maintaining current state.\n")
}

// Report prints the per-cycle status line.
func (r *StatusReporter) Report(s Status) {
	r.printf("Status | Total CPU: %.1f%% (Target: %g%%) | Total RAM: %.1f%% (Target: %g%%) | Worker Load: %.1f%%\n",
		s.CPUPercent, s.TargetCPUPercent, s.RAMPercent, s.TargetRAMPercent, s.WorkerRatio*100)
}

// ShuttingDown prints the shutdown notice.
func (r *StatusReporter) ShuttingDown() {
	r.printf("Shutting down...\n")
}

func (r *StatusReporter) printf(format string, args ...any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	fmt.Fprintf(r.w, format, args...)
}
