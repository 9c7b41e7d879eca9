// Package loop runs the periodic control cycle that ties sampling, the CPU
// controller and the memory balloon together, and owns the worker pool.
package loop

import (
	"context"
	"errors"
	"io"
	"sync/atomic"
	"time"

	"github.com/bc-dunia/sysload/internal/balloon"
	"github.com/bc-dunia/sysload/internal/config"
	"github.com/bc-dunia/sysload/internal/controller"
	"github.com/bc-dunia/sysload/internal/cpuload"
	"github.com/bc-dunia/sysload/internal/events"
	"github.com/bc-dunia/sysload/internal/otel"
	"github.com/bc-dunia/sysload/internal/ratio"
	"github.com/bc-dunia/sysload/internal/sampler"
	"go.opentelemetry.io/otel/trace"
)

// Config configures an Orchestrator.
type Config struct {
	Targets config.TargetConfig
	Tuning  config.Tuning

	// Workers is the CPU worker count, normally the logical CPU count.
	Workers int

	// SampleWindow is the CPU measurement window. Default: 1s.
	SampleWindow time.Duration

	// WorkerCycle is the duty-cycle period of each worker. Default: 1s.
	WorkerCycle time.Duration

	// WorkerFaultBackoff is the pause after a failed worker cycle. Default: 1s.
	WorkerFaultBackoff time.Duration
}

// Deps are the optional collaborators of an Orchestrator. Nil fields get
// no-op implementations, except Allocator which defaults to the page
// allocator.
type Deps struct {
	Allocator balloon.Allocator
	Logger    *events.EventLogger
	Metrics   *otel.Metrics
	Tracer    *otel.Tracer

	// Status receives the console status lines.
	Status io.Writer
}

// Result is what one cycle measured and changed.
type Result struct {
	Cycle      int64
	CPUPercent float64
	Memory     sampler.MemoryReading
	Step       controller.Step
	Resize     balloon.Resize
}

// Orchestrator is the single control loop. Run owns the worker pool and the
// balloon for its whole lifetime.
type Orchestrator struct {
	cfg     Config
	sampler sampler.Sampler

	ratio   *ratio.Store
	cpu     *controller.CPU
	balloon *balloon.Controller
	pool    *cpuload.Pool

	logger  *events.EventLogger
	metrics *otel.Metrics
	tracer  *otel.Tracer
	status  *StatusReporter

	cycles atomic.Int64
}

// New wires an Orchestrator. Nothing runs until Run is called.
func New(cfg Config, s sampler.Sampler, deps Deps) *Orchestrator {
	if cfg.SampleWindow <= 0 {
		cfg.SampleWindow = config.DefaultSampleWindow
	}
	if cfg.WorkerCycle <= 0 {
		cfg.WorkerCycle = config.DefaultWorkerCycle
	}
	if cfg.WorkerFaultBackoff <= 0 {
		cfg.WorkerFaultBackoff = config.DefaultWorkerFaultBackoff
	}

	o := &Orchestrator{
		cfg:     cfg,
		sampler: s,
		logger:  deps.Logger,
		metrics: deps.Metrics,
		tracer:  deps.Tracer,
		status:  NewStatusReporter(deps.Status),
	}
	if o.logger == nil {
		o.logger = events.NoopEventLogger()
	}
	if o.metrics == nil {
		o.metrics = otel.NoopMetrics()
	}
	if o.tracer == nil {
		o.tracer = otel.NoopTracer()
	}

	o.ratio = ratio.NewStore(cfg.Targets.InitialRatio(), cfg.Tuning.MinRatio, cfg.Tuning.MaxRatio)
	o.cpu = controller.NewCPU(controller.NewProportional(cfg.Tuning), o.ratio, cfg.Targets.TargetCPUPercent())
	o.balloon = balloon.NewController(deps.Allocator, cfg.Tuning.HysteresisMB)
	o.pool = cpuload.NewPool(o.ratio, cpuload.PoolConfig{
		Workers:      cfg.Workers,
		Cycle:        cfg.WorkerCycle,
		FaultBackoff: cfg.WorkerFaultBackoff,
		OnFault:      o.onWorkerFault,
	})
	return o
}

// Ratio returns the current worker duty cycle.
func (o *Orchestrator) Ratio() float64 { return o.ratio.Get() }

// BalloonMB returns the current balloon size.
func (o *Orchestrator) BalloonMB() int { return o.balloon.SizeMB() }

// Cycles returns the number of cycles started so far.
func (o *Orchestrator) Cycles() int64 { return o.cycles.Load() }

// Workers returns the worker pool size.
func (o *Orchestrator) Workers() int { return o.pool.Size() }

// RunningWorkers returns the number of worker goroutines still executing.
func (o *Orchestrator) RunningWorkers() int { return o.pool.Running() }

// Run starts the workers and cycles until ctx is cancelled. Recoverable
// errors never end the loop. On return every worker has stopped and the
// balloon has been released.
func (o *Orchestrator) Run(ctx context.Context) error {
	targets := o.cfg.Targets
	o.status.Banner(targets)
	o.logger.LogStarted(targets.TargetCPUPercent(), targets.TargetRAMPercent(), targets.Interval())

	if err := o.pool.Start(ctx); err != nil {
		return err
	}
	o.status.WorkersStarted(o.pool.Size())
	o.logger.LogWorkersStarted(o.pool.Size(), o.ratio.Get())
	o.metrics.SetWorkers(o.pool.Size())

	for {
		res, err := o.Step(ctx)
		if ctx.Err() != nil {
			break
		}

		wait := o.nextWait()
		if err != nil && !IsKind(err, KindAllocationFailure) {
			wait = targets.Interval()
			o.logger.LogCycleFailed(res.Cycle, KindOf(err).String(), err, wait)
		}

		if !sleepContext(ctx, wait) {
			break
		}
	}

	return o.shutdown(ctx)
}

// nextWait is the sleep after a successful cycle: the interval minus the
// time already spent in the CPU window, never negative.
func (o *Orchestrator) nextWait() time.Duration {
	wait := o.cfg.Targets.Interval() - o.cfg.SampleWindow
	if wait < 0 {
		return 0
	}
	return wait
}

// Step runs a single cycle: sample, update the CPU ratio, adjust the
// balloon and report. An allocation failure is returned as a
// KindAllocationFailure error after the status has been reported; any other
// error aborts the cycle before the controllers run.
func (o *Orchestrator) Step(ctx context.Context) (Result, error) {
	n := o.cycles.Add(1)
	res := Result{Cycle: n}

	ctx, span := o.tracer.StartCycleSpan(ctx, n)
	defer span.End()

	sampleStart := time.Now()
	cpuPct, err := o.sampler.CPUPercent(ctx, o.cfg.SampleWindow)
	if err != nil {
		return res, o.cycleError(ctx, span, NewTransientError("sample cpu", err))
	}
	mem, err := o.sampler.Memory(ctx)
	if err != nil {
		return res, o.cycleError(ctx, span, NewTransientError("sample memory", err))
	}
	o.metrics.RecordSampleDuration(ctx, time.Since(sampleStart))
	res.CPUPercent = cpuPct
	res.Memory = mem

	res.Step = o.cpu.Update(cpuPct)

	targets := o.cfg.Targets
	var allocErr error
	res.Resize, err = o.balloon.Adjust(mem.UsedPercent, targets.TargetRAMPercent(), mem.TotalMB)
	switch {
	case errors.Is(err, balloon.ErrAllocation):
		requested := res.Resize.FromMB
		var ae *balloon.AllocationError
		if errors.As(err, &ae) {
			requested = ae.RequestedMB
		}
		o.status.AllocationFailed()
		o.logger.LogAllocationFailed(requested, o.balloon.SizeMB(), err)
		o.metrics.RecordAllocationFailure(ctx)
		allocErr = o.cycleError(ctx, span, NewAllocationError(err))
	case err != nil:
		return res, o.cycleError(ctx, span, NewTransientError("resize balloon", err))
	}

	if res.Resize.Reallocated {
		o.status.Adjusting(res.Resize.FromMB, res.Resize.ToMB)
		o.logger.LogBalloonResized(res.Resize.FromMB, res.Resize.ToMB)
		o.metrics.RecordReallocation(ctx)
	}

	balloonMB := o.balloon.SizeMB()
	o.status.Report(Status{
		CPUPercent:       cpuPct,
		TargetCPUPercent: targets.TargetCPUPercent(),
		RAMPercent:       mem.UsedPercent,
		TargetRAMPercent: targets.TargetRAMPercent(),
		WorkerRatio:      res.Step.Ratio,
	})
	o.logger.LogStatus(n, cpuPct, targets.TargetCPUPercent(), mem.UsedPercent, targets.TargetRAMPercent(), res.Step.Ratio, balloonMB)
	o.metrics.ObserveCycle(ctx, otel.CycleSample{
		CPUPercent:       cpuPct,
		TargetCPUPercent: targets.TargetCPUPercent(),
		RAMPercent:       mem.UsedPercent,
		TargetRAMPercent: targets.TargetRAMPercent(),
		WorkerRatio:      res.Step.Ratio,
		BalloonMB:        balloonMB,
	})
	otel.SetCycleAttributes(span, otel.CycleAttributes{
		CPUPercent:  cpuPct,
		RAMPercent:  mem.UsedPercent,
		TotalRAMMB:  mem.TotalMB,
		WorkerRatio: res.Step.Ratio,
		BalloonMB:   balloonMB,
		Reallocated: res.Resize.Reallocated,
	})

	return res, allocErr
}

// cycleError records err on the span and in metrics unless the cycle failed
// only because ctx was cancelled.
func (o *Orchestrator) cycleError(ctx context.Context, span trace.Span, err *Error) error {
	if ctx.Err() != nil {
		return err
	}
	otel.RecordError(span, err, err.Kind.String(), err.Recoverable())
	o.metrics.RecordCycleError(ctx, err.Kind.String())
	if err.Kind == KindTransientCycle {
		otel.RecordBackoff(span, o.cfg.Targets.Interval(), err.Kind.String())
	}
	return err
}

func (o *Orchestrator) onWorkerFault(workerID int, err error) {
	o.logger.LogWorkerFault(workerID, NewWorkerFaultError(workerID, err), o.cfg.WorkerFaultBackoff)
	o.metrics.RecordWorkerFault(context.Background())
}

func (o *Orchestrator) shutdown(ctx context.Context) error {
	o.status.ShuttingDown()
	o.pool.Stop()
	relErr := o.balloon.Release()

	reason := "cancelled"
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		reason = "duration elapsed"
	}
	o.logger.LogShutdown(reason, o.cycles.Load())

	if relErr != nil {
		return NewTransientError("release balloon", relErr)
	}
	return nil
}

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
