package otel

import (
	"context"
	"fmt"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/exporters/stdout/stdoutmetric"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

// MetricsConfig holds configuration for the OpenTelemetry metrics.
type MetricsConfig struct {
	// Enabled controls whether metrics collection is active. Default: false (no-op).
	Enabled bool

	// ServiceName is the name of the service for metric attribution.
	ServiceName string

	// ServiceVersion is the version of the service.
	ServiceVersion string

	// ExporterType specifies which exporter to use.
	ExporterType ExporterType

	// OTLPEndpoint is the endpoint for OTLP exporters (e.g., "localhost:4317").
	OTLPEndpoint string

	// OTLPInsecure disables TLS for OTLP connections.
	OTLPInsecure bool

	// ExportInterval is how often the periodic reader pushes. Zero uses the SDK default.
	ExportInterval time.Duration

	// Attributes are additional attributes to add to all metrics.
	Attributes map[string]string
}

// DefaultMetricsConfig returns a default configuration with metrics disabled.
func DefaultMetricsConfig() *MetricsConfig {
	return &MetricsConfig{
		Enabled:      false,
		ServiceName:  "sysload",
		ExporterType: ExporterNone,
	}
}

// CycleSample is the state published after each control cycle.
type CycleSample struct {
	CPUPercent       float64
	TargetCPUPercent float64
	RAMPercent       float64
	TargetRAMPercent float64
	WorkerRatio      float64
	BalloonMB        int
}

type atomicFloat struct{ bits atomic.Uint64 }

func (f *atomicFloat) Load() float64   { return math.Float64frombits(f.bits.Load()) }
func (f *atomicFloat) Store(v float64) { f.bits.Store(math.Float64bits(v)) }

// Metrics wraps OpenTelemetry metrics with sysload instruments.
type Metrics struct {
	config        *MetricsConfig
	meterProvider *sdkmetric.MeterProvider
	meter         metric.Meter
	shutdown      func(context.Context) error
	mu            sync.Mutex

	cpuMeasured atomicFloat
	cpuTarget   atomicFloat
	ramMeasured atomicFloat
	ramTarget   atomicFloat
	ratio       atomicFloat
	balloonMB   atomic.Int64
	workers     atomic.Int64

	percentGauges []metric.Float64ObservableGauge
	ratioGauge    metric.Float64ObservableGauge
	balloonGauge  metric.Int64ObservableGauge
	workersGauge  metric.Int64ObservableGauge
	callbackReg   metric.Registration

	cycles         metric.Int64Counter
	cycleErrors    metric.Int64Counter
	reallocations  metric.Int64Counter
	allocFailures  metric.Int64Counter
	workerFaults   metric.Int64Counter
	sampleDuration metric.Float64Histogram
}

// NewMetrics creates a new Metrics instance with the given configuration.
func NewMetrics(ctx context.Context, cfg *MetricsConfig) (*Metrics, error) {
	if cfg == nil {
		cfg = DefaultMetricsConfig()
	}

	if !cfg.Enabled || cfg.ExporterType == ExporterNone {
		return noopMetrics(cfg), nil
	}

	exporter, err := createMetricsExporter(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create metrics exporter: %w", err)
	}

	var readerOpts []sdkmetric.PeriodicReaderOption
	if cfg.ExportInterval > 0 {
		readerOpts = append(readerOpts, sdkmetric.WithInterval(cfg.ExportInterval))
	}
	return newMetricsWithReader(cfg, sdkmetric.NewPeriodicReader(exporter, readerOpts...))
}

func newMetricsWithReader(cfg *MetricsConfig, reader sdkmetric.Reader) (*Metrics, error) {
	res, err := createResource(cfg.ServiceName, cfg.ServiceVersion, cfg.Attributes)
	if err != nil {
		return nil, fmt.Errorf("failed to create metrics resource: %w", err)
	}

	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(reader),
		sdkmetric.WithResource(res),
	)

	m := &Metrics{
		config:        cfg,
		meterProvider: mp,
		meter:         mp.Meter(cfg.ServiceName),
		shutdown:      mp.Shutdown,
	}

	if err := m.registerInstruments(); err != nil {
		return nil, fmt.Errorf("failed to register metric instruments: %w", err)
	}
	return m, nil
}

func noopMetrics(cfg *MetricsConfig) *Metrics {
	mp := sdkmetric.NewMeterProvider()
	return &Metrics{
		config:        cfg,
		meterProvider: mp,
		meter:         mp.Meter(cfg.ServiceName),
		shutdown:      func(context.Context) error { return nil },
	}
}

// createMetricsExporter creates the appropriate metrics exporter based on configuration.
func createMetricsExporter(ctx context.Context, cfg *MetricsConfig) (sdkmetric.Exporter, error) {
	switch cfg.ExporterType {
	case ExporterStdout:
		return stdoutmetric.New()

	case ExporterOTLPGRPC:
		opts := []otlpmetricgrpc.Option{}
		if cfg.OTLPEndpoint != "" {
			opts = append(opts, otlpmetricgrpc.WithEndpoint(cfg.OTLPEndpoint))
		}
		if cfg.OTLPInsecure {
			opts = append(opts, otlpmetricgrpc.WithInsecure())
		}
		return otlpmetricgrpc.New(ctx, opts...)

	case ExporterOTLPHTTP:
		opts := []otlpmetrichttp.Option{}
		if cfg.OTLPEndpoint != "" {
			opts = append(opts, otlpmetrichttp.WithEndpoint(cfg.OTLPEndpoint))
		}
		if cfg.OTLPInsecure {
			opts = append(opts, otlpmetrichttp.WithInsecure())
		}
		return otlpmetrichttp.New(ctx, opts...)

	default:
		return nil, fmt.Errorf("unknown exporter type: %s", cfg.ExporterType)
	}
}

// registerInstruments creates and registers all metric instruments.
func (m *Metrics) registerInstruments() error {
	var err error

	percentGauges := []struct {
		name, desc string
		value      *atomicFloat
	}{
		{"sysload.cpu.measured", "Measured system-wide CPU utilization", &m.cpuMeasured},
		{"sysload.cpu.target", "Target CPU utilization", &m.cpuTarget},
		{"sysload.ram.measured", "Measured system memory utilization", &m.ramMeasured},
		{"sysload.ram.target", "Target memory utilization", &m.ramTarget},
	}
	values := make([]*atomicFloat, 0, len(percentGauges))
	observables := make([]metric.Observable, 0, len(percentGauges)+3)

	for _, g := range percentGauges {
		gauge, err := m.meter.Float64ObservableGauge(g.name,
			metric.WithDescription(g.desc),
			metric.WithUnit("%"),
		)
		if err != nil {
			return fmt.Errorf("failed to create %s gauge: %w", g.name, err)
		}
		m.percentGauges = append(m.percentGauges, gauge)
		values = append(values, g.value)
		observables = append(observables, gauge)
	}

	m.ratioGauge, err = m.meter.Float64ObservableGauge(
		"sysload.worker.ratio",
		metric.WithDescription("Busy fraction of each CPU worker cycle"),
	)
	if err != nil {
		return fmt.Errorf("failed to create worker ratio gauge: %w", err)
	}

	m.balloonGauge, err = m.meter.Int64ObservableGauge(
		"sysload.balloon.size",
		metric.WithDescription("Size of the memory balloon"),
		metric.WithUnit("MBy"),
	)
	if err != nil {
		return fmt.Errorf("failed to create balloon size gauge: %w", err)
	}

	m.workersGauge, err = m.meter.Int64ObservableGauge(
		"sysload.workers",
		metric.WithDescription("Number of CPU workers"),
	)
	if err != nil {
		return fmt.Errorf("failed to create workers gauge: %w", err)
	}
	observables = append(observables, m.ratioGauge, m.balloonGauge, m.workersGauge)

	m.callbackReg, err = m.meter.RegisterCallback(
		func(ctx context.Context, o metric.Observer) error {
			for i, g := range m.percentGauges {
				o.ObserveFloat64(g, values[i].Load())
			}
			o.ObserveFloat64(m.ratioGauge, m.ratio.Load())
			o.ObserveInt64(m.balloonGauge, m.balloonMB.Load())
			o.ObserveInt64(m.workersGauge, m.workers.Load())
			return nil
		},
		observables...,
	)
	if err != nil {
		return fmt.Errorf("failed to register gauge callback: %w", err)
	}

	m.cycles, err = m.meter.Int64Counter(
		"sysload.cycles",
		metric.WithDescription("Completed control cycles"),
	)
	if err != nil {
		return fmt.Errorf("failed to create cycle counter: %w", err)
	}

	m.cycleErrors, err = m.meter.Int64Counter(
		"sysload.cycle.errors",
		metric.WithDescription("Failed control cycles by kind"),
	)
	if err != nil {
		return fmt.Errorf("failed to create cycle error counter: %w", err)
	}

	m.reallocations, err = m.meter.Int64Counter(
		"sysload.balloon.reallocations",
		metric.WithDescription("Balloon reallocations"),
	)
	if err != nil {
		return fmt.Errorf("failed to create reallocation counter: %w", err)
	}

	m.allocFailures, err = m.meter.Int64Counter(
		"sysload.balloon.allocation_failures",
		metric.WithDescription("Balloon allocations refused by the operating system"),
	)
	if err != nil {
		return fmt.Errorf("failed to create allocation failure counter: %w", err)
	}

	m.workerFaults, err = m.meter.Int64Counter(
		"sysload.worker.faults",
		metric.WithDescription("Failed CPU worker cycles"),
	)
	if err != nil {
		return fmt.Errorf("failed to create worker fault counter: %w", err)
	}

	m.sampleDuration, err = m.meter.Float64Histogram(
		"sysload.sample.duration",
		metric.WithDescription("Time spent sampling CPU and memory"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return fmt.Errorf("failed to create sample duration histogram: %w", err)
	}

	return nil
}

// ObserveCycle publishes the state of a completed cycle and counts it.
func (m *Metrics) ObserveCycle(ctx context.Context, s CycleSample) {
	m.cpuMeasured.Store(s.CPUPercent)
	m.cpuTarget.Store(s.TargetCPUPercent)
	m.ramMeasured.Store(s.RAMPercent)
	m.ramTarget.Store(s.TargetRAMPercent)
	m.ratio.Store(s.WorkerRatio)
	m.balloonMB.Store(int64(s.BalloonMB))

	if m.cycles == nil {
		return
	}
	m.cycles.Add(ctx, 1)
}

// SetWorkers sets the worker count reported by the workers gauge.
func (m *Metrics) SetWorkers(n int) {
	m.workers.Store(int64(n))
}

// RecordSampleDuration records how long one measurement took.
func (m *Metrics) RecordSampleDuration(ctx context.Context, d time.Duration) {
	if m.sampleDuration == nil {
		return
	}

	m.sampleDuration.Record(ctx, float64(d.Microseconds())/1000.0)
}

// RecordCycleError counts a failed cycle with its error kind.
func (m *Metrics) RecordCycleError(ctx context.Context, kind string) {
	if m.cycleErrors == nil {
		return
	}

	m.cycleErrors.Add(ctx, 1, metric.WithAttributes(
		attribute.String("kind", kind),
	))
}

// RecordReallocation counts a balloon reallocation.
func (m *Metrics) RecordReallocation(ctx context.Context) {
	if m.reallocations == nil {
		return
	}

	m.reallocations.Add(ctx, 1)
}

// RecordAllocationFailure counts a refused balloon allocation.
func (m *Metrics) RecordAllocationFailure(ctx context.Context) {
	if m.allocFailures == nil {
		return
	}

	m.allocFailures.Add(ctx, 1)
}

// RecordWorkerFault counts a failed worker cycle.
func (m *Metrics) RecordWorkerFault(ctx context.Context) {
	if m.workerFaults == nil {
		return
	}

	m.workerFaults.Add(ctx, 1)
}

// Shutdown gracefully shuts down the metrics provider, flushing any pending metrics.
func (m *Metrics) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.callbackReg != nil {
		if err := m.callbackReg.Unregister(); err != nil {
			return fmt.Errorf("failed to unregister gauge callback: %w", err)
		}
		m.callbackReg = nil
	}

	if m.shutdown != nil {
		return m.shutdown(ctx)
	}
	return nil
}

// Enabled returns whether metrics collection is enabled.
func (m *Metrics) Enabled() bool {
	return m.config.Enabled && m.config.ExporterType != ExporterNone
}

// MeterProvider returns the underlying meter provider.
func (m *Metrics) MeterProvider() *sdkmetric.MeterProvider {
	return m.meterProvider
}

// InstallGlobal registers enabled providers with the otel global API.
func InstallGlobal(t *Tracer, m *Metrics) {
	if t != nil && t.Enabled() {
		otel.SetTracerProvider(t.TracerProvider())
	}
	if m != nil && m.Enabled() {
		otel.SetMeterProvider(m.meterProvider)
	}
}

// NoopMetrics returns a metrics instance that does nothing (for testing or when disabled).
func NoopMetrics() *Metrics {
	return noopMetrics(DefaultMetricsConfig())
}
