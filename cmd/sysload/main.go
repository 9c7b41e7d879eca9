package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/bc-dunia/sysload/internal/config"
	"github.com/bc-dunia/sysload/internal/events"
	"github.com/bc-dunia/sysload/internal/loop"
	"github.com/bc-dunia/sysload/internal/otel"
	"github.com/bc-dunia/sysload/internal/sampler"
)

var version = "dev"

const (
	exitOK      = 0
	exitFailure = 1
	exitUsage   = 2
)

type options struct {
	targets       config.TargetConfig
	tuning        config.Tuning
	workers       int
	sampleWindow  time.Duration
	sampleTimeout time.Duration
	duration      time.Duration

	logFormat events.Format
	logLevel  slog.Level

	metrics *otel.MetricsConfig
	tracing *otel.Config

	// envWarnings are malformed SYSLOAD_* values that were ignored.
	envWarnings []error
}

func main() {
	os.Exit(run(os.Args[1:], os.Getenv, os.Stdout, os.Stderr))
}

func parseOptions(args []string, getenv func(string) string, stderr io.Writer) (*options, error) {
	env, envErrs := config.LoadEnvDefaults(getenv)
	opts := &options{
		tuning:      config.DefaultTuning(),
		envWarnings: envErrs,
	}

	fs := flag.NewFlagSet("sysload", flag.ContinueOnError)
	fs.SetOutput(stderr)

	targetCPU := fs.Float64("cpu", env.TargetCPUPercent, "Target system-wide CPU utilization in percent (env "+config.EnvTargetCPU+")")
	targetRAM := fs.Float64("ram", env.TargetRAMPercent, "Target system memory utilization in percent (env "+config.EnvTargetRAM+")")
	interval := env.Interval
	fs.Func("interval", fmt.Sprintf("Control cycle interval, a duration or seconds (default %s, env %s)", env.Interval, config.EnvInterval), func(s string) error {
		d, err := config.ParseInterval(s)
		if err != nil {
			return err
		}
		interval = d
		return nil
	})
	fs.Float64Var(&opts.tuning.Gain, "gain", config.DefaultGain, "Proportional gain of the CPU controller")
	fs.Float64Var(&opts.tuning.HysteresisMB, "hysteresis-mb", config.DefaultHysteresisMB, "Minimum balloon size change in MB before reallocating")
	fs.Float64Var(&opts.tuning.MinRatio, "min-ratio", config.DefaultMinRatio, "Lower bound of the worker duty cycle")
	fs.Float64Var(&opts.tuning.MaxRatio, "max-ratio", config.DefaultMaxRatio, "Upper bound of the worker duty cycle")
	fs.IntVar(&opts.workers, "workers", 0, "Number of CPU workers (0 = one per logical CPU)")
	fs.DurationVar(&opts.sampleWindow, "sample-window", config.DefaultSampleWindow, "CPU measurement window")
	fs.DurationVar(&opts.sampleTimeout, "sample-timeout", config.DefaultSampleTimeout, "Extra time allowed per sample before it is abandoned (0 = no timeout)")
	fs.DurationVar(&opts.duration, "duration", 0, "Stop after this long (0 = run until interrupted)")
	logFormat := fs.String("log-format", string(events.FormatText), "Log format: text or json")
	logLevel := fs.String("log-level", "info", "Log level: debug, info, warn or error")
	metricsExporter := fs.String("metrics-exporter", string(otel.ExporterNone), "Metrics exporter: none, stdout, otlp-grpc or otlp-http")
	traceExporter := fs.String("trace-exporter", string(otel.ExporterNone), "Trace exporter: none, stdout, otlp-grpc or otlp-http")
	otlpEndpoint := fs.String("otlp-endpoint", "", "OTLP collector endpoint (e.g. localhost:4317)")
	otlpInsecure := fs.Bool("otlp-insecure", false, "Disable TLS for OTLP exporters")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	if fs.NArg() > 0 {
		return nil, fmt.Errorf("unexpected arguments: %v", fs.Args())
	}

	targets, err := config.New(*targetCPU, *targetRAM, interval)
	if err != nil {
		return nil, err
	}
	opts.targets = targets

	if err := opts.tuning.Validate(); err != nil {
		return nil, err
	}
	if opts.workers < 0 {
		return nil, fmt.Errorf("workers must be non-negative, got %d", opts.workers)
	}
	if opts.sampleWindow <= 0 {
		return nil, fmt.Errorf("sample window must be positive, got %s", opts.sampleWindow)
	}
	if opts.sampleTimeout < 0 || opts.duration < 0 {
		return nil, errors.New("sample timeout and duration must be non-negative")
	}

	if opts.logFormat, err = events.ParseFormat(*logFormat); err != nil {
		return nil, err
	}
	if opts.logLevel, err = events.ParseLevel(*logLevel); err != nil {
		return nil, err
	}

	me, err := otel.ParseExporterType(*metricsExporter)
	if err != nil {
		return nil, fmt.Errorf("metrics exporter: %w", err)
	}
	te, err := otel.ParseExporterType(*traceExporter)
	if err != nil {
		return nil, fmt.Errorf("trace exporter: %w", err)
	}

	opts.metrics = otel.DefaultMetricsConfig()
	opts.metrics.Enabled = me != otel.ExporterNone
	opts.metrics.ExporterType = me
	opts.metrics.ServiceVersion = version
	opts.metrics.OTLPEndpoint = *otlpEndpoint
	opts.metrics.OTLPInsecure = *otlpInsecure
	opts.metrics.ExportInterval = targets.Interval()

	opts.tracing = otel.DefaultConfig()
	opts.tracing.Enabled = te != otel.ExporterNone
	opts.tracing.ExporterType = te
	opts.tracing.ServiceVersion = version
	opts.tracing.OTLPEndpoint = *otlpEndpoint
	opts.tracing.OTLPInsecure = *otlpInsecure

	return opts, nil
}

func run(args []string, getenv func(string) string, stdout, stderr io.Writer) int {
	opts, err := parseOptions(args, getenv, stderr)
	if errors.Is(err, flag.ErrHelp) {
		return exitOK
	}
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return exitUsage
	}

	logger := events.NewEventLogger(stderr, opts.logFormat, opts.logLevel)
	for _, w := range opts.envWarnings {
		logger.Logger().Warn("ignoring environment default", "error", w.Error())
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)
	go func() {
		select {
		case sig := <-sigChan:
			logger.Logger().Info("signal received", "signal", sig.String())
			cancel()
		case <-ctx.Done():
		}
	}()

	tracer, err := otel.NewTracer(ctx, opts.tracing)
	if err != nil {
		fmt.Fprintf(stderr, "Failed to initialize tracing: %v\n", err)
		return exitFailure
	}
	metrics, err := otel.NewMetrics(ctx, opts.metrics)
	if err != nil {
		fmt.Fprintf(stderr, "Failed to initialize metrics: %v\n", err)
		return exitFailure
	}
	otel.InstallGlobal(tracer, metrics)
	defer func() {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		if err := metrics.Shutdown(shutdownCtx); err != nil {
			logger.Logger().Warn("metrics shutdown failed", "error", err.Error())
		}
		if err := tracer.Shutdown(shutdownCtx); err != nil {
			logger.Logger().Warn("tracer shutdown failed", "error", err.Error())
		}
	}()

	s := sampler.WithTimeout(sampler.NewHost(), opts.sampleTimeout)
	if err := sampler.Probe(ctx, s, sampler.DefaultProbeBackOff(config.DefaultProbeRetries)); err != nil {
		err = loop.NewSamplerUnavailableError(err)
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return exitFailure
	}

	workers := opts.workers
	if workers == 0 {
		workers = sampler.LogicalCPUs(ctx)
	}

	runCtx := ctx
	if opts.duration > 0 {
		var runCancel context.CancelFunc
		runCtx, runCancel = context.WithTimeout(ctx, opts.duration)
		defer runCancel()
	}

	o := loop.New(loop.Config{
		Targets:            opts.targets,
		Tuning:             opts.tuning,
		Workers:            workers,
		SampleWindow:       opts.sampleWindow,
		WorkerCycle:        config.DefaultWorkerCycle,
		WorkerFaultBackoff: config.DefaultWorkerFaultBackoff,
	}, s, loop.Deps{
		Logger:  logger,
		Metrics: metrics,
		Tracer:  tracer,
		Status:  stdout,
	})

	if err := o.Run(runCtx); err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return exitFailure
	}
	return exitOK
}
