package events

import (
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"
)

// Format selects the slog handler.
type Format string

const (
	FormatText Format = "text"
	FormatJSON Format = "json"
)

// EventLogger provides structured logging for control-loop events.
type EventLogger struct {
	logger *slog.Logger
}

// NewEventLogger creates an EventLogger writing to w in the given format.
func NewEventLogger(w io.Writer, format Format, level slog.Level) *EventLogger {
	opts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	switch format {
	case FormatJSON:
		handler = slog.NewJSONHandler(w, opts)
	default:
		handler = slog.NewTextHandler(w, opts)
	}
	return &EventLogger{logger: slog.New(handler).With("component", "sysload")}
}

// ParseFormat validates a -log-format value.
func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.ToLower(strings.TrimSpace(s))); f {
	case FormatText, FormatJSON:
		return f, nil
	default:
		return "", fmt.Errorf("unknown log format %q (want text or json)", s)
	}
}

// ParseLevel accepts debug, info, warn or error.
func ParseLevel(s string) (slog.Level, error) {
	var l slog.Level
	if err := l.UnmarshalText([]byte(strings.TrimSpace(s))); err != nil {
		return slog.LevelInfo, fmt.Errorf("unknown log level %q", s)
	}
	return l, nil
}

// Logger returns the underlying slog.Logger.
func (el *EventLogger) Logger() *slog.Logger {
	return el.logger
}

// LogStarted logs the configured targets.
// event: "started"
func (el *EventLogger) LogStarted(targetCPU, targetRAM float64, interval time.Duration) {
	el.logger.Info("started",
		"target_cpu_percent", targetCPU,
		"target_ram_percent", targetRAM,
		"interval", interval.String(),
	)
}

// LogWorkersStarted logs the size of the CPU worker pool.
// event: "workers_started"
func (el *EventLogger) LogWorkersStarted(workers int, initialRatio float64) {
	el.logger.Info("workers_started",
		"workers", workers,
		"initial_ratio", initialRatio,
	)
}

// LogStatus logs one completed control cycle.
// event: "status"
func (el *EventLogger) LogStatus(cycle int64, cpuPct, targetCPU, ramPct, targetRAM, ratio float64, balloonMB int) {
	el.logger.Debug("status",
		"cycle", cycle,
		"cpu_percent", cpuPct,
		"target_cpu_percent", targetCPU,
		"ram_percent", ramPct,
		"target_ram_percent", targetRAM,
		"worker_ratio", ratio,
		"balloon_mb", balloonMB,
	)
}

// LogBalloonResized logs a balloon reallocation.
// event: "balloon_resized"
func (el *EventLogger) LogBalloonResized(fromMB, toMB int) {
	el.logger.Info("balloon_resized",
		"from_mb", fromMB,
		"to_mb", toMB,
	)
}

// LogAllocationFailed logs a balloon growth that could not be satisfied.
// event: "allocation_failed"
func (el *EventLogger) LogAllocationFailed(requestedMB, keptMB int, err error) {
	el.logger.Warn("allocation_failed",
		"requested_mb", requestedMB,
		"kept_mb", keptMB,
		"error", err.Error(),
	)
}

// LogCycleFailed logs an aborted control cycle.
// event: "cycle_failed"
func (el *EventLogger) LogCycleFailed(cycle int64, kind string, err error, retryIn time.Duration) {
	el.logger.Error("cycle_failed",
		"cycle", cycle,
		"kind", kind,
		"error", err.Error(),
		"retry_in", retryIn.String(),
	)
}

// LogWorkerFault logs a failed worker cycle.
// event: "worker_fault"
func (el *EventLogger) LogWorkerFault(workerID int, err error, backoff time.Duration) {
	el.logger.Warn("worker_fault",
		"worker_id", workerID,
		"error", err.Error(),
		"backoff", backoff.String(),
	)
}

// LogShutdown logs the end of the control loop.
// event: "shutdown"
func (el *EventLogger) LogShutdown(reason string, cycles int64) {
	el.logger.Info("shutdown",
		"reason", reason,
		"cycles", cycles,
	)
}

var noopLogger = &EventLogger{
	logger: slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError + 1})),
}

// NoopEventLogger returns an event logger that discards all events.
// Useful for testing or when event logging is disabled.
func NoopEventLogger() *EventLogger {
	return noopLogger
}
