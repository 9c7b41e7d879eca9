package events

import (
	"bytes"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"testing"
	"time"
)

func decodeLines(t *testing.T, buf *bytes.Buffer) []map[string]any {
	t.Helper()
	var out []map[string]any
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		if line == "" {
			continue
		}
		var m map[string]any
		if err := json.Unmarshal([]byte(line), &m); err != nil {
			t.Fatalf("invalid JSON log line %q: %v", line, err)
		}
		out = append(out, m)
	}
	return out
}

func TestJSONEvents(t *testing.T) {
	var buf bytes.Buffer
	el := NewEventLogger(&buf, FormatJSON, slog.LevelInfo)

	el.LogStarted(81, 81, 15*time.Second)
	el.LogBalloonResized(500, 520)
	el.LogAllocationFailed(9000, 520, errors.New("cannot allocate memory"))
	el.LogCycleFailed(7, "transient_cycle", errors.New("read failed"), 15*time.Second)

	lines := decodeLines(t, &buf)
	if len(lines) != 4 {
		t.Fatalf("got %d lines, want 4", len(lines))
	}

	if lines[0]["msg"] != "started" || lines[0]["component"] != "sysload" {
		t.Errorf("started line = %v", lines[0])
	}
	if lines[1]["from_mb"] != float64(500) || lines[1]["to_mb"] != float64(520) {
		t.Errorf("balloon_resized line = %v", lines[1])
	}
	if lines[2]["level"] != "WARN" || lines[2]["requested_mb"] != float64(9000) {
		t.Errorf("allocation_failed line = %v", lines[2])
	}
	if lines[3]["level"] != "ERROR" || lines[3]["kind"] != "transient_cycle" || lines[3]["retry_in"] != "15s" {
		t.Errorf("cycle_failed line = %v", lines[3])
	}
}

func TestStatusIsDebug(t *testing.T) {
	var buf bytes.Buffer
	el := NewEventLogger(&buf, FormatJSON, slog.LevelInfo)
	el.LogStatus(1, 80, 81, 70, 81, 0.8, 100)
	if buf.Len() != 0 {
		t.Fatalf("status should not be logged at info level, got %q", buf.String())
	}

	buf.Reset()
	el = NewEventLogger(&buf, FormatJSON, slog.LevelDebug)
	el.LogStatus(1, 80, 81, 70, 81, 0.8, 100)
	lines := decodeLines(t, &buf)
	if len(lines) != 1 || lines[0]["worker_ratio"] != 0.8 {
		t.Fatalf("status line = %v", lines)
	}
}

func TestTextFormat(t *testing.T) {
	var buf bytes.Buffer
	el := NewEventLogger(&buf, FormatText, slog.LevelInfo)
	el.LogShutdown("signal", 12)
	out := buf.String()
	if !strings.Contains(out, "msg=shutdown") || !strings.Contains(out, "cycles=12") {
		t.Errorf("text output = %q", out)
	}
}

func TestParseFormat(t *testing.T) {
	for in, want := range map[string]Format{"text": FormatText, "JSON": FormatJSON, " json ": FormatJSON} {
		got, err := ParseFormat(in)
		if err != nil || got != want {
			t.Errorf("ParseFormat(%q) = (%q, %v), want %q", in, got, err, want)
		}
	}
	if _, err := ParseFormat("xml"); err == nil {
		t.Error("expected error for xml")
	}
}

func TestParseLevel(t *testing.T) {
	for in, want := range map[string]slog.Level{"debug": slog.LevelDebug, "INFO": slog.LevelInfo, "warn": slog.LevelWarn, "error": slog.LevelError} {
		got, err := ParseLevel(in)
		if err != nil || got != want {
			t.Errorf("ParseLevel(%q) = (%v, %v), want %v", in, got, err, want)
		}
	}
	if _, err := ParseLevel("loud"); err == nil {
		t.Error("expected error for unknown level")
	}
}

func TestNoopEventLoggerIsSingleton(t *testing.T) {
	a := NoopEventLogger()
	b := NoopEventLogger()
	if a == nil || a != b {
		t.Fatal("expected singleton noop logger instance")
	}
	a.LogWorkerFault(1, errors.New("boom"), time.Second)
}
