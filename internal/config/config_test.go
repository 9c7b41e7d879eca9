package config

import (
	"math"
	"testing"
	"time"
)

func TestDefault(t *testing.T) {
	c := Default()
	if c.TargetCPUPercent() != 81.0 {
		t.Errorf("TargetCPUPercent = %v, want 81", c.TargetCPUPercent())
	}
	if c.TargetRAMPercent() != 81.0 {
		t.Errorf("TargetRAMPercent = %v, want 81", c.TargetRAMPercent())
	}
	if c.Interval() != 15*time.Second {
		t.Errorf("Interval = %v, want 15s", c.Interval())
	}
	if got := c.InitialRatio(); math.Abs(got-0.81) > 1e-9 {
		t.Errorf("InitialRatio = %v, want 0.81", got)
	}
}

func TestNewValidation(t *testing.T) {
	tests := []struct {
		name     string
		cpu, ram float64
		interval time.Duration
		wantErr  bool
	}{
		{"defaults", 81, 81, 15 * time.Second, false},
		{"upper bound", 100, 100, time.Second, false},
		{"zero cpu", 0, 81, time.Second, true},
		{"cpu over 100", 100.5, 81, time.Second, true},
		{"negative ram", 81, -1, time.Second, true},
		{"nan ram", 81, math.NaN(), time.Second, true},
		{"zero interval", 81, 81, 0, true},
		{"negative interval", 81, 81, -time.Second, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(tt.cpu, tt.ram, tt.interval)
			if (err != nil) != tt.wantErr {
				t.Fatalf("New(%v, %v, %v) error = %v, wantErr %v", tt.cpu, tt.ram, tt.interval, err, tt.wantErr)
			}
		})
	}
}

func TestTuningValidate(t *testing.T) {
	if err := DefaultTuning().Validate(); err != nil {
		t.Fatalf("default tuning invalid: %v", err)
	}

	bad := []Tuning{
		{Gain: 0, HysteresisMB: 10, MinRatio: 0.05, MaxRatio: 1},
		{Gain: 0.5, HysteresisMB: -1, MinRatio: 0.05, MaxRatio: 1},
		{Gain: 0.5, HysteresisMB: 10, MinRatio: 0.6, MaxRatio: 0.5},
		{Gain: 0.5, HysteresisMB: 10, MinRatio: 0.05, MaxRatio: 1.5},
		{Gain: 0.5, HysteresisMB: 10, MinRatio: -0.1, MaxRatio: 1},
	}
	for i, tu := range bad {
		if err := tu.Validate(); err == nil {
			t.Errorf("case %d: expected error for %+v", i, tu)
		}
	}
}

func TestLoadEnvDefaults(t *testing.T) {
	env := map[string]string{
		EnvTargetCPU: "70",
		EnvTargetRAM: " 55.5 ",
		EnvInterval:  "30",
	}
	d, errs := LoadEnvDefaults(func(k string) string { return env[k] })
	if len(errs) != 0 {
		t.Fatalf("unexpected errors: %v", errs)
	}
	if d.TargetCPUPercent != 70 {
		t.Errorf("TargetCPUPercent = %v, want 70", d.TargetCPUPercent)
	}
	if d.TargetRAMPercent != 55.5 {
		t.Errorf("TargetRAMPercent = %v, want 55.5", d.TargetRAMPercent)
	}
	if d.Interval != 30*time.Second {
		t.Errorf("Interval = %v, want 30s", d.Interval)
	}
}

func TestLoadEnvDefaultsMalformed(t *testing.T) {
	env := map[string]string{
		EnvTargetCPU: "lots",
		EnvInterval:  "soon",
	}
	d, errs := LoadEnvDefaults(func(k string) string { return env[k] })
	if len(errs) != 2 {
		t.Fatalf("expected 2 errors, got %d: %v", len(errs), errs)
	}
	if d.TargetCPUPercent != DefaultTargetCPUPercent {
		t.Errorf("malformed value should keep default, got %v", d.TargetCPUPercent)
	}
	if d.Interval != DefaultInterval {
		t.Errorf("malformed interval should keep default, got %v", d.Interval)
	}
}

func TestParseInterval(t *testing.T) {
	tests := map[string]time.Duration{
		"15s":   15 * time.Second,
		"1m":    time.Minute,
		"15":    15 * time.Second,
		"2.5":   2500 * time.Millisecond,
		"250ms": 250 * time.Millisecond,
	}
	for in, want := range tests {
		got, err := ParseInterval(in)
		if err != nil {
			t.Errorf("ParseInterval(%q) error: %v", in, err)
			continue
		}
		if got != want {
			t.Errorf("ParseInterval(%q) = %v, want %v", in, got, want)
		}
	}

	if _, err := ParseInterval("fortnight"); err == nil {
		t.Error("expected error for non-numeric interval")
	}
}
