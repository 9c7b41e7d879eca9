// Package config holds the startup configuration for sysload.
//
// A TargetConfig is built once, validated, and then handed by value to the
// controllers and the control loop. It has no setters.
package config

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// TargetConfig describes what the control loop converges on.
type TargetConfig struct {
	targetCPUPercent float64
	targetRAMPercent float64
	interval         time.Duration
}

// New validates the targets and returns an immutable TargetConfig.
func New(targetCPUPercent, targetRAMPercent float64, interval time.Duration) (TargetConfig, error) {
	if err := validatePercent("target CPU", targetCPUPercent); err != nil {
		return TargetConfig{}, err
	}
	if err := validatePercent("target RAM", targetRAMPercent); err != nil {
		return TargetConfig{}, err
	}
	if interval <= 0 {
		return TargetConfig{}, fmt.Errorf("interval must be positive, got %s", interval)
	}
	return TargetConfig{
		targetCPUPercent: targetCPUPercent,
		targetRAMPercent: targetRAMPercent,
		interval:         interval,
	}, nil
}

// Default returns the built-in targets: 81% CPU, 81% RAM, 15s interval.
func Default() TargetConfig {
	return TargetConfig{
		targetCPUPercent: DefaultTargetCPUPercent,
		targetRAMPercent: DefaultTargetRAMPercent,
		interval:         DefaultInterval,
	}
}

func (c TargetConfig) TargetCPUPercent() float64 { return c.targetCPUPercent }
func (c TargetConfig) TargetRAMPercent() float64 { return c.targetRAMPercent }
func (c TargetConfig) Interval() time.Duration { return c.interval }

// InitialRatio is the duty-cycle ratio the workers start at.
func (c TargetConfig) InitialRatio() float64 {
	return c.targetCPUPercent / 100.0
}

func (c TargetConfig) String() string {
	return fmt.Sprintf("cpu=%.1f%% ram=%.1f%% interval=%s", c.targetCPUPercent, c.targetRAMPercent, c.interval)
}

func validatePercent(name string, v float64) error {
	if math.IsNaN(v) || v <= 0 || v > 100 {
		return fmt.Errorf("%s must be in (0, 100], got %v", name, v)
	}
	return nil
}

// Tuning holds the controller constants. Every field can be overridden
// from the command line.
type Tuning struct {
	// Gain scales the proportional CPU correction.
	Gain float64

	// HysteresisMB is the minimum balloon size change that triggers a reallocation.
	HysteresisMB float64

	// MinRatio and MaxRatio bound the worker duty cycle.
	MinRatio float64
	MaxRatio float64
}

// DefaultTuning returns gain 0.5, 10 MB hysteresis and a [0.05, 1.0] ratio clamp.
func DefaultTuning() Tuning {
	return Tuning{
		Gain:         DefaultGain,
		HysteresisMB: DefaultHysteresisMB,
		MinRatio:     DefaultMinRatio,
		MaxRatio:     DefaultMaxRatio,
	}
}

// Validate reports the first invalid field.
func (t Tuning) Validate() error {
	if math.IsNaN(t.Gain) || t.Gain <= 0 {
		return fmt.Errorf("gain must be positive, got %v", t.Gain)
	}
	if math.IsNaN(t.HysteresisMB) || t.HysteresisMB < 0 {
		return fmt.Errorf("hysteresis must be non-negative, got %v", t.HysteresisMB)
	}
	if math.IsNaN(t.MinRatio) || t.MinRatio < 0 || t.MinRatio > 1 {
		return fmt.Errorf("min ratio must be in [0, 1], got %v", t.MinRatio)
	}
	if math.IsNaN(t.MaxRatio) || t.MaxRatio <= 0 || t.MaxRatio > 1 {
		return fmt.Errorf("max ratio must be in (0, 1], got %v", t.MaxRatio)
	}
	if t.MinRatio > t.MaxRatio {
		return fmt.Errorf("min ratio %v exceeds max ratio %v", t.MinRatio, t.MaxRatio)
	}
	return nil
}

// EnvDefaults are flag defaults sourced from the environment.
type EnvDefaults struct {
	TargetCPUPercent float64
	TargetRAMPercent float64
	Interval         time.Duration
}

// LoadEnvDefaults reads SYSLOAD_* variables through getenv. Unset variables
// keep the built-in default. Malformed values are returned as errors and
// also keep the built-in default, so the caller can warn and carry on.
func LoadEnvDefaults(getenv func(string) string) (EnvDefaults, []error) {
	d := EnvDefaults{
		TargetCPUPercent: DefaultTargetCPUPercent,
		TargetRAMPercent: DefaultTargetRAMPercent,
		Interval:         DefaultInterval,
	}
	var errs []error

	if s := strings.TrimSpace(getenv(EnvTargetCPU)); s != "" {
		if v, err := strconv.ParseFloat(s, 64); err == nil {
			d.TargetCPUPercent = v
		} else {
			errs = append(errs, fmt.Errorf("%s=%q: %w", EnvTargetCPU, s, err))
		}
	}

	if s := strings.TrimSpace(getenv(EnvTargetRAM)); s != "" {
		if v, err := strconv.ParseFloat(s, 64); err == nil {
			d.TargetRAMPercent = v
		} else {
			errs = append(errs, fmt.Errorf("%s=%q: %w", EnvTargetRAM, s, err))
		}
	}

	if s := strings.TrimSpace(getenv(EnvInterval)); s != "" {
		if v, err := ParseInterval(s); err == nil {
			d.Interval = v
		} else {
			errs = append(errs, fmt.Errorf("%s=%q: %w", EnvInterval, s, err))
		}
	}

	return d, errs
}

// ParseInterval accepts either a Go duration ("15s", "1m") or a bare
// number of seconds ("15", "2.5").
func ParseInterval(s string) (time.Duration, error) {
	if d, err := time.ParseDuration(s); err == nil {
		return d, nil
	}
	secs, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid interval %q", s)
	}
	return time.Duration(secs * float64(time.Second)), nil
}
