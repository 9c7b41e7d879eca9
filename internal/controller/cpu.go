// Package controller implements the proportional CPU feedback step.
package controller

import (
	"math"

	"github.com/bc-dunia/sysload/internal/config"
)

// RatioStore is where the controller reads and writes the worker duty cycle.
type RatioStore interface {
	Get() float64
	Set(v float64) float64
}

// Proportional is a P-only control law on the duty-cycle ratio.
type Proportional struct {
	Gain float64
	Min  float64
	Max  float64
}

// NewProportional builds the control law from tuning.
func NewProportional(t config.Tuning) Proportional {
	return Proportional{Gain: t.Gain, Min: t.MinRatio, Max: t.MaxRatio}
}

// Step is the result of one controller evaluation.
type Step struct {
	// Error is target minus measured, in percentage points.
	Error float64

	// Adjustment is the ratio delta before clamping.
	Adjustment float64

	// Previous and Ratio are the duty cycle before and after the step.
	Previous float64
	Ratio    float64
}

// Next computes clamp(current + (target-measured)/100 * gain, min, max).
func (p Proportional) Next(current, measured, target float64) Step {
	errPct := target - measured
	adj := (errPct / 100.0) * p.Gain
	next := current + adj
	if math.IsNaN(next) {
		next = current
	}
	next = math.Max(p.Min, math.Min(p.Max, next))
	return Step{
		Error:      errPct,
		Adjustment: adj,
		Previous:   current,
		Ratio:      next,
	}
}

// CPU applies the control law to a shared ratio store.
type CPU struct {
	law    Proportional
	store  RatioStore
	target float64
}

// NewCPU returns a controller steering store toward targetPercent.
func NewCPU(law Proportional, store RatioStore, targetPercent float64) *CPU {
	return &CPU{law: law, store: store, target: targetPercent}
}

// Update feeds one measurement through the control law and writes the new
// ratio. It is the only writer of the store.
func (c *CPU) Update(measuredPercent float64) Step {
	step := c.law.Next(c.store.Get(), measuredPercent, c.target)
	step.Ratio = c.store.Set(step.Ratio)
	return step
}

// Target returns the CPU target in percent.
func (c *CPU) Target() float64 { return c.target }
