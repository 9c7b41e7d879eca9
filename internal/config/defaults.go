package config

import "time"

// Default targets and control-loop tuning.
const (
	DefaultTargetCPUPercent = 81.0
	DefaultTargetRAMPercent = 81.0
	DefaultInterval         = 15 * time.Second

	DefaultGain         = 0.5
	DefaultHysteresisMB = 10.0
	DefaultMinRatio     = 0.05
	DefaultMaxRatio     = 1.0

	DefaultWorkerCycle        = 1 * time.Second
	DefaultWorkerFaultBackoff = 1 * time.Second
	DefaultSampleWindow       = 1 * time.Second
	DefaultSampleTimeout      = 10 * time.Second
	DefaultProbeRetries       = 3
)

// Environment variables that override the flag defaults.
const (
	EnvTargetCPU = "SYSLOAD_TARGET_CPU"
	EnvTargetRAM = "SYSLOAD_TARGET_RAM"
	EnvInterval  = "SYSLOAD_INTERVAL"
)
