package loop

import (
	"errors"
	"fmt"
)

// ErrorKind categorizes a control-loop failure by how it is recovered.
type ErrorKind int

const (
	// KindSamplerUnavailable means the sampler could not be initialized at
	// startup. It is the only fatal kind.
	KindSamplerUnavailable ErrorKind = iota
	// KindAllocationFailure means the balloon could not grow. The previous
	// balloon is kept and the loop continues on its normal schedule.
	KindAllocationFailure
	// KindTransientCycle covers any other failure inside a cycle. The cycle
	// is aborted and retried after a full interval.
	KindTransientCycle
	// KindWorkerFault is a failed CPU worker cycle, recovered by the worker.
	KindWorkerFault
)

func (k ErrorKind) String() string {
	switch k {
	case KindSamplerUnavailable:
		return "sampler_unavailable"
	case KindAllocationFailure:
		return "allocation_failure"
	case KindTransientCycle:
		return "transient_cycle"
	case KindWorkerFault:
		return "worker_fault"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Error is a typed control-loop error.
type Error struct {
	Kind  ErrorKind
	Op    string
	Cause error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Op, e.Cause)
	}
	return e.Op
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// Recoverable reports whether the loop keeps running after this error.
func (e *Error) Recoverable() bool {
	return e.Kind != KindSamplerUnavailable
}

// NewSamplerUnavailableError wraps a failed startup probe.
func NewSamplerUnavailableError(cause error) *Error {
	return &Error{Kind: KindSamplerUnavailable, Op: "initialize sampler", Cause: cause}
}

// NewAllocationError wraps a refused balloon allocation.
func NewAllocationError(cause error) *Error {
	return &Error{Kind: KindAllocationFailure, Op: "resize balloon", Cause: cause}
}

// NewTransientError wraps a failure that aborted a cycle.
func NewTransientError(op string, cause error) *Error {
	return &Error{Kind: KindTransientCycle, Op: op, Cause: cause}
}

// NewWorkerFaultError wraps a failed worker cycle.
func NewWorkerFaultError(workerID int, cause error) *Error {
	return &Error{Kind: KindWorkerFault, Op: fmt.Sprintf("worker %d", workerID), Cause: cause}
}

// IsKind reports whether err is (or wraps) an *Error of the given kind.
func IsKind(err error, kind ErrorKind) bool {
	var le *Error
	if errors.As(err, &le) {
		return le.Kind == kind
	}
	return false
}

// KindOf returns the kind of err, defaulting to KindTransientCycle for
// errors that are not typed.
func KindOf(err error) ErrorKind {
	var le *Error
	if errors.As(err, &le) {
		return le.Kind
	}
	return KindTransientCycle
}
