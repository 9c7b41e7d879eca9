package sampler

import (
	"context"
	"errors"
	"fmt"

	"github.com/cenkalti/backoff/v4"
)

// DefaultProbeBackOff retries a failed probe up to retries times with
// exponential spacing.
func DefaultProbeBackOff(retries uint64) backoff.BackOff {
	return backoff.WithMaxRetries(backoff.NewExponentialBackOff(), retries)
}

// Probe checks that s can produce both readings. It primes the CPU counter
// with a zero-window read and requires a non-zero memory total. Transient
// failures are retried according to b.
func Probe(ctx context.Context, s Sampler, b backoff.BackOff) error {
	op := func() error {
		if _, err := s.CPUPercent(ctx, 0); err != nil {
			return fmt.Errorf("cpu: %w", err)
		}
		m, err := s.Memory(ctx)
		if err != nil {
			return fmt.Errorf("memory: %w", err)
		}
		if m.TotalMB <= 0 {
			return backoff.Permanent(errors.New("memory: total is zero"))
		}
		return nil
	}
	return backoff.Retry(op, backoff.WithContext(b, ctx))
}
