package task

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Policy bounds a retried operation.
type Policy struct {
	MaxAttempts int
	// Delay is the fixed pause between attempts.
	Delay time.Duration
	// DelayFirst also waits Delay before the first attempt.
	DelayFirst bool
}

// Outcome is the result of a retried operation: either a value or the last error.
type Outcome[T any] struct {
	Value    T
	Err      error
	Attempts int
}

// Exhausted reports whether every attempt failed.
func (o Outcome[T]) Exhausted() bool { return o.Err != nil }

// Attempt runs op until it succeeds, the policy's attempts are used up or ctx
// is cancelled. op receives the 1-based attempt number.
func Attempt[T any](ctx context.Context, p Policy, op func(ctx context.Context, attempt int) (T, error)) Outcome[T] {
	if p.MaxAttempts < 1 {
		p.MaxAttempts = 1
	}

	var out Outcome[T]
	if p.DelayFirst && p.Delay > 0 {
		timer := time.NewTimer(p.Delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			out.Err = ctx.Err()
			return out
		case <-timer.C:
		}
	}

	b := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewConstantBackOff(p.Delay), uint64(p.MaxAttempts-1)),
		ctx,
	)
	out.Err = backoff.Retry(func() error {
		out.Attempts++
		v, err := op(ctx, out.Attempts)
		if err != nil {
			return err
		}
		out.Value = v
		return nil
	}, b)
	return out
}

// Permanent marks err as not worth retrying; Attempt stops and reports it unwrapped.
func Permanent(err error) error {
	return backoff.Permanent(err)
}
