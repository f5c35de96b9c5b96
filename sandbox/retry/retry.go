// Package retry implements the backoff discipline for transient sandbox
// infrastructure failures: exponential backoff with full jitter, bounded
// attempts, and a marker for errors worth retrying.
package retry

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"net"
	"os"
	"time"
)

// Policy bounds the retry behavior. The delay before attempt n (n >= 2) is
// drawn uniformly from [0, min(MaxDelay, BaseDelay*2^(n-2))].
type Policy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

// DefaultPolicy returns the policy used when callers do not configure one.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts: 3,
		BaseDelay:   200 * time.Millisecond,
		MaxDelay:    5 * time.Second,
	}
}

type transientError struct {
	err error
}

func (e *transientError) Error() string { return e.err.Error() }
func (e *transientError) Unwrap() error { return e.err }

// Transient marks err as retryable regardless of its type.
func Transient(err error) error {
	if err == nil {
		return nil
	}
	return &transientError{err: err}
}

// IsTransient reports whether err is worth retrying: explicitly marked
// errors, network errors and timeouts. Context cancellation is never
// transient.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	var marked *transientError
	if errors.As(err, &marked) {
		return true
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}

	return os.IsTimeout(err)
}

// Do runs op until it succeeds, fails permanently, or the attempt budget is
// spent. The final error wraps the last failure with the attempt count.
func (p Policy) Do(ctx context.Context, op func(ctx context.Context) error) error {
	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	var lastErr error

	for attempt := 1; attempt <= attempts; attempt++ {
		if attempt > 1 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(p.delay(attempt)):
			}
		}

		err := op(ctx)
		if err == nil {
			return nil
		}
		lastErr = err

		if ctx.Err() != nil {
			return lastErr
		}
		if !IsTransient(err) {
			return err
		}
	}

	return fmt.Errorf("retry: %d attempt(s) exhausted: %w", attempts, lastErr)
}

// delay computes the full-jitter backoff before the given attempt (>= 2).
func (p Policy) delay(attempt int) time.Duration {
	base := p.BaseDelay
	if base <= 0 {
		base = 200 * time.Millisecond
	}
	maxDelay := p.MaxDelay
	if maxDelay <= 0 {
		maxDelay = 5 * time.Second
	}

	ceiling := base << uint(attempt-2)
	if ceiling > maxDelay || ceiling <= 0 {
		ceiling = maxDelay
	}

	return time.Duration(rand.Int63n(int64(ceiling) + 1))
}
