// Package retry provides a shared retry loop with exponential backoff.
package retry

import (
	"context"
	"crypto/rand"
	"encoding/binary"
	"errors"
	"time"
)

// cryptoInt64n returns a random int64 in [0, n) using crypto/rand.
func cryptoInt64n(n int64) int64 {
	if n <= 0 {
		return 0
	}
	var b [8]byte
	_, _ = rand.Read(b[:])
	v := binary.LittleEndian.Uint64(b[:]) >> 1 // ensure fits in int64
	return int64(v % uint64(n))                //nolint:gosec // n>0, v%n < n, safe
}

// PermanentError wraps an error that should not be retried.
type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string { return e.Err.Error() }
func (e *PermanentError) Unwrap() error { return e.Err }

// Permanent wraps err so that Do will not retry it.
func Permanent(err error) error {
	return &PermanentError{Err: err}
}

// Policy describes how many times to attempt an operation and how long to
// wait between attempts.
type Policy struct {
	// MaxAttempts is the total number of attempts, including the first.
	MaxAttempts int
	// BaseDelay is the wait after the first failed attempt. The wait after
	// attempt i (0-based) is BaseDelay * 2^i.
	BaseDelay time.Duration
	// Jitter spreads each wait by +-Jitter*wait. Zero gives exact waits.
	Jitter float64
	// OnRetry, if set, is called before each backoff sleep.
	OnRetry func(attempt int, err error, wait time.Duration)
}

// Backoff returns the un-jittered wait after the given 0-based attempt.
func (p Policy) Backoff(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	return p.BaseDelay << uint(attempt)
}

func (p Policy) sleepFor(attempt int) time.Duration {
	d := p.Backoff(attempt)
	if p.Jitter <= 0 || d <= 0 {
		return d
	}
	spread := time.Duration(float64(d) * p.Jitter)
	return d - spread + time.Duration(cryptoInt64n(int64(2*spread+1)))
}

// Do calls fn up to maxAttempts times with exponential backoff and +-25% jitter.
// It stops early if:
//   - fn returns nil (success)
//   - fn returns a *PermanentError (not retryable)
//   - ctx is cancelled
func Do(ctx context.Context, maxAttempts int, baseDelay time.Duration, fn func() error) error {
	p := Policy{MaxAttempts: maxAttempts, BaseDelay: baseDelay, Jitter: 0.25}
	return p.Run(ctx, func(int) error { return fn() })
}

// Run calls fn, passing the 0-based attempt index, until it succeeds,
// returns a permanent error, the context ends, or attempts run out. The last
// error is returned unchanged so callers can inspect it with errors.As.
func (p Policy) Run(ctx context.Context, fn func(attempt int) error) error {
	maxAttempts := p.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 1
	}

	var err error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		err = fn(attempt)
		if err == nil {
			return nil
		}

		var pe *PermanentError
		if errors.As(err, &pe) {
			return pe.Err
		}

		// Don't sleep after the last attempt.
		if attempt == maxAttempts-1 {
			break
		}

		wait := p.sleepFor(attempt)
		if p.OnRetry != nil {
			p.OnRetry(attempt, err, wait)
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}

	return err
}
