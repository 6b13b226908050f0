// Package retry runs an operation against an unreliable generator a bounded
// number of times with a fixed pause between attempts.
package retry

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Policy bounds an operation to MaxAttempts tries. Delay is waited before
// every attempt after the first. Sleep may be replaced in tests.
type Policy struct {
	MaxAttempts int
	Delay       time.Duration
	Sleep       func(ctx context.Context, d time.Duration) error
	// Label names the failure in ExhaustedError, e.g. "too many formatting errors".
	Label string
}

// ExhaustedError is returned when every attempt failed. It wraps the last
// attempt's error.
type ExhaustedError struct {
	Label    string
	Attempts int
	Err      error
}

func (e *ExhaustedError) Error() string {
	label := e.Label
	if label == "" {
		label = "retries exhausted"
	}
	return fmt.Sprintf("%s after %d attempts: %v", label, e.Attempts, e.Err)
}

func (e *ExhaustedError) Unwrap() error { return e.Err }

type permanentError struct{ err error }

func (p *permanentError) Error() string { return p.err.Error() }
func (p *permanentError) Unwrap() error { return p.err }

// Permanent marks an error that must not be retried. Do returns the wrapped
// error unchanged.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// Do calls fn with attempt numbers starting at 1 until it succeeds, returns
// a Permanent error, or MaxAttempts is reached.
func (p Policy) Do(ctx context.Context, fn func(attempt int) error) error {
	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}
	sleep := p.Sleep
	if sleep == nil {
		sleep = Sleep
	}

	var last error
	for attempt := 1; attempt <= attempts; attempt++ {
		if attempt > 1 && p.Delay > 0 {
			if err := sleep(ctx, p.Delay); err != nil {
				return err
			}
		}
		last = fn(attempt)
		if last == nil {
			return nil
		}
		var perm *permanentError
		if errors.As(last, &perm) {
			return perm.err
		}
	}
	return &ExhaustedError{Label: p.Label, Attempts: attempts, Err: last}
}

// Sleep waits for d or until ctx is done.
func Sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// NoSleep skips the delay. Tests use it to keep retries instant.
func NoSleep(context.Context, time.Duration) error { return nil }
