// Package retry defines the per-event retry policy applied by queue readers
// when a processor invocation fails.
package retry

import (
	"errors"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/telaminai/mongoose/errs"
)

// Policy is a pure value type: {maxAttempts, baseDelay, maxDelay,
// multiplier, retryableErrorKinds}. ShouldRetry and Backoff have no hidden
// state; a Policy may be shared across readers.
type Policy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	Multiplier  float64
	// RetryableKinds is the set of error codes eligible for retry. Empty
	// means every error is retryable.
	RetryableKinds map[errs.Code]struct{}

	// sleep is swappable so tests can observe backoff delays without
	// actually sleeping.
	sleep func(time.Duration)
}

// NewPolicy constructs a policy with the given attempt bound and delay
// curve. Kinds lists the retryable error codes; none means retry-all.
func NewPolicy(maxAttempts int, baseDelay, maxDelay time.Duration, multiplier float64, kinds ...errs.Code) Policy {
	var set map[errs.Code]struct{}
	if len(kinds) > 0 {
		set = make(map[errs.Code]struct{}, len(kinds))
		for _, k := range kinds {
			set[k] = struct{}{}
		}
	}
	return Policy{
		MaxAttempts:    maxAttempts,
		BaseDelay:      baseDelay,
		MaxDelay:       maxDelay,
		Multiplier:     multiplier,
		RetryableKinds: set,
	}
}

// DefaultPolicy is the reader default: three attempts with a doubling delay
// curve starting at 1ms and capped at 100ms.
func DefaultPolicy() Policy {
	return NewPolicy(3, time.Millisecond, 100*time.Millisecond, 2)
}

// NoRetry drops a failing event on its first failure.
func NoRetry() Policy {
	return NewPolicy(1, 0, 0, 1)
}

// ShouldRetry reports whether a failure on the given attempt (1-based) is
// eligible for another dispatch: attempts < maxAttempts and the error's
// kind is in the retryable set.
func (p Policy) ShouldRetry(err error, attempts int) bool {
	if err == nil || attempts >= p.MaxAttempts {
		return false
	}
	if len(p.RetryableKinds) == 0 {
		return true
	}
	var structured *errs.E
	if !errors.As(err, &structured) {
		return false
	}
	_, ok := p.RetryableKinds[structured.Code]
	return ok
}

// Backoff sleeps for min(baseDelay * multiplier^(n-1), maxDelay) where n is
// the 1-based attempt count. A computed delay of zero means no sleep.
func (p Policy) Backoff(attempts int) {
	d := p.Delay(attempts)
	if d <= 0 {
		return
	}
	if p.sleep != nil {
		p.sleep(d)
		return
	}
	time.Sleep(d)
}

// Delay computes the backoff duration for the 1-based attempt count without
// sleeping. The curve is delegated to backoff.ExponentialBackOff with
// randomization disabled so the result is deterministic.
func (p Policy) Delay(attempts int) time.Duration {
	if p.BaseDelay <= 0 || attempts < 1 {
		return 0
	}
	curve := &backoff.ExponentialBackOff{
		InitialInterval:     p.BaseDelay,
		RandomizationFactor: 0,
		Multiplier:          p.Multiplier,
		MaxInterval:         p.MaxDelay,
	}
	if curve.Multiplier <= 0 {
		curve.Multiplier = 1
	}
	if curve.MaxInterval <= 0 {
		curve.MaxInterval = p.BaseDelay
	}
	curve.Reset()
	d := curve.NextBackOff()
	for i := 1; i < attempts; i++ {
		d = curve.NextBackOff()
	}
	if d > p.MaxDelay && p.MaxDelay > 0 {
		d = p.MaxDelay
	}
	return d
}

// WithSleep returns a copy of the policy whose Backoff uses fn instead of
// time.Sleep.
func (p Policy) WithSleep(fn func(time.Duration)) Policy {
	p.sleep = fn
	return p
}
