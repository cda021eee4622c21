package executor

import (
	"math"
	"time"

	automation "github.com/goliatone/go-automation"
)

// RetryStrategy decides the wait before a retry attempt. The attempt index
// starts at 1 for the first retry.
type RetryStrategy interface {
	SleepDuration(attempt int, err error) time.Duration
}

// FixedDelayStrategy waits a constant delay between attempts.
type FixedDelayStrategy struct {
	Delay time.Duration
}

// SleepDuration returns the constant delay.
func (f FixedDelayStrategy) SleepDuration(_ int, _ error) time.Duration {
	if f.Delay < 0 {
		return 0
	}
	return f.Delay
}

// ExponentialBackoffStrategy waits base * 2^(attempt-1), capped at Max when
// set.
type ExponentialBackoffStrategy struct {
	Base time.Duration
	Max  time.Duration
}

// SleepDuration implements the doubling backoff.
func (e ExponentialBackoffStrategy) SleepDuration(attempt int, _ error) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	delay := float64(e.Base) * math.Pow(2, float64(attempt-1))
	if e.Max > 0 && time.Duration(delay) > e.Max {
		return e.Max
	}
	return time.Duration(delay)
}

// StrategyFor maps a rule's retry policy onto a strategy.
func StrategyFor(policy automation.RetryPolicy) RetryStrategy {
	base := policy.Base
	if base <= 0 {
		base = 500 * time.Millisecond
	}
	if policy.Backoff == automation.BackoffExponential {
		return ExponentialBackoffStrategy{Base: base}
	}
	return FixedDelayStrategy{Delay: base}
}
