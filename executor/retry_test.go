package executor

import (
	"testing"
	"time"

	automation "github.com/goliatone/go-automation"
)

func TestFixedDelayStrategy(t *testing.T) {
	s := FixedDelayStrategy{Delay: 250 * time.Millisecond}
	for attempt := 1; attempt <= 3; attempt++ {
		if got := s.SleepDuration(attempt, nil); got != 250*time.Millisecond {
			t.Fatalf("attempt %d: expected constant delay, got %s", attempt, got)
		}
	}
	if got := (FixedDelayStrategy{Delay: -time.Second}).SleepDuration(1, nil); got != 0 {
		t.Fatalf("negative delay should clamp to zero, got %s", got)
	}
}

func TestExponentialBackoffStrategy(t *testing.T) {
	s := ExponentialBackoffStrategy{Base: 100 * time.Millisecond}
	cases := []struct {
		attempt int
		want    time.Duration
	}{
		{1, 100 * time.Millisecond},
		{2, 200 * time.Millisecond},
		{3, 400 * time.Millisecond},
		{4, 800 * time.Millisecond},
		{0, 100 * time.Millisecond},
	}
	for _, tc := range cases {
		if got := s.SleepDuration(tc.attempt, nil); got != tc.want {
			t.Fatalf("attempt %d: expected %s, got %s", tc.attempt, tc.want, got)
		}
	}
}

func TestExponentialBackoffCap(t *testing.T) {
	s := ExponentialBackoffStrategy{Base: 100 * time.Millisecond, Max: 300 * time.Millisecond}
	if got := s.SleepDuration(5, nil); got != 300*time.Millisecond {
		t.Fatalf("expected cap, got %s", got)
	}
}

func TestStrategyFor(t *testing.T) {
	if _, ok := StrategyFor(automation.RetryPolicy{Backoff: automation.BackoffExponential, Base: time.Second}).(ExponentialBackoffStrategy); !ok {
		t.Fatalf("expected exponential strategy")
	}
	fixed, ok := StrategyFor(automation.RetryPolicy{Backoff: automation.BackoffFixed, Base: time.Second}).(FixedDelayStrategy)
	if !ok || fixed.Delay != time.Second {
		t.Fatalf("expected fixed strategy with base, got %+v", fixed)
	}
	// empty backoff defaults to fixed with the default base
	def, ok := StrategyFor(automation.RetryPolicy{}).(FixedDelayStrategy)
	if !ok || def.Delay != 500*time.Millisecond {
		t.Fatalf("expected default fixed strategy, got %+v", def)
	}
}
