package schedule

import (
	"context"
	"sort"
	"testing"
	"time"
)

type recordingSink struct {
	ticks chan string
}

func (s *recordingSink) Tick(_ context.Context, triggerType string, _ time.Time) error {
	select {
	case s.ticks <- triggerType:
	default:
	}
	return nil
}

type staticSource struct {
	triggers  []string
	schedules map[string]string
}

func (s staticSource) CronTriggers() []string { return s.triggers }
func (s staticSource) Schedule(trigger string) (string, bool) {
	expr, ok := s.schedules[trigger]
	return expr, ok
}

func newTestClock() (*Clock, *recordingSink) {
	sink := &recordingSink{ticks: make(chan string, 16)}
	return New(sink, WithLocation(time.UTC)), sink
}

func TestRegisterTriggerValidatesExpression(t *testing.T) {
	clock, _ := newTestClock()
	if err := clock.RegisterTrigger("cron_daily_10am", "0 10 * * *"); err != nil {
		t.Fatalf("valid expression rejected: %v", err)
	}
	if err := clock.RegisterTrigger("cron_bad", "not a cron"); err == nil {
		t.Fatalf("expected parse error")
	}
	if err := clock.RegisterTrigger("", "0 10 * * *"); err == nil {
		t.Fatalf("expected missing trigger error")
	}
	if err := clock.RegisterTrigger("cron_x", ""); err == nil {
		t.Fatalf("expected missing expression error")
	}
}

func TestRegisterTriggerReplaces(t *testing.T) {
	clock, _ := newTestClock()
	if err := clock.RegisterTrigger("cron_weekly", "0 9 * * 1"); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := clock.RegisterTrigger("cron_weekly", "0 8 * * 1"); err != nil {
		t.Fatalf("re-register: %v", err)
	}
	if got := clock.Triggers(); len(got) != 1 {
		t.Fatalf("re-registering must replace, got %v", got)
	}
}

func TestRegisterFromSet(t *testing.T) {
	clock, _ := newTestClock()
	src := staticSource{
		triggers: []string{"cron_daily_10am", "cron_custom", "cron_unknowable"},
		schedules: map[string]string{
			"cron_custom": "*/5 * * * *",
		},
	}

	errs := clock.RegisterFromSet(src)
	if len(errs) != 1 {
		t.Fatalf("expected one unresolvable trigger, got %v", errs)
	}

	got := clock.Triggers()
	sort.Strings(got)
	want := []string{"cron_custom", "cron_daily_10am"}
	if len(got) != len(want) || got[0] != want[0] || got[1] != want[1] {
		t.Fatalf("expected %v registered, got %v", want, got)
	}
}

func TestResetClearsRegistrations(t *testing.T) {
	clock, _ := newTestClock()
	if err := clock.RegisterTrigger("cron_weekly", "0 9 * * 1"); err != nil {
		t.Fatalf("register: %v", err)
	}
	clock.Reset()
	if got := clock.Triggers(); len(got) != 0 {
		t.Fatalf("reset should drop registrations, got %v", got)
	}
}

func TestTickDeliveryAndStop(t *testing.T) {
	clock, sink := newTestClock()
	if err := clock.RegisterTrigger("cron_fast", "@every 100ms"); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := clock.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}

	select {
	case trigger := <-sink.ticks:
		if trigger != "cron_fast" {
			t.Fatalf("unexpected trigger %s", trigger)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("no tick delivered")
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := clock.Stop(ctx); err != nil {
		t.Fatalf("stop: %v", err)
	}
}

func TestDefaultExpressionsCoverStockTriggers(t *testing.T) {
	clock, _ := newTestClock()
	for trigger, expr := range DefaultExpressions {
		if err := clock.RegisterTrigger(trigger, expr); err != nil {
			t.Fatalf("default expression for %s invalid: %v", trigger, err)
		}
	}
}
