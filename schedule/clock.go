// Package schedule drives time-based triggers. It maps cron trigger names to
// cron expressions and calls the dispatcher with just the trigger type and a
// timestamp; entity enumeration stays on the dispatcher side.
package schedule

import (
	"context"
	"sync"
	"time"

	automation "github.com/goliatone/go-automation"
	rcron "github.com/robfig/cron/v3"
)

// Sink receives synthetic cron ticks.
type Sink interface {
	Tick(ctx context.Context, triggerType string, at time.Time) error
}

// TriggerSource exposes the cron triggers a loaded rule set subscribes to and
// any schedule expressions the rule document declares.
type TriggerSource interface {
	CronTriggers() []string
	Schedule(trigger string) (string, bool)
}

// DefaultExpressions covers the trigger names the stock rule catalog uses.
var DefaultExpressions = map[string]string{
	"cron_daily_10am": "0 10 * * *",
	"cron_weekly":     "0 9 * * 1",
	"cron_monthly":    "0 9 1 * *",
}

// Clock owns the cron runner and the trigger registrations.
type Clock struct {
	sink     Sink
	logger   automation.Logger
	location *time.Location
	now      func() time.Time

	mu      sync.Mutex
	cron    *rcron.Cron
	entries map[string]rcron.EntryID
}

// Option configures a Clock.
type Option func(*Clock)

// WithLogger sets the clock logger.
func WithLogger(logger automation.Logger) Option {
	return func(c *Clock) {
		c.logger = logger
	}
}

// WithLocation sets the timezone cron expressions are evaluated in.
func WithLocation(loc *time.Location) Option {
	return func(c *Clock) {
		if loc != nil {
			c.location = loc
		}
	}
}

// WithClock injects the tick timestamp source.
func WithClock(now func() time.Time) Option {
	return func(c *Clock) {
		if now != nil {
			c.now = now
		}
	}
}

// New creates a stopped clock feeding the sink.
func New(sink Sink, opts ...Option) *Clock {
	c := &Clock{
		sink:     sink,
		location: time.Local,
		now:      time.Now,
		entries:  make(map[string]rcron.EntryID),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	c.logger = automation.NormalizeLogger(c.logger)
	c.cron = rcron.New(rcron.WithLocation(c.location))
	return c
}

// RegisterTrigger schedules one trigger by cron expression. Registering the
// same trigger again replaces its schedule.
func (c *Clock) RegisterTrigger(trigger, expr string) error {
	if trigger == "" || expr == "" {
		return automation.NewRuleError("", "cron trigger and expression are required", nil)
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	tick := trigger
	entryID, err := c.cron.AddFunc(expr, func() {
		at := c.now()
		if err := c.sink.Tick(context.Background(), tick, at); err != nil {
			c.logger.Error("cron tick failed: trigger=%s err=%v", tick, err)
		}
	})
	if err != nil {
		return automation.NewRuleError("", "invalid cron expression", map[string]any{
			"trigger":     trigger,
			"expression":  expr,
			"parse_error": err.Error(),
		})
	}
	if old, exists := c.entries[trigger]; exists {
		c.cron.Remove(old)
	}
	c.entries[trigger] = entryID
	c.logger.Info("cron trigger registered: trigger=%s expression=%q", trigger, expr)
	return nil
}

// RegisterFromSet wires every cron trigger the rule set references, using the
// document's schedule map first and the built-in defaults second. Triggers
// with no known expression are reported, not fatal.
func (c *Clock) RegisterFromSet(src TriggerSource) []error {
	var errs []error
	for _, trigger := range src.CronTriggers() {
		expr, ok := src.Schedule(trigger)
		if !ok {
			expr, ok = DefaultExpressions[trigger]
		}
		if !ok {
			errs = append(errs, automation.NewRuleError("", "no schedule declared for cron trigger", map[string]any{
				"trigger": trigger,
			}))
			continue
		}
		if err := c.RegisterTrigger(trigger, expr); err != nil {
			errs = append(errs, err)
		}
	}
	return errs
}

// Reset drops every registration, used when the rule registry hot-swaps.
func (c *Clock) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for trigger, entryID := range c.entries {
		c.cron.Remove(entryID)
		delete(c.entries, trigger)
	}
}

// Start begins firing registered triggers.
func (c *Clock) Start(_ context.Context) error {
	c.cron.Start()
	return nil
}

// Stop halts the runner and waits for in-flight tick callbacks.
func (c *Clock) Stop(ctx context.Context) error {
	done := c.cron.Stop().Done()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Triggers lists the registered trigger names.
func (c *Clock) Triggers() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, 0, len(c.entries))
	for trigger := range c.entries {
		out = append(out, trigger)
	}
	return out
}
