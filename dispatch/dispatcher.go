// Package dispatch receives trigger events, resolves candidate rules, filters
// them through the condition evaluator, and enqueues pending executions.
// Per-rule failures are isolated: one malformed condition or one failing
// entity query never blocks other rules.
package dispatch

import (
	"context"
	"time"

	automation "github.com/goliatone/go-automation"
	"github.com/goliatone/go-automation/condition"
	"github.com/goliatone/go-automation/store"
)

// Entity is one candidate returned by cron fan-out queries.
type Entity struct {
	ID       string
	Snapshot automation.Snapshot
}

// EntityQuerier enumerates entities a cron-triggered rule should act on,
// e.g. "bookings with date = tomorrow and status = confirmed".
type EntityQuerier interface {
	FindEntitiesMatching(ctx context.Context, triggerType string, asOf time.Time) ([]Entity, error)
}

// SnapshotSource re-fetches one entity when a delayed dispatch fires, so the
// condition sees current truth instead of the snapshot taken at trigger time.
type SnapshotSource interface {
	FetchEntity(ctx context.Context, correlationID string) (automation.Snapshot, error)
}

// RuleSource resolves candidate rules for a trigger type.
type RuleSource interface {
	RulesForTrigger(trigger string) []automation.RuleDefinition
}

// Notifier wakes executor workers after new work is enqueued.
type Notifier interface {
	Notify()
}

// Dispatcher is the event intake and fan-out stage.
type Dispatcher struct {
	rules     RuleSource
	store     store.ExecutionStore
	snapshots SnapshotSource
	entities  EntityQuerier
	notifier  Notifier
	logger    automation.Logger
	now       func() time.Time
	delays    *delayQueue
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithLogger sets the dispatcher logger.
func WithLogger(logger automation.Logger) Option {
	return func(d *Dispatcher) {
		d.logger = logger
	}
}

// WithSnapshotSource wires the delayed-dispatch snapshot re-fetch.
func WithSnapshotSource(src SnapshotSource) Option {
	return func(d *Dispatcher) {
		d.snapshots = src
	}
}

// WithEntityQuerier wires the cron fan-out query collaborator.
func WithEntityQuerier(q EntityQuerier) Option {
	return func(d *Dispatcher) {
		d.entities = q
	}
}

// WithNotifier wires the executor wake-up.
func WithNotifier(n Notifier) Option {
	return func(d *Dispatcher) {
		d.notifier = n
	}
}

// WithClock injects the time source.
func WithClock(now func() time.Time) Option {
	return func(d *Dispatcher) {
		if now != nil {
			d.now = now
		}
	}
}

// New wires a dispatcher over the rule source and execution store.
func New(rules RuleSource, st store.ExecutionStore, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		rules: rules,
		store: st,
		now:   time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(d)
		}
	}
	d.logger = automation.NormalizeLogger(d.logger)
	d.delays = newDelayQueue(d.logger)
	return d
}

// Submit is the event ingress for entity-scoped domain events.
func (d *Dispatcher) Submit(ctx context.Context, evt automation.TriggerEvent) error {
	if err := evt.Validate(); err != nil {
		return err
	}
	if evt.EmittedAt.IsZero() {
		evt.EmittedAt = d.now().UTC()
	}
	for _, rule := range d.rules.RulesForTrigger(evt.Trigger) {
		d.dispatchRule(ctx, rule, evt)
	}
	return nil
}

// Tick is the cron ingress: the clock collaborator supplies only a trigger
// type and a timestamp, and the dispatcher enumerates candidate entities per
// matching rule. A query failure skips that rule's cycle only.
func (d *Dispatcher) Tick(ctx context.Context, triggerType string, at time.Time) error {
	rules := d.rules.RulesForTrigger(triggerType)
	if len(rules) == 0 {
		return nil
	}
	if d.entities == nil {
		d.logger.Warn("cron tick without entity querier: trigger=%s", triggerType)
		return nil
	}
	for _, rule := range rules {
		entities, err := d.entities.FindEntitiesMatching(ctx, triggerType, at)
		if err != nil {
			d.logger.Error("entity query failed, skipping cron cycle: rule=%s trigger=%s err=%v",
				rule.Name, triggerType, err)
			continue
		}
		for _, entity := range entities {
			d.dispatchRule(ctx, rule, automation.TriggerEvent{
				Trigger:       triggerType,
				CorrelationID: entity.ID,
				Snapshot:      entity.Snapshot,
				EmittedAt:     at,
			})
		}
	}
	return nil
}

// Stop cancels pending delayed dispatches.
func (d *Dispatcher) Stop() {
	d.delays.stop()
}

// PendingDelays reports delayed dispatches not yet fired.
func (d *Dispatcher) PendingDelays() int {
	return d.delays.pending()
}

func (d *Dispatcher) dispatchRule(ctx context.Context, rule automation.RuleDefinition, evt automation.TriggerEvent) {
	if rule.Delay <= 0 {
		d.evaluateAndCreate(ctx, rule, evt, evt.Snapshot)
		return
	}
	fireAt := evt.EmittedAt.Add(rule.Delay)
	d.delays.schedule(fireAt, func(fireCtx context.Context) {
		snapshot := d.refreshSnapshot(fireCtx, rule, evt)
		if snapshot == nil {
			return
		}
		d.evaluateAndCreate(fireCtx, rule, evt, snapshot)
	})
	d.logger.Debug("delayed dispatch scheduled: rule=%s correlation=%s fire_at=%s",
		rule.Name, evt.CorrelationID, fireAt.Format(time.RFC3339))
}

// refreshSnapshot fetches the entity as of fire time. Without a snapshot
// source the event payload is reused, which keeps delay rules usable in
// embedded setups that have no query layer.
func (d *Dispatcher) refreshSnapshot(ctx context.Context, rule automation.RuleDefinition, evt automation.TriggerEvent) automation.Snapshot {
	if d.snapshots == nil {
		return evt.Snapshot
	}
	snapshot, err := d.snapshots.FetchEntity(ctx, evt.CorrelationID)
	if err != nil {
		d.logger.Error("snapshot re-fetch failed, dropping delayed dispatch: rule=%s correlation=%s err=%v",
			rule.Name, evt.CorrelationID, err)
		return nil
	}
	return snapshot
}

func (d *Dispatcher) evaluateAndCreate(ctx context.Context, rule automation.RuleDefinition, evt automation.TriggerEvent, snapshot automation.Snapshot) {
	matched, err := condition.Matches(rule.Conditions, snapshot, d.now().UTC())
	if err != nil {
		// a malformed rule must never block unrelated rules
		d.logger.Warn("condition evaluation failed, treating as non-match: rule=%s correlation=%s err=%v",
			rule.Name, evt.CorrelationID, err)
		return
	}
	if !matched {
		return
	}

	_, err = d.store.Create(ctx, &automation.Execution{
		Rule:          rule.Name,
		CorrelationID: evt.CorrelationID,
		Snapshot:      snapshot,
	})
	if err != nil {
		if automation.IsConflict(err) {
			d.logger.Info("duplicate trigger suppressed: rule=%s correlation=%s",
				rule.Name, evt.CorrelationID)
			return
		}
		d.logger.Error("execution create failed: rule=%s correlation=%s err=%v",
			rule.Name, evt.CorrelationID, err)
		return
	}
	d.logger.Debug("execution enqueued: rule=%s correlation=%s", rule.Name, evt.CorrelationID)
	if d.notifier != nil {
		d.notifier.Notify()
	}
}
