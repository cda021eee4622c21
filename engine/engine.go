// Package engine assembles the automation runtime: rule registry, action
// registry, execution store, dispatcher, executor pool, and cron clock, with
// a single Start/Stop lifecycle.
package engine

import (
	"context"
	"time"

	automation "github.com/goliatone/go-automation"
	"github.com/goliatone/go-automation/action"
	"github.com/goliatone/go-automation/dispatch"
	"github.com/goliatone/go-automation/executor"
	"github.com/goliatone/go-automation/registry"
	"github.com/goliatone/go-automation/schedule"
	"github.com/goliatone/go-automation/store"
)

// Engine is the assembled automation runtime.
type Engine struct {
	logger   automation.Logger
	rules    *registry.Registry
	actions  *action.Registry
	store    store.ExecutionStore
	disp     *dispatch.Dispatcher
	pool     *executor.Pool
	clock    *schedule.Clock
	location *time.Location

	workers      int
	pollInterval time.Duration
	querier      dispatch.EntityQuerier
	snapshots    dispatch.SnapshotSource
}

// Option configures the engine before wiring.
type Option func(*Engine)

// WithLogger sets the logger shared by every stage.
func WithLogger(logger automation.Logger) Option {
	return func(e *Engine) {
		e.logger = logger
	}
}

// WithStore sets the execution store; defaults to in-memory.
func WithStore(st store.ExecutionStore) Option {
	return func(e *Engine) {
		if st != nil {
			e.store = st
		}
	}
}

// WithWorkers sets the executor pool size.
func WithWorkers(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.workers = n
		}
	}
}

// WithPollInterval sets the executor polling cadence.
func WithPollInterval(d time.Duration) Option {
	return func(e *Engine) {
		if d > 0 {
			e.pollInterval = d
		}
	}
}

// WithEntityQuerier wires the cron fan-out query collaborator.
func WithEntityQuerier(q dispatch.EntityQuerier) Option {
	return func(e *Engine) {
		e.querier = q
	}
}

// WithSnapshotSource wires the delayed-dispatch snapshot re-fetch.
func WithSnapshotSource(src dispatch.SnapshotSource) Option {
	return func(e *Engine) {
		e.snapshots = src
	}
}

// WithLocation sets the timezone for cron expressions.
func WithLocation(loc *time.Location) Option {
	return func(e *Engine) {
		if loc != nil {
			e.location = loc
		}
	}
}

// New builds a stopped engine. Register action handlers, then LoadRules, then
// Start.
func New(opts ...Option) *Engine {
	e := &Engine{
		workers:      4,
		pollInterval: 250 * time.Millisecond,
		location:     time.Local,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(e)
		}
	}
	e.logger = automation.NormalizeLogger(e.logger)
	if e.store == nil {
		e.store = store.NewInMemoryStore()
	}

	e.actions = action.NewRegistry()
	e.rules = registry.New(registry.WithLogger(e.logger))

	exec := executor.New(e.rules, e.actions, e.store, executor.WithLogger(e.logger))
	e.pool = executor.NewPool(exec, e.store,
		executor.WithWorkers(e.workers),
		executor.WithPollInterval(e.pollInterval),
		executor.WithPoolLogger(e.logger),
	)

	dispatchOpts := []dispatch.Option{
		dispatch.WithLogger(e.logger),
		dispatch.WithNotifier(e.pool),
	}
	if e.querier != nil {
		dispatchOpts = append(dispatchOpts, dispatch.WithEntityQuerier(e.querier))
	}
	if e.snapshots != nil {
		dispatchOpts = append(dispatchOpts, dispatch.WithSnapshotSource(e.snapshots))
	}
	e.disp = dispatch.New(e.rules, e.store, dispatchOpts...)

	e.clock = schedule.New(e.disp,
		schedule.WithLogger(e.logger),
		schedule.WithLocation(e.location),
	)
	return e
}

// Actions exposes the handler registry for startup registration.
func (e *Engine) Actions() *action.Registry {
	return e.actions
}

// Rules exposes the rule registry.
func (e *Engine) Rules() *registry.Registry {
	return e.rules
}

// Store exposes the execution store for auditing.
func (e *Engine) Store() store.ExecutionStore {
	return e.store
}

// LoadRules parses and installs a rule document, validating action references
// against the registered handlers, and re-registers cron triggers. Per-rule
// failures are returned; they never block the valid rules.
func (e *Engine) LoadRules(data []byte) ([]registry.Rejected, error) {
	rejected, err := e.rules.Load(data, e.actions)
	if err != nil {
		return nil, err
	}
	e.clock.Reset()
	for _, regErr := range e.clock.RegisterFromSet(e.rules.Current()) {
		e.logger.Warn("cron registration: err=%v", regErr)
	}
	return rejected, nil
}

// Submit is the domain event ingress.
func (e *Engine) Submit(ctx context.Context, evt automation.TriggerEvent) error {
	return e.disp.Submit(ctx, evt)
}

// Tick is the manual cron ingress, used by tests and backfills.
func (e *Engine) Tick(ctx context.Context, triggerType string, at time.Time) error {
	return e.disp.Tick(ctx, triggerType, at)
}

// Dispatcher exposes the dispatch stage.
func (e *Engine) Dispatcher() *dispatch.Dispatcher {
	return e.disp
}

// Pool exposes the executor pool.
func (e *Engine) Pool() *executor.Pool {
	return e.pool
}

// Start launches the executor pool and the cron clock.
func (e *Engine) Start(ctx context.Context) error {
	if err := e.pool.Start(ctx); err != nil {
		return err
	}
	if err := e.clock.Start(ctx); err != nil {
		return err
	}
	e.logger.Info("automation engine started: rules=%d workers=%d",
		e.rules.Current().Len(), e.workers)
	return nil
}

// Stop halts intake and waits for workers to settle.
func (e *Engine) Stop(ctx context.Context) error {
	if err := e.clock.Stop(ctx); err != nil {
		return err
	}
	e.disp.Stop()
	return e.pool.Stop(ctx)
}
