// Package executor runs claimed executions through their rule's action
// pipeline: one suspension point per action invocation, every transition
// persisted before the next action starts, retries resumed at the cursor and
// never before it.
package executor

import (
	"context"
	stderrors "errors"
	"time"

	automation "github.com/goliatone/go-automation"
	"github.com/goliatone/go-automation/action"
	"github.com/goliatone/go-automation/store"
)

// RuleSource resolves the immutable rule a persisted execution references.
type RuleSource interface {
	Rule(name string) (automation.RuleDefinition, bool)
}

// HandlerSource resolves registered action handlers by id.
type HandlerSource interface {
	Lookup(id string) (action.Handler, bool)
}

// Executor drives one execution at a time: claim, run actions under the
// remaining budget, retry, escalate, finish.
type Executor struct {
	rules    RuleSource
	handlers HandlerSource
	store    store.ExecutionStore
	logger   automation.Logger
	now      func() time.Time
	sleep    func(ctx context.Context, d time.Duration) error
}

// Option configures an Executor.
type Option func(*Executor)

// WithLogger sets the executor logger.
func WithLogger(logger automation.Logger) Option {
	return func(e *Executor) {
		e.logger = logger
	}
}

// WithClock injects the time source.
func WithClock(now func() time.Time) Option {
	return func(e *Executor) {
		if now != nil {
			e.now = now
		}
	}
}

// WithSleeper injects the backoff wait, useful to make retry tests immediate.
func WithSleeper(sleep func(ctx context.Context, d time.Duration) error) Option {
	return func(e *Executor) {
		if sleep != nil {
			e.sleep = sleep
		}
	}
}

// New wires an executor over its collaborators.
func New(rules RuleSource, handlers HandlerSource, st store.ExecutionStore, opts ...Option) *Executor {
	e := &Executor{
		rules:    rules,
		handlers: handlers,
		store:    st,
		now:      time.Now,
		sleep:    sleepContext,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(e)
		}
	}
	e.logger = automation.NormalizeLogger(e.logger)
	return e
}

// RunExecution claims and runs one execution to a terminal status. A lost
// claim returns (nil, nil); a duplicate-suppressed execution returns the
// Skipped row. Context cancellation leaves the row Running for stale-claim
// recovery.
func (e *Executor) RunExecution(ctx context.Context, id string) (*automation.Execution, error) {
	exec, err := e.store.Claim(ctx, id)
	if err != nil {
		if automation.IsConflict(err) && exec != nil {
			e.logger.Info("execution skipped, concurrent run for pair: rule=%s correlation=%s id=%s",
				exec.Rule, exec.CorrelationID, exec.ID)
			return exec, nil
		}
		if automation.IsConflict(err) {
			return nil, nil
		}
		return nil, err
	}

	rule, ok := e.rules.Rule(exec.Rule)
	if !ok {
		e.logger.Error("execution references unknown rule, failing: rule=%s id=%s", exec.Rule, exec.ID)
		if err := e.store.MarkTerminal(ctx, exec.ID, automation.StatusFailed); err != nil {
			return nil, err
		}
		exec.Status = automation.StatusFailed
		return exec, nil
	}

	return e.run(ctx, exec, rule)
}

func (e *Executor) run(ctx context.Context, exec *automation.Execution, rule automation.RuleDefinition) (*automation.Execution, error) {
	deadline := exec.CreatedAt.Add(rule.Timeout)
	strategy := StrategyFor(rule.Retry)
	log := automation.WithLoggerFields(e.logger, map[string]any{
		"rule":           rule.Name,
		"correlation_id": exec.CorrelationID,
		"execution_id":   exec.ID,
	})

	// a crash between persisting the escalation outcome and the terminal
	// transition leaves a Running row whose history already records the
	// escalation; re-running it would invoke the escalation a second time
	if rule.Escalation != "" && exec.Invocations(len(rule.Actions)) > 0 {
		if err := e.store.MarkTerminal(ctx, exec.ID, automation.StatusEscalated); err != nil {
			return nil, err
		}
		exec.Status = automation.StatusEscalated
		log.Warn("execution escalated: escalation=%s", rule.Escalation)
		return exec, nil
	}

	cursor := exec.ActionCursor
	attempt := exec.Attempt

	for cursor < len(rule.Actions) {
		if err := ctx.Err(); err != nil {
			// shutdown mid-sequence: leave the row Running, stale-claim
			// recovery resumes it at the persisted cursor
			return nil, err
		}

		outcome := e.invoke(ctx, exec, rule, cursor, attempt, deadline)
		if outcome.Result == automation.ResultSuccess {
			cursor++
			attempt = 0
			if err := e.store.AppendOutcome(ctx, exec.ID, outcome, cursor, attempt); err != nil {
				return nil, err
			}
			continue
		}

		log.Warn("action attempt failed: action=%s index=%d attempt=%d result=%s err=%s",
			rule.Actions[cursor].ID, cursor, attempt, outcome.Result, outcome.Error)

		if attempt < rule.Retry.MaxRetries {
			next := attempt + 1
			delay := strategy.SleepDuration(next, nil)
			if err := e.store.AppendOutcome(ctx, exec.ID, outcome, cursor, next); err != nil {
				return nil, err
			}
			// a backoff that cannot fit the remaining budget means the retry
			// could never run; stop early instead of sleeping past the limit
			if remaining := deadline.Sub(e.now()); delay >= remaining {
				log.Warn("backoff exceeds remaining budget, stopping retries: delay=%s remaining=%s",
					delay, remaining)
				return e.finishExhausted(ctx, exec, rule, cursor, log)
			}
			if err := e.sleep(ctx, delay); err != nil {
				return nil, err
			}
			attempt = next
			continue
		}

		if err := e.store.AppendOutcome(ctx, exec.ID, outcome, cursor, attempt); err != nil {
			return nil, err
		}
		return e.finishExhausted(ctx, exec, rule, cursor, log)
	}

	if err := e.store.MarkTerminal(ctx, exec.ID, automation.StatusSucceeded); err != nil {
		return nil, err
	}
	exec.Status = automation.StatusSucceeded
	exec.ActionCursor = cursor
	log.Info("execution succeeded: actions=%d", len(rule.Actions))
	return exec, nil
}

// finishExhausted applies the escalation decision after retries are spent.
// The escalation action runs exactly once, best-effort: its own failure is
// logged and recorded but never retried.
func (e *Executor) finishExhausted(ctx context.Context, exec *automation.Execution, rule automation.RuleDefinition, cursor int, log automation.Logger) (*automation.Execution, error) {
	if rule.Escalation == "" {
		if err := e.store.MarkTerminal(ctx, exec.ID, automation.StatusFailed); err != nil {
			return nil, err
		}
		exec.Status = automation.StatusFailed
		log.Warn("execution failed, no escalation declared")
		return exec, nil
	}

	// the sequence budget is spent by definition here, so the terminal
	// escalation gets one fresh timeout of its own
	escalationDeadline := e.now().Add(rule.Timeout)
	outcome := e.invokeAction(ctx, exec, rule, invocationSpec{
		actionID:    rule.Escalation,
		actionIndex: len(rule.Actions),
		attempt:     0,
	}, escalationDeadline)
	// the persisted attempt counter stays at the exhausted value so a row
	// resumed after a crash here never re-enters the retry loop
	if err := e.store.AppendOutcome(ctx, exec.ID, outcome, cursor, rule.Retry.MaxRetries); err != nil {
		return nil, err
	}
	if outcome.Result != automation.ResultSuccess {
		log.Error("escalation action failed: action=%s result=%s err=%s",
			rule.Escalation, outcome.Result, outcome.Error)
	}

	if err := e.store.MarkTerminal(ctx, exec.ID, automation.StatusEscalated); err != nil {
		return nil, err
	}
	exec.Status = automation.StatusEscalated
	log.Warn("execution escalated: escalation=%s", rule.Escalation)
	return exec, nil
}

type invocationSpec struct {
	actionID    string
	actionIndex int
	attempt     int
	params      map[string]any
}

func (e *Executor) invoke(ctx context.Context, exec *automation.Execution, rule automation.RuleDefinition, cursor, attempt int, deadline time.Time) automation.ActionOutcome {
	ref := rule.Actions[cursor]
	return e.invokeAction(ctx, exec, rule, invocationSpec{
		actionID:    ref.ID,
		actionIndex: cursor,
		attempt:     attempt,
		params:      ref.Params,
	}, deadline)
}

// invokeAction is the engine's only suspension point. The handler runs under
// a deadline carved from the remaining budget; when it elapses the attempt is
// recorded as Timeout even if the underlying call eventually returns.
func (e *Executor) invokeAction(ctx context.Context, exec *automation.Execution, rule automation.RuleDefinition, spec invocationSpec, deadline time.Time) automation.ActionOutcome {
	started := e.now().UTC()
	outcome := automation.ActionOutcome{
		ActionIndex: spec.actionIndex,
		Attempt:     spec.attempt,
		StartedAt:   started,
	}

	if !deadline.After(started) {
		outcome.Result = automation.ResultTimeout
		outcome.Error = "execution budget exhausted"
		outcome.FinishedAt = started
		return outcome
	}

	handler, ok := e.handlers.Lookup(spec.actionID)
	if !ok {
		// load-time validation makes this unreachable unless handlers were
		// deregistered at runtime
		outcome.Result = automation.ResultFailure
		outcome.Error = "action handler not registered: " + spec.actionID
		outcome.FinishedAt = e.now().UTC()
		return outcome
	}

	actx, cancel := context.WithDeadline(ctx, deadline)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- handler.Execute(actx, action.Invocation{
			Rule:          rule.Name,
			CorrelationID: exec.CorrelationID,
			ActionID:      spec.actionID,
			ActionIndex:   spec.actionIndex,
			Attempt:       spec.attempt,
			Params:        spec.params,
			Snapshot:      exec.Snapshot,
		})
	}()

	select {
	case err := <-done:
		outcome.FinishedAt = e.now().UTC()
		switch {
		case err == nil:
			outcome.Result = automation.ResultSuccess
		case stderrors.Is(err, context.DeadlineExceeded):
			outcome.Result = automation.ResultTimeout
			outcome.Error = err.Error()
		default:
			outcome.Result = automation.ResultFailure
			outcome.Error = err.Error()
		}
	case <-actx.Done():
		// the handler keeps running in its goroutine but the engine has
		// moved on; the attempt is a timeout regardless of its eventual fate
		outcome.FinishedAt = e.now().UTC()
		outcome.Result = automation.ResultTimeout
		outcome.Error = actx.Err().Error()
	}
	return outcome
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
