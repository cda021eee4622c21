package automation

import (
	"strings"
	"time"
)

// Operator is one of the closed set of condition comparisons a rule may use.
type Operator string

const (
	OpEq        Operator = "eq"
	OpNeq       Operator = "neq"
	OpIn        Operator = "in"
	OpIsNull    Operator = "is_null"
	OpIsNotNull Operator = "is_not_null"
	OpLt        Operator = "lt"
	OpLte       Operator = "lte"
	OpGt        Operator = "gt"
	OpGte       Operator = "gte"
)

// Valid reports whether the operator belongs to the supported set.
func (o Operator) Valid() bool {
	switch o {
	case OpEq, OpNeq, OpIn, OpIsNull, OpIsNotNull, OpLt, OpLte, OpGt, OpGte:
		return true
	}
	return false
}

// Clause is a single field constraint. All clauses of a rule are ANDed.
type Clause struct {
	Field string   `json:"field" yaml:"field"`
	Op    Operator `json:"op" yaml:"op"`
	Value any      `json:"value,omitempty" yaml:"value,omitempty"`
}

// ActionRef names one step of a rule's ordered action pipeline.
type ActionRef struct {
	ID     string         `json:"id" yaml:"id"`
	Params map[string]any `json:"params,omitempty" yaml:"params,omitempty"`
}

// BackoffKind selects the wait strategy between retry attempts.
type BackoffKind string

const (
	BackoffFixed       BackoffKind = "fixed"
	BackoffExponential BackoffKind = "exponential"
)

// RetryPolicy bounds how a failed action is retried.
type RetryPolicy struct {
	MaxRetries int           `json:"max_retries" yaml:"max_retries"`
	Backoff    BackoffKind   `json:"backoff,omitempty" yaml:"backoff,omitempty"`
	Base       time.Duration `json:"base,omitempty" yaml:"base,omitempty"`
}

// RuleDefinition is one immutable automation rule: trigger, condition filter,
// ordered actions, execution budget, retry policy, optional delay and
// escalation fallback.
type RuleDefinition struct {
	Name       string
	Trigger    string
	Conditions []Clause
	Actions    []ActionRef
	Timeout    time.Duration
	Retry      RetryPolicy
	Delay      time.Duration
	Escalation string
}

// CronTriggerPrefix marks trigger types driven by the cron clock rather than
// domain events.
const CronTriggerPrefix = "cron_"

// IsCron reports whether the rule fires on scheduler ticks.
func (r RuleDefinition) IsCron() bool {
	return strings.HasPrefix(r.Trigger, CronTriggerPrefix)
}

// Validate enforces the load-time contract for a single rule.
func (r RuleDefinition) Validate() error {
	if strings.TrimSpace(r.Name) == "" {
		return NewRuleError("", "rule name is required", nil)
	}
	if strings.TrimSpace(r.Trigger) == "" {
		return NewRuleError(r.Name, "trigger is required", nil)
	}
	if len(r.Actions) == 0 {
		return NewRuleError(r.Name, "rule requires at least one action", nil)
	}
	for idx, action := range r.Actions {
		if strings.TrimSpace(action.ID) == "" {
			return NewRuleError(r.Name, "action id is required", map[string]any{
				"action_index": idx,
			})
		}
	}
	if r.Timeout <= 0 {
		return NewRuleError(r.Name, "timeout must be positive", map[string]any{
			"timeout": r.Timeout.String(),
		})
	}
	if r.Retry.MaxRetries < 0 {
		return NewRuleError(r.Name, "max_retries cannot be negative", map[string]any{
			"max_retries": r.Retry.MaxRetries,
		})
	}
	switch r.Retry.Backoff {
	case "", BackoffFixed, BackoffExponential:
	default:
		return NewRuleError(r.Name, "unsupported backoff kind", map[string]any{
			"backoff": string(r.Retry.Backoff),
		})
	}
	if r.Delay < 0 {
		return NewRuleError(r.Name, "delay cannot be negative", nil)
	}
	for idx, clause := range r.Conditions {
		if strings.TrimSpace(clause.Field) == "" {
			return NewRuleError(r.Name, "condition field is required", map[string]any{
				"condition_index": idx,
			})
		}
		if !clause.Op.Valid() {
			return NewRuleError(r.Name, "unsupported condition operator", map[string]any{
				"condition_index": idx,
				"operator":        string(clause.Op),
			})
		}
	}
	return nil
}

// ActionIDs returns the ordered action ids including the escalation action.
func (r RuleDefinition) ActionIDs() []string {
	ids := make([]string, 0, len(r.Actions)+1)
	for _, action := range r.Actions {
		ids = append(ids, action.ID)
	}
	if r.Escalation != "" {
		ids = append(ids, r.Escalation)
	}
	return ids
}
