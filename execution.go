package automation

import "time"

// Status is the execution lifecycle state.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
	StatusEscalated Status = "escalated"
	StatusSkipped   Status = "skipped"
)

// Terminal reports whether the status is immutable.
func (s Status) Terminal() bool {
	switch s {
	case StatusSucceeded, StatusFailed, StatusEscalated, StatusSkipped:
		return true
	}
	return false
}

// Result classifies one action invocation attempt.
type Result string

const (
	ResultSuccess Result = "success"
	ResultFailure Result = "failure"
	ResultTimeout Result = "timeout"
)

// ActionOutcome is one append-only history row for an action attempt.
type ActionOutcome struct {
	ActionIndex int
	Attempt     int
	Result      Result
	Error       string
	StartedAt   time.Time
	FinishedAt  time.Time
}

// Execution is one runtime instance of a rule reacting to one correlated
// entity. ActionCursor is the index of the next action to run; Attempt counts
// retries of the action at the current cursor and resets when it advances.
type Execution struct {
	ID               string
	Rule             string
	CorrelationID    string
	Status           Status
	ActionCursor     int
	Attempt          int
	Snapshot         Snapshot
	CreatedAt        time.Time
	LastTransitionAt time.Time
	History          []ActionOutcome
}

// Clone returns a deep enough copy for handing across goroutines.
func (e *Execution) Clone() *Execution {
	if e == nil {
		return nil
	}
	cp := *e
	cp.Snapshot = e.Snapshot.Clone()
	if len(e.History) > 0 {
		cp.History = make([]ActionOutcome, len(e.History))
		copy(cp.History, e.History)
	}
	return &cp
}

// Invocations counts recorded attempts for one action index.
func (e *Execution) Invocations(actionIndex int) int {
	if e == nil {
		return 0
	}
	n := 0
	for _, outcome := range e.History {
		if outcome.ActionIndex == actionIndex {
			n++
		}
	}
	return n
}
