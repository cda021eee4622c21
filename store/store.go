// Package store persists rule executions: the durable record of in-flight and
// historical runs keyed by (rule, correlation id), with an append-only outcome
// log. The claim step is the engine's only cross-worker synchronization point.
package store

import (
	"context"
	"time"

	automation "github.com/goliatone/go-automation"
)

// DefaultClaimTTL bounds how long a Running row can sit without a transition
// before another worker may re-claim it (crash recovery).
const DefaultClaimTTL = 2 * time.Minute

// ExecutionStore is the durable execution contract shared by the dispatcher
// and the executor workers.
type ExecutionStore interface {
	// Create inserts a Pending execution. When a non-terminal execution
	// already exists for the same (rule, correlation id) pair the row is
	// persisted as Skipped instead and ErrExecutionConflict is returned along
	// with the stored row.
	Create(ctx context.Context, exec *automation.Execution) (*automation.Execution, error)

	// Claim atomically transitions Pending to Running, or re-claims a Running
	// row abandoned past the claim TTL. The returned row carries its outcome
	// history so resume decisions need no second read. A lost race returns
	// ErrStoreConflict; a concurrent Running execution for the same pair
	// marks this row Skipped and returns ErrExecutionConflict.
	Claim(ctx context.Context, id string) (*automation.Execution, error)

	// AppendOutcome persists one attempt outcome together with the resulting
	// cursor and attempt counter, before the executor moves on.
	AppendOutcome(ctx context.Context, id string, outcome automation.ActionOutcome, cursor, attempt int) error

	// MarkTerminal moves a non-terminal execution into a terminal status.
	// Terminal rows are immutable; violating that returns ErrStoreConflict.
	MarkTerminal(ctx context.Context, id string, status automation.Status) error

	// ListRunnable returns claimable work in creation order: Pending rows and
	// Running rows stale past the claim TTL.
	ListRunnable(ctx context.Context, limit int) ([]*automation.Execution, error)

	// Get returns one execution with its full history.
	Get(ctx context.Context, id string) (*automation.Execution, error)

	// History returns every execution recorded for a pair, oldest first.
	History(ctx context.Context, rule, correlationID string) ([]*automation.Execution, error)

	// ListByStatus returns executions in a given status, oldest first.
	ListByStatus(ctx context.Context, status automation.Status, limit int) ([]*automation.Execution, error)
}
