package store

import (
	"context"
	"sort"
	"sync"
	"time"

	automation "github.com/goliatone/go-automation"
	"github.com/google/uuid"
)

// InMemoryStore is a mutex-guarded execution store for tests and single
// process embedding.
type InMemoryStore struct {
	mu       sync.Mutex
	execs    map[string]*automation.Execution
	order    []string
	claimTTL time.Duration
	now      func() time.Time
}

// MemoryOption configures an InMemoryStore.
type MemoryOption func(*InMemoryStore)

// WithClaimTTL overrides the stale-claim threshold.
func WithClaimTTL(ttl time.Duration) MemoryOption {
	return func(s *InMemoryStore) {
		if ttl > 0 {
			s.claimTTL = ttl
		}
	}
}

// WithClock injects the time source.
func WithClock(now func() time.Time) MemoryOption {
	return func(s *InMemoryStore) {
		if now != nil {
			s.now = now
		}
	}
}

// NewInMemoryStore constructs an empty store.
func NewInMemoryStore(opts ...MemoryOption) *InMemoryStore {
	s := &InMemoryStore{
		execs:    make(map[string]*automation.Execution),
		claimTTL: DefaultClaimTTL,
		now:      time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

// Create implements ExecutionStore.
func (s *InMemoryStore) Create(_ context.Context, exec *automation.Execution) (*automation.Execution, error) {
	if exec == nil || exec.Rule == "" || exec.CorrelationID == "" {
		return nil, automation.NewRuleError("", "execution requires rule and correlation id", nil)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	row := exec.Clone()
	if row.ID == "" {
		row.ID = uuid.NewString()
	}
	now := s.now().UTC()
	if row.CreatedAt.IsZero() {
		row.CreatedAt = now
	}
	row.LastTransitionAt = now
	row.Status = automation.StatusPending

	if active := s.activeForPairLocked(row.Rule, row.CorrelationID, row.ID); active != nil {
		row.Status = automation.StatusSkipped
		s.insertLocked(row)
		return row.Clone(), conflictError(row.Rule, row.CorrelationID, active.ID)
	}

	s.insertLocked(row)
	return row.Clone(), nil
}

// Claim implements ExecutionStore.
func (s *InMemoryStore) Claim(_ context.Context, id string) (*automation.Execution, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	row, ok := s.execs[id]
	if !ok {
		return nil, notFoundError(id)
	}
	now := s.now().UTC()

	claimable := row.Status == automation.StatusPending ||
		(row.Status == automation.StatusRunning && now.Sub(row.LastTransitionAt) >= s.claimTTL)
	if !claimable {
		err := automation.ErrStoreConflict.Clone()
		return nil, err.WithMetadata(map[string]any{
			"execution_id": id,
			"status":       string(row.Status),
		})
	}

	if active := s.runningForPairLocked(row.Rule, row.CorrelationID, row.ID, now); active != nil {
		row.Status = automation.StatusSkipped
		row.LastTransitionAt = now
		return row.Clone(), conflictError(row.Rule, row.CorrelationID, active.ID)
	}

	row.Status = automation.StatusRunning
	row.LastTransitionAt = now
	return row.Clone(), nil
}

// AppendOutcome implements ExecutionStore.
func (s *InMemoryStore) AppendOutcome(_ context.Context, id string, outcome automation.ActionOutcome, cursor, attempt int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	row, ok := s.execs[id]
	if !ok {
		return notFoundError(id)
	}
	if row.Status.Terminal() {
		err := automation.ErrStoreConflict.Clone()
		return err.WithMetadata(map[string]any{
			"execution_id": id,
			"status":       string(row.Status),
		})
	}
	row.History = append(row.History, outcome)
	row.ActionCursor = cursor
	row.Attempt = attempt
	row.LastTransitionAt = s.now().UTC()
	return nil
}

// MarkTerminal implements ExecutionStore.
func (s *InMemoryStore) MarkTerminal(_ context.Context, id string, status automation.Status) error {
	if !status.Terminal() {
		return automation.NewRuleError("", "status is not terminal", map[string]any{
			"status": string(status),
		})
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	row, ok := s.execs[id]
	if !ok {
		return notFoundError(id)
	}
	if row.Status.Terminal() {
		err := automation.ErrStoreConflict.Clone()
		return err.WithMetadata(map[string]any{
			"execution_id": id,
			"status":       string(row.Status),
		})
	}
	row.Status = status
	row.LastTransitionAt = s.now().UTC()
	return nil
}

// ListRunnable implements ExecutionStore.
func (s *InMemoryStore) ListRunnable(_ context.Context, limit int) ([]*automation.Execution, error) {
	if limit <= 0 {
		limit = 100
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now().UTC()
	var out []*automation.Execution
	for _, id := range s.order {
		row := s.execs[id]
		if isRunnable(row, now, s.claimTTL) {
			out = append(out, row.Clone())
			if len(out) >= limit {
				break
			}
		}
	}
	return out, nil
}

// Get implements ExecutionStore.
func (s *InMemoryStore) Get(_ context.Context, id string) (*automation.Execution, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	row, ok := s.execs[id]
	if !ok {
		return nil, notFoundError(id)
	}
	return row.Clone(), nil
}

// History implements ExecutionStore.
func (s *InMemoryStore) History(_ context.Context, rule, correlationID string) ([]*automation.Execution, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*automation.Execution
	for _, id := range s.order {
		row := s.execs[id]
		if row.Rule == rule && row.CorrelationID == correlationID {
			out = append(out, row.Clone())
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

// ListByStatus implements ExecutionStore.
func (s *InMemoryStore) ListByStatus(_ context.Context, status automation.Status, limit int) ([]*automation.Execution, error) {
	if limit <= 0 {
		limit = 100
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*automation.Execution
	for _, id := range s.order {
		row := s.execs[id]
		if row.Status == status {
			out = append(out, row.Clone())
			if len(out) >= limit {
				break
			}
		}
	}
	return out, nil
}

func (s *InMemoryStore) insertLocked(row *automation.Execution) {
	s.execs[row.ID] = row
	s.order = append(s.order, row.ID)
}

func (s *InMemoryStore) activeForPairLocked(rule, correlationID, excludeID string) *automation.Execution {
	for _, id := range s.order {
		row := s.execs[id]
		if row.ID == excludeID {
			continue
		}
		if row.Rule == rule && row.CorrelationID == correlationID && !row.Status.Terminal() {
			return row
		}
	}
	return nil
}

func (s *InMemoryStore) runningForPairLocked(rule, correlationID, excludeID string, now time.Time) *automation.Execution {
	for _, id := range s.order {
		row := s.execs[id]
		if row.ID == excludeID {
			continue
		}
		if row.Rule != rule || row.CorrelationID != correlationID {
			continue
		}
		if row.Status == automation.StatusRunning && now.Sub(row.LastTransitionAt) < s.claimTTL {
			return row
		}
	}
	return nil
}

func isRunnable(row *automation.Execution, now time.Time, claimTTL time.Duration) bool {
	switch row.Status {
	case automation.StatusPending:
		return true
	case automation.StatusRunning:
		return now.Sub(row.LastTransitionAt) >= claimTTL
	}
	return false
}

func conflictError(rule, correlationID, activeID string) error {
	err := automation.ErrExecutionConflict.Clone()
	return err.WithMetadata(map[string]any{
		"rule":           rule,
		"correlation_id": correlationID,
		"active_id":      activeID,
	})
}

func notFoundError(id string) error {
	err := automation.ErrStoreConflict.Clone()
	err.Message = "execution not found"
	return err.WithMetadata(map[string]any{
		"execution_id": id,
	})
}
