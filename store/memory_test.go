package store

import (
	"context"
	"testing"
	"time"

	automation "github.com/goliatone/go-automation"
)

type fakeClock struct {
	t time.Time
}

func (c *fakeClock) Now() time.Time          { return c.t }
func (c *fakeClock) Advance(d time.Duration) { c.t = c.t.Add(d) }

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)}
}

func newExec(rule, correlationID string) *automation.Execution {
	return &automation.Execution{
		Rule:          rule,
		CorrelationID: correlationID,
		Snapshot:      automation.Snapshot{"status": "pending"},
	}
}

func TestMemoryCreateAssignsIdentity(t *testing.T) {
	s := NewInMemoryStore()
	ctx := context.Background()

	row, err := s.Create(ctx, newExec("automaticPayment", "booking-1"))
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if row.ID == "" {
		t.Fatalf("expected generated id")
	}
	if row.Status != automation.StatusPending {
		t.Fatalf("expected pending, got %s", row.Status)
	}
	if row.CreatedAt.IsZero() || row.LastTransitionAt.IsZero() {
		t.Fatalf("timestamps not set: %+v", row)
	}
}

func TestMemoryCreateSuppressesDuplicatePair(t *testing.T) {
	s := NewInMemoryStore()
	ctx := context.Background()

	first, err := s.Create(ctx, newExec("automaticPayment", "booking-1"))
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	dup, err := s.Create(ctx, newExec("automaticPayment", "booking-1"))
	if err == nil {
		t.Fatalf("expected conflict for duplicate pair")
	}
	if !automation.IsConflict(err) {
		t.Fatalf("expected conflict classification, got %v", err)
	}
	if dup == nil || dup.Status != automation.StatusSkipped {
		t.Fatalf("duplicate should be persisted as skipped, got %+v", dup)
	}

	// a different correlation id is a separate pair
	if _, err := s.Create(ctx, newExec("automaticPayment", "booking-2")); err != nil {
		t.Fatalf("different pair should not conflict: %v", err)
	}

	history, err := s.History(ctx, "automaticPayment", "booking-1")
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(history) != 2 {
		t.Fatalf("expected both rows audited, got %d", len(history))
	}
	if history[0].ID != first.ID {
		t.Fatalf("expected original row first")
	}
}

func TestMemoryCreateAllowsNewRunAfterTerminal(t *testing.T) {
	s := NewInMemoryStore()
	ctx := context.Background()

	first, _ := s.Create(ctx, newExec("automaticPayment", "booking-1"))
	if _, err := s.Claim(ctx, first.ID); err != nil {
		t.Fatalf("claim: %v", err)
	}
	if err := s.MarkTerminal(ctx, first.ID, automation.StatusSucceeded); err != nil {
		t.Fatalf("mark terminal: %v", err)
	}

	if _, err := s.Create(ctx, newExec("automaticPayment", "booking-1")); err != nil {
		t.Fatalf("terminal history should not block a fresh trigger: %v", err)
	}
}

func TestMemoryClaimTransitions(t *testing.T) {
	s := NewInMemoryStore()
	ctx := context.Background()

	row, _ := s.Create(ctx, newExec("automaticPayment", "booking-1"))
	claimed, err := s.Claim(ctx, row.ID)
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if claimed.Status != automation.StatusRunning {
		t.Fatalf("expected running, got %s", claimed.Status)
	}

	// second claim races and loses
	if _, err := s.Claim(ctx, row.ID); err == nil {
		t.Fatalf("expected lost-claim conflict")
	} else if !automation.IsConflict(err) {
		t.Fatalf("expected conflict classification, got %v", err)
	}
}

func TestMemoryClaimReclaimsStaleRunning(t *testing.T) {
	clock := newFakeClock()
	s := NewInMemoryStore(WithClock(clock.Now), WithClaimTTL(time.Minute))
	ctx := context.Background()

	row, _ := s.Create(ctx, newExec("automaticPayment", "booking-1"))
	if _, err := s.Claim(ctx, row.ID); err != nil {
		t.Fatalf("claim: %v", err)
	}

	clock.Advance(30 * time.Second)
	if _, err := s.Claim(ctx, row.ID); err == nil {
		t.Fatalf("fresh running row must not be re-claimable")
	}

	clock.Advance(31 * time.Second)
	claimed, err := s.Claim(ctx, row.ID)
	if err != nil {
		t.Fatalf("stale running row should be re-claimable: %v", err)
	}
	if claimed.Status != automation.StatusRunning {
		t.Fatalf("expected running, got %s", claimed.Status)
	}
}

func TestMemorySurvivorClaimableAfterSuppression(t *testing.T) {
	s := NewInMemoryStore()
	ctx := context.Background()

	first, _ := s.Create(ctx, newExec("automaticPayment", "booking-1"))
	if _, err := s.Claim(ctx, first.ID); err != nil {
		t.Fatalf("claim first: %v", err)
	}
	if err := s.MarkTerminal(ctx, first.ID, automation.StatusFailed); err != nil {
		t.Fatalf("terminal: %v", err)
	}

	// two fresh rows for the pair race each other
	a, _ := s.Create(ctx, newExec("automaticPayment", "booking-1"))
	b, err := s.Create(ctx, newExec("automaticPayment", "booking-1"))
	if err == nil {
		t.Fatalf("expected duplicate suppression")
	}
	_ = b

	if _, err := s.Claim(ctx, a.ID); err != nil {
		t.Fatalf("claim survivor: %v", err)
	}
}

func TestMemoryAppendOutcomeAdvancesProgress(t *testing.T) {
	s := NewInMemoryStore()
	ctx := context.Background()

	row, _ := s.Create(ctx, newExec("automaticPayment", "booking-1"))
	if _, err := s.Claim(ctx, row.ID); err != nil {
		t.Fatalf("claim: %v", err)
	}

	outcome := automation.ActionOutcome{ActionIndex: 0, Attempt: 0, Result: automation.ResultFailure, Error: "gateway timeout"}
	if err := s.AppendOutcome(ctx, row.ID, outcome, 0, 1); err != nil {
		t.Fatalf("append: %v", err)
	}

	got, err := s.Get(ctx, row.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.ActionCursor != 0 || got.Attempt != 1 {
		t.Fatalf("progress not persisted: cursor=%d attempt=%d", got.ActionCursor, got.Attempt)
	}
	if len(got.History) != 1 || got.History[0].Error != "gateway timeout" {
		t.Fatalf("history not recorded: %+v", got.History)
	}
}

func TestMemoryTerminalRowsAreImmutable(t *testing.T) {
	s := NewInMemoryStore()
	ctx := context.Background()

	row, _ := s.Create(ctx, newExec("automaticPayment", "booking-1"))
	if _, err := s.Claim(ctx, row.ID); err != nil {
		t.Fatalf("claim: %v", err)
	}
	if err := s.MarkTerminal(ctx, row.ID, automation.StatusSucceeded); err != nil {
		t.Fatalf("terminal: %v", err)
	}

	if err := s.MarkTerminal(ctx, row.ID, automation.StatusFailed); err == nil {
		t.Fatalf("expected terminal immutability violation")
	}
	if err := s.AppendOutcome(ctx, row.ID, automation.ActionOutcome{}, 1, 0); err == nil {
		t.Fatalf("expected append to terminal row to fail")
	}
	if _, err := s.Claim(ctx, row.ID); err == nil {
		t.Fatalf("expected claim of terminal row to fail")
	}
}

func TestMemoryMarkTerminalRejectsNonTerminalStatus(t *testing.T) {
	s := NewInMemoryStore()
	ctx := context.Background()
	row, _ := s.Create(ctx, newExec("automaticPayment", "booking-1"))
	if err := s.MarkTerminal(ctx, row.ID, automation.StatusRunning); err == nil {
		t.Fatalf("expected non-terminal status to be rejected")
	}
}

func TestMemoryListRunnable(t *testing.T) {
	clock := newFakeClock()
	s := NewInMemoryStore(WithClock(clock.Now), WithClaimTTL(time.Minute))
	ctx := context.Background()

	a, _ := s.Create(ctx, newExec("ruleA", "c-1"))
	b, _ := s.Create(ctx, newExec("ruleB", "c-2"))
	c, _ := s.Create(ctx, newExec("ruleC", "c-3"))

	if _, err := s.Claim(ctx, b.ID); err != nil {
		t.Fatalf("claim: %v", err)
	}
	if _, err := s.Claim(ctx, c.ID); err != nil {
		t.Fatalf("claim: %v", err)
	}
	if err := s.MarkTerminal(ctx, c.ID, automation.StatusSucceeded); err != nil {
		t.Fatalf("terminal: %v", err)
	}

	runnable, err := s.ListRunnable(ctx, 10)
	if err != nil {
		t.Fatalf("list runnable: %v", err)
	}
	if len(runnable) != 1 || runnable[0].ID != a.ID {
		t.Fatalf("expected only the pending row, got %+v", runnable)
	}

	// b goes stale and becomes runnable again
	clock.Advance(2 * time.Minute)
	runnable, err = s.ListRunnable(ctx, 10)
	if err != nil {
		t.Fatalf("list runnable: %v", err)
	}
	if len(runnable) != 2 {
		t.Fatalf("expected stale running row to be runnable, got %d", len(runnable))
	}
	if runnable[0].ID != a.ID || runnable[1].ID != b.ID {
		t.Fatalf("creation order not preserved: %v %v", runnable[0].ID, runnable[1].ID)
	}
}

func TestMemoryListByStatus(t *testing.T) {
	s := NewInMemoryStore()
	ctx := context.Background()

	a, _ := s.Create(ctx, newExec("ruleA", "c-1"))
	if _, err := s.Claim(ctx, a.ID); err != nil {
		t.Fatalf("claim: %v", err)
	}
	if err := s.MarkTerminal(ctx, a.ID, automation.StatusFailed); err != nil {
		t.Fatalf("terminal: %v", err)
	}
	s.Create(ctx, newExec("ruleB", "c-2"))

	failed, err := s.ListByStatus(ctx, automation.StatusFailed, 10)
	if err != nil {
		t.Fatalf("list by status: %v", err)
	}
	if len(failed) != 1 || failed[0].ID != a.ID {
		t.Fatalf("unexpected status listing: %+v", failed)
	}
}

func TestMemoryGetUnknownID(t *testing.T) {
	s := NewInMemoryStore()
	if _, err := s.Get(context.Background(), "nope"); err == nil {
		t.Fatalf("expected not-found error")
	}
}
