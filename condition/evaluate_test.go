package condition

import (
	"testing"
	"time"

	automation "github.com/goliatone/go-automation"
)

var evalAt = time.Date(2025, 3, 10, 14, 30, 0, 0, time.UTC)

func TestMatchesOperators(t *testing.T) {
	snapshot := automation.Snapshot{
		"status":        "confirmed",
		"paymentStatus": "unpaid",
		"amount":        150,
		"rating":        4.5,
		"hasReview":     false,
		"teamMember":    nil,
		"type":          "no_show",
		"customer": map[string]any{
			"tier": "premium",
		},
	}

	cases := []struct {
		name   string
		clause automation.Clause
		want   bool
	}{
		{"eq string", automation.Clause{Field: "status", Op: automation.OpEq, Value: "confirmed"}, true},
		{"eq string miss", automation.Clause{Field: "status", Op: automation.OpEq, Value: "pending"}, false},
		{"eq bool", automation.Clause{Field: "hasReview", Op: automation.OpEq, Value: false}, true},
		{"eq mixed numerics", automation.Clause{Field: "amount", Op: automation.OpEq, Value: float64(150)}, true},
		{"neq", automation.Clause{Field: "status", Op: automation.OpNeq, Value: "cancelled"}, true},
		{"in hit", automation.Clause{Field: "type", Op: automation.OpIn, Value: []any{"no_show", "quality_complaint"}}, true},
		{"in miss", automation.Clause{Field: "type", Op: automation.OpIn, Value: []any{"payment_issue"}}, false},
		{"lt", automation.Clause{Field: "amount", Op: automation.OpLt, Value: 200}, true},
		{"lte boundary", automation.Clause{Field: "amount", Op: automation.OpLte, Value: 150}, true},
		{"gt float", automation.Clause{Field: "rating", Op: automation.OpGt, Value: 4}, true},
		{"gte miss", automation.Clause{Field: "rating", Op: automation.OpGte, Value: 5}, false},
		{"is_null on nil", automation.Clause{Field: "teamMember", Op: automation.OpIsNull}, true},
		{"is_null on absent", automation.Clause{Field: "assignee", Op: automation.OpIsNull}, true},
		{"is_not_null on value", automation.Clause{Field: "status", Op: automation.OpIsNotNull}, true},
		{"is_not_null on absent", automation.Clause{Field: "assignee", Op: automation.OpIsNotNull}, false},
		{"nested path", automation.Clause{Field: "customer.tier", Op: automation.OpEq, Value: "premium"}, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := Matches([]automation.Clause{tc.clause}, snapshot, evalAt)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tc.want {
				t.Fatalf("expected %v, got %v", tc.want, got)
			}
		})
	}
}

func TestMatchesAndsClauses(t *testing.T) {
	snapshot := automation.Snapshot{"status": "pending", "paymentStatus": "unpaid"}
	clauses := []automation.Clause{
		{Field: "status", Op: automation.OpEq, Value: "pending"},
		{Field: "paymentStatus", Op: automation.OpEq, Value: "unpaid"},
	}
	got, err := Matches(clauses, snapshot, evalAt)
	if err != nil || !got {
		t.Fatalf("expected match, got %v err=%v", got, err)
	}

	clauses[1].Value = "paid"
	got, err = Matches(clauses, snapshot, evalAt)
	if err != nil || got {
		t.Fatalf("expected non-match, got %v err=%v", got, err)
	}
}

func TestMatchesEmptyClausesAlwaysTrue(t *testing.T) {
	got, err := Matches(nil, automation.Snapshot{}, evalAt)
	if err != nil || !got {
		t.Fatalf("unconditioned rule should match, got %v err=%v", got, err)
	}
}

func TestMatchesRelativeDates(t *testing.T) {
	tomorrow := evalAt.AddDate(0, 0, 1)

	cases := []struct {
		name  string
		value any
		want  bool
	}{
		{"rfc3339 tomorrow", tomorrow.Format(time.RFC3339), true},
		{"date-only tomorrow", tomorrow.Format("2006-01-02"), true},
		{"time.Time tomorrow", tomorrow, true},
		{"today is not tomorrow", evalAt.Format("2006-01-02"), false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			snapshot := automation.Snapshot{"bookingDate": tc.value}
			clause := automation.Clause{Field: "bookingDate", Op: automation.OpEq, Value: "tomorrow"}
			got, err := Matches([]automation.Clause{clause}, snapshot, evalAt)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tc.want {
				t.Fatalf("expected %v, got %v", tc.want, got)
			}
		})
	}
}

func TestMatchesDateOrdering(t *testing.T) {
	snapshot := automation.Snapshot{"bookingDate": evalAt.AddDate(0, 0, 3).Format("2006-01-02")}
	clause := automation.Clause{Field: "bookingDate", Op: automation.OpGt, Value: "tomorrow"}
	got, err := Matches([]automation.Clause{clause}, snapshot, evalAt)
	if err != nil || !got {
		t.Fatalf("expected date ordering match, got %v err=%v", got, err)
	}
}

func TestMatchesUnknownFieldPath(t *testing.T) {
	clause := automation.Clause{Field: "missing", Op: automation.OpEq, Value: "x"}
	_, err := Matches([]automation.Clause{clause}, automation.Snapshot{"status": "ok"}, evalAt)
	if err == nil {
		t.Fatalf("expected unknown field path error")
	}
	if !automation.IsConditionError(err) {
		t.Fatalf("expected condition error classification, got %v", err)
	}
}

func TestMatchesPathThroughScalar(t *testing.T) {
	snapshot := automation.Snapshot{"status": "confirmed"}
	clause := automation.Clause{Field: "status.inner", Op: automation.OpEq, Value: "x"}
	_, err := Matches([]automation.Clause{clause}, snapshot, evalAt)
	if !automation.IsConditionError(err) {
		t.Fatalf("expected condition error for scalar traversal, got %v", err)
	}
}

func TestMatchesIncomparableTypes(t *testing.T) {
	snapshot := automation.Snapshot{"amount": 100}
	clause := automation.Clause{Field: "amount", Op: automation.OpEq, Value: "lots"}
	_, err := Matches([]automation.Clause{clause}, snapshot, evalAt)
	if !automation.IsConditionError(err) {
		t.Fatalf("expected condition error for incomparable types, got %v", err)
	}
}

func TestMatchesNilValueNeverMatchesComparisons(t *testing.T) {
	snapshot := automation.Snapshot{"teamMember": nil}
	clause := automation.Clause{Field: "teamMember", Op: automation.OpEq, Value: "alex"}
	got, err := Matches([]automation.Clause{clause}, snapshot, evalAt)
	if err != nil || got {
		t.Fatalf("nil value should not match equality, got %v err=%v", got, err)
	}
}

func TestResolveNestedPaths(t *testing.T) {
	snapshot := automation.Snapshot{
		"booking": map[string]any{
			"customer": map[string]any{"id": "c-9"},
		},
	}

	value, found, err := Resolve("booking.customer.id", snapshot)
	if err != nil || !found {
		t.Fatalf("expected resolution, found=%v err=%v", found, err)
	}
	if value != "c-9" {
		t.Fatalf("unexpected value %v", value)
	}

	_, found, err = Resolve("booking.customer.name", snapshot)
	if err != nil || found {
		t.Fatalf("absent leaf should be not-found, found=%v err=%v", found, err)
	}
}
