// Package condition evaluates a rule's declarative clauses against an entity
// snapshot. Clauses are ANDed; any clause that cannot be evaluated aborts with
// a condition error the dispatcher treats as a non-match.
package condition

import (
	"time"

	automation "github.com/goliatone/go-automation"
)

// Matches reports whether every clause holds for the snapshot. The at clock
// anchors relative date literals, so delayed or cron-driven re-checks compare
// against evaluation time rather than trigger time.
func Matches(clauses []automation.Clause, snapshot automation.Snapshot, at time.Time) (bool, error) {
	for _, clause := range clauses {
		ok, err := matchClause(clause, snapshot, at)
		if err != nil {
			return false, err
		}
		if !ok {
			return false, nil
		}
	}
	return true, nil
}

func matchClause(clause automation.Clause, snapshot automation.Snapshot, at time.Time) (bool, error) {
	if !clause.Op.Valid() {
		return false, automation.NewConditionError("unsupported operator", nil, map[string]any{
			"field":    clause.Field,
			"operator": string(clause.Op),
		})
	}

	value, found, err := Resolve(clause.Field, snapshot)
	if err != nil {
		return false, err
	}

	// Null checks tolerate absent fields: an entity without the key is null.
	switch clause.Op {
	case automation.OpIsNull:
		return !found || value == nil, nil
	case automation.OpIsNotNull:
		return found && value != nil, nil
	}

	if !found {
		return false, automation.NewConditionError("unknown field path", nil, map[string]any{
			"field": clause.Field,
		})
	}
	if value == nil {
		return false, nil
	}

	return compare(clause.Op, value, clause.Value, at)
}
