package condition

import (
	"fmt"
	"reflect"
	"strings"
	"time"

	automation "github.com/goliatone/go-automation"
)

// compare applies one operator to the resolved snapshot value and the clause
// target. Values reach here already screened for null handling.
func compare(op automation.Operator, value, target any, at time.Time) (bool, error) {
	switch op {
	case automation.OpEq:
		return compareEqual(value, target, at)
	case automation.OpNeq:
		eq, err := compareEqual(value, target, at)
		return !eq, err
	case automation.OpIn:
		return compareIn(value, target, at)
	case automation.OpLt:
		cmp, err := compareOrdered(value, target, at)
		return cmp < 0, err
	case automation.OpLte:
		cmp, err := compareOrdered(value, target, at)
		return cmp <= 0, err
	case automation.OpGt:
		cmp, err := compareOrdered(value, target, at)
		return cmp > 0, err
	case automation.OpGte:
		cmp, err := compareOrdered(value, target, at)
		return cmp >= 0, err
	}
	return false, automation.NewConditionError("unsupported operator", nil, map[string]any{
		"operator": string(op),
	})
}

// compareEqual handles numeric mixing from JSON/YAML decoding and calendar
// comparison when either side is a date.
func compareEqual(a, b any, at time.Time) (bool, error) {
	if na, nb, ok := asNumbers(a, b); ok {
		return na == nb, nil
	}
	if da, db, ok := asDates(a, b, at); ok {
		return da.Equal(db), nil
	}
	if sa, ok := a.(string); ok {
		if sb, ok := b.(string); ok {
			return sa == sb, nil
		}
	}
	if ba, ok := a.(bool); ok {
		if bb, ok := b.(bool); ok {
			return ba == bb, nil
		}
	}
	if reflect.TypeOf(a) == reflect.TypeOf(b) {
		return reflect.DeepEqual(a, b), nil
	}
	return false, automation.NewConditionError("values are not comparable", nil, map[string]any{
		"value_type":  fmt.Sprintf("%T", a),
		"target_type": fmt.Sprintf("%T", b),
	})
}

// compareOrdered performs a three-way comparison over numbers or dates.
func compareOrdered(a, b any, at time.Time) (int, error) {
	if na, nb, ok := asNumbers(a, b); ok {
		switch {
		case na < nb:
			return -1, nil
		case na > nb:
			return 1, nil
		default:
			return 0, nil
		}
	}
	if da, db, ok := asDates(a, b, at); ok {
		switch {
		case da.Before(db):
			return -1, nil
		case da.After(db):
			return 1, nil
		default:
			return 0, nil
		}
	}
	return 0, automation.NewConditionError("ordered comparison requires numbers or dates", nil, map[string]any{
		"value_type":  fmt.Sprintf("%T", a),
		"target_type": fmt.Sprintf("%T", b),
	})
}

// compareIn tests membership using equality semantics per element.
func compareIn(value, target any, at time.Time) (bool, error) {
	list := reflect.ValueOf(target)
	if !list.IsValid() || (list.Kind() != reflect.Slice && list.Kind() != reflect.Array) {
		return false, automation.NewConditionError("in operator requires a list target", nil, map[string]any{
			"target_type": fmt.Sprintf("%T", target),
		})
	}
	for i := 0; i < list.Len(); i++ {
		eq, err := compareEqual(value, list.Index(i).Interface(), at)
		if err != nil {
			continue
		}
		if eq {
			return true, nil
		}
	}
	return false, nil
}

func asNumbers(a, b any) (float64, float64, bool) {
	na, oka := toFloat64(a)
	nb, okb := toFloat64(b)
	return na, nb, oka && okb
}

func toFloat64(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint64:
		return float64(n), true
	}
	return 0, false
}

// asDates succeeds only when at least one side is an explicit date: a
// time.Time, a date-shaped string, or a relative literal. Plain equal strings
// never reach here; compareEqual tries numbers first and dates second.
func asDates(a, b any, at time.Time) (time.Time, time.Time, bool) {
	da, oka := toDate(a, at)
	db, okb := toDate(b, at)
	if !oka || !okb {
		return time.Time{}, time.Time{}, false
	}
	if !isExplicitDate(a, at) && !isExplicitDate(b, at) {
		return time.Time{}, time.Time{}, false
	}
	return da, db, true
}

func isExplicitDate(v any, at time.Time) bool {
	switch t := v.(type) {
	case time.Time:
		return true
	case string:
		if isRelativeDate(t) {
			return true
		}
		_, err := time.Parse(time.RFC3339, t)
		if err == nil {
			return true
		}
		_, err = time.Parse("2006-01-02", t)
		return err == nil
	}
	return false
}

func isRelativeDate(s string) bool {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "today", "tomorrow":
		return true
	}
	return false
}

// toDate coerces a value to a calendar day. Relative literals resolve against
// the evaluation clock so delayed re-checks see current truth.
func toDate(v any, at time.Time) (time.Time, bool) {
	switch t := v.(type) {
	case time.Time:
		return truncateDay(t), true
	case string:
		switch strings.ToLower(strings.TrimSpace(t)) {
		case "today":
			return truncateDay(at), true
		case "tomorrow":
			return truncateDay(at.AddDate(0, 0, 1)), true
		}
		if parsed, err := time.Parse(time.RFC3339, t); err == nil {
			return truncateDay(parsed), true
		}
		if parsed, err := time.Parse("2006-01-02", t); err == nil {
			return truncateDay(parsed), true
		}
	}
	return time.Time{}, false
}

func truncateDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
