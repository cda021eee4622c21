package condition

import (
	"strings"

	automation "github.com/goliatone/go-automation"
)

// Resolve walks a dot-separated field path through nested snapshot maps.
// found is false when the final key is absent; traversing through a
// non-map value is an error because the path itself is malformed for the
// snapshot shape.
func Resolve(path string, snapshot automation.Snapshot) (value any, found bool, err error) {
	segments := strings.Split(path, ".")
	var current any = map[string]any(snapshot)
	for idx, segment := range segments {
		node, ok := current.(map[string]any)
		if !ok {
			if snap, isSnap := current.(automation.Snapshot); isSnap {
				node = map[string]any(snap)
			} else {
				return nil, false, automation.NewConditionError(
					"field path traverses a non-object value", nil, map[string]any{
						"field":   path,
						"segment": strings.Join(segments[:idx], "."),
					})
			}
		}
		current, ok = node[segment]
		if !ok {
			return nil, false, nil
		}
	}
	return current, true, nil
}
