package automation

import (
	"strings"
	"time"
)

// Snapshot is the entity payload a rule condition and its actions observe.
type Snapshot map[string]any

// Clone returns a shallow copy safe for concurrent readers.
func (s Snapshot) Clone() Snapshot {
	if s == nil {
		return nil
	}
	out := make(Snapshot, len(s))
	for k, v := range s {
		out[k] = v
	}
	return out
}

// TriggerEvent is one domain occurrence or synthetic cron tick the dispatcher
// matches against the rule registry.
type TriggerEvent struct {
	Trigger       string
	CorrelationID string
	Snapshot      Snapshot
	EmittedAt     time.Time
}

// Validate checks the fields the dispatcher depends on.
func (e TriggerEvent) Validate() error {
	if strings.TrimSpace(e.Trigger) == "" {
		return NewRuleError("", "trigger event requires a trigger type", nil)
	}
	if strings.TrimSpace(e.CorrelationID) == "" {
		return NewRuleError("", "trigger event requires a correlation id", map[string]any{
			"trigger": e.Trigger,
		})
	}
	return nil
}
