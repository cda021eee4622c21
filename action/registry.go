// Package action defines the dispatch contract between the execution engine
// and the side-effecting handlers registered by the host application.
package action

import (
	"context"
	"sort"
	"sync"

	automation "github.com/goliatone/go-automation"
)

// Invocation carries everything a handler needs for one pipeline step.
type Invocation struct {
	Rule          string
	CorrelationID string
	ActionID      string
	ActionIndex   int
	Attempt       int
	Params        map[string]any
	Snapshot      automation.Snapshot
}

// Handler performs one side effect. Implementations must honor the context
// deadline: when it elapses mid-call the engine records the attempt as a
// timeout and will not observe a late result. A handler is re-invoked for the
// same action index only after a prior attempt returned an error.
type Handler interface {
	Execute(ctx context.Context, inv Invocation) error
}

// HandlerFunc adapts a function to the Handler interface.
type HandlerFunc func(ctx context.Context, inv Invocation) error

// Execute calls the underlying function.
func (f HandlerFunc) Execute(ctx context.Context, inv Invocation) error {
	return f(ctx, inv)
}

// Registry indexes handlers by action id. Registration happens at startup;
// lookups are concurrent with running executors.
type Registry struct {
	mu       sync.RWMutex
	handlers map[string]Handler
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{handlers: make(map[string]Handler)}
}

// Register adds a handler under id. Duplicate ids are rejected so wiring
// mistakes surface at startup.
func (r *Registry) Register(id string, handler Handler) error {
	if id == "" || handler == nil {
		return automation.NewRuleError("", "action id and handler are required", nil)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.handlers[id]; exists {
		return automation.NewRuleError("", "action already registered", map[string]any{
			"action_id": id,
		})
	}
	r.handlers[id] = handler
	return nil
}

// RegisterFunc adds a function handler under id.
func (r *Registry) RegisterFunc(id string, fn HandlerFunc) error {
	return r.Register(id, fn)
}

// Lookup retrieves a handler by action id.
func (r *Registry) Lookup(id string) (Handler, bool) {
	if r == nil {
		return nil, false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handlers[id]
	return h, ok
}

// IDs returns sorted action ids for load-time rule validation.
func (r *Registry) IDs() []string {
	if r == nil {
		return nil
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.handlers))
	for id := range r.handlers {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// ValidateRule checks every action a rule references, escalation included,
// against the registered catalog.
func (r *Registry) ValidateRule(rule automation.RuleDefinition) error {
	for _, id := range rule.ActionIDs() {
		if _, ok := r.Lookup(id); !ok {
			err := automation.ErrUnregisteredAction.Clone()
			return err.WithMetadata(map[string]any{
				"rule":      rule.Name,
				"action_id": id,
			})
		}
	}
	return nil
}
