// Package registry loads immutable rule definitions from structured documents
// and serves trigger lookups. A loaded set is never mutated; hot reload swaps
// the whole set atomically.
package registry

import (
	"sync/atomic"

	automation "github.com/goliatone/go-automation"
)

// ActionCatalog exposes the registered action ids used to reject rules that
// reference handlers nobody registered.
type ActionCatalog interface {
	IDs() []string
}

// Rejected records one rule dropped at load time and why. A malformed rule is
// fatal to that rule only.
type Rejected struct {
	Name string
	Err  error
}

// Set is an immutable, validated collection of rules in declaration order.
type Set struct {
	rules     []automation.RuleDefinition
	byName    map[string]automation.RuleDefinition
	byTrigger map[string][]automation.RuleDefinition
	schedules map[string]string
}

// BuildSet validates each rule of the document independently and assembles the
// surviving rules. Returned rejections carry the per-rule load errors.
func BuildSet(doc Document, catalog ActionCatalog) (*Set, []Rejected) {
	set := &Set{
		byName:    make(map[string]automation.RuleDefinition),
		byTrigger: make(map[string][]automation.RuleDefinition),
		schedules: make(map[string]string),
	}
	for trigger, expr := range doc.Schedules {
		set.schedules[trigger] = expr
	}

	var known map[string]bool
	if catalog != nil {
		known = make(map[string]bool)
		for _, id := range catalog.IDs() {
			known[id] = true
		}
	}

	var rejected []Rejected
	for _, cfg := range doc.Rules {
		rule := cfg.Definition()
		if err := rule.Validate(); err != nil {
			rejected = append(rejected, Rejected{Name: rule.Name, Err: err})
			continue
		}
		if _, dup := set.byName[rule.Name]; dup {
			rejected = append(rejected, Rejected{
				Name: rule.Name,
				Err:  automation.NewRuleError(rule.Name, "duplicate rule name", nil),
			})
			continue
		}
		if known != nil {
			if err := unknownAction(rule, known); err != nil {
				rejected = append(rejected, Rejected{Name: rule.Name, Err: err})
				continue
			}
		}
		set.rules = append(set.rules, rule)
		set.byName[rule.Name] = rule
		set.byTrigger[rule.Trigger] = append(set.byTrigger[rule.Trigger], rule)
	}
	return set, rejected
}

func unknownAction(rule automation.RuleDefinition, known map[string]bool) error {
	for _, id := range rule.ActionIDs() {
		if !known[id] {
			err := automation.ErrUnregisteredAction.Clone()
			return err.WithMetadata(map[string]any{
				"rule":      rule.Name,
				"action_id": id,
			})
		}
	}
	return nil
}

// Rules returns all rules in declaration order.
func (s *Set) Rules() []automation.RuleDefinition {
	if s == nil {
		return nil
	}
	out := make([]automation.RuleDefinition, len(s.rules))
	copy(out, s.rules)
	return out
}

// Rule looks a rule up by its unique name.
func (s *Set) Rule(name string) (automation.RuleDefinition, bool) {
	if s == nil {
		return automation.RuleDefinition{}, false
	}
	rule, ok := s.byName[name]
	return rule, ok
}

// RulesForTrigger returns candidate rules in declaration order, the tie-break
// when multiple rules match one event.
func (s *Set) RulesForTrigger(trigger string) []automation.RuleDefinition {
	if s == nil {
		return nil
	}
	matches := s.byTrigger[trigger]
	out := make([]automation.RuleDefinition, len(matches))
	copy(out, matches)
	return out
}

// CronTriggers returns the distinct cron trigger types any rule subscribes to.
func (s *Set) CronTriggers() []string {
	if s == nil {
		return nil
	}
	seen := make(map[string]bool)
	var out []string
	for _, rule := range s.rules {
		if rule.IsCron() && !seen[rule.Trigger] {
			seen[rule.Trigger] = true
			out = append(out, rule.Trigger)
		}
	}
	return out
}

// Schedule returns the cron expression declared for a trigger, if any.
func (s *Set) Schedule(trigger string) (string, bool) {
	if s == nil {
		return "", false
	}
	expr, ok := s.schedules[trigger]
	return expr, ok
}

// Len returns the number of loaded rules.
func (s *Set) Len() int {
	if s == nil {
		return 0
	}
	return len(s.rules)
}

// Registry holds the current rule set behind an atomic pointer. Reads never
// lock; Replace publishes a fully built set.
type Registry struct {
	logger  automation.Logger
	current atomic.Pointer[Set]
}

// Option configures a Registry.
type Option func(*Registry)

// WithLogger sets the load/reload logger.
func WithLogger(logger automation.Logger) Option {
	return func(r *Registry) {
		r.logger = logger
	}
}

// New creates a registry with an empty set installed.
func New(opts ...Option) *Registry {
	r := &Registry{}
	for _, opt := range opts {
		if opt != nil {
			opt(r)
		}
	}
	r.logger = automation.NormalizeLogger(r.logger)
	empty, _ := BuildSet(Document{}, nil)
	r.current.Store(empty)
	return r
}

// Load parses a rule document and installs the surviving rules. Per-rule
// failures are logged and returned; they never block valid rules.
func (r *Registry) Load(data []byte, catalog ActionCatalog) ([]Rejected, error) {
	doc, err := ParseDocument(data)
	if err != nil {
		return nil, err
	}
	set, rejected := BuildSet(doc, catalog)
	for _, rej := range rejected {
		r.logger.Warn("rule rejected at load: rule=%s err=%v", rej.Name, rej.Err)
	}
	r.Replace(set)
	r.logger.Info("rule registry loaded: rules=%d rejected=%d", set.Len(), len(rejected))
	return rejected, nil
}

// Replace atomically swaps in a new rule set.
func (r *Registry) Replace(set *Set) {
	if set == nil {
		set, _ = BuildSet(Document{}, nil)
	}
	r.current.Store(set)
}

// Current returns the installed set. Callers must treat it as read-only.
func (r *Registry) Current() *Set {
	return r.current.Load()
}

// RulesForTrigger resolves candidates from the current set.
func (r *Registry) RulesForTrigger(trigger string) []automation.RuleDefinition {
	return r.Current().RulesForTrigger(trigger)
}

// Rule resolves one rule by name from the current set.
func (r *Registry) Rule(name string) (automation.RuleDefinition, bool) {
	return r.Current().Rule(name)
}
