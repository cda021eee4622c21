package registry

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	automation "github.com/goliatone/go-automation"
	"gopkg.in/yaml.v3"
)

// Document is the structured rule source: one record per rule plus cron
// schedule expressions for synthetic triggers.
type Document struct {
	Version   int               `json:"version,omitempty" yaml:"version,omitempty"`
	Schedules map[string]string `json:"schedules,omitempty" yaml:"schedules,omitempty"`
	Rules     []RuleConfig      `json:"rules" yaml:"rules"`
}

// RuleConfig is the on-disk shape of one rule.
type RuleConfig struct {
	Name       string                 `json:"name" yaml:"name"`
	Trigger    string                 `json:"trigger" yaml:"trigger"`
	Conditions []automation.Clause    `json:"conditions,omitempty" yaml:"conditions,omitempty"`
	Actions    []automation.ActionRef `json:"actions" yaml:"actions"`
	Timeout    Duration               `json:"timeout" yaml:"timeout"`
	Retries    RetryConfig            `json:"retries,omitempty" yaml:"retries,omitempty"`
	Delay      Duration               `json:"delay,omitempty" yaml:"delay,omitempty"`
	Escalation string                 `json:"escalation,omitempty" yaml:"escalation,omitempty"`
}

// RetryConfig is the on-disk retry policy.
type RetryConfig struct {
	Max     int      `json:"max" yaml:"max"`
	Backoff string   `json:"backoff,omitempty" yaml:"backoff,omitempty"`
	Base    Duration `json:"base,omitempty" yaml:"base,omitempty"`
}

// Definition converts the config record into the immutable runtime rule.
func (c RuleConfig) Definition() automation.RuleDefinition {
	backoff := automation.BackoffKind(strings.ToLower(strings.TrimSpace(c.Retries.Backoff)))
	base := time.Duration(c.Retries.Base)
	if base <= 0 {
		base = 500 * time.Millisecond
	}
	return automation.RuleDefinition{
		Name:       strings.TrimSpace(c.Name),
		Trigger:    strings.TrimSpace(c.Trigger),
		Conditions: c.Conditions,
		Actions:    c.Actions,
		Timeout:    time.Duration(c.Timeout),
		Retry: automation.RetryPolicy{
			MaxRetries: c.Retries.Max,
			Backoff:    backoff,
			Base:       base,
		},
		Delay:      time.Duration(c.Delay),
		Escalation: strings.TrimSpace(c.Escalation),
	}
}

// ParseDocument decodes a YAML or JSON rule document. yaml.v3 accepts JSON
// input, so a single decode path covers both.
func ParseDocument(data []byte) (Document, error) {
	var doc Document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return doc, automation.NewRuleError("", "rule document is not valid YAML or JSON", map[string]any{
			"parse_error": err.Error(),
		})
	}
	return doc, nil
}

// Duration decodes Go duration strings, day shorthands the original rule
// catalog uses ("1 day", "2d"), and bare integers as milliseconds.
type Duration time.Duration

func (d Duration) String() string { return time.Duration(d).String() }

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	parsed, err := parseDuration(value.Value)
	if err != nil {
		return err
	}
	*d = Duration(parsed)
	return nil
}

// UnmarshalJSON implements json.Unmarshaler.
func (d *Duration) UnmarshalJSON(data []byte) error {
	var raw any
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	var text string
	switch v := raw.(type) {
	case string:
		text = v
	case float64:
		text = strconv.FormatFloat(v, 'f', -1, 64)
	default:
		return fmt.Errorf("cannot decode %T as duration", raw)
	}
	parsed, err := parseDuration(text)
	if err != nil {
		return err
	}
	*d = Duration(parsed)
	return nil
}

// MarshalJSON renders the canonical Go duration string.
func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

func parseDuration(text string) (time.Duration, error) {
	text = strings.ToLower(strings.TrimSpace(text))
	if text == "" {
		return 0, nil
	}
	if ms, err := strconv.ParseFloat(text, 64); err == nil {
		return time.Duration(ms * float64(time.Millisecond)), nil
	}
	if parsed, err := time.ParseDuration(text); err == nil {
		return parsed, nil
	}
	// "1 day", "2 days", "3d"
	fields := strings.Fields(strings.NewReplacer("days", " days", "day", " day").Replace(text))
	if len(fields) >= 1 {
		numeric := strings.TrimSuffix(fields[0], "d")
		if n, err := strconv.ParseFloat(numeric, 64); err == nil {
			unitOK := strings.HasSuffix(fields[0], "d")
			if len(fields) == 2 && (fields[1] == "day" || fields[1] == "days") {
				unitOK = true
			}
			if unitOK {
				return time.Duration(n * float64(24*time.Hour)), nil
			}
		}
	}
	return 0, fmt.Errorf("unparseable duration %q", text)
}
