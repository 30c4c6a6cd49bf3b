package goals

import (
	"encoding/json"
	"fmt"
	"time"
)

// EventPattern selects events by name, optionally narrowed by type and by a
// CEL filter expression over the event's fields (magnitude, confidence,
// metadata). An empty filter matches on name/type alone.
type EventPattern struct {
	Name   string `json:"name"`
	Type   string `json:"type,omitempty"`
	Filter string `json:"filter,omitempty"`
}

// SequenceConfig describes an ordered A-then-B obligation with a tolerance
// window. Only the first two entries of Events are consulted.
type SequenceConfig struct {
	Events   []EventPattern `json:"events"`
	MinHours float64        `json:"min_hours"`
	MaxHours float64        `json:"max_hours"`
}

// CountConfig describes an occurrence-count goal for a single pattern.
// RollingDays and RequiredCount fall back to the rule-level window and
// required completions when zero.
type CountConfig struct {
	Event         EventPattern `json:"event"`
	RequiredCount int          `json:"required_count"`
	RollingDays   int          `json:"rolling_days"`
}

// GateConfig conditions a child pattern on another rule's status. Declared
// for the data model; evaluation is an unimplemented extension point.
type GateConfig struct {
	GateRuleID     string       `json:"gate_rule_id"`
	RequiredStatus Status       `json:"required_status"`
	Child          EventPattern `json:"child"`
}

// CompoundConfig composes child rules with a boolean operator. Declared for
// the data model; evaluation is an unimplemented extension point.
type CompoundConfig struct {
	Operator string   `json:"operator"` // "and" | "or"
	RuleIDs  []string `json:"rule_ids"`
}

// RuleConfig is a tagged union over the per-kind configs. Exactly one arm is
// non-nil, matching the owning rule's RuleType. Keeping the variants as a
// sum makes unimplemented kinds a visible gap in the evaluator switch
// instead of a silent runtime default.
type RuleConfig struct {
	Sequence *SequenceConfig
	Count    *CountConfig
	Gate     *GateConfig
	Compound *CompoundConfig
}

// DecodeRuleConfig parses the raw JSON config for the given rule type.
func DecodeRuleConfig(ruleType RuleType, raw []byte) (RuleConfig, error) {
	if len(raw) == 0 {
		raw = []byte("{}")
	}
	var cfg RuleConfig
	var err error
	switch ruleType {
	case RuleTypeSequence:
		cfg.Sequence = &SequenceConfig{}
		err = json.Unmarshal(raw, cfg.Sequence)
	case RuleTypeCount:
		cfg.Count = &CountConfig{}
		err = json.Unmarshal(raw, cfg.Count)
	case RuleTypeGate:
		cfg.Gate = &GateConfig{}
		err = json.Unmarshal(raw, cfg.Gate)
	case RuleTypeCompound:
		cfg.Compound = &CompoundConfig{}
		err = json.Unmarshal(raw, cfg.Compound)
	default:
		return RuleConfig{}, fmt.Errorf("unknown rule type %q", ruleType)
	}
	if err != nil {
		return RuleConfig{}, fmt.Errorf("invalid %s config: %w", ruleType, err)
	}
	return cfg, nil
}

// MarshalJSON emits the active variant's JSON object.
func (c RuleConfig) MarshalJSON() ([]byte, error) {
	switch {
	case c.Sequence != nil:
		return json.Marshal(c.Sequence)
	case c.Count != nil:
		return json.Marshal(c.Count)
	case c.Gate != nil:
		return json.Marshal(c.Gate)
	case c.Compound != nil:
		return json.Marshal(c.Compound)
	default:
		return []byte("{}"), nil
	}
}

// UnmarshalJSON is intentionally absent: the variant cannot be chosen
// without the rule type, so decoding goes through DecodeRuleConfig. A rule
// arriving over JSON carries its config as raw bytes until the type is known.

// ruleJSON is the wire/database shape of GoalRule, with the config held raw
// until the type discriminates it.
type ruleJSON struct {
	ID                  string          `json:"id"`
	Name                string          `json:"name"`
	Description         string          `json:"description,omitempty"`
	RuleType            RuleType        `json:"rule_type"`
	Config              json.RawMessage `json:"rule_config"`
	RollingWindowDays   int             `json:"rolling_window_days"`
	RequiredCompletions int             `json:"required_completions"`
	Active              bool            `json:"is_active"`
	Priority            int             `json:"priority"`
	CreatedAt           time.Time       `json:"created_at"`
	UpdatedAt           time.Time       `json:"updated_at"`
}

// UnmarshalJSON decodes a GoalRule, resolving the config union against the
// declared rule type.
func (r *GoalRule) UnmarshalJSON(data []byte) error {
	var raw ruleJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	cfg, err := DecodeRuleConfig(raw.RuleType, raw.Config)
	if err != nil {
		return err
	}
	r.ID = raw.ID
	r.Name = raw.Name
	r.Description = raw.Description
	r.RuleType = raw.RuleType
	r.Config = cfg
	r.RollingWindowDays = raw.RollingWindowDays
	r.RequiredCompletions = raw.RequiredCompletions
	r.Active = raw.Active
	r.Priority = raw.Priority
	r.CreatedAt = raw.CreatedAt
	r.UpdatedAt = raw.UpdatedAt
	return nil
}
