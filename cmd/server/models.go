package main

import (
	"encoding/json"
	"errors"
	"time"

	"goaltrack/goals"
)

// EventRequest is the wire shape for ingested and hypothetical events.
// Server-assigned fields (id, created_at) are not accepted.
type EventRequest struct {
	EventType  string         `json:"event_type"`
	EventName  string         `json:"event_name"`
	OccurredAt time.Time      `json:"occurred_at"`
	Magnitude  *float64       `json:"magnitude,omitempty"`
	Confidence *float64       `json:"confidence,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	SourceType string         `json:"source_type,omitempty"`
	SourceID   string         `json:"source_id,omitempty"`
}

func (r EventRequest) toEvent() (*goals.NormalizedEvent, error) {
	if r.EventName == "" {
		return nil, errors.New("event_name is required")
	}
	if r.OccurredAt.IsZero() {
		return nil, errors.New("occurred_at is required")
	}
	confidence := 1.0
	if r.Confidence != nil {
		if *r.Confidence < 0 || *r.Confidence > 1 {
			return nil, errors.New("confidence must be between 0 and 1")
		}
		confidence = *r.Confidence
	}
	return &goals.NormalizedEvent{
		EventType:  r.EventType,
		EventName:  r.EventName,
		OccurredAt: r.OccurredAt,
		Magnitude:  r.Magnitude,
		Confidence: confidence,
		Metadata:   r.Metadata,
		SourceType: r.SourceType,
		SourceID:   r.SourceID,
	}, nil
}

// IngestResponse returns the stored event together with the evaluation pass
// it triggered.
type IngestResponse struct {
	Event       *goals.NormalizedEvent  `json:"event"`
	Evaluations []*goals.GoalEvaluation `json:"evaluations"`
	Impacts     []*goals.DecisionImpact `json:"impacts"`
}

// EvaluateRequest optionally names the event whose audit trail should be
// persisted with this pass.
type EvaluateRequest struct {
	TriggerEventID string `json:"trigger_event_id,omitempty"`
}

// WhatIfRequest carries the hypothetical events for a simulation.
type WhatIfRequest struct {
	HypotheticalEvents []EventRequest `json:"hypothetical_events"`
}

// RuleRequest is the wire shape for creating or updating a goal rule. The
// config is kept raw until rule_type discriminates the union.
type RuleRequest struct {
	Name                string          `json:"name"`
	Description         string          `json:"description,omitempty"`
	RuleType            goals.RuleType  `json:"rule_type"`
	RuleConfig          json.RawMessage `json:"rule_config"`
	RollingWindowDays   int             `json:"rolling_window_days"`
	RequiredCompletions int             `json:"required_completions"`
	Active              *bool           `json:"is_active,omitempty"`
	Priority            int             `json:"priority"`
}

func (r RuleRequest) toRule() (*goals.GoalRule, error) {
	if r.Name == "" {
		return nil, errors.New("name is required")
	}
	cfg, err := goals.DecodeRuleConfig(r.RuleType, r.RuleConfig)
	if err != nil {
		return nil, err
	}
	active := true
	if r.Active != nil {
		active = *r.Active
	}
	windowDays := r.RollingWindowDays
	if windowDays <= 0 {
		windowDays = 7
	}
	required := r.RequiredCompletions
	if required <= 0 {
		required = 1
	}
	return &goals.GoalRule{
		Name:                r.Name,
		Description:         r.Description,
		RuleType:            r.RuleType,
		Config:              cfg,
		RollingWindowDays:   windowDays,
		RequiredCompletions: required,
		Active:              active,
		Priority:            r.Priority,
	}, nil
}
