package goals

import "time"

// Status is the four-state progress label attached to every evaluation.
// It is a categorical label, not a severity ordering; each pass recomputes
// it fresh from current metrics.
type Status string

const (
	StatusOffTrack  Status = "off_track"
	StatusAtRisk    Status = "at_risk"
	StatusOnTrack   Status = "on_track"
	StatusCompleted Status = "completed"
)

// RuleType discriminates the rule config union.
type RuleType string

const (
	RuleTypeSequence RuleType = "sequence"
	RuleTypeCount    RuleType = "count"
	RuleTypeGate     RuleType = "gate"
	RuleTypeCompound RuleType = "compound"
)

// ImpactType classifies the effect a single event had on a rule's state.
type ImpactType string

const (
	ImpactWindowCreated   ImpactType = "window_created"
	ImpactWindowCompleted ImpactType = "window_completed"
	ImpactWindowExpired   ImpactType = "window_expired"
	// Reserved for gate rules; never emitted until gate evaluation lands.
	ImpactGateOpened ImpactType = "gate_opened"
	ImpactGateClosed ImpactType = "gate_closed"
)

// NormalizedEvent is an immutable timestamped fact from the event source.
// Ordering key is OccurredAt.
type NormalizedEvent struct {
	ID         string         `json:"id"`
	EventType  string         `json:"event_type"`
	EventName  string         `json:"event_name"`
	OccurredAt time.Time      `json:"occurred_at"`
	Magnitude  *float64       `json:"magnitude,omitempty"`
	Confidence float64        `json:"confidence"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	SourceType string         `json:"source_type,omitempty"`
	SourceID   string         `json:"source_id,omitempty"`
	CreatedAt  time.Time      `json:"created_at"`
}

// GoalRule is a user-authored policy. Read-only to the engine.
type GoalRule struct {
	ID                  string     `json:"id"`
	Name                string     `json:"name"`
	Description         string     `json:"description,omitempty"`
	RuleType            RuleType   `json:"rule_type"`
	Config              RuleConfig `json:"rule_config"`
	RollingWindowDays   int        `json:"rolling_window_days"`
	RequiredCompletions int        `json:"required_completions"`
	Active              bool       `json:"is_active"`
	Priority            int        `json:"priority"`
	CreatedAt           time.Time  `json:"created_at"`
	UpdatedAt           time.Time  `json:"updated_at"`
}

// PendingWindow is an open obligation: event A occurred and the engine is
// waiting for event B before WindowEnd.
type PendingWindow struct {
	EventAName  string    `json:"event_a_name"`
	EventATime  time.Time `json:"event_a_time"`
	WindowStart time.Time `json:"window_start"`
	WindowEnd   time.Time `json:"window_end"`
	EventAID    string    `json:"event_a_id"`
}

// GoalEvaluation is one append-only snapshot for one rule. The latest row
// per rule is the current evaluation.
type GoalEvaluation struct {
	ID                  string          `json:"id"`
	GoalRuleID          string          `json:"goal_rule_id"`
	EvaluatedAt         time.Time       `json:"evaluated_at"`
	Status              Status          `json:"status"`
	CompletionsInWindow int             `json:"completions_in_window"`
	RequiredInWindow    int             `json:"required_in_window"`
	PendingWindows      []PendingWindow `json:"pending_windows"`
	LastSuccessAt       *time.Time      `json:"last_success_at,omitempty"`
	LastFailAt          *time.Time      `json:"last_fail_at,omitempty"`
	LastFailReason      string          `json:"last_fail_reason,omitempty"`
	Confidence          float64         `json:"confidence"`
	Details             map[string]any  `json:"details,omitempty"`
}

// DecisionImpact is an immutable audit record linking one triggering event
// to one rule.
type DecisionImpact struct {
	ID         string         `json:"id"`
	GoalRuleID string         `json:"goal_rule_id"`
	EventID    string         `json:"event_id"`
	ImpactType ImpactType     `json:"impact_type"`
	Details    map[string]any `json:"details,omitempty"`
	CreatedAt  time.Time      `json:"created_at"`
}

// Result is the outcome of evaluating a single rule: the snapshot fields
// plus the full impact list. Impacts are filtered against the trigger event
// at the persistence boundary, never here.
type Result struct {
	GoalRuleID          string
	Status              Status
	CompletionsInWindow int
	RequiredInWindow    int
	PendingWindows      []PendingWindow
	LastSuccessAt       *time.Time
	LastFailAt          *time.Time
	LastFailReason      string
	Impacts             []DecisionImpact
}
