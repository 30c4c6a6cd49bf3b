package goals

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "github.com/lib/pq"
)

// PostgresRuleStore implements RuleStore backed by PostgreSQL.
type PostgresRuleStore struct {
	db *sql.DB
}

func NewPostgresRuleStore(db *sql.DB) *PostgresRuleStore {
	return &PostgresRuleStore{db: db}
}

const ruleColumns = `id, name, description, rule_type, rule_config, rolling_window_days,
		required_completions, is_active, priority, created_at, updated_at`

func (s *PostgresRuleStore) Add(ctx context.Context, rule *GoalRule) error {
	cfg, err := json.Marshal(rule.Config)
	if err != nil {
		return fmt.Errorf("failed to marshal rule config: %w", err)
	}

	now := time.Now()
	rule.CreatedAt = now
	rule.UpdatedAt = now

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO goal_rules (`+ruleColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`, rule.ID, rule.Name, rule.Description, rule.RuleType, cfg, rule.RollingWindowDays,
		rule.RequiredCompletions, rule.Active, rule.Priority, rule.CreatedAt, rule.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert rule: %w", err)
	}
	return nil
}

func (s *PostgresRuleStore) Get(ctx context.Context, id string) (*GoalRule, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+ruleColumns+`
		FROM goal_rules
		WHERE id = $1
	`, id)

	rule, err := scanRule(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("rule %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get rule: %w", err)
	}
	return rule, nil
}

func (s *PostgresRuleStore) List(ctx context.Context) ([]*GoalRule, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+ruleColumns+`
		FROM goal_rules
		ORDER BY created_at ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to list rules: %w", err)
	}
	defer rows.Close()
	return collectRules(rows)
}

func (s *PostgresRuleStore) ListActive(ctx context.Context) ([]*GoalRule, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+ruleColumns+`
		FROM goal_rules
		WHERE is_active = true
		ORDER BY priority DESC, created_at ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to list active rules: %w", err)
	}
	defer rows.Close()
	return collectRules(rows)
}

func (s *PostgresRuleStore) Update(ctx context.Context, rule *GoalRule) error {
	cfg, err := json.Marshal(rule.Config)
	if err != nil {
		return fmt.Errorf("failed to marshal rule config: %w", err)
	}

	rule.UpdatedAt = time.Now()
	result, err := s.db.ExecContext(ctx, `
		UPDATE goal_rules
		SET name = $1, description = $2, rule_type = $3, rule_config = $4,
			rolling_window_days = $5, required_completions = $6, is_active = $7,
			priority = $8, updated_at = $9
		WHERE id = $10
	`, rule.Name, rule.Description, rule.RuleType, cfg, rule.RollingWindowDays,
		rule.RequiredCompletions, rule.Active, rule.Priority, rule.UpdatedAt, rule.ID)
	if err != nil {
		return fmt.Errorf("failed to update rule: %w", err)
	}
	return requireRow(result, rule.ID)
}

func (s *PostgresRuleStore) Delete(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM goal_rules WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete rule: %w", err)
	}
	return requireRow(result, id)
}

func requireRow(result sql.Result, id string) error {
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("rule %s: %w", id, ErrNotFound)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRule(row rowScanner) (*GoalRule, error) {
	var r GoalRule
	var cfg []byte
	var description sql.NullString
	if err := row.Scan(&r.ID, &r.Name, &description, &r.RuleType, &cfg, &r.RollingWindowDays,
		&r.RequiredCompletions, &r.Active, &r.Priority, &r.CreatedAt, &r.UpdatedAt); err != nil {
		return nil, err
	}
	r.Description = description.String

	config, err := DecodeRuleConfig(r.RuleType, cfg)
	if err != nil {
		return nil, fmt.Errorf("rule %s: %w", r.ID, err)
	}
	r.Config = config
	return &r, nil
}

func collectRules(rows *sql.Rows) ([]*GoalRule, error) {
	var out []*GoalRule
	for rows.Next() {
		rule, err := scanRule(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan rule: %w", err)
		}
		out = append(out, rule)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rules: %w", err)
	}
	return out, nil
}

// PostgresEventStore implements EventStore backed by PostgreSQL.
type PostgresEventStore struct {
	db *sql.DB
}

func NewPostgresEventStore(db *sql.DB) *PostgresEventStore {
	return &PostgresEventStore{db: db}
}

const eventColumns = `id, event_type, event_name, occurred_at, magnitude, confidence,
		metadata, source_type, source_id, created_at`

func (s *PostgresEventStore) Add(ctx context.Context, ev *NormalizedEvent) error {
	meta, err := json.Marshal(ev.Metadata)
	if err != nil {
		return fmt.Errorf("failed to marshal event metadata: %w", err)
	}
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = time.Now()
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO events (`+eventColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`, ev.ID, ev.EventType, ev.EventName, ev.OccurredAt, ev.Magnitude, ev.Confidence,
		meta, ev.SourceType, ev.SourceID, ev.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert event: %w", err)
	}
	return nil
}

func (s *PostgresEventStore) Get(ctx context.Context, id string) (*NormalizedEvent, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+eventColumns+`
		FROM events
		WHERE id = $1
	`, id)

	ev, err := scanEvent(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("event %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get event: %w", err)
	}
	return ev, nil
}

func (s *PostgresEventStore) ListSince(ctx context.Context, since time.Time) ([]*NormalizedEvent, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+eventColumns+`
		FROM events
		WHERE occurred_at >= $1
		ORDER BY occurred_at ASC
	`, since)
	if err != nil {
		return nil, fmt.Errorf("failed to list events: %w", err)
	}
	defer rows.Close()

	var out []*NormalizedEvent
	for rows.Next() {
		ev, err := scanEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		out = append(out, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating events: %w", err)
	}
	return out, nil
}

func scanEvent(row rowScanner) (*NormalizedEvent, error) {
	var ev NormalizedEvent
	var meta []byte
	var sourceType, sourceID sql.NullString
	if err := row.Scan(&ev.ID, &ev.EventType, &ev.EventName, &ev.OccurredAt, &ev.Magnitude,
		&ev.Confidence, &meta, &sourceType, &sourceID, &ev.CreatedAt); err != nil {
		return nil, err
	}
	ev.SourceType = sourceType.String
	ev.SourceID = sourceID.String
	if len(meta) > 0 {
		if err := json.Unmarshal(meta, &ev.Metadata); err != nil {
			return nil, fmt.Errorf("event %s: invalid metadata: %w", ev.ID, err)
		}
	}
	return &ev, nil
}

// PostgresEvaluationStore implements the append-only snapshot log.
type PostgresEvaluationStore struct {
	db *sql.DB
}

func NewPostgresEvaluationStore(db *sql.DB) *PostgresEvaluationStore {
	return &PostgresEvaluationStore{db: db}
}

const evalColumns = `id, goal_rule_id, evaluated_at, status, completions_in_window,
		required_in_window, pending_windows, last_success_at, last_fail_at,
		last_fail_reason, confidence, details`

func (s *PostgresEvaluationStore) Add(ctx context.Context, eval *GoalEvaluation) error {
	pending, err := json.Marshal(eval.PendingWindows)
	if err != nil {
		return fmt.Errorf("failed to marshal pending windows: %w", err)
	}
	details, err := json.Marshal(eval.Details)
	if err != nil {
		return fmt.Errorf("failed to marshal details: %w", err)
	}

	// Always an insert: snapshot history is retained, never updated in place.
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO goal_evaluations (`+evalColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`, eval.ID, eval.GoalRuleID, eval.EvaluatedAt, eval.Status, eval.CompletionsInWindow,
		eval.RequiredInWindow, pending, eval.LastSuccessAt, eval.LastFailAt,
		eval.LastFailReason, eval.Confidence, details)
	if err != nil {
		return fmt.Errorf("failed to insert evaluation: %w", err)
	}
	return nil
}

func (s *PostgresEvaluationStore) Latest(ctx context.Context, ruleID string) (*GoalEvaluation, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+evalColumns+`
		FROM goal_evaluations
		WHERE goal_rule_id = $1
		ORDER BY evaluated_at DESC
		LIMIT 1
	`, ruleID)

	eval, err := scanEvaluation(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("evaluation for rule %s: %w", ruleID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get latest evaluation: %w", err)
	}
	return eval, nil
}

func (s *PostgresEvaluationStore) ListForRule(ctx context.Context, ruleID string) ([]*GoalEvaluation, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+evalColumns+`
		FROM goal_evaluations
		WHERE goal_rule_id = $1
		ORDER BY evaluated_at ASC
	`, ruleID)
	if err != nil {
		return nil, fmt.Errorf("failed to list evaluations: %w", err)
	}
	defer rows.Close()

	var out []*GoalEvaluation
	for rows.Next() {
		eval, err := scanEvaluation(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan evaluation: %w", err)
		}
		out = append(out, eval)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating evaluations: %w", err)
	}
	return out, nil
}

func scanEvaluation(row rowScanner) (*GoalEvaluation, error) {
	var e GoalEvaluation
	var pending, details []byte
	var failReason sql.NullString
	if err := row.Scan(&e.ID, &e.GoalRuleID, &e.EvaluatedAt, &e.Status, &e.CompletionsInWindow,
		&e.RequiredInWindow, &pending, &e.LastSuccessAt, &e.LastFailAt,
		&failReason, &e.Confidence, &details); err != nil {
		return nil, err
	}
	e.LastFailReason = failReason.String
	if len(pending) > 0 {
		if err := json.Unmarshal(pending, &e.PendingWindows); err != nil {
			return nil, fmt.Errorf("evaluation %s: invalid pending windows: %w", e.ID, err)
		}
	}
	if len(details) > 0 && string(details) != "null" {
		if err := json.Unmarshal(details, &e.Details); err != nil {
			return nil, fmt.Errorf("evaluation %s: invalid details: %w", e.ID, err)
		}
	}
	return &e, nil
}

// PostgresImpactStore implements the append-only audit trail.
type PostgresImpactStore struct {
	db *sql.DB
}

func NewPostgresImpactStore(db *sql.DB) *PostgresImpactStore {
	return &PostgresImpactStore{db: db}
}

func (s *PostgresImpactStore) Add(ctx context.Context, impact *DecisionImpact) error {
	details, err := json.Marshal(impact.Details)
	if err != nil {
		return fmt.Errorf("failed to marshal impact details: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO decision_impacts (id, goal_rule_id, event_id, impact_type, details, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, impact.ID, impact.GoalRuleID, impact.EventID, impact.ImpactType, details, impact.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert impact: %w", err)
	}
	return nil
}

func (s *PostgresImpactStore) ListForEvent(ctx context.Context, eventID string) ([]*DecisionImpact, error) {
	return s.list(ctx, `event_id`, eventID)
}

func (s *PostgresImpactStore) ListForRule(ctx context.Context, ruleID string) ([]*DecisionImpact, error) {
	return s.list(ctx, `goal_rule_id`, ruleID)
}

func (s *PostgresImpactStore) list(ctx context.Context, column, value string) ([]*DecisionImpact, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, goal_rule_id, event_id, impact_type, details, created_at
		FROM decision_impacts
		WHERE `+column+` = $1
		ORDER BY created_at ASC
	`, value)
	if err != nil {
		return nil, fmt.Errorf("failed to list impacts: %w", err)
	}
	defer rows.Close()

	var out []*DecisionImpact
	for rows.Next() {
		var im DecisionImpact
		var details []byte
		if err := rows.Scan(&im.ID, &im.GoalRuleID, &im.EventID, &im.ImpactType, &details, &im.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan impact: %w", err)
		}
		if len(details) > 0 && string(details) != "null" {
			if err := json.Unmarshal(details, &im.Details); err != nil {
				return nil, fmt.Errorf("impact %s: invalid details: %w", im.ID, err)
			}
		}
		out = append(out, &im)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating impacts: %w", err)
	}
	return out, nil
}
