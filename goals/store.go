package goals

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
)

// RuleStore manages goal rule persistence. The engine only reads from it;
// writes come from the management API.
type RuleStore interface {
	Add(ctx context.Context, rule *GoalRule) error
	Get(ctx context.Context, id string) (*GoalRule, error)
	List(ctx context.Context) ([]*GoalRule, error)

	// ListActive returns active rules ordered by priority descending.
	ListActive(ctx context.Context) ([]*GoalRule, error)

	Update(ctx context.Context, rule *GoalRule) error
	Delete(ctx context.Context, id string) error
}

// EventStore holds the normalized event stream. Events are immutable once
// inserted.
type EventStore interface {
	Add(ctx context.Context, ev *NormalizedEvent) error
	Get(ctx context.Context, id string) (*NormalizedEvent, error)

	// ListSince returns events with occurred_at >= since, ascending.
	ListSince(ctx context.Context, since time.Time) ([]*NormalizedEvent, error)
}

// EvaluationStore is the append-only snapshot log. The latest row per rule
// is the current evaluation.
type EvaluationStore interface {
	Add(ctx context.Context, eval *GoalEvaluation) error
	Latest(ctx context.Context, ruleID string) (*GoalEvaluation, error)
	ListForRule(ctx context.Context, ruleID string) ([]*GoalEvaluation, error)
}

// ImpactStore is the append-only audit trail.
type ImpactStore interface {
	Add(ctx context.Context, impact *DecisionImpact) error
	ListForEvent(ctx context.Context, eventID string) ([]*DecisionImpact, error)
	ListForRule(ctx context.Context, ruleID string) ([]*DecisionImpact, error)
}

// ErrNotFound is wrapped by store lookups that miss.
var ErrNotFound = fmt.Errorf("not found")

// InMemoryRuleStore implements RuleStore with a mutex-guarded map.
type InMemoryRuleStore struct {
	rules map[string]*GoalRule
	mu    sync.RWMutex
}

func NewInMemoryRuleStore() *InMemoryRuleStore {
	return &InMemoryRuleStore{rules: make(map[string]*GoalRule)}
}

func (s *InMemoryRuleStore) Add(_ context.Context, rule *GoalRule) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.rules[rule.ID]; exists {
		return fmt.Errorf("rule with ID %s already exists", rule.ID)
	}
	now := time.Now()
	rule.CreatedAt = now
	rule.UpdatedAt = now
	s.rules[rule.ID] = rule
	return nil
}

func (s *InMemoryRuleStore) Get(_ context.Context, id string) (*GoalRule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rule, exists := s.rules[id]
	if !exists {
		return nil, fmt.Errorf("rule %s: %w", id, ErrNotFound)
	}
	return rule, nil
}

func (s *InMemoryRuleStore) List(_ context.Context) ([]*GoalRule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*GoalRule, 0, len(s.rules))
	for _, rule := range s.rules {
		out = append(out, rule)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *InMemoryRuleStore) ListActive(_ context.Context) ([]*GoalRule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var active []*GoalRule
	for _, rule := range s.rules {
		if rule.Active {
			active = append(active, rule)
		}
	}
	sort.SliceStable(active, func(i, j int) bool {
		if active[i].Priority != active[j].Priority {
			return active[i].Priority > active[j].Priority
		}
		return active[i].CreatedAt.Before(active[j].CreatedAt)
	})
	return active, nil
}

func (s *InMemoryRuleStore) Update(_ context.Context, rule *GoalRule) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, exists := s.rules[rule.ID]
	if !exists {
		return fmt.Errorf("rule %s: %w", rule.ID, ErrNotFound)
	}
	rule.CreatedAt = existing.CreatedAt
	rule.UpdatedAt = time.Now()
	s.rules[rule.ID] = rule
	return nil
}

func (s *InMemoryRuleStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.rules[id]; !exists {
		return fmt.Errorf("rule %s: %w", id, ErrNotFound)
	}
	delete(s.rules, id)
	return nil
}

// InMemoryEventStore implements EventStore with a mutex-guarded slice kept
// sorted by occurred_at.
type InMemoryEventStore struct {
	events []*NormalizedEvent
	byID   map[string]*NormalizedEvent
	mu     sync.RWMutex
}

func NewInMemoryEventStore() *InMemoryEventStore {
	return &InMemoryEventStore{byID: make(map[string]*NormalizedEvent)}
}

func (s *InMemoryEventStore) Add(_ context.Context, ev *NormalizedEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.byID[ev.ID]; exists {
		return fmt.Errorf("event with ID %s already exists", ev.ID)
	}
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = time.Now()
	}
	s.byID[ev.ID] = ev

	// Insert keeping occurred_at order so ListSince stays a scan.
	i := sort.Search(len(s.events), func(i int) bool {
		return s.events[i].OccurredAt.After(ev.OccurredAt)
	})
	s.events = append(s.events, nil)
	copy(s.events[i+1:], s.events[i:])
	s.events[i] = ev
	return nil
}

func (s *InMemoryEventStore) Get(_ context.Context, id string) (*NormalizedEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ev, exists := s.byID[id]
	if !exists {
		return nil, fmt.Errorf("event %s: %w", id, ErrNotFound)
	}
	return ev, nil
}

func (s *InMemoryEventStore) ListSince(_ context.Context, since time.Time) ([]*NormalizedEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	i := sort.Search(len(s.events), func(i int) bool {
		return !s.events[i].OccurredAt.Before(since)
	})
	out := make([]*NormalizedEvent, len(s.events)-i)
	copy(out, s.events[i:])
	return out, nil
}

// InMemoryEvaluationStore implements EvaluationStore.
type InMemoryEvaluationStore struct {
	byRule map[string][]*GoalEvaluation
	mu     sync.RWMutex
}

func NewInMemoryEvaluationStore() *InMemoryEvaluationStore {
	return &InMemoryEvaluationStore{byRule: make(map[string][]*GoalEvaluation)}
}

func (s *InMemoryEvaluationStore) Add(_ context.Context, eval *GoalEvaluation) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.byRule[eval.GoalRuleID] = append(s.byRule[eval.GoalRuleID], eval)
	return nil
}

func (s *InMemoryEvaluationStore) Latest(_ context.Context, ruleID string) (*GoalEvaluation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	evals := s.byRule[ruleID]
	if len(evals) == 0 {
		return nil, fmt.Errorf("evaluation for rule %s: %w", ruleID, ErrNotFound)
	}
	latest := evals[0]
	for _, e := range evals[1:] {
		if !e.EvaluatedAt.Before(latest.EvaluatedAt) {
			latest = e
		}
	}
	return latest, nil
}

func (s *InMemoryEvaluationStore) ListForRule(_ context.Context, ruleID string) ([]*GoalEvaluation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*GoalEvaluation, len(s.byRule[ruleID]))
	copy(out, s.byRule[ruleID])
	return out, nil
}

// InMemoryImpactStore implements ImpactStore.
type InMemoryImpactStore struct {
	impacts []*DecisionImpact
	mu      sync.RWMutex
}

func NewInMemoryImpactStore() *InMemoryImpactStore {
	return &InMemoryImpactStore{}
}

func (s *InMemoryImpactStore) Add(_ context.Context, impact *DecisionImpact) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.impacts = append(s.impacts, impact)
	return nil
}

func (s *InMemoryImpactStore) ListForEvent(_ context.Context, eventID string) ([]*DecisionImpact, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*DecisionImpact
	for _, im := range s.impacts {
		if im.EventID == eventID {
			out = append(out, im)
		}
	}
	return out, nil
}

func (s *InMemoryImpactStore) ListForRule(_ context.Context, ruleID string) ([]*DecisionImpact, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*DecisionImpact
	for _, im := range s.impacts {
		if im.GoalRuleID == ruleID {
			out = append(out, im)
		}
	}
	return out, nil
}
