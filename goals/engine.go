package goals

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"goaltrack/internal/metrics"
)

// Engine orchestrates evaluation passes: it fetches the active rules and
// the events needed to cover the widest rolling window, dispatches each
// rule to its evaluator, and appends one snapshot per rule. Evaluation is a
// full recomputation on every pass, never an incremental update.
type Engine struct {
	rules   RuleStore
	events  EventStore
	evals   EvaluationStore
	impacts ImpactStore
	cache   RulesCache
	filters *FilterSet
	log     *slog.Logger
	clock   func() time.Time
}

// EvaluationBatch is the outcome of one pass. Impacts carries everything
// the evaluators computed; only the trigger event's impacts were persisted.
type EvaluationBatch struct {
	Evaluations []*GoalEvaluation `json:"evaluations"`
	Impacts     []*DecisionImpact `json:"impacts"`
}

// GoalStatus pairs a rule with its latest snapshot, nil when the rule has
// never been evaluated.
type GoalStatus struct {
	Rule       *GoalRule       `json:"rule"`
	Evaluation *GoalEvaluation `json:"evaluation"`
}

// NewEngine wires an engine over the four stores.
func NewEngine(rules RuleStore, events EventStore, evals EvaluationStore, impacts ImpactStore) (*Engine, error) {
	filters, err := NewFilterSet()
	if err != nil {
		return nil, fmt.Errorf("failed to create filter set: %w", err)
	}
	return &Engine{
		rules:   rules,
		events:  events,
		evals:   evals,
		impacts: impacts,
		cache:   NewInMemoryRulesCache(DefaultCacheConfig()),
		filters: filters,
		log:     slog.Default(),
		clock:   time.Now,
	}, nil
}

// SetLogger replaces the engine's logger.
func (e *Engine) SetLogger(l *slog.Logger) {
	if l != nil {
		e.log = l
	}
}

// InvalidateRules drops the cached active-rule list. Call after any rule
// mutation.
func (e *Engine) InvalidateRules() {
	e.cache.Invalidate()
}

// CheckRule validates a rule's config the way a pass would see it:
// structural problems and filter compile errors are reported eagerly so the
// management API can reject them before they show up as off_track goals.
func (e *Engine) CheckRule(rule *GoalRule) error {
	switch rule.RuleType {
	case RuleTypeSequence:
		cfg := rule.Config.Sequence
		if cfg == nil || len(cfg.Events) < 2 {
			return errors.New("sequence rule requires at least 2 events")
		}
		if cfg.MaxHours < cfg.MinHours {
			return errors.New("max_hours must be >= min_hours")
		}
		for _, p := range cfg.Events[:2] {
			if err := e.filters.Check(p); err != nil {
				return err
			}
		}
	case RuleTypeCount:
		cfg := rule.Config.Count
		if cfg == nil || cfg.Event.Name == "" {
			return errors.New("count rule requires an event pattern")
		}
		if err := e.filters.Check(cfg.Event); err != nil {
			return err
		}
	case RuleTypeGate, RuleTypeCompound:
		// Storable but not evaluable yet; accepted as declared shapes.
	default:
		return fmt.Errorf("unknown rule type %q", rule.RuleType)
	}
	return nil
}

// Evaluate runs one pass. When triggerEventID is non-empty, impacts
// attributable to that event are persisted; all other computed impacts stay
// in the returned batch only, bounding the audit trail to one record set
// per real ingestion.
func (e *Engine) Evaluate(ctx context.Context, triggerEventID string) (*EvaluationBatch, error) {
	return e.evaluateAt(ctx, e.clock(), triggerEventID, nil, true)
}

// evaluateAt is the shared pass implementation behind Evaluate and
// Simulate. extra events are merged into the fetched set; persist=false
// computes a batch without writing anything.
func (e *Engine) evaluateAt(ctx context.Context, now time.Time, triggerEventID string, extra []*NormalizedEvent, persist bool) (*EvaluationBatch, error) {
	start := time.Now()

	rules, err := e.activeRules(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch active rules: %w", err)
	}
	if len(rules) == 0 {
		return &EvaluationBatch{Evaluations: []*GoalEvaluation{}, Impacts: []*DecisionImpact{}}, nil
	}

	// One event fetch covers the widest window among all rules.
	maxDays := 0
	for _, rule := range rules {
		if d := effectiveWindowDays(rule); d > maxDays {
			maxDays = d
		}
	}
	events, err := e.events.ListSince(ctx, now.AddDate(0, 0, -maxDays))
	if err != nil {
		return nil, fmt.Errorf("failed to fetch events: %w", err)
	}
	if len(extra) > 0 {
		events = mergeByTime(events, extra)
	}

	// Per-rule evaluation shares only the read-only event set, so rules run
	// concurrently; results land at their priority-ordered index.
	results := make([]*Result, len(rules))
	g, _ := errgroup.WithContext(ctx)
	for i, rule := range rules {
		g.Go(func() error {
			results[i] = e.evaluateRule(rule, events, now)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	confidenceByEvent := make(map[string]float64, len(events))
	for _, ev := range events {
		confidenceByEvent[ev.ID] = ev.Confidence
	}

	batch := &EvaluationBatch{}
	for _, res := range results {
		eval := &GoalEvaluation{
			ID:                  uuid.NewString(),
			GoalRuleID:          res.GoalRuleID,
			EvaluatedAt:         now,
			Status:              res.Status,
			CompletionsInWindow: res.CompletionsInWindow,
			RequiredInWindow:    res.RequiredInWindow,
			PendingWindows:      res.PendingWindows,
			LastSuccessAt:       res.LastSuccessAt,
			LastFailAt:          res.LastFailAt,
			LastFailReason:      res.LastFailReason,
			Confidence:          meanConfidence(res.Impacts, confidenceByEvent),
		}
		batch.Evaluations = append(batch.Evaluations, eval)
		for i := range res.Impacts {
			im := res.Impacts[i]
			im.ID = uuid.NewString()
			im.CreatedAt = now
			batch.Impacts = append(batch.Impacts, &im)
		}
	}

	if persist {
		if err := e.persist(ctx, batch, triggerEventID); err != nil {
			return nil, err
		}
		metrics.EvaluationPasses.Inc()
		metrics.EvaluationDuration.Observe(time.Since(start).Seconds())
		e.log.Info("evaluation pass complete",
			"rules", len(rules),
			"events", len(events),
			"trigger_event_id", triggerEventID,
			"duration", time.Since(start))
	}
	return batch, nil
}

// evaluateRule dispatches on the rule-type tag. The switch is exhaustive
// over declared types; gate and compound are declared shapes with no
// evaluation semantics yet and share the unsupported path.
func (e *Engine) evaluateRule(rule *GoalRule, events []*NormalizedEvent, now time.Time) *Result {
	switch rule.RuleType {
	case RuleTypeSequence:
		return evaluateSequence(rule, events, now, e.filters)
	case RuleTypeCount:
		return evaluateCount(rule, events, now, e.filters)
	case RuleTypeGate, RuleTypeCompound:
		fallthrough
	default:
		return &Result{
			GoalRuleID:       rule.ID,
			Status:           StatusOffTrack,
			RequiredInWindow: rule.RequiredCompletions,
			LastFailReason:   fmt.Sprintf("unsupported rule type: %s", rule.RuleType),
		}
	}
}

// persist appends all snapshots, then the impact records attributable to
// the trigger event. With no trigger, nothing enters the audit trail.
func (e *Engine) persist(ctx context.Context, batch *EvaluationBatch, triggerEventID string) error {
	for _, eval := range batch.Evaluations {
		if err := e.evals.Add(ctx, eval); err != nil {
			return fmt.Errorf("failed to persist evaluation for rule %s: %w", eval.GoalRuleID, err)
		}
		metrics.SnapshotsWritten.Inc()
	}
	if triggerEventID == "" {
		return nil
	}
	for _, im := range batch.Impacts {
		if im.EventID != triggerEventID {
			continue
		}
		if err := e.impacts.Add(ctx, im); err != nil {
			return fmt.Errorf("failed to persist impact for rule %s: %w", im.GoalRuleID, err)
		}
		metrics.ImpactsWritten.Inc()
	}
	return nil
}

// Status returns the latest snapshot per active rule, priority descending.
func (e *Engine) Status(ctx context.Context) ([]*GoalStatus, error) {
	rules, err := e.activeRules(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch active rules: %w", err)
	}

	out := make([]*GoalStatus, 0, len(rules))
	for _, rule := range rules {
		eval, err := e.evals.Latest(ctx, rule.ID)
		if err != nil && !errors.Is(err, ErrNotFound) {
			return nil, fmt.Errorf("failed to fetch latest evaluation for rule %s: %w", rule.ID, err)
		}
		out = append(out, &GoalStatus{Rule: rule, Evaluation: eval})
	}
	return out, nil
}

func (e *Engine) activeRules(ctx context.Context) ([]*GoalRule, error) {
	if rules := e.cache.Get(); rules != nil {
		return rules, nil
	}
	rules, err := e.rules.ListActive(ctx)
	if err != nil {
		return nil, err
	}
	e.cache.Set(rules)
	return rules, nil
}

// effectiveWindowDays is the widest window a rule can consult: count rules
// may carry their own rolling_days distinct from the rule-level window.
func effectiveWindowDays(rule *GoalRule) int {
	days := rule.RollingWindowDays
	if rule.RuleType == RuleTypeCount && rule.Config.Count != nil && rule.Config.Count.RollingDays > days {
		days = rule.Config.Count.RollingDays
	}
	return days
}

// meanConfidence averages the confidence of the distinct events implicated
// by a rule's impacts, defaulting to 1 when none were.
func meanConfidence(impacts []DecisionImpact, byEvent map[string]float64) float64 {
	seen := make(map[string]bool)
	sum := 0.0
	for _, im := range impacts {
		if seen[im.EventID] {
			continue
		}
		seen[im.EventID] = true
		c, ok := byEvent[im.EventID]
		if !ok {
			c = 1
		}
		sum += c
	}
	if len(seen) == 0 {
		return 1
	}
	return sum / float64(len(seen))
}

// mergeByTime merges two ascending event slices into one ascending slice.
func mergeByTime(a, b []*NormalizedEvent) []*NormalizedEvent {
	out := make([]*NormalizedEvent, 0, len(a)+len(b))
	out = append(out, a...)
	out = append(out, b...)
	// b may be unsorted (hypothetical events arrive in request order).
	sortEventsByTime(out)
	return out
}
