package goals

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/google/uuid"
)

// ErrNoHypotheticalEvents rejects a what-if request before any computation.
var ErrNoHypotheticalEvents = errors.New("what-if requires at least one hypothetical event")

// GoalDiff is the per-rule outcome delta between baseline and simulation.
type GoalDiff struct {
	GoalRuleID       string `json:"goal_id"`
	BaselineStatus   Status `json:"baseline_status"`
	SimulatedStatus  Status `json:"simulated_status"`
	CompletionsDelta int    `json:"completions_delta"`
}

// Simulation holds both passes and their diff. Baseline snapshots were
// persisted exactly as a normal evaluate call; simulated snapshots never
// touch a store.
type Simulation struct {
	Baseline  []*GoalEvaluation `json:"baseline"`
	Simulated []*GoalEvaluation `json:"simulated"`
	Diff      []GoalDiff        `json:"diff"`
}

// Simulate answers "what would my goals look like if these events also
// happened". Hypothetical events get synthetic ids and are merged into the
// real set for a second, purely in-memory pass.
func (e *Engine) Simulate(ctx context.Context, hypothetical []*NormalizedEvent) (*Simulation, error) {
	if len(hypothetical) == 0 {
		return nil, ErrNoHypotheticalEvents
	}

	now := e.clock()
	baseline, err := e.evaluateAt(ctx, now, "", nil, true)
	if err != nil {
		return nil, fmt.Errorf("baseline evaluation failed: %w", err)
	}

	extra := make([]*NormalizedEvent, len(hypothetical))
	for i, h := range hypothetical {
		ev := *h
		ev.ID = "sim-" + uuid.NewString()
		if ev.Confidence == 0 {
			ev.Confidence = 1
		}
		extra[i] = &ev
	}

	simulated, err := e.evaluateAt(ctx, now, "", extra, false)
	if err != nil {
		return nil, fmt.Errorf("simulated evaluation failed: %w", err)
	}

	sim := &Simulation{
		Baseline:  baseline.Evaluations,
		Simulated: simulated.Evaluations,
	}

	baseByRule := make(map[string]*GoalEvaluation, len(baseline.Evaluations))
	for _, b := range baseline.Evaluations {
		baseByRule[b.GoalRuleID] = b
	}
	for _, s := range simulated.Evaluations {
		b, ok := baseByRule[s.GoalRuleID]
		if !ok {
			continue
		}
		sim.Diff = append(sim.Diff, GoalDiff{
			GoalRuleID:       s.GoalRuleID,
			BaselineStatus:   b.Status,
			SimulatedStatus:  s.Status,
			CompletionsDelta: s.CompletionsInWindow - b.CompletionsInWindow,
		})
	}
	return sim, nil
}

func sortEventsByTime(events []*NormalizedEvent) {
	sort.SliceStable(events, func(i, j int) bool {
		return events[i].OccurredAt.Before(events[j].OccurredAt)
	})
}
