package goals

import (
	"context"
	"errors"
	"testing"
	"time"
)

func mealSupplementRule() *GoalRule {
	return &GoalRule{
		ID:                  "ms1",
		Name:                "supplement after meal",
		RuleType:            RuleTypeSequence,
		RollingWindowDays:   7,
		RequiredCompletions: 1,
		Active:              true,
		Config: RuleConfig{Sequence: &SequenceConfig{
			Events:   []EventPattern{{Name: "meal"}, {Name: "supplement"}},
			MinHours: 0,
			MaxHours: 2,
		}},
	}
}

func TestSimulateDiff(t *testing.T) {
	te := newTestEngine(t)
	te.seed(t, []*GoalRule{mealSupplementRule()}, nil)

	hypo := []*NormalizedEvent{
		{EventName: "meal", OccurredAt: testBase.Add(-3 * time.Hour)},
		{EventName: "supplement", OccurredAt: testBase.Add(-2 * time.Hour)},
	}

	sim, err := te.engine.Simulate(context.Background(), hypo)
	if err != nil {
		t.Fatalf("Simulate() failed: %v", err)
	}

	if len(sim.Diff) != 1 {
		t.Fatalf("Diff entries = %d, want 1", len(sim.Diff))
	}
	d := sim.Diff[0]
	if d.BaselineStatus != StatusOffTrack {
		t.Errorf("BaselineStatus = %s, want off_track", d.BaselineStatus)
	}
	if d.SimulatedStatus != StatusCompleted {
		t.Errorf("SimulatedStatus = %s, want completed", d.SimulatedStatus)
	}
	if d.CompletionsDelta != 1 {
		t.Errorf("CompletionsDelta = %d, want 1", d.CompletionsDelta)
	}
}

func TestSimulateEmptyHypotheticalsRejected(t *testing.T) {
	te := newTestEngine(t)
	te.seed(t, []*GoalRule{mealSupplementRule()}, nil)

	_, err := te.engine.Simulate(context.Background(), nil)
	if !errors.Is(err, ErrNoHypotheticalEvents) {
		t.Errorf("Simulate(nil) error = %v, want ErrNoHypotheticalEvents", err)
	}
}

func TestSimulatePersistsBaselineOnly(t *testing.T) {
	te := newTestEngine(t)
	te.seed(t, []*GoalRule{mealSupplementRule()}, nil)

	hypo := []*NormalizedEvent{
		{EventName: "meal", OccurredAt: testBase.Add(-3 * time.Hour)},
		{EventName: "supplement", OccurredAt: testBase.Add(-2 * time.Hour)},
	}
	if _, err := te.engine.Simulate(context.Background(), hypo); err != nil {
		t.Fatalf("Simulate() failed: %v", err)
	}

	ctx := context.Background()
	snapshots, _ := te.evals.ListForRule(ctx, "ms1")
	if len(snapshots) != 1 {
		t.Fatalf("persisted snapshots = %d, want 1 (baseline only)", len(snapshots))
	}
	if snapshots[0].Status != StatusOffTrack {
		t.Errorf("persisted snapshot status = %s, want the baseline off_track", snapshots[0].Status)
	}

	// Hypothetical events never reach the event store.
	real, _ := te.events.ListSince(ctx, time.Time{})
	if len(real) != 0 {
		t.Errorf("event store has %d events, want 0", len(real))
	}
}

func TestSimulateMergesWithRealEvents(t *testing.T) {
	te := newTestEngine(t)
	te.seed(t, []*GoalRule{mealSupplementRule()}, []*NormalizedEvent{
		evt("m1", "meal", testBase.Add(-90*time.Minute)),
	})

	// The real meal plus a hypothetical supplement complete the pair.
	hypo := []*NormalizedEvent{
		{EventName: "supplement", OccurredAt: testBase.Add(-30 * time.Minute)},
	}
	sim, err := te.engine.Simulate(context.Background(), hypo)
	if err != nil {
		t.Fatalf("Simulate() failed: %v", err)
	}

	if sim.Diff[0].SimulatedStatus != StatusCompleted {
		t.Errorf("SimulatedStatus = %s, want completed", sim.Diff[0].SimulatedStatus)
	}
	if sim.Diff[0].CompletionsDelta != 1 {
		t.Errorf("CompletionsDelta = %d, want 1", sim.Diff[0].CompletionsDelta)
	}
}
