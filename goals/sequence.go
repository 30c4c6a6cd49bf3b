package goals

import (
	"fmt"
	"sort"
	"time"
)

// evaluateSequence runs the A-then-B matcher for one sequence rule against
// the shared event set. It is pure in (rule, events, now): no clock reads,
// no store access, no mutation of the inputs.
//
// Matching is greedy first-fit: A-events are processed in ascending time
// order and each takes the earliest unused B-event inside its tolerance
// window. This is not a globally optimal bipartite match; changing the
// policy would change historical completion counts, so it stays.
func evaluateSequence(rule *GoalRule, events []*NormalizedEvent, now time.Time, filters *FilterSet) *Result {
	res := &Result{
		GoalRuleID:       rule.ID,
		RequiredInWindow: rule.RequiredCompletions,
	}

	cfg := rule.Config.Sequence
	if cfg == nil || len(cfg.Events) < 2 {
		res.Status = StatusOffTrack
		res.LastFailReason = "sequence rule requires at least 2 events"
		return res
	}
	patternA, patternB := cfg.Events[0], cfg.Events[1]
	for _, p := range []EventPattern{patternA, patternB} {
		if err := filters.Check(p); err != nil {
			res.Status = StatusOffTrack
			res.LastFailReason = err.Error()
			return res
		}
	}

	windowStart := now.AddDate(0, 0, -rule.RollingWindowDays)

	var aEvents, bEvents []*NormalizedEvent
	for _, ev := range events {
		if ev.OccurredAt.Before(windowStart) {
			continue
		}
		if filters.Matches(patternA, ev) {
			aEvents = append(aEvents, ev)
		}
		if filters.Matches(patternB, ev) {
			bEvents = append(bEvents, ev)
		}
	}
	sort.Slice(aEvents, func(i, j int) bool { return aEvents[i].OccurredAt.Before(aEvents[j].OccurredAt) })
	sort.Slice(bEvents, func(i, j int) bool { return bEvents[i].OccurredAt.Before(bEvents[j].OccurredAt) })

	minOffset := hoursToDuration(cfg.MinHours)
	maxOffset := hoursToDuration(cfg.MaxHours)
	usedB := make(map[string]bool)

	for _, a := range aEvents {
		lo := a.OccurredAt.Add(minOffset)
		hi := a.OccurredAt.Add(maxOffset)

		var match *NormalizedEvent
		for _, b := range bEvents {
			if usedB[b.ID] || b.ID == a.ID {
				continue
			}
			// Boundary times are inclusive matches.
			if b.OccurredAt.Before(lo) {
				continue
			}
			if b.OccurredAt.After(hi) {
				break
			}
			match = b
			break
		}

		if match != nil {
			usedB[match.ID] = true
			res.CompletionsInWindow++
			t := match.OccurredAt
			if res.LastSuccessAt == nil || t.After(*res.LastSuccessAt) {
				res.LastSuccessAt = &t
			}
			res.Impacts = append(res.Impacts, DecisionImpact{
				GoalRuleID: rule.ID,
				EventID:    match.ID,
				ImpactType: ImpactWindowCompleted,
				Details: map[string]any{
					"event_a_id":   a.ID,
					"event_a_name": patternA.Name,
					"window_start": lo,
					"window_end":   hi,
				},
			})
			continue
		}

		if hi.After(now) {
			res.PendingWindows = append(res.PendingWindows, PendingWindow{
				EventAName:  patternA.Name,
				EventATime:  a.OccurredAt,
				WindowStart: lo,
				WindowEnd:   hi,
				EventAID:    a.ID,
			})
			res.Impacts = append(res.Impacts, DecisionImpact{
				GoalRuleID: rule.ID,
				EventID:    a.ID,
				ImpactType: ImpactWindowCreated,
				Details: map[string]any{
					"awaiting":     patternB.Name,
					"window_start": lo,
					"window_end":   hi,
				},
			})
			continue
		}

		// Window closed without a B: a fail, stamped at the window end.
		failAt := hi
		if res.LastFailAt == nil || failAt.After(*res.LastFailAt) {
			res.LastFailAt = &failAt
			res.LastFailReason = fmt.Sprintf("%s did not occur within %g-%gh after %s",
				patternB.Name, cfg.MinHours, cfg.MaxHours, patternA.Name)
		}
		res.Impacts = append(res.Impacts, DecisionImpact{
			GoalRuleID: rule.ID,
			EventID:    a.ID,
			ImpactType: ImpactWindowExpired,
			Details: map[string]any{
				"expected":     patternB.Name,
				"window_start": lo,
				"window_end":   hi,
			},
		})
	}

	res.Status = classifySequence(res.CompletionsInWindow, rule.RequiredCompletions, res.PendingWindows, now)
	return res
}

func hoursToDuration(hours float64) time.Duration {
	return time.Duration(hours * float64(time.Hour))
}
