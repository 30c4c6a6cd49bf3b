package goals

import "time"

// evaluateCount counts occurrences of a single pattern inside its rolling
// window. The config's window and required count take precedence, falling
// back to the rule-level values when unset.
func evaluateCount(rule *GoalRule, events []*NormalizedEvent, now time.Time, filters *FilterSet) *Result {
	res := &Result{GoalRuleID: rule.ID}

	cfg := rule.Config.Count
	if cfg == nil || cfg.Event.Name == "" {
		res.Status = StatusOffTrack
		res.LastFailReason = "count rule requires an event pattern"
		return res
	}
	if err := filters.Check(cfg.Event); err != nil {
		res.Status = StatusOffTrack
		res.LastFailReason = err.Error()
		return res
	}

	days := cfg.RollingDays
	if days <= 0 {
		days = rule.RollingWindowDays
	}
	required := cfg.RequiredCount
	if required <= 0 {
		required = rule.RequiredCompletions
	}
	res.RequiredInWindow = required

	windowStart := now.AddDate(0, 0, -days)
	for _, ev := range events {
		if ev.OccurredAt.Before(windowStart) {
			continue
		}
		if !filters.Matches(cfg.Event, ev) {
			continue
		}
		res.CompletionsInWindow++
		t := ev.OccurredAt
		if res.LastSuccessAt == nil || t.After(*res.LastSuccessAt) {
			res.LastSuccessAt = &t
		}
	}

	res.Status = classifyCount(res.CompletionsInWindow, required)
	return res
}
