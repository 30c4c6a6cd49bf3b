package goals

import "time"

// atRiskHorizon is how close a pending window's deadline must be before the
// goal flips to at_risk.
const atRiskHorizon = time.Hour

// classifySequence derives the status label for a sequence rule from its
// current metrics. Stateless: no transition table, every pass recomputes.
func classifySequence(completions, required int, pending []PendingWindow, now time.Time) Status {
	if required > 0 && completions >= required {
		return StatusCompleted
	}
	for _, w := range pending {
		if w.WindowEnd.Sub(now) < atRiskHorizon {
			return StatusAtRisk
		}
	}
	if len(pending) > 0 || completions > 0 {
		return StatusOnTrack
	}
	return StatusOffTrack
}

// classifyCount maps a count against its requirement onto the status
// lattice: >=100% completed, >=70% on_track, >=30% at_risk, else off_track.
func classifyCount(count, required int) Status {
	if required <= 0 {
		required = 1
	}
	ratio := float64(count) / float64(required)
	switch {
	case count >= required:
		return StatusCompleted
	case ratio >= 0.7:
		return StatusOnTrack
	case ratio >= 0.3:
		return StatusAtRisk
	default:
		return StatusOffTrack
	}
}
