package goals

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFilterMatchesMagnitude(t *testing.T) {
	filters := newTestFilters(t)
	pattern := EventPattern{Name: "protein_bolus", Filter: "magnitude >= 30.0"}

	big := 40.0
	small := 10.0
	at := time.Now()

	assert.True(t, filters.Matches(pattern, &NormalizedEvent{
		EventName: "protein_bolus", OccurredAt: at, Magnitude: &big, Confidence: 1,
	}))
	assert.False(t, filters.Matches(pattern, &NormalizedEvent{
		EventName: "protein_bolus", OccurredAt: at, Magnitude: &small, Confidence: 1,
	}))
	// Missing magnitude evaluates as 0.
	assert.False(t, filters.Matches(pattern, &NormalizedEvent{
		EventName: "protein_bolus", OccurredAt: at, Confidence: 1,
	}))
}

func TestFilterMatchesMetadata(t *testing.T) {
	filters := newTestFilters(t)
	pattern := EventPattern{Name: "meal", Filter: `metadata.meal_type == "breakfast"`}

	assert.True(t, filters.Matches(pattern, &NormalizedEvent{
		EventName: "meal",
		Metadata:  map[string]any{"meal_type": "breakfast"},
	}))
	assert.False(t, filters.Matches(pattern, &NormalizedEvent{
		EventName: "meal",
		Metadata:  map[string]any{"meal_type": "dinner"},
	}))
	// A key miss is a runtime error, which counts as a non-match.
	assert.False(t, filters.Matches(pattern, &NormalizedEvent{
		EventName: "meal",
	}))
}

func TestFilterCompileErrorSurfacesViaCheck(t *testing.T) {
	filters := newTestFilters(t)

	err := filters.Check(EventPattern{Name: "meal", Filter: "magnitude >="})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid filter")

	assert.NoError(t, filters.Check(EventPattern{Name: "meal"}))
}

func TestFilterConfigErrorMarksRuleOffTrack(t *testing.T) {
	filters := newTestFilters(t)
	rule := &GoalRule{
		ID:                "r1",
		RuleType:          RuleTypeSequence,
		RollingWindowDays: 7,
		Config: RuleConfig{Sequence: &SequenceConfig{
			Events: []EventPattern{
				{Name: "meal", Filter: "not a valid === expression"},
				{Name: "supplement"},
			},
			MaxHours: 2,
		}},
	}

	res := evaluateSequence(rule, nil, testBase, filters)
	assert.Equal(t, StatusOffTrack, res.Status)
	assert.Contains(t, res.LastFailReason, "invalid filter")
}
