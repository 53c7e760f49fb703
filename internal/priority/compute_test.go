package priority

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/tphakala/threatlink/internal/datastore/entities"
)

func ptr(v float64) *float64 { return &v }

func TestLevelForBoundariesAreInclusive(t *testing.T) {
	tests := []struct {
		overall float64
		want    entities.PriorityLevel
	}{
		{100, entities.PriorityCritical},
		{80, entities.PriorityCritical},
		{79.99, entities.PriorityHigh},
		{60, entities.PriorityHigh},
		{59.99, entities.PriorityMedium},
		{40, entities.PriorityMedium},
		{39.99, entities.PriorityLow},
		{0, entities.PriorityLow},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, LevelFor(tt.overall), "overall %.2f", tt.overall)
	}
}

func TestRecency(t *testing.T) {
	tests := []struct {
		name string
		age  *float64
		want float64
	}{
		{"unknown", nil, 50},
		{"hours old", ptr(0.5), 100},
		{"days old", ptr(3), 90},
		{"weeks old", ptr(20), 70},
		{"months old", ptr(60), 50},
		{"just past 90", ptr(100), 29},
		{"very old", ptr(1000), 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, Recency(tt.age), 1e-9)
		})
	}
}

func TestComputeCapsComponents(t *testing.T) {
	b := Compute(Inputs{
		Indicators:           50,
		Techniques:           50,
		Actors:               5,
		HasCriticalIndicator: true,
		Relationships:        10,
		HighScoreRelations:   10,
		AgeDays:              ptr(0),
		MeanConfidence:       100,
	})
	assert.InDelta(t, 100, b.EntityCriticality, 1e-9)
	assert.InDelta(t, 100, b.HistoricalContext, 1e-9)
	assert.InDelta(t, 100, b.ActorAttribution, 1e-9)
	assert.InDelta(t, 100, b.Overall, 1e-9)
	assert.Equal(t, entities.PriorityCritical, b.Level)
	assert.True(t, b.HasKnownActor)
}

func TestComputeWeightedOverall(t *testing.T) {
	in := Inputs{
		Indicators:     2,  // 10
		Techniques:     1,  // 8
		Relationships:  1,  // 15
		AgeDays:        ptr(3),
		MeanConfidence: 65,
		TechniqueCodes: []string{"t1190.001"},
	}
	b := Compute(in)

	assert.InDelta(t, 18, b.EntityCriticality, 1e-9)
	assert.InDelta(t, 15, b.HistoricalContext, 1e-9)
	assert.Zero(t, b.ActorAttribution)
	// 0.35*18 + 0.25*15 + 0 + 0.10*90 + 0.10*65
	assert.InDelta(t, 25.55, b.Overall, 1e-9)
	assert.Equal(t, entities.PriorityLow, b.Level)
	assert.True(t, b.HasExploitationTechniques)
	assert.False(t, b.HasKnownActor)

	exp := b.Explanation(in)
	assert.Equal(t, b.Level, exp["level"])
	assert.Contains(t, exp, "components")
}
