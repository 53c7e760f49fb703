// Package priority computes an explainable 0-100 priority score per
// document from entity criticality, history, attribution, recency and
// extraction confidence.
package priority

import (
	"math"
	"strings"

	"github.com/tphakala/threatlink/internal/canonical"
	"github.com/tphakala/threatlink/internal/datastore/entities"
)

// Component weights of the overall score.
const (
	WeightCriticality = 0.35
	WeightHistorical  = 0.25
	WeightActor       = 0.20
	WeightRecency     = 0.10
	WeightConfidence  = 0.10
)

// Level cutoffs, inclusive.
const (
	CriticalCutoff = 80.0
	HighCutoff     = 60.0
	MediumCutoff   = 40.0
)

// unknownAgeRecency is used when a document has no timestamp.
const unknownAgeRecency = 50.0

// ExploitationTechniques are ATT&CK techniques that indicate active
// exploitation. Sub-techniques match through their base code.
var ExploitationTechniques = map[string]struct{}{
	"T1190": {}, // exploit public-facing application
	"T1203": {}, // exploitation for client execution
	"T1210": {}, // exploitation of remote services
	"T1211": {}, // exploitation for defense evasion
	"T1212": {}, // exploitation for credential access
	"T1068": {}, // exploitation for privilege escalation
}

// Inputs are the facts a priority score is derived from.
type Inputs struct {
	Indicators           int
	Techniques           int
	Actors               int
	HasCriticalIndicator bool
	Relationships        int
	HighScoreRelations   int
	// AgeDays is nil when the document has no timestamp.
	AgeDays           *float64
	MeanConfidence    float64
	TechniqueCodes    []string
	HasActiveCampaign bool
}

// Breakdown is a computed score with its components.
type Breakdown struct {
	EntityCriticality float64
	HistoricalContext float64
	ActorAttribution  float64
	Recency           float64
	Confidence        float64
	Overall           float64
	Level             entities.PriorityLevel

	HasActiveCampaign         bool
	HasKnownActor             bool
	HasCriticalIndicators     bool
	HasExploitationTechniques bool
}

// Compute derives the breakdown from inputs. Every component and the
// overall score lie in [0,100].
func Compute(in Inputs) Breakdown {
	crit := math.Min(float64(in.Indicators)*5, 40) + math.Min(float64(in.Techniques)*8, 40)
	if in.HasCriticalIndicator {
		crit += 20
	}

	hist := math.Min(float64(in.Relationships)*15, 60) + math.Min(float64(in.HighScoreRelations)*10, 40)

	b := Breakdown{
		EntityCriticality:         clamp100(crit),
		HistoricalContext:         clamp100(hist),
		ActorAttribution:          clamp100(float64(in.Actors) * 40),
		Recency:                   Recency(in.AgeDays),
		Confidence:                clamp100(in.MeanConfidence),
		HasActiveCampaign:         in.HasActiveCampaign,
		HasKnownActor:             in.Actors > 0,
		HasCriticalIndicators:     in.HasCriticalIndicator,
		HasExploitationTechniques: hasExploitation(in.TechniqueCodes),
	}
	b.Overall = round2(clamp100(WeightCriticality*b.EntityCriticality +
		WeightHistorical*b.HistoricalContext +
		WeightActor*b.ActorAttribution +
		WeightRecency*b.Recency +
		WeightConfidence*b.Confidence))
	b.Level = LevelFor(b.Overall)
	return b
}

// Recency scores document age in days.
func Recency(ageDays *float64) float64 {
	if ageDays == nil {
		return unknownAgeRecency
	}
	age := *ageDays
	switch {
	case age < 1:
		return 100
	case age < 7:
		return 90
	case age < 30:
		return 70
	case age < 90:
		return 50
	}
	return math.Max(30-0.1*(age-90), 0)
}

// LevelFor buckets an overall score. Cutoffs are inclusive.
func LevelFor(overall float64) entities.PriorityLevel {
	switch {
	case overall >= CriticalCutoff:
		return entities.PriorityCritical
	case overall >= HighCutoff:
		return entities.PriorityHigh
	case overall >= MediumCutoff:
		return entities.PriorityMedium
	}
	return entities.PriorityLow
}

// Explanation renders the breakdown and its inputs for storage.
func (b *Breakdown) Explanation(in Inputs) map[string]any {
	return map[string]any{
		"components": map[string]float64{
			"entity_criticality": b.EntityCriticality,
			"historical_context": b.HistoricalContext,
			"actor_attribution":  b.ActorAttribution,
			"recency":            b.Recency,
			"confidence":         b.Confidence,
		},
		"weights": map[string]float64{
			"entity_criticality": WeightCriticality,
			"historical_context": WeightHistorical,
			"actor_attribution":  WeightActor,
			"recency":            WeightRecency,
			"confidence":         WeightConfidence,
		},
		"inputs": map[string]any{
			"indicators":             in.Indicators,
			"techniques":             in.Techniques,
			"actors":                 in.Actors,
			"critical_indicator":     in.HasCriticalIndicator,
			"relationships":          in.Relationships,
			"high_score_relations":   in.HighScoreRelations,
			"age_days":               in.AgeDays,
			"mean_confidence":        in.MeanConfidence,
			"exploitation_technique": b.HasExploitationTechniques,
		},
		"overall": b.Overall,
		"level":   b.Level,
	}
}

func hasExploitation(codes []string) bool {
	for _, code := range codes {
		if _, ok := ExploitationTechniques[canonical.BaseTechnique(strings.ToUpper(code))]; ok {
			return true
		}
	}
	return false
}

func clamp100(v float64) float64 {
	switch {
	case math.IsNaN(v) || v < 0:
		return 0
	case v > 100:
		return 100
	}
	return v
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
