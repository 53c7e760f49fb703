package similarity

import (
	"math"

	"github.com/tphakala/threatlink/internal/conf"
	"github.com/tphakala/threatlink/internal/datastore/entities"
	"github.com/tphakala/threatlink/internal/datastore/repository"
)

// scorePrecision rounds overall scores so threshold comparisons are not at
// the mercy of float summation order.
const scorePrecision = 1e6

// PairScore is the scored comparison of a source document with a candidate.
type PairScore struct {
	IndicatorOverlap   float64
	TechniqueOverlap   float64
	ActorMatch         float64
	SemanticSimilarity *float64
	Overall            float64

	SharedIndicatorIDs []uint
	SharedTechniqueIDs []uint
	SharedActorIDs     []uint
	Types              []entities.RelationshipType
}

// SharedCount returns the number of shared entities across all kinds.
func (p *PairScore) SharedCount() int {
	return len(p.SharedIndicatorIDs) + len(p.SharedTechniqueIDs) + len(p.SharedActorIDs)
}

// ScorePair computes per-dimension overlaps and the weighted overall score.
// semantic is nil when the semantic dimension is disabled or not
// applicable; the structural weights are then used as they are.
func ScorePair(source, candidate repository.EntitySets, semantic *float64, settings *conf.CorrelationSettings) PairScore {
	var p PairScore
	p.IndicatorOverlap, p.SharedIndicatorIDs = Jaccard(source[entities.KindIndicator], candidate[entities.KindIndicator])
	p.TechniqueOverlap, p.SharedTechniqueIDs = Jaccard(source[entities.KindTechnique], candidate[entities.KindTechnique])
	p.ActorMatch, p.SharedActorIDs = Jaccard(source[entities.KindActor], candidate[entities.KindActor])

	w := settings.Weights
	overall := p.IndicatorOverlap*w.Indicator + p.TechniqueOverlap*w.Technique + p.ActorMatch*w.Actor
	if semantic != nil {
		s := clamp01(*semantic)
		p.SemanticSimilarity = &s
		overall += s * w.Semantic
	}
	p.Overall = math.Round(clamp01(overall)*scorePrecision) / scorePrecision

	if len(p.SharedIndicatorIDs) > 0 {
		p.Types = append(p.Types, entities.RelIndicatorMatch)
	}
	if len(p.SharedTechniqueIDs) > 0 {
		p.Types = append(p.Types, entities.RelTechniqueMatch)
	}
	if len(p.SharedActorIDs) > 0 {
		p.Types = append(p.Types, entities.RelActorMatch)
	}
	if p.SemanticSimilarity != nil && *p.SemanticSimilarity >= settings.SemanticThreshold {
		p.Types = append(p.Types, entities.RelSemanticSimilar)
	}
	return p
}

// Rejection explains why a pair was not persisted.
type Rejection string

const (
	RejectBelowMinimumScore Rejection = "below_minimum_score"
	RejectTooFewShared      Rejection = "too_few_shared_entities"
	RejectNoExactMatch      Rejection = "no_exact_match"
)

// Filter applies the persistence filters. It returns "" when the pair is kept.
func (p *PairScore) Filter(settings *conf.CorrelationSettings) Rejection {
	switch {
	case p.Overall < settings.MinimumScore:
		return RejectBelowMinimumScore
	case p.SharedCount() < settings.MinimumSharedEntities:
		return RejectTooFewShared
	case settings.RequireExactMatch && len(p.SharedIndicatorIDs)+len(p.SharedTechniqueIDs) == 0:
		return RejectNoExactMatch
	}
	return ""
}

func clamp01(v float64) float64 {
	switch {
	case math.IsNaN(v) || v < 0:
		return 0
	case v > 1:
		return 1
	}
	return v
}
