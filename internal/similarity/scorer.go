package similarity

import (
	"cmp"
	"context"
	"slices"
	"time"

	"github.com/tphakala/threatlink/internal/candidates"
	"github.com/tphakala/threatlink/internal/conf"
	"github.com/tphakala/threatlink/internal/datastore"
	"github.com/tphakala/threatlink/internal/datastore/entities"
	"github.com/tphakala/threatlink/internal/datastore/repository"
	"github.com/tphakala/threatlink/internal/errors"
	"github.com/tphakala/threatlink/internal/logger"
	"github.com/tphakala/threatlink/internal/observability/metrics"
)

// SemanticSource supplies document-level semantic similarity. ok is false
// when the value is not applicable.
type SemanticSource interface {
	Similarity(ctx context.Context, documentA, documentB string) (value float64, ok bool)
}

// Scorer scores a candidate set and upserts the surviving relationships.
type Scorer struct {
	store    *repository.Store
	retrier  *datastore.Retrier
	semantic SemanticSource
	recorder metrics.Recorder
}

// Option configures a Scorer.
type Option func(*Scorer)

// WithSemantic enables the semantic dimension source.
func WithSemantic(s SemanticSource) Option {
	return func(sc *Scorer) { sc.semantic = s }
}

// WithRecorder sets the metrics recorder.
func WithRecorder(r metrics.Recorder) Option {
	return func(sc *Scorer) { sc.recorder = metrics.OrNop(r) }
}

// NewScorer creates a Scorer.
func NewScorer(store *repository.Store, retrier *datastore.Retrier, opts ...Option) *Scorer {
	if retrier == nil {
		retrier = datastore.NewRetrier(nil)
	}
	s := &Scorer{store: store, retrier: retrier, recorder: metrics.NopRecorder{}}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Score compares the source document with every candidate under the given
// configuration snapshot and persists the pairs that pass the filters. The
// source's earlier relationships that no longer qualify are removed in the
// same transaction; campaign evidence is kept with its recomputed scores.
// The result is ordered by overall score, best first.
func (s *Scorer) Score(ctx context.Context, set *candidates.Set, active *conf.ActiveCorrelation) ([]*entities.Relationship, error) {
	start := time.Now()
	settings := &active.Settings
	ids := set.Sorted()

	var candidateSets map[string]repository.EntitySets
	if len(ids) > 0 {
		var err error
		candidateSets, err = s.store.Links.EntitySetsForDocuments(ctx, ids)
		if err != nil {
			return nil, s.fail(err, set.DocumentID)
		}
	}

	weights := entities.ScoreWeights(settings.Weights)
	seen := make(map[string]struct{}, len(ids))
	var pending, demoted []*entities.Relationship
	rejected := make(map[Rejection]int)

	for _, id := range ids {
		if _, dup := seen[id]; dup || id == set.DocumentID {
			continue
		}
		seen[id] = struct{}{}

		var semantic *float64
		if settings.SemanticEnabled && s.semantic != nil {
			if v, ok := s.semantic.Similarity(ctx, set.DocumentID, id); ok {
				semantic = &v
			}
		}

		pair := ScorePair(set.Source, candidateSets[id], semantic, settings)
		rel := &entities.Relationship{
			SourceDocumentID:   set.DocumentID,
			RelatedDocumentID:  id,
			IndicatorOverlap:   pair.IndicatorOverlap,
			TechniqueOverlap:   pair.TechniqueOverlap,
			ActorMatch:         pair.ActorMatch,
			SemanticSimilarity: pair.SemanticSimilarity,
			OverallScore:       pair.Overall,
			SharedIndicatorIDs: pair.SharedIndicatorIDs,
			SharedTechniqueIDs: pair.SharedTechniqueIDs,
			SharedActorIDs:     pair.SharedActorIDs,
			SharedEntityCount:  pair.SharedCount(),
			RelationshipTypes:  pair.Types,
			LookbackDays:       settings.LookbackDays,
			Weights:            weights,
			ConfigVersion:      active.Version,
		}
		if reason := pair.Filter(settings); reason != "" {
			rejected[reason]++
			demoted = append(demoted, rel)
			continue
		}
		pending = append(pending, rel)
	}

	keep := make([]string, 0, len(pending))
	for _, rel := range pending {
		keep = append(keep, rel.RelatedDocumentID)
	}

	var (
		persisted []*entities.Relationship
		pruned    int64
	)
	err := s.retrier.Do(ctx, "relationships", func(ctx context.Context) error {
		persisted = persisted[:0]
		return s.store.Transaction(ctx, func(tx *repository.Store) error {
			n, err := tx.Relationships.PruneBySource(ctx, set.DocumentID, keep)
			if err != nil {
				return err
			}
			pruned = n
			// Only campaign evidence survives the prune; refresh its scores.
			for _, rel := range demoted {
				if _, err := tx.Relationships.Rescore(ctx, rel); err != nil {
					return err
				}
			}
			for _, rel := range pending {
				saved, err := tx.Relationships.Upsert(ctx, rel)
				if err != nil {
					return err
				}
				persisted = append(persisted, saved)
			}
			return nil
		})
	})
	if err != nil {
		return nil, s.fail(err, set.DocumentID)
	}

	slices.SortFunc(persisted, func(a, b *entities.Relationship) int {
		if c := cmp.Compare(b.OverallScore, a.OverallScore); c != 0 {
			return c
		}
		return cmp.Compare(a.RelatedDocumentID, b.RelatedDocumentID)
	})

	s.recorder.RecordCount(metrics.OpRelationship, float64(len(persisted)))
	s.recorder.RecordDuration(metrics.OpScore, time.Since(start).Seconds())

	log := GetLogger().With(logger.String("document_id", set.DocumentID))
	log.Debug("candidates scored",
		logger.Int("candidates", len(seen)),
		logger.Int("persisted", len(persisted)),
		logger.Int64("pruned", pruned),
		logger.Int("below_minimum_score", rejected[RejectBelowMinimumScore]),
		logger.Int("too_few_shared", rejected[RejectTooFewShared]),
		logger.Int("no_exact_match", rejected[RejectNoExactMatch]))
	return persisted, nil
}

func (s *Scorer) fail(err error, documentID string) error {
	category := errors.CategoryDatabase
	if errors.IsConflict(err) {
		category = errors.CategoryConflict
	}
	s.recorder.RecordError(metrics.OpScore, string(category))
	return errors.New(err).
		Component("similarity").
		Category(category).
		Context("document_id", documentID).
		Build()
}
