package priority

import (
	"context"
	"time"

	"github.com/tphakala/threatlink/internal/conf"
	"github.com/tphakala/threatlink/internal/datastore"
	"github.com/tphakala/threatlink/internal/datastore/entities"
	"github.com/tphakala/threatlink/internal/datastore/repository"
	"github.com/tphakala/threatlink/internal/errors"
	"github.com/tphakala/threatlink/internal/logger"
	"github.com/tphakala/threatlink/internal/observability/metrics"
)

// Scorer gathers a document's facts from the store and upserts its score.
type Scorer struct {
	store    *repository.Store
	retrier  *datastore.Retrier
	recorder metrics.Recorder
	now      func() time.Time
}

// Option configures a Scorer.
type Option func(*Scorer)

// WithClock overrides the time source used for document age.
func WithClock(now func() time.Time) Option {
	return func(s *Scorer) { s.now = now }
}

// WithRecorder sets the metrics recorder.
func WithRecorder(r metrics.Recorder) Option {
	return func(s *Scorer) { s.recorder = metrics.OrNop(r) }
}

// NewScorer creates a Scorer.
func NewScorer(store *repository.Store, retrier *datastore.Retrier, opts ...Option) *Scorer {
	if retrier == nil {
		retrier = datastore.NewRetrier(nil)
	}
	s := &Scorer{store: store, retrier: retrier, recorder: metrics.NopRecorder{}, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Score computes and stores the document's priority.
func (s *Scorer) Score(ctx context.Context, documentID string, settings *conf.CorrelationSettings) (*entities.PriorityScore, error) {
	start := time.Now()

	in, err := s.gather(ctx, documentID, settings)
	if err != nil {
		return nil, s.fail(err, documentID)
	}

	b := Compute(*in)
	score := &entities.PriorityScore{
		DocumentID:                documentID,
		EntityCriticality:         b.EntityCriticality,
		HistoricalContext:         b.HistoricalContext,
		ActorAttribution:          b.ActorAttribution,
		Recency:                   b.Recency,
		Confidence:                b.Confidence,
		Overall:                   b.Overall,
		PriorityLevel:             b.Level,
		HasActiveCampaign:         b.HasActiveCampaign,
		HasKnownActor:             b.HasKnownActor,
		HasCriticalIndicators:     b.HasCriticalIndicators,
		HasExploitationTechniques: b.HasExploitationTechniques,
		ScoreExplanation:          b.Explanation(*in),
		CalculatedAt:              s.now().UTC(),
	}

	err = s.retrier.Do(ctx, "priority", func(ctx context.Context) error {
		return s.store.Priorities.Upsert(ctx, score)
	})
	if err != nil {
		return nil, s.fail(err, documentID)
	}

	s.recorder.RecordOperation(metrics.OpPriority, string(b.Level))
	s.recorder.RecordDuration(metrics.OpPriority, time.Since(start).Seconds())
	GetLogger().Debug("priority scored",
		logger.String("document_id", documentID),
		logger.Float64("overall", b.Overall),
		logger.String("level", string(b.Level)))
	return score, nil
}

func (s *Scorer) gather(ctx context.Context, documentID string, settings *conf.CorrelationSettings) (*Inputs, error) {
	doc, err := s.store.Documents.Get(ctx, documentID)
	if err != nil {
		return nil, err
	}

	links, err := s.store.Links.ListByDocument(ctx, documentID)
	if err != nil {
		return nil, err
	}

	ids := make([]uint, 0, len(links))
	for _, l := range links {
		ids = append(ids, l.EntityID)
	}
	linked, err := s.store.Entities.GetByIDs(ctx, ids)
	if err != nil {
		return nil, err
	}

	in := &Inputs{}
	counted := 0
	confidenceSum := 0
	for _, l := range links {
		e, ok := linked[l.EntityID]
		// inactive and false-positive entities do not raise priority
		if !ok || !e.IsActive || e.IsFalsePositive {
			continue
		}
		counted++
		confidenceSum += l.Confidence
		switch l.EntityKind {
		case entities.KindIndicator:
			in.Indicators++
			if l.Confidence >= settings.CriticalConfidence {
				in.HasCriticalIndicator = true
			}
		case entities.KindTechnique:
			in.Techniques++
			in.TechniqueCodes = append(in.TechniqueCodes, e.CanonicalValue)
		case entities.KindActor:
			in.Actors++
		}
	}
	if counted > 0 {
		in.MeanConfidence = float64(confidenceSum) / float64(counted)
	}

	rels, err := s.store.Relationships.ListBySource(ctx, documentID, 0, 0)
	if err != nil {
		return nil, err
	}
	in.Relationships = len(rels)
	for _, r := range rels {
		if r.OverallScore >= settings.CampaignScoreThreshold {
			in.HighScoreRelations++
		}
	}

	if ref := doc.ReferenceTime(); !ref.IsZero() {
		age := s.now().Sub(ref).Hours() / 24
		if age < 0 {
			age = 0
		}
		in.AgeDays = &age
	}

	m, err := s.store.Campaigns.MembershipForDocument(ctx, documentID)
	switch {
	case errors.Is(err, repository.ErrMembershipNotFound):
	case err != nil:
		return nil, err
	default:
		c, err := s.store.Campaigns.Get(ctx, m.CampaignID)
		if err != nil {
			return nil, err
		}
		in.HasActiveCampaign = c.Status == entities.CampaignActive
	}
	return in, nil
}

func (s *Scorer) fail(err error, documentID string) error {
	category := errors.CategoryProcessing
	switch {
	case errors.Is(err, repository.ErrDocumentNotFound):
		category = errors.CategoryNotFound
	case errors.IsConflict(err):
		category = errors.CategoryConflict
	}
	s.recorder.RecordError(metrics.OpPriority, string(category))
	return errors.New(err).
		Component("priority").
		Category(category).
		Context("document_id", documentID).
		Build()
}
