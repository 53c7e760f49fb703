package pipeline

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/tphakala/threatlink/internal/campaign"
	"github.com/tphakala/threatlink/internal/candidates"
	"github.com/tphakala/threatlink/internal/canonical"
	"github.com/tphakala/threatlink/internal/conf"
	"github.com/tphakala/threatlink/internal/datastore"
	"github.com/tphakala/threatlink/internal/datastore/entities"
	"github.com/tphakala/threatlink/internal/datastore/repository"
	"github.com/tphakala/threatlink/internal/errors"
	"github.com/tphakala/threatlink/internal/logger"
	"github.com/tphakala/threatlink/internal/observability/metrics"
	"github.com/tphakala/threatlink/internal/priority"
	"github.com/tphakala/threatlink/internal/semantic"
	"github.com/tphakala/threatlink/internal/similarity"
)

// Notifier publishes the outcome of a finished document run. Delivery
// failures never fail the run.
type Notifier interface {
	Notify(ctx context.Context, result *AnalysisResult) error
}

// Orchestrator runs the correlation stages for one document at a time.
// It holds no per-document state, so one instance serves every worker.
type Orchestrator struct {
	store    *repository.Store
	retrier  *datastore.Retrier
	provider *conf.CorrelationProvider

	canonicalizer *canonical.Canonicalizer
	generator     *candidates.Generator
	scorer        *similarity.Scorer
	semantic      *semantic.Engine
	detector      *campaign.Detector
	priority      *priority.Scorer
	notifier      Notifier

	retry      conf.RetrySettings
	runTimeout time.Duration
	recorder   metrics.Recorder
	now        func() time.Time
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithSemantic enables the embedding stage and the semantic dimension.
func WithSemantic(e *semantic.Engine) Option {
	return func(o *Orchestrator) { o.semantic = e }
}

// WithNotifier sets where campaign and priority events are published.
func WithNotifier(n Notifier) Option {
	return func(o *Orchestrator) { o.notifier = n }
}

// WithRetry sets the whole-document retry policy.
func WithRetry(r conf.RetrySettings) Option {
	return func(o *Orchestrator) { o.retry = r }
}

// WithRunTimeout bounds each attempt of a document run. Zero disables it.
func WithRunTimeout(d time.Duration) Option {
	return func(o *Orchestrator) { o.runTimeout = d }
}

// WithRecorder sets the metrics recorder for the orchestrator and its stages.
func WithRecorder(r metrics.Recorder) Option {
	return func(o *Orchestrator) { o.recorder = metrics.OrNop(r) }
}

// WithClock overrides the time source of every stage.
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) { o.now = now }
}

// New wires the stage components over one store. provider supplies the
// active correlation settings; each run snapshots it once.
func New(store *repository.Store, retrier *datastore.Retrier, provider *conf.CorrelationProvider, opts ...Option) *Orchestrator {
	if retrier == nil {
		retrier = datastore.NewRetrier(nil)
	}
	o := &Orchestrator{
		store:    store,
		retrier:  retrier,
		provider: provider,
		retry: conf.RetrySettings{
			MaxRetries:   2,
			InitialDelay: 100 * time.Millisecond,
			MaxDelay:     2 * time.Second,
			Multiplier:   2,
		},
		recorder: metrics.NopRecorder{},
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(o)
	}

	o.canonicalizer = canonical.New(store, retrier,
		canonical.WithClock(o.now), canonical.WithRecorder(o.recorder))
	o.generator = candidates.NewGenerator(store.Links,
		candidates.WithClock(o.now), candidates.WithRecorder(o.recorder))

	scorerOpts := []similarity.Option{similarity.WithRecorder(o.recorder)}
	if o.semantic != nil && o.semantic.Enabled() {
		scorerOpts = append(scorerOpts, similarity.WithSemantic(o.semantic))
	}
	o.scorer = similarity.NewScorer(store, retrier, scorerOpts...)

	o.detector = campaign.NewDetector(store, retrier,
		campaign.WithClock(o.now), campaign.WithRecorder(o.recorder))
	o.priority = priority.NewScorer(store, retrier,
		priority.WithClock(o.now), priority.WithRecorder(o.recorder))
	return o
}

// Canonicalizer exposes the canonicalizer for administrative merges.
func (o *Orchestrator) Canonicalizer() *canonical.Canonicalizer {
	return o.canonicalizer
}

// Detector exposes the campaign detector for status refreshes.
func (o *Orchestrator) Detector() *campaign.Detector {
	return o.detector
}

// runState carries committed stage output across whole-run retries.
type runState struct {
	entities *canonical.Result
}

// run executes every stage once. Canonicalization, candidate generation and
// scoring are fatal; campaign and priority failures are recorded on the
// result and the run continues. Canonicalization already committed by an
// earlier attempt is reused so occurrence counts are bumped once per run.
func (o *Orchestrator) run(ctx context.Context, req *AnalysisRequest, active *conf.ActiveCorrelation, state *runState) (*AnalysisResult, error) {
	if o.runTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.runTimeout)
		defer cancel()
	}

	runID := uuid.NewString()
	ctx = logger.WithTraceID(ctx, runID)
	settings := &active.Settings
	documentID := strings.TrimSpace(req.DocumentID)
	log := GetLogger().WithContext(ctx).With(logger.String("document_id", documentID))

	result := &AnalysisResult{
		DocumentID:    documentID,
		RunID:         runID,
		ConfigVersion: active.Version,
	}

	doc := &entities.Document{
		ID:          documentID,
		Title:       req.Title,
		Description: req.Description,
		CreatedAt:   req.CreatedAt,
		PublishedAt: req.PublishedAt,
		LastRunID:   runID,
	}
	if err := o.retrier.Do(ctx, "document_upsert", func(ctx context.Context) error {
		return o.store.Documents.Upsert(ctx, doc)
	}); err != nil {
		return nil, o.stageFailure(StageDocument, documentID, runID, err)
	}

	if state.entities == nil {
		entitiesResult, err := o.canonicalizer.Canonicalize(ctx, documentID, runID, req.Mentions, settings.CriticalConfidence)
		if err != nil {
			return nil, o.stageFailure(StageCanonicalize, documentID, runID, err)
		}
		state.entities = entitiesResult
	} else {
		log.Debug("reusing canonicalization from previous attempt")
	}
	result.Entities = state.entities

	if settings.SemanticEnabled && o.semantic != nil && o.semantic.Enabled() {
		o.embed(ctx, doc, log)
	}

	set, err := o.generator.Generate(ctx, documentID, settings.LookbackDays)
	if err != nil {
		return nil, o.stageFailure(StageCandidates, documentID, runID, err)
	}
	result.Candidates = set.Len()

	rels, err := o.scorer.Score(ctx, set, active)
	if err != nil {
		return nil, o.stageFailure(StageSimilarity, documentID, runID, err)
	}
	result.Relationships = rels

	detection, err := o.detector.Detect(ctx, documentID, settings)
	if err != nil {
		if datastore.IsTransientConflict(err) {
			return nil, o.stageFailure(StageCampaign, documentID, runID, err)
		}
		log.Warn("campaign detection failed", logger.Error(err))
		result.StageErrors = append(result.StageErrors, newStageError(StageCampaign, err))
	} else {
		result.Campaign = detection
	}

	score, err := o.priority.Score(ctx, documentID, settings)
	if err != nil {
		if datastore.IsTransientConflict(err) {
			return nil, o.stageFailure(StagePriority, documentID, runID, err)
		}
		log.Warn("priority scoring failed", logger.Error(err))
		result.StageErrors = append(result.StageErrors, newStageError(StagePriority, err))
	} else {
		result.Priority = score
	}

	analyzedAt := o.now().UTC()
	doc.AnalyzedAt = &analyzedAt
	if err := o.retrier.Do(ctx, "document_analyzed", func(ctx context.Context) error {
		return o.store.Documents.Upsert(ctx, doc)
	}); err != nil {
		log.Warn("failed to mark document analyzed", logger.Error(err))
		result.StageErrors = append(result.StageErrors, newStageError(StageDocument, err))
	}

	if o.notifier != nil {
		if err := o.notifier.Notify(ctx, result); err != nil {
			log.Warn("notification failed", logger.Error(err))
		}
	}

	return result, nil
}

// embed refreshes the document vector. A failure only disables the semantic
// dimension for pairs involving this document.
func (o *Orchestrator) embed(ctx context.Context, doc *entities.Document, log logger.Logger) {
	text := strings.TrimSpace(doc.Title + "\n" + doc.Description)
	if _, err := o.semantic.Ensure(ctx, doc.ID, text); err != nil {
		if errors.Is(err, semantic.ErrEmptyText) {
			log.Debug("no text to embed")
			return
		}
		log.Warn("embedding unavailable, semantic dimension skipped", logger.Error(err))
	}
}

func (o *Orchestrator) stageFailure(stage Stage, documentID, runID string, err error) error {
	category := errors.CategoryProcessing
	var ee *errors.EnhancedError
	if errors.As(err, &ee) {
		category = errors.ErrorCategory(ee.GetCategory())
	}
	return errors.New(err).
		Component("pipeline").
		Category(category).
		DocumentContext(documentID, runID).
		Context("stage", string(stage)).
		Build()
}
