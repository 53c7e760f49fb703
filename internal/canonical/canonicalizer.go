// Package canonical turns raw extracted mentions into deduplicated canonical
// entities and links them to the mentioning document.
package canonical

import (
	"context"
	"slices"
	"time"
	"unicode/utf8"

	"github.com/tphakala/threatlink/internal/datastore"
	"github.com/tphakala/threatlink/internal/datastore/entities"
	"github.com/tphakala/threatlink/internal/datastore/repository"
	"github.com/tphakala/threatlink/internal/errors"
	"github.com/tphakala/threatlink/internal/logger"
	"github.com/tphakala/threatlink/internal/observability/metrics"
)

// maxEventContext bounds the evidence text copied into an entity event.
const maxEventContext = 512

// Result summarizes one document's canonicalization.
type Result struct {
	DocumentID string
	// Counts holds distinct entities per kind.
	Counts map[entities.EntityKind]int
	// EntityIDs holds the distinct entity ids per kind, sorted ascending.
	EntityIDs         map[entities.EntityKind][]uint
	AverageConfidence float64
	Skipped           int
	SkipReasons       []string
	// NewLinks counts links created by this run; zero on a re-run.
	NewLinks             int
	HasCriticalIndicator bool
}

// Total returns the number of distinct entities.
func (r *Result) Total() int {
	n := 0
	for _, c := range r.Counts {
		n += c
	}
	return n
}

// Canonicalizer resolves mentions against the entity store.
type Canonicalizer struct {
	store    *repository.Store
	retrier  *datastore.Retrier
	recorder metrics.Recorder
	now      func() time.Time
}

// Option configures a Canonicalizer.
type Option func(*Canonicalizer)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(c *Canonicalizer) { c.now = now }
}

// WithRecorder sets the metrics recorder.
func WithRecorder(r metrics.Recorder) Option {
	return func(c *Canonicalizer) { c.recorder = metrics.OrNop(r) }
}

// New creates a Canonicalizer. A nil retrier uses the datastore defaults.
func New(store *repository.Store, retrier *datastore.Retrier, opts ...Option) *Canonicalizer {
	if retrier == nil {
		retrier = datastore.NewRetrier(nil)
	}
	c := &Canonicalizer{
		store:    store,
		retrier:  retrier,
		recorder: metrics.NopRecorder{},
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Canonicalize normalizes raws, upserts their entities and links them to the
// document, all in one transaction. Malformed mentions are skipped and
// counted. runID is recorded as the extraction provenance.
func (c *Canonicalizer) Canonicalize(ctx context.Context, documentID, runID string, raws []RawMention, criticalConfidence int) (*Result, error) {
	start := time.Now()
	log := GetLogger().With(logger.String("document_id", documentID), logger.String("run_id", runID))

	var (
		mentions []Mention
		reasons  []string
	)
	for i := range raws {
		m, err := ParseMention(&raws[i])
		if err != nil {
			reasons = append(reasons, err.Error())
			log.Debug("mention skipped", logger.Int("index", i), logger.Error(err))
			continue
		}
		mentions = append(mentions, m)
	}

	var result *Result
	err := c.retrier.Do(ctx, "canonicalize", func(ctx context.Context) error {
		result = &Result{
			DocumentID:  documentID,
			Counts:      make(map[entities.EntityKind]int),
			EntityIDs:   make(map[entities.EntityKind][]uint),
			Skipped:     len(reasons),
			SkipReasons: reasons,
		}
		now := c.now().UTC()
		return c.store.Transaction(ctx, func(tx *repository.Store) error {
			return c.apply(ctx, tx, documentID, runID, mentions, criticalConfidence, now, result)
		})
	})
	if err != nil {
		c.recorder.RecordError(metrics.OpCanonicalize, string(errorCategory(err)))
		return nil, errors.New(err).
			Component("canonical").
			Category(errorCategory(err)).
			DocumentContext(documentID, runID).
			Context("mentions", len(mentions)).
			Build()
	}

	for kind, ids := range result.EntityIDs {
		slices.Sort(ids)
		result.EntityIDs[kind] = slices.Compact(ids)
		result.Counts[kind] = len(result.EntityIDs[kind])
	}
	for _, m := range mentions {
		c.recorder.RecordOperation(metrics.OpEntityUpsert, string(m.Kind()))
	}
	c.recorder.RecordDuration(metrics.OpCanonicalize, time.Since(start).Seconds())

	log.Debug("document canonicalized",
		logger.Int("entities", result.Total()),
		logger.Int("new_links", result.NewLinks),
		logger.Int("skipped", result.Skipped))
	return result, nil
}

func (c *Canonicalizer) apply(ctx context.Context, tx *repository.Store, documentID, runID string, mentions []Mention, criticalConfidence int, now time.Time, result *Result) error {
	confidenceSum := 0
	for _, m := range mentions {
		entity, err := c.resolve(ctx, tx, m, now)
		if err != nil {
			return err
		}

		meta := m.Meta()
		inserted, err := tx.Links.InsertIfAbsent(ctx, &entities.DocumentEntityLink{
			DocumentID:    documentID,
			EntityID:      entity.ID,
			EntityKind:    entity.Kind,
			Confidence:    meta.Confidence,
			Evidence:      meta.Evidence,
			ExtractedFrom: meta.ExtractedFrom,
			ExtractedBy:   runID,
			ExtractedAt:   now,
		})
		if err != nil {
			return err
		}
		if inserted {
			result.NewLinks++
			docID := documentID
			if err := tx.Events.Append(ctx, &entities.EntityEvent{
				EntityKind: entity.Kind,
				EntityID:   entity.ID,
				DocumentID: &docID,
				EventType:  entities.EventTypeMentioned,
				EventDate:  now,
				Confidence: meta.Confidence,
				Context:    truncate(meta.Evidence, maxEventContext),
			}); err != nil {
				return err
			}
		}

		result.EntityIDs[entity.Kind] = append(result.EntityIDs[entity.Kind], entity.ID)
		confidenceSum += meta.Confidence
		if entity.Kind == entities.KindIndicator && meta.Confidence >= criticalConfidence {
			result.HasCriticalIndicator = true
		}
	}
	if len(mentions) > 0 {
		result.AverageConfidence = float64(confidenceSum) / float64(len(mentions))
	}
	return nil
}

// resolve finds or creates the entity for m and applies the sighting.
func (c *Canonicalizer) resolve(ctx context.Context, tx *repository.Store, m Mention, now time.Time) (*entities.CanonicalEntity, error) {
	meta := m.Meta()
	switch v := m.(type) {
	case IndicatorMention:
		return tx.Entities.Upsert(ctx, &entities.CanonicalEntity{
			Kind:           entities.KindIndicator,
			CanonicalKey:   v.Value,
			CanonicalValue: v.Value,
			IndicatorType:  v.Type,
			Confidence:     meta.Confidence,
			FirstSeen:      now,
			LastSeen:       now,
		})
	case TechniqueMention:
		return tx.Entities.Upsert(ctx, &entities.CanonicalEntity{
			Kind:           entities.KindTechnique,
			CanonicalKey:   v.Code,
			CanonicalValue: v.Code,
			Confidence:     meta.Confidence,
			FirstSeen:      now,
			LastSeen:       now,
		})
	case ActorMention:
		return c.resolveActor(ctx, tx, v, now)
	}
	return nil, errors.Newf("unsupported mention type %T", m).
		Component("canonical").
		Category(errors.CategoryValidation).
		Build()
}

// resolveActor matches the name or any alias against existing actors before
// creating a new one. Aliases already owned by another actor stay with it.
func (c *Canonicalizer) resolveActor(ctx context.Context, tx *repository.Store, m ActorMention, now time.Time) (*entities.CanonicalEntity, error) {
	meta := m.Meta()

	var actor *entities.CanonicalEntity
	for _, candidate := range append([]string{m.Name}, m.Aliases...) {
		found, err := tx.Entities.FindActorByAlias(ctx, FoldKey(candidate))
		if err == nil {
			actor = found
			break
		}
		if !errors.Is(err, repository.ErrEntityNotFound) {
			return nil, err
		}
	}

	if actor != nil {
		if err := tx.Entities.Touch(ctx, actor.ID, meta.Confidence, now); err != nil {
			return nil, err
		}
	} else {
		created, err := tx.Entities.Upsert(ctx, &entities.CanonicalEntity{
			Kind:           entities.KindActor,
			CanonicalKey:   m.Key(),
			CanonicalValue: m.Name,
			Confidence:     meta.Confidence,
			FirstSeen:      now,
			LastSeen:       now,
		})
		if err != nil {
			return nil, err
		}
		actor = created
		if _, err := tx.Entities.AddAlias(ctx, &entities.ActorAlias{
			EntityID:      actor.ID,
			AliasKey:      m.Key(),
			Alias:         m.Name,
			IsPrimaryName: true,
		}); err != nil {
			return nil, err
		}
	}

	for _, name := range append([]string{m.Name}, m.Aliases...) {
		if _, err := tx.Entities.AddAlias(ctx, &entities.ActorAlias{
			EntityID: actor.ID,
			AliasKey: FoldKey(name),
			Alias:    name,
		}); err != nil {
			return nil, err
		}
	}
	return actor, nil
}

// truncate cuts s to at most n bytes without splitting a rune.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}

// errorCategory keeps not-found, validation and conflict categories and
// files everything else as a database failure.
func errorCategory(err error) errors.ErrorCategory {
	switch {
	case errors.IsConflict(err):
		return errors.CategoryConflict
	case errors.IsNotFound(err):
		return errors.CategoryNotFound
	case errors.IsCategory(err, errors.CategoryValidation):
		return errors.CategoryValidation
	case errors.IsCategory(err, errors.CategoryCancellation):
		return errors.CategoryCancellation
	}
	return errors.CategoryDatabase
}
