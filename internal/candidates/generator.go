// Package candidates finds documents that share at least one canonical
// entity with a source document inside the lookback window.
package candidates

import (
	"context"
	"maps"
	"slices"
	"time"

	"github.com/tphakala/threatlink/internal/datastore/entities"
	"github.com/tphakala/threatlink/internal/datastore/repository"
	"github.com/tphakala/threatlink/internal/errors"
	"github.com/tphakala/threatlink/internal/logger"
	"github.com/tphakala/threatlink/internal/observability/metrics"
)

// Set is the candidate documents for one source document.
type Set struct {
	DocumentID string
	// Source holds the source document's entity ids per kind, so the scorer
	// does not have to query them again.
	Source repository.EntitySets
	ids    map[string]struct{}
}

// Len returns the number of candidates.
func (s *Set) Len() int { return len(s.ids) }

// Contains reports whether id is a candidate.
func (s *Set) Contains(id string) bool {
	_, ok := s.ids[id]
	return ok
}

// Sorted returns the candidate ids in ascending order.
func (s *Set) Sorted() []string {
	return slices.Sorted(maps.Keys(s.ids))
}

// Generator runs the indexed reverse lookups.
type Generator struct {
	links    repository.LinkRepository
	recorder metrics.Recorder
	now      func() time.Time
}

// Option configures a Generator.
type Option func(*Generator)

// WithClock overrides the time source used for the lookback cutoff.
func WithClock(now func() time.Time) Option {
	return func(g *Generator) { g.now = now }
}

// WithRecorder sets the metrics recorder.
func WithRecorder(r metrics.Recorder) Option {
	return func(g *Generator) { g.recorder = metrics.OrNop(r) }
}

// NewGenerator creates a Generator over the link repository.
func NewGenerator(links repository.LinkRepository, opts ...Option) *Generator {
	g := &Generator{links: links, recorder: metrics.NopRecorder{}, now: time.Now}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Generate returns every other document created within lookbackDays that
// links any of the source's indicators, techniques or actors. A document
// without entities yields an empty set.
func (g *Generator) Generate(ctx context.Context, documentID string, lookbackDays int) (*Set, error) {
	start := time.Now()
	if lookbackDays <= 0 {
		return nil, errors.Newf("lookback days must be positive, got %d", lookbackDays).
			Component("candidates").
			Category(errors.CategoryValidation).
			Build()
	}

	sets, err := g.links.EntitySets(ctx, documentID)
	if err != nil {
		return nil, g.fail(err, documentID)
	}

	set := &Set{DocumentID: documentID, Source: sets, ids: make(map[string]struct{})}
	if sets.Total() == 0 {
		g.recorder.RecordCount(metrics.OpCandidates, 0)
		return set, nil
	}

	since := g.now().UTC().AddDate(0, 0, -lookbackDays)
	for _, kind := range entities.Kinds {
		ids := sets[kind]
		if len(ids) == 0 {
			continue
		}
		docs, err := g.links.DocumentsReferencing(ctx, ids, documentID, since)
		if err != nil {
			return nil, g.fail(err, documentID)
		}
		for _, id := range docs {
			set.ids[id] = struct{}{}
		}
	}

	g.recorder.RecordCount(metrics.OpCandidates, float64(set.Len()))
	g.recorder.RecordDuration(metrics.OpCandidates, time.Since(start).Seconds())
	GetLogger().Debug("candidates generated",
		logger.String("document_id", documentID),
		logger.Int("entities", sets.Total()),
		logger.Int("candidates", set.Len()))
	return set, nil
}

func (g *Generator) fail(err error, documentID string) error {
	g.recorder.RecordError(metrics.OpCandidates, string(errors.CategoryDatabase))
	return errors.New(err).
		Component("candidates").
		Category(errors.CategoryDatabase).
		Context("document_id", documentID).
		Build()
}
