package canonical_test

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tphakala/threatlink/internal/canonical"
	"github.com/tphakala/threatlink/internal/datastore"
	"github.com/tphakala/threatlink/internal/datastore/entities"
	"github.com/tphakala/threatlink/internal/datastore/repository"
	"github.com/tphakala/threatlink/internal/datastore/testutil"
	"github.com/tphakala/threatlink/internal/errors"
	"github.com/tphakala/threatlink/internal/observability/metrics"
)

func newCanonicalizer(t *testing.T) (*canonical.Canonicalizer, *repository.Store, *metrics.TestRecorder) {
	t.Helper()
	store := testutil.NewTestStore(t)
	rec := metrics.NewTestRecorder()
	retrier := &datastore.Retrier{MaxRetries: 5, BaseDelay: time.Millisecond, MaxDelay: 20 * time.Millisecond}
	return canonical.New(store, retrier, canonical.WithRecorder(rec)), store, rec
}

func sampleMentions() []canonical.RawMention {
	return []canonical.RawMention{
		{Kind: "indicator", Value: "1.2.3.0", Confidence: 60, Evidence: "C2 at 1.2.3.0"},
		{Kind: "indicator", Value: "Evil.Example", Confidence: 95},
		{Kind: "technique", MitreCode: "T1566", Confidence: 70},
		{Kind: "actor", Name: "APT-X", Aliases: []string{"Sandstorm"}, Confidence: 80},
		{Kind: "indicator"}, // malformed
	}
}

func TestCanonicalizeCreatesEntitiesAndLinks(t *testing.T) {
	ctx := context.Background()
	c, store, rec := newCanonicalizer(t)
	testutil.SeedDocument(t, store, "d1", time.Now())

	res, err := c.Canonicalize(ctx, "d1", "run-1", sampleMentions(), 90)
	require.NoError(t, err)

	assert.Equal(t, 2, res.Counts[entities.KindIndicator])
	assert.Equal(t, 1, res.Counts[entities.KindTechnique])
	assert.Equal(t, 1, res.Counts[entities.KindActor])
	assert.Equal(t, 1, res.Skipped)
	assert.Equal(t, 4, res.NewLinks)
	assert.True(t, res.HasCriticalIndicator)
	assert.InDelta(t, (60+95+70+80)/4.0, res.AverageConfidence, 1e-9)
	assert.Equal(t, 1, rec.GetOperationCount(metrics.OpEntityUpsert, "actor"))

	links, err := store.Links.ListByDocument(ctx, "d1")
	require.NoError(t, err)
	require.Len(t, links, 4)
	assert.Equal(t, "run-1", links[0].ExtractedBy)

	actor, err := store.Entities.FindActorByAlias(ctx, canonical.FoldKey("sandstorm"))
	require.NoError(t, err)
	assert.Equal(t, "APT-X", actor.CanonicalValue)

	events, err := store.Events.ListByEntity(ctx, actor.ID, 0)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, entities.EventTypeMentioned, events[0].EventType)
}

func TestCanonicalizeIsIdempotent(t *testing.T) {
	ctx := context.Background()
	c, store, _ := newCanonicalizer(t)
	testutil.SeedDocument(t, store, "d1", time.Now())

	first, err := c.Canonicalize(ctx, "d1", "run-1", sampleMentions(), 90)
	require.NoError(t, err)
	second, err := c.Canonicalize(ctx, "d1", "run-2", sampleMentions(), 90)
	require.NoError(t, err)

	assert.Equal(t, first.EntityIDs, second.EntityIDs)
	assert.Zero(t, second.NewLinks)

	links, err := store.Links.ListByDocument(ctx, "d1")
	require.NoError(t, err)
	assert.Len(t, links, 4)

	ip, err := store.Entities.GetByKey(ctx, entities.KindIndicator, "1.2.3.0")
	require.NoError(t, err)
	assert.Equal(t, 2, ip.OccurrenceCount, "every mention bumps the counter")

	events, err := store.Events.ListByEntity(ctx, ip.ID, 0)
	require.NoError(t, err)
	assert.Len(t, events, 1, "events are appended for new links only")
}

func TestCanonicalizeActorCaseInsensitive(t *testing.T) {
	ctx := context.Background()
	c, store, _ := newCanonicalizer(t)

	_, err := c.Canonicalize(ctx, "d1", "r", []canonical.RawMention{{Kind: "actor", Name: "Fancy Bear", Confidence: 40}}, 90)
	require.NoError(t, err)
	res, err := c.Canonicalize(ctx, "d2", "r", []canonical.RawMention{{Kind: "actor", Name: "FANCY BEAR", Confidence: 75}}, 90)
	require.NoError(t, err)

	count, err := store.Entities.Count(ctx, entities.KindActor)
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)

	actor, err := store.Entities.Get(ctx, res.EntityIDs[entities.KindActor][0])
	require.NoError(t, err)
	assert.Equal(t, "Fancy Bear", actor.CanonicalValue, "first seen display name is kept")
	assert.Equal(t, 75, actor.Confidence)
	assert.Equal(t, 2, actor.OccurrenceCount)
}

func TestCanonicalizeConcurrentSameValue(t *testing.T) {
	ctx := context.Background()
	c, store, _ := newCanonicalizer(t)
	const workers = 8

	var wg sync.WaitGroup
	for i := range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			doc := fmt.Sprintf("doc-%d", i)
			_, err := c.Canonicalize(ctx, doc, "run", []canonical.RawMention{
				{Kind: "indicator", Value: "198.51.100.9", Confidence: 50 + i},
				{Kind: "actor", Name: "Racer", Confidence: 50},
			}, 90)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	ip, err := store.Entities.GetByKey(ctx, entities.KindIndicator, "198.51.100.9")
	require.NoError(t, err)
	assert.Equal(t, workers, ip.OccurrenceCount)
	assert.Equal(t, 50+workers-1, ip.Confidence)

	actors, err := store.Entities.Count(ctx, entities.KindActor)
	require.NoError(t, err)
	assert.Equal(t, int64(1), actors)
}

func TestMergeActors(t *testing.T) {
	ctx := context.Background()
	c, store, _ := newCanonicalizer(t)

	mention := func(name string) []canonical.RawMention {
		return []canonical.RawMention{{Kind: "actor", Name: name, Confidence: 60}}
	}
	resA, err := c.Canonicalize(ctx, "d1", "r", mention("APT28"), 90)
	require.NoError(t, err)
	resB, err := c.Canonicalize(ctx, "d2", "r", mention("Fancy Bear"), 90)
	require.NoError(t, err)
	_, err = c.Canonicalize(ctx, "d1", "r", mention("Fancy Bear"), 90) // d1 links both A and B
	require.NoError(t, err)
	resC, err := c.Canonicalize(ctx, "d3", "r", mention("Sofacy"), 90)
	require.NoError(t, err)

	a := resA.EntityIDs[entities.KindActor][0]
	b := resB.EntityIDs[entities.KindActor][0]
	cID := resC.EntityIDs[entities.KindActor][0]

	first, err := c.MergeActors(ctx, a, []uint{b})
	require.NoError(t, err)
	assert.Equal(t, int64(1), first.LinksMoved)
	assert.Equal(t, int64(1), first.LinksDropped)

	second, err := c.MergeActors(ctx, a, []uint{cID})
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"APT28", "Fancy Bear", "Sofacy"}, second.Aliases)

	for _, doc := range []string{"d1", "d2", "d3"} {
		sets, err := store.Links.EntitySets(ctx, doc)
		require.NoError(t, err)
		assert.Equal(t, []uint{a}, sets[entities.KindActor], doc)
	}

	merged, err := store.Entities.Get(ctx, a)
	require.NoError(t, err)
	assert.Equal(t, 4, merged.OccurrenceCount)

	_, err = store.Entities.Get(ctx, b)
	require.ErrorIs(t, err, repository.ErrEntityNotFound)

	// later mentions of a merged alias resolve to the survivor
	res, err := c.Canonicalize(ctx, "d4", "r", mention("fancy bear"), 90)
	require.NoError(t, err)
	assert.Equal(t, []uint{a}, res.EntityIDs[entities.KindActor])
}

func TestMergeActorsValidation(t *testing.T) {
	ctx := context.Background()
	c, store, _ := newCanonicalizer(t)
	ip := testutil.SeedEntity(t, store, entities.KindIndicator, "1.1.1.1")
	actor := testutil.SeedEntity(t, store, entities.KindActor, "lazarus")

	_, err := c.MergeActors(ctx, actor.ID, nil)
	assert.True(t, errors.IsCategory(err, errors.CategoryValidation))

	_, err = c.MergeActors(ctx, actor.ID, []uint{actor.ID})
	assert.True(t, errors.IsCategory(err, errors.CategoryValidation))

	_, err = c.MergeActors(ctx, actor.ID, []uint{ip.ID})
	assert.True(t, errors.IsNotFound(err))

	_, err = c.MergeActors(ctx, 9999, []uint{actor.ID})
	assert.True(t, errors.IsNotFound(err))

	still, err := store.Entities.Get(ctx, actor.ID)
	require.NoError(t, err)
	assert.Equal(t, actor.ID, still.ID)
}

func TestSetEntityFlags(t *testing.T) {
	ctx := context.Background()
	c, store, _ := newCanonicalizer(t)
	testutil.SeedDocument(t, store, "d1", time.Now().UTC())
	res, err := c.Canonicalize(ctx, "d1", "r1", sampleMentions(), 90)
	require.NoError(t, err)
	id := res.EntityIDs[entities.KindIndicator][0]

	yes, no := true, false
	e, err := c.SetEntityFlags(ctx, id, canonical.EntityFlags{FalsePositive: &yes})
	require.NoError(t, err)
	assert.True(t, e.IsFalsePositive)
	assert.True(t, e.IsActive, "unset flags are left alone")

	e, err = c.SetEntityFlags(ctx, id, canonical.EntityFlags{Active: &no})
	require.NoError(t, err)
	assert.False(t, e.IsActive)
	assert.True(t, e.IsFalsePositive)

	stored, err := store.Entities.Get(ctx, id)
	require.NoError(t, err)
	assert.False(t, stored.IsActive)
	assert.True(t, stored.IsFalsePositive)

	_, err = c.SetEntityFlags(ctx, id, canonical.EntityFlags{})
	assert.True(t, errors.IsCategory(err, errors.CategoryValidation))

	_, err = c.SetEntityFlags(ctx, 9999, canonical.EntityFlags{Active: &yes})
	assert.True(t, errors.IsCategory(err, errors.CategoryNotFound))
}
