package candidates_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tphakala/threatlink/internal/candidates"
	"github.com/tphakala/threatlink/internal/datastore/entities"
	"github.com/tphakala/threatlink/internal/datastore/repository"
	"github.com/tphakala/threatlink/internal/datastore/testutil"
	"github.com/tphakala/threatlink/internal/errors"
	"github.com/tphakala/threatlink/internal/observability/metrics"
)

func TestGenerateUnionsKindsWithinLookback(t *testing.T) {
	ctx := context.Background()
	store := testutil.NewTestStore(t)
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	ip := testutil.SeedEntity(t, store, entities.KindIndicator, "1.2.3.0")
	tech := testutil.SeedEntity(t, store, entities.KindTechnique, "T1566")
	actor := testutil.SeedEntity(t, store, entities.KindActor, "apt-x")
	other := testutil.SeedEntity(t, store, entities.KindIndicator, "9.9.9.9")

	testutil.SeedDocument(t, store, "src", now)
	testutil.Link(t, store, "src", ip, 60)
	testutil.Link(t, store, "src", tech, 70)
	testutil.Link(t, store, "src", actor, 80)

	testutil.SeedDocument(t, store, "by-ip", now.AddDate(0, 0, -5))
	testutil.Link(t, store, "by-ip", ip, 50)
	testutil.SeedDocument(t, store, "by-tech", now.AddDate(0, 0, -10))
	testutil.Link(t, store, "by-tech", tech, 50)
	testutil.SeedDocument(t, store, "by-both", now.AddDate(0, 0, -1))
	testutil.Link(t, store, "by-both", ip, 50)
	testutil.Link(t, store, "by-both", actor, 50)
	testutil.SeedDocument(t, store, "too-old", now.AddDate(0, 0, -120))
	testutil.Link(t, store, "too-old", ip, 50)
	testutil.SeedDocument(t, store, "unrelated", now)
	testutil.Link(t, store, "unrelated", other, 50)

	rec := metrics.NewTestRecorder()
	gen := candidates.NewGenerator(store.Links,
		candidates.WithClock(func() time.Time { return now }),
		candidates.WithRecorder(rec))

	set, err := gen.Generate(ctx, "src", 90)
	require.NoError(t, err)

	assert.Equal(t, []string{"by-both", "by-ip", "by-tech"}, set.Sorted())
	assert.Equal(t, 3, set.Len())
	assert.True(t, set.Contains("by-ip"))
	assert.False(t, set.Contains("src"), "the source is never its own candidate")
	assert.Equal(t, []uint{ip.ID}, set.Source[entities.KindIndicator])
	assert.InDelta(t, 3.0, rec.GetCount(metrics.OpCandidates), 1e-9)

	narrow, err := gen.Generate(ctx, "src", 7)
	require.NoError(t, err)
	assert.Equal(t, []string{"by-both", "by-ip"}, narrow.Sorted())
}

func TestGenerateEmptyDocument(t *testing.T) {
	store := testutil.NewTestStore(t)
	testutil.SeedDocument(t, store, "empty", time.Now())

	set, err := candidates.NewGenerator(store.Links).Generate(context.Background(), "empty", 90)
	require.NoError(t, err)
	assert.Zero(t, set.Len())
	assert.Empty(t, set.Sorted())
}

func TestGenerateRejectsBadLookback(t *testing.T) {
	store := testutil.NewTestStore(t)
	_, err := candidates.NewGenerator(store.Links).Generate(context.Background(), "x", 0)
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryValidation))
}

func TestGenerateIgnoresFlaggedEntities(t *testing.T) {
	ctx := context.Background()
	store := testutil.NewTestStore(t)
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	sinkhole := testutil.SeedEntity(t, store, entities.KindIndicator, "8.8.8.8")
	retired := testutil.SeedEntity(t, store, entities.KindTechnique, "T1059")
	tech := testutil.SeedEntity(t, store, entities.KindTechnique, "T1566")

	testutil.SeedDocument(t, store, "src", now)
	testutil.Link(t, store, "src", sinkhole, 60)
	testutil.Link(t, store, "src", retired, 60)
	testutil.Link(t, store, "src", tech, 60)
	testutil.SeedDocument(t, store, "by-sinkhole", now.AddDate(0, 0, -1))
	testutil.Link(t, store, "by-sinkhole", sinkhole, 60)
	testutil.SeedDocument(t, store, "by-retired", now.AddDate(0, 0, -1))
	testutil.Link(t, store, "by-retired", retired, 60)
	testutil.SeedDocument(t, store, "by-tech", now.AddDate(0, 0, -1))
	testutil.Link(t, store, "by-tech", tech, 60)

	require.NoError(t, store.Entities.SetFlags(ctx, sinkhole.ID, true, true))
	require.NoError(t, store.Entities.SetFlags(ctx, retired.ID, false, false))

	gen := candidates.NewGenerator(store.Links, candidates.WithClock(func() time.Time { return now }))
	set, err := gen.Generate(ctx, "src", 90)
	require.NoError(t, err)
	assert.Equal(t, []string{"by-tech"}, set.Sorted())
	assert.Empty(t, set.Source[entities.KindIndicator])
	assert.Equal(t, []uint{tech.ID}, set.Source[entities.KindTechnique])

	err = store.Entities.SetFlags(ctx, 9999, true, false)
	assert.True(t, errors.Is(err, repository.ErrEntityNotFound))
}
