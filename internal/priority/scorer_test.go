package priority_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tphakala/threatlink/internal/conf"
	"github.com/tphakala/threatlink/internal/datastore/entities"
	"github.com/tphakala/threatlink/internal/datastore/testutil"
	"github.com/tphakala/threatlink/internal/errors"
	"github.com/tphakala/threatlink/internal/priority"
)

func TestScorerPersistsExplainableScore(t *testing.T) {
	ctx := context.Background()
	store := testutil.NewTestStore(t)
	now := time.Date(2026, 6, 10, 0, 0, 0, 0, time.UTC)

	ip := testutil.SeedEntity(t, store, entities.KindIndicator, "198.51.100.1")
	tech := testutil.SeedEntity(t, store, entities.KindTechnique, "T1190")
	actor := testutil.SeedEntity(t, store, entities.KindActor, "apt-x")

	testutil.SeedDocument(t, store, "doc", now.AddDate(0, 0, -2))
	testutil.Link(t, store, "doc", ip, 95)
	testutil.Link(t, store, "doc", tech, 70)
	testutil.Link(t, store, "doc", actor, 60)

	testutil.SeedDocument(t, store, "older", now.AddDate(0, 0, -10))
	_, err := store.Relationships.Upsert(ctx, &entities.Relationship{
		SourceDocumentID: "doc", RelatedDocumentID: "older", OverallScore: 0.8, LookbackDays: 90,
	})
	require.NoError(t, err)

	c := &entities.Campaign{CampaignKey: "k", Name: "c", FirstSeenAt: now, LastSeenAt: now, Status: entities.CampaignActive}
	require.NoError(t, store.Campaigns.Create(ctx, c))
	require.NoError(t, store.Campaigns.AddMembers(ctx, []*entities.CampaignMembership{
		{CampaignID: c.ID, DocumentID: "doc", JoinedAt: now},
	}))

	s := priority.NewScorer(store, nil, priority.WithClock(func() time.Time { return now }))
	settings := &conf.CorrelationSettings{CriticalConfidence: 90, CampaignScoreThreshold: 0.70}

	score, err := s.Score(ctx, "doc", settings)
	require.NoError(t, err)

	// crit 5+8+20, hist 15+10, actor 40, recency 90, confidence 75
	assert.InDelta(t, 33, score.EntityCriticality, 1e-9)
	assert.InDelta(t, 25, score.HistoricalContext, 1e-9)
	assert.InDelta(t, 40, score.ActorAttribution, 1e-9)
	assert.InDelta(t, 90, score.Recency, 1e-9)
	assert.InDelta(t, 75, score.Confidence, 1e-9)
	assert.InDelta(t, 0.35*33+0.25*25+0.20*40+0.10*90+0.10*75, score.Overall, 0.01)
	assert.Equal(t, entities.PriorityMedium, score.PriorityLevel)
	assert.True(t, score.HasActiveCampaign)
	assert.True(t, score.HasKnownActor)
	assert.True(t, score.HasCriticalIndicators)
	assert.True(t, score.HasExploitationTechniques)

	stored, err := store.Priorities.Get(ctx, "doc")
	require.NoError(t, err)
	assert.InDelta(t, score.Overall, stored.Overall, 1e-9)
	assert.Contains(t, stored.ScoreExplanation, "components")

	// rescoring replaces the row
	_, err = s.Score(ctx, "doc", settings)
	require.NoError(t, err)
	rows, err := store.Priorities.ListByLevel(ctx, entities.PriorityMedium, 0)
	require.NoError(t, err)
	assert.Len(t, rows, 1)
}

func TestScorerMissingDocument(t *testing.T) {
	store := testutil.NewTestStore(t)
	_, err := priority.NewScorer(store, nil).Score(context.Background(), "ghost", &conf.CorrelationSettings{})
	require.Error(t, err)
	assert.True(t, errors.IsNotFound(err))
}

func TestScorerIgnoresFlaggedEntities(t *testing.T) {
	ctx := context.Background()
	store := testutil.NewTestStore(t)
	now := time.Date(2026, 6, 10, 0, 0, 0, 0, time.UTC)

	ip := testutil.SeedEntity(t, store, entities.KindIndicator, "198.51.100.1")
	actor := testutil.SeedEntity(t, store, entities.KindActor, "apt-x")
	tech := testutil.SeedEntity(t, store, entities.KindTechnique, "T1566")

	testutil.SeedDocument(t, store, "doc", now.AddDate(0, 0, -1))
	testutil.Link(t, store, "doc", ip, 95)
	testutil.Link(t, store, "doc", actor, 60)
	testutil.Link(t, store, "doc", tech, 50)

	require.NoError(t, store.Entities.SetFlags(ctx, ip.ID, true, true))
	require.NoError(t, store.Entities.SetFlags(ctx, actor.ID, false, false))

	s := priority.NewScorer(store, nil, priority.WithClock(func() time.Time { return now }))
	score, err := s.Score(ctx, "doc", &conf.CorrelationSettings{CriticalConfidence: 90, CampaignScoreThreshold: 0.70})
	require.NoError(t, err)

	assert.False(t, score.HasCriticalIndicators)
	assert.False(t, score.HasKnownActor)
	assert.Zero(t, score.ActorAttribution)
	assert.InDelta(t, 50, score.Confidence, 1e-9, "only the technique link counts")
}
