package pipeline_test

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/tphakala/threatlink/internal/campaign"
	"github.com/tphakala/threatlink/internal/canonical"
	"github.com/tphakala/threatlink/internal/conf"
	"github.com/tphakala/threatlink/internal/datastore"
	"github.com/tphakala/threatlink/internal/datastore/entities"
	"github.com/tphakala/threatlink/internal/datastore/repository"
	"github.com/tphakala/threatlink/internal/datastore/testutil"
	"github.com/tphakala/threatlink/internal/errors"
	"github.com/tphakala/threatlink/internal/observability/metrics"
	"github.com/tphakala/threatlink/internal/pipeline"
)

func correlation() conf.CorrelationSettings {
	return conf.CorrelationSettings{
		LookbackDays:              90,
		Weights:                   conf.Weights{Indicator: 0.40, Technique: 0.30, Actor: 0.20, Semantic: 0.10},
		MinimumScore:              0.60,
		MinimumSharedEntities:     1,
		SemanticThreshold:         0.75,
		CampaignMinArticles:       3,
		CampaignTimeWindowDays:    90,
		CampaignMinSharedEntities: 2,
		CampaignScoreThreshold:    0.65,
		CriticalConfidence:        90,
	}
}

type recordingNotifier struct {
	mu      sync.Mutex
	results []*pipeline.AnalysisResult
}

func (n *recordingNotifier) Notify(_ context.Context, r *pipeline.AnalysisResult) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.results = append(n.results, r)
	return nil
}

func (n *recordingNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.results)
}

type harness struct {
	store    *repository.Store
	orch     *pipeline.Orchestrator
	rec      *metrics.TestRecorder
	notifier *recordingNotifier
}

func newHarness(t *testing.T, opts ...pipeline.Option) *harness {
	t.Helper()
	store := testutil.NewTestStore(t)
	provider := conf.NewCorrelationProvider(&conf.ActiveCorrelation{Version: 1, Settings: correlation()})
	h := &harness{store: store, rec: metrics.NewTestRecorder(), notifier: &recordingNotifier{}}
	retrier := &datastore.Retrier{MaxRetries: 5, BaseDelay: time.Millisecond, MaxDelay: 20 * time.Millisecond}

	all := append([]pipeline.Option{
		pipeline.WithRecorder(h.rec),
		pipeline.WithNotifier(h.notifier),
		pipeline.WithRetry(conf.RetrySettings{MaxRetries: 2, InitialDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond, Multiplier: 2}),
		pipeline.WithRunTimeout(30 * time.Second),
	}, opts...)
	h.orch = pipeline.New(store, retrier, provider, all...)
	return h
}

func request(id string, at time.Time, mentions ...canonical.RawMention) *pipeline.AnalysisRequest {
	return &pipeline.AnalysisRequest{
		DocumentID:  id,
		Title:       "report " + id,
		Description: "phishing wave delivering loaders",
		CreatedAt:   at,
		Mentions:    mentions,
	}
}

func ip(v string, confidence int) canonical.RawMention {
	return canonical.RawMention{Kind: "indicator", Value: v, Confidence: confidence}
}

func technique(code string, confidence int) canonical.RawMention {
	return canonical.RawMention{Kind: "technique", MitreCode: code, Confidence: confidence}
}

func actor(name string, confidence int) canonical.RawMention {
	return canonical.RawMention{Kind: "actor", Name: name, Confidence: confidence}
}

func TestAnalyzeEndToEnd(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	d1At := time.Now().UTC().AddDate(0, 0, -5)

	r1, err := h.orch.Analyze(ctx, request("D1", d1At, ip("1.2.3.0", 60), technique("T1566", 70)))
	require.NoError(t, err)
	assert.Empty(t, r1.Relationships)
	assert.Equal(t, 1, r1.Attempts)
	assert.Equal(t, int64(1), r1.ConfigVersion)
	assert.NotEmpty(t, r1.RunID)

	r2, err := h.orch.Analyze(ctx, request("D2", d1At.AddDate(0, 0, 2),
		ip("1.2.3.0", 60), technique("T1566", 70), actor("APT-X", 80)))
	require.NoError(t, err)
	assert.False(t, r2.Partial())
	assert.Equal(t, 1, r2.Candidates)
	require.Len(t, r2.Relationships, 1)

	rel := r2.Relationships[0]
	assert.Equal(t, "D1", rel.RelatedDocumentID)
	assert.InDelta(t, 1.0, rel.IndicatorOverlap, 1e-9)
	assert.InDelta(t, 1.0, rel.TechniqueOverlap, 1e-9)
	assert.InDelta(t, 0.0, rel.ActorMatch, 1e-9)
	assert.InDelta(t, 0.70, rel.OverallScore, 1e-6)
	assert.Equal(t, []entities.RelationshipType{entities.RelIndicatorMatch, entities.RelTechniqueMatch}, rel.RelationshipTypes)
	assert.Equal(t, int64(1), rel.ConfigVersion)

	require.NotNil(t, r2.Campaign)
	assert.Equal(t, campaign.OutcomeNone, r2.Campaign.Outcome)
	require.NotNil(t, r2.Priority)
	assert.True(t, r2.Priority.HasKnownActor)

	doc, err := h.store.Documents.Get(ctx, "D2")
	require.NoError(t, err)
	require.NotNil(t, doc.AnalyzedAt)
	assert.Equal(t, r2.RunID, doc.LastRunID)

	assert.Equal(t, 2, h.rec.GetOperationCount(metrics.OpDocument, metrics.StatusSuccess))
	assert.Equal(t, 2, h.notifier.count())
}

func TestAnalyzeIsIdempotent(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	at := time.Now().UTC().AddDate(0, 0, -1)
	req := request("D1", at, ip("198.51.100.4", 70), technique("T1059.001", 60), actor("Sandworm", 90))

	first, err := h.orch.Analyze(ctx, req)
	require.NoError(t, err)
	second, err := h.orch.Analyze(ctx, req)
	require.NoError(t, err)

	assert.Equal(t, first.Entities.EntityIDs, second.Entities.EntityIDs)
	assert.Equal(t, 3, first.Entities.NewLinks)
	assert.Zero(t, second.Entities.NewLinks)
	assert.NotEqual(t, first.RunID, second.RunID)

	links, err := h.store.Links.ListByDocument(ctx, "D1")
	require.NoError(t, err)
	assert.Len(t, links, 3)
}

func TestReanalysisDropsRelationshipsThatNoLongerQualify(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	at := time.Now().UTC().AddDate(0, 0, -2)

	_, err := h.orch.Analyze(ctx, request("D1", at, ip("1.2.3.0", 60), technique("T1566", 70)))
	require.NoError(t, err)
	res, err := h.orch.Analyze(ctx, request("D2", at.Add(time.Hour), ip("1.2.3.0", 60), technique("T1566", 70)))
	require.NoError(t, err)
	require.Len(t, res.Relationships, 1)
	assert.InDelta(t, 0.70, res.Relationships[0].OverallScore, 1e-9)

	res, err = h.orch.Analyze(ctx, request("D2", at.Add(time.Hour),
		ip("1.2.3.0", 60), ip("5.6.7.8", 60), ip("9.9.9.9", 60),
		technique("T1566", 70), technique("T1059", 70), technique("T1204", 70)))
	require.NoError(t, err)
	assert.Empty(t, res.Relationships)

	count, err := h.store.Relationships.CountBySource(ctx, "D2")
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestAnalyzeDetectsCampaign(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	base := time.Now().UTC().AddDate(0, 0, -20)

	for i, id := range []string{"D1", "D2", "D3"} {
		_, err := h.orch.Analyze(ctx, request(id, base.AddDate(0, 0, 4*i),
			ip("203.0.113.7", 80), ip("evil.example", 80), technique("T1190", 70)))
		require.NoError(t, err)
	}

	q := pipeline.NewQueries(h.store)
	view, err := q.GetCampaignFor(ctx, "D1")
	require.NoError(t, err)
	assert.Equal(t, 3, view.Campaign.ArticleCount)
	assert.Len(t, view.Members, 3)
	assert.Equal(t, entities.CampaignActive, view.Campaign.Status)

	score, err := q.GetPriority(ctx, "D3")
	require.NoError(t, err)
	assert.True(t, score.HasActiveCampaign)
	assert.True(t, score.HasExploitationTechniques)

	assert.Equal(t, 1, h.rec.GetOperationCount(metrics.OpCampaign, string(campaign.OutcomeCreated)))
}

func TestAnalyzeValidation(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	tests := []struct {
		name string
		req  *pipeline.AnalysisRequest
	}{
		{"nil request", nil},
		{"missing id", &pipeline.AnalysisRequest{CreatedAt: time.Now()}},
		{"missing created_at", &pipeline.AnalysisRequest{DocumentID: "D1"}},
		{"id too long", &pipeline.AnalysisRequest{DocumentID: strings.Repeat("a", 200), CreatedAt: time.Now()}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := h.orch.Analyze(ctx, tt.req)
			require.Error(t, err)
			assert.True(t, errors.IsCategory(err, errors.CategoryValidation))
		})
	}
}

func TestAnalyzeSkipsMalformedMentions(t *testing.T) {
	h := newHarness(t)
	res, err := h.orch.Analyze(context.Background(), request("D1", time.Now().UTC(),
		ip("10.0.0.1", 50),
		canonical.RawMention{Kind: "technique", Confidence: 50},
		canonical.RawMention{Kind: "weather", Value: "sunny"}))
	require.NoError(t, err)
	assert.Equal(t, 2, res.Entities.Skipped)
	assert.Equal(t, 1, res.Entities.Total())
}

func TestAnalyzeWithoutActiveConfig(t *testing.T) {
	store := testutil.NewTestStore(t)
	orch := pipeline.New(store, nil, conf.NewCorrelationProvider(nil))

	_, err := orch.Analyze(context.Background(), request("D1", time.Now()))
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryConfiguration))
}

func TestAnalyzeRetriesWholeRunOnConflict(t *testing.T) {
	store := testutil.NewTestStore(t)
	provider := conf.NewCorrelationProvider(&conf.ActiveCorrelation{Version: 1, Settings: correlation()})

	var failures atomic.Int32
	failures.Store(1)
	require.NoError(t, store.DB().Callback().Create().Before("gorm:create").Register("test:busy", func(db *gorm.DB) {
		if db.Statement.Table == "documents" && failures.Add(-1) >= 0 {
			_ = db.AddError(sqlite3.Error{Code: sqlite3.ErrBusy})
		}
	}))

	rec := metrics.NewTestRecorder()
	orch := pipeline.New(store, &datastore.Retrier{MaxRetries: 0}, provider,
		pipeline.WithRecorder(rec),
		pipeline.WithRetry(conf.RetrySettings{MaxRetries: 3, InitialDelay: time.Millisecond, MaxDelay: 2 * time.Millisecond, Multiplier: 2}))

	res, err := orch.Analyze(context.Background(), request("D1", time.Now().UTC(), ip("10.0.0.1", 50)))
	require.NoError(t, err)
	assert.Equal(t, 2, res.Attempts)
	assert.Equal(t, 1, rec.GetOperationCount(metrics.OpDocument, metrics.StatusSuccess))
}

func TestAnalyzeRetryDoesNotRecountEntities(t *testing.T) {
	store := testutil.NewTestStore(t)
	provider := conf.NewCorrelationProvider(&conf.ActiveCorrelation{Version: 1, Settings: correlation()})

	var failures atomic.Int32
	failures.Store(1)
	require.NoError(t, store.DB().Callback().Create().Before("gorm:create").Register("test:busy", func(db *gorm.DB) {
		if db.Statement.Table == "priority_scores" && failures.Add(-1) >= 0 {
			_ = db.AddError(sqlite3.Error{Code: sqlite3.ErrBusy})
		}
	}))

	orch := pipeline.New(store, &datastore.Retrier{MaxRetries: 0}, provider,
		pipeline.WithRetry(conf.RetrySettings{MaxRetries: 3, InitialDelay: time.Millisecond, MaxDelay: 2 * time.Millisecond, Multiplier: 2}))

	ctx := context.Background()
	res, err := orch.Analyze(ctx, request("D1", time.Now().UTC(), ip("10.0.0.1", 50), technique("T1566", 60)))
	require.NoError(t, err)
	assert.Equal(t, 2, res.Attempts)
	require.NotNil(t, res.Priority)

	for _, kind := range []entities.EntityKind{entities.KindIndicator, entities.KindTechnique} {
		ids := res.Entities.EntityIDs[kind]
		require.Len(t, ids, 1)
		e, err := store.Entities.Get(ctx, ids[0])
		require.NoError(t, err)
		assert.Equal(t, 1, e.OccurrenceCount, "kind %s", kind)
	}
}

func TestAnalyzeGivesUpOnPersistentConflict(t *testing.T) {
	store := testutil.NewTestStore(t)
	provider := conf.NewCorrelationProvider(&conf.ActiveCorrelation{Version: 1, Settings: correlation()})
	require.NoError(t, store.DB().Callback().Create().Before("gorm:create").Register("test:busy", func(db *gorm.DB) {
		if db.Statement.Table == "documents" {
			_ = db.AddError(sqlite3.Error{Code: sqlite3.ErrBusy})
		}
	}))

	rec := metrics.NewTestRecorder()
	orch := pipeline.New(store, &datastore.Retrier{MaxRetries: 0}, provider,
		pipeline.WithRecorder(rec),
		pipeline.WithRetry(conf.RetrySettings{MaxRetries: 2, InitialDelay: time.Millisecond, MaxDelay: time.Millisecond, Multiplier: 1}))

	_, err := orch.Analyze(context.Background(), request("D1", time.Now().UTC()))
	require.Error(t, err)
	assert.True(t, errors.IsConflict(err))
	assert.Equal(t, 1, rec.GetOperationCount(metrics.OpDocument, metrics.StatusError))
}

func TestAnalyzeBatch(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	base := time.Now().UTC().AddDate(0, 0, -10)

	reqs := []*pipeline.AnalysisRequest{
		request("B1", base, ip("192.0.2.10", 70), technique("T1566", 70)),
		request("B2", base.AddDate(0, 0, 1), ip("192.0.2.10", 70), technique("T1566", 70)),
		{DocumentID: "", CreatedAt: base},
		request("B3", base.AddDate(0, 0, 2), ip("192.0.2.10", 70)),
	}

	summary, err := h.orch.AnalyzeBatch(ctx, reqs, 2)
	require.NoError(t, err)
	require.Len(t, summary.Outcomes, 4)
	assert.Equal(t, 3, summary.Succeeded)
	assert.Equal(t, 1, summary.Failed)
	assert.Error(t, summary.Outcomes[2].Err)
	assert.Same(t, reqs[3], summary.Outcomes[3].Request)

	for _, id := range []string{"B1", "B2", "B3"} {
		ok, err := h.store.Documents.Exists(ctx, id)
		require.NoError(t, err)
		assert.True(t, ok, id)
	}
}
