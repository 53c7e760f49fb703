package app

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tphakala/threatlink/internal/buildinfo"
	"github.com/tphakala/threatlink/internal/canonical"
	"github.com/tphakala/threatlink/internal/conf"
	"github.com/tphakala/threatlink/internal/pipeline"
)

func testSettings(t *testing.T) *conf.Settings {
	t.Helper()
	s := &conf.Settings{}
	s.Datastore.Type = "sqlite"
	s.Datastore.SQLite.Path = filepath.Join(t.TempDir(), "threatlink.db")
	s.Correlation = conf.CorrelationSettings{
		LookbackDays:              90,
		Weights:                   conf.Weights{Indicator: 0.40, Technique: 0.30, Actor: 0.20, Semantic: 0.10},
		MinimumScore:              0.60,
		MinimumSharedEntities:     1,
		SemanticThreshold:         0.75,
		CampaignMinArticles:       3,
		CampaignTimeWindowDays:    90,
		CampaignMinSharedEntities: 2,
		CampaignScoreThreshold:    0.70,
		CriticalConfidence:        90,
	}
	s.Pipeline.RunTimeout = 30 * time.Second
	s.Semantic.Provider = "none"
	return s
}

func TestOpenActivatesOnceAndAnalyzes(t *testing.T) {
	ctx := context.Background()
	settings := testSettings(t)
	build := buildinfo.NewContext("test", "")

	a, err := Open(ctx, settings, build, Options{Notify: true})
	require.NoError(t, err)
	assert.Equal(t, int64(1), a.Provider.Current().Version)
	assert.False(t, a.Semantic.Enabled())
	assert.Nil(t, a.Notifier, "no channel enabled")

	res, err := a.Orchestrator.Analyze(ctx, &pipeline.AnalysisRequest{
		DocumentID: "D1",
		CreatedAt:  time.Now().UTC(),
		Mentions:   []canonical.RawMention{{Kind: "indicator", Value: "203.0.113.5", Confidence: 70}},
	})
	require.NoError(t, err)
	assert.Equal(t, int64(1), res.ConfigVersion)
	require.NoError(t, a.Close())

	// unchanged settings reuse the stored version
	a, err = Open(ctx, settings, build, Options{})
	require.NoError(t, err)
	assert.Equal(t, int64(1), a.Provider.Current().Version)
	require.NoError(t, a.Close())

	settings.Correlation.MinimumScore = 0.5
	a, err = Open(ctx, settings, build, Options{})
	require.NoError(t, err)
	assert.Equal(t, int64(2), a.Provider.Current().Version)
	require.NoError(t, a.Close())
}

func TestOpenRejectsUnknownDatastore(t *testing.T) {
	settings := testSettings(t)
	settings.Datastore.Type = "postgres"
	_, err := Open(context.Background(), settings, buildinfo.NewContext("", ""), Options{})
	require.Error(t, err)
}

func TestInitLoggingDebug(t *testing.T) {
	settings := &conf.Settings{Debug: true}
	closeFn, err := InitLogging(settings)
	require.NoError(t, err)
	closeFn()

	settings.Logging.Timezone = "Not/AZone"
	_, err = InitLogging(settings)
	require.Error(t, err)
}
