package conf

import (
	"context"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func resetViper(t *testing.T) {
	t.Helper()
	viper.Reset()
	t.Cleanup(viper.Reset)
}

func TestLoadAppliesDefaults(t *testing.T) {
	resetViper(t)
	path := writeConfig(t, "debug: true\n")

	settings, err := Load(path)
	require.NoError(t, err)

	assert.True(t, settings.Debug)
	c := settings.Correlation
	assert.Equal(t, 90, c.LookbackDays)
	assert.InDelta(t, 0.40, c.Weights.Indicator, 1e-9)
	assert.InDelta(t, 0.30, c.Weights.Technique, 1e-9)
	assert.InDelta(t, 0.20, c.Weights.Actor, 1e-9)
	assert.InDelta(t, 0.10, c.Weights.Semantic, 1e-9)
	assert.InDelta(t, 0.60, c.MinimumScore, 1e-9)
	assert.Equal(t, 3, c.CampaignMinArticles)
	assert.Equal(t, 90, c.CriticalConfidence)

	assert.Equal(t, 4, settings.Pipeline.Workers)
	assert.Equal(t, 2*time.Minute, settings.Pipeline.RunTimeout)
	assert.Equal(t, 100*time.Millisecond, settings.Pipeline.Retry.InitialDelay)
	assert.Equal(t, "sqlite", settings.Datastore.Type)
	assert.Equal(t, "none", settings.Semantic.Provider)
	assert.Equal(t, "127.0.0.1:8088", settings.API.Listen)
	assert.Same(t, settings, GetSettings())
}

func TestLoadReadsFileValues(t *testing.T) {
	resetViper(t)
	path := writeConfig(t, `
correlation:
  lookback_days: 30
  weights:
    indicator: 0.5
    technique: 0.5
    actor: 0
    semantic: 0
pipeline:
  workers: 8
  run_timeout: 45s
`)

	settings, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 30, settings.Correlation.LookbackDays)
	assert.InDelta(t, 0.5, settings.Correlation.Weights.Indicator, 1e-9)
	assert.Zero(t, settings.Correlation.Weights.Actor)
	assert.Equal(t, 8, settings.Pipeline.Workers)
	assert.Equal(t, 45*time.Second, settings.Pipeline.RunTimeout)
}

func TestLoadEnvironmentOverride(t *testing.T) {
	resetViper(t)
	t.Setenv("THREATLINK_API_LISTEN", "0.0.0.0:9000")
	t.Setenv("THREATLINK_SEMANTIC_API_KEY", "sk-test")

	settings, err := Load(writeConfig(t, "debug: false\n"))
	require.NoError(t, err)

	assert.Equal(t, "0.0.0.0:9000", settings.API.Listen)
	assert.Equal(t, "sk-test", settings.Semantic.APIKey)
}

func TestLoadRejectsInvalidSettings(t *testing.T) {
	resetViper(t)
	path := writeConfig(t, `
correlation:
  minimum_score: 1.5
datastore:
  type: postgres
`)

	_, err := Load(path)
	require.Error(t, err)

	var ve ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Len(t, ve.Errors, 2)
}

func TestEmbeddedDefaultConfigIsValid(t *testing.T) {
	resetViper(t)
	data, err := configFiles.ReadFile("config.yaml")
	require.NoError(t, err)

	_, err = Load(writeConfig(t, string(data)))
	require.NoError(t, err)
}

func TestSaveYAMLConfigRoundTrip(t *testing.T) {
	resetViper(t)
	settings, err := Load(writeConfig(t, "pipeline:\n  workers: 6\n"))
	require.NoError(t, err)

	out := filepath.Join(t.TempDir(), "dump.yaml")
	require.NoError(t, SaveYAMLConfig(out, settings))

	viper.Reset()
	reloaded, err := Load(out)
	require.NoError(t, err)
	assert.Equal(t, settings.Pipeline, reloaded.Pipeline)
	assert.Equal(t, settings.Correlation, reloaded.Correlation)
}

func TestValidateCorrelation(t *testing.T) {
	valid := func() CorrelationSettings {
		return CorrelationSettings{
			LookbackDays:              90,
			Weights:                   Weights{Indicator: 0.4, Technique: 0.3, Actor: 0.2, Semantic: 0.1},
			MinimumScore:              0.6,
			MinimumSharedEntities:     1,
			SemanticThreshold:         0.75,
			CampaignMinArticles:       3,
			CampaignTimeWindowDays:    90,
			CampaignMinSharedEntities: 2,
			CampaignScoreThreshold:    0.7,
			CriticalConfidence:        90,
		}
	}

	tests := []struct {
		name    string
		mutate  func(*CorrelationSettings)
		wantErr string
	}{
		{"valid", func(*CorrelationSettings) {}, ""},
		{"negative weight", func(c *CorrelationSettings) { c.Weights.Actor = -0.1 }, "weights.actor"},
		{"all weights zero", func(c *CorrelationSettings) { c.Weights = Weights{} }, "at least one weight"},
		{"lookback zero", func(c *CorrelationSettings) { c.LookbackDays = 0 }, "lookback_days"},
		{"campaign articles", func(c *CorrelationSettings) { c.CampaignMinArticles = 1 }, "campaign_min_articles"},
		{"critical confidence", func(c *CorrelationSettings) { c.CriticalConfidence = 101 }, "critical_confidence"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := valid()
			tt.mutate(&c)
			err := ValidateCorrelation(&c)
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestChecksumTracksChanges(t *testing.T) {
	a := CorrelationSettings{LookbackDays: 90}
	b := a
	assert.Equal(t, a.Checksum(), b.Checksum())

	b.MinimumScore = 0.5
	assert.NotEqual(t, a.Checksum(), b.Checksum())
}

type fakeActivator struct {
	version atomic.Int64
	fail    error
}

func (f *fakeActivator) ActivateCorrelation(_ context.Context, s *CorrelationSettings) (*ActiveCorrelation, error) {
	if f.fail != nil {
		return nil, f.fail
	}
	return &ActiveCorrelation{
		Version:     f.version.Add(1),
		Settings:    *s,
		Checksum:    s.Checksum(),
		ActivatedAt: time.Now(),
	}, nil
}

func TestReloaderSwapsValidSettings(t *testing.T) {
	resetViper(t)
	path := writeConfig(t, "correlation:\n  lookback_days: 60\n")
	_, err := Load(path)
	require.NoError(t, err)

	provider := NewCorrelationProvider(nil)
	activator := &fakeActivator{}
	var notified atomic.Int32
	r := NewReloader(provider, activator, func(*ActiveCorrelation) { notified.Add(1) })

	first, err := r.Reload(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1), first.Version)
	assert.Equal(t, 60, provider.Current().Settings.LookbackDays)

	again, err := r.Reload(context.Background())
	require.NoError(t, err)
	assert.Same(t, first, again, "unchanged settings are not re-activated")
	assert.Equal(t, int32(1), notified.Load())

	require.NoError(t, os.WriteFile(path, []byte("correlation:\n  lookback_days: 30\n"), 0o600))
	require.NoError(t, viper.ReadInConfig())

	second, err := r.Reload(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(2), second.Version)
	assert.Equal(t, 30, provider.Current().Settings.LookbackDays)
}

func TestReloaderKeepsActiveSetOnInvalidReload(t *testing.T) {
	resetViper(t)
	path := writeConfig(t, "correlation:\n  lookback_days: 60\n")
	_, err := Load(path)
	require.NoError(t, err)

	provider := NewCorrelationProvider(nil)
	r := NewReloader(provider, &fakeActivator{}, nil)
	active, err := r.Reload(context.Background())
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(path, []byte("correlation:\n  minimum_score: 7\n"), 0o600))
	require.NoError(t, viper.ReadInConfig())

	_, err = r.Reload(context.Background())
	require.Error(t, err)
	assert.Same(t, active, provider.Current())
}

func TestReloaderKeepsActiveSetWhenStoreFails(t *testing.T) {
	resetViper(t)
	path := writeConfig(t, "correlation:\n  lookback_days: 60\n")
	_, err := Load(path)
	require.NoError(t, err)

	seed := &ActiveCorrelation{Version: 7, Checksum: "seed"}
	provider := NewCorrelationProvider(seed)
	r := NewReloader(provider, &fakeActivator{fail: assert.AnError}, nil)

	_, err = r.Reload(context.Background())
	require.ErrorIs(t, err, assert.AnError)
	assert.Same(t, seed, provider.Current())
}
