// Package app assembles the correlation engine from settings for the
// command line and the HTTP server.
package app

import (
	"context"

	"github.com/tphakala/threatlink/internal/buildinfo"
	"github.com/tphakala/threatlink/internal/conf"
	"github.com/tphakala/threatlink/internal/datastore"
	"github.com/tphakala/threatlink/internal/datastore/repository"
	"github.com/tphakala/threatlink/internal/errors"
	"github.com/tphakala/threatlink/internal/logger"
	"github.com/tphakala/threatlink/internal/notify"
	"github.com/tphakala/threatlink/internal/observability"
	"github.com/tphakala/threatlink/internal/observability/metrics"
	"github.com/tphakala/threatlink/internal/pipeline"
	"github.com/tphakala/threatlink/internal/semantic"
)

// App holds the opened store and the components built on it.
type App struct {
	Settings     *conf.Settings
	Build        *buildinfo.Context
	Manager      datastore.Manager
	Store        *repository.Store
	Metrics      *observability.Metrics
	Provider     *conf.CorrelationProvider
	Activator    *datastore.ConfigActivator
	Retrier      *datastore.Retrier
	Semantic     *semantic.Engine
	Orchestrator *pipeline.Orchestrator
	Queries      *pipeline.Queries
	Notifier     *notify.Notifier
}

// Options selects optional parts of the assembly.
type Options struct {
	// Notify connects the MQTT and push channels enabled in settings.
	Notify bool
}

// Open opens the datastore, activates the configured correlation set and
// builds the pipeline. Close must be called on success.
func Open(ctx context.Context, settings *conf.Settings, build *buildinfo.Context, opts Options) (*App, error) {
	m, err := observability.NewMetrics()
	if err != nil {
		return nil, errors.New(err).
			Component("app").
			Category(errors.CategoryConfiguration).
			Context("operation", "init_metrics").
			Build()
	}
	recorder := m.Correlation

	manager, store, err := datastore.Open(&settings.Datastore)
	if err != nil {
		return nil, err
	}

	a := &App{
		Settings: settings,
		Build:    build,
		Manager:  manager,
		Store:    store,
		Metrics:  m,
		Retrier:  datastore.NewRetrier(retryObserver(recorder)),
	}

	a.Activator = datastore.NewConfigActivator(store, a.Retrier)
	active, err := a.Activator.LoadOrActivate(ctx, &settings.Correlation)
	if err != nil {
		_ = a.Close()
		return nil, err
	}
	a.Provider = conf.NewCorrelationProvider(active)

	embedder, err := semantic.NewEmbedder(ctx, &settings.Semantic)
	if err != nil {
		_ = a.Close()
		return nil, err
	}
	a.Semantic = semantic.NewEngine(embedder, store.Embeddings, &settings.Semantic, semantic.WithRecorder(recorder))
	if settings.Correlation.SemanticEnabled && !a.Semantic.Enabled() {
		GetLogger().Warn("semantic scoring enabled but no embedding provider is configured")
	}

	pipeOpts := []pipeline.Option{
		pipeline.WithSemantic(a.Semantic),
		pipeline.WithRecorder(recorder),
		pipeline.WithRetry(settings.Pipeline.Retry),
		pipeline.WithRunTimeout(settings.Pipeline.RunTimeout),
	}
	if opts.Notify {
		n, err := notify.FromSettings(ctx, settings, recorder)
		if err != nil {
			_ = a.Close()
			return nil, err
		}
		// a nil *Notifier must not reach the pipeline as a non-nil interface
		if n != nil {
			a.Notifier = n
			pipeOpts = append(pipeOpts, pipeline.WithNotifier(n))
		}
	}

	a.Orchestrator = pipeline.New(store, a.Retrier, a.Provider, pipeOpts...)
	a.Queries = pipeline.NewQueries(store)

	GetLogger().Info("engine ready",
		logger.Int64("config_version", active.Version),
		logger.String("datastore", datastoreName(settings)),
		logger.Bool("semantic", a.Semantic.Enabled()),
		logger.Bool("notifications", a.Notifier != nil))
	return a, nil
}

// Reloader returns a reloader that activates the correlation section of the
// current configuration and swaps it into the provider.
func (a *App) Reloader() *conf.Reloader {
	return conf.NewReloader(a.Provider, a.Activator, func(active *conf.ActiveCorrelation) {
		GetLogger().Info("correlation settings reloaded", logger.Int64("config_version", active.Version))
	})
}

// Close releases the notifier and the datastore.
func (a *App) Close() error {
	if a.Notifier != nil {
		a.Notifier.Close()
	}
	if a.Manager != nil {
		return a.Manager.Close()
	}
	return nil
}

func retryObserver(recorder metrics.Recorder) datastore.RetryObserver {
	return func(operation string, attempt int, err error) {
		recorder.RecordOperation(metrics.OpStoreRetry, operation)
		GetLogger().Debug("retrying store operation",
			logger.String("operation", operation),
			logger.Int("attempt", attempt),
			logger.Error(err))
	}
}

func datastoreName(settings *conf.Settings) string {
	if settings.Datastore.Type == "" {
		return "sqlite"
	}
	return settings.Datastore.Type
}
