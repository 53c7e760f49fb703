// Package serve implements the long-running server mode.
package serve

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/tphakala/threatlink/internal/api"
	"github.com/tphakala/threatlink/internal/app"
	"github.com/tphakala/threatlink/internal/logger"
	"github.com/tphakala/threatlink/internal/pipeline"
)

// Command creates the serve command.
func Command(ctx *app.Context) *cobra.Command {
	var listen string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API, config watcher and campaign status sweeps",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if listen != "" {
				ctx.Settings.API.Listen = listen
			}
			sigCtx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return Run(sigCtx, ctx)
		},
	}
	cmd.Flags().StringVarP(&listen, "listen", "l", "", "Override api.listen")
	return cmd
}

// Run blocks until ctx is cancelled, then shuts everything down in reverse
// start order.
func Run(ctx context.Context, appCtx *app.Context) error {
	log := logger.Global().Module("serve")
	settings := appCtx.Settings

	a, err := app.Open(ctx, settings, appCtx.Build, app.Options{Notify: true})
	if err != nil {
		return err
	}
	defer a.Close()

	pool := pipeline.NewWorkerPool(a.Orchestrator, settings.Pipeline)
	// queued runs finish during shutdown
	pool.Start(context.WithoutCancel(ctx))
	defer func() {
		if err := pool.Stop(); err != nil {
			log.Warn("worker pool did not drain", logger.Error(err))
		}
	}()

	reloader := a.Reloader()
	reloader.Watch(ctx)

	detector := a.Orchestrator.Detector()
	go detector.RunStatusRefresher(ctx, settings.Campaign.RefreshInterval, &settings.Campaign)

	if settings.API.Enabled {
		srv, err := api.New(api.ConfigFromSettings(settings), a.Queries,
			api.WithAnalyzer(pool),
			api.WithMerger(a.Orchestrator.Canonicalizer()),
			api.WithEntityFlags(a.Orchestrator.Canonicalizer()),
			api.WithConfig(a.Provider, reloader),
			api.WithMetrics(a.Metrics.Handler()),
		)
		if err != nil {
			return err
		}
		srv.Start()
		defer func() {
			if err := srv.Shutdown(); err != nil {
				log.Warn("http server shutdown failed", logger.Error(err))
			}
		}()
	}

	log.Info("threatlink running",
		logger.String("version", appCtx.Build.GetVersion()),
		logger.Bool("api", settings.API.Enabled))
	<-ctx.Done()
	log.Info("shutting down")
	return nil
}
