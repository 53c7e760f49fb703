package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/tphakala/threatlink/cmd/analyze"
	"github.com/tphakala/threatlink/cmd/campaigns"
	configcmd "github.com/tphakala/threatlink/cmd/config"
	"github.com/tphakala/threatlink/cmd/merge"
	"github.com/tphakala/threatlink/cmd/serve"
	"github.com/tphakala/threatlink/cmd/version"
	"github.com/tphakala/threatlink/internal/app"
	"github.com/tphakala/threatlink/internal/conf"
	"github.com/tphakala/threatlink/internal/telemetry"
)

// RootCommand creates and returns the root command
func RootCommand(ctx *app.Context) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "threatlink",
		Short:         "Threat intelligence correlation engine",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	setupFlags(rootCmd, ctx)

	versionCmd := version.Command(ctx)
	subcommands := []*cobra.Command{
		analyze.Command(ctx),
		serve.Command(ctx),
		merge.Command(ctx),
		campaigns.Command(ctx),
		configcmd.Command(ctx),
		versionCmd,
	}
	rootCmd.AddCommand(subcommands...)

	rootCmd.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		// version needs no configuration
		if cmd.Name() == versionCmd.Name() {
			return nil
		}
		return initialize(ctx)
	}
	rootCmd.PersistentPostRun = func(cmd *cobra.Command, args []string) {
		ctx.Shutdown()
	}

	return rootCmd
}

// initialize loads settings and starts logging and error tracking before any
// subcommand runs.
func initialize(ctx *app.Context) error {
	settings, err := conf.Load(ctx.ConfigFile)
	if err != nil {
		return err
	}
	if ctx.Debug {
		settings.Debug = true
	}
	ctx.Settings = settings

	closeLogs, err := app.InitLogging(settings)
	if err != nil {
		return fmt.Errorf("failed to initialize logging: %w", err)
	}
	ctx.OnShutdown(closeLogs)

	flush, err := telemetry.InitSentry(settings, ctx.Build)
	if err != nil {
		return err
	}
	ctx.OnShutdown(flush)

	return nil
}

func setupFlags(rootCmd *cobra.Command, ctx *app.Context) {
	rootCmd.PersistentFlags().StringVarP(&ctx.ConfigFile, "config", "c", "", "Path to config.yaml (default: search standard locations)")
	rootCmd.PersistentFlags().BoolVarP(&ctx.Debug, "debug", "d", false, "Enable debug output")

	// errors only on a nil flag
	_ = viper.BindPFlag("debug", rootCmd.PersistentFlags().Lookup("debug"))
}
