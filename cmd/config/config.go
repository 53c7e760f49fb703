// Package config implements the configuration commands.
package config

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/tphakala/threatlink/internal/app"
	"github.com/tphakala/threatlink/internal/conf"
	"github.com/tphakala/threatlink/internal/datastore"
)

// Command creates the config command group.
func Command(ctx *app.Context) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Show, validate and activate configuration",
	}
	cmd.AddCommand(showCommand(ctx), pathCommand(), dumpCommand(ctx), validateCommand(ctx), activateCommand(ctx))
	return cmd
}

func showCommand(ctx *app.Context) *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration with credentials redacted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			if used := viper.ConfigFileUsed(); used != "" {
				fmt.Fprintf(out, "# %s\n", used)
			}
			data, err := yaml.Marshal(conf.Redacted(ctx.Settings))
			if err != nil {
				return err
			}
			_, err = out.Write(data)
			return err
		},
	}
}

func pathCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "path",
		Short: "Print the configuration file in use",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			path := viper.ConfigFileUsed()
			if path == "" {
				var err error
				if path, err = conf.FindConfigFile(); err != nil {
					return err
				}
			}
			_, err := fmt.Fprintln(cmd.OutOrStdout(), path)
			return err
		},
	}
}

func dumpCommand(ctx *app.Context) *cobra.Command {
	return &cobra.Command{
		Use:   "dump <file>",
		Short: "Write the effective configuration, including defaults, to a file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := conf.SaveYAMLConfig(args[0], ctx.Settings); err != nil {
				return err
			}
			_, err := fmt.Fprintf(cmd.OutOrStdout(), "configuration written to %s\n", args[0])
			return err
		},
	}
}

func validateCommand(ctx *app.Context) *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Check the configuration without touching the datastore",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			// settings were validated while loading; this repeats it so the
			// command is meaningful on its own
			if err := conf.ValidateSettings(ctx.Settings); err != nil {
				return err
			}
			_, err := fmt.Fprintln(cmd.OutOrStdout(), "configuration is valid")
			return err
		},
	}
}

func activateCommand(ctx *app.Context) *cobra.Command {
	return &cobra.Command{
		Use:   "activate",
		Short: "Store the correlation section as the active version",
		Long: `Activate records the correlation section of the configuration as the
active version. Unchanged settings keep the current version.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			manager, store, err := datastore.Open(&ctx.Settings.Datastore)
			if err != nil {
				return err
			}
			defer manager.Close()

			activator := datastore.NewConfigActivator(store, nil)
			active, err := activator.LoadOrActivate(cmd.Context(), &ctx.Settings.Correlation)
			if err != nil {
				return err
			}
			return app.WriteJSON(cmd.OutOrStdout(), map[string]any{
				"version":      active.Version,
				"checksum":     active.Checksum,
				"activated_at": active.ActivatedAt,
			})
		},
	}
}
