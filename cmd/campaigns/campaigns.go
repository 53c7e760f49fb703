// Package campaigns implements the campaign inspection commands.
package campaigns

import (
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/tphakala/threatlink/internal/app"
	"github.com/tphakala/threatlink/internal/datastore/entities"
)

// Command creates the campaigns command group.
func Command(ctx *app.Context) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "campaigns",
		Short: "Inspect detected campaigns",
	}
	cmd.AddCommand(listCommand(ctx), showCommand(ctx), refreshCommand(ctx))
	return cmd
}

func listCommand(ctx *app.Context) *cobra.Command {
	var (
		status string
		limit  int
	)
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List campaigns, most recently seen first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := app.Open(cmd.Context(), ctx.Settings, ctx.Build, app.Options{})
			if err != nil {
				return err
			}
			defer a.Close()

			list, err := a.Queries.ListCampaigns(cmd.Context(), entities.CampaignStatus(status), limit)
			if err != nil {
				return err
			}
			return app.WriteJSON(cmd.OutOrStdout(), list)
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "Filter by status: active, dormant or closed")
	cmd.Flags().IntVar(&limit, "limit", 50, "Maximum campaigns to list")
	return cmd
}

func showCommand(ctx *app.Context) *cobra.Command {
	return &cobra.Command{
		Use:   "show <campaign-id>",
		Short: "Show a campaign and its member documents",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.ParseUint(args[0], 10, 64)
			if err != nil || id == 0 {
				return fmt.Errorf("invalid campaign id %q", args[0])
			}

			a, err := app.Open(cmd.Context(), ctx.Settings, ctx.Build, app.Options{})
			if err != nil {
				return err
			}
			defer a.Close()

			view, err := a.Queries.GetCampaign(cmd.Context(), uint(id))
			if err != nil {
				return err
			}
			return app.WriteJSON(cmd.OutOrStdout(), view)
		},
	}
}

func refreshCommand(ctx *app.Context) *cobra.Command {
	return &cobra.Command{
		Use:   "refresh",
		Short: "Move stale campaigns to dormant or closed",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := app.Open(cmd.Context(), ctx.Settings, ctx.Build, app.Options{})
			if err != nil {
				return err
			}
			defer a.Close()

			change, err := a.Orchestrator.Detector().RefreshStatuses(cmd.Context(), time.Now(), &ctx.Settings.Campaign)
			if err != nil {
				return err
			}
			return app.WriteJSON(cmd.OutOrStdout(), change)
		},
	}
}
