// Package merge implements the merge command for duplicate threat actors.
package merge

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/tphakala/threatlink/internal/app"
)

// Command creates the merge command.
func Command(ctx *app.Context) *cobra.Command {
	return &cobra.Command{
		Use:   "merge <primary-actor-id> <duplicate-actor-id> [...]",
		Short: "Merge duplicate threat actors into a primary actor",
		Long: `Merge folds the duplicate actors into the primary one. Their aliases,
document links, timeline events and campaign references move to the primary
actor and the duplicates are deleted.`,
		Args: cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ids, err := parseIDs(args)
			if err != nil {
				return err
			}

			a, err := app.Open(cmd.Context(), ctx.Settings, ctx.Build, app.Options{})
			if err != nil {
				return err
			}
			defer a.Close()

			result, err := a.Orchestrator.Canonicalizer().MergeActorsWithTimeout(cmd.Context(), ids[0], ids[1:])
			if err != nil {
				return err
			}
			return app.WriteJSON(cmd.OutOrStdout(), result)
		},
	}
}

func parseIDs(args []string) ([]uint, error) {
	ids := make([]uint, 0, len(args))
	for _, arg := range args {
		id, err := strconv.ParseUint(arg, 10, 64)
		if err != nil || id == 0 {
			return nil, fmt.Errorf("invalid actor id %q", arg)
		}
		ids = append(ids, uint(id))
	}
	return ids, nil
}
