package version

import (
	"fmt"
	"runtime"

	"github.com/spf13/cobra"

	"github.com/tphakala/threatlink/internal/app"
)

// Command prints build metadata.
func Command(ctx *app.Context) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			_, err := fmt.Fprintf(cmd.OutOrStdout(), "threatlink %s (built %s, %s %s/%s)\n",
				ctx.Build.GetVersion(), ctx.Build.GetBuildDate(),
				runtime.Version(), runtime.GOOS, runtime.GOARCH)
			return err
		},
	}
}
