package main

import (
	"fmt"
	"os"

	"github.com/tphakala/threatlink/cmd"
	"github.com/tphakala/threatlink/internal/app"
	"github.com/tphakala/threatlink/internal/buildinfo"
)

// Set at link time with -ldflags "-X main.version=... -X main.buildDate=...".
var (
	version   = ""
	buildDate = ""
)

func main() {
	ctx := app.NewContext(buildinfo.NewContext(version, buildDate))
	rootCmd := cmd.RootCommand(ctx)

	if err := rootCmd.Execute(); err != nil {
		ctx.Shutdown()
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
