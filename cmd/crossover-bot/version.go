package main

import (
	"fmt"
	"runtime"

	"github.com/spf13/cobra"
)

// Set during build via -ldflags "-X main.version=... -X main.commit=... -X main.buildDate=..."
var (
	version   = "0.1.0"
	commit    = "dev"
	buildDate = "unknown"
)

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, args []string) {
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "crossover-bot v%s\n", version)
			fmt.Fprintf(out, "Build: %s (%s)\n", commit, buildDate)
			fmt.Fprintf(out, "Go: %s (%s/%s)\n", runtime.Version(), runtime.GOOS, runtime.GOARCH)
		},
	}
}
