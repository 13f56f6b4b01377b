// Package cli implements the Cobra-based command surface: `run` wires
// configuration, logging, metrics, and discovery together and starts
// the HTTP server; `version` prints build info.
package cli

import (
	"github.com/spf13/cobra"
)

// Version is overridden at build time via -ldflags.
var Version = "dev"

var rootCmd = &cobra.Command{
	Use:   "lbproxy",
	Short: "A layer-7 HTTP reverse-proxy load balancer",
}

func init() {
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(versionCmd)
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}
