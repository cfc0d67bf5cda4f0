// Package cli implements the driverd command-line interface using Cobra,
// grounded on the Tutu-Engine example's root/serve command split.
package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:           "driverd",
	Short:         "driverd — the MUD driver core",
	Long:          `driverd boots the world, accepts player connections over WebSocket, and drives the heartbeat that ticks it.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to a TOML config file (optional; env vars and defaults fill the rest)")
}

// Execute runs the root command. Called from cmd/driverd/main.go.
func Execute(version string) {
	rootCmd.Version = version
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
