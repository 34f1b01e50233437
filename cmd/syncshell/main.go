// SPDX-License-Identifier: LGPL-3.0-or-later

// Command syncshell is the reference CLI for the module's management
// surface: create, join, leave, resync, block, unblock, status, plus a
// serve command that drives the proximity scheduler against a replayed
// snapshot file for local testing without a live game client attached.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "syncshell",
	Short: "syncshell peer-to-peer mod sync CLI",
	Long: `syncshell manages the local peer identity and syncshell
memberships: creating and joining syncshells, leaving them, forcing an
immediate resync, and maintaining the local peer block list.`,
}

func init() {
	rootCmd.CompletionOptions.DisableDefaultCmd = true
	rootCmd.PersistentFlags().StringVar(&flagDataDir, "data-dir", "", "override the configured data directory")
	rootCmd.PersistentFlags().StringVar(&flagConfigFile, "config", "", "path to a YAML config file")
	rootCmd.PersistentFlags().StringVar(&flagEnvFile, "env", "", "path to a .env overrides file")
	rootCmd.PersistentFlags().StringVar(&flagLogLevel, "log-level", "", "override the configured log level (debug|info|warn|error)")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(exitCode(err))
	}
}
