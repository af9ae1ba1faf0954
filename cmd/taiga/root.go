package main

import (
	"os"

	"github.com/spf13/cobra"
)

var version = "dev"

var configPath string

var rootCmd = &cobra.Command{
	Use:   "taiga",
	Short: "CLI for the taiga anime list synchronizer",
	Long: `taiga - CLI for the taiga anime list synchronizer

Authorize tracking services, inspect the local library, and trigger
syncs against the same database the daemon uses.

Run 'taigad' to start the background sync daemon.`,
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "config.toml", "Path to config file")

	rootCmd.Version = version
	rootCmd.SetVersionTemplate("taiga {{.Version}}\n")
}
