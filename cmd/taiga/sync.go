package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Diablofan/taiga/internal/library"
	"github.com/Diablofan/taiga/internal/server"
)

var syncCmd = &cobra.Command{
	Use:   "sync [provider]",
	Short: "Fetch remote lists and merge them now",
	Long: `Run one sync cycle immediately, without waiting for the daemon's
schedule. Without arguments every enabled provider is synced.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runSyncCmd,
}

var syncMetadata bool

func init() {
	syncCmd.Flags().BoolVar(&syncMetadata, "metadata", false,
		"also re-fetch metadata for every tracked item")
	rootCmd.AddCommand(syncCmd)
}

func runSyncCmd(cmd *cobra.Command, args []string) error {
	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.Close()

	var ids []library.ProviderID
	if len(args) > 0 {
		id, err := a.providerArg(args[0])
		if err != nil {
			return err
		}
		ids = []library.ProviderID{id}
	} else {
		ids = a.cfg.Enabled()
	}

	var providers []server.ProviderSync
	for _, id := range ids {
		providers = append(providers, server.ProviderSync{Provider: id})
	}
	runner := server.NewRunner(a.dispatch, a.engine, a.store, providers, a.logger)

	failed := 0
	for _, id := range ids {
		if err := runner.SyncOnce(cmd.Context(), id); err != nil {
			fmt.Printf("%-14s sync failed: %v\n", id, err)
			failed++
			continue
		}
		if syncMetadata {
			if err := runner.RefreshMetadata(cmd.Context(), id); err != nil {
				fmt.Printf("%-14s metadata refresh failed: %v\n", id, err)
				failed++
				continue
			}
		}
		fmt.Printf("%-14s synced\n", id)
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d providers failed", failed, len(ids))
	}
	return nil
}
