package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Diablofan/taiga/internal/library"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Provider auth states and library summary",
	RunE:  runStatusCmd,
}

func init() {
	rootCmd.AddCommand(statusCmd)
	statusCmd.Flags().IntP("events", "n", 10, "Number of recent events to show (0 to hide)")
}

func runStatusCmd(cmd *cobra.Command, args []string) error {
	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.Close()

	fmt.Println("Providers:")
	for _, id := range a.cfg.Enabled() {
		mgr := a.managers[id]
		state := mgr.State().String()
		if !mgr.HasToken() {
			state += fmt.Sprintf("  (run 'taiga auth %s')", id)
		}
		fmt.Printf("  %-14s %s\n", id, state)
	}

	_, inList, err := a.store.ListItems(library.Filter{InList: ptr(true), Limit: 1})
	if err != nil {
		return fmt.Errorf("count items: %w", err)
	}
	_, total, err := a.store.ListItems(library.Filter{Limit: 1})
	if err != nil {
		return fmt.Errorf("count items: %w", err)
	}
	fmt.Printf("\nLibrary: %d items on your list, %d known\n", inList, total)

	limit, _ := cmd.Flags().GetInt("events")
	if limit <= 0 {
		return nil
	}
	recent, err := a.eventLog.Recent(limit)
	if err != nil {
		return fmt.Errorf("recent events: %w", err)
	}
	if len(recent) == 0 {
		return nil
	}

	fmt.Println("\nRecent activity:")
	for _, e := range recent {
		fmt.Printf("  %s  %-14s %s #%d\n",
			e.OccurredAt.Local().Format("2006-01-02 15:04"),
			e.EventType,
			e.EntityType,
			e.EntityID,
		)
	}
	return nil
}
