package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/Diablofan/taiga/internal/events"
)

var eventsCmd = &cobra.Command{
	Use:   "events",
	Short: "Show the activity log",
	Long: `List recorded library and provider events, newest first. Use --item
to follow a single item's history, or --since to replay a time window.`,
	RunE: runEventsCmd,
}

func init() {
	eventsCmd.Flags().IntP("limit", "n", 20, "Number of events to show")
	eventsCmd.Flags().Int64("item", 0, "Only events for the item with this ID")
	eventsCmd.Flags().Duration("since", 0, "Only events newer than this, e.g. 24h")
	rootCmd.AddCommand(eventsCmd)
}

func runEventsCmd(cmd *cobra.Command, args []string) error {
	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.Close()

	itemID, _ := cmd.Flags().GetInt64("item")
	since, _ := cmd.Flags().GetDuration("since")
	limit, _ := cmd.Flags().GetInt("limit")

	var recorded []events.RawEvent
	switch {
	case itemID > 0:
		recorded, err = a.eventLog.ForEntity("item", itemID)
	case since > 0:
		recorded, err = a.eventLog.Since(time.Now().Add(-since))
	default:
		recorded, err = a.eventLog.Recent(limit)
	}
	if err != nil {
		return fmt.Errorf("load events: %w", err)
	}

	if len(recorded) == 0 {
		fmt.Println("No events")
		return nil
	}

	for _, e := range recorded {
		fmt.Printf("  %s  %-14s %s #%d\n",
			e.OccurredAt.Local().Format("2006-01-02 15:04"),
			e.EventType,
			e.EntityType,
			e.EntityID,
		)
	}
	return nil
}
