package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/Diablofan/taiga/internal/library"
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List tracked items",
	Long: `List items from the local library.

By default only items on the user's list are shown, excluding entries the
providers have delisted.

Examples:
  taiga list                      # Your list
  taiga list -s watching          # Only what you're watching
  taiga list --all                # Every known item, listed or not
  taiga list -p anilist           # Items known to AniList`,
	RunE: runListCmd,
}

func init() {
	rootCmd.AddCommand(listCmd)
	listCmd.Flags().StringP("status", "s", "", "Filter by watch status (watching, completed, on_hold, dropped, plan_to_watch)")
	listCmd.Flags().StringP("provider", "p", "", "Only items with an ID on this provider")
	listCmd.Flags().BoolP("all", "a", false, "Include items not on your list")
	listCmd.Flags().Bool("delisted", false, "Include delisted items")
	listCmd.Flags().IntP("limit", "l", 50, "Maximum number of items to show")
	listCmd.Flags().Int("offset", 0, "Number of items to skip")
}

func runListCmd(cmd *cobra.Command, args []string) error {
	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.Close()

	var f library.Filter
	f.Limit, _ = cmd.Flags().GetInt("limit")
	f.Offset, _ = cmd.Flags().GetInt("offset")

	if all, _ := cmd.Flags().GetBool("all"); !all {
		f.InList = ptr(true)
	}
	if delisted, _ := cmd.Flags().GetBool("delisted"); !delisted {
		f.Delisted = ptr(false)
	}
	if status, _ := cmd.Flags().GetString("status"); status != "" {
		f.WatchStatus = ptr(library.WatchStatus(status))
	}
	if prov, _ := cmd.Flags().GetString("provider"); prov != "" {
		id, err := a.providerArg(prov)
		if err != nil {
			return err
		}
		f.Provider = &id
	}

	items, total, err := a.store.ListItems(f)
	if err != nil {
		return fmt.Errorf("list items: %w", err)
	}
	if len(items) == 0 {
		fmt.Println("No items found.")
		return nil
	}

	fmt.Printf("Library (%d items):\n\n", total)
	fmt.Printf("  %-5s %-40s %-13s %-9s %s\n", "ID", "TITLE", "STATUS", "PROGRESS", "SCORE")
	fmt.Println("  " + strings.Repeat("-", 78))

	for _, item := range items {
		title := item.Title
		if len(title) > 40 {
			title = title[:37] + "..."
		}

		status, progress, score := "-", "-", "-"
		if item.User != nil {
			status = string(item.User.Status)
			progress = fmt.Sprintf("%d/%s", item.User.Progress, episodeCount(item))
			if item.User.Score > 0 {
				score = fmt.Sprintf("%.1f", item.User.Score)
			}
		}

		fmt.Printf("  %-5d %-40s %-13s %-9s %s\n", item.ID, title, status, progress, score)
	}

	if total > len(items) {
		fmt.Printf("\n  Showing %d of %d items. Use --limit to see more.\n", len(items), total)
	}
	return nil
}

func episodeCount(item *library.Item) string {
	if item.EpisodeCount <= 0 {
		return "?"
	}
	return fmt.Sprintf("%d", item.EpisodeCount)
}
