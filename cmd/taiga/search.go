package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	syncer "github.com/Diablofan/taiga/internal/sync"
)

var searchCmd = &cobra.Command{
	Use:   "search <provider> <query>",
	Short: "Search a provider's catalog",
	Long: `Search a tracking service for titles. Results are not written to the
local library.

Examples:
  taiga search anilist "cowboy bebop"
  taiga search myanimelist monogatari`,
	Args: cobra.MinimumNArgs(2),
	RunE: runSearchCmd,
}

func init() {
	rootCmd.AddCommand(searchCmd)
}

func runSearchCmd(cmd *cobra.Command, args []string) error {
	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.Close()

	id, err := a.providerArg(args[0])
	if err != nil {
		return err
	}
	query := strings.Join(args[1:], " ")

	resp, err := a.dispatch.Do(cmd.Context(), &syncer.Request{
		Type:     syncer.RequestSearchTitle,
		Provider: id,
		Query:    query,
	})
	if err != nil {
		return fmt.Errorf("search failed: %w", err)
	}
	if len(resp.Items) == 0 {
		fmt.Printf("No results for %q on %s.\n", query, id)
		return nil
	}

	fmt.Printf("%d results on %s:\n\n", len(resp.Items), id)
	fmt.Printf("  %-9s %-40s %-8s %-9s %s\n", "EXT ID", "TITLE", "TYPE", "EPISODES", "SCORE")
	fmt.Println("  " + strings.Repeat("-", 76))

	for _, item := range resp.Items {
		title := item.Title
		if len(title) > 40 {
			title = title[:37] + "..."
		}
		score := "-"
		if item.CommunityScore > 0 {
			score = fmt.Sprintf("%.1f", item.CommunityScore)
		}
		extID, _ := item.ExternalID(id)
		fmt.Printf("  %-9s %-40s %-8s %-9s %s\n",
			extID, title, item.Type, episodeCount(item), score)
	}
	return nil
}
