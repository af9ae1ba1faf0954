package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Diablofan/taiga/internal/auth"
)

var authCmd = &cobra.Command{
	Use:   "auth <provider>",
	Short: "Authorize a tracking service",
	Long: `Run the pin-based authorization flow for a provider and store the
resulting tokens in the system keyring.

Examples:
  taiga auth anilist            # Authorize AniList
  taiga auth myanimelist        # Authorize MyAnimeList
  taiga auth anilist --forget   # Discard stored AniList credentials`,
	Args: cobra.ExactArgs(1),
	RunE: runAuthCmd,
}

func init() {
	rootCmd.AddCommand(authCmd)
	authCmd.Flags().Bool("forget", false, "Discard stored credentials instead of authorizing")
}

func runAuthCmd(cmd *cobra.Command, args []string) error {
	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.Close()

	id, err := a.providerArg(args[0])
	if err != nil {
		return err
	}
	mgr := a.managers[id]

	if forget, _ := cmd.Flags().GetBool("forget"); forget {
		mgr.Invalidate()
		fmt.Printf("Credentials for %s discarded.\n", id)
		return nil
	}

	if err := mgr.Authenticate(cmd.Context()); err != nil {
		if errors.Is(err, auth.ErrPromptCanceled) {
			fmt.Println("Canceled.")
			return nil
		}
		return fmt.Errorf("authorization failed: %w", err)
	}

	fmt.Printf("%s authorized.\n", id)
	return nil
}
