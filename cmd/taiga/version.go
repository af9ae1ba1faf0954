package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("taiga %s\n", version)
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
