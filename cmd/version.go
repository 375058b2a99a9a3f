package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var versionCmd = &cobra.Command{
	Use:     "version",
	Short:   "Show version",
	GroupID: "system",
	Run: func(cmd *cobra.Command, args []string) {
		versionStr := version
		if versionStr == "" {
			versionStr = "dev"
		}
		fmt.Printf("huddle version %s\n", versionStr)
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
