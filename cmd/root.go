package cmd

import (
	"os"

	"github.com/spf13/cobra"
)

var version string

// SetVersion sets the version string shown by the version command.
func SetVersion(v string) {
	version = v
}

var rootCmd = &cobra.Command{
	Use:   "huddle",
	Short: "Synchronized community client",
	Long: `huddle - a terminal client for a small community: a shared feed,
friendships, messages, and collaborations, kept in sync across sessions
through a remote row store.`,
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.AddGroup(
		&cobra.Group{ID: "core", Title: "Core Commands:"},
		&cobra.Group{ID: "session", Title: "Session Commands:"},
		&cobra.Group{ID: "system", Title: "System Commands:"},
	)
	rootCmd.SetHelpCommandGroupID("system")
	rootCmd.SetCompletionCommandGroupID("system")
}
