package cmd

import (
	"context"
	"fmt"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/marcus/huddle/internal/tui/client"
)

var runCmd = &cobra.Command{
	Use:     "run",
	Aliases: []string{"ui"},
	Short:   "Open the interactive huddle client",
	GroupID: "core",
	RunE: func(cmd *cobra.Command, args []string) error {
		log := setupLogger()
		ctx := context.Background()

		eng, store, err := buildEngine(ctx, log)
		if err != nil {
			return err
		}
		defer store.Close()
		defer eng.Close()

		model := client.NewModel(eng)
		program := tea.NewProgram(model,
			tea.WithAltScreen(),
			tea.WithMouseAllMotion(),
		)
		if _, err := program.Run(); err != nil {
			return fmt.Errorf("run ui: %w", err)
		}
		return nil
	},
}

func init() {
	addStoreFlags(runCmd.Flags())
	rootCmd.AddCommand(runCmd)
}
