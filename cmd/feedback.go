package cmd

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

var feedbackCategory string

var feedbackCmd = &cobra.Command{
	Use:     "feedback [message]",
	Short:   "Submit feedback without opening the client",
	GroupID: "core",
	Args:    cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		log := setupLogger()
		ctx := context.Background()

		eng, store, err := buildEngine(ctx, log)
		if err != nil {
			return err
		}
		defer store.Close()
		defer eng.Close()

		actor := eng.CurrentUserID()
		if actor == "" {
			return fmt.Errorf("not signed in; run huddle login first")
		}

		entry, err := eng.Social.SubmitFeedback(actor, feedbackCategory, strings.Join(args, " "))
		if err != nil {
			return fmt.Errorf("submit feedback: %w", err)
		}
		eng.Flush()

		fmt.Printf("Feedback recorded (%s)\n", entry.ID)
		return nil
	},
}

func init() {
	feedbackCmd.Flags().StringVarP(&feedbackCategory, "category", "c", "general", "feedback category")
	addStoreFlags(feedbackCmd.Flags())
	rootCmd.AddCommand(feedbackCmd)
}
