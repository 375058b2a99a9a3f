package cmd

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/marcus/huddle/internal/seed"
)

var seedFile string

var seedCmd = &cobra.Command{
	Use:     "seed",
	Short:   "Load a fixture file into the remote store",
	GroupID: "system",
	RunE: func(cmd *cobra.Command, args []string) error {
		log := setupLogger()

		fixture, err := seed.Load(seedFile)
		if err != nil {
			return fmt.Errorf("load fixture: %w", err)
		}

		ctx := context.Background()
		store, err := openStore(ctx, log)
		if err != nil {
			return err
		}
		defer store.Close()

		written, err := seed.Apply(ctx, store, fixture)
		if err != nil {
			return fmt.Errorf("apply fixture: %w", err)
		}

		fmt.Printf("Seeded %d rows: %s\n", len(written), strings.Join(written, ", "))
		return nil
	},
}

func init() {
	seedCmd.Flags().StringVarP(&seedFile, "file", "f", "seed.yaml", "fixture file to apply")
	addStoreFlags(seedCmd.Flags())
	rootCmd.AddCommand(seedCmd)
}
