package cmd

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/marcus/huddle/internal/config"
	"github.com/marcus/huddle/internal/remote"
	"github.com/marcus/huddle/internal/state"
)

var statusCmd = &cobra.Command{
	Use:     "status",
	Short:   "Show session, driver, and store reachability",
	GroupID: "system",
	RunE: func(cmd *cobra.Command, args []string) error {
		log := setupLogger()

		creds, err := config.LoadAuth()
		switch {
		case err != nil:
			fmt.Printf("Session:  error (%v)\n", err)
		case creds == nil || creds.UserID == "":
			fmt.Println("Session:  signed out")
		default:
			fmt.Printf("Session:  %s\n", creds.UserID)
		}

		driver := resolveDriver()
		fmt.Printf("Driver:   %s\n", driver)
		switch driver {
		case config.DriverSQLite:
			if path, err := config.GetSQLitePath(); err == nil {
				fmt.Printf("Database: %s\n", path)
			}
		case config.DriverAPI:
			fmt.Printf("Relay:    %s\n", config.GetRelayURL())
		}

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		store, err := openStore(ctx, log)
		if err != nil {
			fmt.Printf("Store:    unreachable (%v)\n", err)
			return nil
		}
		defer store.Close()

		// A fetch on any key proves the store answers; missing rows are a
		// healthy response.
		_, err = store.Fetch(ctx, state.KeyTheme)
		if err != nil && !errors.Is(err, remote.ErrNotFound) {
			fmt.Printf("Store:    unreachable (%v)\n", err)
			return nil
		}
		fmt.Println("Store:    ok")
		return nil
	},
}

func init() {
	addStoreFlags(statusCmd.Flags())
	rootCmd.AddCommand(statusCmd)
}
