package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/marcus/huddle/internal/config"
	"github.com/marcus/huddle/internal/identity"
)

var (
	loginToken string
	loginUser  string
)

var loginCmd = &cobra.Command{
	Use:     "login",
	Short:   "Sign in with an access token or user id",
	GroupID: "session",
	RunE: func(cmd *cobra.Command, args []string) error {
		if loginToken == "" && loginUser == "" {
			return fmt.Errorf("provide --token or --user")
		}

		provider := identity.NewTokenProvider(credentialStorage(), config.GetOperatorUserID())
		session, err := provider.SignIn(loginToken, loginUser)
		if err != nil {
			return fmt.Errorf("sign in: %w", err)
		}

		fmt.Printf("Signed in as %s\n", session.UserID)
		return nil
	},
}

var logoutCmd = &cobra.Command{
	Use:     "logout",
	Short:   "Sign out and clear stored credentials",
	GroupID: "session",
	RunE: func(cmd *cobra.Command, args []string) error {
		provider := identity.NewTokenProvider(credentialStorage(), config.GetOperatorUserID())
		if err := provider.SignOut(); err != nil {
			return fmt.Errorf("sign out: %w", err)
		}
		fmt.Println("Signed out")
		return nil
	},
}

func init() {
	loginCmd.Flags().StringVar(&loginToken, "token", "", "bearer token (user id read from the subject claim)")
	loginCmd.Flags().StringVar(&loginUser, "user", "", "sign in as this user id without a token")
	rootCmd.AddCommand(loginCmd)
	rootCmd.AddCommand(logoutCmd)
}
