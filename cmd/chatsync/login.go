package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(loginCmd)
}

var loginCmd = &cobra.Command{
	Use:   "login <base-url> <user-id> <token>",
	Short: "Store credentials and verify them against the server",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		baseURL, userID, token := args[0], args[1], args[2]

		cfg, err := loadConfig()
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		cfg.Default.BaseURL = baseURL
		cfg.Auth.UserID = userID
		cfg.Auth.Token = token

		// Verify before persisting: a conversation list fetch exercises both
		// the base URL and the token.
		client := newClientFor(cfg)
		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if _, err := client.ListConversations(ctx); err != nil {
			return fmt.Errorf("credential check failed: %w", err)
		}

		if err := saveConfig(cfg); err != nil {
			return fmt.Errorf("failed to save config: %w", err)
		}

		fmt.Printf("Logged in as %s against %s\n", userID, baseURL)
		return nil
	},
}
