package main

import (
	"fmt"
	"os"
	"path/filepath"

	chatsync "github.com/heliodesk/chatsync"
)

// getClient creates a REST client from the stored configuration.
func getClient() *chatsync.Client {
	cfg := mustConfig()
	if cfg.Auth.Token == "" {
		fmt.Fprintln(os.Stderr, "No token. Run 'chatsync login <base-url> <user-id> <token>' first.")
		os.Exit(1)
	}
	return newClientFor(cfg)
}

// newClientFor builds a REST client from an explicit (possibly unsaved)
// configuration.
func newClientFor(cfg *Config) *chatsync.Client {
	return chatsync.NewClient(cfg.Default.BaseURL, cfg.Auth.Token)
}

// getIdentity returns the stored realtime identity.
func getIdentity() chatsync.Identity {
	cfg := mustConfig()
	if cfg.Auth.Token == "" || cfg.Auth.UserID == "" {
		fmt.Fprintln(os.Stderr, "No identity. Run 'chatsync login <base-url> <user-id> <token>' first.")
		os.Exit(1)
	}
	return chatsync.Identity{UserID: cfg.Auth.UserID, Token: cfg.Auth.Token}
}

// openState opens the persistent state file, defaulting to
// ~/.chatsync/state.db when no path is configured.
func openState(cfg *Config) (*chatsync.BoltState, error) {
	path := cfg.Default.StateFile
	if path == "" {
		dir, err := configDir()
		if err != nil {
			return nil, err
		}
		path = filepath.Join(dir, "state.db")
	}
	return chatsync.OpenBoltState(path)
}

func mustConfig() *Config {
	cfg, err := loadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	return cfg
}
