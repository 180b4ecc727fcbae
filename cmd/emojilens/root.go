package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"

	"github.com/you/emojilens/internal/quota"
	"github.com/you/emojilens/internal/version"
)

var (
	serverURL string
	verbose   bool
)

var rootCmd = &cobra.Command{
	Use:   "emojilens",
	Short: "Decode what an emoji-laden message is really saying",
	Long: `emojilens sends a message to an interpretation server and streams back
a reading of its emojis: the likely meaning, sarcasm and passive-aggression
scores, overall tone, and any red flags.

Quick start:
  emojilens interpret "Sure, sounds great 🙂👍" --platform IMESSAGE --context COWORKER
  emojilens quota`,
	Version: fmt.Sprintf("%s (commit: %s, built: %s)", version.Version, version.Commit, version.BuildTime),
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		if verbose {
			log.SetLevel(log.DebugLevel)
		} else {
			log.SetLevel(log.WarnLevel)
		}
	},
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", "http://localhost:8080", "Interpretation server base URL")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose logging")
	rootCmd.SetVersionTemplate(`{{printf "%s\n" .Version}}`)
}

// openQuota places the usage database under the user config dir so the
// counter survives across invocations on the same machine.
func openQuota() (*quota.Tracker, *quota.SQLiteStore, error) {
	dir, err := os.UserConfigDir()
	if err != nil {
		return nil, nil, fmt.Errorf("locate config dir: %w", err)
	}
	dbDir := filepath.Join(dir, "emojilens")
	if err := os.MkdirAll(dbDir, 0o755); err != nil {
		return nil, nil, fmt.Errorf("create config dir: %w", err)
	}
	store, err := quota.OpenSQLite(filepath.Join(dbDir, "quota.db"))
	if err != nil {
		return nil, nil, fmt.Errorf("open quota store: %w", err)
	}
	return quota.NewTracker(store), store, nil
}
