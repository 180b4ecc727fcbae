package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

var quotaCmd = &cobra.Command{
	Use:   "quota",
	Short: "Show remaining free interpretations",
	RunE: func(cmd *cobra.Command, args []string) error {
		tracker, store, err := openQuota()
		if err != nil {
			return err
		}
		defer store.Close()

		remaining, resetAt, err := tracker.Remaining()
		if err != nil {
			return fmt.Errorf("read quota: %w", err)
		}

		fmt.Println(headerStyle.Render(fmt.Sprintf("%d of %d free interpretations left", remaining, tracker.MaxUses())))
		if remaining < tracker.MaxUses() && !resetAt.IsZero() {
			fmt.Println(quotaStyle.Render("Window resets " + resetAt.Local().Format(time.RFC1123)))
		}
		return nil
	},
}

var quotaResetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Clear the local usage counter",
	RunE: func(cmd *cobra.Command, args []string) error {
		tracker, store, err := openQuota()
		if err != nil {
			return err
		}
		defer store.Close()

		if err := tracker.Reset(); err != nil {
			return fmt.Errorf("reset quota: %w", err)
		}
		fmt.Println(quotaStyle.Render("Usage counter cleared."))
		return nil
	},
}

func init() {
	quotaCmd.AddCommand(quotaResetCmd)
	rootCmd.AddCommand(quotaCmd)
}
