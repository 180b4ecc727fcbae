package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"

	"github.com/you/emojilens/internal/client"
	"github.com/you/emojilens/internal/core"
	"github.com/you/emojilens/internal/quota"
	"github.com/you/emojilens/internal/validate"
)

var (
	interpretPlatform string
	interpretContext  string
	interpretNoQuota  bool
)

var (
	headerStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("212"))

	quotaStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("243")).
			Italic(true)

	errStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("196")).
			Bold(true)
)

var interpretCmd = &cobra.Command{
	Use:   "interpret <message>",
	Short: "Stream an interpretation of an emoji message",
	Long: `Send a message to the interpretation server and print the reading as it
streams back. The message must contain at least one emoji and be between
10 and 1000 characters.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		req := core.InterpretRequest{
			Message:  args[0],
			Platform: core.Platform(strings.ToUpper(strings.TrimSpace(interpretPlatform))),
			Context:  core.Context(strings.ToUpper(strings.TrimSpace(interpretContext))),
		}

		// Validate locally before burning a quota use or a round trip.
		validated, fieldErrs := validate.Request(req)
		if fieldErrs != nil {
			for field, msgs := range fieldErrs {
				for _, msg := range msgs {
					fmt.Fprintln(os.Stderr, errStyle.Render(field+": "+msg))
				}
			}
			return fmt.Errorf("invalid request")
		}

		var tracker *quota.Tracker
		if !interpretNoQuota {
			t, store, err := openQuota()
			if err != nil {
				return err
			}
			defer store.Close()
			tracker = t

			ok, err := tracker.CanUse()
			if err != nil {
				return fmt.Errorf("check quota: %w", err)
			}
			if !ok {
				_, resetAt, _ := tracker.Remaining()
				fmt.Fprintln(os.Stderr, errStyle.Render("Free quota exhausted."))
				if !resetAt.IsZero() {
					fmt.Fprintln(os.Stderr, quotaStyle.Render("Resets at "+resetAt.Local().Format("Mon 15:04")))
				}
				return fmt.Errorf("quota exhausted")
			}
		}

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
		defer stop()

		done := make(chan error, 1)
		consumer := client.New(serverURL, client.Callbacks{
			OnChunk: func(accumulated string) {
				// Repaint the full text each time; fragments can split words
				// and even multi-byte runes.
				fmt.Print("\r\033[2K")
				fmt.Print(lastLine(accumulated))
			},
			OnFinish: func(final string) {
				fmt.Print("\r\033[2K")
				fmt.Println(final)
				done <- nil
			},
			OnError: func(err error) {
				fmt.Print("\r\033[2K")
				done <- err
			},
		})

		fmt.Println(headerStyle.Render("Interpreting…"))
		log.Debug("streaming interpretation", "server", serverURL, "platform", validated.Platform, "context", validated.Context)

		consumer.Interpret(ctx, validated)

		select {
		case err := <-done:
			if err != nil {
				return err
			}
		case <-ctx.Done():
			consumer.Stop()
			fmt.Println(quotaStyle.Render("cancelled"))
			return nil
		}

		if tracker != nil {
			remaining, err := tracker.RecordUse()
			if err != nil {
				log.Warn("recording quota use failed", "err", err)
			} else {
				fmt.Println(quotaStyle.Render(fmt.Sprintf("%d of %d free interpretations left", remaining, tracker.MaxUses())))
			}
		}
		return nil
	},
}

// lastLine keeps the live repaint on a single terminal row.
func lastLine(s string) string {
	if i := strings.LastIndexByte(s, '\n'); i >= 0 {
		return s[i+1:]
	}
	return s
}

func init() {
	interpretCmd.Flags().StringVar(&interpretPlatform, "platform", "OTHER", "Messaging platform: IMESSAGE, INSTAGRAM, TIKTOK, WHATSAPP, SLACK, DISCORD, TWITTER, OTHER")
	interpretCmd.Flags().StringVar(&interpretContext, "context", "STRANGER", "Relationship context: ROMANTIC_PARTNER, FRIEND, FAMILY, COWORKER, ACQUAINTANCE, STRANGER")
	interpretCmd.Flags().BoolVar(&interpretNoQuota, "no-quota", false, "Skip the local free-use counter")
	rootCmd.AddCommand(interpretCmd)
}
