package cli

import (
	"fmt"
	"time"

	"github.com/dmitrijs2005/nostr-scheduler/internal/client/client"
	"github.com/spf13/cobra"
)

// now is a test seam for relative due times.
var now = time.Now

func newScheduleCommand(app *App) *cobra.Command {
	var (
		req client.ScheduleRequest
		at  string
		in  time.Duration
	)

	cmd := &cobra.Command{
		Use:   "schedule <note-id>",
		Short: "Schedule a note for publication",
		Long: `Schedule a note for publication at --at (RFC 3339) or --in from now.

The post is pre-signed by the daemon's signing queue and published by the
scheduler once due.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			switch {
			case at != "" && in != 0:
				return fmt.Errorf("--at and --in are mutually exclusive")
			case at != "":
				t, err := time.Parse(time.RFC3339, at)
				if err != nil {
					return fmt.Errorf("invalid --at: %w", err)
				}
				req.DueAt = t
			case in > 0:
				req.DueAt = now().Add(in)
			default:
				return fmt.Errorf("one of --at or --in is required")
			}
			req.NoteID = args[0]

			c, err := app.control()
			if err != nil {
				return err
			}
			id, err := c.Schedule(cmd.Context(), req)
			if err != nil {
				return err
			}
			fmt.Fprintln(app.out, id)
			return nil
		},
	}

	cmd.Flags().StringVar(&at, "at", "", "due time, RFC 3339")
	cmd.Flags().DurationVar(&in, "in", 0, "due after this duration")
	cmd.Flags().StringVar(&req.AccountID, "account", "", "account id (default: the active account)")
	cmd.Flags().StringVar(&req.Channel, "channel", "", "direct, api or nostrmq (default: the account's channel)")
	cmd.Flags().StringVar(&req.Endpoint, "endpoint", "", "API channel endpoint override")
	return cmd
}

func newPublishNowCommand(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "publish-now <post-id>",
		Short: "Publish a scheduled post immediately",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := app.control()
			if err != nil {
				return err
			}
			eventID, err := c.PublishNow(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			fmt.Fprintln(app.out, eventID)
			return nil
		},
	}
}

func newSignCommand(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "sign",
		Short: "Ask the daemon to run a signing pass now",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := app.control()
			if err != nil {
				return err
			}
			if err := c.TriggerSigning(cmd.Context()); err != nil {
				return err
			}
			fmt.Fprintln(app.out, "signing pass requested")
			return nil
		},
	}
}
