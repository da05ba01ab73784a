package commands

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
)

// NewHistoryCmd constructs the `hamdam history` command, which reads the
// transcript archive.
func NewHistoryCmd() *cobra.Command {
	var last int

	cmd := &cobra.Command{
		Use:   "history [conversation-id]",
		Short: "List archived conversations or print one transcript",
		Long: `Read the transcript archive (history.db_path).

Without arguments every archived conversation is listed, most recent first.
With a conversation id its turns are printed oldest first. Resetting a chat
does not remove archived turns.

Examples:
  hamdam history
  hamdam history 3f2c9a1e-8d4b-4f3a-9c61-2b7e5d0a9f10 --last 10`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			archive, err := mustArchive(loadedConfig)
			if err != nil {
				return fmt.Errorf("history: %w", err)
			}
			defer archive.Close()

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)

			if len(args) == 0 {
				convs, err := archive.Conversations(ctx)
				if err != nil {
					return fmt.Errorf("history: %w", err)
				}
				_, _ = fmt.Fprintln(tw, "CONVERSATION\tTURNS\tLAST ACTIVITY")
				for _, c := range convs {
					_, _ = fmt.Fprintf(tw, "%s\t%d\t%s\n", c.Conversation, c.Turns, c.LastAt.Local().Format(time.DateTime))
				}
				return tw.Flush()
			}

			records, err := archive.Transcript(ctx, args[0], last)
			if err != nil {
				return fmt.Errorf("history: %w", err)
			}
			if len(records) == 0 {
				return fmt.Errorf("history: no turns archived for %s", args[0])
			}
			for _, r := range records {
				_, _ = fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", r.CreatedAt.Local().Format(time.DateTime), r.Model, r.Role, r.Content)
			}
			return tw.Flush()
		},
	}

	cmd.Flags().IntVarP(&last, "last", "n", 0, "Only print the latest N turns (default: all)")

	return cmd
}
