package main

import (
	"fmt"
	"io"
	"text/tabwriter"
	"unicode/utf8"

	"github.com/spf13/cobra"
	"github.com/vedran77/mailbox/internal/service"
)

func init() {
	conversationsCmd.Flags().StringP("search", "s", "", "filter by participant name")
	rootCmd.AddCommand(conversationsCmd)
}

var conversationsCmd = &cobra.Command{
	Use:     "conversations",
	Aliases: []string{"ls"},
	Short:   "List your conversations with their latest message",
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		userID, err := userFlag(cmd)
		if err != nil {
			return err
		}
		query, _ := cmd.Flags().GetString("search")

		a, err := newApp(cmd.Context(), userID)
		if err != nil {
			return err
		}
		defer a.Close()

		if err := a.index.Load(cmd.Context()); err != nil {
			return err
		}
		return printPreviews(cmd.OutOrStdout(), a.index.Search(query))
	},
}

func printPreviews(out io.Writer, previews []service.ConversationPreview) error {
	if len(previews) == 0 {
		_, err := fmt.Fprintln(out, "No conversations.")
		return err
	}

	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tWITH\tLAST MESSAGE\tUNREAD")
	for _, p := range previews {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\n",
			p.Conversation.ID,
			participantLabel(p),
			ellipsize(p.PreviewText, 48),
			p.Unread,
		)
	}
	return tw.Flush()
}

func participantLabel(p service.ConversationPreview) string {
	switch {
	case p.Conversation.OtherUserDisplayName != "":
		return p.Conversation.OtherUserDisplayName
	case p.Conversation.OtherUserUsername != "":
		return p.Conversation.OtherUserUsername
	default:
		return "(unknown)"
	}
}

func ellipsize(s string, max int) string {
	if utf8.RuneCountInString(s) <= max {
		return s
	}
	return string([]rune(s)[:max-1]) + "…"
}
