package main

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(startCmd)
}

var startCmd = &cobra.Command{
	Use:   "start [user-id]",
	Short: "Find or create the conversation with another user",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		userID, err := userFlag(cmd)
		if err != nil {
			return err
		}
		otherID, err := uuid.Parse(args[0])
		if err != nil {
			return fmt.Errorf("user id: %w", err)
		}

		a, err := newApp(cmd.Context(), userID)
		if err != nil {
			return err
		}
		defer a.Close()

		conv, err := a.index.StartConversation(cmd.Context(), otherID)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\n", conv.ID, conv.OtherUserDisplayName)
		return nil
	},
}
