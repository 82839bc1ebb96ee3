package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"github.com/vedran77/mailbox/internal/auth"
	"github.com/vedran77/mailbox/internal/config"
)

func init() {
	tokenCmd.Flags().Duration("ttl", 24*time.Hour, "token lifetime")
	rootCmd.AddCommand(tokenCmd)
}

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Mint a relay token for the acting user (development only)",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		userID, err := userFlag(cmd)
		if err != nil {
			return err
		}
		ttl, _ := cmd.Flags().GetDuration("ttl")

		token, err := auth.IssueToken(config.Load().JWTSecret, userID, ttl)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), token)
		return nil
	},
}
