package main

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/R3E-Network/supplychain/internal/middleware"
)

func newTokenCmd() *cobra.Command {
	var (
		account string
		issuer  string
		ttl     time.Duration
	)
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue a signed caller token for an account",
		Long: `Issue an HS256 bearer token for an account using JWT_SECRET. Intended for
operators and local testing.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			account = strings.TrimSpace(account)
			if account == "" {
				return fmt.Errorf("--account is required")
			}
			secret := os.Getenv("JWT_SECRET")
			if secret == "" {
				return fmt.Errorf("JWT_SECRET is not set")
			}
			token, err := middleware.IssueToken(secret, issuer, account, ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
	cmd.Flags().StringVar(&account, "account", "", "Account the token speaks for")
	cmd.Flags().StringVar(&issuer, "issuer", "supplychain", "Token issuer")
	cmd.Flags().DurationVar(&ttl, "ttl", 24*time.Hour, "Token lifetime")
	return cmd
}
