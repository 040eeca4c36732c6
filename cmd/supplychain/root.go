package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

// Set at build time with -ldflags "-X main.version=...".
var (
	version = "dev"
	commit  = "none"
)

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "supplychain",
		Short: "Supply-chain product lifecycle ledger",
		Long: `supplychain tracks products from creation to delivery, moves escrowed
payment between accounts when goods are received, and keeps an audit trail
of every change.

Configuration is read from .env, the YAML file named by SUPPLYCHAIN_CONFIG
and the environment.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(newServeCmd(), newMigrateCmd(), newTokenCmd(), newVersionCmd())
	return root
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the build version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "supplychain %s (%s)\n", version, commit)
		},
	}
}
