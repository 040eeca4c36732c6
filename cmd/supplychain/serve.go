package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/R3E-Network/supplychain/internal/app/runtime"
	"github.com/R3E-Network/supplychain/internal/config"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and background jobs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			application, err := runtime.NewApplication(ctx, cfg)
			if err != nil {
				return err
			}
			runErr := application.Run(ctx)
			if err := application.Shutdown(context.Background()); err != nil && runErr == nil {
				runErr = err
			}
			return runErr
		},
	}
}
