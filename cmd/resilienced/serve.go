package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

func serveCommand(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the Health Monitor and System Mode Controller loops",
		Long:  "Bootstraps targets from configuration and runs the background health-and-mode loop until interrupted.",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, cfg, err := bootstrap(*configPath)
			if err != nil {
				return err
			}

			ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			c.Start(ctx)
			cmd.Printf("%s serving %d targets, watching system health every cycle\n", cfg.App.Name, len(cfg.Targets))

			<-ctx.Done()
			cmd.Println("shutting down")

			stopCtx, stopCancel := context.WithTimeout(context.Background(), gracefulShutdownTimeout)
			defer stopCancel()
			return c.Stop(stopCtx)
		},
	}
}
