package main

import (
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

func newWorkerCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "worker",
		Short: "Process queued interviews without serving HTTP",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			a, err := newApplication(ctx, opts.cfg, opts.logger)
			if err != nil {
				return err
			}
			defer a.Close()

			opts.logger.Info("worker started", "driver", opts.cfg.Queue.Driver, "workers", opts.cfg.Queue.Workers)
			return a.runWorkers(ctx)
		},
	}
}
