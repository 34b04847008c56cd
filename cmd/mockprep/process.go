package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newProcessCmd(opts *rootOptions) *cobra.Command {
	var enqueue bool
	cmd := &cobra.Command{
		Use:   "process <interview-id>",
		Short: "Run the processing pipeline for one interview",
		Long: "Runs the pipeline in the foreground for an uploaded (or retryable failed) interview.\n" +
			"With --enqueue the interview is handed to the job queue instead.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			id := args[0]

			a, err := newApplication(ctx, opts.cfg, opts.logger)
			if err != nil {
				return err
			}
			defer a.Close()

			if enqueue {
				if err := a.svc.EnqueueProcessing(ctx, id); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Queued %s.\n", id)
				return nil
			}

			perr := a.orch.Process(ctx, id)
			st, err := a.svc.Status(ctx, id)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: %s\n", id, st)
			return perr
		},
	}
	cmd.Flags().BoolVar(&enqueue, "enqueue", false, "enqueue the interview instead of processing it here")
	return cmd
}
