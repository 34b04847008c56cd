package main

import (
	"encoding/json"
	"errors"

	"github.com/garnizeh/mockprep/internal/config"
	"github.com/garnizeh/mockprep/internal/jobs"
	"github.com/spf13/cobra"
)

func newDeadLettersCmd(opts *rootOptions) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "dead-letters",
		Short: "List jobs that exhausted their attempts",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if opts.cfg.Queue.Driver == config.DriverAMQP {
				return errors.New("dead letters live in the broker queue " + opts.cfg.Queue.Name + ".dead")
			}
			d, err := openDB(cmd.Context(), opts.cfg, opts.logger, false)
			if err != nil {
				return err
			}
			defer d.Close()

			list, err := jobs.NewRepository(d).ListDeadLetters(cmd.Context(), limit)
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(list)
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "maximum number of entries")
	return cmd
}
