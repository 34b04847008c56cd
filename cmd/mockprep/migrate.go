package main

import (
	"fmt"

	"github.com/garnizeh/mockprep/internal/db"
	"github.com/spf13/cobra"
)

func newMigrateCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending database migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			d, err := openDB(cmd.Context(), opts.cfg, opts.logger, true)
			if err != nil {
				return err
			}
			defer d.Close()
			versions, err := db.AppliedVersions(cmd.Context(), d)
			if err != nil {
				return err
			}
			for _, v := range versions {
				fmt.Fprintln(cmd.OutOrStdout(), "applied", v)
			}
			return nil
		},
	}
}
