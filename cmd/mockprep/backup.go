package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func newBackupCmd(opts *rootOptions) *cobra.Command {
	var (
		dst   string
		force bool
	)
	cmd := &cobra.Command{
		Use:   "backup",
		Short: "Write a consistent copy of the database",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if dst == "" {
				dst = opts.cfg.DatabasePath + ".bak"
			}
			if force {
				if err := os.Remove(dst); err != nil && !os.IsNotExist(err) {
					return fmt.Errorf("remove old backup: %w", err)
				}
			}

			d, err := openDB(cmd.Context(), opts.cfg, opts.logger, false)
			if err != nil {
				return err
			}
			defer d.Close()

			// VACUUM INTO is safe against concurrent writers, unlike a file copy
			if _, err := d.Exec(cmd.Context(), `VACUUM INTO ?`, dst); err != nil {
				return fmt.Errorf("backup: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Database backup written to %s.\n", dst)
			return nil
		},
	}
	cmd.Flags().StringVarP(&dst, "output", "o", "", "backup file (default <database_path>.bak)")
	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing backup file")
	return cmd
}
