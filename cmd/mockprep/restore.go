package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/garnizeh/mockprep/internal/db"
	"github.com/spf13/cobra"
)

func newRestoreCmd(opts *rootOptions) *cobra.Command {
	var src string
	cmd := &cobra.Command{
		Use:   "restore",
		Short: "Replace the database with a backup (stop the server first)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			dst := opts.cfg.DatabasePath
			if src == "" {
				src = dst + ".bak"
			}

			// refuse anything that is not a healthy sqlite file
			check, err := db.New(ctx, "file:"+src+"?mode=ro", opts.logger)
			if err != nil {
				return err
			}
			var result string
			err = check.QueryRow(ctx, `PRAGMA integrity_check`).Scan(&result)
			_ = check.Close()
			if err != nil {
				return fmt.Errorf("check %s: %w", src, err)
			}
			if result != "ok" {
				return fmt.Errorf("backup %s failed integrity check: %s", src, result)
			}

			if err := copyFile(src, dst); err != nil {
				return fmt.Errorf("restore: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Database restored from %s.\n", src)
			return nil
		},
	}
	cmd.Flags().StringVarP(&src, "from", "f", "", "backup file (default <database_path>.bak)")
	return cmd
}

// copyFile writes src over dst through a temp file and a rename.
func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	tmp, err := os.CreateTemp(filepath.Dir(dst), ".restore-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if _, err := io.Copy(tmp, in); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	// stale WAL/SHM files would be replayed over the restored copy
	for _, suffix := range []string{"-wal", "-shm"} {
		if err := os.Remove(dst + suffix); err != nil && !os.IsNotExist(err) {
			return err
		}
	}
	return os.Rename(tmp.Name(), dst)
}
