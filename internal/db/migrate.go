package db

import (
	"context"
	"database/sql"
	"fmt"
	"io/fs"
	"path"
	"slices"
	"strings"
	"time"
)

const migrationsDir = "migrations"

type migration struct {
	version string
	file    string
}

// pending lists the *.sql files under migrations/ whose version (file name
// without extension) is not in applied, sorted lexically.
func pending(fsys fs.FS, applied []string) ([]migration, error) {
	entries, err := fs.ReadDir(fsys, migrationsDir)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", migrationsDir, err)
	}
	var out []migration
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.EqualFold(path.Ext(name), ".sql") {
			continue
		}
		v := strings.TrimSuffix(name, path.Ext(name))
		if slices.Contains(applied, v) {
			continue
		}
		out = append(out, migration{version: v, file: path.Join(migrationsDir, name)})
	}
	slices.SortFunc(out, func(a, b migration) int { return strings.Compare(a.version, b.version) })
	return out, nil
}

// Migrate applies every pending migration in fsys, each in its own
// transaction together with its schema_migrations row. A failing file stops
// the run and leaves no trace.
func Migrate(ctx context.Context, d *DB, fsys fs.FS) error {
	if _, err := d.Exec(ctx, `CREATE TABLE IF NOT EXISTS schema_migrations (version TEXT PRIMARY KEY, applied INTEGER NOT NULL)`); err != nil {
		return fmt.Errorf("ensure schema_migrations: %w", err)
	}
	applied, err := AppliedVersions(ctx, d)
	if err != nil {
		return err
	}
	todo, err := pending(fsys, applied)
	if err != nil {
		return err
	}

	for _, m := range todo {
		body, err := fs.ReadFile(fsys, m.file)
		if err != nil {
			return fmt.Errorf("read migration %s: %w", m.version, err)
		}
		err = d.WithTx(ctx, func(tx *sql.Tx) error {
			if _, err := tx.ExecContext(ctx, string(body)); err != nil {
				return err
			}
			_, err := tx.ExecContext(ctx, `INSERT INTO schema_migrations (version, applied) VALUES (?, ?)`, m.version, time.Now().UnixMilli())
			return err
		})
		if err != nil {
			return fmt.Errorf("migration %s: %w", m.version, err)
		}
		d.logger.Info("migration applied", "version", m.version)
	}
	return nil
}

// AppliedVersions lists the recorded migration versions in order. It
// returns nothing, not an error, on a database never migrated.
func AppliedVersions(ctx context.Context, d *DB) ([]string, error) {
	var n int
	if err := d.QueryRow(ctx, `SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = 'schema_migrations'`).Scan(&n); err != nil {
		return nil, fmt.Errorf("look up schema_migrations: %w", err)
	}
	if n == 0 {
		return nil, nil
	}

	rows, err := d.QueryRows(ctx, `SELECT version FROM schema_migrations ORDER BY version`)
	if err != nil {
		return nil, fmt.Errorf("list migrations: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, rows.Err()
}
