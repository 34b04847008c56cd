// Package db holds the schema migrations, embedded so the binary can
// migrate a fresh database without files on disk.
package db

import "embed"

// Migrations is applied in lexical order by internal/db.Migrate.
//
//go:embed migrations/*.sql
var Migrations embed.FS
