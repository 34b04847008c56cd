// Package db opens the sqlite database and applies schema migrations.
package db

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strings"

	_ "modernc.org/sqlite"
)

// DB is a single-connection sqlite handle. sqlite serialises writers, and a
// pinned connection keeps shared in-memory databases alive until Close.
type DB struct {
	conn   *sql.DB
	logger *slog.Logger
}

// connection pragmas, applied in order after open.
var pragmas = []string{
	`PRAGMA foreign_keys = ON`,
	`PRAGMA busy_timeout = 5000`,
}

func inMemory(dsn string) bool {
	return dsn == ":memory:" || strings.Contains(dsn, "mode=memory")
}

// New opens dsn with the modernc driver. File databases run in WAL mode.
func New(ctx context.Context, dsn string, logger *slog.Logger) (*DB, error) {
	if logger == nil {
		logger = slog.Default()
	}
	conn, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", dsn, err)
	}
	conn.SetMaxOpenConns(1)

	stmts := pragmas
	if !inMemory(dsn) && !strings.Contains(dsn, "mode=ro") {
		stmts = append(stmts[:len(stmts):len(stmts)], `PRAGMA journal_mode = WAL`)
	}
	for _, s := range stmts {
		if _, err := conn.ExecContext(ctx, s); err != nil {
			_ = conn.Close()
			return nil, fmt.Errorf("%s: %w", s, err)
		}
	}

	logger.Debug("database opened", slog.String("dsn", dsn), slog.Bool("memory", inMemory(dsn)))
	return &DB{conn: conn, logger: logger}, nil
}

func (db *DB) Ping(ctx context.Context) error { return db.conn.PingContext(ctx) }

func (db *DB) Close() error { return db.conn.Close() }

func (db *DB) Exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return db.conn.ExecContext(ctx, query, args...)
}

func (db *DB) QueryRow(ctx context.Context, query string, args ...any) *sql.Row {
	return db.conn.QueryRowContext(ctx, query, args...)
}

// QueryRows runs a multi-row query. The caller closes the rows.
func (db *DB) QueryRows(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return db.conn.QueryContext(ctx, query, args...)
}

func (db *DB) BeginTx(ctx context.Context, opts *sql.TxOptions) (*sql.Tx, error) {
	return db.conn.BeginTx(ctx, opts)
}

// WithTx runs fn in a transaction. fn's error, or a panic, rolls it back.
func (db *DB) WithTx(ctx context.Context, fn func(tx *sql.Tx) error) (err error) {
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()
	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
	}()

	if err = fn(tx); err != nil {
		return err
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// GetConn exposes the pool for code that shares helpers between *sql.DB and
// *sql.Tx.
func (db *DB) GetConn() *sql.DB { return db.conn }
